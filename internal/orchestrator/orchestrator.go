package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pressroom/internal/automation"
	"pressroom/internal/docstore"
	"pressroom/internal/domain"
	"pressroom/internal/notify"
	"pressroom/internal/publish"
	"pressroom/internal/quota"
)

// Options configures an Orchestrator.
type Options struct {
	Quota       *quota.Ledger
	State       *automation.Store
	Target      publish.Target
	Notifier    notify.Notifier
	Docs        docstore.Store
	Logger      zerolog.Logger
	Concurrency int
	Channel     string
	Clock       func() time.Time
}

// Orchestrator runs one publishing batch per invocation. It composes the
// quota ledger and the automation state store but owns neither; every
// mutation it triggers is a store-local atomic operation, and the
// external publish call always happens outside any transaction.
type Orchestrator struct {
	quota       *quota.Ledger
	state       *automation.Store
	target      publish.Target
	notifier    notify.Notifier
	docs        docstore.Store
	logger      zerolog.Logger
	concurrency int
	channel     string
	now         func() time.Time
}

// New creates an Orchestrator. Concurrency is bounded to keep pressure on
// publish targets low; it defaults to 2.
func New(opts Options) *Orchestrator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 2
	}
	if opts.Concurrency > 8 {
		opts.Concurrency = 8
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.LogNotifier{Logger: opts.Logger}
	}
	if opts.Channel == "" {
		opts.Channel = "pressroom_progress"
	}
	return &Orchestrator{
		quota:       opts.Quota,
		state:       opts.State,
		target:      opts.Target,
		notifier:    opts.Notifier,
		docs:        opts.Docs,
		logger:      opts.Logger,
		concurrency: opts.Concurrency,
		channel:     opts.Channel,
		now:         opts.Clock,
	}
}

type pair struct {
	item    domain.ContentItem
	profile *domain.SiteProfile
}

// RunBatch processes every (item, profile) pair and returns a summary.
// Individual failures and exhausted quotas never abort the batch; a
// cancelled context stops new pairs from starting while pairs already in
// flight run to completion and commit.
func (o *Orchestrator) RunBatch(ctx context.Context, userID string, items []domain.ContentItem, profileIDs []string) (*domain.BatchResult, error) {
	profiles := make([]*domain.SiteProfile, 0, len(profileIDs))
	for _, profileID := range profileIDs {
		profile, err := o.state.GetProfile(ctx, userID, profileID)
		if err != nil {
			return nil, fmt.Errorf("load profile %s: %w", profileID, err)
		}
		profiles = append(profiles, profile)
	}

	pairs := make([]pair, 0, len(items)*len(profiles))
	for _, item := range items {
		for _, profile := range profiles {
			pairs = append(pairs, pair{item: item, profile: profile})
		}
	}

	result := &domain.BatchResult{
		RunID:     uuid.NewString(),
		UserID:    userID,
		StartedAt: o.now().UTC(),
	}
	total := len(pairs)

	o.logger.Info().
		Str("run_id", result.RunID).
		Str("user_id", userID).
		Int("pairs", total).
		Int("concurrency", o.concurrency).
		Msg("batch: started")

	// Pairs already started are allowed to finish and commit even if the
	// run is cancelled mid-flight; state stays resumable either way.
	workCtx := context.WithoutCancel(ctx)

	var mu sync.Mutex
	processed := 0

	g := &errgroup.Group{}
	g.SetLimit(o.concurrency)
	for _, p := range pairs {
		if ctx.Err() != nil {
			break
		}
		p := p
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			outcome := o.processPair(workCtx, userID, p)

			mu.Lock()
			processed++
			result.Outcomes = append(result.Outcomes, outcome)
			switch outcome.Status {
			case domain.OutcomeCompleted:
				result.Completed++
			case domain.OutcomeSkipped:
				result.Skipped++
			case domain.OutcomeFailed:
				result.Failed++
			}
			done := processed
			mu.Unlock()

			o.emit(workCtx, domain.ProgressEvent{
				Stage:     "item",
				ItemID:    p.item.ID,
				ProfileID: p.profile.ID,
				Status:    string(outcome.Status),
				Completed: done,
				Total:     total,
				Timestamp: o.now().UTC(),
			})
			return nil
		})
	}
	_ = g.Wait()

	result.FinishedAt = o.now().UTC()
	// Cancelled means pairs were left unprocessed, not merely that the
	// context died after the last pair finished.
	result.Cancelled = ctx.Err() != nil && processed < total

	if err := o.docs.Put(workCtx, runKey(userID, result.RunID), result); err != nil {
		o.logger.Error().Err(err).Str("run_id", result.RunID).Msg("batch: failed to persist summary")
	}

	status := "finished"
	if result.Cancelled {
		status = "cancelled"
	}
	o.emit(workCtx, domain.ProgressEvent{
		Stage:     "batch",
		Status:    status,
		Completed: processed,
		Total:     total,
		Timestamp: o.now().UTC(),
	})
	o.logger.Info().
		Str("run_id", result.RunID).
		Int("completed", result.Completed).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Bool("cancelled", result.Cancelled).
		Msg("batch: done")
	return result, nil
}

// processPair runs the full pipeline for one (item, profile) pair. The
// returned outcome is always one of completed, skipped, or failed;
// anything unexpected lands in failed with the error preserved.
func (o *Orchestrator) processPair(ctx context.Context, userID string, p pair) domain.ItemOutcome {
	outcome := domain.ItemOutcome{ItemID: p.item.ID, ProfileID: p.profile.ID}
	fingerprint := p.item.Fingerprint()

	status, err := o.quota.Check(ctx, userID, domain.ResourceArticle)
	if err != nil {
		return o.failOutcome(outcome, fmt.Errorf("quota check: %w", err))
	}
	if !status.Allowed {
		if err := o.state.Skip(ctx, userID, p.profile.ID, p.item.ID, fingerprint, string(domain.SkipQuotaExceeded)); err != nil {
			o.logger.Error().Err(err).Str("item_id", p.item.ID).Msg("batch: skip record write failed")
		}
		outcome.Status = domain.OutcomeSkipped
		outcome.Reason = domain.SkipQuotaExceeded
		return outcome
	}

	claimed, rec, err := o.state.Claim(ctx, userID, p.profile.ID, p.item.ID, fingerprint)
	if err != nil {
		return o.failOutcome(outcome, fmt.Errorf("claim: %w", err))
	}
	if !claimed {
		outcome.Status = domain.OutcomeSkipped
		outcome.Reason = domain.SkipDuplicate
		return outcome
	}

	remaining, err := o.state.CheckDailyCap(ctx, userID, p.profile.ID)
	if err != nil {
		return o.failOutcome(outcome, fmt.Errorf("daily cap check: %w", err))
	}
	if remaining == 0 {
		if err := o.state.SkipClaimed(ctx, rec, string(domain.SkipDailyCap)); err != nil {
			o.logger.Error().Err(err).Str("item_id", p.item.ID).Msg("batch: skip record write failed")
		}
		outcome.Status = domain.OutcomeSkipped
		outcome.Reason = domain.SkipDailyCap
		return outcome
	}

	author, err := o.state.NextAuthor(ctx, userID, p.profile.ID)
	if err != nil {
		return o.failOutcome(outcome, fmt.Errorf("author rotation: %w", err))
	}
	outcome.Author = author

	res, err := o.target.CreatePost(ctx, p.profile, publish.PostRequest{
		Title:          p.item.Title,
		Body:           p.item.Body,
		Author:         author,
		Category:       p.item.Category,
		IdempotencyKey: fingerprint,
	})
	if err != nil {
		if failErr := o.state.Fail(ctx, rec, err.Error()); failErr != nil {
			o.logger.Error().Err(failErr).Str("item_id", p.item.ID).Msg("batch: fail transition failed")
		}
		outcome.Status = domain.OutcomeFailed
		outcome.Error = err.Error()
		return outcome
	}

	// Consume before Complete: consuming quota for unpublished work is
	// worse than published work whose accounting needs reconciling.
	if _, err := o.quota.Consume(ctx, userID, domain.ResourceArticle, map[string]string{
		"ticker":       p.item.Ticker,
		"item_id":      p.item.ID,
		"profile_id":   p.profile.ID,
		"published_id": res.PublishedID,
		"outcome":      "published",
	}); err != nil {
		o.logger.Warn().
			Err(err).
			Str("item_id", p.item.ID).
			Str("published_id", res.PublishedID).
			Msg("batch: reconcile_required, published but quota not consumed")
	}

	if err := o.state.Complete(ctx, rec, res.PublishedID); err != nil {
		var capErr *domain.CapExceededError
		if errors.As(err, &capErr) {
			// The cap filled between the advisory check and commit. The
			// post exists externally; the record stays non-completed so a
			// later run can settle it against the idempotent target.
			o.logger.Warn().
				Err(err).
				Str("item_id", p.item.ID).
				Str("published_id", res.PublishedID).
				Msg("batch: reconcile_required, cap reached at commit")
			if skipErr := o.state.SkipClaimed(ctx, rec, string(domain.SkipDailyCap)); skipErr != nil {
				o.logger.Error().Err(skipErr).Str("item_id", p.item.ID).Msg("batch: skip record write failed")
			}
			outcome.Status = domain.OutcomeSkipped
			outcome.Reason = domain.SkipDailyCap
			return outcome
		}
		o.logger.Error().
			Err(err).
			Str("item_id", p.item.ID).
			Str("published_id", res.PublishedID).
			Msg("batch: reconcile_required, published but record not completed")
	}

	outcome.Status = domain.OutcomeCompleted
	outcome.PublishedID = res.PublishedID
	return outcome
}

func (o *Orchestrator) failOutcome(outcome domain.ItemOutcome, err error) domain.ItemOutcome {
	o.logger.Error().
		Err(err).
		Str("item_id", outcome.ItemID).
		Str("profile_id", outcome.ProfileID).
		Msg("batch: pair failed")
	outcome.Status = domain.OutcomeFailed
	outcome.Error = err.Error()
	return outcome
}

func (o *Orchestrator) emit(ctx context.Context, event domain.ProgressEvent) {
	if err := o.notifier.Emit(ctx, o.channel, event); err != nil {
		o.logger.Debug().Err(err).Msg("batch: progress emit failed")
	}
}

// ListRuns returns the stored batch summaries for a user, ordered by
// start time, newest last.
func ListRuns(ctx context.Context, docs docstore.Store, userID string) ([]domain.BatchResult, error) {
	found, err := docs.List(ctx, "run/"+userID+"/")
	if err != nil {
		return nil, err
	}
	runs := make([]domain.BatchResult, 0, len(found))
	for _, doc := range found {
		var run domain.BatchResult
		if err := docstore.Unmarshal(doc, &run); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })
	return runs, nil
}

// GetRun loads one stored batch summary.
func GetRun(ctx context.Context, docs docstore.Store, userID, runID string) (*domain.BatchResult, error) {
	run := &domain.BatchResult{}
	if err := docs.Get(ctx, runKey(userID, runID), run); err != nil {
		return nil, err
	}
	return run, nil
}

func runKey(userID, runID string) string {
	return "run/" + userID + "/" + runID
}
