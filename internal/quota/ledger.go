package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pressroom/internal/docstore"
	"pressroom/internal/domain"
)

const (
	dayFormat    = "2006-01-02"
	periodFormat = "2006-01"
)

// Options configures a Ledger.
type Options struct {
	Store    docstore.Store
	Plans    domain.PlanLimits
	CacheTTL time.Duration
	Logger   zerolog.Logger
	Clock    func() time.Time
}

// Ledger enforces per-user, per-resource consumption against plan limits.
// Reads go through a short-TTL cache; consumption is a single atomic
// transaction against the document store.
type Ledger struct {
	store  docstore.Store
	plans  domain.PlanLimits
	cache  *quotaCache
	logger zerolog.Logger
	now    func() time.Time
}

// NewLedger creates a Ledger. Plans defaults to the built-in tier table
// and Clock to time.Now.
func NewLedger(opts Options) *Ledger {
	if opts.Plans == nil {
		opts.Plans = domain.DefaultPlanLimits()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Ledger{
		store:  opts.Store,
		plans:  opts.Plans,
		cache:  newQuotaCache(opts.CacheTTL),
		logger: opts.Logger,
		now:    opts.Clock,
	}
}

// Check answers whether one more unit of r may be consumed. A user with no
// quota document is initialized on the free tier; an elapsed period is
// lazily rolled forward before answering.
func (l *Ledger) Check(ctx context.Context, userID string, r domain.ResourceType) (domain.QuotaStatus, error) {
	now := l.now().UTC()
	q, ok := l.cache.get(userID)
	if !ok || q.PeriodElapsed(now) {
		var err error
		q, err = l.load(ctx, userID, now)
		if err != nil {
			return domain.QuotaStatus{}, err
		}
	}
	return statusFor(q, r), nil
}

// Status is the strict variant used by the read-only admin surface: it
// never creates a document and returns ErrNotFound for unknown users. An
// elapsed period is presented rolled forward without being written.
func (l *Ledger) Status(ctx context.Context, userID string, r domain.ResourceType) (domain.QuotaStatus, error) {
	q := &domain.UserQuota{}
	if err := l.store.Get(ctx, quotaKey(userID), q); err != nil {
		return domain.QuotaStatus{}, err
	}
	now := l.now().UTC()
	if q.PeriodElapsed(now) {
		rollForward(q, now)
	}
	return statusFor(q, r), nil
}

// Consume atomically re-validates the limit, increments usage, and
// appends a usage-history entry plus the per-day aggregate. Either all
// effects land or none do. The caller's cache entry is refreshed before
// returning so a subsequent Check in this process observes the new count.
func (l *Ledger) Consume(ctx context.Context, userID string, r domain.ResourceType, metadata map[string]string) (int, error) {
	now := l.now().UTC()
	var updated *domain.UserQuota

	err := l.store.Update(ctx, func(tx docstore.Tx) error {
		q := &domain.UserQuota{}
		err := tx.Get(quotaKey(userID), q)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			q = l.newQuota(userID, now)
		case err != nil:
			return err
		}
		if q.Suspended {
			return fmt.Errorf("consume for user %s: %w", userID, domain.ErrSuspended)
		}
		if q.PeriodElapsed(now) {
			rollForward(q, now)
		}

		limit := q.Limit(r)
		if limit >= 0 && q.Used(r) >= limit {
			return &domain.QuotaExceededError{
				UserID:    userID,
				Resource:  r,
				Used:      q.Used(r),
				Limit:     limit,
				PeriodEnd: q.PeriodEnd.Format(time.RFC3339),
			}
		}

		if q.Usage == nil {
			q.Usage = make(map[domain.ResourceType]int)
		}
		q.Usage[r]++
		q.UpdatedAt = now
		if err := tx.Put(quotaKey(userID), q); err != nil {
			return err
		}

		period := q.PeriodStart.Format(periodFormat)
		entry := domain.UsageHistoryEntry{
			ID:        uuid.NewString(),
			UserID:    userID,
			Resource:  r,
			Period:    period,
			Timestamp: now,
			Metadata:  metadata,
		}
		if err := tx.Put(historyKey(userID, period, entry.ID), entry); err != nil {
			return err
		}

		day := now.Format(dayFormat)
		agg := domain.UsageDay{}
		err = tx.Get(dayKey(userID, day), &agg)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			agg = domain.UsageDay{UserID: userID, Day: day}
		case err != nil:
			return err
		}
		if agg.Counts == nil {
			agg.Counts = make(map[domain.ResourceType]int)
		}
		agg.Counts[r]++
		if err := tx.Put(dayKey(userID, day), agg); err != nil {
			return err
		}

		updated = q.Clone()
		return nil
	})
	if err != nil {
		return 0, err
	}

	l.cache.put(updated)
	l.logger.Debug().
		Str("user_id", userID).
		Str("resource", string(r)).
		Int("used", updated.Used(r)).
		Msg("quota: consumed")
	return updated.Used(r), nil
}

// ResetPeriod zeroes usage and advances the period bounds to the current
// calendar month, preserving limits. It is idempotent and is used both by
// the lazy path and the scheduled sweep.
func (l *Ledger) ResetPeriod(ctx context.Context, userID string) error {
	now := l.now().UTC()
	var updated *domain.UserQuota
	err := l.store.Update(ctx, func(tx docstore.Tx) error {
		q := &domain.UserQuota{}
		if err := tx.Get(quotaKey(userID), q); err != nil {
			return err
		}
		rollForward(q, now)
		q.UpdatedAt = now
		if err := tx.Put(quotaKey(userID), q); err != nil {
			return err
		}
		updated = q.Clone()
		return nil
	})
	if err != nil {
		return err
	}
	l.cache.put(updated)
	return nil
}

// SweepExpired finds every quota document whose period has elapsed and,
// unless dryRun is set, rolls it forward. It returns the affected user
// IDs. Lazy rollover keeps the system correct without this; the sweep
// keeps dashboards current at month boundaries.
func (l *Ledger) SweepExpired(ctx context.Context, dryRun bool) ([]string, error) {
	docs, err := l.store.List(ctx, "quota/")
	if err != nil {
		return nil, err
	}
	now := l.now().UTC()

	var swept []string
	for _, doc := range docs {
		q := &domain.UserQuota{}
		if err := docstore.Unmarshal(doc, q); err != nil {
			l.logger.Error().Err(err).Str("key", doc.Key).Msg("quota: skipping malformed document")
			continue
		}
		if !q.PeriodElapsed(now) {
			continue
		}
		swept = append(swept, q.UserID)
		if dryRun {
			continue
		}
		if err := l.ResetPeriod(ctx, q.UserID); err != nil {
			return swept, fmt.Errorf("reset user %s: %w", q.UserID, err)
		}
	}
	return swept, nil
}

// Stats returns the raw quota document for a user without touching the
// cache or creating anything.
func (l *Ledger) Stats(ctx context.Context, userID string) (*domain.UserQuota, error) {
	q := &domain.UserQuota{}
	if err := l.store.Get(ctx, quotaKey(userID), q); err != nil {
		return nil, err
	}
	return q, nil
}

// History lists the usage-history entries for a user and period label
// (e.g. "2026-09").
func (l *Ledger) History(ctx context.Context, userID, period string) ([]domain.UsageHistoryEntry, error) {
	docs, err := l.store.List(ctx, "usage/"+userID+"/"+period+"/")
	if err != nil {
		return nil, err
	}
	entries := make([]domain.UsageHistoryEntry, 0, len(docs))
	for _, doc := range docs {
		var e domain.UsageHistoryEntry
		if err := docstore.Unmarshal(doc, &e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// load reads the quota document, creating a default free-tier document
// for unknown users, and persists a lazy rollover when the stored period
// has elapsed.
func (l *Ledger) load(ctx context.Context, userID string, now time.Time) (*domain.UserQuota, error) {
	q := &domain.UserQuota{}
	err := l.store.Get(ctx, quotaKey(userID), q)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		q, err = l.initialize(ctx, userID, now)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	if q.PeriodElapsed(now) {
		var rolled *domain.UserQuota
		err := l.store.Update(ctx, func(tx docstore.Tx) error {
			cur := &domain.UserQuota{}
			if err := tx.Get(quotaKey(userID), cur); err != nil {
				return err
			}
			// Re-check inside the transaction; another process may have
			// rolled the period already.
			if cur.PeriodElapsed(now) {
				rollForward(cur, now)
				cur.UpdatedAt = now
				if err := tx.Put(quotaKey(userID), cur); err != nil {
					return err
				}
			}
			rolled = cur.Clone()
			return nil
		})
		if err != nil {
			return nil, err
		}
		q = rolled
	}

	l.cache.put(q)
	return q, nil
}

func (l *Ledger) initialize(ctx context.Context, userID string, now time.Time) (*domain.UserQuota, error) {
	var created *domain.UserQuota
	err := l.store.Update(ctx, func(tx docstore.Tx) error {
		cur := &domain.UserQuota{}
		err := tx.Get(quotaKey(userID), cur)
		if err == nil {
			created = cur.Clone()
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		q := l.newQuota(userID, now)
		if err := tx.Put(quotaKey(userID), q); err != nil {
			return err
		}
		created = q.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info().Str("user_id", userID).Str("tier", string(created.Tier)).Msg("quota: initialized")
	return created, nil
}

func (l *Ledger) newQuota(userID string, now time.Time) *domain.UserQuota {
	start, end := periodBounds(now)
	limits := make(map[domain.ResourceType]int)
	for r, v := range l.plans.LimitsFor(domain.PlanFree) {
		limits[r] = v
	}
	return &domain.UserQuota{
		UserID:      userID,
		Tier:        domain.PlanFree,
		Limits:      limits,
		Usage:       make(map[domain.ResourceType]int),
		PeriodStart: start,
		PeriodEnd:   end,
		UpdatedAt:   now,
	}
}

func statusFor(q *domain.UserQuota, r domain.ResourceType) domain.QuotaStatus {
	limit := q.Limit(r)
	used := q.Used(r)
	st := domain.QuotaStatus{
		Allowed:   q.Allowed(r),
		Limit:     limit,
		Used:      used,
		Unlimited: limit < 0,
		PeriodEnd: q.PeriodEnd,
	}
	if st.Unlimited {
		st.Remaining = domain.Unlimited
	} else if st.Remaining = limit - used; st.Remaining < 0 {
		st.Remaining = 0
	}
	return st
}

func rollForward(q *domain.UserQuota, now time.Time) {
	q.Usage = make(map[domain.ResourceType]int)
	q.PeriodStart, q.PeriodEnd = periodBounds(now)
}

// periodBounds returns the UTC calendar month containing now.
func periodBounds(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

func quotaKey(userID string) string {
	return "quota/" + userID
}

func historyKey(userID, period, entryID string) string {
	return "usage/" + userID + "/" + period + "/" + entryID
}

func dayKey(userID, day string) string {
	return "usageday/" + userID + "/" + day
}
