package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"pressroom/internal/docstore"
	"pressroom/internal/domain"
)

const dayFormat = "2006-01-02"

// DefaultLivenessWindow is how long an in_progress record is considered
// owned by a live worker before it becomes reclaimable.
const DefaultLivenessWindow = 10 * time.Minute

// Options configures a Store.
type Options struct {
	Docs           docstore.Store
	LivenessWindow time.Duration
	Logger         zerolog.Logger
	Clock          func() time.Time
}

// Store owns site profiles, processing records, and daily counters. Every
// mutation is one atomic transaction against the document store; nothing
// here ever spans an external network call.
type Store struct {
	docs     docstore.Store
	liveness time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

// NewStore creates an automation state store.
func NewStore(opts Options) *Store {
	if opts.LivenessWindow <= 0 {
		opts.LivenessWindow = DefaultLivenessWindow
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Store{
		docs:     opts.Docs,
		liveness: opts.LivenessWindow,
		logger:   opts.Logger,
		now:      opts.Clock,
	}
}

// Claim takes ownership of (profile, item) for this worker. It refuses
// when the record is already completed for the same fingerprint, or when
// another worker updated it within the liveness window. A refused claim
// returns the existing record so callers can report why.
func (s *Store) Claim(ctx context.Context, userID, profileID, itemID, fingerprint string) (bool, *domain.ProcessingRecord, error) {
	now := s.now().UTC()
	var (
		claimed bool
		out     *domain.ProcessingRecord
	)
	err := s.docs.Update(ctx, func(tx docstore.Tx) error {
		claimed = false
		rec := &domain.ProcessingRecord{}
		err := tx.Get(recordKey(profileID, itemID), rec)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			rec = nil
		case err != nil:
			return err
		}

		if rec != nil {
			if rec.Status == domain.RecordCompleted && rec.Fingerprint == fingerprint {
				out = rec
				return nil
			}
			if rec.Status == domain.RecordInProgress && now.Sub(rec.UpdatedAt) < s.liveness {
				out = rec
				return nil
			}
		}

		next := &domain.ProcessingRecord{
			UserID:      userID,
			ProfileID:   profileID,
			ItemID:      itemID,
			Status:      domain.RecordInProgress,
			Fingerprint: fingerprint,
			UpdatedAt:   now,
		}
		if err := tx.Put(recordKey(profileID, itemID), next); err != nil {
			return err
		}
		claimed = true
		out = next
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	return claimed, out, nil
}

// Complete marks the record completed and increments the profile's daily
// counter in the same transaction, re-validating the cap so the counter
// and the record can never disagree. The caller must still hold the claim
// (ErrInvalidTransition otherwise). A CapExceededError means the item
// must be treated as not yet published.
func (s *Store) Complete(ctx context.Context, rec *domain.ProcessingRecord, publishedID string) error {
	now := s.now().UTC()
	day := now.Format(dayFormat)
	err := s.docs.Update(ctx, func(tx docstore.Tx) error {
		stored := &domain.ProcessingRecord{}
		if err := tx.Get(recordKey(rec.ProfileID, rec.ItemID), stored); err != nil {
			return err
		}
		// The claim is the commit token: a worker whose claim was reclaimed
		// while it was publishing must not write over the new owner's state.
		if stored.Status != domain.RecordInProgress ||
			stored.Fingerprint != rec.Fingerprint ||
			!stored.UpdatedAt.Equal(rec.UpdatedAt) {
			return fmt.Errorf("complete %s/%s: claim no longer held: %w",
				rec.ProfileID, rec.ItemID, domain.ErrInvalidTransition)
		}

		profile := &domain.SiteProfile{}
		if err := tx.Get(profileKey(rec.UserID, rec.ProfileID), profile); err != nil {
			return fmt.Errorf("load profile %s: %w", rec.ProfileID, err)
		}

		counter := domain.DailyCounter{}
		err := tx.Get(counterKey(rec.ProfileID, day), &counter)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			counter = domain.DailyCounter{ProfileID: rec.ProfileID, Day: day}
		case err != nil:
			return err
		}

		if profile.DailyCap > 0 && counter.Count >= profile.DailyCap {
			return &domain.CapExceededError{ProfileID: rec.ProfileID, Cap: profile.DailyCap}
		}

		stored.Status = domain.RecordCompleted
		stored.PublishedID = publishedID
		stored.ErrorDetail = ""
		stored.UpdatedAt = now
		if err := tx.Put(recordKey(rec.ProfileID, rec.ItemID), stored); err != nil {
			return err
		}

		counter.Count++
		return tx.Put(counterKey(rec.ProfileID, day), counter)
	})
	if err != nil {
		return err
	}
	s.logger.Debug().
		Str("profile_id", rec.ProfileID).
		Str("item_id", rec.ItemID).
		Str("published_id", publishedID).
		Msg("automation: completed")
	return nil
}

// Fail marks the record failed with error detail.
func (s *Store) Fail(ctx context.Context, rec *domain.ProcessingRecord, detail string) error {
	now := s.now().UTC()
	return s.docs.Update(ctx, func(tx docstore.Tx) error {
		stored := &domain.ProcessingRecord{}
		if err := tx.Get(recordKey(rec.ProfileID, rec.ItemID), stored); err != nil {
			return err
		}
		stored.Status = domain.RecordFailed
		stored.ErrorDetail = detail
		stored.UpdatedAt = now
		return tx.Put(recordKey(rec.ProfileID, rec.ItemID), stored)
	})
}

// Skip records that the pair was passed over without ever being claimed
// by this run (quota exhausted before the claim). Skipped is not terminal
// for the fingerprint: a later run may claim the record again. The same
// guards as Claim apply: a completed record or a live in_progress record
// belongs to someone else and stays untouched.
func (s *Store) Skip(ctx context.Context, userID, profileID, itemID, fingerprint, reason string) error {
	now := s.now().UTC()
	return s.docs.Update(ctx, func(tx docstore.Tx) error {
		rec := &domain.ProcessingRecord{}
		err := tx.Get(recordKey(profileID, itemID), rec)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			rec = &domain.ProcessingRecord{UserID: userID, ProfileID: profileID, ItemID: itemID}
		case err != nil:
			return err
		}
		if rec.Status == domain.RecordCompleted {
			return nil
		}
		if rec.Status == domain.RecordInProgress && now.Sub(rec.UpdatedAt) < s.liveness {
			return nil
		}
		rec.Status = domain.RecordSkipped
		rec.Fingerprint = fingerprint
		rec.ErrorDetail = reason
		rec.UpdatedAt = now
		return tx.Put(recordKey(profileID, itemID), rec)
	})
}

// SkipClaimed releases a claim this worker holds, marking the record
// skipped with the reason. Callers pass the record returned by Claim.
func (s *Store) SkipClaimed(ctx context.Context, rec *domain.ProcessingRecord, reason string) error {
	now := s.now().UTC()
	return s.docs.Update(ctx, func(tx docstore.Tx) error {
		stored := &domain.ProcessingRecord{}
		if err := tx.Get(recordKey(rec.ProfileID, rec.ItemID), stored); err != nil {
			return err
		}
		if stored.Status == domain.RecordCompleted {
			return nil
		}
		stored.Status = domain.RecordSkipped
		stored.ErrorDetail = reason
		stored.UpdatedAt = now
		return tx.Put(recordKey(rec.ProfileID, rec.ItemID), stored)
	})
}

// Requeue resets a failed record to queued so a later run retries it.
func (s *Store) Requeue(ctx context.Context, profileID, itemID string) error {
	now := s.now().UTC()
	return s.docs.Update(ctx, func(tx docstore.Tx) error {
		rec := &domain.ProcessingRecord{}
		if err := tx.Get(recordKey(profileID, itemID), rec); err != nil {
			return err
		}
		if rec.Status != domain.RecordFailed {
			return fmt.Errorf("requeue %s/%s from %s: %w", profileID, itemID, rec.Status, domain.ErrInvalidTransition)
		}
		rec.Status = domain.RecordQueued
		rec.ErrorDetail = ""
		rec.UpdatedAt = now
		return tx.Put(recordKey(profileID, itemID), rec)
	})
}

// CheckDailyCap returns how many publishes the profile has left today.
// The result is advisory; Complete re-validates atomically. A profile
// with no cap configured returns -1.
func (s *Store) CheckDailyCap(ctx context.Context, userID, profileID string) (int, error) {
	profile := &domain.SiteProfile{}
	if err := s.docs.Get(ctx, profileKey(userID, profileID), profile); err != nil {
		return 0, err
	}
	if profile.DailyCap <= 0 {
		return -1, nil
	}

	day := s.now().UTC().Format(dayFormat)
	counter := domain.DailyCounter{}
	err := s.docs.Get(ctx, counterKey(profileID, day), &counter)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		counter.Count = 0
	case err != nil:
		return 0, err
	}

	remaining := profile.DailyCap - counter.Count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// NextAuthor returns the author under the rotation cursor and advances
// the cursor with wrap-around, all in one transaction so rotation stays
// fair across processes and restarts. Profiles without authors return "".
func (s *Store) NextAuthor(ctx context.Context, userID, profileID string) (string, error) {
	var author string
	err := s.docs.Update(ctx, func(tx docstore.Tx) error {
		profile := &domain.SiteProfile{}
		if err := tx.Get(profileKey(userID, profileID), profile); err != nil {
			return err
		}
		if len(profile.Authors) == 0 {
			author = ""
			return nil
		}
		cursor := profile.AuthorCursor % len(profile.Authors)
		author = profile.Authors[cursor]
		profile.AuthorCursor = (cursor + 1) % len(profile.Authors)
		profile.UpdatedAt = s.now().UTC()
		return tx.Put(profileKey(userID, profileID), profile)
	})
	if err != nil {
		return "", err
	}
	return author, nil
}

// GetProfile loads one site profile.
func (s *Store) GetProfile(ctx context.Context, userID, profileID string) (*domain.SiteProfile, error) {
	profile := &domain.SiteProfile{}
	if err := s.docs.Get(ctx, profileKey(userID, profileID), profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// SaveProfile upserts a site profile. Configuration surfaces own profile
// contents; the store only advances the rotation cursor itself.
func (s *Store) SaveProfile(ctx context.Context, profile *domain.SiteProfile) error {
	profile.UpdatedAt = s.now().UTC()
	return s.docs.Put(ctx, profileKey(profile.UserID, profile.ID), profile)
}

// GetRecord loads one processing record.
func (s *Store) GetRecord(ctx context.Context, profileID, itemID string) (*domain.ProcessingRecord, error) {
	rec := &domain.ProcessingRecord{}
	if err := s.docs.Get(ctx, recordKey(profileID, itemID), rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func profileKey(userID, profileID string) string {
	return "profile/" + userID + "/" + profileID
}

func recordKey(profileID, itemID string) string {
	return "record/" + profileID + "/" + itemID
}

func counterKey(profileID, day string) string {
	return "counter/" + profileID + "/" + day
}
