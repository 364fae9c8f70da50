package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pressroom/internal/docstore"
	"pressroom/internal/domain"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLedger(store docstore.Store, clock *fakeClock) *Ledger {
	return NewLedger(Options{
		Store:    store,
		CacheTTL: time.Minute,
		Logger:   zerolog.Nop(),
		Clock:    clock.Now,
	})
}

func seedQuota(t *testing.T, store docstore.Store, q *domain.UserQuota) {
	t.Helper()
	if err := store.Put(context.Background(), "quota/"+q.UserID, q); err != nil {
		t.Fatalf("seed quota: %v", err)
	}
}

func TestCheckInitializesFreeTier(t *testing.T) {
	store := docstore.NewMemory()
	clock := newFakeClock(time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC))
	ledger := newTestLedger(store, clock)

	status, err := ledger.Check(context.Background(), "u1", domain.ResourceReport)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if !status.Allowed {
		t.Fatal("expected new free-tier user to be allowed")
	}
	if status.Used != 0 || status.Limit != 10 {
		t.Fatalf("unexpected status: used=%d limit=%d", status.Used, status.Limit)
	}

	// Document must be durable, not just cached.
	stored := &domain.UserQuota{}
	if err := store.Get(context.Background(), "quota/u1", stored); err != nil {
		t.Fatalf("expected quota document to exist: %v", err)
	}
	if stored.Tier != domain.PlanFree {
		t.Fatalf("expected free tier, got %s", stored.Tier)
	}
	wantEnd := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	if !stored.PeriodEnd.Equal(wantEnd) {
		t.Fatalf("expected period end %v, got %v", wantEnd, stored.PeriodEnd)
	}
}

func TestStatusDoesNotInitialize(t *testing.T) {
	store := docstore.NewMemory()
	clock := newFakeClock(time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC))
	ledger := newTestLedger(store, clock)

	if _, err := ledger.Status(context.Background(), "ghost", domain.ResourceReport); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Get(context.Background(), "quota/ghost", &domain.UserQuota{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("Status must not create a document")
	}
}

func TestCheckLazyRollover(t *testing.T) {
	store := docstore.NewMemory()
	clock := newFakeClock(time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC))
	ledger := newTestLedger(store, clock)

	seedQuota(t, store, &domain.UserQuota{
		UserID:      "u1",
		Tier:        domain.PlanFree,
		Limits:      map[domain.ResourceType]int{domain.ResourceReport: 10},
		Usage:       map[domain.ResourceType]int{domain.ResourceReport: 7},
		PeriodStart: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
	})

	status, err := ledger.Check(context.Background(), "u1", domain.ResourceReport)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if status.Used != 0 {
		t.Fatalf("expected usage reset to 0, got %d", status.Used)
	}
	wantEnd := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	if !status.PeriodEnd.Equal(wantEnd) {
		t.Fatalf("expected period end %v, got %v", wantEnd, status.PeriodEnd)
	}

	// The rollover must be persisted without the scheduled sweep running.
	stored := &domain.UserQuota{}
	if err := store.Get(context.Background(), "quota/u1", stored); err != nil {
		t.Fatalf("get quota: %v", err)
	}
	if stored.Used(domain.ResourceReport) != 0 || !stored.PeriodEnd.Equal(wantEnd) {
		t.Fatalf("rollover not persisted: used=%d end=%v", stored.Used(domain.ResourceReport), stored.PeriodEnd)
	}
	if stored.Limit(domain.ResourceReport) != 10 {
		t.Fatal("limits must survive rollover")
	}
}

func TestConsumeAppendsHistoryAndDayAggregate(t *testing.T) {
	store := docstore.NewMemory()
	clock := newFakeClock(time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC))
	ledger := newTestLedger(store, clock)

	used, err := ledger.Consume(context.Background(), "u1", domain.ResourceArticle, map[string]string{
		"ticker": "ACME", "item_id": "it-1",
	})
	if err != nil {
		t.Fatalf("Consume error: %v", err)
	}
	if used != 1 {
		t.Fatalf("expected used=1, got %d", used)
	}

	entries, err := ledger.History(context.Background(), "u1", "2026-09")
	if err != nil {
		t.Fatalf("History error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(entries))
	}
	if entries[0].Metadata["ticker"] != "ACME" {
		t.Fatalf("expected metadata to round-trip, got %v", entries[0].Metadata)
	}
	if entries[0].Resource != domain.ResourceArticle {
		t.Fatalf("unexpected resource %s", entries[0].Resource)
	}

	day := domain.UsageDay{}
	if err := store.Get(context.Background(), "usageday/u1/2026-09-10", &day); err != nil {
		t.Fatalf("expected day aggregate: %v", err)
	}
	if day.Counts[domain.ResourceArticle] != 1 {
		t.Fatalf("expected day count 1, got %d", day.Counts[domain.ResourceArticle])
	}
}

func TestConsumeQuotaExceeded(t *testing.T) {
	store := docstore.NewMemory()
	clock := newFakeClock(time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC))
	ledger := newTestLedger(store, clock)

	seedQuota(t, store, &domain.UserQuota{
		UserID:      "u1",
		Tier:        domain.PlanFree,
		Limits:      map[domain.ResourceType]int{domain.ResourceArticle: 2},
		Usage:       map[domain.ResourceType]int{domain.ResourceArticle: 2},
		PeriodStart: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	})

	_, err := ledger.Consume(context.Background(), "u1", domain.ResourceArticle, nil)
	var quotaErr *domain.QuotaExceededError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("expected QuotaExceededError, got %v", err)
	}
	if quotaErr.Used != 2 || quotaErr.Limit != 2 {
		t.Fatalf("unexpected snapshot: %+v", quotaErr)
	}

	// Nothing may have landed.
	entries, err := ledger.History(context.Background(), "u1", "2026-09")
	if err != nil {
		t.Fatalf("History error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no history entries, got %d", len(entries))
	}
}

func TestConsumeSuspended(t *testing.T) {
	store := docstore.NewMemory()
	clock := newFakeClock(time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC))
	ledger := newTestLedger(store, clock)

	seedQuota(t, store, &domain.UserQuota{
		UserID:      "u1",
		Tier:        domain.PlanPro,
		Limits:      map[domain.ResourceType]int{domain.ResourceArticle: 50},
		Usage:       map[domain.ResourceType]int{},
		PeriodStart: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		Suspended:   true,
	})

	if _, err := ledger.Consume(context.Background(), "u1", domain.ResourceArticle, nil); !errors.Is(err, domain.ErrSuspended) {
		t.Fatalf("expected ErrSuspended, got %v", err)
	}

	status, err := ledger.Check(context.Background(), "u1", domain.ResourceArticle)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if status.Allowed {
		t.Fatal("suspended user must not be allowed")
	}
}

func TestConsumeUnlimited(t *testing.T) {
	store := docstore.NewMemory()
	clock := newFakeClock(time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC))
	ledger := newTestLedger(store, clock)

	seedQuota(t, store, &domain.UserQuota{
		UserID:      "u1",
		Tier:        domain.PlanEnterprise,
		Limits:      map[domain.ResourceType]int{domain.ResourceArticle: domain.Unlimited},
		Usage:       map[domain.ResourceType]int{domain.ResourceArticle: 100000},
		PeriodStart: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	})

	used, err := ledger.Consume(context.Background(), "u1", domain.ResourceArticle, nil)
	if err != nil {
		t.Fatalf("Consume error: %v", err)
	}
	if used != 100001 {
		t.Fatalf("expected used=100001, got %d", used)
	}

	status, err := ledger.Check(context.Background(), "u1", domain.ResourceArticle)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if !status.Unlimited || !status.Allowed || status.Remaining != domain.Unlimited {
		t.Fatalf("unexpected unlimited status: %+v", status)
	}
}

func TestConcurrentConsumeNeverExceedsLimit(t *testing.T) {
	const (
		limit   = 10
		workers = 25
	)
	store := docstore.NewMemory()
	clock := newFakeClock(time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC))
	ledger := newTestLedger(store, clock)

	seedQuota(t, store, &domain.UserQuota{
		UserID:      "u1",
		Tier:        domain.PlanFree,
		Limits:      map[domain.ResourceType]int{domain.ResourceArticle: limit},
		Usage:       map[domain.ResourceType]int{},
		PeriodStart: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		exceeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Consume(context.Background(), "u1", domain.ResourceArticle, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			default:
				var quotaErr *domain.QuotaExceededError
				if !errors.As(err, &quotaErr) {
					t.Errorf("unexpected error: %v", err)
					return
				}
				exceeded++
			}
		}()
	}
	wg.Wait()

	if success != limit {
		t.Fatalf("expected exactly %d successful consumes, got %d", limit, success)
	}
	if exceeded != workers-limit {
		t.Fatalf("expected %d quota errors, got %d", workers-limit, exceeded)
	}

	stored := &domain.UserQuota{}
	if err := store.Get(context.Background(), "quota/u1", stored); err != nil {
		t.Fatalf("get quota: %v", err)
	}
	if stored.Used(domain.ResourceArticle) != limit {
		t.Fatalf("final used = %d, want %d", stored.Used(domain.ResourceArticle), limit)
	}
}

func TestConsumeRefreshesCache(t *testing.T) {
	store := docstore.NewMemory()
	clock := newFakeClock(time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC))
	ledger := newTestLedger(store, clock)

	if _, err := ledger.Check(context.Background(), "u1", domain.ResourceArticle); err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if _, err := ledger.Consume(context.Background(), "u1", domain.ResourceArticle, nil); err != nil {
		t.Fatalf("Consume error: %v", err)
	}

	// The TTL has not expired, so this answer can only be fresh if the
	// consume refreshed the cache synchronously.
	status, err := ledger.Check(context.Background(), "u1", domain.ResourceArticle)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if status.Used != 1 {
		t.Fatalf("expected cached used=1 after consume, got %d", status.Used)
	}
}

func TestCheckServesCachedReads(t *testing.T) {
	store := docstore.NewMemory()
	clock := newFakeClock(time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC))
	ledger := newTestLedger(store, clock)

	if _, err := ledger.Check(context.Background(), "u1", domain.ResourceArticle); err != nil {
		t.Fatalf("Check error: %v", err)
	}

	// An out-of-band write is invisible until the TTL expires; reads
	// accept bounded staleness.
	stored := &domain.UserQuota{}
	if err := store.Get(context.Background(), "quota/u1", stored); err != nil {
		t.Fatalf("get quota: %v", err)
	}
	stored.Usage = map[domain.ResourceType]int{domain.ResourceArticle: 3}
	seedQuota(t, store, stored)

	status, err := ledger.Check(context.Background(), "u1", domain.ResourceArticle)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if status.Used != 0 {
		t.Fatalf("expected stale cached used=0, got %d", status.Used)
	}
}

func TestResetPeriodIdempotent(t *testing.T) {
	store := docstore.NewMemory()
	clock := newFakeClock(time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC))
	ledger := newTestLedger(store, clock)

	seedQuota(t, store, &domain.UserQuota{
		UserID:      "u1",
		Tier:        domain.PlanPro,
		Limits:      map[domain.ResourceType]int{domain.ResourceArticle: 50},
		Usage:       map[domain.ResourceType]int{domain.ResourceArticle: 12},
		PeriodStart: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
	})

	for i := 0; i < 2; i++ {
		if err := ledger.ResetPeriod(context.Background(), "u1"); err != nil {
			t.Fatalf("ResetPeriod error: %v", err)
		}
	}

	stored := &domain.UserQuota{}
	if err := store.Get(context.Background(), "quota/u1", stored); err != nil {
		t.Fatalf("get quota: %v", err)
	}
	if stored.Used(domain.ResourceArticle) != 0 {
		t.Fatalf("expected usage reset, got %d", stored.Used(domain.ResourceArticle))
	}
	if stored.Limit(domain.ResourceArticle) != 50 {
		t.Fatal("limits must be preserved")
	}
	if !stored.PeriodEnd.Equal(time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected period end %v", stored.PeriodEnd)
	}
}

func TestResetPeriodUnknownUser(t *testing.T) {
	store := docstore.NewMemory()
	clock := newFakeClock(time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC))
	ledger := newTestLedger(store, clock)

	if err := ledger.ResetPeriod(context.Background(), "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	store := docstore.NewMemory()
	clock := newFakeClock(time.Date(2026, 9, 1, 0, 1, 0, 0, time.UTC))
	ledger := newTestLedger(store, clock)

	expired := &domain.UserQuota{
		UserID:      "old",
		Tier:        domain.PlanFree,
		Limits:      map[domain.ResourceType]int{domain.ResourceArticle: 5},
		Usage:       map[domain.ResourceType]int{domain.ResourceArticle: 5},
		PeriodStart: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
	}
	current := &domain.UserQuota{
		UserID:      "fresh",
		Tier:        domain.PlanFree,
		Limits:      map[domain.ResourceType]int{domain.ResourceArticle: 5},
		Usage:       map[domain.ResourceType]int{domain.ResourceArticle: 2},
		PeriodStart: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	}
	seedQuota(t, store, expired)
	seedQuota(t, store, current)

	swept, err := ledger.SweepExpired(context.Background(), true)
	if err != nil {
		t.Fatalf("SweepExpired dry-run error: %v", err)
	}
	if len(swept) != 1 || swept[0] != "old" {
		t.Fatalf("dry-run expected [old], got %v", swept)
	}
	stored := &domain.UserQuota{}
	if err := store.Get(context.Background(), "quota/old", stored); err != nil {
		t.Fatalf("get quota: %v", err)
	}
	if stored.Used(domain.ResourceArticle) != 5 {
		t.Fatal("dry-run must not write")
	}

	if _, err := ledger.SweepExpired(context.Background(), false); err != nil {
		t.Fatalf("SweepExpired error: %v", err)
	}
	stored = &domain.UserQuota{}
	if err := store.Get(context.Background(), "quota/old", stored); err != nil {
		t.Fatalf("get quota: %v", err)
	}
	if stored.Used(domain.ResourceArticle) != 0 {
		t.Fatalf("expected swept usage 0, got %d", stored.Used(domain.ResourceArticle))
	}
	stored = &domain.UserQuota{}
	if err := store.Get(context.Background(), "quota/fresh", stored); err != nil {
		t.Fatalf("get quota: %v", err)
	}
	if stored.Used(domain.ResourceArticle) != 2 {
		t.Fatal("current-period user must be untouched")
	}
}
