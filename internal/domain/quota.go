package domain

import "time"

// ResourceType enumerates metered resources.
type ResourceType string

const (
	ResourceReport  ResourceType = "report"
	ResourceArticle ResourceType = "article"
)

// PlanTier enumerates subscription tiers.
type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanPro        PlanTier = "pro"
	PlanProPlus    PlanTier = "pro_plus"
	PlanEnterprise PlanTier = "enterprise"
)

// Unlimited marks a resource with no monthly limit.
const Unlimited = -1

// PlanLimits maps each tier to its monthly limits per resource.
type PlanLimits map[PlanTier]map[ResourceType]int

// DefaultPlanLimits returns the built-in tier table. Callers may pass
// their own table to the ledger instead.
func DefaultPlanLimits() PlanLimits {
	return PlanLimits{
		PlanFree:       {ResourceReport: 10, ResourceArticle: 5},
		PlanPro:        {ResourceReport: 100, ResourceArticle: 50},
		PlanProPlus:    {ResourceReport: 500, ResourceArticle: 250},
		PlanEnterprise: {ResourceReport: Unlimited, ResourceArticle: Unlimited},
	}
}

// LimitsFor returns the limits for a tier, falling back to the free tier
// for unknown values.
func (p PlanLimits) LimitsFor(tier PlanTier) map[ResourceType]int {
	if limits, ok := p[tier]; ok {
		return limits
	}
	return p[PlanFree]
}

// UserQuota is the per-user quota document for the current plan period.
type UserQuota struct {
	UserID      string               `json:"user_id"`
	Tier        PlanTier             `json:"tier"`
	Limits      map[ResourceType]int `json:"limits"`
	Usage       map[ResourceType]int `json:"usage"`
	PeriodStart time.Time            `json:"period_start"`
	PeriodEnd   time.Time            `json:"period_end"`
	Suspended   bool                 `json:"suspended"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// Limit returns the monthly limit for a resource, Unlimited if the tier
// carries no entry for it.
func (q *UserQuota) Limit(r ResourceType) int {
	if limit, ok := q.Limits[r]; ok {
		return limit
	}
	return Unlimited
}

// Used returns current-period usage for a resource.
func (q *UserQuota) Used(r ResourceType) int {
	return q.Usage[r]
}

// Allowed reports whether one more unit of r fits within the limit.
func (q *UserQuota) Allowed(r ResourceType) bool {
	if q.Suspended {
		return false
	}
	limit := q.Limit(r)
	return limit < 0 || q.Used(r) < limit
}

// PeriodElapsed reports whether the stored period has ended relative to now.
func (q *UserQuota) PeriodElapsed(now time.Time) bool {
	return !now.Before(q.PeriodEnd)
}

// Clone returns a deep copy, safe to hand to concurrent readers.
func (q *UserQuota) Clone() *UserQuota {
	if q == nil {
		return nil
	}
	cp := *q
	cp.Limits = make(map[ResourceType]int, len(q.Limits))
	for k, v := range q.Limits {
		cp.Limits[k] = v
	}
	cp.Usage = make(map[ResourceType]int, len(q.Usage))
	for k, v := range q.Usage {
		cp.Usage[k] = v
	}
	return &cp
}

// QuotaStatus is the answer to a quota check.
type QuotaStatus struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	Unlimited bool      `json:"unlimited"`
	PeriodEnd time.Time `json:"period_end"`
}

// UsageHistoryEntry is an append-only record of one consumption event.
type UsageHistoryEntry struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Resource  ResourceType      `json:"resource"`
	Period    string            `json:"period"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// UsageDay aggregates consumption per user per calendar day.
type UsageDay struct {
	UserID string               `json:"user_id"`
	Day    string               `json:"day"`
	Counts map[ResourceType]int `json:"counts"`
}
