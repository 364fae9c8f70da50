package domain

import "time"

// SkipReason explains why a pair was skipped rather than published.
type SkipReason string

const (
	SkipQuotaExceeded SkipReason = "quota_exceeded"
	SkipDailyCap      SkipReason = "daily_cap"
	SkipDuplicate     SkipReason = "duplicate"
)

// OutcomeStatus enumerates per-pair batch outcomes.
type OutcomeStatus string

const (
	OutcomeCompleted OutcomeStatus = "completed"
	OutcomeSkipped   OutcomeStatus = "skipped"
	OutcomeFailed    OutcomeStatus = "failed"
)

// ItemOutcome is the result of one (item, profile) pair in a batch run.
type ItemOutcome struct {
	ItemID      string        `json:"item_id"`
	ProfileID   string        `json:"profile_id"`
	Status      OutcomeStatus `json:"status"`
	Reason      SkipReason    `json:"reason,omitempty"`
	PublishedID string        `json:"published_id,omitempty"`
	Author      string        `json:"author,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// BatchResult summarizes a batch run. It is durably stored so that run
// history survives the process that produced it.
type BatchResult struct {
	RunID      string        `json:"run_id"`
	UserID     string        `json:"user_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Completed  int           `json:"completed"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Cancelled  bool          `json:"cancelled"`
	Outcomes   []ItemOutcome `json:"outcomes"`
}

// ProgressEvent is emitted after every processed pair.
type ProgressEvent struct {
	Stage     string    `json:"stage"`
	ItemID    string    `json:"item_id"`
	ProfileID string    `json:"profile_id"`
	Status    string    `json:"status"`
	Completed int       `json:"completed"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}
