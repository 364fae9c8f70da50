package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SiteProfile configures one publishing target for a user. Credentials are
// opaque to the core and passed through to the publish client.
type SiteProfile struct {
	UserID       string            `json:"user_id"`
	ID           string            `json:"id"`
	SiteURL      string            `json:"site_url"`
	Credentials  map[string]string `json:"credentials,omitempty"`
	DailyCap     int               `json:"daily_cap"`
	Categories   []string          `json:"categories,omitempty"`
	Authors      []string          `json:"authors,omitempty"`
	AuthorCursor int               `json:"author_cursor"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// RecordStatus enumerates the processing lifecycle states.
type RecordStatus string

const (
	RecordQueued     RecordStatus = "queued"
	RecordInProgress RecordStatus = "in_progress"
	RecordCompleted  RecordStatus = "completed"
	RecordFailed     RecordStatus = "failed"
	RecordSkipped    RecordStatus = "skipped"
)

// ProcessingRecord tracks one (site profile, content item) pair through a
// publishing run. completed is terminal for a given fingerprint.
type ProcessingRecord struct {
	UserID      string       `json:"user_id"`
	ProfileID   string       `json:"profile_id"`
	ItemID      string       `json:"item_id"`
	Status      RecordStatus `json:"status"`
	PublishedID string       `json:"published_id,omitempty"`
	ErrorDetail string       `json:"error_detail,omitempty"`
	Fingerprint string       `json:"fingerprint"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// DailyCounter counts successful publishes per profile per calendar day.
// A new day means a new document; counters are never cleared.
type DailyCounter struct {
	ProfileID string `json:"profile_id"`
	Day       string `json:"day"`
	Count     int    `json:"count"`
}

// ContentItem is a unit of publishable content selected for a run.
type ContentItem struct {
	ID       string `json:"id"`
	Ticker   string `json:"ticker,omitempty"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Category string `json:"category,omitempty"`
}

// Fingerprint returns a deterministic hash of the item contents, used for
// duplicate detection and as the publish idempotency token.
func (c ContentItem) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(c.ID))
	h.Write([]byte{0})
	h.Write([]byte(c.Title))
	h.Write([]byte{0})
	h.Write([]byte(c.Body))
	return hex.EncodeToString(h.Sum(nil))
}
