package publish

import (
	"context"

	"pressroom/internal/domain"
)

// PostRequest carries the content for one create-post call. The
// idempotency key is the content fingerprint; targets that honor it will
// not create duplicate posts on retry.
type PostRequest struct {
	Title          string `json:"title"`
	Body           string `json:"body"`
	Author         string `json:"author,omitempty"`
	Category       string `json:"category,omitempty"`
	IdempotencyKey string `json:"-"`
}

// PostResult is the published identifier returned by the target.
type PostResult struct {
	PublishedID string `json:"id"`
}

// Target is the opaque publish collaborator. Implementations classify
// failures via domain.PublishError so the orchestrator can tell transient
// conditions from permanent ones.
type Target interface {
	CreatePost(ctx context.Context, profile *domain.SiteProfile, req PostRequest) (PostResult, error)
}
