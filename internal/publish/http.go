package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"pressroom/internal/domain"
)

// Options configures an HTTPTarget.
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	MaxRetries int
	Logger     zerolog.Logger
}

// HTTPTarget publishes posts over a JSON create-post endpoint. Network
// errors, 5xx, and 429 responses are retried with exponential backoff up
// to MaxRetries; other 4xx responses fail immediately.
type HTTPTarget struct {
	client     *http.Client
	timeout    time.Duration
	maxRetries int
	logger     zerolog.Logger
}

// NewHTTPTarget creates an HTTP publish client.
func NewHTTPTarget(opts Options) *HTTPTarget {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &HTTPTarget{
		client:     opts.HTTPClient,
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		logger:     opts.Logger,
	}
}

// CreatePost posts the content to the profile's site. Each attempt
// carries its own timeout independent of the backoff schedule.
func (t *HTTPTarget) CreatePost(ctx context.Context, profile *domain.SiteProfile, req PostRequest) (PostResult, error) {
	endpoint := strings.TrimRight(profile.SiteURL, "/") + "/posts"
	payload, err := json.Marshal(req)
	if err != nil {
		return PostResult{}, err
	}

	var result PostResult
	attempt := func() error {
		res, err := t.attempt(ctx, profile, endpoint, payload, req.IdempotencyKey)
		if err != nil {
			var pubErr *domain.PublishError
			if errors.As(err, &pubErr) && !pubErr.Retryable {
				return backoff.Permanent(err)
			}
			return err
		}
		result = res
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(t.maxRetries)), ctx)
	notify := func(err error, wait time.Duration) {
		t.logger.Warn().
			Err(err).
			Dur("wait", wait).
			Str("profile_id", profile.ID).
			Msg("publish: retrying")
	}
	if err := backoff.RetryNotify(attempt, policy, notify); err != nil {
		return PostResult{}, err
	}
	return result, nil
}

func (t *HTTPTarget) attempt(ctx context.Context, profile *domain.SiteProfile, endpoint string, payload []byte, idempotencyKey string) (PostResult, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return PostResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	if token := profile.Credentials["token"]; token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := t.client.Do(httpReq)
	if err != nil {
		return PostResult{}, &domain.PublishError{Retryable: true, Message: err.Error()}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return PostResult{}, &domain.PublishError{Retryable: true, Message: fmt.Sprintf("read response: %v", err)}
	}

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		var out PostResult
		if err := json.Unmarshal(body, &out); err != nil {
			return PostResult{}, &domain.PublishError{StatusCode: res.StatusCode, Message: fmt.Sprintf("decode response: %v", err)}
		}
		if out.PublishedID == "" {
			return PostResult{}, &domain.PublishError{StatusCode: res.StatusCode, Message: "response missing post id"}
		}
		return out, nil
	case res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests:
		return PostResult{}, &domain.PublishError{StatusCode: res.StatusCode, Retryable: true, Message: truncate(body)}
	default:
		return PostResult{}, &domain.PublishError{StatusCode: res.StatusCode, Message: truncate(body)}
	}
}

func truncate(body []byte) string {
	const max = 256
	s := string(body)
	if len(s) > max {
		return s[:max]
	}
	return s
}

var _ Target = (*HTTPTarget)(nil)
