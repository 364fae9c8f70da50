package publish

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pressroom/internal/domain"
)

func testProfile(siteURL string) *domain.SiteProfile {
	return &domain.SiteProfile{
		UserID:      "u1",
		ID:          "p1",
		SiteURL:     siteURL,
		Credentials: map[string]string{"token": "secret-token"},
	}
}

func newTestTarget(retries int) *HTTPTarget {
	return NewHTTPTarget(Options{
		Timeout:    2 * time.Second,
		MaxRetries: retries,
		Logger:     zerolog.Nop(),
	})
}

func TestCreatePostSuccess(t *testing.T) {
	var gotReq PostRequest
	var gotIdem, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/posts" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotIdem = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"wp-42"}`))
	}))
	defer srv.Close()

	target := newTestTarget(0)
	res, err := target.CreatePost(context.Background(), testProfile(srv.URL+"/"), PostRequest{
		Title:          "Quarterly report",
		Body:           "body",
		Author:         "alice",
		IdempotencyKey: "fp-1",
	})
	if err != nil {
		t.Fatalf("CreatePost error: %v", err)
	}
	if res.PublishedID != "wp-42" {
		t.Fatalf("published id = %q, want wp-42", res.PublishedID)
	}
	if gotIdem != "fp-1" {
		t.Fatalf("idempotency key = %q, want fp-1", gotIdem)
	}
	if gotAuth != "Bearer secret-token" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotReq.Title != "Quarterly report" || gotReq.Author != "alice" {
		t.Fatalf("unexpected request payload: %+v", gotReq)
	}
}

func TestCreatePostRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"id":"wp-1"}`))
	}))
	defer srv.Close()

	target := newTestTarget(3)
	res, err := target.CreatePost(context.Background(), testProfile(srv.URL), PostRequest{Title: "t", Body: "b"})
	if err != nil {
		t.Fatalf("CreatePost error: %v", err)
	}
	if res.PublishedID != "wp-1" {
		t.Fatalf("published id = %q", res.PublishedID)
	}
	if calls.Load() != 3 {
		t.Fatalf("attempts = %d, want 3", calls.Load())
	}
}

func TestCreatePostClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad token"}`))
	}))
	defer srv.Close()

	target := newTestTarget(3)
	_, err := target.CreatePost(context.Background(), testProfile(srv.URL), PostRequest{Title: "t", Body: "b"})
	var pubErr *domain.PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected PublishError, got %v", err)
	}
	if pubErr.Retryable {
		t.Fatal("4xx must not be retryable")
	}
	if pubErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", pubErr.StatusCode)
	}
	if calls.Load() != 1 {
		t.Fatalf("attempts = %d, want 1 (no retries on 4xx)", calls.Load())
	}
}

func TestCreatePostRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	target := newTestTarget(2)
	_, err := target.CreatePost(context.Background(), testProfile(srv.URL), PostRequest{Title: "t", Body: "b"})
	var pubErr *domain.PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected PublishError, got %v", err)
	}
	if !pubErr.Retryable {
		t.Fatal("expected retryable error")
	}
	if calls.Load() != 3 {
		t.Fatalf("attempts = %d, want 3 (initial + 2 retries)", calls.Load())
	}
}

func TestCreatePostMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	target := newTestTarget(0)
	_, err := target.CreatePost(context.Background(), testProfile(srv.URL), PostRequest{Title: "t", Body: "b"})
	var pubErr *domain.PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected PublishError, got %v", err)
	}
	if pubErr.Retryable {
		t.Fatal("malformed success body must not be retried")
	}
}
