package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"pressroom/internal/domain"
)

// Notifier delivers progress events to whoever is watching a run. Emit is
// fire-and-forget: the orchestrator logs failures and moves on.
type Notifier interface {
	Emit(ctx context.Context, channel string, event domain.ProgressEvent) error
}

// LogNotifier writes progress events to the service log. It is the
// fallback when no pub/sub channel is configured.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) Emit(ctx context.Context, channel string, event domain.ProgressEvent) error {
	n.Logger.Info().
		Str("channel", channel).
		Str("stage", event.Stage).
		Str("item_id", event.ItemID).
		Str("profile_id", event.ProfileID).
		Str("status", event.Status).
		Int("completed", event.Completed).
		Int("total", event.Total).
		Msg("progress")
	return nil
}

// Memory collects events per channel. It exists for tests, the same way
// the document store ships a memory sibling.
type Memory struct {
	mu     sync.Mutex
	events map[string][]domain.ProgressEvent
}

// NewMemory returns an empty in-memory notifier.
func NewMemory() *Memory {
	return &Memory{events: make(map[string][]domain.ProgressEvent)}
}

func (m *Memory) Emit(ctx context.Context, channel string, event domain.ProgressEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[channel] = append(m.events[channel], event)
	return nil
}

// Events returns a copy of everything emitted on a channel.
func (m *Memory) Events(channel string) []domain.ProgressEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ProgressEvent(nil), m.events[channel]...)
}
