package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"pressroom/internal/domain"
)

// Postgres delivers progress events over LISTEN/NOTIFY so dashboards and
// the tail CLI can watch runs without polling the store.
type Postgres struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewPostgres opens a lib/pq connection for pg_notify delivery.
func NewPostgres(connectURL string, logger zerolog.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", connectURL)
	if err != nil {
		return nil, fmt.Errorf("open notify connection: %w", err)
	}
	return &Postgres{db: db, logger: logger}, nil
}

// Emit publishes the event payload on the channel. Payloads are small
// JSON documents well under the NOTIFY size limit.
func (p *Postgres) Emit(ctx context.Context, channel string, event domain.ProgressEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	// Safe because pq.QuoteLiteral quotes the channel name; pg_notify does
	// not accept a parameter in that position.
	_, err = p.db.ExecContext(ctx, `SELECT pg_notify(`+pq.QuoteLiteral(channel)+`, $1)`, string(payload))
	if err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

// Close releases the notify connection.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Listen subscribes to a channel and invokes handler for every event
// until ctx is cancelled. Malformed payloads are logged and dropped.
func Listen(ctx context.Context, connectURL, channel string, logger zerolog.Logger, handler func(domain.ProgressEvent)) error {
	listener := pq.NewListener(connectURL, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn().Err(err).Msg("notify: listener event")
		}
	})
	defer listener.Close()

	if err := listener.Listen(channel); err != nil && !errors.Is(err, pq.ErrChannelAlreadyOpen) {
		return fmt.Errorf("listen %s: %w", channel, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case notification, ok := <-listener.Notify:
			if !ok {
				return nil
			}
			if notification == nil {
				// nil notification means the connection was re-established.
				continue
			}
			var event domain.ProgressEvent
			if err := json.Unmarshal([]byte(notification.Extra), &event); err != nil {
				logger.Warn().Err(err).Msg("notify: dropping malformed event")
				continue
			}
			handler(event)
		}
	}
}

var _ Notifier = (*Postgres)(nil)
