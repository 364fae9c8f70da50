package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"pressroom/internal/domain"
)

// Schema creates the single document table the store needs.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
    key        TEXT PRIMARY KEY,
    data       JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// txMaxAttempts bounds how often Update is retried on serialization
// conflict before surfacing as ErrServiceUnavailable.
const txMaxAttempts = 5

// Postgres implements Store on top of a pgx pool. Documents live in a
// single jsonb table; Update runs at serializable isolation and retries
// on write-write conflict.
type Postgres struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgres creates a Postgres-backed document store.
func NewPostgres(pool *pgxpool.Pool, logger zerolog.Logger) *Postgres {
	return &Postgres{pool: pool, logger: logger}
}

// EnsureSchema creates the documents table if it does not exist yet.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func (s *Postgres) Get(ctx context.Context, key string, dest any) error {
	row := s.pool.QueryRow(ctx, `SELECT data FROM documents WHERE key = $1`, key)
	return scanDoc(row, dest)
}

func (s *Postgres) Put(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO documents (key, data) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`, key, raw)
	return err
}

func (s *Postgres) List(ctx context.Context, prefix string) ([]Doc, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, data FROM documents WHERE key LIKE $1 ORDER BY key`, escapeLikePrefix(prefix)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Doc
	for rows.Next() {
		var d Doc
		var raw []byte
		if err := rows.Scan(&d.Key, &raw); err != nil {
			return nil, err
		}
		d.Data = json.RawMessage(raw)
		out = append(out, d)
	}
	return out, rows.Err()
}

// Update runs fn inside a serializable transaction. The external publish
// call never happens inside fn; transactions stay short and conflict
// retries are immediate.
func (s *Postgres) Update(ctx context.Context, fn func(tx Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= txMaxAttempts; attempt++ {
		err := s.updateOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isSerializationFailure(err) {
			return err
		}
		lastErr = err
		s.logger.Debug().Int("attempt", attempt).Err(err).Msg("docstore: tx conflict, retrying")
	}
	return fmt.Errorf("%w: transaction conflict after %d attempts: %v", domain.ErrServiceUnavailable, txMaxAttempts, lastErr)
}

func (s *Postgres) updateOnce(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	ctx context.Context
	tx  pgx.Tx
}

func (t *pgTx) Get(key string, dest any) error {
	row := t.tx.QueryRow(t.ctx, `SELECT data FROM documents WHERE key = $1`, key)
	return scanDoc(row, dest)
}

func (t *pgTx) Put(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(t.ctx, `
INSERT INTO documents (key, data) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`, key, raw)
	return err
}

func (t *pgTx) Delete(key string) error {
	_, err := t.tx.Exec(t.ctx, `DELETE FROM documents WHERE key = $1`, key)
	return err
}

// escapeLikePrefix escapes LIKE metacharacters so a prefix containing `_`
// or `%` (user-supplied IDs end up in keys) matches literally, exactly as
// the memory store's prefix match does.
func escapeLikePrefix(prefix string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
}

func scanDoc(row pgx.Row, dest any) error {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return err
	}
	return json.Unmarshal(raw, dest)
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// serialization_failure and deadlock_detected
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

var _ Store = (*Postgres)(nil)
