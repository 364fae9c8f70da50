package docstore

import (
	"context"
	"encoding/json"
)

// Doc is one stored document as returned by List.
type Doc struct {
	Key  string
	Data json.RawMessage
}

// Tx is the view of the store inside an Update transaction. Get and Put
// operate on the same snapshot; all writes land atomically on commit.
type Tx interface {
	Get(key string, dest any) error
	Put(key string, v any) error
	Delete(key string) error
}

// Unmarshal decodes a listed document into dest.
func Unmarshal(d Doc, dest any) error {
	return json.Unmarshal(d.Data, dest)
}

// Store is the persistence contract the core depends on: per-document
// reads and writes plus an optimistic, serializable read-modify-write
// over a bounded set of documents. Implementations retry Update a
// bounded number of times on write-write conflict before giving up.
type Store interface {
	Get(ctx context.Context, key string, dest any) error
	Put(ctx context.Context, key string, v any) error
	List(ctx context.Context, prefix string) ([]Doc, error)
	Update(ctx context.Context, fn func(tx Tx) error) error
}
