package docstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"pressroom/internal/domain"
)

// Memory is an in-memory Store implementation. It is an exported type so
// tests across packages can share one instance; Update transactions are
// serialized by a single mutex, which makes every transaction trivially
// serializable.
type Memory struct {
	mu   sync.Mutex
	docs map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, key string, dest any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return getDoc(m.docs, key, dest)
}

func (m *Memory) Put(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = raw
	return nil
}

func (m *Memory) List(ctx context.Context, prefix string) ([]Doc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Doc
	for key, raw := range m.docs {
		if strings.HasPrefix(key, prefix) {
			out = append(out, Doc{Key: key, Data: append(json.RawMessage(nil), raw...)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{
		docs:    m.docs,
		staged:  make(map[string][]byte),
		deleted: make(map[string]bool),
	}
	if err := fn(tx); err != nil {
		return err
	}
	for key, raw := range tx.staged {
		m.docs[key] = raw
	}
	for key := range tx.deleted {
		delete(m.docs, key)
	}
	return nil
}

type memoryTx struct {
	docs    map[string][]byte
	staged  map[string][]byte
	deleted map[string]bool
}

func (t *memoryTx) Get(key string, dest any) error {
	if t.deleted[key] {
		return domain.ErrNotFound
	}
	if raw, ok := t.staged[key]; ok {
		return json.Unmarshal(raw, dest)
	}
	return getDoc(t.docs, key, dest)
}

func (t *memoryTx) Put(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	delete(t.deleted, key)
	t.staged[key] = raw
	return nil
}

func (t *memoryTx) Delete(key string) error {
	delete(t.staged, key)
	t.deleted[key] = true
	return nil
}

func getDoc(docs map[string][]byte, key string, dest any) error {
	raw, ok := docs[key]
	if !ok {
		return domain.ErrNotFound
	}
	return json.Unmarshal(raw, dest)
}

var _ Store = (*Memory)(nil)
