package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryReadStore is an in-memory read model store: JSON documents grouped
// by collection.
type MemoryReadStore struct {
	mu   sync.RWMutex
	data map[string]map[string]json.RawMessage // collection -> id -> doc
}

func NewMemoryReadStore() *MemoryReadStore {
	return &MemoryReadStore{data: make(map[string]map[string]json.RawMessage)}
}

func (rs *MemoryReadStore) Set(ctx context.Context, collection, id string, doc any) error {
	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal read model %s/%s: %w", collection, id, err)
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.data[collection] == nil {
		rs.data[collection] = make(map[string]json.RawMessage)
	}
	rs.data[collection][id] = encoded
	return nil
}

func (rs *MemoryReadStore) Get(ctx context.Context, collection, id string, out any) (bool, error) {
	rs.mu.RLock()
	doc, ok := rs.data[collection][id]
	rs.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(doc, out); err != nil {
		return false, fmt.Errorf("unmarshal read model %s/%s: %w", collection, id, err)
	}
	return true, nil
}

func (rs *MemoryReadStore) Delete(ctx context.Context, collection, id string) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.data[collection] != nil {
		delete(rs.data[collection], id)
	}
	return nil
}

func (rs *MemoryReadStore) Clear(ctx context.Context, collection string) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	delete(rs.data, collection)
	return nil
}

func (rs *MemoryReadStore) List(ctx context.Context, collection string) ([]json.RawMessage, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	docs := make([]json.RawMessage, 0, len(rs.data[collection]))
	for _, doc := range rs.data[collection] {
		docs = append(docs, doc)
	}
	return docs, nil
}
