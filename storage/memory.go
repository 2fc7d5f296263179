package storage

import (
	"context"
	"sync"
)

// MemoryStore is a sync.Map-backed Store for tests and single-process
// deployments that don't need to survive a restart.
type MemoryStore struct {
	sessions sync.Map
	replays  sync.Map
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) SaveSession(ctx context.Context, id string, blob []byte) error {
	cp := append([]byte(nil), blob...)
	m.sessions.Store(id, cp)
	return nil
}

func (m *MemoryStore) LoadSession(ctx context.Context, id string) ([]byte, error) {
	v, ok := m.sessions.Load(id)
	if !ok {
		return nil, &ErrNotFound{Key: "session:" + id}
	}
	return v.([]byte), nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	m.sessions.Delete(id)
	return nil
}

func (m *MemoryStore) SaveReplay(ctx context.Context, id string, blob []byte) error {
	cp := append([]byte(nil), blob...)
	m.replays.Store(id, cp)
	return nil
}

func (m *MemoryStore) LoadReplay(ctx context.Context, id string) ([]byte, error) {
	v, ok := m.replays.Load(id)
	if !ok {
		return nil, &ErrNotFound{Key: "replay:" + id}
	}
	return v.([]byte), nil
}
