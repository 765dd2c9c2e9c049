package authority

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/park285/boardroom/pkg/wire"
)

// Store keeps live room state. Update must apply fn atomically: when fn
// returns an error nothing is written and the error is returned as is.
type Store interface {
	Get(ctx context.Context, key string) (*wire.GameState, error)
	// Create stores st unless key already exists; it returns the stored state.
	Create(ctx context.Context, key string, st *wire.GameState) (*wire.GameState, error)
	Update(ctx context.Context, key string, fn func(st *wire.GameState) error) (*wire.GameState, error)
	Delete(ctx context.Context, key string) error
}

// MemoryStore is the single-process store used when no REDIS_URL is set.
// States are kept as JSON so callers never share pointers with the store.
type MemoryStore struct {
	mu    sync.Mutex
	rooms map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*wire.GameState, error) {
	m.mu.Lock()
	raw, ok := m.rooms[key]
	m.mu.Unlock()
	if !ok {
		return nil, ErrRoomNotFound
	}
	return decodeState(raw)
}

func (m *MemoryStore) Create(_ context.Context, key string, st *wire.GameState) (*wire.GameState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if raw, ok := m.rooms[key]; ok {
		return decodeState(raw)
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	m.rooms[key] = raw
	return decodeState(raw)
}

func (m *MemoryStore) Update(_ context.Context, key string, fn func(st *wire.GameState) error) (*wire.GameState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.rooms[key]
	if !ok {
		return nil, ErrRoomNotFound
	}
	cur, err := decodeState(raw)
	if err != nil {
		return nil, err
	}
	if err := fn(cur); err != nil {
		return nil, err
	}
	next, err := json.Marshal(cur)
	if err != nil {
		return nil, err
	}
	m.rooms[key] = next
	return cur, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.rooms, key)
	m.mu.Unlock()
	return nil
}

func decodeState(raw []byte) (*wire.GameState, error) {
	var st wire.GameState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
