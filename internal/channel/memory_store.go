package channel

import (
	"context"
	"sync"

	xerrors "github.com/JaroAI777/synaps1/internal/errors"
)

// MemoryStore keeps signed states in memory, mainly for tests and
// short-lived clients.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[[32]byte]StoredState
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[[32]byte]StoredState)}
}

// Save keeps the state when it is newer than the stored one.
func (m *MemoryStore) Save(_ context.Context, state StoredState) error {
	if err := state.State.State.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := state.State.State.ChannelID
	if existing, ok := m.states[id]; ok && existing.State.State.Nonce >= state.State.State.Nonce {
		return nil
	}
	m.states[id] = StoredState{Pair: state.Pair, State: state.State.Clone()}
	return nil
}

// Latest returns the stored state for channelID.
func (m *MemoryStore) Latest(_ context.Context, channelID [32]byte) (*StoredState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[channelID]
	if !ok {
		return nil, xerrors.New(xerrors.CodeChannelNotFound, "no stored state for channel",
			xerrors.WithMetadata("channel_id", channelIDHex(channelID)))
	}
	clone := StoredState{Pair: state.Pair, State: state.State.Clone()}
	return &clone, nil
}

// List returns every stored state.
func (m *MemoryStore) List(_ context.Context) ([]StoredState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]StoredState, 0, len(m.states))
	for _, state := range m.states {
		out = append(out, StoredState{Pair: state.Pair, State: state.State.Clone()})
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
