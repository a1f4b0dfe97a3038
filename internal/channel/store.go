package channel

import "context"

// StoredState is one persisted countersigned channel state.
type StoredState struct {
	Pair  Pair
	State SignedState
}

// Store persists the newest agreed state of each channel so a restart
// (or a watchtower) can still challenge with it.
type Store interface {
	Save(ctx context.Context, state StoredState) error
	Latest(ctx context.Context, channelID [32]byte) (*StoredState, error)
	List(ctx context.Context) ([]StoredState, error)
	Close() error
}
