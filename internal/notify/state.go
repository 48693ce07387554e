package notify

import (
	"context"
	"sync"
	"time"
)

// PersistedState is what survives a restart of the operator session.
type PersistedState struct {
	// Unread holds order ids in discovery order.
	Unread []string
	// Checkpoint is the last successfully scanned point in time. Zero when
	// nothing was stored yet.
	Checkpoint time.Time
	// Acked maps recently acknowledged ids to their creation time, so a
	// redelivery cannot raise them again.
	Acked map[string]time.Time
}

func (s PersistedState) clone() PersistedState {
	out := PersistedState{
		Unread:     append([]string(nil), s.Unread...),
		Checkpoint: s.Checkpoint,
		Acked:      make(map[string]time.Time, len(s.Acked)),
	}
	for k, v := range s.Acked {
		out.Acked[k] = v
	}
	return out
}

type StateStore interface {
	Load(ctx context.Context) (PersistedState, error)
	Save(ctx context.Context, state PersistedState) error
}

// MemoryState keeps the state in process memory; it survives Stop/Start but
// not a process restart.
type MemoryState struct {
	mu    sync.Mutex
	state PersistedState
}

func NewMemoryState() *MemoryState {
	return &MemoryState{}
}

func (m *MemoryState) Load(context.Context) (PersistedState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone(), nil
}

func (m *MemoryState) Save(_ context.Context, state PersistedState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state.clone()
	return nil
}
