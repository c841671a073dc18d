package reminder

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrStateNotFound = errors.New("reminder state not found")

// Repository persists reminder states so a restart never re-fires a stage
// that was already sent or suppressed.
type Repository interface {
	SaveState(ctx context.Context, st State) error
	GetState(ctx context.Context, appointmentID uuid.UUID) (State, error)
	ListStates(ctx context.Context) ([]State, error)
}

type MemoryRepository struct {
	mu     sync.RWMutex
	states map[uuid.UUID]State
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{states: make(map[uuid.UUID]State)}
}

// SaveState stores a deep copy so later mutation of the caller's stage map
// never leaks into the repository.
func (r *MemoryRepository) SaveState(_ context.Context, st State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[st.AppointmentID] = st.clone()
	return nil
}

func (r *MemoryRepository) GetState(_ context.Context, appointmentID uuid.UUID) (State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[appointmentID]
	if !ok {
		return State{}, ErrStateNotFound
	}
	return st.clone(), nil
}

func (r *MemoryRepository) ListStates(_ context.Context) ([]State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]State, 0, len(r.states))
	for _, st := range r.states {
		out = append(out, st.clone())
	}
	return out, nil
}
