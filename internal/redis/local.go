package redisclient

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type localLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewLocalLocker creates an in-process locker for tests and single-node
// deployments. Unlike the Redis locker it blocks instead of failing fast,
// which is acceptable when all callers share one process.
func NewLocalLocker() Locker {
	return &localLocker{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *localLocker) WithAppointmentLock(ctx context.Context, appointmentID uuid.UUID, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[appointmentID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[appointmentID] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()

	return fn(ctx)
}
