package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestWithAppointmentLockExclusive(t *testing.T) {
	client := testClient(t)
	locker := NewRedisLocker(client, 5*time.Second)
	apptID := uuid.New()

	inner := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- locker.WithAppointmentLock(context.Background(), apptID, func(ctx context.Context) error {
			close(inner)
			<-release
			return nil
		})
	}()

	<-inner

	// A second caller fails fast while the lock is held.
	err := locker.WithAppointmentLock(context.Background(), apptID, func(ctx context.Context) error {
		t.Fatal("must not run under a held lock")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	close(release)
	require.NoError(t, <-done)

	// Released: the next caller acquires it.
	ran := false
	require.NoError(t, locker.WithAppointmentLock(context.Background(), apptID, func(ctx context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestWithAppointmentLockDifferentAppointments(t *testing.T) {
	client := testClient(t)
	locker := NewRedisLocker(client, 5*time.Second)

	first := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- locker.WithAppointmentLock(context.Background(), uuid.New(), func(ctx context.Context) error {
			close(first)
			<-release
			return nil
		})
	}()

	<-first

	// Locks are per appointment, not global.
	require.NoError(t, locker.WithAppointmentLock(context.Background(), uuid.New(), func(ctx context.Context) error {
		return nil
	}))

	close(release)
	require.NoError(t, <-done)
}

func TestWithAppointmentLockPropagatesError(t *testing.T) {
	client := testClient(t)
	locker := NewRedisLocker(client, 5*time.Second)

	sentinel := errors.New("inner failure")
	err := locker.WithAppointmentLock(context.Background(), uuid.New(), func(ctx context.Context) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}

func TestLocalLockerSerializes(t *testing.T) {
	locker := NewLocalLocker()
	apptID := uuid.New()

	counter := 0
	done := make(chan struct{}, 10)
	for i := 0; i < 10; i++ {
		go func() {
			_ = locker.WithAppointmentLock(context.Background(), apptID, func(ctx context.Context) error {
				counter++
				return nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	assert.Equal(t, 10, counter)
}
