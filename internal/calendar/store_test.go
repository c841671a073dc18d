package calendar

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, Doctor, []Slot) {
	t.Helper()

	st := NewStore(30 * time.Second)
	doc := Doctor{ID: uuid.New(), Name: "Dr. Reyes", Specialty: "Cardiology"}
	st.AddDoctor(doc)

	day := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)
	slots := make([]Slot, 0, 6)
	for i := 0; i < 6; i++ {
		slots = append(slots, Slot{
			ID:        uuid.New(),
			StartTime: day.Add(time.Duration(i) * 30 * time.Minute),
			Duration:  30 * time.Minute,
		})
	}
	require.NoError(t, st.AddSlots(doc.ID, slots))
	return st, doc, slots
}

func TestAddSlotsRejectsOverlap(t *testing.T) {
	st, doc, slots := newTestStore(t)

	overlap := Slot{
		StartTime: slots[0].StartTime.Add(15 * time.Minute),
		Duration:  30 * time.Minute,
	}
	err := st.AddSlots(doc.ID, []Slot{overlap})
	assert.ErrorIs(t, err, ErrSlotOverlap)
}

func TestAddSlotsBatchIsAllOrNothing(t *testing.T) {
	st, doc, slots := newTestStore(t)

	valid := Slot{
		ID:        uuid.New(),
		StartTime: slots[5].StartTime.Add(time.Hour),
		Duration:  30 * time.Minute,
	}
	overlap := Slot{
		StartTime: slots[0].StartTime.Add(15 * time.Minute),
		Duration:  30 * time.Minute,
	}
	err := st.AddSlots(doc.ID, []Slot{valid, overlap})
	require.ErrorIs(t, err, ErrSlotOverlap)

	// The valid slot from the rejected batch must not have landed anywhere:
	// not listed, not holdable.
	listed, err := st.ListSlots(doc.ID, valid.StartTime, valid.StartTime.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, listed)
	_, err = st.TryHold(valid.ID, valid.StartTime.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrSlotNotFound)

	// A clash between two slots of the same batch is rejected too.
	a := Slot{StartTime: slots[5].StartTime.Add(2 * time.Hour), Duration: 30 * time.Minute}
	b := Slot{StartTime: a.StartTime.Add(15 * time.Minute), Duration: 30 * time.Minute}
	assert.ErrorIs(t, st.AddSlots(doc.ID, []Slot{a, b}), ErrSlotOverlap)
}

func TestHoldCommitLifecycle(t *testing.T) {
	st, _, slots := newTestStore(t)
	now := slots[0].StartTime.Add(-time.Hour)

	token, err := st.TryHold(slots[0].ID, now)
	require.NoError(t, err)

	s, err := st.GetSlot(slots[0].ID)
	require.NoError(t, err)
	assert.Equal(t, SlotHeld, s.Status)

	// Second hold on the same slot fails while the first is live.
	_, err = st.TryHold(slots[0].ID, now)
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	require.NoError(t, st.Commit(token, now.Add(time.Second)))

	s, err = st.GetSlot(slots[0].ID)
	require.NoError(t, err)
	assert.Equal(t, SlotBooked, s.Status)

	// Committing again with the consumed token fails.
	assert.ErrorIs(t, st.Commit(token, now), ErrSlotUnavailable)
}

func TestCommitExpiredHoldFails(t *testing.T) {
	st, _, slots := newTestStore(t)
	now := slots[0].StartTime.Add(-time.Hour)

	token, err := st.TryHold(slots[0].ID, now)
	require.NoError(t, err)

	late := now.Add(time.Minute)
	assert.ErrorIs(t, st.Commit(token, late), ErrSlotUnavailable)
}

func TestExpiredHoldReopensForNextCaller(t *testing.T) {
	st, _, slots := newTestStore(t)
	now := slots[0].StartTime.Add(-time.Hour)

	_, err := st.TryHold(slots[0].ID, now)
	require.NoError(t, err)

	// After the deadline passes a new caller can take the slot.
	later := now.Add(time.Minute)
	token, err := st.TryHold(slots[0].ID, later)
	require.NoError(t, err)
	require.NoError(t, st.Commit(token, later))
}

func TestExpireHoldsSweep(t *testing.T) {
	st, _, slots := newTestStore(t)
	now := slots[0].StartTime.Add(-time.Hour)

	_, err := st.TryHold(slots[0].ID, now)
	require.NoError(t, err)
	_, err = st.TryHold(slots[1].ID, now)
	require.NoError(t, err)

	assert.Equal(t, 0, st.ExpireHolds(now.Add(10*time.Second)))
	assert.Equal(t, 2, st.ExpireHolds(now.Add(time.Minute)))

	s, err := st.GetSlot(slots[0].ID)
	require.NoError(t, err)
	assert.Equal(t, SlotOpen, s.Status)
}

func TestReleaseIsIdempotent(t *testing.T) {
	st, _, slots := newTestStore(t)
	now := slots[0].StartTime.Add(-time.Hour)

	token, err := st.TryHold(slots[0].ID, now)
	require.NoError(t, err)
	require.NoError(t, st.Commit(token, now))

	require.NoError(t, st.Release(slots[0].ID))
	require.NoError(t, st.Release(slots[0].ID))

	s, err := st.GetSlot(slots[0].ID)
	require.NoError(t, err)
	assert.Equal(t, SlotOpen, s.Status)
}

func TestBlockedSlotStaysBlocked(t *testing.T) {
	st, _, slots := newTestStore(t)

	require.NoError(t, st.Block(slots[2].ID))

	_, err := st.TryHold(slots[2].ID, slots[2].StartTime.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	// Release does not unblock.
	require.NoError(t, st.Release(slots[2].ID))
	s, err := st.GetSlot(slots[2].ID)
	require.NoError(t, err)
	assert.Equal(t, SlotBlocked, s.Status)

	require.NoError(t, st.Unblock(slots[2].ID))
	s, err = st.GetSlot(slots[2].ID)
	require.NoError(t, err)
	assert.Equal(t, SlotOpen, s.Status)
}

func TestConcurrentTryHoldSingleWinner(t *testing.T) {
	st, _, slots := newTestStore(t)
	now := slots[0].StartTime.Add(-time.Hour)

	const callers = 50
	var wg sync.WaitGroup
	wins := make(chan HoldToken, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if token, err := st.TryHold(slots[0].ID, now); err == nil {
				wins <- token
			}
		}()
	}
	wg.Wait()
	close(wins)

	var tokens []HoldToken
	for tok := range wins {
		tokens = append(tokens, tok)
	}
	require.Len(t, tokens, 1, "exactly one caller must win the hold")
	require.NoError(t, st.Commit(tokens[0], now))
}

func TestBookedOverlappingNeverExceedsOne(t *testing.T) {
	st, doc, slots := newTestStore(t)
	now := slots[0].StartTime.Add(-time.Hour)

	for _, s := range slots[:3] {
		token, err := st.TryHold(s.ID, now)
		require.NoError(t, err)
		require.NoError(t, st.Commit(token, now))
	}

	for _, s := range slots[:3] {
		n, err := st.BookedOverlapping(doc.ID, s.StartTime.Add(10*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}
}

func TestRestoreBooked(t *testing.T) {
	st, doc, slots := newTestStore(t)

	ids, err := st.RestoreBooked(doc.ID, slots[1].StartTime, 60)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{slots[1].ID, slots[2].ID}, ids)

	for _, id := range ids {
		s, err := st.GetSlot(id)
		require.NoError(t, err)
		assert.Equal(t, SlotBooked, s.Status)
	}

	// The covered run is no longer restorable.
	_, err = st.RestoreBooked(doc.ID, slots[1].StartTime, 60)
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestRestoreBookedGapFails(t *testing.T) {
	st := NewStore(30 * time.Second)
	doc := Doctor{ID: uuid.New(), Name: "Dr. Okafor"}
	st.AddDoctor(doc)

	day := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)
	// 9:00 and 10:00 with a gap at 9:30.
	require.NoError(t, st.AddSlots(doc.ID, []Slot{
		{StartTime: day, Duration: 30 * time.Minute},
		{StartTime: day.Add(time.Hour), Duration: 30 * time.Minute},
	}))

	_, err := st.RestoreBooked(doc.ID, day, 60)
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestListSlotsWindow(t *testing.T) {
	st, doc, slots := newTestStore(t)

	out, err := st.ListSlots(doc.ID, slots[1].StartTime, slots[4].StartTime)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, slots[1].StartTime, out[0].StartTime)
	assert.True(t, out[0].StartTime.Before(out[1].StartTime))
	assert.True(t, out[1].StartTime.Before(out[2].StartTime))
}
