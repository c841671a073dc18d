package allocator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/scheduling/internal/calendar"
)

func gridStore(t *testing.T, doctors int) (*calendar.Store, []calendar.Doctor) {
	t.Helper()

	st := calendar.NewStore(30 * time.Second)
	day := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)

	out := make([]calendar.Doctor, 0, doctors)
	for i := 0; i < doctors; i++ {
		d := calendar.Doctor{ID: uuid.New(), Name: "Dr. Test", Specialty: "Cardiology"}
		st.AddDoctor(d)
		out = append(out, d)

		slots := make([]calendar.Slot, 0, 8)
		for j := 0; j < 8; j++ {
			slots = append(slots, calendar.Slot{
				StartTime: day.Add(time.Duration(j) * 30 * time.Minute),
				Duration:  30 * time.Minute,
			})
		}
		require.NoError(t, st.AddSlots(d.ID, slots))
	}
	return st, out
}

func TestFindCandidatesOrdering(t *testing.T) {
	st, _ := gridStore(t, 3)
	a := New(st)

	day := time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)
	cands, err := a.FindCandidates(Query{From: day, To: day.Add(24 * time.Hour), DurationMinutes: 30})
	require.NoError(t, err)
	require.NotEmpty(t, cands)

	// 3 doctors x 8 open slots, every slot starts a 30 minute run.
	assert.Len(t, cands, 24)

	for i := 1; i < len(cands); i++ {
		prev, cur := cands[i-1], cands[i]
		if prev.StartTime.Equal(cur.StartTime) {
			assert.Less(t, prev.DoctorID.String(), cur.DoctorID.String())
		} else {
			assert.True(t, prev.StartTime.Before(cur.StartTime))
		}
	}
}

func TestFindCandidatesContiguity(t *testing.T) {
	st, docs := gridStore(t, 1)
	a := New(st)

	day := time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)

	// 90 minutes needs 3 contiguous slots; 8 slots allow 6 starts.
	cands, err := a.FindCandidates(Query{From: day, To: day.Add(24 * time.Hour), DurationMinutes: 90})
	require.NoError(t, err)
	assert.Len(t, cands, 6)
	for _, c := range cands {
		assert.Len(t, c.SlotIDs, 3)
	}

	// Booking the middle of the day splits the runs.
	now := day
	res, err := a.Claim(context.Background(), docs[0].ID, day.Add(9*time.Hour+90*time.Minute), 30, now)
	require.NoError(t, err)
	require.NoError(t, a.Commit(res, now))

	cands, err = a.FindCandidates(Query{From: day, To: day.Add(24 * time.Hour), DurationMinutes: 90})
	require.NoError(t, err)
	// Remaining open runs are 3 slots before and 4 after the booked one.
	assert.Len(t, cands, 3)
}

func TestFindCandidatesSpecialtyFilter(t *testing.T) {
	st, _ := gridStore(t, 2)
	d := calendar.Doctor{ID: uuid.New(), Name: "Dr. Skin", Specialty: "Dermatology"}
	st.AddDoctor(d)
	day := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.AddSlots(d.ID, []calendar.Slot{{StartTime: day, Duration: 30 * time.Minute}}))

	a := New(st)
	cands, err := a.FindCandidates(Query{
		Specialty:       "Dermatology",
		From:            day.Add(-time.Hour),
		To:              day.Add(24 * time.Hour),
		DurationMinutes: 30,
	})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, d.ID, cands[0].DoctorID)
}

func TestClaimCommitMultiSlot(t *testing.T) {
	st, docs := gridStore(t, 1)
	a := New(st)

	day := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)
	now := day.Add(-time.Hour)

	res, err := a.Claim(context.Background(), docs[0].ID, day, 60, now)
	require.NoError(t, err)
	require.Len(t, res.SlotIDs, 2)

	require.NoError(t, a.Commit(res, now))

	for _, id := range res.SlotIDs {
		s, err := st.GetSlot(id)
		require.NoError(t, err)
		assert.Equal(t, calendar.SlotBooked, s.Status)
	}
}

func TestClaimAllOrNothing(t *testing.T) {
	st, docs := gridStore(t, 1)
	a := New(st)

	day := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)
	now := day.Add(-time.Hour)

	// Book the second slot so a 60 minute claim starting at 9:00 cannot
	// complete.
	res, err := a.Claim(context.Background(), docs[0].ID, day.Add(30*time.Minute), 30, now)
	require.NoError(t, err)
	require.NoError(t, a.Commit(res, now))

	_, err = a.Claim(context.Background(), docs[0].ID, day, 60, now)
	require.Error(t, err)

	// The 9:00 slot must not be left held.
	slots, err := st.ListSlots(docs[0].ID, day, day.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, calendar.SlotOpen, slots[0].Status)
}

func TestConcurrentClaimSingleWinner(t *testing.T) {
	st, docs := gridStore(t, 1)
	a := New(st)

	day := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)
	now := day.Add(-time.Hour)

	const callers = 20
	var wg sync.WaitGroup
	wins := make(chan *Reservation, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res, err := a.claimOnce(docs[0].ID, day, 60, now); err == nil {
				wins <- res
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []*Reservation
	for res := range wins {
		winners = append(winners, res)
	}
	require.Len(t, winners, 1, "exactly one claim must win the run")
	require.NoError(t, a.Commit(winners[0], now))

	n, err := st.BookedOverlapping(docs[0].ID, day.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReleaseReopensRun(t *testing.T) {
	st, docs := gridStore(t, 1)
	a := New(st)

	day := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)
	now := day.Add(-time.Hour)

	res, err := a.Claim(context.Background(), docs[0].ID, day, 90, now)
	require.NoError(t, err)
	a.Release(res)

	// The run is claimable again.
	res, err = a.Claim(context.Background(), docs[0].ID, day, 90, now)
	require.NoError(t, err)
	require.NoError(t, a.Commit(res, now))
}

func TestClaimRespectsContextCancel(t *testing.T) {
	st, docs := gridStore(t, 1)
	a := New(st)

	day := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)
	now := day.Add(-time.Hour)

	// Hold the slot so retries are needed, then cancel.
	_, err := st.TryHold(mustFirstSlot(t, st, docs[0].ID, day), now)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = a.Claim(ctx, docs[0].ID, day, 30, now)
	assert.ErrorIs(t, err, context.Canceled)
}

func mustFirstSlot(t *testing.T, st *calendar.Store, doctorID uuid.UUID, at time.Time) uuid.UUID {
	t.Helper()
	slots, err := st.ListSlots(doctorID, at, at.Add(30*time.Minute))
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	return slots[0].ID
}
