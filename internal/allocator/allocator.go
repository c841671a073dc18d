// Package allocator finds and claims slot runs on top of the calendar store.
// A claim spanning several slots is all-or-nothing: either every covered slot
// is held and committed together, or none stays held.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/scheduling/internal/calendar"
)

var (
	ErrSlotUnavailable        = errors.New("slot unavailable")
	ErrInsufficientContiguity = errors.New("no contiguous slot run covers the requested duration")
)

const (
	claimAttempts = 3
	claimBackoff  = 25 * time.Millisecond
)

type Query struct {
	DoctorID        *uuid.UUID
	Specialty       string
	From            time.Time
	To              time.Time
	DurationMinutes int
}

// Candidate is one bookable run of contiguous open slots.
type Candidate struct {
	DoctorID        uuid.UUID
	StartTime       time.Time
	DurationMinutes int
	SlotIDs         []uuid.UUID
}

// Reservation holds every slot of a claimed run until committed or released.
type Reservation struct {
	DoctorID        uuid.UUID
	StartTime       time.Time
	DurationMinutes int
	SlotIDs         []uuid.UUID
	tokens          []calendar.HoldToken
}

type Allocator struct {
	store *calendar.Store
}

func New(store *calendar.Store) *Allocator {
	return &Allocator{store: store}
}

// FindCandidates returns every run of contiguous open slots matching the
// query, ordered by (start time ascending, doctor ID ascending). The ordering
// is deterministic so repeated searches over unchanged state are reproducible.
func (a *Allocator) FindCandidates(q Query) ([]Candidate, error) {
	if q.DurationMinutes <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %d", q.DurationMinutes)
	}

	doctors := a.store.ListDoctors()
	var out []Candidate

	for _, d := range doctors {
		if q.DoctorID != nil && d.ID != *q.DoctorID {
			continue
		}
		if q.Specialty != "" && d.Specialty != q.Specialty {
			continue
		}

		slots, err := a.store.ListSlots(d.ID, q.From, q.To)
		if err != nil {
			return nil, fmt.Errorf("list slots for doctor %s: %w", d.ID, err)
		}
		out = append(out, runsOf(d.ID, slots, q.DurationMinutes)...)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].DoctorID.String() < out[j].DoctorID.String()
	})
	return out, nil
}

// runsOf scans a doctor's ordered slot snapshot for open contiguous runs long
// enough to cover the duration. Every open slot that can start such a run
// yields one candidate.
func runsOf(doctorID uuid.UUID, slots []calendar.Slot, minutes int) []Candidate {
	need := time.Duration(minutes) * time.Minute
	var out []Candidate

	for i := range slots {
		if slots[i].Status != calendar.SlotOpen {
			continue
		}

		covered := time.Duration(0)
		ids := make([]uuid.UUID, 0, 4)
		cursor := slots[i].StartTime

		for j := i; j < len(slots) && covered < need; j++ {
			if slots[j].Status != calendar.SlotOpen || !slots[j].StartTime.Equal(cursor) {
				break
			}
			ids = append(ids, slots[j].ID)
			covered += slots[j].Duration
			cursor = slots[j].EndTime()
		}

		if covered >= need {
			out = append(out, Candidate{
				DoctorID:        doctorID,
				StartTime:       slots[i].StartTime,
				DurationMinutes: minutes,
				SlotIDs:         ids,
			})
		}
	}
	return out
}

// Claim holds every slot covering [start, start+minutes) on the doctor's
// schedule. Contention on any covered slot releases the partial holds and
// retries with backoff before surfacing ErrSlotUnavailable.
func (a *Allocator) Claim(ctx context.Context, doctorID uuid.UUID, start time.Time, minutes int, now time.Time) (*Reservation, error) {
	var lastErr error

	for attempt := 0; attempt < claimAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(claimBackoff * time.Duration(attempt)):
			}
		}

		res, err := a.claimOnce(doctorID, start, minutes, now)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrSlotUnavailable) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (a *Allocator) claimOnce(doctorID uuid.UUID, start time.Time, minutes int, now time.Time) (*Reservation, error) {
	need := time.Duration(minutes) * time.Minute
	slots, err := a.store.ListSlots(doctorID, start, start.Add(need))
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}

	run, err := coveringRun(slots, start, need)
	if err != nil {
		return nil, err
	}

	tokens := make([]calendar.HoldToken, 0, len(run))
	ids := make([]uuid.UUID, 0, len(run))
	for _, s := range run {
		token, err := a.store.TryHold(s.ID, now)
		if err != nil {
			for _, held := range tokens {
				_ = a.store.Release(held.SlotID)
			}
			if errors.Is(err, calendar.ErrSlotUnavailable) {
				return nil, ErrSlotUnavailable
			}
			return nil, fmt.Errorf("hold slot %s: %w", s.ID, err)
		}
		tokens = append(tokens, token)
		ids = append(ids, s.ID)
	}

	return &Reservation{
		DoctorID:        doctorID,
		StartTime:       start,
		DurationMinutes: minutes,
		SlotIDs:         ids,
		tokens:          tokens,
	}, nil
}

// coveringRun picks the slots that exactly tile [start, start+need): the
// first slot starts at start and each next slot begins where the previous
// ended. A gap or a missing slot means the duration cannot be satisfied here.
func coveringRun(slots []calendar.Slot, start time.Time, need time.Duration) ([]calendar.Slot, error) {
	cursor := start
	covered := time.Duration(0)
	var run []calendar.Slot

	for _, s := range slots {
		if !s.StartTime.Equal(cursor) {
			continue
		}
		run = append(run, s)
		covered += s.Duration
		cursor = s.EndTime()
		if covered >= need {
			return run, nil
		}
	}
	return nil, ErrInsufficientContiguity
}

// Commit books every held slot in the reservation. A hold that expired before
// commit fails the whole reservation and releases whatever was booked so far.
func (a *Allocator) Commit(r *Reservation, now time.Time) error {
	for i, token := range r.tokens {
		if err := a.store.Commit(token, now); err != nil {
			for j := 0; j < i; j++ {
				_ = a.store.Release(r.tokens[j].SlotID)
			}
			for j := i; j < len(r.tokens); j++ {
				_ = a.store.Release(r.tokens[j].SlotID)
			}
			if errors.Is(err, calendar.ErrSlotUnavailable) {
				return ErrSlotUnavailable
			}
			return fmt.Errorf("commit slot %s: %w", token.SlotID, err)
		}
	}
	return nil
}

// Release frees every slot in the reservation. Idempotent and always
// succeeds; unknown slots are skipped.
func (a *Allocator) Release(r *Reservation) {
	if r == nil {
		return
	}
	for _, id := range r.SlotIDs {
		_ = a.store.Release(id)
	}
}

// ReleaseSlots frees a booked slot set by ID, for appointments reloaded from
// persistence where no in-memory reservation exists.
func (a *Allocator) ReleaseSlots(ids []uuid.UUID) {
	for _, id := range ids {
		_ = a.store.Release(id)
	}
}
