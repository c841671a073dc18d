package reminder

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/clinicdesk/scheduling/internal/redis"
)

// Activity is the engine's view of an appointment at tick time.
type Activity int

const (
	// ActivityActive means the appointment is scheduled or confirmed and its
	// reminders should fire.
	ActivityActive Activity = iota
	// ActivityTerminal means the appointment is cancelled, completed or a
	// no-show; remaining stages are suppressed.
	ActivityTerminal
)

// ActivityFunc reports appointment activity. An error skips the appointment
// for this tick without affecting others.
type ActivityFunc func(ctx context.Context, appointmentID uuid.UUID) (Activity, error)

// Notifier issues the actual reminder request. Sent means requested, not
// delivered; delivery confidence belongs to the transport adapter.
type Notifier interface {
	SendStage(ctx context.Context, appointmentID uuid.UUID, stage Stage) error
}

// TickStats summarizes one tick pass for worker logging.
type TickStats struct {
	Appointments int
	Sent         int
	Suppressed   int
	Failures     int
}

// Engine drives the per-appointment reminder state machine. It owns all
// reminder state; firing is driven entirely by explicit Tick calls with a
// caller-supplied clock, never by wall-clock callbacks.
type Engine struct {
	mu     sync.Mutex
	states map[uuid.UUID]*tracked

	repo     Repository
	notifier Notifier
	activity ActivityFunc
	once     redisclient.OnceRegistry
	offsets  Offsets
}

type tracked struct {
	mu sync.Mutex
	st State
}

func NewEngine(repo Repository, notifier Notifier, activity ActivityFunc, once redisclient.OnceRegistry, offsets Offsets) *Engine {
	if once == nil {
		once = redisclient.NewLocalOnceRegistry()
	}
	if offsets == (Offsets{}) {
		offsets = DefaultOffsets()
	}
	return &Engine{
		states:   make(map[uuid.UUID]*tracked),
		repo:     repo,
		notifier: notifier,
		activity: activity,
		once:     once,
		offsets:  offsets,
	}
}

// Register creates a fresh reminder state for a booked appointment. Stages
// whose whole window already passed are suppressed immediately; a stage past
// due with its window still open stays pending and fires on the next tick.
func (e *Engine) Register(ctx context.Context, appointmentID uuid.UUID, start, now time.Time) error {
	st := e.buildState(appointmentID, start, now)

	e.mu.Lock()
	e.states[appointmentID] = &tracked{st: st}
	e.mu.Unlock()

	if err := e.repo.SaveState(ctx, st); err != nil {
		return fmt.Errorf("save reminder state: %w", err)
	}
	return nil
}

// Reset rebuilds the state against a new appointment start after a
// reschedule. All stages return to pending, recomputed for the new time.
func (e *Engine) Reset(ctx context.Context, appointmentID uuid.UUID, newStart, now time.Time) error {
	ts := e.trackedFor(appointmentID)
	if ts == nil {
		return e.Register(ctx, appointmentID, newStart, now)
	}

	ts.mu.Lock()
	ts.st = e.buildState(appointmentID, newStart, now)
	snapshot := ts.st.clone()
	ts.mu.Unlock()

	if err := e.repo.SaveState(ctx, snapshot); err != nil {
		return fmt.Errorf("save reminder state: %w", err)
	}
	return nil
}

// SuppressAll force-suppresses every remaining stage. Used on cancellation
// and on an explicit patient stop request. Terminal stages are untouched.
func (e *Engine) SuppressAll(ctx context.Context, appointmentID uuid.UUID, now time.Time) error {
	ts := e.trackedFor(appointmentID)
	if ts == nil {
		return nil
	}

	ts.mu.Lock()
	changed := suppressRemaining(&ts.st, now)
	snapshot := ts.st.clone()
	ts.mu.Unlock()

	if !changed {
		return nil
	}
	if err := e.repo.SaveState(ctx, snapshot); err != nil {
		return fmt.Errorf("save reminder state: %w", err)
	}
	return nil
}

// Resume reconciles the registry with persistence. Unknown appointments are
// loaded and a tracked state is replaced when the persisted row is newer, so
// a process sharing the table with another writer picks up reschedules and
// cancellations on its next pass. Stages already sent or suppressed stay that
// way; stale pending stages are suppressed by the next tick.
func (e *Engine) Resume(ctx context.Context) (int, error) {
	states, err := e.repo.ListStates(ctx)
	if err != nil {
		return 0, fmt.Errorf("list reminder states: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	loaded := 0
	for _, st := range states {
		ts, ok := e.states[st.AppointmentID]
		if !ok {
			e.states[st.AppointmentID] = &tracked{st: st}
			loaded++
			continue
		}
		ts.mu.Lock()
		if st.UpdatedAt.After(ts.st.UpdatedAt) {
			ts.st = st
			loaded++
		}
		ts.mu.Unlock()
	}
	return loaded, nil
}

// Snapshot returns a copy of one appointment's reminder state.
func (e *Engine) Snapshot(appointmentID uuid.UUID) (State, bool) {
	ts := e.trackedFor(appointmentID)
	if ts == nil {
		return State{}, false
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.st.clone(), true
}

// Tick runs one bounded pass over every tracked state. Evaluation is
// serialized per appointment and failures are isolated: a notifier error for
// one appointment leaves its stage due for retry and the pass continues.
func (e *Engine) Tick(ctx context.Context, now time.Time) TickStats {
	e.mu.Lock()
	list := make([]*tracked, 0, len(e.states))
	for _, ts := range e.states {
		list = append(list, ts)
	}
	e.mu.Unlock()

	var stats TickStats
	for _, ts := range list {
		e.tickOne(ctx, ts, now, &stats)
	}
	return stats
}

func (e *Engine) tickOne(ctx context.Context, ts *tracked, now time.Time, stats *TickStats) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.st.done() {
		return
	}
	stats.Appointments++

	act, err := e.activity(ctx, ts.st.AppointmentID)
	if err != nil {
		log.Printf("reminder tick: activity check failed appointment=%s: %v", ts.st.AppointmentID, err)
		stats.Failures++
		return
	}

	changed := false
	if act == ActivityTerminal {
		if suppressRemaining(&ts.st, now) {
			changed = true
			stats.Suppressed++
		}
	} else {
		changed = e.advance(ctx, &ts.st, now, stats)
	}

	if changed {
		if err := e.repo.SaveState(ctx, ts.st.clone()); err != nil {
			log.Printf("reminder tick: save state failed appointment=%s: %v", ts.st.AppointmentID, err)
			stats.Failures++
		}
	}
}

// advance walks the stages in order. A later stage is only examined once the
// earlier one is terminal, which keeps the observed order monotonic.
func (e *Engine) advance(ctx context.Context, st *State, now time.Time, stats *TickStats) bool {
	changed := false

	for i, stage := range StageOrder {
		ss := st.Stages[stage]
		if ss.Status.Terminal() {
			continue
		}

		windowEnd := st.AppointmentStart
		if i+1 < len(StageOrder) {
			windowEnd = st.Stages[StageOrder[i+1]].DueAt
		}

		// The stage's window fully passed without a send, e.g. the engine
		// resumed late after a restart. Suppress instead of firing stale.
		if !windowEnd.After(now) {
			ss.Status = StageSuppressed
			st.Stages[stage] = ss
			st.UpdatedAt = now
			stats.Suppressed++
			changed = true
			continue
		}

		if ss.DueAt.After(now) {
			break
		}

		if ss.Status == StagePending {
			ss.Status = StageDue
			st.Stages[stage] = ss
			st.UpdatedAt = now
			changed = true
		}

		// The due time is part of the key so a reset after a reschedule gets
		// a fresh send while replays of the same schedule stay deduplicated.
		key := fmt.Sprintf("reminder:%s:%s:%d", st.AppointmentID, stage, ss.DueAt.Unix())
		first, err := e.once.First(ctx, key)
		if err != nil {
			log.Printf("reminder tick: idempotency check failed appointment=%s stage=%s: %v", st.AppointmentID, stage, err)
			stats.Failures++
			break
		}

		if first {
			if err := e.notifier.SendStage(ctx, st.AppointmentID, stage); err != nil {
				// Request was not issued: free the key and leave the stage
				// due so the next tick retries.
				_ = e.once.Forget(ctx, key)
				log.Printf("reminder tick: send failed appointment=%s stage=%s: %v", st.AppointmentID, stage, err)
				stats.Failures++
				break
			}
		}

		sentAt := now
		ss.Status = StageSent
		ss.SentAt = &sentAt
		st.Stages[stage] = ss
		st.UpdatedAt = now
		stats.Sent++
		changed = true
	}

	return changed
}

func (e *Engine) buildState(appointmentID uuid.UUID, start, now time.Time) State {
	st := State{
		AppointmentID:    appointmentID,
		AppointmentStart: start,
		Stages:           make(map[Stage]StageState, len(StageOrder)),
		UpdatedAt:        now,
	}
	for i, stage := range StageOrder {
		due := start.Add(-e.offsets.before(stage))
		// Same window rule as advance: a stage stays live until the next
		// stage's due time, so a late booking still gets the reminder a tick
		// would have fired.
		windowEnd := start
		if i+1 < len(StageOrder) {
			windowEnd = start.Add(-e.offsets.before(StageOrder[i+1]))
		}
		status := StagePending
		if !windowEnd.After(now) {
			status = StageSuppressed
		}
		st.Stages[stage] = StageState{Status: status, DueAt: due}
	}
	return st
}

func (e *Engine) trackedFor(appointmentID uuid.UUID) *tracked {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states[appointmentID]
}

func suppressRemaining(st *State, now time.Time) bool {
	changed := false
	for _, stage := range StageOrder {
		ss := st.Stages[stage]
		if ss.Status.Terminal() {
			continue
		}
		ss.Status = StageSuppressed
		st.Stages[stage] = ss
		changed = true
	}
	if changed {
		st.UpdatedAt = now
	}
	return changed
}
