package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "github.com/clinicdesk/scheduling/internal/redis"
)

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []Stage
	fail  bool
	calls int
}

func (n *fakeNotifier) SendStage(_ context.Context, _ uuid.UUID, stage Stage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.fail {
		return errors.New("smtp unreachable")
	}
	n.sent = append(n.sent, stage)
	return nil
}

func (n *fakeNotifier) sentStages() []Stage {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Stage, len(n.sent))
	copy(out, n.sent)
	return out
}

func activeAlways(context.Context, uuid.UUID) (Activity, error) {
	return ActivityActive, nil
}

func newTestEngine(t *testing.T, activity ActivityFunc) (*Engine, *fakeNotifier, *MemoryRepository) {
	t.Helper()
	if activity == nil {
		activity = activeAlways
	}
	repo := NewMemoryRepository()
	notifier := &fakeNotifier{}
	return NewEngine(repo, notifier, activity, nil, DefaultOffsets()), notifier, repo
}

func TestRegisterSetsPendingStages(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)

	start := time.Date(2026, 9, 16, 9, 0, 0, 0, time.UTC)
	now := start.Add(-48 * time.Hour)
	apptID := uuid.New()

	require.NoError(t, engine.Register(context.Background(), apptID, start, now))

	st, ok := engine.Snapshot(apptID)
	require.True(t, ok)
	assert.Equal(t, StagePending, st.Stages[Stage24h].Status)
	assert.Equal(t, StagePending, st.Stages[Stage4h].Status)
	assert.Equal(t, StagePending, st.Stages[Stage1h].Status)
	assert.Equal(t, start.Add(-24*time.Hour), st.Stages[Stage24h].DueAt)
	assert.Equal(t, start.Add(-4*time.Hour), st.Stages[Stage4h].DueAt)
	assert.Equal(t, start.Add(-time.Hour), st.Stages[Stage1h].DueAt)
}

func TestRegisterInsideWindowSuppressesClosedStages(t *testing.T) {
	engine, notifier, _ := newTestEngine(t, nil)

	start := time.Date(2026, 9, 16, 9, 0, 0, 0, time.UTC)
	// Booked 2 hours before the visit: the 24h window is fully over, the 4h
	// stage is past due but its window runs until the 1h mark.
	now := start.Add(-2 * time.Hour)
	apptID := uuid.New()

	require.NoError(t, engine.Register(context.Background(), apptID, start, now))

	st, ok := engine.Snapshot(apptID)
	require.True(t, ok)
	assert.Equal(t, StageSuppressed, st.Stages[Stage24h].Status)
	assert.Equal(t, StagePending, st.Stages[Stage4h].Status)
	assert.Equal(t, StagePending, st.Stages[Stage1h].Status)

	// The overdue 4h stage still fires, then the 1h stage at its time.
	engine.Tick(context.Background(), now)
	assert.Equal(t, []Stage{Stage4h}, notifier.sentStages())

	engine.Tick(context.Background(), start.Add(-30*time.Minute))
	assert.Equal(t, []Stage{Stage4h, Stage1h}, notifier.sentStages())
}

func TestLateBookingKeepsOpenWindowStage(t *testing.T) {
	engine, notifier, _ := newTestEngine(t, nil)

	start := time.Date(2026, 9, 16, 9, 0, 0, 0, time.UTC)
	// Booked 23 hours before the visit. The 24h due time has passed but its
	// window is open until the 4h mark, so the reminder must not be lost.
	now := start.Add(-23 * time.Hour)
	apptID := uuid.New()

	require.NoError(t, engine.Register(context.Background(), apptID, start, now))

	st, ok := engine.Snapshot(apptID)
	require.True(t, ok)
	assert.Equal(t, StagePending, st.Stages[Stage24h].Status)

	stats := engine.Tick(context.Background(), now.Add(time.Minute))
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, []Stage{Stage24h}, notifier.sentStages())
}

func TestStagesFireInOrder(t *testing.T) {
	engine, notifier, _ := newTestEngine(t, nil)

	start := time.Date(2026, 9, 16, 9, 0, 0, 0, time.UTC)
	registered := start.Add(-48 * time.Hour)
	apptID := uuid.New()
	require.NoError(t, engine.Register(context.Background(), apptID, start, registered))

	// Nothing is due yet.
	stats := engine.Tick(context.Background(), start.Add(-30*time.Hour))
	assert.Equal(t, 0, stats.Sent)

	stats = engine.Tick(context.Background(), start.Add(-23*time.Hour))
	assert.Equal(t, 1, stats.Sent)

	stats = engine.Tick(context.Background(), start.Add(-3*time.Hour))
	assert.Equal(t, 1, stats.Sent)

	stats = engine.Tick(context.Background(), start.Add(-30*time.Minute))
	assert.Equal(t, 1, stats.Sent)

	assert.Equal(t, []Stage{Stage24h, Stage4h, Stage1h}, notifier.sentStages())
}

func TestTickIsIdempotent(t *testing.T) {
	engine, notifier, _ := newTestEngine(t, nil)

	start := time.Date(2026, 9, 16, 9, 0, 0, 0, time.UTC)
	apptID := uuid.New()
	require.NoError(t, engine.Register(context.Background(), apptID, start, start.Add(-48*time.Hour)))

	now := start.Add(-23 * time.Hour)
	for i := 0; i < 5; i++ {
		engine.Tick(context.Background(), now)
	}
	assert.Equal(t, []Stage{Stage24h}, notifier.sentStages())
}

func TestMissedWindowSuppressedNotFiredLate(t *testing.T) {
	engine, notifier, _ := newTestEngine(t, nil)

	start := time.Date(2026, 9, 16, 9, 0, 0, 0, time.UTC)
	apptID := uuid.New()
	require.NoError(t, engine.Register(context.Background(), apptID, start, start.Add(-48*time.Hour)))

	// The engine was down through the 24h and 4h windows and comes back
	// 30 minutes before the visit. Only the 1h reminder still fires.
	stats := engine.Tick(context.Background(), start.Add(-30*time.Minute))
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 2, stats.Suppressed)
	assert.Equal(t, []Stage{Stage1h}, notifier.sentStages())

	st, _ := engine.Snapshot(apptID)
	assert.Equal(t, StageSuppressed, st.Stages[Stage24h].Status)
	assert.Equal(t, StageSuppressed, st.Stages[Stage4h].Status)
	assert.Equal(t, StageSent, st.Stages[Stage1h].Status)
}

func TestTickAfterStartSendsNothing(t *testing.T) {
	engine, notifier, _ := newTestEngine(t, nil)

	start := time.Date(2026, 9, 16, 9, 0, 0, 0, time.UTC)
	apptID := uuid.New()
	require.NoError(t, engine.Register(context.Background(), apptID, start, start.Add(-48*time.Hour)))

	stats := engine.Tick(context.Background(), start.Add(time.Hour))
	assert.Equal(t, 0, stats.Sent)
	assert.Equal(t, 3, stats.Suppressed)
	assert.Empty(t, notifier.sentStages())
}

func TestTerminalActivitySuppressesRemaining(t *testing.T) {
	terminal := map[uuid.UUID]bool{}
	activity := func(_ context.Context, id uuid.UUID) (Activity, error) {
		if terminal[id] {
			return ActivityTerminal, nil
		}
		return ActivityActive, nil
	}
	engine, notifier, _ := newTestEngine(t, activity)

	start := time.Date(2026, 9, 16, 9, 0, 0, 0, time.UTC)
	apptID := uuid.New()
	require.NoError(t, engine.Register(context.Background(), apptID, start, start.Add(-48*time.Hour)))

	engine.Tick(context.Background(), start.Add(-23*time.Hour))
	require.Equal(t, []Stage{Stage24h}, notifier.sentStages())

	// Appointment cancelled between ticks.
	terminal[apptID] = true
	stats := engine.Tick(context.Background(), start.Add(-3*time.Hour))
	assert.Equal(t, 0, stats.Sent)

	st, _ := engine.Snapshot(apptID)
	assert.Equal(t, StageSent, st.Stages[Stage24h].Status)
	assert.Equal(t, StageSuppressed, st.Stages[Stage4h].Status)
	assert.Equal(t, StageSuppressed, st.Stages[Stage1h].Status)

	// Later ticks never undo the suppression.
	engine.Tick(context.Background(), start.Add(-30*time.Minute))
	assert.Equal(t, []Stage{Stage24h}, notifier.sentStages())
}

func TestSuppressAllKeepsSentStages(t *testing.T) {
	engine, notifier, _ := newTestEngine(t, nil)

	start := time.Date(2026, 9, 16, 9, 0, 0, 0, time.UTC)
	apptID := uuid.New()
	require.NoError(t, engine.Register(context.Background(), apptID, start, start.Add(-48*time.Hour)))

	engine.Tick(context.Background(), start.Add(-23*time.Hour))
	require.Len(t, notifier.sentStages(), 1)

	require.NoError(t, engine.SuppressAll(context.Background(), apptID, start.Add(-20*time.Hour)))

	st, _ := engine.Snapshot(apptID)
	assert.Equal(t, StageSent, st.Stages[Stage24h].Status)
	assert.Equal(t, StageSuppressed, st.Stages[Stage4h].Status)
	assert.Equal(t, StageSuppressed, st.Stages[Stage1h].Status)
}

func TestSendFailureRetriesNextTick(t *testing.T) {
	engine, notifier, _ := newTestEngine(t, nil)

	start := time.Date(2026, 9, 16, 9, 0, 0, 0, time.UTC)
	apptID := uuid.New()
	require.NoError(t, engine.Register(context.Background(), apptID, start, start.Add(-48*time.Hour)))

	notifier.fail = true
	stats := engine.Tick(context.Background(), start.Add(-23*time.Hour))
	assert.Equal(t, 0, stats.Sent)
	assert.Equal(t, 1, stats.Failures)

	st, _ := engine.Snapshot(apptID)
	assert.Equal(t, StageDue, st.Stages[Stage24h].Status)

	// Transport recovers: the stage fires exactly once.
	notifier.fail = false
	stats = engine.Tick(context.Background(), start.Add(-22*time.Hour))
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, []Stage{Stage24h}, notifier.sentStages())
}

func TestResetAfterReschedule(t *testing.T) {
	engine, notifier, _ := newTestEngine(t, nil)

	start := time.Date(2026, 9, 16, 9, 0, 0, 0, time.UTC)
	apptID := uuid.New()
	require.NoError(t, engine.Register(context.Background(), apptID, start, start.Add(-48*time.Hour)))

	engine.Tick(context.Background(), start.Add(-23*time.Hour))
	require.Len(t, notifier.sentStages(), 1)

	newStart := start.Add(7 * 24 * time.Hour)
	require.NoError(t, engine.Reset(context.Background(), apptID, newStart, start.Add(-20*time.Hour)))

	st, _ := engine.Snapshot(apptID)
	assert.Equal(t, newStart, st.AppointmentStart)
	for _, stage := range StageOrder {
		assert.Equal(t, StagePending, st.Stages[stage].Status)
	}

	// Full cycle fires again for the new date.
	engine.Tick(context.Background(), newStart.Add(-23*time.Hour))
	engine.Tick(context.Background(), newStart.Add(-3*time.Hour))
	engine.Tick(context.Background(), newStart.Add(-30*time.Minute))
	assert.Equal(t, []Stage{Stage24h, Stage24h, Stage4h, Stage1h}, notifier.sentStages())
}

func TestResumeLoadsPersistedStates(t *testing.T) {
	repo := NewMemoryRepository()
	notifier := &fakeNotifier{}
	engine := NewEngine(repo, notifier, activeAlways, nil, DefaultOffsets())

	start := time.Date(2026, 9, 16, 9, 0, 0, 0, time.UTC)
	apptID := uuid.New()
	require.NoError(t, engine.Register(context.Background(), apptID, start, start.Add(-48*time.Hour)))
	engine.Tick(context.Background(), start.Add(-23*time.Hour))

	// Fresh engine over the same repository, as after a restart. The once
	// registry is shared in production; share it here too.
	restarted := NewEngine(repo, notifier, activeAlways, nil, DefaultOffsets())
	loaded, err := restarted.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	st, ok := restarted.Snapshot(apptID)
	require.True(t, ok)
	assert.Equal(t, StageSent, st.Stages[Stage24h].Status)

	// Second resume with nothing newer persisted is a no-op.
	loaded, err = restarted.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, loaded)
}

func TestResumeRefreshesRescheduledState(t *testing.T) {
	// One process books and reschedules, another process ticks. They share
	// the repository and the idempotency registry, so the ticking side must
	// pick up a rebuilt state on its next resume rather than keep firing
	// against the old schedule.
	repo := NewMemoryRepository()
	notifier := &fakeNotifier{}
	once := redisclient.NewLocalOnceRegistry()
	apiSide := NewEngine(repo, notifier, activeAlways, once, DefaultOffsets())
	workerSide := NewEngine(repo, notifier, activeAlways, once, DefaultOffsets())

	start := time.Date(2026, 9, 16, 9, 0, 0, 0, time.UTC)
	apptID := uuid.New()
	require.NoError(t, apiSide.Register(context.Background(), apptID, start, start.Add(-48*time.Hour)))

	loaded, err := workerSide.Resume(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, loaded)
	workerSide.Tick(context.Background(), start.Add(-23*time.Hour))
	require.Equal(t, []Stage{Stage24h}, notifier.sentStages())

	newStart := start.Add(72 * time.Hour)
	require.NoError(t, apiSide.Reset(context.Background(), apptID, newStart, start.Add(-20*time.Hour)))

	loaded, err = workerSide.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	st, ok := workerSide.Snapshot(apptID)
	require.True(t, ok)
	assert.Equal(t, newStart, st.AppointmentStart)
	for _, stage := range StageOrder {
		assert.Equal(t, StagePending, st.Stages[stage].Status)
	}

	workerSide.Tick(context.Background(), newStart.Add(-23*time.Hour))
	workerSide.Tick(context.Background(), newStart.Add(-3*time.Hour))
	workerSide.Tick(context.Background(), newStart.Add(-30*time.Minute))
	assert.Equal(t, []Stage{Stage24h, Stage24h, Stage4h, Stage1h}, notifier.sentStages())
}

func TestStageTemplateMapping(t *testing.T) {
	assert.Equal(t, "regular", Stage24h.TemplateKind())
	assert.Equal(t, "form_check", Stage4h.TemplateKind())
	assert.Equal(t, "confirmation", Stage1h.TemplateKind())
}
