package reminder

import (
	"time"

	"github.com/google/uuid"
)

type Stage string

const (
	Stage24h Stage = "24h"
	Stage4h  Stage = "4h"
	Stage1h  Stage = "1h"
)

// StageOrder lists the stages in firing order.
var StageOrder = []Stage{Stage24h, Stage4h, Stage1h}

// TemplateKind maps a stage to the message template the notification adapter
// renders for it.
func (s Stage) TemplateKind() string {
	switch s {
	case Stage24h:
		return "regular"
	case Stage4h:
		return "form_check"
	case Stage1h:
		return "confirmation"
	}
	return "regular"
}

type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageDue        StageStatus = "due"
	StageSent       StageStatus = "sent"
	StageSuppressed StageStatus = "suppressed"
)

func (s StageStatus) Terminal() bool {
	return s == StageSent || s == StageSuppressed
}

// StageState is one reminder checkpoint of one appointment.
type StageState struct {
	Status StageStatus
	DueAt  time.Time
	SentAt *time.Time
}

// State tracks every reminder stage of one appointment. Only the engine
// writes it; everything handed outward is a value snapshot.
type State struct {
	AppointmentID    uuid.UUID
	AppointmentStart time.Time
	Stages           map[Stage]StageState
	UpdatedAt        time.Time
}

func (st *State) clone() State {
	out := State{
		AppointmentID:    st.AppointmentID,
		AppointmentStart: st.AppointmentStart,
		Stages:           make(map[Stage]StageState, len(st.Stages)),
		UpdatedAt:        st.UpdatedAt,
	}
	for k, v := range st.Stages {
		if v.SentAt != nil {
			t := *v.SentAt
			v.SentAt = &t
		}
		out.Stages[k] = v
	}
	return out
}

// done reports whether every stage has reached a terminal status.
func (st *State) done() bool {
	for _, stage := range StageOrder {
		if !st.Stages[stage].Status.Terminal() {
			return false
		}
	}
	return true
}

// Offsets holds how long before the appointment start each stage fires.
type Offsets struct {
	Stage24h time.Duration
	Stage4h  time.Duration
	Stage1h  time.Duration
}

// DefaultOffsets matches the clinic workflow: 24 hours, 4 hours and 1 hour
// before the visit.
func DefaultOffsets() Offsets {
	return Offsets{
		Stage24h: 24 * time.Hour,
		Stage4h:  4 * time.Hour,
		Stage1h:  time.Hour,
	}
}

func (o Offsets) before(stage Stage) time.Duration {
	switch stage {
	case Stage24h:
		return o.Stage24h
	case Stage4h:
		return o.Stage4h
	case Stage1h:
		return o.Stage1h
	}
	return 0
}
