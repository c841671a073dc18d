package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/scheduling/internal/estimate"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusNoShow    Status = "no_show"
)

// Terminal reports whether no further lifecycle transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted || s == StatusNoShow
}

type Patient struct {
	ID           uuid.UUID
	Name         string
	Email        *string
	Phone        *string
	VisitCount   int
	InsuranceRef *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Appointment binds one patient to one claimed slot run on one doctor's
// schedule. Only the coordinator writes Status. SlotIDs is the runtime slot
// binding; it is rebuilt from the calendar on restart, not persisted.
type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	SlotIDs         []uuid.UUID
	StartTime       time.Time
	DurationMinutes int
	Reason          estimate.Reason
	Status          Status
	CancelReason    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Window is the patient's preferred booking range.
type Window struct {
	From time.Time
	To   time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
