package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Repository contains all persistence interactions needed by the coordinator.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	UpsertPatient(ctx context.Context, p *Patient) error
	IncrementVisitCount(ctx context.Context, id uuid.UUID) error

	CreateAppointment(ctx context.Context, a *Appointment) error
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// UpdateAppointmentStatus is a compare-and-set: the update only applies
	// when the stored status still matches from, otherwise
	// ErrAppointmentNotFound.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)

	// UpdateAppointmentSlot rewrites timing after a reschedule and returns
	// the appointment to scheduled.
	UpdateAppointmentSlot(ctx context.Context, id, doctorID uuid.UUID, start time.Time, durationMinutes int) (*Appointment, error)

	// CancelAppointment is the same compare-and-set as
	// UpdateAppointmentStatus but also records the cancellation reason.
	CancelAppointment(ctx context.Context, id uuid.UUID, from Status, reason string) (*Appointment, error)

	ListActiveAppointments(ctx context.Context) ([]Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
