package booking

import (
	"context"
	"time"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentConfirmed   = "APPOINTMENT_CONFIRMED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventAppointmentNoShow      = "APPOINTMENT_NO_SHOW"
)

// LifecycleEvent is emitted on every successful status transition. The
// coordinator never talks to the notification transport directly; adapters
// subscribe through an EventSink.
type LifecycleEvent struct {
	Type        string
	Appointment Appointment
	Reason      string
	OccurredAt  time.Time
}

// EventSink consumes lifecycle events. Emit is best-effort from the
// coordinator's perspective; a sink failure never fails the transition.
type EventSink interface {
	Emit(ctx context.Context, ev LifecycleEvent)
}

// NopSink discards events; used when no notification adapter is wired.
type NopSink struct{}

func (NopSink) Emit(context.Context, LifecycleEvent) {}
