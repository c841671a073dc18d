package calendar

import (
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotOpen    SlotStatus = "open"
	SlotHeld    SlotStatus = "held"
	SlotBooked  SlotStatus = "booked"
	SlotBlocked SlotStatus = "blocked"
)

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty string
	Location  string
}

// Slot is one bookable window on a doctor's schedule. Slot values handed out
// by the store are snapshots; all mutation goes through store operations.
type Slot struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	StartTime time.Time
	Duration  time.Duration
	Status    SlotStatus
}

func (s Slot) EndTime() time.Time {
	return s.StartTime.Add(s.Duration)
}

// Overlaps reports whether two slots share any time on the same schedule.
func (s Slot) Overlaps(other Slot) bool {
	return s.StartTime.Before(other.EndTime()) && other.StartTime.Before(s.EndTime())
}

// HoldToken proves ownership of a short-lived slot reservation. Only the
// caller holding the token can commit the slot to Booked.
type HoldToken struct {
	SlotID   uuid.UUID
	value    uuid.UUID
	Deadline time.Time
}
