package api

import (
	"time"

	"github.com/google/uuid"
)

type BookAppointmentRequest struct {
	PatientID  string `json:"patient_id"`
	DoctorID   string `json:"doctor_id,omitempty"`
	Specialty  string `json:"specialty,omitempty"`
	Reason     string `json:"reason"`
	WindowFrom string `json:"window_from"`
	WindowTo   string `json:"window_to"`
}

type RescheduleAppointmentRequest struct {
	WindowFrom string `json:"window_from"`
	WindowTo   string `json:"window_to"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason,omitempty"`
}

type AppointmentResponse struct {
	ID              uuid.UUID   `json:"id"`
	PatientID       uuid.UUID   `json:"patient_id"`
	DoctorID        uuid.UUID   `json:"doctor_id"`
	StartTime       time.Time   `json:"start_time"`
	DurationMinutes int         `json:"duration_minutes"`
	Reason          string      `json:"reason"`
	Status          string      `json:"status"`
	CancelReason    string      `json:"cancel_reason,omitempty"`
	SlotIDs         []uuid.UUID `json:"slot_ids,omitempty"`
}

type DoctorResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Specialty string    `json:"specialty"`
	Location  string    `json:"location,omitempty"`
}

type SlotResponse struct {
	ID              uuid.UUID `json:"id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`
}

type ReminderStageResponse struct {
	Stage  string     `json:"stage"`
	Status string     `json:"status"`
	DueAt  time.Time  `json:"due_at"`
	SentAt *time.Time `json:"sent_at,omitempty"`
}

type ReminderStateResponse struct {
	AppointmentID    uuid.UUID               `json:"appointment_id"`
	AppointmentStart time.Time               `json:"appointment_start"`
	Stages           []ReminderStageResponse `json:"stages"`
}

type PatientReplyRequest struct {
	ResponseID    string `json:"response_id"`
	AppointmentID string `json:"appointment_id"`
	Body          string `json:"body"`
	WindowFrom    string `json:"window_from,omitempty"`
	WindowTo      string `json:"window_to,omitempty"`
}

type PatientReplyResponse struct {
	Kind      string `json:"kind"`
	Action    string `json:"action"`
	Duplicate bool   `json:"duplicate"`
}

type RescheduleIntentResponse struct {
	ResponseID    uuid.UUID  `json:"response_id"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	WindowFrom    *time.Time `json:"window_from,omitempty"`
	WindowTo      *time.Time `json:"window_to,omitempty"`
	ReceivedAt    time.Time  `json:"received_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
