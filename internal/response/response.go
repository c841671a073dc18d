// Package response consumes structured patient replies and routes them into
// the booking and reminder workflows. Processing is idempotent by response
// identity: replaying a response ID is a no-op.
package response

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/scheduling/internal/booking"
	redisclient "github.com/clinicdesk/scheduling/internal/redis"
	"github.com/clinicdesk/scheduling/internal/reminder"
)

type Kind string

const (
	KindConfirm           Kind = "confirm"
	KindCancelRequest     Kind = "cancel_request"
	KindRescheduleRequest Kind = "reschedule_request"
	KindStop              Kind = "stop"
	KindUnrecognized      Kind = "unrecognized"
)

// PatientResponse is one structured reply to a reminder or booking notice.
// RawRef points at the transport-side payload; the core never parses it.
type PatientResponse struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Kind          Kind
	ReceivedAt    time.Time
	RawRef        string

	// RequestedWindow rides along on reschedule requests.
	RequestedWindow *booking.Window
}

// RescheduleIntent surfaces a patient's wish for a new time. The processor
// never picks the slot itself; staff or the front end negotiate it.
type RescheduleIntent struct {
	ResponseID      uuid.UUID
	AppointmentID   uuid.UUID
	RequestedWindow *booking.Window
	ReceivedAt      time.Time
}

// Outcome reports what a processed response did.
type Outcome struct {
	Duplicate bool
	Action    string
}

type Processor struct {
	coordinator *booking.Service
	reminders   *reminder.Engine
	once        redisclient.OnceRegistry

	mu           sync.Mutex
	intents      []RescheduleIntent
	unrecognized []PatientResponse
}

func NewProcessor(coordinator *booking.Service, reminders *reminder.Engine, once redisclient.OnceRegistry) *Processor {
	if once == nil {
		once = redisclient.NewLocalOnceRegistry()
	}
	return &Processor{
		coordinator: coordinator,
		reminders:   reminders,
		once:        once,
	}
}

// Process routes one response. Confirm transitions scheduled appointments to
// confirmed and never suppresses reminders; cancel requests cancel the
// appointment; stop suppresses all remaining reminders while keeping the
// appointment booked; unrecognized replies are recorded for staff follow-up.
func (p *Processor) Process(ctx context.Context, r PatientResponse) (Outcome, error) {
	first, err := p.once.First(ctx, fmt.Sprintf("response:%s", r.ID))
	if err != nil {
		return Outcome{}, fmt.Errorf("response idempotency check: %w", err)
	}
	if !first {
		return Outcome{Duplicate: true, Action: "ignored_duplicate"}, nil
	}

	switch r.Kind {
	case KindConfirm:
		if _, err := p.coordinator.Confirm(ctx, r.AppointmentID); err != nil {
			p.forget(ctx, r.ID)
			return Outcome{}, fmt.Errorf("confirm: %w", err)
		}
		return Outcome{Action: "confirmed"}, nil

	case KindCancelRequest:
		if err := p.coordinator.Cancel(ctx, r.AppointmentID, "patient_request"); err != nil {
			p.forget(ctx, r.ID)
			return Outcome{}, fmt.Errorf("cancel: %w", err)
		}
		return Outcome{Action: "cancelled"}, nil

	case KindRescheduleRequest:
		p.mu.Lock()
		p.intents = append(p.intents, RescheduleIntent{
			ResponseID:      r.ID,
			AppointmentID:   r.AppointmentID,
			RequestedWindow: r.RequestedWindow,
			ReceivedAt:      r.ReceivedAt,
		})
		p.mu.Unlock()
		return Outcome{Action: "reschedule_intent_recorded"}, nil

	case KindStop:
		if err := p.reminders.SuppressAll(ctx, r.AppointmentID, r.ReceivedAt); err != nil {
			p.forget(ctx, r.ID)
			return Outcome{}, fmt.Errorf("suppress reminders: %w", err)
		}
		return Outcome{Action: "reminders_stopped"}, nil

	default:
		p.mu.Lock()
		p.unrecognized = append(p.unrecognized, r)
		p.mu.Unlock()
		return Outcome{Action: "recorded_for_review"}, nil
	}
}

// PendingIntents returns reschedule intents awaiting staff action.
func (p *Processor) PendingIntents() []RescheduleIntent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]RescheduleIntent, len(p.intents))
	copy(out, p.intents)
	return out
}

// UnrecognizedResponses returns replies flagged for human follow-up.
func (p *Processor) UnrecognizedResponses() []PatientResponse {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PatientResponse, len(p.unrecognized))
	copy(out, p.unrecognized)
	return out
}

func (p *Processor) forget(ctx context.Context, id uuid.UUID) {
	if err := p.once.Forget(ctx, fmt.Sprintf("response:%s", id)); err != nil {
		log.Printf("forget response key %s: %v", id, err)
	}
}
