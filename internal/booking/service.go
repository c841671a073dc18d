package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/scheduling/internal/allocator"
	"github.com/clinicdesk/scheduling/internal/calendar"
	"github.com/clinicdesk/scheduling/internal/estimate"
	redisclient "github.com/clinicdesk/scheduling/internal/redis"
	"github.com/clinicdesk/scheduling/internal/reminder"
)

var (
	ErrNoAvailability          = errors.New("no availability in the requested window")
	ErrOperationInFlight       = errors.New("another operation on this appointment is in flight, please retry")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

// Service coordinates the full booking lifecycle: duration estimation, slot
// claim, appointment persistence and reminder registration. It is the only
// writer of appointment status.
type Service struct {
	repo      Repository
	cal       *calendar.Store
	alloc     *allocator.Allocator
	reminders *reminder.Engine
	locker    redisclient.Locker
	sink      EventSink
	now       func() time.Time

	// Runtime binding of appointment -> claimed slot IDs. Slot IDs are
	// process-local (created at schedule import), so the binding is rebuilt
	// on Resume rather than persisted.
	bindMu   sync.Mutex
	bindings map[uuid.UUID][]uuid.UUID
}

func NewService(repo Repository, cal *calendar.Store, alloc *allocator.Allocator, reminders *reminder.Engine, locker redisclient.Locker, sink EventSink) *Service {
	if locker == nil {
		locker = redisclient.NewLocalLocker()
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &Service{
		repo:      repo,
		cal:       cal,
		alloc:     alloc,
		reminders: reminders,
		locker:    locker,
		sink:      sink,
		now:       time.Now,
		bindings:  make(map[uuid.UUID][]uuid.UUID),
	}
}

// WithClock replaces the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type BookRequest struct {
	PatientID uuid.UUID
	DoctorID  *uuid.UUID
	Specialty string
	Reason    estimate.Reason
	Window    Window
}

// Book finds, claims and commits a slot run for the patient, then registers
// the reminder schedule. Candidates are tried in deterministic order; losing
// a claim race moves on to the next candidate instead of failing the booking.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	patient, err := s.repo.GetPatientByID(ctx, req.PatientID)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	specialty := req.Specialty
	if req.DoctorID != nil {
		if d, err := s.cal.GetDoctor(*req.DoctorID); err == nil {
			specialty = d.Specialty
		}
	}

	minutes := estimate.Minutes(estimate.Visit{
		NewPatient: patient.VisitCount == 0,
		Reason:     req.Reason,
		Specialty:  estimate.Specialty(specialty),
		VisitCount: patient.VisitCount,
	})

	candidates, err := s.alloc.FindCandidates(allocator.Query{
		DoctorID:        req.DoctorID,
		Specialty:       req.Specialty,
		From:            req.Window.From,
		To:              req.Window.To,
		DurationMinutes: minutes,
	})
	if err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}

	for _, cand := range candidates {
		now := s.now()
		res, err := s.alloc.Claim(ctx, cand.DoctorID, cand.StartTime, minutes, now)
		if err != nil {
			if errors.Is(err, allocator.ErrSlotUnavailable) || errors.Is(err, allocator.ErrInsufficientContiguity) {
				continue
			}
			return nil, err
		}

		if err := s.alloc.Commit(res, s.now()); err != nil {
			if errors.Is(err, allocator.ErrSlotUnavailable) {
				continue
			}
			return nil, err
		}

		appt := &Appointment{
			ID:              uuid.New(),
			PatientID:       patient.ID,
			DoctorID:        cand.DoctorID,
			SlotIDs:         res.SlotIDs,
			StartTime:       cand.StartTime,
			DurationMinutes: minutes,
			Reason:          req.Reason,
			Status:          StatusScheduled,
		}
		if err := s.repo.CreateAppointment(ctx, appt); err != nil {
			s.alloc.Release(res)
			return nil, fmt.Errorf("create appointment: %w", err)
		}
		s.bind(appt.ID, res.SlotIDs)
		appt.SlotIDs = res.SlotIDs

		if err := s.reminders.Register(ctx, appt.ID, appt.StartTime, s.now()); err != nil {
			log.Printf("register reminders failed appointment=%s: %v", appt.ID, err)
		}

		s.emit(ctx, EventAppointmentBooked, *appt, "")
		return appt, nil
	}

	return nil, ErrNoAvailability
}

// Reschedule moves an appointment into a new window. The new slot run is
// claimed and committed before the old one is released: a failed reschedule
// never leaves the patient slotless.
func (s *Service) Reschedule(ctx context.Context, appointmentID uuid.UUID, window Window) (*Appointment, error) {
	var out *Appointment

	err := s.withAppointmentLock(ctx, appointmentID, func(ctx context.Context) error {
		appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
		if err != nil {
			return err
		}
		if appt.Status != StatusScheduled && appt.Status != StatusConfirmed {
			return ErrInvalidStatusTransition
		}

		candidates, err := s.alloc.FindCandidates(allocator.Query{
			DoctorID:        &appt.DoctorID,
			From:            window.From,
			To:              window.To,
			DurationMinutes: appt.DurationMinutes,
		})
		if err != nil {
			return fmt.Errorf("find candidates: %w", err)
		}

		oldSlots := s.binding(appointmentID)

		for _, cand := range candidates {
			res, err := s.alloc.Claim(ctx, cand.DoctorID, cand.StartTime, appt.DurationMinutes, s.now())
			if err != nil {
				if errors.Is(err, allocator.ErrSlotUnavailable) || errors.Is(err, allocator.ErrInsufficientContiguity) {
					continue
				}
				return err
			}
			if err := s.alloc.Commit(res, s.now()); err != nil {
				if errors.Is(err, allocator.ErrSlotUnavailable) {
					continue
				}
				return err
			}

			updated, err := s.repo.UpdateAppointmentSlot(ctx, appointmentID, cand.DoctorID, cand.StartTime, appt.DurationMinutes)
			if err != nil {
				// Persistence failed: free the new slots, the old booking
				// stands untouched.
				s.alloc.Release(res)
				return fmt.Errorf("update appointment: %w", err)
			}

			s.alloc.ReleaseSlots(oldSlots)
			s.bind(appointmentID, res.SlotIDs)
			updated.SlotIDs = res.SlotIDs

			if err := s.reminders.Reset(ctx, appointmentID, updated.StartTime, s.now()); err != nil {
				log.Printf("reset reminders failed appointment=%s: %v", appointmentID, err)
			}

			s.emit(ctx, EventAppointmentRescheduled, *updated, "")
			out = updated
			return nil
		}

		return ErrNoAvailability
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Cancel releases the appointment's slots, suppresses remaining reminders
// and records the reason. Cancelling an already-cancelled appointment is a
// no-op.
func (s *Service) Cancel(ctx context.Context, appointmentID uuid.UUID, reason string) error {
	return s.withAppointmentLock(ctx, appointmentID, func(ctx context.Context) error {
		appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
		if err != nil {
			return err
		}
		if appt.Status == StatusCancelled {
			return nil
		}
		if appt.Status.Terminal() {
			return ErrInvalidStatusTransition
		}

		updated, err := s.repo.CancelAppointment(ctx, appointmentID, appt.Status, reason)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return ErrOperationInFlight
			}
			return fmt.Errorf("cancel appointment: %w", err)
		}

		s.alloc.ReleaseSlots(s.binding(appointmentID))
		s.unbind(appointmentID)

		if err := s.reminders.SuppressAll(ctx, appointmentID, s.now()); err != nil {
			log.Printf("suppress reminders failed appointment=%s: %v", appointmentID, err)
		}

		s.emit(ctx, EventAppointmentCancelled, *updated, reason)
		return nil
	})
}

// Confirm moves a scheduled appointment to confirmed. Any other starting
// status is a no-op per the response workflow: confirming twice, or after a
// cancel, changes nothing. Confirmation never suppresses reminders.
func (s *Service) Confirm(ctx context.Context, appointmentID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusScheduled {
		return appt, nil
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appointmentID, StatusScheduled, StatusConfirmed)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost a race with another transition; treat as no-op.
			return s.repo.GetAppointmentByID(ctx, appointmentID)
		}
		return nil, fmt.Errorf("confirm appointment: %w", err)
	}

	s.emit(ctx, EventAppointmentConfirmed, *updated, "")
	return updated, nil
}

// Complete marks the visit done and counts it toward the patient's history.
// External terminal trigger, valid from scheduled or confirmed.
func (s *Service) Complete(ctx context.Context, appointmentID uuid.UUID) error {
	return s.terminal(ctx, appointmentID, StatusCompleted, EventAppointmentCompleted, true)
}

// MarkNoShow records that the patient never arrived. External terminal
// trigger, valid from scheduled or confirmed.
func (s *Service) MarkNoShow(ctx context.Context, appointmentID uuid.UUID) error {
	return s.terminal(ctx, appointmentID, StatusNoShow, EventAppointmentNoShow, false)
}

func (s *Service) terminal(ctx context.Context, appointmentID uuid.UUID, to Status, event string, countVisit bool) error {
	return s.withAppointmentLock(ctx, appointmentID, func(ctx context.Context) error {
		appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
		if err != nil {
			return err
		}
		if appt.Status != StatusScheduled && appt.Status != StatusConfirmed {
			return ErrInvalidStatusTransition
		}

		updated, err := s.repo.UpdateAppointmentStatus(ctx, appointmentID, appt.Status, to)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return ErrOperationInFlight
			}
			return fmt.Errorf("update appointment status: %w", err)
		}

		s.alloc.ReleaseSlots(s.binding(appointmentID))
		s.unbind(appointmentID)

		if err := s.reminders.SuppressAll(ctx, appointmentID, s.now()); err != nil {
			log.Printf("suppress reminders failed appointment=%s: %v", appointmentID, err)
		}

		if countVisit {
			if err := s.repo.IncrementVisitCount(ctx, updated.PatientID); err != nil {
				log.Printf("increment visit count failed patient=%s: %v", updated.PatientID, err)
			}
		}

		s.emit(ctx, event, *updated, "")
		return nil
	})
}

// Get returns the appointment with its runtime slot binding attached.
func (s *Service) Get(ctx context.Context, appointmentID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	appt.SlotIDs = s.binding(appointmentID)
	return appt, nil
}

// ListByPatient returns a patient's appointments, newest window capped.
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
}

// Activity adapts appointment status for the reminder engine.
func (s *Service) Activity(ctx context.Context, appointmentID uuid.UUID) (reminder.Activity, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return reminder.ActivityTerminal, err
	}
	if appt.Status.Terminal() {
		return reminder.ActivityTerminal, nil
	}
	return reminder.ActivityActive, nil
}

// Resume rebuilds the runtime slot bindings for active appointments after a
// restart, re-marking their slots booked on the freshly imported calendar.
func (s *Service) Resume(ctx context.Context) (int, error) {
	active, err := s.repo.ListActiveAppointments(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active appointments: %w", err)
	}

	restored := 0
	for _, appt := range active {
		ids, err := s.cal.RestoreBooked(appt.DoctorID, appt.StartTime, appt.DurationMinutes)
		if err != nil {
			log.Printf("restore booked slots failed appointment=%s: %v", appt.ID, err)
			continue
		}
		s.bind(appt.ID, ids)
		restored++
	}
	return restored, nil
}

func (s *Service) withAppointmentLock(ctx context.Context, appointmentID uuid.UUID, fn func(ctx context.Context) error) error {
	err := s.locker.WithAppointmentLock(ctx, appointmentID, fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrOperationInFlight
	}
	return err
}

func (s *Service) emit(ctx context.Context, eventType string, appt Appointment, reason string) {
	s.sink.Emit(ctx, LifecycleEvent{
		Type:        eventType,
		Appointment: appt,
		Reason:      reason,
		OccurredAt:  s.now(),
	})
	s.logEvent(ctx, appt.ID, eventType, map[string]any{
		"patient_id": appt.PatientID.String(),
		"doctor_id":  appt.DoctorID.String(),
		"start_time": appt.StartTime,
		"status":     string(appt.Status),
	})
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal event payload for %s: %v", eventType, err)
		data = nil
	}

	apptID := appointmentID
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to insert event log %s for appointment %s: %v", eventType, appointmentID, err)
	}
}

func (s *Service) bind(appointmentID uuid.UUID, slotIDs []uuid.UUID) {
	s.bindMu.Lock()
	defer s.bindMu.Unlock()
	s.bindings[appointmentID] = slotIDs
}

func (s *Service) binding(appointmentID uuid.UUID) []uuid.UUID {
	s.bindMu.Lock()
	defer s.bindMu.Unlock()
	return s.bindings[appointmentID]
}

func (s *Service) unbind(appointmentID uuid.UUID) {
	s.bindMu.Lock()
	defer s.bindMu.Unlock()
	delete(s.bindings, appointmentID)
}
