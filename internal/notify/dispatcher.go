package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/clinicdesk/scheduling/internal/booking"
	"github.com/clinicdesk/scheduling/internal/calendar"
	"github.com/clinicdesk/scheduling/internal/reminder"
)

// AppointmentSource loads appointments for notification rendering.
type AppointmentSource interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*booking.Appointment, error)
}

// PatientSource loads patient contact details.
type PatientSource interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*booking.Patient, error)
}

// Dispatcher resolves reminder stages and lifecycle events into concrete
// notification requests. It implements reminder.Notifier and
// booking.EventSink.
type Dispatcher struct {
	appointments AppointmentSource
	patients     PatientSource
	cal          *calendar.Store
	sender       Sender
	clinicName   string
}

func NewDispatcher(appointments AppointmentSource, patients PatientSource, cal *calendar.Store, sender Sender, clinicName string) *Dispatcher {
	if sender == nil {
		sender = LogSender{}
	}
	if clinicName == "" {
		clinicName = "ClinicDesk"
	}
	return &Dispatcher{
		appointments: appointments,
		patients:     patients,
		cal:          cal,
		sender:       sender,
		clinicName:   clinicName,
	}
}

// SendStage issues the reminder request for one stage of one appointment.
// A patient without an email address has nothing to send; that is success,
// not an error, so the stage does not retry forever.
func (d *Dispatcher) SendStage(ctx context.Context, appointmentID uuid.UUID, stage reminder.Stage) error {
	in, recipient, recipientName, err := d.resolve(ctx, appointmentID)
	if err != nil {
		return err
	}
	if recipient == "" {
		log.Printf("notify: appointment=%s stage=%s patient has no contact, skipping", appointmentID, stage)
		return nil
	}

	subject, body := renderReminder(stage.TemplateKind(), in)
	return d.sender.Send(ctx, Request{
		AppointmentID: appointmentID,
		TemplateKind:  stage.TemplateKind(),
		Recipient:     recipient,
		RecipientName: recipientName,
		Subject:       subject,
		Body:          body,
	})
}

// Emit sends a lifecycle notice. Best-effort: failures are logged, never
// propagated back into the coordinator.
func (d *Dispatcher) Emit(ctx context.Context, ev booking.LifecycleEvent) {
	subjectless := func(err error) {
		log.Printf("notify: lifecycle %s appointment=%s: %v", ev.Type, ev.Appointment.ID, err)
	}

	in, recipient, recipientName, err := d.resolve(ctx, ev.Appointment.ID)
	if err != nil {
		subjectless(err)
		return
	}
	if recipient == "" {
		return
	}

	subject, body := renderLifecycle(ev.Type, in)
	if subject == "" {
		return
	}

	err = d.sender.Send(ctx, Request{
		AppointmentID: ev.Appointment.ID,
		TemplateKind:  ev.Type,
		Recipient:     recipient,
		RecipientName: recipientName,
		Subject:       subject,
		Body:          body,
	})
	if err != nil {
		subjectless(err)
	}
}

func (d *Dispatcher) resolve(ctx context.Context, appointmentID uuid.UUID) (templateInput, string, string, error) {
	appt, err := d.appointments.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return templateInput{}, "", "", fmt.Errorf("load appointment: %w", err)
	}

	patient, err := d.patients.GetPatientByID(ctx, appt.PatientID)
	if err != nil {
		return templateInput{}, "", "", fmt.Errorf("load patient: %w", err)
	}

	in := templateInput{
		PatientName: patient.Name,
		StartTime:   appt.StartTime,
		Minutes:     appt.DurationMinutes,
		ClinicName:  d.clinicName,
	}
	if doctor, err := d.cal.GetDoctor(appt.DoctorID); err == nil {
		in.DoctorName = doctor.Name
		in.Specialty = doctor.Specialty
		in.Location = doctor.Location
	}

	recipient := ""
	if patient.Email != nil {
		recipient = *patient.Email
	}
	return in, recipient, patient.Name, nil
}
