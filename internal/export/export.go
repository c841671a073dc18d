// Package export writes read-only reporting snapshots of appointments and
// their reminder progress. It never mutates core state.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/scheduling/internal/booking"
	"github.com/clinicdesk/scheduling/internal/reminder"
)

// AppointmentLister reads appointment rows for reporting.
type AppointmentLister interface {
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]booking.Appointment, error)
	ListActiveAppointments(ctx context.Context) ([]booking.Appointment, error)
}

// StateLister reads reminder states for reporting.
type StateLister interface {
	ListStates(ctx context.Context) ([]reminder.State, error)
}

type Exporter struct {
	appointments AppointmentLister
	states       StateLister
}

func NewExporter(appointments AppointmentLister, states StateLister) *Exporter {
	return &Exporter{appointments: appointments, states: states}
}

var header = []string{
	"appointment_id", "patient_id", "doctor_id", "start_time", "duration_minutes",
	"status", "reason",
	"stage24_status", "stage4_status", "stage1_status",
}

// WriteActiveCSV writes one row per active appointment joined with its
// reminder progress.
func (e *Exporter) WriteActiveCSV(ctx context.Context, w io.Writer) (int, error) {
	appointments, err := e.appointments.ListActiveAppointments(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active appointments: %w", err)
	}

	states, err := e.states.ListStates(ctx)
	if err != nil {
		return 0, fmt.Errorf("list reminder states: %w", err)
	}
	byAppointment := make(map[uuid.UUID]reminder.State, len(states))
	for _, st := range states {
		byAppointment[st.AppointmentID] = st
	}

	out := csv.NewWriter(w)
	if err := out.Write(header); err != nil {
		return 0, err
	}

	rows := 0
	for _, a := range appointments {
		row := []string{
			a.ID.String(),
			a.PatientID.String(),
			a.DoctorID.String(),
			a.StartTime.Format(time.RFC3339),
			strconv.Itoa(a.DurationMinutes),
			string(a.Status),
			string(a.Reason),
			stageStatus(byAppointment, a.ID, reminder.Stage24h),
			stageStatus(byAppointment, a.ID, reminder.Stage4h),
			stageStatus(byAppointment, a.ID, reminder.Stage1h),
		}
		if err := out.Write(row); err != nil {
			return rows, err
		}
		rows++
	}

	out.Flush()
	return rows, out.Error()
}

func stageStatus(states map[uuid.UUID]reminder.State, appointmentID uuid.UUID, stage reminder.Stage) string {
	st, ok := states[appointmentID]
	if !ok {
		return ""
	}
	return string(st.Stages[stage].Status)
}
