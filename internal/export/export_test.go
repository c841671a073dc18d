package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/scheduling/internal/booking"
	"github.com/clinicdesk/scheduling/internal/reminder"
)

func TestWriteActiveCSV(t *testing.T) {
	ctx := context.Background()
	appts := booking.NewMemoryRepository()
	states := reminder.NewMemoryRepository()

	start := time.Date(2026, 9, 16, 9, 0, 0, 0, time.UTC)
	scheduled := booking.Appointment{
		ID:              uuid.New(),
		PatientID:       uuid.New(),
		DoctorID:        uuid.New(),
		StartTime:       start,
		DurationMinutes: 30,
		Reason:          "follow-up",
		Status:          booking.StatusScheduled,
	}
	confirmed := booking.Appointment{
		ID:              uuid.New(),
		PatientID:       uuid.New(),
		DoctorID:        scheduled.DoctorID,
		StartTime:       start.Add(2 * time.Hour),
		DurationMinutes: 60,
		Reason:          "consultation",
		Status:          booking.StatusConfirmed,
	}
	cancelled := booking.Appointment{
		ID:        uuid.New(),
		PatientID: uuid.New(),
		DoctorID:  scheduled.DoctorID,
		StartTime: start.Add(4 * time.Hour),
		Status:    booking.StatusCancelled,
	}
	for _, a := range []booking.Appointment{scheduled, confirmed, cancelled} {
		a := a
		require.NoError(t, appts.CreateAppointment(ctx, &a))
	}

	require.NoError(t, states.SaveState(ctx, reminder.State{
		AppointmentID:    scheduled.ID,
		AppointmentStart: start,
		Stages: map[reminder.Stage]reminder.StageState{
			reminder.Stage24h: {Status: reminder.StageSent},
			reminder.Stage4h:  {Status: reminder.StageDue},
			reminder.Stage1h:  {Status: reminder.StagePending},
		},
	}))

	var buf bytes.Buffer
	rows, err := NewExporter(appts, states).WriteActiveCSV(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, rows, "cancelled appointments are excluded")

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, header, records[0])

	// Sorted by start time: the scheduled appointment first.
	first := records[1]
	assert.Equal(t, scheduled.ID.String(), first[0])
	assert.Equal(t, start.Format(time.RFC3339), first[3])
	assert.Equal(t, "30", first[4])
	assert.Equal(t, string(booking.StatusScheduled), first[5])
	assert.Equal(t, "sent", first[7])
	assert.Equal(t, "due", first[8])
	assert.Equal(t, "pending", first[9])

	// No reminder state yet leaves the stage columns blank.
	second := records[2]
	assert.Equal(t, confirmed.ID.String(), second[0])
	assert.Equal(t, "", second[7])
	assert.Equal(t, "", second[8])
	assert.Equal(t, "", second[9])
}

func TestWriteActiveCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	rows, err := NewExporter(booking.NewMemoryRepository(), reminder.NewMemoryRepository()).WriteActiveCSV(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, 0, rows)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1, "header only")
}
