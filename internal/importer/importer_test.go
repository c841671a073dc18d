package importer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/scheduling/internal/calendar"
)

const scheduleCSV = `date,day_of_week,doctor_id,doctor_name,specialty,time_slot,duration_minutes,status,location
2026-09-16,Wednesday,DOC001,Dr. Sarah Johnson,Cardiology,09:00,30,available,Building A
2026-09-16,Wednesday,DOC001,Dr. Sarah Johnson,Cardiology,09:30,30,available,Building A
2026-09-16,Wednesday,DOC001,Dr. Sarah Johnson,Cardiology,10:00,30,booked,Building A
2026-09-16,Wednesday,DOC002,Dr. Raj Patel,Pediatrics,09:00,30,available,Building B
`

func TestParseSchedule(t *testing.T) {
	doctors, slots, err := parseSchedule(strings.NewReader(scheduleCSV), time.UTC)
	require.NoError(t, err)

	require.Len(t, doctors, 2)
	assert.Equal(t, "Dr. Sarah Johnson", doctors[0].Name)
	assert.Equal(t, "Cardiology", doctors[0].Specialty)
	assert.Equal(t, "Building A", doctors[0].Location)
	assert.Equal(t, DoctorID("DOC001"), doctors[0].ID)

	// Only available rows become open slots; the booked 10:00 row is skipped.
	require.Len(t, slots[doctors[0].ID], 2)
	first := slots[doctors[0].ID][0]
	assert.Equal(t, time.Date(2026, 9, 16, 9, 0, 0, 0, time.UTC), first.StartTime)
	assert.Equal(t, 30*time.Minute, first.Duration)
	assert.Equal(t, calendar.SlotOpen, first.Status)

	require.Len(t, slots[doctors[1].ID], 1)
}

func TestParseScheduleMissingColumn(t *testing.T) {
	_, _, err := parseSchedule(strings.NewReader("date,doctor_id\n2026-09-16,DOC001\n"), time.UTC)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing column")
}

func TestParseScheduleBadTime(t *testing.T) {
	bad := `date,day_of_week,doctor_id,doctor_name,specialty,time_slot,duration_minutes,status,location
2026-09-16,Wednesday,DOC001,Dr. X,ENT,25 o'clock,30,available,Main
`
	_, _, err := parseSchedule(strings.NewReader(bad), time.UTC)
	require.Error(t, err)
}

const patientCSV = `patient_id,first_name,last_name,email,phone,visit_count,insurance_provider,member_id
PAT00001,Jane,Moreno,jane@example.com,555-0101,4,BlueCross,M12345678
PAT00002,Omar,Haddad,,,0,,
`

func TestParsePatients(t *testing.T) {
	patients, err := parsePatients(strings.NewReader(patientCSV))
	require.NoError(t, err)
	require.Len(t, patients, 2)

	jane := patients[0]
	assert.Equal(t, PatientID("PAT00001"), jane.ID)
	assert.Equal(t, "Jane Moreno", jane.Name)
	require.NotNil(t, jane.Email)
	assert.Equal(t, "jane@example.com", *jane.Email)
	require.NotNil(t, jane.Phone)
	assert.Equal(t, 4, jane.VisitCount)
	require.NotNil(t, jane.InsuranceRef)
	assert.Equal(t, "BlueCross/M12345678", *jane.InsuranceRef)

	omar := patients[1]
	assert.Equal(t, "Omar Haddad", omar.Name)
	assert.Nil(t, omar.Email)
	assert.Nil(t, omar.Phone)
	assert.Nil(t, omar.InsuranceRef)
	assert.Equal(t, 0, omar.VisitCount)
}

func TestStableIDs(t *testing.T) {
	assert.Equal(t, DoctorID("DOC001"), DoctorID(" DOC001 "))
	assert.Equal(t, PatientID("PAT00001"), PatientID("PAT00001"))
	assert.NotEqual(t, DoctorID("DOC001"), PatientID("DOC001"), "doctor and patient namespaces never collide")
}
