// Package importer loads doctor schedules and patient records from the CSV
// exports the clinic's front office produces. It is a read-through source:
// the core refreshes from these files on demand and never writes them.
package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/scheduling/internal/booking"
	"github.com/clinicdesk/scheduling/internal/calendar"
)

// Schedule CSV layout:
// date,day_of_week,doctor_id,doctor_name,specialty,time_slot,duration_minutes,status,location
//
// doctor_id values are clinic-local strings (DOC001...). They are mapped to
// stable UUIDs derived from the string so repeated imports agree.

type ScheduleRow struct {
	Doctor calendar.Doctor
	Slot   calendar.Slot
}

// LoadDoctorSchedule parses a schedule CSV into doctors and their slots.
func LoadDoctorSchedule(path string, loc *time.Location) ([]calendar.Doctor, map[uuid.UUID][]calendar.Slot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open schedule csv: %w", err)
	}
	defer f.Close()
	return parseSchedule(f, loc)
}

func parseSchedule(r io.Reader, loc *time.Location) ([]calendar.Doctor, map[uuid.UUID][]calendar.Slot, error) {
	if loc == nil {
		loc = time.Local
	}

	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read schedule header: %w", err)
	}
	col := indexColumns(header)
	for _, required := range []string{"date", "doctor_id", "doctor_name", "specialty", "time_slot", "duration_minutes", "status"} {
		if _, ok := col[required]; !ok {
			return nil, nil, fmt.Errorf("schedule csv missing column %q", required)
		}
	}

	doctorsByID := make(map[uuid.UUID]calendar.Doctor)
	slots := make(map[uuid.UUID][]calendar.Slot)
	var order []uuid.UUID

	line := 1
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, nil, fmt.Errorf("read schedule line %d: %w", line, err)
		}

		doctorID := DoctorID(rec[col["doctor_id"]])
		if _, ok := doctorsByID[doctorID]; !ok {
			d := calendar.Doctor{
				ID:        doctorID,
				Name:      rec[col["doctor_name"]],
				Specialty: rec[col["specialty"]],
			}
			if i, ok := col["location"]; ok {
				d.Location = rec[i]
			}
			doctorsByID[doctorID] = d
			order = append(order, doctorID)
		}

		if !strings.EqualFold(rec[col["status"]], "available") {
			continue
		}

		start, err := time.ParseInLocation("2006-01-02 15:04", rec[col["date"]]+" "+rec[col["time_slot"]], loc)
		if err != nil {
			return nil, nil, fmt.Errorf("parse slot time on line %d: %w", line, err)
		}
		minutes, err := strconv.Atoi(rec[col["duration_minutes"]])
		if err != nil || minutes <= 0 {
			return nil, nil, fmt.Errorf("invalid duration_minutes on line %d: %q", line, rec[col["duration_minutes"]])
		}

		slots[doctorID] = append(slots[doctorID], calendar.Slot{
			DoctorID:  doctorID,
			StartTime: start,
			Duration:  time.Duration(minutes) * time.Minute,
			Status:    calendar.SlotOpen,
		})
	}

	doctors := make([]calendar.Doctor, 0, len(order))
	for _, id := range order {
		doctors = append(doctors, doctorsByID[id])
	}
	return doctors, slots, nil
}

// Patient CSV layout:
// patient_id,first_name,last_name,email,phone,visit_count,insurance_provider,member_id

// LoadPatients parses the patient database CSV.
func LoadPatients(path string) ([]booking.Patient, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open patient csv: %w", err)
	}
	defer f.Close()
	return parsePatients(f)
}

func parsePatients(r io.Reader) ([]booking.Patient, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read patient header: %w", err)
	}
	col := indexColumns(header)
	for _, required := range []string{"patient_id", "first_name", "last_name"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("patient csv missing column %q", required)
		}
	}

	var out []booking.Patient
	line := 1
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read patient line %d: %w", line, err)
		}

		p := booking.Patient{
			ID:   PatientID(rec[col["patient_id"]]),
			Name: strings.TrimSpace(rec[col["first_name"]] + " " + rec[col["last_name"]]),
		}
		if i, ok := col["email"]; ok && rec[i] != "" {
			v := rec[i]
			p.Email = &v
		}
		if i, ok := col["phone"]; ok && rec[i] != "" {
			v := rec[i]
			p.Phone = &v
		}
		if i, ok := col["visit_count"]; ok && rec[i] != "" {
			if n, err := strconv.Atoi(rec[i]); err == nil && n >= 0 {
				p.VisitCount = n
			}
		}
		if i, ok := col["insurance_provider"]; ok && rec[i] != "" {
			ref := rec[i]
			if j, ok := col["member_id"]; ok && rec[j] != "" {
				ref = ref + "/" + rec[j]
			}
			p.InsuranceRef = &ref
		}
		out = append(out, p)
	}
	return out, nil
}

// DoctorID derives a stable UUID from a clinic-local doctor identifier.
func DoctorID(local string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("doctor:"+strings.TrimSpace(local)))
}

// PatientID derives a stable UUID from a clinic-local patient identifier.
func PatientID(local string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("patient:"+strings.TrimSpace(local)))
}

func indexColumns(header []string) map[string]int {
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return col
}
