// Command seed generates the clinic CSV fixtures the scheduler imports at
// startup: a doctor schedule grid of 30 minute slots and a patient database.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

var insurers = []string{
	"BlueCross",
	"Aetna",
	"UnitedHealth",
	"Cigna",
	"Kaiser",
	"Humana",
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var (
		outDir   = flag.String("out", "data", "output directory for CSV fixtures")
		doctors  = flag.Int("doctors", 20, "number of doctors")
		patients = flag.Int("patients", 500, "number of patients")
		days     = flag.Int("days", 14, "number of schedule days starting tomorrow")
	)
	flag.Parse()

	gofakeit.Seed(time.Now().UnixNano())

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}

	schedulePath := filepath.Join(*outDir, "doctor_schedules.csv")
	if err := writeSchedules(schedulePath, *doctors, *days); err != nil {
		log.Fatalf("write schedules: %v", err)
	}
	log.Printf("wrote %s", schedulePath)

	patientPath := filepath.Join(*outDir, "patient_database.csv")
	if err := writePatients(patientPath, *patients); err != nil {
		log.Fatalf("write patients: %v", err)
	}
	log.Printf("wrote %s", patientPath)

	log.Println("seed complete")
}

func writeSchedules(path string, doctorCount, days int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"date", "day_of_week", "doctor_id", "doctor_name", "specialty",
		"time_slot", "duration_minutes", "status", "location",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	firstDay := time.Now().AddDate(0, 0, 1)

	for i := 0; i < doctorCount; i++ {
		doctorID := fmt.Sprintf("DOC%03d", i+1)
		name := "Dr. " + gofakeit.Name()
		specialty := specialties[gofakeit.Number(0, len(specialties)-1)]
		location := fmt.Sprintf("Building %s, Room %d", gofakeit.RandomString([]string{"A", "B", "C"}), gofakeit.Number(100, 450))

		for day := 0; day < days; day++ {
			date := firstDay.AddDate(0, 0, day)
			if date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
				continue
			}

			// 9:00 to 17:00 on a 30 minute grid, some slots pre-blocked.
			for hour := 9; hour < 17; hour++ {
				for _, minute := range []int{0, 30} {
					status := "available"
					if gofakeit.Number(0, 99) < 15 {
						status = "booked"
					}
					row := []string{
						date.Format("2006-01-02"),
						date.Weekday().String(),
						doctorID,
						name,
						specialty,
						fmt.Sprintf("%02d:%02d", hour, minute),
						"30",
						status,
						location,
					}
					if err := w.Write(row); err != nil {
						return err
					}
				}
			}
		}
	}

	w.Flush()
	return w.Error()
}

func writePatients(path string, count int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"patient_id", "first_name", "last_name", "email", "phone",
		"visit_count", "insurance_provider", "member_id",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for i := 0; i < count; i++ {
		visitCount := 0
		// Roughly two thirds are returning patients.
		if gofakeit.Number(0, 2) > 0 {
			visitCount = gofakeit.Number(1, 12)
		}

		row := []string{
			fmt.Sprintf("PAT%05d", i+1),
			gofakeit.FirstName(),
			gofakeit.LastName(),
			gofakeit.Email(),
			gofakeit.Phone(),
			strconv.Itoa(visitCount),
			insurers[gofakeit.Number(0, len(insurers)-1)],
			fmt.Sprintf("%s%08d", gofakeit.RandomString([]string{"M", "G", "P"}), gofakeit.Number(1, 99999999)),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}
