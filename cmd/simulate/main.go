// Command simulate drives concurrent load against a running api-server:
// bookings into random windows, confirms, cancels, reschedules and patient
// replies. It reports success, conflict and latency per operation so slot
// contention behavior can be observed under pressure.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/scheduling/internal/importer"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	BookRatio       float64
	ConfirmRatio    float64
	CancelRatio     float64
	RescheduleRatio float64
	ReplyRatio      float64
	ReadRatio       float64
	SchedulesCSV    string
	PatientsCSV     string
	HorizonDays     int
}

type DataPool struct {
	Patients []uuid.UUID
	Doctors  []uuid.UUID

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total    int64
	Success  int64
	Conflict int64
	Error    int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.latencies))
	copy(latencies, om.latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[len(latencies)*50/100]
	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]
	return avg, min, max, p50, p95
}

type Metrics struct {
	Book       OperationMetrics
	Confirm    OperationMetrics
	Cancel     OperationMetrics
	Reschedule OperationMetrics
	Reply      OperationMetrics
	Read       OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

var reasons = []string{"consultation", "follow-up", "physical", "urgent", "specialist"}

var replyBodies = []string{
	"CONFIRM",
	"yes",
	"CANCEL",
	"I need to RESCHEDULE please",
	"what time was it again?",
	"STOP",
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d book=%.2f confirm=%.2f cancel=%.2f reschedule=%.2f reply=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.BookRatio, cfg.ConfirmRatio, cfg.CancelRatio, cfg.RescheduleRatio, cfg.ReplyRatio, cfg.ReadRatio)

	pool, err := loadDataPool(cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	log.Printf("loaded: %d patients, %d doctors", len(pool.Patients), len(pool.Doctors))

	sim := &Simulator{
		config: cfg,
		pool:   pool,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 10),
		BookRatio:       getFloat("SIM_BOOK_RATIO", 0.4),
		ConfirmRatio:    getFloat("SIM_CONFIRM_RATIO", 0.1),
		CancelRatio:     getFloat("SIM_CANCEL_RATIO", 0.1),
		RescheduleRatio: getFloat("SIM_RESCHEDULE_RATIO", 0.05),
		ReplyRatio:      getFloat("SIM_REPLY_RATIO", 0.1),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.25),
		SchedulesCSV:    getEnv("SCHEDULES_CSV", "data/doctor_schedules.csv"),
		PatientsCSV:     getEnv("PATIENTS_CSV", "data/patient_database.csv"),
		HorizonDays:     getInt("SIM_HORIZON_DAYS", 14),
	}

	total := cfg.BookRatio + cfg.ConfirmRatio + cfg.CancelRatio + cfg.RescheduleRatio + cfg.ReplyRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookRatio /= total
		cfg.ConfirmRatio /= total
		cfg.CancelRatio /= total
		cfg.RescheduleRatio /= total
		cfg.ReplyRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(cfg SimConfig) (*DataPool, error) {
	pool := &DataPool{}

	patients, err := importer.LoadPatients(cfg.PatientsCSV)
	if err != nil {
		return nil, err
	}
	for _, p := range patients {
		pool.Patients = append(pool.Patients, p.ID)
	}

	doctors, _, err := importer.LoadDoctorSchedule(cfg.SchedulesCSV, time.Local)
	if err != nil {
		return nil, err
	}
	for _, d := range doctors {
		pool.Doctors = append(pool.Doctors, d.ID)
	}

	if len(pool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded from %s", cfg.PatientsCSV)
	}
	if len(pool.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded from %s", cfg.SchedulesCSV)
	}
	return pool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			cut := s.config.BookRatio
			switch {
			case r < cut:
				s.doBook(ctx, rng)
			case r < cut+s.config.ConfirmRatio:
				s.doConfirm(ctx, rng)
			case r < cut+s.config.ConfirmRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			case r < cut+s.config.ConfirmRatio+s.config.CancelRatio+s.config.RescheduleRatio:
				s.doReschedule(ctx, rng)
			case r < cut+s.config.ConfirmRatio+s.config.CancelRatio+s.config.RescheduleRatio+s.config.ReplyRatio:
				s.doReply(ctx, rng)
			default:
				s.doRead(ctx, rng)
			}
		}
	}
}

// randomWindow picks a half-day window inside the schedule horizon. Narrow
// windows on few doctors are what produce contention.
func (s *Simulator) randomWindow(rng *rand.Rand) (time.Time, time.Time) {
	day := rng.Intn(s.config.HorizonDays) + 1
	from := time.Now().AddDate(0, 0, day).Truncate(24 * time.Hour).Add(9 * time.Hour)
	return from, from.Add(4 * time.Hour)
}

func (s *Simulator) doBook(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	from, to := s.randomWindow(rng)

	body := map[string]string{
		"patient_id":  patientID.String(),
		"reason":      reasons[rng.Intn(len(reasons))],
		"window_from": from.Format(time.RFC3339),
		"window_to":   to.Format(time.RFC3339),
	}
	// Half the bookings target a specific doctor so runs collide.
	if rng.Intn(2) == 0 {
		body["doctor_id"] = s.pool.Doctors[rng.Intn(len(s.pool.Doctors))].String()
	}

	start := time.Now()
	resp, err := s.post(ctx, "/appointments", body)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusCreated {
			success = true
			var created struct {
				ID uuid.UUID `json:"id"`
			}
			raw, _ := io.ReadAll(resp.Body)
			if json.Unmarshal(raw, &created) == nil && created.ID != uuid.Nil {
				s.pool.AddAppointment(created.ID)
			}
		} else if resp.StatusCode == http.StatusConflict {
			conflict = true
		}
	}

	s.metrics.Book.Record(latency, success, conflict)
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	resp, err := s.post(ctx, fmt.Sprintf("/appointments/%s/confirm", apptID), nil)
	latency := time.Since(start)

	success, conflict := interpret(resp, err, http.StatusOK)
	s.metrics.Confirm.Record(latency, success, conflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	resp, err := s.post(ctx, fmt.Sprintf("/appointments/%s/cancel", apptID),
		map[string]string{"reason": "simulated cancellation"})
	latency := time.Since(start)

	success, conflict := interpret(resp, err, http.StatusNoContent)
	s.metrics.Cancel.Record(latency, success, conflict)
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	from, to := s.randomWindow(rng)

	start := time.Now()
	resp, err := s.post(ctx, fmt.Sprintf("/appointments/%s/reschedule", apptID), map[string]string{
		"window_from": from.Format(time.RFC3339),
		"window_to":   to.Format(time.RFC3339),
	})
	latency := time.Since(start)

	success, conflict := interpret(resp, err, http.StatusOK)
	s.metrics.Reschedule.Record(latency, success, conflict)
}

func (s *Simulator) doReply(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	body := map[string]string{
		"response_id":    uuid.New().String(),
		"appointment_id": apptID.String(),
		"body":           replyBodies[rng.Intn(len(replyBodies))],
	}

	start := time.Now()
	resp, err := s.post(ctx, "/responses", body)
	latency := time.Since(start)

	success, conflict := interpret(resp, err, http.StatusOK)
	s.metrics.Reply.Record(latency, success, conflict)
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	var url string
	if apptID, ok := s.pool.RandomAppointment(rng); ok && rng.Intn(2) == 0 {
		url = fmt.Sprintf("%s/appointments/%s", s.config.APIBaseURL, apptID)
	} else {
		patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
		url = fmt.Sprintf("%s/appointments?patient_id=%s&limit=20", s.config.APIBaseURL, patientID)
	}

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}
	s.metrics.Read.Record(latency, success, false)
}

func (s *Simulator) post(ctx context.Context, path string, body map[string]string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.client.Do(req)
}

func interpret(resp *http.Response, err error, wantStatus int) (success, conflict bool) {
	if err != nil {
		return false, false
	}
	defer resp.Body.Close()
	if resp.StatusCode == wantStatus {
		return true, false
	}
	if resp.StatusCode == http.StatusConflict {
		return false, true
	}
	return false, false
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n================================================================================")
	fmt.Println("SIMULATION REPORT")
	fmt.Println("================================================================================")
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n\n", s.config.Workers)

	printOperationReport("Book", &s.metrics.Book)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Reply", &s.metrics.Reply)
	printOperationReport("Read", &s.metrics.Read)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	errCount := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if errCount > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errCount, float64(errCount)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
