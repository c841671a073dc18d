package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/scheduling/internal/allocator"
	"github.com/clinicdesk/scheduling/internal/api"
	"github.com/clinicdesk/scheduling/internal/booking"
	"github.com/clinicdesk/scheduling/internal/calendar"
	"github.com/clinicdesk/scheduling/internal/config"
	"github.com/clinicdesk/scheduling/internal/db"
	"github.com/clinicdesk/scheduling/internal/export"
	"github.com/clinicdesk/scheduling/internal/importer"
	"github.com/clinicdesk/scheduling/internal/notify"
	redisclient "github.com/clinicdesk/scheduling/internal/redis"
	"github.com/clinicdesk/scheduling/internal/reminder"
	"github.com/clinicdesk/scheduling/internal/response"
)

// onceTTL covers the longest reminder horizon plus slack, so a replayed
// notification or response key stays deduplicated for the life of the
// appointment.
const onceTTL = 72 * time.Hour

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running in env=%s http_port=%s", cfg.Env, cfg.HTTPPort)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	rdb, err := redisclient.Connect(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	cal := calendar.NewStore(cfg.HoldTTL)
	doctors, slots, err := importer.LoadDoctorSchedule(cfg.SchedulesCSV, time.Local)
	if err != nil {
		log.Fatalf("load doctor schedules: %v", err)
	}
	for _, d := range doctors {
		cal.AddDoctor(d)
		if err := cal.AddSlots(d.ID, slots[d.ID]); err != nil {
			log.Fatalf("add slots for doctor %s: %v", d.ID, err)
		}
	}
	log.Printf("loaded %d doctors from %s", len(doctors), cfg.SchedulesCSV)

	bookingRepo := booking.NewPgRepository(pgPool)
	reminderRepo := reminder.NewPgRepository(pgPool)

	patients, err := importer.LoadPatients(cfg.PatientsCSV)
	if err != nil {
		log.Fatalf("load patients: %v", err)
	}
	for i := range patients {
		if err := bookingRepo.UpsertPatient(rootCtx, &patients[i]); err != nil {
			log.Fatalf("upsert patient %s: %v", patients[i].ID, err)
		}
	}
	log.Printf("loaded %d patients from %s", len(patients), cfg.PatientsCSV)

	var sender notify.Sender = notify.LogSender{}
	if cfg.SendGridAPIKey != "" {
		sg, err := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.NotifyFrom,
			FromName:  cfg.NotifyFromName,
		})
		if err != nil {
			log.Fatalf("sendgrid setup: %v", err)
		}
		sender = sg
		log.Println("email delivery via SendGrid")
	} else {
		log.Println("SENDGRID_API_KEY not set, logging notifications instead of sending")
	}
	dispatcher := notify.NewDispatcher(bookingRepo, bookingRepo, cal, sender, cfg.NotifyFromName)

	once := redisclient.NewRedisOnceRegistry(rdb, onceTTL)
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)

	// Coordinator and reminder engine reference each other: the engine asks
	// the coordinator whether an appointment is still active before sending.
	var coordinator *booking.Service
	engine := reminder.NewEngine(reminderRepo, dispatcher,
		func(ctx context.Context, appointmentID uuid.UUID) (reminder.Activity, error) {
			return coordinator.Activity(ctx, appointmentID)
		},
		once,
		reminder.Offsets{Stage24h: cfg.Offset24h, Stage4h: cfg.Offset4h, Stage1h: cfg.Offset1h},
	)
	coordinator = booking.NewService(bookingRepo, cal, allocator.New(cal), engine, locker, dispatcher)

	restored, err := coordinator.Resume(rootCtx)
	if err != nil {
		log.Fatalf("restore booked slots: %v", err)
	}
	resumed, err := engine.Resume(rootCtx)
	if err != nil {
		log.Fatalf("resume reminder states: %v", err)
	}
	log.Printf("restored %d appointments, resumed %d reminder schedules", restored, resumed)

	processor := response.NewProcessor(coordinator, engine, once)
	exporter := export.NewExporter(bookingRepo, reminderRepo)

	// Sweep expired holds so a crashed booking attempt cannot keep a slot
	// reserved past its TTL.
	go func() {
		ticker := time.NewTicker(cfg.HoldTTL)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				if n := cal.ExpireHolds(time.Now()); n > 0 {
					log.Printf("expired %d stale slot holds", n)
				}
			}
		}
	}()

	router := api.NewRouter(api.RouterConfig{
		Coordinator: coordinator,
		Calendar:    cal,
		Reminders:   engine,
		Responses:   processor,
		Exporter:    exporter,
		PgPool:      pgPool,
		Redis:       rdb,
		Env:         cfg.Env,
		Version:     version,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		log.Fatalf("http server error: %v", err)
	case <-rootCtx.Done():
	}

	log.Println("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

var version = "dev"
