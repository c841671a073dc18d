package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/scheduling/internal/booking"
	"github.com/clinicdesk/scheduling/internal/calendar"
	"github.com/clinicdesk/scheduling/internal/config"
	"github.com/clinicdesk/scheduling/internal/db"
	"github.com/clinicdesk/scheduling/internal/importer"
	"github.com/clinicdesk/scheduling/internal/notify"
	redisclient "github.com/clinicdesk/scheduling/internal/redis"
	"github.com/clinicdesk/scheduling/internal/reminder"
)

const onceTTL = 72 * time.Hour

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("reminder-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running reminder worker in env=%s interval=%s", cfg.Env, cfg.TickInterval)

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

	// The worker only needs the calendar for doctor names and locations in
	// reminder templates; slot state lives with the api-server.
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

	bookingRepo := booking.NewPgRepository(pgPool)
	reminderRepo := reminder.NewPgRepository(pgPool)

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
	}
	dispatcher := notify.NewDispatcher(bookingRepo, bookingRepo, cal, sender, cfg.NotifyFromName)

	once := redisclient.NewRedisOnceRegistry(rdb, onceTTL)

	engine := reminder.NewEngine(reminderRepo, dispatcher,
		appointmentActivity(bookingRepo),
		once,
		reminder.Offsets{Stage24h: cfg.Offset24h, Stage4h: cfg.Offset4h, Stage1h: cfg.Offset1h},
	)

	// Run once at startup
	runOnce(rootCtx, engine)

	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Println("shutdown signal received, stopping reminder worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, engine)
		}
	}
}

// runOnce pulls any reminder states written since the last tick, then ticks
// the engine against wall clock time.
func runOnce(ctx context.Context, engine *reminder.Engine) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	if _, err := engine.Resume(runCtx); err != nil {
		log.Printf("resume reminder states: %v", err)
		return
	}

	start := time.Now()
	stats := engine.Tick(runCtx, start)
	log.Printf("tick complete in %s: appointments=%d sent=%d suppressed=%d failures=%d",
		time.Since(start), stats.Appointments, stats.Sent, stats.Suppressed, stats.Failures)
}

// appointmentActivity maps persisted appointment status to reminder activity
// so a cancelled or completed visit never gets another reminder.
func appointmentActivity(repo booking.Repository) reminder.ActivityFunc {
	return func(ctx context.Context, appointmentID uuid.UUID) (reminder.Activity, error) {
		appt, err := repo.GetAppointmentByID(ctx, appointmentID)
		if err != nil {
			return reminder.ActivityTerminal, err
		}
		if appt.Status.Terminal() {
			return reminder.ActivityTerminal, nil
		}
		return reminder.ActivityActive, nil
	}
}
