package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) SaveState(ctx context.Context, st State) error {
	s24 := st.Stages[Stage24h]
	s4 := st.Stages[Stage4h]
	s1 := st.Stages[Stage1h]

	_, err := r.pool.Exec(ctx, `
		INSERT INTO reminder_states (
			appointment_id, appointment_start,
			stage24_status, stage24_due, stage24_sent_at,
			stage4_status, stage4_due, stage4_sent_at,
			stage1_status, stage1_due, stage1_sent_at,
			updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (appointment_id) DO UPDATE SET
			appointment_start = EXCLUDED.appointment_start,
			stage24_status = EXCLUDED.stage24_status,
			stage24_due = EXCLUDED.stage24_due,
			stage24_sent_at = EXCLUDED.stage24_sent_at,
			stage4_status = EXCLUDED.stage4_status,
			stage4_due = EXCLUDED.stage4_due,
			stage4_sent_at = EXCLUDED.stage4_sent_at,
			stage1_status = EXCLUDED.stage1_status,
			stage1_due = EXCLUDED.stage1_due,
			stage1_sent_at = EXCLUDED.stage1_sent_at,
			updated_at = now()
	`, st.AppointmentID, st.AppointmentStart,
		string(s24.Status), s24.DueAt, s24.SentAt,
		string(s4.Status), s4.DueAt, s4.SentAt,
		string(s1.Status), s1.DueAt, s1.SentAt,
	)
	return err
}

func (r *PgRepository) GetState(ctx context.Context, appointmentID uuid.UUID) (State, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT appointment_id, appointment_start,
		       stage24_status, stage24_due, stage24_sent_at,
		       stage4_status, stage4_due, stage4_sent_at,
		       stage1_status, stage1_due, stage1_sent_at,
		       updated_at
		FROM reminder_states
		WHERE appointment_id = $1
	`, appointmentID)
	return scanState(row)
}

func (r *PgRepository) ListStates(ctx context.Context) ([]State, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT appointment_id, appointment_start,
		       stage24_status, stage24_due, stage24_sent_at,
		       stage4_status, stage4_due, stage4_sent_at,
		       stage1_status, stage1_due, stage1_sent_at,
		       updated_at
		FROM reminder_states
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanState(row pgx.Row) (State, error) {
	var (
		st                     State
		s24, s4, s1            string
		d24, d4, d1            time.Time
		sent24, sent4, sent1   *time.Time
	)

	err := row.Scan(
		&st.AppointmentID, &st.AppointmentStart,
		&s24, &d24, &sent24,
		&s4, &d4, &sent4,
		&s1, &d1, &sent1,
		&st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return State{}, ErrStateNotFound
		}
		return State{}, err
	}

	st.Stages = map[Stage]StageState{
		Stage24h: {Status: StageStatus(s24), DueAt: d24, SentAt: sent24},
		Stage4h:  {Status: StageStatus(s4), DueAt: d4, SentAt: sent4},
		Stage1h:  {Status: StageStatus(s1), DueAt: d1, SentAt: sent1},
	}
	return st, nil
}
