package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nahid-mahmud/clinicbook/libs/db"
	"github.com/nahid-mahmud/clinicbook/services/booking-service/internal/booking"
	"github.com/nahid-mahmud/clinicbook/services/booking-service/internal/model"
	"github.com/nahid-mahmud/clinicbook/services/booking-service/internal/outbox"
)

// BookingRepository is the Postgres implementation of booking.Ledger and
// booking.TxManager. The no-double-booking guarantee comes from the partial
// unique index over (doctor_id, date, slot_time) WHERE status <> 'cancelled';
// a violation surfaces as booking.ErrSlotTaken regardless of isolation level.
type BookingRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewBookingRepository(pool *db.Pool, outboxRepo *outbox.Repository) *BookingRepository {
	return &BookingRepository{pool: pool, outbox: outboxRepo}
}

const appointmentColumns = `
	id, patient_id, doctor_id,
	to_char(date, 'YYYY-MM-DD'),
	to_char(slot_time, 'HH24:MI:SS'),
	status, symptoms, created_at, updated_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	err := row.Scan(
		&appt.ID,
		&appt.PatientID,
		&appt.DoctorID,
		&appt.Date,
		&appt.Time,
		&appt.Status,
		&appt.Symptoms,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	return appt, err
}

func (r *BookingRepository) Get(ctx context.Context, id int64) (model.Appointment, error) {
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, booking.ErrNotFound
	}
	return appt, err
}

func (r *BookingRepository) BookedTimes(ctx context.Context, doctorID int64, date string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT to_char(slot_time, 'HH24:MI:SS')
		FROM appointments
		WHERE doctor_id = $1
			AND date = $2::date
			AND status <> 'cancelled'
		ORDER BY slot_time
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var times []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

func (r *BookingRepository) ListForActor(ctx context.Context, actor model.Actor, limit int) ([]model.Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE patient_id = $1
		ORDER BY date DESC, slot_time DESC
		LIMIT $2`
	switch actor.Role {
	case model.RoleDoctor:
		query = `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE doctor_id = $1
		ORDER BY date DESC, slot_time DESC
		LIMIT $2`
	case model.RoleAdmin:
		query = `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE $1 >= 0
		ORDER BY date DESC, slot_time DESC
		LIMIT $2`
	}

	rows, err := r.pool.Query(ctx, query, actor.ID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	return appts, rows.Err()
}

// WithTx implements booking.TxManager.
func (r *BookingRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	return r.pool.WithTx(ctx, func(ctx context.Context, pgtx pgx.Tx) error {
		return fn(ctx, &txSession{tx: pgtx, outbox: r.outbox})
	})
}

// txSession implements booking.Tx over one pgx transaction.
type txSession struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (s *txSession) InsertAppointment(ctx context.Context, appt *model.Appointment) error {
	err := s.tx.QueryRow(ctx, `
		INSERT INTO appointments (patient_id, doctor_id, date, slot_time, status, symptoms)
		VALUES ($1, $2, $3::date, $4::time, $5, $6)
		RETURNING id, created_at, updated_at
	`, appt.PatientID, appt.DoctorID, appt.Date, appt.Time, appt.Status, appt.Symptoms).
		Scan(&appt.ID, &appt.CreatedAt, &appt.UpdatedAt)
	if isUniqueViolation(err) {
		return booking.ErrSlotTaken
	}
	return err
}

func (s *txSession) GetAppointmentForUpdate(ctx context.Context, id int64) (model.Appointment, error) {
	appt, err := scanAppointment(s.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, booking.ErrNotFound
	}
	return appt, err
}

func (s *txSession) SetStatus(ctx context.Context, id int64, status model.Status) (time.Time, error) {
	var updatedAt time.Time
	err := s.tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, id, status).Scan(&updatedAt)
	return updatedAt, err
}

func (s *txSession) ReplaceWeek(ctx context.Context, doctorID int64, week []model.DayAvailability) error {
	if _, err := s.tx.Exec(ctx, `
		DELETE FROM weekly_availability WHERE doctor_id = $1
	`, doctorID); err != nil {
		return err
	}
	for _, day := range week {
		var start, end any
		if day.IsAvailable {
			start, end = day.StartTime, day.EndTime
		}
		if _, err := s.tx.Exec(ctx, `
			INSERT INTO weekly_availability (doctor_id, day_of_week, is_available, start_time, end_time)
			VALUES ($1, $2, $3, $4::time, $5::time)
		`, doctorID, int(day.Weekday), day.IsAvailable, start, end); err != nil {
			return err
		}
	}
	return nil
}

func (s *txSession) AddOutboxEvent(ctx context.Context, evt outbox.Event) error {
	return s.outbox.Insert(ctx, s.tx, evt)
}

func (s *txSession) LookupIdempotencyKey(ctx context.Context, patientID int64, key string) (int64, bool, error) {
	var appointmentID int64
	err := s.tx.QueryRow(ctx, `
		SELECT appointment_id
		FROM booking_idempotency_keys
		WHERE patient_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, patientID, key).Scan(&appointmentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return appointmentID, true, nil
}

func (s *txSession) SaveIdempotencyKey(ctx context.Context, patientID int64, key string, appointmentID int64) error {
	_, err := s.tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (patient_id, idempotency_key, appointment_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (patient_id, idempotency_key) DO NOTHING
	`, patientID, key, appointmentID)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
