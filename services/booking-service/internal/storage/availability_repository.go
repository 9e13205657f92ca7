package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nahid-mahmud/clinicbook/libs/db"
	"github.com/nahid-mahmud/clinicbook/services/booking-service/internal/model"
)

// AvailabilityRepository reads doctors' recurring weekly schedules.
type AvailabilityRepository struct {
	pool *db.Pool
}

func NewAvailabilityRepository(pool *db.Pool) *AvailabilityRepository {
	return &AvailabilityRepository{pool: pool}
}

func (r *AvailabilityRepository) Day(ctx context.Context, doctorID int64, weekday time.Weekday) (model.DayAvailability, bool, error) {
	day := model.DayAvailability{DoctorID: doctorID, Weekday: weekday}
	var start, end *string
	err := r.pool.QueryRow(ctx, `
		SELECT is_available,
			to_char(start_time, 'HH24:MI:SS'),
			to_char(end_time, 'HH24:MI:SS')
		FROM weekly_availability
		WHERE doctor_id = $1 AND day_of_week = $2
	`, doctorID, int(weekday)).Scan(&day.IsAvailable, &start, &end)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DayAvailability{}, false, nil
	}
	if err != nil {
		return model.DayAvailability{}, false, err
	}
	if start != nil {
		day.StartTime = *start
	}
	if end != nil {
		day.EndTime = *end
	}
	return day, true, nil
}
