package storage

import (
	"context"

	"github.com/nahid-mahmud/clinicbook/libs/db"
)

type Notification struct {
	AppointmentID  int64
	EventType      string
	RecipientRole  string
	RecipientEmail string
	RecipientPhone string
	Channel        string
	Status         string
	Detail         string
}

// NotificationsRepository is the delivery audit log. One row per attempted
// channel, success or failure.
type NotificationsRepository struct {
	pool *db.Pool
}

func NewNotificationsRepository(pool *db.Pool) *NotificationsRepository {
	return &NotificationsRepository{pool: pool}
}

func (r *NotificationsRepository) Insert(ctx context.Context, n Notification) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (appointment_id, event_type, recipient_role, recipient_email, recipient_phone, channel, status, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, n.AppointmentID, n.EventType, n.RecipientRole, n.RecipientEmail, n.RecipientPhone, n.Channel, n.Status, n.Detail)
	return err
}
