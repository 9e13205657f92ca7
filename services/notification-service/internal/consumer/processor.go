package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nahid-mahmud/clinicbook/services/notification-service/internal/email"
	"github.com/nahid-mahmud/clinicbook/services/notification-service/internal/sms"
	"github.com/nahid-mahmud/clinicbook/services/notification-service/internal/storage"
)

const (
	TopicAppointmentBooked        = "booking.appointment.booked.v1"
	TopicAppointmentStatusChanged = "booking.appointment.status_changed.v1"
)

// appointmentEvent mirrors the payload the booking service writes to its
// outbox.
type appointmentEvent struct {
	AppointmentID    int64  `json:"appointment_id"`
	PatientName      string `json:"patient_name"`
	DoctorName       string `json:"doctor_name"`
	Date             string `json:"date"`
	Time             string `json:"time"`
	Status           string `json:"status"`
	RecipientRole    string `json:"recipient_role"`
	RecipientEmail   string `json:"recipient_email"`
	RecipientPhone   string `json:"recipient_phone"`
	LateCancellation bool   `json:"late_cancellation"`
}

type auditor interface {
	Insert(ctx context.Context, n storage.Notification) error
}

// Processor turns appointment events into email and SMS deliveries and logs
// every attempt to the notifications table.
type Processor struct {
	email  email.Sender
	sms    sms.Sender
	audit  auditor
	logger *slog.Logger
}

func NewProcessor(emailSender email.Sender, smsSender sms.Sender, audit *storage.NotificationsRepository, logger *slog.Logger) *Processor {
	return &Processor{email: emailSender, sms: smsSender, audit: audit, logger: logger}
}

func (p *Processor) Handle(ctx context.Context, msg kafka.Message) error {
	var evt appointmentEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return fmt.Errorf("decode %s payload: %w", msg.Topic, err)
	}

	subject, body := composeMessage(msg.Topic, evt)
	if subject == "" {
		p.logger.Warn("unknown event topic", "topic", msg.Topic)
		return nil
	}

	p.deliverEmail(ctx, msg.Topic, evt, subject, body)
	p.deliverSMS(ctx, msg.Topic, evt, body)
	return nil
}

func (p *Processor) deliverEmail(ctx context.Context, eventType string, evt appointmentEvent, subject, body string) {
	record := storage.Notification{
		AppointmentID:  evt.AppointmentID,
		EventType:      eventType,
		RecipientRole:  evt.RecipientRole,
		RecipientEmail: evt.RecipientEmail,
		Channel:        "email",
	}
	switch {
	case evt.RecipientEmail == "":
		record.Status = "skipped"
		record.Detail = "no email address on file"
	default:
		if err := p.email.Send(evt.RecipientEmail, subject, body); err != nil {
			record.Status = "failed"
			record.Detail = err.Error()
			p.logger.Error("email delivery failed", "appointment_id", evt.AppointmentID, "err", err)
		} else {
			record.Status = "sent"
		}
	}
	if err := p.audit.Insert(ctx, record); err != nil {
		p.logger.Error("notification audit insert failed", "err", err)
	}
}

func (p *Processor) deliverSMS(ctx context.Context, eventType string, evt appointmentEvent, body string) {
	record := storage.Notification{
		AppointmentID:  evt.AppointmentID,
		EventType:      eventType,
		RecipientRole:  evt.RecipientRole,
		RecipientPhone: evt.RecipientPhone,
		Channel:        "sms",
	}
	switch {
	case evt.RecipientPhone == "":
		record.Status = "skipped"
		record.Detail = "no phone number on file"
	default:
		if err := p.sms.Send(ctx, evt.RecipientPhone, body); err != nil {
			record.Status = "failed"
			record.Detail = err.Error()
			p.logger.Error("sms delivery failed", "appointment_id", evt.AppointmentID, "err", err)
		} else {
			record.Status = "sent"
		}
	}
	if err := p.audit.Insert(ctx, record); err != nil {
		p.logger.Error("notification audit insert failed", "err", err)
	}
}

func composeMessage(topic string, evt appointmentEvent) (subject, body string) {
	when := evt.Date + " at " + displayTime(evt.Time)
	switch topic {
	case TopicAppointmentBooked:
		subject = "Appointment request received"
		if evt.RecipientRole == "doctor" {
			subject = "New appointment request"
			body = fmt.Sprintf("%s requested an appointment on %s.", evt.PatientName, when)
			return subject, body
		}
		body = fmt.Sprintf("Your appointment with %s on %s was received and is pending confirmation.", evt.DoctorName, when)
		if evt.Status == "confirmed" {
			subject = "Appointment confirmed"
			body = fmt.Sprintf("Your appointment with %s on %s is confirmed.", evt.DoctorName, when)
		}
	case TopicAppointmentStatusChanged:
		switch evt.Status {
		case "confirmed":
			subject = "Appointment confirmed"
			body = fmt.Sprintf("Your appointment with %s on %s is confirmed.", evt.DoctorName, when)
		case "cancelled":
			subject = "Appointment cancelled"
			body = fmt.Sprintf("The appointment between %s and %s on %s was cancelled.", evt.PatientName, evt.DoctorName, when)
			if evt.LateCancellation {
				body += " This cancellation was made on short notice."
			}
		case "completed":
			subject = "Appointment completed"
			body = fmt.Sprintf("The appointment between %s and %s on %s is marked completed.", evt.PatientName, evt.DoctorName, when)
		default:
			subject = "Appointment updated"
			body = fmt.Sprintf("The appointment on %s is now %s.", when, evt.Status)
		}
	}
	return subject, body
}

func displayTime(clock string) string {
	t, err := time.Parse("15:04:05", clock)
	if err != nil {
		return clock
	}
	return t.Format("3:04 PM")
}
