package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/nahid-mahmud/clinicbook/services/notification-service/internal/storage"
)

type memAudit struct {
	rows []storage.Notification
}

func (a *memAudit) Insert(_ context.Context, n storage.Notification) error {
	a.rows = append(a.rows, n)
	return nil
}

type fakeEmail struct {
	sent []string
	err  error
}

func (f *fakeEmail) Send(to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to+"|"+subject+"|"+body)
	return nil
}

type fakeSMS struct {
	sent []string
}

func (f *fakeSMS) Send(_ context.Context, to, body string) error {
	f.sent = append(f.sent, to+"|"+body)
	return nil
}

func newTestProcessor(emailSender *fakeEmail, smsSender *fakeSMS, audit *memAudit) *Processor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &Processor{email: emailSender, sms: smsSender, audit: audit, logger: logger}
}

func message(t *testing.T, topic string, evt appointmentEvent) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return kafka.Message{Topic: topic, Value: raw}
}

func TestHandleBookedEventDeliversBothChannels(t *testing.T) {
	emailSender := &fakeEmail{}
	smsSender := &fakeSMS{}
	audit := &memAudit{}
	p := newTestProcessor(emailSender, smsSender, audit)

	evt := appointmentEvent{
		AppointmentID:  7,
		PatientName:    "Asha Rahman",
		DoctorName:     "Dr. Farida Khanom",
		Date:           "2026-09-07",
		Time:           "09:00:00",
		Status:         "pending",
		RecipientRole:  "patient",
		RecipientEmail: "asha@example.com",
		RecipientPhone: "+8801711111111",
	}
	if err := p.Handle(context.Background(), message(t, TopicAppointmentBooked, evt)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(emailSender.sent) != 1 || !strings.Contains(emailSender.sent[0], "9:00 AM") {
		t.Fatalf("email sent = %v, want one with the display time", emailSender.sent)
	}
	if len(smsSender.sent) != 1 {
		t.Fatalf("sms sent = %v, want one", smsSender.sent)
	}
	if len(audit.rows) != 2 {
		t.Fatalf("audit rows = %d, want one per channel", len(audit.rows))
	}
	for _, row := range audit.rows {
		if row.Status != "sent" || row.AppointmentID != 7 {
			t.Fatalf("audit row = %+v, want sent for appointment 7", row)
		}
	}
}

func TestHandleDoctorRecipientGetsRequestWording(t *testing.T) {
	emailSender := &fakeEmail{}
	audit := &memAudit{}
	p := newTestProcessor(emailSender, &fakeSMS{}, audit)

	evt := appointmentEvent{
		AppointmentID:  8,
		PatientName:    "Asha Rahman",
		DoctorName:     "Dr. Farida Khanom",
		Date:           "2026-09-07",
		Time:           "09:30:00",
		Status:         "pending",
		RecipientRole:  "doctor",
		RecipientEmail: "farida@example.com",
	}
	if err := p.Handle(context.Background(), message(t, TopicAppointmentBooked, evt)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(emailSender.sent) != 1 || !strings.Contains(emailSender.sent[0], "New appointment request") {
		t.Fatalf("email sent = %v, want request wording for the doctor", emailSender.sent)
	}
}

func TestHandleRecordsFailureAndMissingChannels(t *testing.T) {
	emailSender := &fakeEmail{err: errors.New("relay down")}
	audit := &memAudit{}
	p := newTestProcessor(emailSender, &fakeSMS{}, audit)

	evt := appointmentEvent{
		AppointmentID:  9,
		Date:           "2026-09-07",
		Time:           "09:00:00",
		Status:         "cancelled",
		RecipientRole:  "patient",
		RecipientEmail: "asha@example.com",
		// No phone on file.
	}
	if err := p.Handle(context.Background(), message(t, TopicAppointmentStatusChanged, evt)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	byChannel := map[string]storage.Notification{}
	for _, row := range audit.rows {
		byChannel[row.Channel] = row
	}
	if byChannel["email"].Status != "failed" || byChannel["email"].Detail != "relay down" {
		t.Fatalf("email audit = %+v, want failed", byChannel["email"])
	}
	if byChannel["sms"].Status != "skipped" {
		t.Fatalf("sms audit = %+v, want skipped", byChannel["sms"])
	}
}

func TestHandleLateCancellationNoted(t *testing.T) {
	emailSender := &fakeEmail{}
	p := newTestProcessor(emailSender, &fakeSMS{}, &memAudit{})

	evt := appointmentEvent{
		AppointmentID:    10,
		PatientName:      "Asha Rahman",
		DoctorName:       "Dr. Farida Khanom",
		Date:             "2026-09-02",
		Time:             "09:00:00",
		Status:           "cancelled",
		RecipientRole:    "doctor",
		RecipientEmail:   "farida@example.com",
		LateCancellation: true,
	}
	if err := p.Handle(context.Background(), message(t, TopicAppointmentStatusChanged, evt)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(emailSender.sent) != 1 || !strings.Contains(emailSender.sent[0], "short notice") {
		t.Fatalf("email sent = %v, want short-notice wording", emailSender.sent)
	}
}

func TestHandleMalformedPayloadErrors(t *testing.T) {
	p := newTestProcessor(&fakeEmail{}, &fakeSMS{}, &memAudit{})

	err := p.Handle(context.Background(), kafka.Message{Topic: TopicAppointmentBooked, Value: []byte("{not json")})
	if err == nil {
		t.Fatal("want decode error for malformed payload")
	}
}
