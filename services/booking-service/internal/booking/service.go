package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nahid-mahmud/clinicbook/services/booking-service/internal/availability"
	"github.com/nahid-mahmud/clinicbook/services/booking-service/internal/model"
	"github.com/nahid-mahmud/clinicbook/services/booking-service/internal/outbox"
)

// Ledger is the read-only view over persisted appointments.
type Ledger interface {
	Get(ctx context.Context, id int64) (model.Appointment, error)
	// BookedTimes returns the HH:MM:SS times of non-cancelled appointments
	// for the doctor on the given date.
	BookedTimes(ctx context.Context, doctorID int64, date string) ([]string, error)
	ListForActor(ctx context.Context, actor model.Actor, limit int) ([]model.Appointment, error)
}

// ScheduleStore reads a doctor's weekly availability template.
type ScheduleStore interface {
	Day(ctx context.Context, doctorID int64, weekday time.Weekday) (model.DayAvailability, bool, error)
}

// UserStore resolves account ids to users.
type UserStore interface {
	Get(ctx context.Context, id int64) (model.User, bool, error)
}

// Tx is the transaction-scoped write surface. Everything called on one Tx
// commits or rolls back together.
type Tx interface {
	// InsertAppointment persists appt and fills ID/CreatedAt/UpdatedAt.
	// Returns ErrSlotTaken when an active appointment already holds the
	// (doctor, date, time) slot.
	InsertAppointment(ctx context.Context, appt *model.Appointment) error
	// GetAppointmentForUpdate loads the row with a row-level lock.
	GetAppointmentForUpdate(ctx context.Context, id int64) (model.Appointment, error)
	SetStatus(ctx context.Context, id int64, status model.Status) (time.Time, error)
	ReplaceWeek(ctx context.Context, doctorID int64, week []model.DayAvailability) error
	AddOutboxEvent(ctx context.Context, evt outbox.Event) error
	LookupIdempotencyKey(ctx context.Context, patientID int64, key string) (int64, bool, error)
	SaveIdempotencyKey(ctx context.Context, patientID int64, key string, appointmentID int64) error
}

type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Config struct {
	// SlotDuration is the fixed consultation length used to cut availability
	// windows into slots.
	SlotDuration time.Duration
	// HorizonDays caps how far in the future a slot may be booked.
	HorizonDays int
	// CancelNotice is the minimum lead time for a cancellation to count as
	// timely. Late cancellations still succeed but are flagged.
	CancelNotice time.Duration
}

type Service struct {
	txm      TxManager
	ledger   Ledger
	schedule ScheduleStore
	users    UserStore
	logger   *slog.Logger
	clock    func() time.Time
	cfg      Config
}

func NewService(txm TxManager, ledger Ledger, schedule ScheduleStore, users UserStore, logger *slog.Logger, cfg Config) *Service {
	if cfg.SlotDuration <= 0 {
		cfg.SlotDuration = 30 * time.Minute
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = 30
	}
	if cfg.CancelNotice <= 0 {
		cfg.CancelNotice = 24 * time.Hour
	}
	return &Service{
		txm:      txm,
		ledger:   ledger,
		schedule: schedule,
		users:    users,
		logger:   logger,
		clock:    time.Now,
		cfg:      cfg,
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// AvailableSlots returns the free slots for a doctor on a date. The result
// reflects state at query time only; booking re-validates under a
// transaction, so this read takes no locks. A day the doctor is not
// available yields an empty list, not an error.
func (s *Service) AvailableSlots(ctx context.Context, doctorID int64, date string) ([]availability.Slot, error) {
	day, err := time.Parse(model.DateLayout, date)
	if err != nil {
		return nil, validationf("invalid date %q (want YYYY-MM-DD)", date)
	}

	doctor, ok, err := s.users.Get(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("resolve doctor: %w", err)
	}
	if !ok || doctor.Role != model.RoleDoctor {
		return nil, validationf("unknown doctor %d", doctorID)
	}

	grid, err := s.dayGrid(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}
	if len(grid) == 0 {
		return []availability.Slot{}, nil
	}

	booked, err := s.ledger.BookedTimes(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("load booked times: %w", err)
	}
	return availability.Free(grid, booked), nil
}

// dayGrid cuts the doctor's template for the day into candidate start times.
// Empty when the doctor has no template row or is marked unavailable.
func (s *Service) dayGrid(ctx context.Context, doctorID int64, day time.Time) ([]time.Time, error) {
	tpl, ok, err := s.schedule.Day(ctx, doctorID, day.Weekday())
	if err != nil {
		return nil, fmt.Errorf("load weekly availability: %w", err)
	}
	if !ok || !tpl.IsAvailable {
		return nil, nil
	}
	start, err := availability.ClockOn(day, tpl.StartTime)
	if err != nil {
		return nil, fmt.Errorf("weekly availability for doctor %d has malformed start: %w", doctorID, err)
	}
	end, err := availability.ClockOn(day, tpl.EndTime)
	if err != nil {
		return nil, fmt.Errorf("weekly availability for doctor %d has malformed end: %w", doctorID, err)
	}
	return availability.SlotStarts(start, end, s.cfg.SlotDuration), nil
}

type BookRequest struct {
	Actor          model.Actor
	PatientID      int64
	DoctorID       int64
	Date           string
	Time           string
	Symptoms       string
	IdempotencyKey string
}

// Book atomically reserves a slot. The availability check and the insert run
// in one transaction; the partial unique index over active appointments
// guarantees at most one winner when callers race for the same slot, and the
// loser gets ErrSlotTaken. Notification events are written to the outbox in
// the same transaction and published asynchronously.
func (s *Service) Book(ctx context.Context, req BookRequest) (model.Appointment, error) {
	day, err := time.Parse(model.DateLayout, req.Date)
	if err != nil {
		return model.Appointment{}, validationf("invalid date %q (want YYYY-MM-DD)", req.Date)
	}
	if _, err := time.Parse(model.ClockLayout, req.Time); err != nil {
		return model.Appointment{}, validationf("invalid time %q (want HH:MM:SS)", req.Time)
	}

	now := s.clock()
	today := now.Format(model.DateLayout)
	if req.Date <= today {
		return model.Appointment{}, validationf("appointment date must be in the future")
	}
	horizon := now.AddDate(0, 0, s.cfg.HorizonDays)
	if day.After(horizon) {
		return model.Appointment{}, validationf("appointment date is beyond the %d-day booking horizon", s.cfg.HorizonDays)
	}

	switch req.Actor.Role {
	case model.RolePatient:
		if req.PatientID == 0 {
			req.PatientID = req.Actor.ID
		}
		if req.PatientID != req.Actor.ID {
			return model.Appointment{}, &PermissionError{Reason: "patients may only book for themselves"}
		}
	case model.RoleAdmin:
		if req.PatientID == 0 {
			return model.Appointment{}, validationf("patient_id is required")
		}
	default:
		return model.Appointment{}, &PermissionError{Reason: "only patients and admins may create bookings"}
	}

	patient, ok, err := s.users.Get(ctx, req.PatientID)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("resolve patient: %w", err)
	}
	if !ok || patient.Role != model.RolePatient {
		return model.Appointment{}, validationf("unknown patient %d", req.PatientID)
	}
	doctor, ok, err := s.users.Get(ctx, req.DoctorID)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("resolve doctor: %w", err)
	}
	if !ok || doctor.Role != model.RoleDoctor {
		return model.Appointment{}, validationf("unknown doctor %d", req.DoctorID)
	}

	// Patients must pick a time on the generated grid. Admins may book off
	// the grid (walk-ins, phone bookings outside published hours).
	if req.Actor.Role != model.RoleAdmin {
		if err := s.checkSlotAlignment(ctx, req.DoctorID, day, req.Time); err != nil {
			return model.Appointment{}, err
		}
	}

	status := model.StatusPending
	if req.Actor.Role == model.RoleAdmin {
		// Trusted actor skips the confirmation step.
		status = model.StatusConfirmed
	}

	appt := model.Appointment{
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		Date:      req.Date,
		Time:      req.Time,
		Status:    status,
		Symptoms:  req.Symptoms,
	}

	err = s.txm.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if req.IdempotencyKey != "" {
			priorID, found, err := tx.LookupIdempotencyKey(ctx, req.PatientID, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if found {
				prior, err := tx.GetAppointmentForUpdate(ctx, priorID)
				if err != nil {
					return err
				}
				appt = prior
				return nil
			}
		}

		if err := tx.InsertAppointment(ctx, &appt); err != nil {
			return err
		}
		for _, evt := range bookedEvents(appt, patient, doctor) {
			if err := tx.AddOutboxEvent(ctx, evt); err != nil {
				return err
			}
		}
		if req.IdempotencyKey != "" {
			if err := tx.SaveIdempotencyKey(ctx, req.PatientID, req.IdempotencyKey, appt.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.Appointment{}, err
	}

	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"doctor_id", appt.DoctorID,
		"patient_id", appt.PatientID,
		"date", appt.Date,
		"time", appt.Time,
		"status", string(appt.Status),
	)
	return appt, nil
}

func (s *Service) checkSlotAlignment(ctx context.Context, doctorID int64, day time.Time, clock string) error {
	grid, err := s.dayGrid(ctx, doctorID, day)
	if err != nil {
		return err
	}
	if len(grid) == 0 {
		return validationf("doctor is not available on %s", day.Weekday())
	}
	for _, t := range grid {
		if t.Format(model.ClockLayout) == clock {
			return nil
		}
	}
	return validationf("time %s is not one of the doctor's available slots", clock)
}

type UpdateResult struct {
	Appointment model.Appointment
	// LateCancellation is set when a cancellation landed inside the notice
	// window. The transition still succeeds; the caller gets a warning.
	LateCancellation bool
}

// UpdateStatus applies one lifecycle transition under a row lock, so two
// concurrent changes to the same appointment serialize and the second one is
// checked against the first one's result.
func (s *Service) UpdateStatus(ctx context.Context, actor model.Actor, appointmentID int64, to model.Status) (UpdateResult, error) {
	if !to.Valid() {
		return UpdateResult{}, validationf("unknown status %q", string(to))
	}

	now := s.clock()
	var res UpdateResult
	err := s.txm.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		if err := CheckTransition(appt, to, actor, now.Format(model.DateLayout)); err != nil {
			return err
		}

		if to == model.StatusCancelled {
			startsAt, err := appt.StartsAt()
			if err != nil {
				return err
			}
			res.LateCancellation = startsAt.Sub(now) < s.cfg.CancelNotice
		}

		updatedAt, err := tx.SetStatus(ctx, appointmentID, to)
		if err != nil {
			return err
		}
		appt.Status = to
		appt.UpdatedAt = updatedAt
		res.Appointment = appt

		evt, err := s.statusChangedEvent(ctx, appt, actor, res.LateCancellation)
		if err != nil {
			return err
		}
		return tx.AddOutboxEvent(ctx, evt)
	})
	if err != nil {
		return UpdateResult{}, err
	}

	s.logger.Info("appointment status changed",
		"appointment_id", res.Appointment.ID,
		"new_status", string(res.Appointment.Status),
		"actor_id", actor.ID,
		"actor_role", string(actor.Role),
		"late_cancellation", res.LateCancellation,
	)
	return res, nil
}

// ReplaceSchedule swaps a doctor's entire weekly template in one transaction
// (delete-all-then-insert-seven). No history is kept.
func (s *Service) ReplaceSchedule(ctx context.Context, actor model.Actor, doctorID int64, week []model.DayAvailability) error {
	switch actor.Role {
	case model.RoleAdmin:
	case model.RoleDoctor:
		if actor.ID != doctorID {
			return &PermissionError{Reason: "doctors may only update their own schedule"}
		}
	default:
		return &PermissionError{Reason: "only doctors and admins may update schedules"}
	}

	doctor, ok, err := s.users.Get(ctx, doctorID)
	if err != nil {
		return fmt.Errorf("resolve doctor: %w", err)
	}
	if !ok || doctor.Role != model.RoleDoctor {
		return validationf("unknown doctor %d", doctorID)
	}

	if len(week) != 7 {
		return validationf("expected 7 day entries, got %d", len(week))
	}
	seen := map[time.Weekday]bool{}
	for i := range week {
		day := &week[i]
		day.DoctorID = doctorID
		if day.Weekday < time.Sunday || day.Weekday > time.Saturday {
			return validationf("invalid day_of_week %d", int(day.Weekday))
		}
		if seen[day.Weekday] {
			return validationf("duplicate entry for %s", day.Weekday)
		}
		seen[day.Weekday] = true
		if !day.IsAvailable {
			day.StartTime = ""
			day.EndTime = ""
			continue
		}
		if _, err := time.Parse(model.ClockLayout, day.StartTime); err != nil {
			return validationf("invalid start_time for %s (want HH:MM:SS)", day.Weekday)
		}
		if _, err := time.Parse(model.ClockLayout, day.EndTime); err != nil {
			return validationf("invalid end_time for %s (want HH:MM:SS)", day.Weekday)
		}
		if day.StartTime >= day.EndTime {
			return validationf("start_time must be before end_time for %s", day.Weekday)
		}
	}

	return s.txm.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.ReplaceWeek(ctx, doctorID, week)
	})
}

// List returns the actor's own appointments, newest first.
func (s *Service) List(ctx context.Context, actor model.Actor, limit int) ([]model.Appointment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.ledger.ListForActor(ctx, actor, limit)
}

type notificationPayload struct {
	AppointmentID    int64  `json:"appointment_id"`
	PatientID        int64  `json:"patient_id"`
	DoctorID         int64  `json:"doctor_id"`
	PatientName      string `json:"patient_name"`
	DoctorName       string `json:"doctor_name"`
	Date             string `json:"date"`
	Time             string `json:"time"`
	Status           string `json:"status"`
	RecipientRole    string `json:"recipient_role"`
	RecipientEmail   string `json:"recipient_email"`
	RecipientPhone   string `json:"recipient_phone,omitempty"`
	LateCancellation bool   `json:"late_cancellation,omitempty"`
}

func bookedEvents(appt model.Appointment, patient, doctor model.User) []outbox.Event {
	base := notificationPayload{
		AppointmentID: appt.ID,
		PatientID:     appt.PatientID,
		DoctorID:      appt.DoctorID,
		PatientName:   patient.Name,
		DoctorName:    doctor.Name,
		Date:          appt.Date,
		Time:          appt.Time,
		Status:        string(appt.Status),
	}

	toPatient := base
	toPatient.RecipientRole = string(model.RolePatient)
	toPatient.RecipientEmail = patient.Email
	toPatient.RecipientPhone = patient.Phone

	toDoctor := base
	toDoctor.RecipientRole = string(model.RoleDoctor)
	toDoctor.RecipientEmail = doctor.Email
	toDoctor.RecipientPhone = doctor.Phone

	events := make([]outbox.Event, 0, 2)
	for _, p := range []notificationPayload{toPatient, toDoctor} {
		raw, err := json.Marshal(p)
		if err != nil {
			continue
		}
		events = append(events, outbox.Event{
			AggregateType: "appointment",
			AggregateID:   strconv.FormatInt(appt.ID, 10),
			EventType:     outbox.EventAppointmentBooked,
			Payload:       raw,
		})
	}
	return events
}

// statusChangedEvent notifies the counterpart of whoever drove the change:
// patient-initiated changes notify the doctor, everything else notifies the
// patient.
func (s *Service) statusChangedEvent(ctx context.Context, appt model.Appointment, actor model.Actor, late bool) (outbox.Event, error) {
	recipientID := appt.PatientID
	recipientRole := model.RolePatient
	if actor.Role == model.RolePatient {
		recipientID = appt.DoctorID
		recipientRole = model.RoleDoctor
	}
	recipient, ok, err := s.users.Get(ctx, recipientID)
	if err != nil {
		return outbox.Event{}, fmt.Errorf("resolve notification recipient: %w", err)
	}
	if !ok {
		return outbox.Event{}, fmt.Errorf("notification recipient %d missing", recipientID)
	}

	patientName, doctorName := "", ""
	if p, ok, err := s.users.Get(ctx, appt.PatientID); err == nil && ok {
		patientName = p.Name
	}
	if d, ok, err := s.users.Get(ctx, appt.DoctorID); err == nil && ok {
		doctorName = d.Name
	}

	raw, err := json.Marshal(notificationPayload{
		AppointmentID:    appt.ID,
		PatientID:        appt.PatientID,
		DoctorID:         appt.DoctorID,
		PatientName:      patientName,
		DoctorName:       doctorName,
		Date:             appt.Date,
		Time:             appt.Time,
		Status:           string(appt.Status),
		RecipientRole:    string(recipientRole),
		RecipientEmail:   recipient.Email,
		RecipientPhone:   recipient.Phone,
		LateCancellation: late,
	})
	if err != nil {
		return outbox.Event{}, err
	}
	return outbox.Event{
		AggregateType: "appointment",
		AggregateID:   strconv.FormatInt(appt.ID, 10),
		EventType:     outbox.EventAppointmentStatusChanged,
		Payload:       raw,
	}, nil
}
