package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nahid-mahmud/clinicbook/libs/auth"
	"github.com/nahid-mahmud/clinicbook/services/booking-service/internal/booking"
	"github.com/nahid-mahmud/clinicbook/services/booking-service/internal/model"
	"github.com/nahid-mahmud/clinicbook/services/booking-service/internal/outbox"
)

const testSecret = "handler-test-secret"

// fakeBackend implements every persistence interface the booking service
// needs, enough to exercise the HTTP layer end to end without Postgres.
type fakeBackend struct {
	nextID int64
	appts  map[int64]model.Appointment
	users  map[int64]model.User
	days   map[time.Weekday]model.DayAvailability
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		nextID: 1,
		appts:  map[int64]model.Appointment{},
		users: map[int64]model.User{
			10: {ID: 10, Name: "Asha Rahman", Email: "asha@example.com", Role: model.RolePatient},
			20: {ID: 20, Name: "Dr. Farida Khanom", Email: "farida@example.com", Role: model.RoleDoctor},
		},
		days: map[time.Weekday]model.DayAvailability{
			time.Monday: {DoctorID: 20, Weekday: time.Monday, IsAvailable: true, StartTime: "09:00:00", EndTime: "10:00:00"},
		},
	}
}

func (f *fakeBackend) Get(_ context.Context, id int64) (model.Appointment, error) {
	appt, ok := f.appts[id]
	if !ok {
		return model.Appointment{}, booking.ErrNotFound
	}
	return appt, nil
}

func (f *fakeBackend) BookedTimes(_ context.Context, doctorID int64, date string) ([]string, error) {
	var times []string
	for _, appt := range f.appts {
		if appt.DoctorID == doctorID && appt.Date == date && appt.Status != model.StatusCancelled {
			times = append(times, appt.Time)
		}
	}
	return times, nil
}

func (f *fakeBackend) ListForActor(_ context.Context, actor model.Actor, _ int) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, appt := range f.appts {
		if actor.Role == model.RolePatient && appt.PatientID != actor.ID {
			continue
		}
		out = append(out, appt)
	}
	return out, nil
}

func (f *fakeBackend) Day(_ context.Context, _ int64, wd time.Weekday) (model.DayAvailability, bool, error) {
	day, ok := f.days[wd]
	return day, ok, nil
}

func (f *fakeBackend) GetUser(_ context.Context, id int64) (model.User, bool, error) {
	u, ok := f.users[id]
	return u, ok, nil
}

func (f *fakeBackend) WithTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	return fn(ctx, f)
}

func (f *fakeBackend) InsertAppointment(_ context.Context, appt *model.Appointment) error {
	for _, existing := range f.appts {
		if existing.DoctorID == appt.DoctorID && existing.Date == appt.Date &&
			existing.Time == appt.Time && existing.Status != model.StatusCancelled {
			return booking.ErrSlotTaken
		}
	}
	appt.ID = f.nextID
	f.nextID++
	f.appts[appt.ID] = *appt
	return nil
}

func (f *fakeBackend) GetAppointmentForUpdate(ctx context.Context, id int64) (model.Appointment, error) {
	return f.Get(ctx, id)
}

func (f *fakeBackend) SetStatus(_ context.Context, id int64, status model.Status) (time.Time, error) {
	appt := f.appts[id]
	appt.Status = status
	appt.UpdatedAt = time.Now()
	f.appts[id] = appt
	return appt.UpdatedAt, nil
}

func (f *fakeBackend) ReplaceWeek(_ context.Context, _ int64, week []model.DayAvailability) error {
	f.days = map[time.Weekday]model.DayAvailability{}
	for _, day := range week {
		f.days[day.Weekday] = day
	}
	return nil
}

func (f *fakeBackend) AddOutboxEvent(_ context.Context, _ outbox.Event) error { return nil }

func (f *fakeBackend) LookupIdempotencyKey(_ context.Context, _ int64, _ string) (int64, bool, error) {
	return 0, false, nil
}

func (f *fakeBackend) SaveIdempotencyKey(_ context.Context, _ int64, _ string, _ int64) error {
	return nil
}

type userStoreFunc func(ctx context.Context, id int64) (model.User, bool, error)

func (fn userStoreFunc) Get(ctx context.Context, id int64) (model.User, bool, error) {
	return fn(ctx, id)
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeBackend) {
	t.Helper()
	backend := newFakeBackend()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := booking.NewService(backend, backend, backend, userStoreFunc(backend.GetUser), logger, booking.Config{}).
		WithClock(func() time.Time { return time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC) })

	mux := http.NewServeMux()
	New(svc, logger).Register(mux)
	srv := httptest.NewServer(auth.Middleware(testSecret)(mux))
	t.Cleanup(srv.Close)
	return srv, backend
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := auth.SignHS256(auth.Claims{
		Sub:  userID,
		Role: role,
		Exp:  time.Now().Add(time.Hour).Unix(),
		Iat:  time.Now().Unix(),
	}, testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func doJSON(t *testing.T, method, url, bearer, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var parsed map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, parsed
}

func TestSlotsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/public/slots?doctor_id=20&date=2026-09-07", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["success"] != true {
		t.Fatalf("success = %v, want true", body["success"])
	}
	slots, ok := body["slots"].([]any)
	if !ok || len(slots) != 2 {
		t.Fatalf("slots = %v, want 2 entries", body["slots"])
	}
	first := slots[0].(map[string]any)
	if first["value"] != "09:00:00" || first["display"] != "9:00 AM" {
		t.Fatalf("first slot = %v", first)
	}
}

func TestSlotsEndpointBadInput(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/public/slots?doctor_id=20&date=07-09-2026", "", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed date status = %d, want 400", resp.StatusCode)
	}
	if body["success"] != false {
		t.Fatalf("success = %v, want false", body["success"])
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/public/slots?doctor_id=abc&date=2026-09-07", "", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad doctor_id status = %d, want 400", resp.StatusCode)
	}
}

func TestSlotsEndpointEmptyDayIsSuccess(t *testing.T) {
	srv, _ := newTestServer(t)

	// Tuesday has no availability template.
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/public/slots?doctor_id=20&date=2026-09-08", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["success"] != true {
		t.Fatalf("success = %v, want true for an empty day", body["success"])
	}
	if slots, ok := body["slots"].([]any); !ok || len(slots) != 0 {
		t.Fatalf("slots = %v, want empty list", body["slots"])
	}
}

func TestBookEndpoint(t *testing.T) {
	srv, backend := newTestServer(t)
	patient := token(t, "10", "patient")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/public/book", patient,
		`{"doctor_id":20,"date":"2026-09-07","time":"09:00:00","symptoms":"fever"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %v)", resp.StatusCode, body)
	}
	if body["status"] != "pending" {
		t.Fatalf("status field = %v, want pending", body["status"])
	}
	if len(backend.appts) != 1 {
		t.Fatalf("stored appointments = %d, want 1", len(backend.appts))
	}

	// Same slot again conflicts.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/public/book", patient,
		`{"doctor_id":20,"date":"2026-09-07","time":"09:00:00"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("double booking status = %d, want 409", resp.StatusCode)
	}

	// Off-grid time is a validation failure, not a conflict.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/public/book", patient,
		`{"doctor_id":20,"date":"2026-09-07","time":"09:10:00"}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("off-grid status = %d, want 422", resp.StatusCode)
	}
}

func TestBookRequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/public/book", "",
		`{"doctor_id":20,"date":"2026-09-07","time":"09:00:00"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, backend := newTestServer(t)
	backend.appts[7] = model.Appointment{
		ID: 7, PatientID: 10, DoctorID: 20,
		Date: "2026-09-07", Time: "09:00:00", Status: model.StatusPending,
	}

	doctor := token(t, "20", "doctor")
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/appointments/status", doctor,
		`{"appointment_id":7,"new_status":"confirmed"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %v)", resp.StatusCode, body)
	}
	if body["new_status"] != "confirmed" {
		t.Fatalf("new_status = %v, want confirmed", body["new_status"])
	}

	// Confirmed -> pending is not in the lifecycle table.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/appointments/status", doctor,
		`{"appointment_id":7,"new_status":"pending"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("illegal transition status = %d, want 409", resp.StatusCode)
	}

	// A patient may not confirm.
	patient := token(t, "10", "patient")
	backend.appts[8] = model.Appointment{
		ID: 8, PatientID: 10, DoctorID: 20,
		Date: "2026-09-07", Time: "09:30:00", Status: model.StatusPending,
	}
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/appointments/status", patient,
		`{"appointment_id":8,"new_status":"confirmed"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("patient confirm status = %d, want 403", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/appointments/status", doctor,
		`{"appointment_id":999,"new_status":"confirmed"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing appointment status = %d, want 404", resp.StatusCode)
	}
}

func TestListEndpoint(t *testing.T) {
	srv, backend := newTestServer(t)
	backend.appts[1] = model.Appointment{ID: 1, PatientID: 10, DoctorID: 20, Date: "2026-09-07", Time: "09:00:00", Status: model.StatusPending}
	backend.appts[2] = model.Appointment{ID: 2, PatientID: 11, DoctorID: 20, Date: "2026-09-07", Time: "09:30:00", Status: model.StatusPending}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/appointments", token(t, "10", "patient"), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	appts, ok := body["appointments"].([]any)
	if !ok || len(appts) != 1 {
		t.Fatalf("appointments = %v, want only the patient's own", body["appointments"])
	}
}

func TestScheduleEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	doctor := token(t, "20", "doctor")

	days := `[
		{"day_of_week":0},{"day_of_week":1,"is_available":true,"start_time":"10:00:00","end_time":"11:00:00"},
		{"day_of_week":2},{"day_of_week":3},{"day_of_week":4},{"day_of_week":5},{"day_of_week":6}
	]`
	resp, _ := doJSON(t, http.MethodPut, srv.URL+"/api/v1/doctors/schedule", doctor, `{"days":`+days+`}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/public/slots?doctor_id=20&date=2026-09-07", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("slots after update status = %d", resp.StatusCode)
	}
	slots := body["slots"].([]any)
	if len(slots) != 2 || slots[0].(map[string]any)["value"] != "10:00:00" {
		t.Fatalf("slots after update = %v", slots)
	}

	// A patient token may not touch schedules.
	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/api/v1/doctors/schedule", token(t, "10", "patient"), `{"days":`+days+`}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("patient schedule update status = %d, want 403", resp.StatusCode)
	}
}
