package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/nahid-mahmud/clinicbook/libs/auth"
	"github.com/nahid-mahmud/clinicbook/services/booking-service/internal/availability"
	"github.com/nahid-mahmud/clinicbook/services/booking-service/internal/booking"
	"github.com/nahid-mahmud/clinicbook/services/booking-service/internal/model"
)

type Handler struct {
	svc    *booking.Service
	logger *slog.Logger
}

func New(svc *booking.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/public/slots", h.Slots)
	mux.HandleFunc("POST /api/v1/public/book", h.Book)
	mux.HandleFunc("POST /api/v1/appointments/status", h.UpdateStatus)
	mux.HandleFunc("GET /api/v1/appointments", h.List)
	mux.HandleFunc("PUT /api/v1/doctors/schedule", h.ReplaceSchedule)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type failure struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// writeError maps domain errors to HTTP statuses. Storage and other
// unexpected failures become a generic 500 so internals never leak.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *booking.ValidationError
		perr *booking.PermissionError
		terr *booking.IllegalTransitionError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, failure{Message: verr.Reason})
	case errors.As(err, &perr):
		writeJSON(w, http.StatusForbidden, failure{Message: perr.Reason})
	case errors.As(err, &terr):
		writeJSON(w, http.StatusConflict, failure{Message: terr.Error()})
	case errors.Is(err, booking.ErrSlotTaken):
		writeJSON(w, http.StatusConflict, failure{Message: "slot is no longer available"})
	case errors.Is(err, booking.ErrNotFound):
		writeJSON(w, http.StatusNotFound, failure{Message: "appointment not found"})
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, failure{Message: "internal error"})
	}
}

func actorFromRequest(r *http.Request) (model.Actor, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return model.Actor{}, false
	}
	id, err := claims.UserID()
	if err != nil {
		return model.Actor{}, false
	}
	role := model.Role(claims.Role)
	if role != model.RolePatient && role != model.RoleDoctor && role != model.RoleAdmin {
		return model.Actor{}, false
	}
	return model.Actor{ID: id, Role: role}, true
}

type slotsResponse struct {
	Success bool                `json:"success"`
	Slots   []availability.Slot `json:"slots"`
	Message string              `json:"message,omitempty"`
}

// Slots is public: no token required. Unknown doctors and malformed dates are
// a 400 here rather than 422, matching the rest of the public surface.
func (h *Handler) Slots(w http.ResponseWriter, r *http.Request) {
	doctorID, err := strconv.ParseInt(r.URL.Query().Get("doctor_id"), 10, 64)
	if err != nil || doctorID <= 0 {
		writeJSON(w, http.StatusBadRequest, slotsResponse{Message: "doctor_id must be a positive integer"})
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		writeJSON(w, http.StatusBadRequest, slotsResponse{Message: "date is required"})
		return
	}

	slots, err := h.svc.AvailableSlots(r.Context(), doctorID, date)
	if err != nil {
		var verr *booking.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, slotsResponse{Message: verr.Reason})
			return
		}
		h.logger.Error("slot lookup failed", "doctor_id", doctorID, "date", date, "error", err)
		writeJSON(w, http.StatusInternalServerError, slotsResponse{Message: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, slotsResponse{Success: true, Slots: slots})
}

type bookRequest struct {
	PatientID int64  `json:"patient_id,omitempty"`
	DoctorID  int64  `json:"doctor_id"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Symptoms  string `json:"symptoms,omitempty"`
}

type bookResponse struct {
	Success       bool   `json:"success"`
	AppointmentID int64  `json:"appointment_id"`
	Status        string `json:"status"`
}

func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, failure{Message: "authentication required"})
		return
	}
	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, failure{Message: "malformed request body"})
		return
	}

	appt, err := h.svc.Book(r.Context(), booking.BookRequest{
		Actor:          actor,
		PatientID:      req.PatientID,
		DoctorID:       req.DoctorID,
		Date:           req.Date,
		Time:           req.Time,
		Symptoms:       req.Symptoms,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bookResponse{
		Success:       true,
		AppointmentID: appt.ID,
		Status:        string(appt.Status),
	})
}

type statusRequest struct {
	AppointmentID int64  `json:"appointment_id"`
	NewStatus     string `json:"new_status"`
}

type statusResponse struct {
	Success   bool   `json:"success"`
	NewStatus string `json:"new_status"`
	Message   string `json:"message,omitempty"`
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, failure{Message: "authentication required"})
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, failure{Message: "malformed request body"})
		return
	}
	if req.AppointmentID <= 0 {
		writeJSON(w, http.StatusBadRequest, failure{Message: "appointment_id must be a positive integer"})
		return
	}

	res, err := h.svc.UpdateStatus(r.Context(), actor, req.AppointmentID, model.Status(req.NewStatus))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := statusResponse{Success: true, NewStatus: string(res.Appointment.Status)}
	if res.LateCancellation {
		resp.Message = "cancelled with less than the required notice"
	}
	writeJSON(w, http.StatusOK, resp)
}

type listResponse struct {
	Success      bool                `json:"success"`
	Appointments []model.Appointment `json:"appointments"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, failure{Message: "authentication required"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	appts, err := h.svc.List(r.Context(), actor, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if appts == nil {
		appts = []model.Appointment{}
	}
	writeJSON(w, http.StatusOK, listResponse{Success: true, Appointments: appts})
}

type scheduleDay struct {
	DayOfWeek   int    `json:"day_of_week"`
	IsAvailable bool   `json:"is_available"`
	StartTime   string `json:"start_time,omitempty"`
	EndTime     string `json:"end_time,omitempty"`
}

type scheduleRequest struct {
	DoctorID int64         `json:"doctor_id,omitempty"`
	Days     []scheduleDay `json:"days"`
}

func (h *Handler) ReplaceSchedule(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, failure{Message: "authentication required"})
		return
	}
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, failure{Message: "malformed request body"})
		return
	}

	doctorID := req.DoctorID
	if doctorID == 0 {
		doctorID = actor.ID
	}
	week := make([]model.DayAvailability, 0, len(req.Days))
	for _, d := range req.Days {
		week = append(week, model.DayAvailability{
			Weekday:     time.Weekday(d.DayOfWeek),
			IsAvailable: d.IsAvailable,
			StartTime:   d.StartTime,
			EndTime:     d.EndTime,
		})
	}

	if err := h.svc.ReplaceSchedule(r.Context(), actor, doctorID, week); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
