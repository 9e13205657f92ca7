package model

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Terminal statuses accept no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Actor identifies who is performing an operation. There is no ambient
// session state; every call that needs permissions takes an Actor.
type Actor struct {
	ID   int64
	Role Role
}

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04:05"
)

// Appointment is a booked consultation slot. Rows are never deleted; the
// lifecycle is tracked through Status. A cancelled appointment frees its
// (doctor, date, time) slot for re-booking.
type Appointment struct {
	ID        int64     `json:"id"`
	PatientID int64     `json:"patient_id"`
	DoctorID  int64     `json:"doctor_id"`
	Date      string    `json:"date"` // YYYY-MM-DD
	Time      string    `json:"time"` // HH:MM:SS
	Status    Status    `json:"status"`
	Symptoms  string    `json:"symptoms,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StartsAt combines Date and Time into a wall-clock instant.
func (a Appointment) StartsAt() (time.Time, error) {
	t, err := time.Parse(DateLayout+" "+ClockLayout, a.Date+" "+a.Time)
	if err != nil {
		return time.Time{}, fmt.Errorf("appointment %d has malformed schedule: %w", a.ID, err)
	}
	return t, nil
}

// DayAvailability is one entry of a doctor's weekly template. The seven
// entries for a doctor are replaced wholesale on every schedule update.
type DayAvailability struct {
	DoctorID    int64
	Weekday     time.Weekday
	IsAvailable bool
	StartTime   string // HH:MM:SS, empty when not available
	EndTime     string
}

type User struct {
	ID           int64
	Name         string
	Email        string
	Phone        string
	Role         Role
	PasswordHash string
}
