package booking

import (
	"github.com/nahid-mahmud/clinicbook/services/booking-service/internal/model"
)

// transitions declares every legal status change in one place. Anything not
// listed here is rejected.
var transitions = map[model.Status]map[model.Status]bool{
	model.StatusPending: {
		model.StatusConfirmed: true,
		model.StatusCancelled: true,
		model.StatusCompleted: true,
	},
	model.StatusConfirmed: {
		model.StatusCancelled: true,
		model.StatusCompleted: true,
	},
}

// CheckTransition validates a status change against the lifecycle table and
// the actor's permissions. today is the current date in YYYY-MM-DD form;
// date strings compare correctly as strings in that layout.
func CheckTransition(appt model.Appointment, to model.Status, actor model.Actor, today string) error {
	if !to.Valid() {
		return validationf("unknown status %q", string(to))
	}

	if appt.Status.Terminal() {
		return &IllegalTransitionError{From: appt.Status, To: to, Reason: "appointment is already " + string(appt.Status)}
	}
	if to == appt.Status {
		return &IllegalTransitionError{From: appt.Status, To: to, Reason: "appointment is already " + string(to)}
	}
	if !transitions[appt.Status][to] {
		return &IllegalTransitionError{From: appt.Status, To: to, Reason: "no such transition"}
	}

	switch actor.Role {
	case model.RoleAdmin:
		// Admins may drive any listed transition.
	case model.RolePatient:
		if to != model.StatusCancelled {
			return &PermissionError{Reason: "patients may only cancel appointments"}
		}
		if appt.PatientID != actor.ID {
			return &PermissionError{Reason: "appointment belongs to another patient"}
		}
	case model.RoleDoctor:
		if appt.DoctorID != actor.ID {
			return &PermissionError{Reason: "appointment belongs to another doctor"}
		}
	default:
		return &PermissionError{Reason: "role may not change appointment status"}
	}

	switch to {
	case model.StatusCompleted:
		if appt.Date > today {
			return &IllegalTransitionError{From: appt.Status, To: to, Reason: "appointment date is still in the future"}
		}
	case model.StatusConfirmed:
		if appt.Date < today {
			return &IllegalTransitionError{From: appt.Status, To: to, Reason: "appointment date has already passed"}
		}
	}

	return nil
}
