package booking

import (
	"errors"
	"fmt"

	"github.com/nahid-mahmud/clinicbook/services/booking-service/internal/model"
)

// ErrSlotTaken is returned when another active appointment occupies the
// requested (doctor, date, time) slot. Callers should re-query available
// slots rather than retry the same request.
var ErrSlotTaken = errors.New("slot just taken")

// ErrNotFound is returned when the referenced appointment does not exist.
var ErrNotFound = errors.New("appointment not found")

// ValidationError reports a precondition failure the caller can correct and
// resubmit. It is always distinct from a booking conflict.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// PermissionError reports that the acting user's role or identity does not
// allow the operation.
type PermissionError struct {
	Reason string
}

func (e *PermissionError) Error() string { return e.Reason }

// IllegalTransitionError reports a lifecycle rule violation, naming the
// specific rule so a terminal-state error is never confused with, say, a
// past-date confirmation.
type IllegalTransitionError struct {
	From   model.Status
	To     model.Status
	Reason string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("cannot move appointment from %s to %s: %s", e.From, e.To, e.Reason)
}
