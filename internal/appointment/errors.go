package appointment

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindBusy              Kind = "busy"
	KindInvalidTransition Kind = "invalid_transition"
	KindUnauthorized      Kind = "unauthorized"
)

// Error is a business outcome the caller can act on. Storage and transport
// failures are never wrapped in an Error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind and Code so that errors built with extra detail still
// compare equal to the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Code == "" || e.Code == t.Code)
}

var (
	ErrInvalidWindow       = &Error{Kind: KindValidation, Code: "invalid_window", Message: "window start must be before end"}
	ErrInvalidDate         = &Error{Kind: KindValidation, Code: "invalid_date", Message: "invalid date"}
	ErrInvalidSchedule     = &Error{Kind: KindValidation, Code: "invalid_schedule", Message: "invalid schedule entry"}
	ErrInvalidMetadata     = &Error{Kind: KindValidation, Code: "invalid_metadata", Message: "invalid booking details"}
	ErrWindowInPast        = &Error{Kind: KindValidation, Code: "window_in_past", Message: "window has already started"}
	ErrProviderNotFound    = &Error{Kind: KindNotFound, Code: "provider_not_found", Message: "provider not found"}
	ErrProviderInactive    = &Error{Kind: KindNotFound, Code: "provider_inactive", Message: "provider is not accepting bookings"}
	ErrOfferingNotFound    = &Error{Kind: KindNotFound, Code: "offering_not_found", Message: "offering not found for provider"}
	ErrAppointmentNotFound = &Error{Kind: KindNotFound, Code: "appointment_not_found", Message: "appointment not found"}
	ErrOutsideAvailability = &Error{Kind: KindConflict, Code: "outside_availability", Message: "window is outside the provider's availability"}
	ErrSlotTaken           = &Error{Kind: KindConflict, Code: "slot_taken", Message: "window overlaps an existing appointment"}
	ErrBusy                = &Error{Kind: KindBusy, Code: "booking_busy", Message: "provider is busy taking another booking, please retry"}
	ErrInvalidTransition   = &Error{Kind: KindInvalidTransition, Code: "invalid_transition", Message: "invalid status transition"}
	ErrUnknownStatus       = &Error{Kind: KindInvalidTransition, Code: "unknown_status", Message: "unknown status"}
	ErrMissingActor        = &Error{Kind: KindUnauthorized, Code: "missing_actor", Message: "missing actor"}
	ErrForbidden           = &Error{Kind: KindUnauthorized, Code: "forbidden", Message: "actor may not act on this resource"}
)

// withDetail returns a copy of sentinel carrying err as its cause.
func withDetail(sentinel *Error, err error) *Error {
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Message: sentinel.Message, Err: err}
}

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

// KindOf returns the kind of err, or "" when err is not a business error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
