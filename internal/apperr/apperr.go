// Package apperr holds the typed failures returned by the allocation services.
// Every error carries a Kind, used by callers to pick a response class, and a
// Code, used by errors.Is to match a specific failure.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindValidation          Kind = "validation"
	KindConflict            Kind = "conflict"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindBusy                Kind = "busy"
	KindInternal            Kind = "internal"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Code so that a sentinel still matches after WithError or
// WithMessage produced a copy.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithError returns a copy of e wrapping err.
func (e *Error) WithError(err error) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, Err: err}
}

// WithMessage returns a copy of e with a more specific message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...), Err: e.Err}
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// KindOf reports the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf reports the Code of the first *Error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL_ERROR"
}

var (
	ErrValidation      = New(KindValidation, "VALIDATION_ERROR", "invalid input")
	ErrInvalidStatus   = New(KindValidation, "INVALID_STATUS", "unknown status value")
	ErrInvalidDecision = New(KindValidation, "INVALID_DECISION", "decision must be Approved or Rejected")

	ErrNotFound              = New(KindNotFound, "NOT_FOUND", "entity not found")
	ErrAppointmentNotFound   = New(KindNotFound, "APPOINTMENT_NOT_FOUND", "appointment not found")
	ErrNotFoundOrNotEligible = New(KindNotFound, "NOT_FOUND_OR_NOT_ELIGIBLE", "appointment not found or not completed")
	ErrProcessNotFound       = New(KindNotFound, "PROCESS_NOT_FOUND", "process not found")
	ErrBillNotFound          = New(KindNotFound, "BILL_NOT_FOUND", "process has no bill")
	ErrPatientNotFound       = New(KindNotFound, "PATIENT_NOT_FOUND", "patient not found")
	ErrResourceNotFound      = New(KindNotFound, "RESOURCE_NOT_FOUND", "resource not found")
	ErrRequestNotFound       = New(KindNotFound, "REQUEST_NOT_FOUND", "resource request not found")

	ErrSlotUnavailable   = New(KindConflict, "SLOT_UNAVAILABLE", "slot does not exist or is already booked")
	ErrInvalidTransition = New(KindConflict, "INVALID_TRANSITION", "status transition not allowed")
	ErrAlreadyPaid       = New(KindConflict, "ALREADY_PAID", "bill is already paid")
	ErrProcessLocked     = New(KindConflict, "PROCESS_LOCKED", "process is immutable once its bill is paid")

	ErrInsufficientBalance = New(KindInsufficientBalance, "INSUFFICIENT_BALANCE", "balance is lower than the bill amount")

	ErrBusy = New(KindBusy, "BUSY", "resource is locked by another operation, retry shortly")

	ErrAppointmentCreationFailed = New(KindInternal, "APPOINTMENT_CREATION_FAILED", "appointment could not be created")
)
