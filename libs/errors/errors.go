package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound - resource not found
	ErrNotFound = errors.New("not found")
	// ErrNotAuthenticated - caller identity missing or invalid
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrForbidden - caller is not allowed to act on the resource
	ErrForbidden = errors.New("forbidden")
	// ErrConflict - request conflicts with current state
	ErrConflict = errors.New("conflict")
	// ErrDuplicateRegistration - an active host registration already exists
	ErrDuplicateRegistration = errors.New("already registered or waitlisted")
	// ErrInsufficientFunds - wallet cannot cover the required amount
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrGuestLimitExceeded - host already has the maximum number of guests
	ErrGuestLimitExceeded = errors.New("maximum 2 guests per host")
	// ErrCapacityBelowConfirmed - capacity cannot drop below confirmed seats
	ErrCapacityBelowConfirmed = errors.New("capacity below confirmed seats")
	// ErrInvalidTransition - session lifecycle transition not allowed
	ErrInvalidTransition = errors.New("invalid session status transition")
	// ErrTooLate - action attempted at or after session start
	ErrTooLate = errors.New("session already started")
	// ErrBacklogFull - per-session ingress backlog cap hit
	ErrBacklogFull = errors.New("registration queue is busy")
	// ErrCorruptState - a stored record is missing required fields
	ErrCorruptState = errors.New("corrupt stored state")
	// ErrValidation - malformed input
	ErrValidation = errors.New("validation failed")
	// ErrInternalServerError - the server was unable to complete the request
	ErrInternalServerError = errors.New("server encountered an internal error and was unable to complete the request")
)

// ErrorBundle creates a new response error
type ErrorBundle struct {
	cause   error
	message string
	data    interface{}
}

// New creates a new response error
func New(cause error, message string, data interface{}) error {
	return &ErrorBundle{
		cause,
		message,
		data,
	}
}

// Data from error origin
func (e ErrorBundle) Data() interface{} {
	return e.data
}

// Cause returns the associated cause
func (e ErrorBundle) Cause() error {
	return e.cause
}

// Unwrap returns the associated cause
func (e ErrorBundle) Unwrap() error {
	return e.cause
}

// Error turns into an error
func (e ErrorBundle) Error() string {
	return e.message
}

// DataToString returns string representation of data
func (e ErrorBundle) DataToString() string {
	if e.data == nil {
		return "no error bundle data"
	}
	b, err := json.Marshal(e.data)
	if err != nil {
		return fmt.Sprintf("error retrieving error bundle data %s", err.Error())
	}
	return string(b)
}

// Wrap wraps an error
func Wrap(cause error, message string) error {
	return &ErrorBundle{
		cause:   cause,
		message: message,
		data:    nil,
	}
}

// MultiError - allows for multiple errors, not necessarily chained
type MultiError struct {
	Errs []error
}

// Append - append new errors to this multierror
func (me *MultiError) Append(err ...error) {
	if me.Errs == nil {
		me.Errs = []error{}
	}
	me.Errs = append(me.Errs, err...)
}

// Count - get the number of errors contained herein
func (me *MultiError) Count() int {
	return len(me.Errs)
}

// Unwrap - implement unwrap for errors.Is/As
func (me *MultiError) Unwrap() []error {
	return me.Errs
}

// Error - implement Error interface
func (me *MultiError) Error() string {
	var errText string
	for _, err := range me.Errs {
		if errText == "" {
			errText = err.Error()
		} else {
			errText += "; " + err.Error()
		}
	}
	return errText
}
