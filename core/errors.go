package core

import "github.com/pkg/errors"

// FieldError ties a rejection message to one input field, keyed by its JSON name.
type FieldError struct {
	Field string
	Error string
}

// ValidationError is a rejected-input error. The HTTP layer renders Fields as a
// field→message map with a 400 status; domain services raise it for rules the
// struct validator cannot express (self messaging, taken username, bad limit).
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

// shutdown marks an integrity error the server cannot recover from.
// The HTTP error handler checks IsShutdown and triggers a graceful stop.
type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
