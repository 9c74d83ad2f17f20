package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/marksync/internal/entity"
)

var (
	// ErrConflict is returned when a record already has a mutation in flight.
	ErrConflict = errors.New("model: record has a mutation in flight")

	// ErrClosed is returned by operations on a closed model.
	ErrClosed = errors.New("model: closed")
)

// ErrorCode categorizes mutation failures.
type ErrorCode string

const (
	// CodeRejected indicates the remote answered with a non-200 status.
	CodeRejected ErrorCode = "REMOTE_REJECTED"

	// CodeTransport indicates the remote call itself failed.
	CodeTransport ErrorCode = "TRANSPORT_FAILED"

	// CodeConflict indicates a record already had a mutation in flight.
	CodeConflict ErrorCode = "CONFLICT"

	// CodeClosed indicates the model was closed.
	CodeClosed ErrorCode = "CLOSED"

	// CodeInvalid indicates the mutation request itself was malformed.
	CodeInvalid ErrorCode = "INVALID"
)

// MutationError describes a failed mutation. The optimistic change it
// carried has already been rolled back when it is returned.
type MutationError struct {
	Code       ErrorCode
	Kind       entity.Kind
	Op         entity.Op
	IDs        []string
	Status     int
	StatusText string
	Err        error
}

// Error implements the error interface.
func (e *MutationError) Error() string {
	msg := fmt.Sprintf("%s: %s %s", e.Code, e.Kind, e.Op)
	if len(e.IDs) > 0 {
		msg += fmt.Sprintf(" (ids=%s)", strings.Join(e.IDs, ","))
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
		if e.StatusText != "" {
			msg += " " + e.StatusText
		}
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *MutationError) Unwrap() error {
	return e.Err
}

// IsConflict reports whether err is a conflict rejection.
// Uses errors.As to handle wrapped errors.
func IsConflict(err error) bool {
	var me *MutationError
	if errors.As(err, &me) {
		return me.Code == CodeConflict
	}
	return errors.Is(err, ErrConflict)
}

// IsRejected reports whether err is a non-200 remote answer.
func IsRejected(err error) bool {
	var me *MutationError
	if errors.As(err, &me) {
		return me.Code == CodeRejected
	}
	return false
}

// CodeOf returns the code of a MutationError, or "".
func CodeOf(err error) ErrorCode {
	var me *MutationError
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}
