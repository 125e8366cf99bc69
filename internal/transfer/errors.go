package transfer

import (
	"errors"
	"fmt"
)

// Class labels a delivery failure so retry policy and operator logs can
// tell transient network trouble apart from terminal conditions.
type Class string

const (
	// ClassNetwork covers transient connectivity and timeout failures;
	// the only retryable class.
	ClassNetwork Class = "network"
	// ClassAuth covers credential failures. Non-retryable and
	// alert-worthy: retrying with the same credentials cannot succeed.
	ClassAuth Class = "auth"
	// ClassRejected covers the remote end refusing the message.
	ClassRejected Class = "rejected"
	// ClassOversized marks clips over the attachment size policy. Applied
	// before any send attempt; never consumes retry attempts.
	ClassOversized Class = "oversized"
)

// Error is a classified delivery failure returned by Sender
// implementations.
type Error struct {
	Class Class
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transfer %s failure: %v", e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// AuthFailure wraps err as a non-retryable credential failure.
func AuthFailure(err error) error { return &Error{Class: ClassAuth, Err: err} }

// NetworkFailure wraps err as a retryable connectivity failure.
func NetworkFailure(err error) error { return &Error{Class: ClassNetwork, Err: err} }

// Rejected wraps err as a non-retryable remote refusal.
func Rejected(err error) error { return &Error{Class: ClassRejected, Err: err} }

// ClassOf extracts the failure class. Unclassified errors are treated as
// network failures, the conservative retryable default.
func ClassOf(err error) Class {
	var te *Error
	if errors.As(err, &te) {
		return te.Class
	}
	return ClassNetwork
}
