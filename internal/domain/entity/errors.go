package entity

import (
	"errors"
	"fmt"
)

// The relay distinguishes two broad failure classes. A MessageError means the
// input itself is bad (malformed frame, failed validation, untrusted
// envelope): the unit of work is skipped and acknowledged. An
// UnavailableError means a backing service is down (key store, document
// store, object store, broker): the unit of work is aborted without
// acknowledgement so the queue redelivers it.

// MessageError reports malformed or policy-rejected input.
type MessageError struct {
	Reason string
	Err    error
}

// NewMessageError creates a MessageError, optionally wrapping a cause.
func NewMessageError(reason string, err error) *MessageError {
	return &MessageError{Reason: reason, Err: err}
}

func (e *MessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *MessageError) Unwrap() error {
	return e.Err
}

// UnavailableError reports that a backing service could not be reached.
type UnavailableError struct {
	Service string
	Err     error
}

// NewUnavailableError creates an UnavailableError wrapping the cause.
func NewUnavailableError(service string, err error) *UnavailableError {
	return &UnavailableError{Service: service, Err: err}
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// IsMessageError reports whether err is (or wraps) a MessageError.
func IsMessageError(err error) bool {
	var merr *MessageError
	return errors.As(err, &merr)
}

// IsUnavailableError reports whether err is (or wraps) an UnavailableError.
func IsUnavailableError(err error) bool {
	var uerr *UnavailableError
	return errors.As(err, &uerr)
}

// ErrObjectNotFound is returned by the object store when a key does not
// exist. Concurrent deletion makes this a routine, benign outcome for
// readers.
var ErrObjectNotFound = errors.New("object not found")

// Delivery outcome sentinels. Both are permanent: the parcel is discarded and
// never retried.
var (
	// ErrInvalidParcel means the remote endpoint rejected the parcel as
	// invalid.
	ErrInvalidParcel = errors.New("parcel rejected by recipient endpoint")

	// ErrBindingViolation means the remote endpoint reported that this
	// gateway broke the delivery protocol.
	ErrBindingViolation = errors.New("delivery binding violation")
)
