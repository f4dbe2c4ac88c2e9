package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized means the delivery failed every configured auth scheme.
	ErrUnauthorized = errors.New("unauthorized webhook")
	// ErrPaymentNotFound is the benign race: the creating transaction has not committed yet.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrConcurrentUpdate is returned when the status CAS keeps losing to other deliveries.
	ErrConcurrentUpdate = errors.New("payment status changed concurrently")
)

// ParameterError is a schema or parameter violation on an otherwise readable body.
// It maps to a 4xx response and must not be retried by the processor.
type ParameterError struct {
	Field   string
	Message string
}

func (e *ParameterError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewParameterError builds a ParameterError without a field reference.
func NewParameterError(format string, args ...interface{}) *ParameterError {
	return &ParameterError{Message: fmt.Sprintf(format, args...)}
}

// IsParameterError reports whether err wraps a ParameterError.
func IsParameterError(err error) bool {
	var pe *ParameterError
	return errors.As(err, &pe)
}

// MalformedPayloadError covers empty or unparsable bodies. These are usually
// retried duplicates and are acknowledged with 200.
type MalformedPayloadError struct {
	Empty bool
	Err   error
}

func (e *MalformedPayloadError) Error() string {
	if e.Empty {
		return "empty webhook body"
	}
	return fmt.Sprintf("unparsable webhook body: %v", e.Err)
}

func (e *MalformedPayloadError) Unwrap() error {
	return e.Err
}

// IsMalformedPayload reports whether err wraps a MalformedPayloadError.
func IsMalformedPayload(err error) bool {
	var me *MalformedPayloadError
	return errors.As(err, &me)
}

// SideEffectError describes a failed post-confirmation action. It is logged and
// counted, never returned to the webhook caller.
type SideEffectError struct {
	Action    string
	PaymentID uint
	Err       error
}

func (e *SideEffectError) Error() string {
	return fmt.Sprintf("side effect %s failed for payment %d: %v", e.Action, e.PaymentID, e.Err)
}

func (e *SideEffectError) Unwrap() error {
	return e.Err
}

// ErrUnhandledEventType marks provider events that carry no payment status.
var ErrUnhandledEventType = errors.New("event type does not affect payments")
