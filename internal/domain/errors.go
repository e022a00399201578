package domain

import (
	"errors"
	"fmt"
)

// ErrInsufficientSeats is wrapped by the ValidationError returned when a trip
// cannot hold the requested seats.
var ErrInsufficientSeats = errors.New("insufficient seats")

type NotFoundError struct {
	Resource string
	Err      error
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e NotFoundError) Unwrap() error { return e.Err }

type ValidationError struct {
	Field string
	Msg   string
	Err   error
}

func (e ValidationError) Error() string {
	if e.Msg != "" && e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Msg)
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Field != "" {
		return fmt.Sprintf("invalid %s", e.Field)
	}
	return "validation error"
}

func (e ValidationError) Unwrap() error { return e.Err }

type ConflictError struct {
	Resource string
	Msg      string
	Err      error
}

func (e ConflictError) Error() string {
	switch {
	case e.Msg != "" && e.Resource != "":
		return fmt.Sprintf("%s conflict: %s", e.Resource, e.Msg)
	case e.Msg != "":
		return e.Msg
	case e.Resource != "":
		return fmt.Sprintf("%s conflict", e.Resource)
	default:
		return "conflict"
	}
}

func (e ConflictError) Unwrap() error { return e.Err }

type InternalError struct {
	Msg string
	Err error
}

func (e InternalError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return "internal error"
}

func (e InternalError) Unwrap() error { return e.Err }

// UnauthorizedError means missing, invalid or expired credentials.
type UnauthorizedError struct {
	Msg string
	Err error
}

func (e UnauthorizedError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return "unauthorized"
}

func (e UnauthorizedError) Unwrap() error { return e.Err }

// InvalidTransitionError is returned by the booking state machine before any
// row is touched.
type InvalidTransitionError struct {
	Action string
	From   string
}

func (e InvalidTransitionError) Error() string {
	if e.Action == "" {
		return fmt.Sprintf("invalid transition from %q", e.From)
	}
	return fmt.Sprintf("cannot %s a booking in status %q", e.Action, e.From)
}

// IntegrityError marks a callback whose signature or origin could not be
// verified.
type IntegrityError struct {
	Provider string
	Msg      string
	Err      error
}

func (e IntegrityError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = "signature verification failed"
	}
	if e.Provider == "" {
		return msg
	}
	return fmt.Sprintf("%s callback: %s", e.Provider, msg)
}

func (e IntegrityError) Unwrap() error { return e.Err }

type UnsupportedOperationError struct {
	Provider  string
	Operation string
}

func (e UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Provider, e.Operation)
}

// GatewayError carries the diagnostic context of a failed provider call.
// HTTPStatus is 0 when the request never got a response (timeout, dial error).
type GatewayError struct {
	Provider      string
	Operation     string
	HTTPStatus    int
	ProviderCode  string
	CorrelationID string
	Msg           string
	Err           error
}

func (e GatewayError) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	out := fmt.Sprintf("%s %s failed", e.Provider, e.Operation)
	if e.HTTPStatus > 0 {
		out += fmt.Sprintf(" (http %d", e.HTTPStatus)
		if e.ProviderCode != "" {
			out += ", " + e.ProviderCode
		}
		out += ")"
	}
	if msg != "" {
		out += ": " + msg
	}
	return out
}

func (e GatewayError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may try again: transport failures,
// timeouts, rate limiting and 5xx responses.
func (e GatewayError) Retryable() bool {
	return e.HTTPStatus == 0 || e.HTTPStatus == 429 || e.HTTPStatus >= 500
}

func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target ValidationError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target ConflictError
	return errors.As(err, &target)
}

func IsInternal(err error) bool {
	var target InternalError
	return errors.As(err, &target)
}

func IsUnauthorized(err error) bool {
	var target UnauthorizedError
	return errors.As(err, &target)
}

func IsInvalidTransition(err error) bool {
	var target InvalidTransitionError
	return errors.As(err, &target)
}

func IsIntegrity(err error) bool {
	var target IntegrityError
	return errors.As(err, &target)
}

func IsUnsupported(err error) bool {
	var target UnsupportedOperationError
	return errors.As(err, &target)
}

func IsGateway(err error) bool {
	var target GatewayError
	return errors.As(err, &target)
}

// AsGateway extracts the GatewayError from err's chain.
func AsGateway(err error) (GatewayError, bool) {
	var target GatewayError
	ok := errors.As(err, &target)
	return target, ok
}
