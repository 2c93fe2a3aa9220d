// Package apperr defines the error taxonomy shared by the booking core.
// Services return *Error values; the HTTP layer maps the Kind to a status
// code and a machine readable code.  Use errors.Is(err, apperr.ErrReplay)
// and friends to branch on a kind without unwrapping manually.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
)

// Kind classifies an error.
type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindAvailability      Kind = "availability_conflict"
	KindInvalidTransition Kind = "invalid_status_transition"
	KindAlreadyFinalized  Kind = "already_finalized"
	KindExpired           Kind = "token_expired"
	KindInvalidSignature  Kind = "invalid_signature"
	KindReplay            Kind = "replay_detected"
	KindExternal          Kind = "external_service_unavailable"
	KindSystem            Kind = "system_error"
	KindNotFound          Kind = "not_found"
	KindForbidden         Kind = "forbidden"
)

// Error is the concrete error type returned across package boundaries.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.  This lets the
// package level sentinels below match any error of their kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// Sentinels for errors.Is checks.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrAvailability      = &Error{Kind: KindAvailability}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrAlreadyFinalized  = &Error{Kind: KindAlreadyFinalized}
	ErrExpired           = &Error{Kind: KindExpired}
	ErrInvalidSignature  = &Error{Kind: KindInvalidSignature}
	ErrReplay            = &Error{Kind: KindReplay}
	ErrExternal          = &Error{Kind: KindExternal}
	ErrSystem            = &Error{Kind: KindSystem}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrForbidden         = &Error{Kind: KindForbidden}
)

// Validation reports user-correctable input problems.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationField is Validation with the offending field attached.
func ValidationField(field, format string, args ...any) *Error {
	e := Validation(format, args...)
	e.Details = map[string]any{"field": field}
	return e
}

// AvailabilityConflict names the inventory units that lost the race.
func AvailabilityConflict(unitIDs ...string) *Error {
	ids := append([]string(nil), unitIDs...)
	sort.Strings(ids)
	return &Error{
		Kind:    KindAvailability,
		Message: "requested inventory is no longer available",
		Details: map[string]any{"unit_ids": ids},
	}
}

// InvalidTransition carries both ends of a rejected status change.
func InvalidTransition(from, to string, why string) *Error {
	msg := fmt.Sprintf("cannot move reservation from %s to %s", from, to)
	if why != "" {
		msg += ": " + why
	}
	return &Error{
		Kind:    KindInvalidTransition,
		Message: msg,
		Details: map[string]any{"from": from, "to": to},
	}
}

// AlreadyFinalized is returned for a second verify/reject of a payment.
func AlreadyFinalized(paymentID, status string) *Error {
	return &Error{
		Kind:    KindAlreadyFinalized,
		Message: "payment was already " + status,
		Details: map[string]any{"payment_id": paymentID, "status": status},
	}
}

// Expired reports a check-in token past its expiry plus skew.
func Expired(msg string) *Error { return &Error{Kind: KindExpired, Message: msg} }

// InvalidSignature reports a token whose signature does not verify.
func InvalidSignature(msg string) *Error { return &Error{Kind: KindInvalidSignature, Message: msg} }

// Replay reports a token id that has already been consumed.
func Replay(jti string) *Error {
	return &Error{
		Kind:    KindReplay,
		Message: "check-in token was already used",
		Details: map[string]any{"jti": jti},
	}
}

// External wraps a failure of a non-essential collaborator.
func External(service string, err error) *Error {
	return &Error{
		Kind:    KindExternal,
		Message: service + " unavailable",
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

// System wraps an unexpected internal failure.
func System(op string, err error) *Error {
	return &Error{Kind: KindSystem, Message: op, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource string) *Error {
	return &Error{Kind: KindNotFound, Message: resource + " not found"}
}

// Forbidden reports an access to a resource owned by someone else.
func Forbidden(msg string) *Error { return &Error{Kind: KindForbidden, Message: msg} }

// KindOf returns the kind of err, or KindSystem for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindSystem
}

// HTTPStatus maps a kind to the status code used by the API.
func HTTPStatus(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAvailability, KindInvalidTransition, KindAlreadyFinalized, KindReplay:
		return http.StatusConflict
	case KindExpired:
		return http.StatusGone
	case KindInvalidSignature:
		return http.StatusUnauthorized
	case KindExternal:
		return http.StatusServiceUnavailable
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// KindFromCode is the reverse of Kind's string form; unknown codes map to
// KindSystem.  Clients decoding API error bodies use it.
func KindFromCode(code string) Kind {
	switch k := Kind(code); k {
	case KindValidation, KindAvailability, KindInvalidTransition, KindAlreadyFinalized,
		KindExpired, KindInvalidSignature, KindReplay, KindExternal, KindNotFound, KindForbidden:
		return k
	}
	return KindSystem
}
