package dispatch

import (
	"errors"
	"net/http"

	"github.com/example/prospect-sender/internal/policy"
)

type Kind string

const (
	KindPolicyDenied         Kind = "policy_denied"
	KindValidation           Kind = "validation_failed"
	KindGateway              Kind = "gateway_failed"
	KindConfigurationMissing Kind = "configuration_missing"
	KindNotFound             Kind = "not_found"
	KindInternal             Kind = "internal"
)

// Error is returned by every coordinator operation that does not complete.
// Reason is a human-readable message that can be shown to the caller as-is.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Reason {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindPolicyDenied, KindValidation:
		return http.StatusBadRequest
	case KindNotFound, KindConfigurationMissing:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// HTTPStatus maps any error to a status code; errors that are not *Error
// are treated as internal.
func HTTPStatus(err error) int {
	var de *Error
	if errors.As(err, &de) {
		return de.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// Reason returns the display message of err.
func Reason(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Reason
	}
	return err.Error()
}

func newError(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func denied(d policy.Decision) *Error {
	return &Error{Kind: KindPolicyDenied, Reason: d.Message}
}
