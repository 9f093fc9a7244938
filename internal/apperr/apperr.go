// Package apperr holds the error taxonomy shared by the ledger, redemption,
// settlement and guard components. Callers match with errors.Is.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyRedeemed = errors.New("code already redeemed")
	ErrExpired         = errors.New("expired")
	ErrQuotaExceeded   = errors.New("daily quota exceeded")
	ErrAmountMismatch  = errors.New("amount mismatch")
	ErrInvalidInput    = errors.New("invalid input")
	ErrConflict        = errors.New("conflict")
	ErrUnavailable     = errors.New("unavailable")
	ErrInsufficient    = errors.New("insufficient points")

	ErrRegistrationLimited = errors.New("too many registrations from this address")
	ErrAdmissionLimited    = errors.New("too many concurrent jobs")
)

type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string {
	return fmt.Sprintf("%s: %s", e.kind, e.cause)
}

func (e *kindError) Unwrap() []error {
	return []error{e.kind, e.cause}
}

// Wrap tags cause with kind. The result matches both under errors.Is.
func Wrap(kind, cause error) error {
	if cause == nil {
		return nil
	}
	return &kindError{kind: kind, cause: cause}
}

// Unavailable marks a storage or gateway failure. Errors that already carry a
// taxonomy kind are returned unchanged.
func Unavailable(cause error) error {
	if cause == nil || Kind(cause) != nil {
		return cause
	}
	return Wrap(ErrUnavailable, cause)
}

// Invalid builds an ErrInvalidInput with a message.
func Invalid(format string, args ...any) error {
	return Wrap(ErrInvalidInput, fmt.Errorf(format, args...))
}

var kinds = []error{
	ErrNotFound,
	ErrAlreadyRedeemed,
	ErrExpired,
	ErrQuotaExceeded,
	ErrAmountMismatch,
	ErrInvalidInput,
	ErrConflict,
	ErrUnavailable,
	ErrInsufficient,
	ErrRegistrationLimited,
	ErrAdmissionLimited,
}

// Kind returns the taxonomy sentinel carried by err, or nil.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// IsTerminal reports whether err is a validation outcome to show the user
// rather than a failure to retry.
func IsTerminal(err error) bool {
	k := Kind(err)
	return k != nil && k != ErrUnavailable
}

func HTTPStatus(err error) int {
	switch Kind(err) {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrAlreadyRedeemed, ErrConflict:
		return http.StatusConflict
	case ErrExpired:
		return http.StatusGone
	case ErrQuotaExceeded, ErrRegistrationLimited, ErrAdmissionLimited:
		return http.StatusTooManyRequests
	case ErrAmountMismatch, ErrInvalidInput:
		return http.StatusBadRequest
	case ErrInsufficient:
		return http.StatusPaymentRequired
	case ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
