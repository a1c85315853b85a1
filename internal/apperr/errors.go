// Package apperr defines the error taxonomy shared by the session,
// preference, and progress services.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Auth error codes.
const (
	CodeInvalidCredentials = "invalid_credentials"
	CodeRegistrationFailed = "registration_failed"
	CodeProfileFetchFailed = "profile_fetch_failed"
	CodeUnauthorized       = "unauthorized"
	CodeNotAuthenticated   = "not_authenticated"
	CodeRefreshFailed      = "refresh_failed"
)

// ValidationError indicates missing or malformed input, detected before any
// network call is made. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// Required returns a ValidationError for an empty required field.
func Required(field string) *ValidationError {
	return &ValidationError{Field: field, Reason: "is required"}
}

// AuthError indicates a login, registration, or token failure.
type AuthError struct {
	Code string
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth error (%s): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("auth error (%s)", e.Code)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError indicates a transport failure, a non-JSON response, a timeout,
// or a request the server rejected. Status is the HTTP status code when the
// server answered, zero otherwise.
type NetworkError struct {
	Op     string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: HTTP %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SyncWarning reports that a local mutation succeeded but mirroring it to the
// server failed. The local change is never rolled back.
type SyncWarning struct {
	Op          string
	QuestionIDs []string
	Err         error
}

func (e *SyncWarning) Error() string {
	ids := strings.Join(e.QuestionIDs, ",")
	return fmt.Sprintf("sync warning: %s [%s]: %v", e.Op, ids, e.Err)
}

func (e *SyncWarning) Unwrap() error { return e.Err }

// IsUnauthorized reports whether err carries an unauthorized auth failure.
func IsUnauthorized(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Code == CodeUnauthorized
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNetwork reports whether err is a NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsAuth reports whether err is an AuthError of any code.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
