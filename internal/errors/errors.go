// Package errors provides custom error types for the refresh pipeline.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrNoToken           = errors.New("no access token")
	ErrAuthRejected      = errors.New("access token rejected")
	ErrEmptyResult       = errors.New("provider returned no rows")
	ErrMalformedResponse = errors.New("malformed provider response")
	ErrInvalidExpiry     = errors.New("invalid expiry date")
	ErrInvalidStrike     = errors.New("invalid strike")
	ErrInvalidOptionType = errors.New("invalid option type")
	ErrUnknownUnderlying = errors.New("unknown underlying")
	ErrWorkspaceNotFound = errors.New("workspace not found")
	ErrWorkspaceExists   = errors.New("workspace already exists")
	ErrLastWorkspace     = errors.New("cannot delete the last workspace")
	ErrTileNotFound      = errors.New("tile not found")
	ErrLegOutOfRange     = errors.New("leg index out of range")
	ErrConfigInvalid     = errors.New("invalid configuration")
	ErrDatabaseError     = errors.New("database error")
)

// FetchError is a failed external lookup for one fetch group.
// It never escapes the refresh loop; the group's cached entries stay as they were.
type FetchError struct {
	Group    string
	Endpoint string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch error [%s] %s: %v", e.Group, e.Endpoint, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError creates a new FetchError.
func NewFetchError(group, endpoint string, err error) *FetchError {
	return &FetchError{
		Group:    group,
		Endpoint: endpoint,
		Err:      err,
	}
}

// ResolutionError means an instrument identifier could not be formed for a leg.
type ResolutionError struct {
	Underlying string
	Expiry     string
	Strike     float64
	Type       string
	Err        error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolution error %s %s %.2f %s: %v", e.Underlying, e.Expiry, e.Strike, e.Type, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// NewResolutionError creates a new ResolutionError.
func NewResolutionError(underlying, expiry string, strike float64, typ string, err error) *ResolutionError {
	return &ResolutionError{
		Underlying: underlying,
		Expiry:     expiry,
		Strike:     strike,
		Type:       typ,
		Err:        err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// IsAuth reports whether err means the token was missing or rejected.
func IsAuth(err error) bool {
	return errors.Is(err, ErrNoToken) || errors.Is(err, ErrAuthRejected)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
