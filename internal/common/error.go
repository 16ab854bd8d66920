// Package common defines sentinel errors shared by the repositories, the
// store services and the cleanup reaper. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrorInternal = errors.New("internal error")

	// ErrValidation marks a caller error detected before touching storage:
	// blank keys, blank device/user codes or an all-empty grant filter.
	ErrValidation = errors.New("validation error")

	// ErrUniquenessViolation is returned when a device code or user code
	// is already taken. Nothing is written in that case.
	ErrUniquenessViolation = errors.New("uniqueness violation")

	// ErrInvalidOperation is returned when a device flow is authorized
	// before it was stored, or authorized a second time.
	ErrInvalidOperation = errors.New("invalid operation")
)
