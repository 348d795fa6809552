package services

import "errors"

var (
	// ErrInvalidInput wraps request fields the service rejects before
	// reaching the manager.
	ErrInvalidInput = errors.New("invalid input")

	// ErrServiceUnavailable is returned when a dependency is not wired.
	ErrServiceUnavailable = errors.New("service temporarily unavailable")
)
