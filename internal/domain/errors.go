package domain

import "fmt"

// Error types for consistent error handling across the service.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrProviderUnavailable indicates a transient failure talking to the
// aggregation provider (network, rate limit, 5xx). A sync run aborts on it
// and resumes from the last checkpoint on the next trigger.
type ErrProviderUnavailable struct {
	Provider string
	Err      error
}

func (e *ErrProviderUnavailable) Error() string {
	return fmt.Sprintf("provider unavailable [%s]: %v", e.Provider, e.Err)
}

func (e *ErrProviderUnavailable) Unwrap() error {
	return e.Err
}

// ErrPersistence indicates a storage write or read failed.
type ErrPersistence struct {
	Op  string
	Err error
}

func (e *ErrPersistence) Error() string {
	return fmt.Sprintf("persistence error [%s]: %v", e.Op, e.Err)
}

func (e *ErrPersistence) Unwrap() error {
	return e.Err
}

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input or a malformed
// change-feed page).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrDuplicate indicates a uniqueness conflict on an external key.
type ErrDuplicate struct {
	Resource string
	Key      string
}

func (e *ErrDuplicate) Error() string {
	return fmt.Sprintf("duplicate %s: %s", e.Resource, e.Key)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}
