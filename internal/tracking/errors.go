package tracking

import "errors"

var (
	// ErrInvalidInput is returned when a request is missing a required field.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPersistence is returned when an event log append or truncate fails.
	// On the open path it is logged and never reaches the remote party.
	ErrPersistence = errors.New("persistence failure")

	// ErrUnauthorized is returned when an admin operation lacks a valid token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when a tracking id has no sent record and no opens.
	ErrNotFound = errors.New("tracking id not found")
)
