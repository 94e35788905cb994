package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of remote backend errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx responses from the backend.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses from the backend.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// BackendError is a failed call to a remote cache backend.
type BackendError struct {
	Operation  string
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cache backend %s %s error (status %d): %s: %v",
			e.Operation, e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("cache backend %s %s error (status %d): %s",
		e.Operation, e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// classifyStatus maps a backend HTTP status to an error class.
// Returns "" for non-error statuses.
func classifyStatus(status int) ErrorClass {
	switch {
	case status >= 500:
		return ErrorClassServer
	case status >= 400:
		return ErrorClassClient
	default:
		return ""
	}
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassNetwork:
		return true
	default:
		// 4xx means the payload is wrong; sending it again won't help
		return false
	}
}

// errorClassOf extracts the class from a BackendError, or "" for anything else.
func errorClassOf(err error) ErrorClass {
	var be *BackendError
	if errors.As(err, &be) {
		return be.ErrorClass
	}
	return ""
}
