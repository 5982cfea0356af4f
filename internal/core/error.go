/*
Package core provides the bulk matching engine of unmask: the worker-pool scheduler and the
chunked matcher that fans one compiled pattern out over a candidate set. It defines the common
data structures and constants used across these components.
*/
package core

/*
unmask — recover censored email domains from a list of known domains
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import "errors"

// customError is an error type that includes a retryable flag.
// This allows components to determine if an operation that resulted in this error
// should be retried.
type customError struct {
	message   string // The error message.
	retryable bool   // True if the error indicates a condition that might be resolved by retrying.
}

// NewError creates a new customError with the given message and retryable status.
func NewError(msg string, retryable bool) error {
	return &customError{
		message:   msg,
		retryable: retryable,
	}
}

// Error implements the standard Go `error` interface.
func (e *customError) Error() string {
	return e.message
}

// IsRetryable returns true if the error is designated as retryable, false otherwise.
func (e *customError) IsRetryable() bool {
	return e.retryable
}

// IsRetryable reports whether err, or any error it wraps, is a retryable *customError.
// Nil and foreign errors are not retryable.
func IsRetryable(err error) bool {
	var ce *customError
	if errors.As(err, &ce) {
		return ce.IsRetryable()
	}
	return false
}

// Common error values used within the core package.
var (
	// ErrSchedulerShutdown is returned for work submitted after Shutdown began.
	// The scheduler never comes back, so this is not retryable.
	ErrSchedulerShutdown = NewError("scheduler is shutting down", false)

	// ErrWorkerPanic is reported for a chunk whose callback panicked. The panic value is
	// wrapped alongside it. Matching is deterministic, so a retry would panic again.
	ErrWorkerPanic = NewError("worker panic", false)
)
