// Package errs defines the error taxonomy shared by the scheduler and
// cache packages: structured types with Cause/Unwrap chains, matchable via
// errors.Is/errors.As.
package errs

import "fmt"

// ConfigurationError signals a construction-time or call-time misuse:
// scheduling in the past under strict ordering, a unit-aware call against a
// time provider that doesn't support units, a negative duration, and so on.
type ConfigurationError struct {
	Message string
	Cause   error
}

func (e *ConfigurationError) Error() string {
	if e.Message == "" {
		return "configuration error"
	}
	return e.Message
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }

// NewConfigurationError constructs a ConfigurationError.
func NewConfigurationError(msg string, cause error) *ConfigurationError {
	return &ConfigurationError{Message: msg, Cause: cause}
}

// TimeUnitNotSpecifiedError is a ConfigurationError raised when a caller
// requests a unit-aware operation (e.g. DoIn with a time.Duration) against a
// scheduler whose time provider does not implement unit conversion.
type TimeUnitNotSpecifiedError struct {
	ConfigurationError
}

// NewTimeUnitNotSpecifiedError constructs a TimeUnitNotSpecifiedError.
func NewTimeUnitNotSpecifiedError(providerType string) *TimeUnitNotSpecifiedError {
	return &TimeUnitNotSpecifiedError{ConfigurationError{
		Message: fmt.Sprintf("time provider %s does not support unit-aware conversion", providerType),
	}}
}

// IndexUpdateError is raised by an index when it cannot accept a change; it
// carries the index's name for diagnostics.
type IndexUpdateError struct {
	IndexName string
	Message   string
	Cause     error
}

func (e *IndexUpdateError) Error() string {
	if e.IndexName == "" {
		return e.Message
	}
	return fmt.Sprintf("index %q: %s", e.IndexName, e.Message)
}

func (e *IndexUpdateError) Unwrap() error { return e.Cause }

// NewIndexUpdateError constructs an IndexUpdateError.
func NewIndexUpdateError(indexName, msg string, cause error) *IndexUpdateError {
	return &IndexUpdateError{IndexName: indexName, Message: msg, Cause: cause}
}

// CacheUpdateError wraps an IndexUpdateError (or any failure) encountered
// during a cache batch, as the outer failure visible to the caller.
type CacheUpdateError struct {
	Message string
	Cause   error
}

func (e *CacheUpdateError) Error() string {
	if e.Message == "" {
		return "cache update error"
	}
	return e.Message
}

func (e *CacheUpdateError) Unwrap() error { return e.Cause }

// NewCacheUpdateError constructs a CacheUpdateError wrapping cause.
func NewCacheUpdateError(msg string, cause error) *CacheUpdateError {
	return &CacheUpdateError{Message: msg, Cause: cause}
}

// ConcurrentMutationError is raised by the concurrency sentinel when it
// detects a second goroutine entering a mutating operation (or the same
// goroutine re-entering) while one is already in progress.
type ConcurrentMutationError struct {
	ActiveGoroutineID      uint64
	ConflictingGoroutineID uint64
	Message                string
}

func (e *ConcurrentMutationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("concurrent mutation detected: goroutine %d conflicts with goroutine %d already mutating", e.ConflictingGoroutineID, e.ActiveGoroutineID)
}

// NewConcurrentMutationError constructs a ConcurrentMutationError.
func NewConcurrentMutationError(active, conflicting uint64) *ConcurrentMutationError {
	return &ConcurrentMutationError{ActiveGoroutineID: active, ConflictingGoroutineID: conflicting}
}

// RecoverableError is a marker type: any error whose chain contains a
// RecoverableError diverts a scheduler's execution wrapper to its
// recoverable-error listeners instead of a full shutdown.
type RecoverableError struct {
	Cause error
}

func (e *RecoverableError) Error() string {
	if e.Cause != nil {
		return "recoverable: " + e.Cause.Error()
	}
	return "recoverable error"
}

func (e *RecoverableError) Unwrap() error { return e.Cause }

// Recoverable wraps cause as a RecoverableError. A nil cause yields a nil
// error, so callers can write `return errs.Recoverable(err)` unconditionally.
func Recoverable(cause error) error {
	if cause == nil {
		return nil
	}
	return &RecoverableError{Cause: cause}
}

// FatalSchedulerError wraps any error or recovered panic value that is not
// (per its Unwrap/errors.As chain) a RecoverableError, causing the
// scheduler to notify its failure listeners and stop.
type FatalSchedulerError struct {
	Cause error
}

func (e *FatalSchedulerError) Error() string {
	if e.Cause != nil {
		return "fatal scheduler error: " + e.Cause.Error()
	}
	return "fatal scheduler error"
}

func (e *FatalSchedulerError) Unwrap() error { return e.Cause }

// Fatal wraps cause as a FatalSchedulerError.
func Fatal(cause error) error {
	return &FatalSchedulerError{Cause: cause}
}
