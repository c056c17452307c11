package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigurationError(t *testing.T) {
	cause := errors.New("boom")
	err := NewConfigurationError("bad config", cause)
	assert.Equal(t, "bad config", err.Error())
	assert.ErrorIs(t, err, cause)

	var ce *ConfigurationError
	assert.ErrorAs(t, error(err), &ce)
}

func TestTimeUnitNotSpecifiedError(t *testing.T) {
	err := NewTimeUnitNotSpecifiedError("*timeprovider.CustomClock")
	assert.Contains(t, err.Error(), "*timeprovider.CustomClock")

	var tu *TimeUnitNotSpecifiedError
	assert.True(t, errors.As(error(err), &tu))
}

func TestIndexUpdateError(t *testing.T) {
	err := NewIndexUpdateError("by-id", "duplicate key", nil)
	assert.Equal(t, `index "by-id": duplicate key`, err.Error())

	bare := &IndexUpdateError{Message: "oops"}
	assert.Equal(t, "oops", bare.Error())
}

func TestCacheUpdateError_wrapsIndexUpdateError(t *testing.T) {
	iuErr := NewIndexUpdateError("by-id", "duplicate key", nil)
	cuErr := NewCacheUpdateError("batch failed", iuErr)

	assert.ErrorIs(t, cuErr, iuErr)

	var target *IndexUpdateError
	assert.ErrorAs(t, error(cuErr), &target)
	assert.Same(t, iuErr, target)
}

func TestConcurrentMutationError(t *testing.T) {
	err := NewConcurrentMutationError(1, 2)
	assert.Contains(t, err.Error(), "goroutine 2")
	assert.Contains(t, err.Error(), "goroutine 1")
}

func TestRecoverable(t *testing.T) {
	assert.Nil(t, Recoverable(nil))

	cause := errors.New("transient")
	wrapped := Recoverable(cause)
	require := assert.New(t)
	require.Error(wrapped)
	require.ErrorIs(wrapped, cause)

	var re *RecoverableError
	require.ErrorAs(wrapped, &re)
}

func TestFatal(t *testing.T) {
	cause := errors.New("unrecoverable")
	wrapped := Fatal(cause)
	assert.ErrorIs(t, wrapped, cause)

	var fe *FatalSchedulerError
	assert.ErrorAs(t, wrapped, &fe)

	// A RecoverableError's chain must not satisfy errors.As for
	// FatalSchedulerError, and vice versa: they're distinct branches.
	recoverable := Recoverable(cause)
	var fe2 *FatalSchedulerError
	assert.False(t, errors.As(recoverable, &fe2))
}
