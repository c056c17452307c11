package discrete

import (
	"errors"
	"testing"

	"github.com/joeycumines/go-evencache/errs"
	"github.com/joeycumines/go-evencache/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S1: do-now events run FIFO, ahead of do-at events, and virtual time
// advances to the last executed do-at event's time.
func TestScheduler_S1_DoNowFIFOAheadOfDoAt(t *testing.T) {
	s := New(0)
	var order []string

	_, err := s.DoAt(10, "B", func() { order = append(order, "B") })
	require.NoError(t, err)
	s.DoNow("C", func() { order = append(order, "C") })
	s.DoNow("A", func() { order = append(order, "A") })

	require.NoError(t, s.Run())
	assert.Equal(t, []string{"C", "A", "B"}, order)
	assert.Equal(t, float64(10), s.Now())
}

func TestScheduler_EqualTimeFIFO(t *testing.T) {
	s := New(0)
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		_, err := s.DoAt(5, "e", func() { order = append(order, i) })
		require.NoError(t, err)
	}
	require.NoError(t, s.Run())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestScheduler_StrictOrderingRejectsPast(t *testing.T) {
	s := New(10, WithStrictEventOrdering(true))
	_, err := s.DoAt(5, "past", func() {})
	require.Error(t, err)
	var ce *errs.ConfigurationError
	assert.ErrorAs(t, err, &ce)
}

func TestScheduler_LenientOrderingClampsToNow(t *testing.T) {
	s := New(10)
	var ran float64 = -1
	_, err := s.DoAt(5, "past", func() { ran = s.Now() })
	require.NoError(t, err)
	require.NoError(t, s.Run())
	assert.Equal(t, float64(10), ran)
}

func TestScheduler_CancelPreventsExecution(t *testing.T) {
	s := New(0)
	ran := false
	e, err := s.DoAt(1, "x", func() { ran = true })
	require.NoError(t, err)
	s.Cancel(e)
	require.NoError(t, s.Run())
	assert.False(t, ran)
}

func TestScheduler_PauseUnpauseDrainsReadyEvents(t *testing.T) {
	s := New(0)
	require.NoError(t, s.Pause())
	assert.Equal(t, scheduler.StatePaused, s.State())

	ran := false
	s.DoNow("x", func() { ran = true })

	require.NoError(t, s.UnPause())
	assert.True(t, ran)
}

func TestScheduler_RunUntilTimeRunsTiesAtEndFirst(t *testing.T) {
	s := New(0)
	require.NoError(t, s.Pause())

	var order []string
	_, err := s.DoAt(10, "at-end", func() { order = append(order, "at-end") })
	require.NoError(t, err)
	_, err = s.DoAt(11, "after-end", func() { order = append(order, "after-end") })
	require.NoError(t, err)

	require.NoError(t, s.RunUntilTime(10))
	assert.Equal(t, []string{"at-end"}, order)
	assert.Equal(t, scheduler.StatePaused, s.State())

	require.NoError(t, s.UnPause())
	assert.Equal(t, []string{"at-end", "after-end"}, order)
}

func TestScheduler_RecoverablePanicContinues(t *testing.T) {
	s := New(0)
	var recovered error
	s.AddRecoverableListener(func(err error) { recovered = err })

	ranNext := false
	s.DoNow("boom", func() { panic(errs.Recoverable(errors.New("transient"))) })
	s.DoNow("next", func() { ranNext = true })

	require.NoError(t, s.Run())
	require.Error(t, recovered)
	assert.True(t, ranNext)
	assert.Equal(t, scheduler.StateIdle, s.State())
}

func TestScheduler_FatalPanicStopsScheduler(t *testing.T) {
	s := New(0, WithLogExceptions(false))
	var failed error
	s.AddFailureListener(func(err error) { failed = err })

	ranNext := false
	s.DoNow("boom", func() { panic(errors.New("fatal")) })
	s.DoNow("next", func() { ranNext = true })

	err := s.Run()
	require.Error(t, err)
	require.Error(t, failed)
	assert.False(t, ranNext)
	assert.Equal(t, scheduler.StateStopped, s.State())
}

func TestScheduler_ForeignGoroutineRejected(t *testing.T) {
	s := New(0)
	s.DoNow("prime", func() {})

	errCh := make(chan error, 1)
	go func() {
		_, err := s.DoAt(1, "x", func() {})
		errCh <- err
	}()
	err := <-errCh
	require.Error(t, err)
	var cme *errs.ConcurrentMutationError
	assert.ErrorAs(t, err, &cme)
}

func TestScheduler_DoInNegativeDelayStrictFails(t *testing.T) {
	s := New(10, WithStrictEventOrdering(true))
	_, err := s.DoIn(-1, "x", func() {})
	require.Error(t, err)
	var ce *errs.ConfigurationError
	assert.ErrorAs(t, err, &ce)
}

func TestScheduler_RecoverableListenerPanicEscalates(t *testing.T) {
	s := New(0, WithLogExceptions(false))
	s.AddRecoverableListener(func(error) { panic("listener bug") })
	var failed error
	s.AddFailureListener(func(err error) { failed = err })

	s.DoNow("boom", func() { panic(errs.Recoverable(errors.New("transient"))) })

	err := s.Run()
	require.Error(t, err)
	require.Error(t, failed)
	assert.Equal(t, scheduler.StateStopped, s.State())
}
