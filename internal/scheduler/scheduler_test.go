package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsemetry/internal/scheduler"
	"pulsemetry/internal/testsupport"
)

// waitFor polls until cond holds or the deadline expires.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSchedulerTicksWhileVisible(t *testing.T) {
	var fetches atomic.Int64
	s := scheduler.New(testsupport.GetLogger(), 20*time.Millisecond, func(context.Context) error {
		fetches.Add(1)
		return nil
	})

	require.Equal(t, scheduler.StateIdle, s.State())
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Equal(t, scheduler.StateScheduled, s.State())
	waitFor(t, func() bool { return fetches.Load() >= 3 }, "expected initial fetch plus ticks")
}

func TestSchedulerSuspendsWhileHidden(t *testing.T) {
	var fetches atomic.Int64
	s := scheduler.New(testsupport.GetLogger(), 20*time.Millisecond, func(context.Context) error {
		fetches.Add(1)
		return nil
	})

	require.NoError(t, s.Start())
	defer s.Stop()
	waitFor(t, func() bool { return fetches.Load() >= 1 }, "expected initial fetch")

	s.SetVisible(false)
	assert.Equal(t, scheduler.StateSuspended, s.State())

	// Give the hidden scheduler a few tick periods; the count must not move.
	before := fetches.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, fetches.Load())
}

func TestSchedulerCatchUpOnVisibilityRegain(t *testing.T) {
	var fetches atomic.Int64
	// Interval far beyond the test horizon: any new fetch after the regain
	// must be the catch-up, not a tick.
	s := scheduler.New(testsupport.GetLogger(), time.Hour, func(context.Context) error {
		fetches.Add(1)
		return nil
	})

	require.NoError(t, s.Start())
	defer s.Stop()
	waitFor(t, func() bool { return fetches.Load() == 1 }, "expected initial fetch")

	s.SetVisible(false)
	s.SetVisible(true)
	assert.Equal(t, scheduler.StateScheduled, s.State())
	waitFor(t, func() bool { return fetches.Load() == 2 }, "expected one catch-up fetch")
}

func TestSchedulerVisibleNoopWhenAlreadyVisible(t *testing.T) {
	var fetches atomic.Int64
	s := scheduler.New(testsupport.GetLogger(), time.Hour, func(context.Context) error {
		fetches.Add(1)
		return nil
	})

	require.NoError(t, s.Start())
	defer s.Stop()
	waitFor(t, func() bool { return fetches.Load() == 1 }, "expected initial fetch")

	s.SetVisible(true)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), fetches.Load())
}

func TestForceImmediate(t *testing.T) {
	var fetches atomic.Int64
	s := scheduler.New(testsupport.GetLogger(), time.Hour, func(context.Context) error {
		fetches.Add(1)
		return nil
	})

	require.NoError(t, s.Start())
	defer s.Stop()
	waitFor(t, func() bool { return fetches.Load() == 1 }, "expected initial fetch")

	s.ForceImmediate()
	waitFor(t, func() bool { return fetches.Load() == 2 }, "expected forced fetch")
}

func TestForceImmediateCollapsesBeforePickup(t *testing.T) {
	release := make(chan struct{})
	var fetches atomic.Int64
	s := scheduler.New(testsupport.GetLogger(), time.Hour, func(context.Context) error {
		if fetches.Add(1) == 1 {
			<-release
		}
		return nil
	})

	require.NoError(t, s.Start())
	waitFor(t, func() bool { return fetches.Load() == 1 }, "expected initial fetch")

	// While the first fetch blocks the loop, several force requests pile up
	// and must collapse into one.
	s.ForceImmediate()
	s.ForceImmediate()
	s.ForceImmediate()
	close(release)

	waitFor(t, func() bool { return fetches.Load() == 2 }, "expected one collapsed forced fetch")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(2), fetches.Load())
	s.Stop()
}

func TestSingleFetchInFlight(t *testing.T) {
	var active atomic.Int64
	var overlapped atomic.Bool

	s := scheduler.New(testsupport.GetLogger(), 5*time.Millisecond, func(context.Context) error {
		if active.Add(1) > 1 {
			overlapped.Store(true)
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return nil
	})

	require.NoError(t, s.Start())
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	assert.False(t, overlapped.Load(), "fetches must never overlap")
}

func TestFetchErrorKeepsTicking(t *testing.T) {
	var fetches atomic.Int64
	s := scheduler.New(testsupport.GetLogger(), 15*time.Millisecond, func(context.Context) error {
		fetches.Add(1)
		return context.DeadlineExceeded
	})

	require.NoError(t, s.Start())
	defer s.Stop()

	waitFor(t, func() bool { return fetches.Load() >= 3 }, "errors must not stop the cadence")
}

func TestStopReturnsToIdle(t *testing.T) {
	s := scheduler.New(testsupport.GetLogger(), time.Hour, func(context.Context) error { return nil })

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())

	s.Stop()
	assert.Equal(t, scheduler.StateIdle, s.State())
	assert.False(t, s.IsRunning())

	// Stop is idempotent.
	s.Stop()
}
