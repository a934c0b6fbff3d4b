package async_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsemetry/internal/pkg/async"
)

func TestExecuteJoinsAllResults(t *testing.T) {
	pool := async.NewPool(3)

	results := pool.Execute(context.Background(), []async.Task{
		{Name: "one", Execute: func() (interface{}, error) { return 1, nil }},
		{Name: "two", Execute: func() (interface{}, error) { return 2, nil }},
		{Name: "fails", Execute: func() (interface{}, error) { return nil, errors.New("boom") }},
	})

	require.Len(t, results, 3)
	assert.Equal(t, 1, results["one"].Data)
	assert.Equal(t, 2, results["two"].Data)
	assert.Error(t, results["fails"].Err)
}

func TestExecuteRecoversPanics(t *testing.T) {
	pool := async.NewPool(2)

	results := pool.Execute(context.Background(), []async.Task{
		{Name: "panics", Execute: func() (interface{}, error) { panic("broken task") }},
		{Name: "fine", Execute: func() (interface{}, error) { return "ok", nil }},
	})

	require.Len(t, results, 2)
	assert.ErrorContains(t, results["panics"].Err, "panicked")
	assert.Equal(t, "ok", results["fine"].Data)
}

func TestExecuteHonorsCancellation(t *testing.T) {
	pool := async.NewPool(1)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	go func() {
		<-started
		cancel()
	}()

	results := pool.Execute(ctx, []async.Task{
		{Name: "slow", Execute: func() (interface{}, error) {
			close(started)
			time.Sleep(time.Second)
			return nil, nil
		}},
		{Name: "never", Execute: func() (interface{}, error) { return nil, nil }},
	})

	// Cancellation returns early with whatever finished.
	assert.LessOrEqual(t, len(results), 1)
}

func TestNewPoolClampsWorkerCount(t *testing.T) {
	pool := async.NewPool(0)
	results := pool.Execute(context.Background(), []async.Task{
		{Name: "only", Execute: func() (interface{}, error) { return 42, nil }},
	})
	assert.Equal(t, 42, results["only"].Data)
}
