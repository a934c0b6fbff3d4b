package coordinator_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsemetry/internal/coordinator"
	"pulsemetry/internal/testsupport"
)

const debounce = 20 * time.Millisecond

// settle waits long enough for a pending debounced delivery to fire.
func settle() {
	time.Sleep(debounce * 4)
}

type countingRefresher struct {
	count atomic.Int64
}

func (r *countingRefresher) Refresh() {
	r.count.Add(1)
}

func TestEmitRefreshReachesAllPaths(t *testing.T) {
	bus := coordinator.NewBus(testsupport.GetLogger(), debounce)
	defer bus.Close()

	var broadcasts atomic.Int64
	bus.Subscribe(func(coordinator.Refresh) { broadcasts.Add(1) })

	handle := &countingRefresher{}
	bus.RegisterHandle(handle)

	bus.EmitRefresh()
	settle()

	assert.Equal(t, int64(1), broadcasts.Load())
	assert.Equal(t, int64(1), handle.count.Load())

	select {
	case r := <-bus.Transport():
		assert.Equal(t, uint64(1), r.Generation)
	default:
		t.Fatal("expected a pending refresh on the transport channel")
	}
}

func TestDebounceCollapsesBursts(t *testing.T) {
	bus := coordinator.NewBus(testsupport.GetLogger(), debounce)
	defer bus.Close()

	var deliveries atomic.Int64
	bus.Subscribe(func(coordinator.Refresh) { deliveries.Add(1) })

	// Ten rapid-fire signals inside one debounce window.
	for i := 0; i < 10; i++ {
		bus.EmitRefresh()
		time.Sleep(time.Millisecond)
	}
	settle()

	assert.Equal(t, int64(1), deliveries.Load())
	assert.Equal(t, uint64(10), bus.Generation())
}

func TestSeparatedSignalsDeliverSeparately(t *testing.T) {
	bus := coordinator.NewBus(testsupport.GetLogger(), debounce)
	defer bus.Close()

	var deliveries atomic.Int64
	bus.Subscribe(func(coordinator.Refresh) { deliveries.Add(1) })

	bus.EmitRefresh()
	settle()
	bus.EmitRefresh()
	settle()

	assert.Equal(t, int64(2), deliveries.Load())
}

func TestDeliveryCarriesLatestGeneration(t *testing.T) {
	bus := coordinator.NewBus(testsupport.GetLogger(), debounce)
	defer bus.Close()

	var mu sync.Mutex
	var seen []uint64
	bus.Subscribe(func(r coordinator.Refresh) {
		mu.Lock()
		seen = append(seen, r.Generation)
		mu.Unlock()
	})

	bus.EmitRefresh()
	bus.EmitRefresh()
	bus.EmitRefresh()
	settle()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, uint64(3), seen[0])
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := coordinator.NewBus(testsupport.GetLogger(), debounce)
	defer bus.Close()

	var deliveries atomic.Int64
	token := bus.Subscribe(func(coordinator.Refresh) { deliveries.Add(1) })
	bus.Unsubscribe(token)

	// Unknown tokens are a no-op.
	bus.Unsubscribe(9999)

	bus.EmitRefresh()
	settle()
	assert.Equal(t, int64(0), deliveries.Load())
}

func TestUnregisterHandle(t *testing.T) {
	bus := coordinator.NewBus(testsupport.GetLogger(), debounce)
	defer bus.Close()

	handle := &countingRefresher{}
	bus.RegisterHandle(handle)
	bus.UnregisterHandle(handle)

	bus.EmitRefresh()
	settle()
	assert.Equal(t, int64(0), handle.count.Load())
}

func TestPanickingConsumerDoesNotStopOthers(t *testing.T) {
	bus := coordinator.NewBus(testsupport.GetLogger(), debounce)
	defer bus.Close()

	bus.Subscribe(func(coordinator.Refresh) { panic("broken consumer") })

	var healthy atomic.Int64
	bus.Subscribe(func(coordinator.Refresh) { healthy.Add(1) })
	handle := &countingRefresher{}
	bus.RegisterHandle(handle)

	bus.EmitRefresh()
	settle()

	assert.Equal(t, int64(1), healthy.Load())
	assert.Equal(t, int64(1), handle.count.Load())
}

func TestTransportReplacesStaleSignal(t *testing.T) {
	bus := coordinator.NewBus(testsupport.GetLogger(), debounce)
	defer bus.Close()

	// Two separated deliveries with nobody draining the channel: only the
	// latest survives.
	bus.EmitRefresh()
	settle()
	bus.EmitRefresh()
	settle()

	r := <-bus.Transport()
	assert.Equal(t, uint64(2), r.Generation)

	select {
	case <-bus.Transport():
		t.Fatal("expected a single pending refresh")
	default:
	}
}

func TestCloseStopsDeliveryAndEmits(t *testing.T) {
	bus := coordinator.NewBus(testsupport.GetLogger(), debounce)

	var deliveries atomic.Int64
	bus.Subscribe(func(coordinator.Refresh) { deliveries.Add(1) })

	bus.EmitRefresh()
	bus.Close()
	settle()

	assert.Equal(t, int64(0), deliveries.Load())

	// Emits after Close are no-ops.
	gen := bus.Generation()
	bus.EmitRefresh()
	assert.Equal(t, gen, bus.Generation())

	// The transport channel is closed so range-based consumers terminate.
	_, ok := <-bus.Transport()
	assert.False(t, ok)
}
