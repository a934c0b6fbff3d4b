// Package coordinator fans "data changed" signals out to live consumers over
// three redundant delivery paths: subscribed broadcast handlers, directly
// registered refresh handles, and a best-effort transport channel. Consumers
// must treat every signal as idempotent; the bus bounds redundant work with a
// trailing debounce and carries a generation counter so stale in-flight
// results can be discarded.
package coordinator

import (
	"log/slog"
	"sync"
	"time"
)

// Refresh is the payload delivered on every path.
type Refresh struct {
	Timestamp  time.Time
	Generation uint64
}

// Handler is a broadcast subscriber callback.
type Handler func(Refresh)

// Refresher is the directly-invoked consumer contract: any view that exposes
// Refresh can be driven imperatively by the bus. Refresh must be safe to call
// repeatedly and concurrently with the consumer's own polling tick.
type Refresher interface {
	Refresh()
}

// Bus is an explicitly constructed notification bus. There is no package
// global; each dashboard session (and each test) owns its own instance with a
// defined creation and teardown lifecycle.
type Bus struct {
	logger   *slog.Logger
	debounce time.Duration

	mu         sync.Mutex
	nextToken  int
	handlers   map[int]Handler
	handles    []Refresher
	transport  chan Refresh
	timer      *time.Timer
	generation uint64
	closed     bool
}

// NewBus creates a Bus with the given trailing debounce window. A zero
// debounce still delivers asynchronously but without collapsing bursts.
func NewBus(logger *slog.Logger, debounce time.Duration) *Bus {
	return &Bus{
		logger:    logger,
		debounce:  debounce,
		handlers:  make(map[int]Handler),
		transport: make(chan Refresh, 1),
	}
}

// Subscribe registers a broadcast handler and returns its token.
func (b *Bus) Subscribe(handler Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextToken++
	b.handlers[b.nextToken] = handler
	return b.nextToken
}

// Unsubscribe removes a broadcast handler. Unknown tokens are a no-op so a
// consumer that unmounted twice cannot break teardown.
func (b *Bus) Unsubscribe(token int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, token)
}

// RegisterHandle attaches a directly-invoked consumer.
func (b *Bus) RegisterHandle(r Refresher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handles = append(b.handles, r)
}

// UnregisterHandle detaches a directly-invoked consumer.
func (b *Bus) UnregisterHandle(r Refresher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, h := range b.handles {
		if h == r {
			b.handles = append(b.handles[:i], b.handles[i+1:]...)
			return
		}
	}
}

// Transport returns the best-effort fallback channel. It holds at most one
// pending Refresh; a consumer that is not draining it loses signals, which is
// fine because the polling scheduler covers the gap.
func (b *Bus) Transport() <-chan Refresh {
	return b.transport
}

// Generation returns the current refresh generation.
func (b *Bus) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}

// EmitRefresh requests a fan-out. Bursts inside the debounce window collapse
// into a single trailing delivery carrying the latest generation.
func (b *Bus) EmitRefresh() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.generation++

	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.debounce, b.deliver)
}

// deliver fans the latest generation out on all three paths. One failing path
// never stops the others.
func (b *Bus) deliver() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	payload := Refresh{Timestamp: time.Now().UTC(), Generation: b.generation}
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	handles := make([]Refresher, len(b.handles))
	copy(handles, b.handles)
	b.mu.Unlock()

	// Path 1: broadcast subscribers.
	for _, handler := range handlers {
		b.safeCall(func() { handler(payload) }, "broadcast")
	}

	// Path 2: directly-invoked handles.
	for _, handle := range handles {
		h := handle
		b.safeCall(func() { h.Refresh() }, "handle")
	}

	// Path 3: best-effort transport. Replace a stale pending signal rather
	// than blocking. Guarded by the lock so Close cannot shut the channel
	// mid-send.
	b.mu.Lock()
	if !b.closed {
		select {
		case b.transport <- payload:
		default:
			select {
			case <-b.transport:
			default:
			}
			select {
			case b.transport <- payload:
			default:
			}
		}
	}
	b.mu.Unlock()
}

// safeCall isolates a delivery-path failure: the panic is recovered and
// logged, and remaining paths still attempt delivery.
func (b *Bus) safeCall(fn func(), path string) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Refresh delivery failed",
				slog.String("path", path),
				slog.Any("panic", r))
		}
	}()
	fn()
}

// Close tears the bus down. Pending debounced deliveries are cancelled and
// later EmitRefresh calls become no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	close(b.transport)
}
