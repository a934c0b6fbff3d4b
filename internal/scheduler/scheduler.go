// Package scheduler drives periodic re-aggregation, pausing while the viewing
// surface is hidden or unfocused and supporting a one-shot immediate refresh.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State is the scheduler lifecycle state.
type State string

const (
	// StateIdle holds before the first Start and after Stop.
	StateIdle State = "idle"
	// StateScheduled means ticks are firing on the normal cadence.
	StateScheduled State = "scheduled"
	// StateSuspended means the surface is not visible and ticks are skipped.
	StateSuspended State = "suspended"
)

// FetchFunc runs one fetch+aggregate cycle. A transient error is logged and
// retried on the next tick, never surfaced as fatal.
type FetchFunc func(ctx context.Context) error

// Scheduler runs a FetchFunc on a fixed interval, gated on visibility. A
// single in-flight guard is shared between scheduled ticks and forced
// refreshes so overlapping fetches for the same window never race.
type Scheduler struct {
	logger   *slog.Logger
	interval time.Duration
	fetch    FetchFunc

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	visible    bool
	isFetching bool

	kick chan struct{}
}

// New creates a Scheduler in the Idle state. The surface is considered
// visible until told otherwise.
func New(logger *slog.Logger, interval time.Duration, fetch FetchFunc) *Scheduler {
	return &Scheduler{
		logger:   logger,
		interval: interval,
		fetch:    fetch,
		state:    StateIdle,
		visible:  true,
		kick:     make(chan struct{}, 1),
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins the tick loop with an immediate first fetch.
// Implements cartridge.BackgroundWorker together with Stop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		s.logger.Info("Scheduler already running")
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	if s.visible {
		s.state = StateScheduled
	} else {
		s.state = StateSuspended
	}
	s.mu.Unlock()

	s.logger.Info("Starting scheduler", slog.Duration("interval", s.interval))

	go s.loop()
	return nil
}

func (s *Scheduler) loop() {
	// Initial catch-up fetch before settling into the cadence.
	s.executeFetchSafely("initial")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.executeFetchSafely("tick")
		case <-s.kick:
			s.executeFetchSafely("forced")
			// The forced fetch replaces the upcoming tick rather than
			// stacking onto it.
			ticker.Reset(s.interval)
		case <-s.ctx.Done():
			s.logger.Info("Scheduler stopped")
			return
		}
	}
}

// executeFetchSafely runs the fetch only if the surface is visible and no
// other fetch is in flight.
func (s *Scheduler) executeFetchSafely(reason string) {
	s.mu.Lock()
	if !s.visible {
		s.mu.Unlock()
		s.logger.Debug("Skipping fetch - surface not visible", slog.String("reason", reason))
		return
	}
	if s.isFetching {
		s.mu.Unlock()
		s.logger.Debug("Skipping fetch - previous fetch still in flight", slog.String("reason", reason))
		return
	}
	s.isFetching = true
	ctx := s.ctx
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in fetch",
				slog.String("reason", reason),
				slog.Any("panic", r))
		}
		s.mu.Lock()
		s.isFetching = false
		s.mu.Unlock()
	}()

	if err := s.fetch(ctx); err != nil {
		s.logger.Warn("Fetch failed - stale data remains until next tick",
			slog.String("reason", reason),
			slog.Any("error", err))
	}
}

// SetVisible reports a visibility change of the hosting surface. Losing
// visibility suspends ticks; regaining it fires exactly one catch-up fetch
// and resumes the cadence.
func (s *Scheduler) SetVisible(visible bool) {
	s.mu.Lock()
	wasVisible := s.visible
	s.visible = visible
	running := s.state != StateIdle
	if running {
		if visible {
			s.state = StateScheduled
		} else {
			s.state = StateSuspended
		}
	}
	s.mu.Unlock()

	if !running || visible == wasVisible {
		return
	}

	if visible {
		s.logger.Debug("Surface visible - catch-up fetch")
		s.ForceImmediate()
	} else {
		s.logger.Debug("Surface hidden - suspending ticks")
	}
}

// ForceImmediate shortens the next tick to near-zero: one fetch runs as soon
// as the loop picks the signal up, then the normal cadence resumes. Multiple
// calls before the loop reacts collapse into one.
func (s *Scheduler) ForceImmediate() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Stop halts the loop and returns the scheduler to Idle. In-flight fetch
// results arriving after Stop are discarded by the consumer via the
// coordinator generation check.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		return
	}
	s.cancel()
	s.state = StateIdle
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != StateIdle
}
