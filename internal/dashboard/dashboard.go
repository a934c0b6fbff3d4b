// Package dashboard glues the event store, the attribution-aware aggregator
// and the refresh coordinator into the snapshot pipeline backing the
// analytics views.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pulsemetry/internal/aggregation"
	"pulsemetry/internal/coordinator"
	"pulsemetry/internal/events"
	"pulsemetry/internal/timeframe"
)

// Stats is the lifetime summary for a project, independent of the selected
// timeframe.
type Stats struct {
	TotalEvents   int64      `json:"total_events"`
	TotalVisitors int64      `json:"total_visitors"`
	FirstEventAt  *time.Time `json:"first_event_at,omitempty"`
	LastEventAt   *time.Time `json:"last_event_at,omitempty"`
}

// Service owns the currently published snapshot for one project scope and
// refreshes it on demand. It satisfies coordinator.Refresher so the bus can
// drive it directly.
type Service struct {
	store  *events.Store
	agg    *aggregation.Aggregator
	bus    *coordinator.Bus
	logger *slog.Logger

	// force, when set, delegates coordinator-driven refreshes to the
	// scheduler so they share its in-flight guard. Without it Refresh
	// falls back to a synchronous fetch.
	force func()

	mu          sync.RWMutex
	projectID   uint
	window      timeframe.Window
	snapshot    *aggregation.Snapshot
	appliedGen  uint64
	lastFetched time.Time
}

func NewService(store *events.Store, agg *aggregation.Aggregator, bus *coordinator.Bus, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		agg:    agg,
		bus:    bus,
		logger: logger,
	}
}

// SetForceFunc installs the scheduler's one-shot trigger so coordinator
// refreshes and scheduled ticks funnel through the same guard.
func (s *Service) SetForceFunc(force func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.force = force
}

// SetScope selects the project and timeframe the published snapshot covers.
// The next fetch picks the new scope up.
func (s *Service) SetScope(projectID uint, window timeframe.Window) error {
	if err := window.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.projectID = projectID
	s.window = window
	// A scope change invalidates the published snapshot immediately.
	s.snapshot = nil
	s.mu.Unlock()
	return nil
}

// Scope returns the current project and window.
func (s *Service) Scope() (uint, timeframe.Window) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projectID, s.window
}

// Refresh implements coordinator.Refresher. It requests one near-immediate
// fetch; overlapping requests collapse into a single run.
func (s *Service) Refresh() {
	s.mu.RLock()
	force := s.force
	s.mu.RUnlock()

	if force != nil {
		force()
		return
	}
	if err := s.FetchAndPublish(context.Background()); err != nil {
		s.logger.Warn("Refresh fetch failed", slog.Any("error", err))
	}
}

// FetchAndPublish loads the scoped events, aggregates them and publishes the
// result. A fetch error leaves the previously published snapshot in place.
// The publish is skipped when a newer result already landed or when the
// scope moved on while the fetch was in flight.
func (s *Service) FetchAndPublish(ctx context.Context) error {
	s.mu.RLock()
	projectID := s.projectID
	scope := s.window
	s.mu.RUnlock()

	window := scope
	if window.From.IsZero() && window.To.IsZero() {
		window = timeframe.LastDays(7, time.Now().UTC())
	}

	gen := s.bus.Generation()

	batch, err := s.store.QueryEvents(projectID, window.From, window.To)
	if err != nil {
		return fmt.Errorf("querying events for snapshot: %w", err)
	}

	snap := s.agg.Aggregate(batch, window)

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	return s.publish(projectID, scope, gen, &snap, len(batch))
}

// publish installs a fetched snapshot unless the scope it was produced for
// has been replaced, or a result with a newer generation already landed.
// Snapshots for a superseded scope answer a different question and must
// never overwrite the current scope's data.
func (s *Service) publish(projectID uint, scope timeframe.Window, gen uint64, snap *aggregation.Snapshot, eventCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.projectID != projectID || !s.window.From.Equal(scope.From) || !s.window.To.Equal(scope.To) {
		s.logger.Debug("Discarding snapshot for superseded scope",
			slog.Uint64("fetched_project", uint64(projectID)),
			slog.Uint64("current_project", uint64(s.projectID)))
		return nil
	}
	if gen < s.appliedGen {
		s.logger.Debug("Discarding stale snapshot",
			slog.Uint64("generation", gen),
			slog.Uint64("applied", s.appliedGen))
		return nil
	}

	s.snapshot = snap
	s.appliedGen = gen
	s.lastFetched = time.Now().UTC()

	s.logger.Debug("Published snapshot",
		slog.Uint64("generation", gen),
		slog.Int("events", eventCount),
		slog.Int("unique_visitors", snap.UniqueVisitors))
	return nil
}

// Snapshot returns the currently published snapshot, or nil when none has
// been produced for the current scope yet.
func (s *Service) Snapshot() *aggregation.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// LastFetched reports when the published snapshot was produced.
func (s *Service) LastFetched() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastFetched
}

// GetDashboardStats returns the lifetime event summary for a project.
func (s *Service) GetDashboardStats(projectID uint) (*Stats, error) {
	db := s.store.DB()

	var stats Stats
	err := db.Model(&events.Event{}).
		Where("project_id = ?", projectID).
		Count(&stats.TotalEvents).Error
	if err != nil {
		return nil, fmt.Errorf("counting events: %w", err)
	}

	err = db.Model(&events.Event{}).
		Where("project_id = ?", projectID).
		Distinct("visitor_id").
		Count(&stats.TotalVisitors).Error
	if err != nil {
		return nil, fmt.Errorf("counting visitors: %w", err)
	}

	if stats.TotalEvents == 0 {
		return &stats, nil
	}

	var first, last events.Event
	err = db.Where("project_id = ?", projectID).Order("timestamp ASC").First(&first).Error
	if err != nil {
		return nil, fmt.Errorf("querying first event: %w", err)
	}
	err = db.Where("project_id = ?", projectID).Order("timestamp DESC").First(&last).Error
	if err != nil {
		return nil, fmt.Errorf("querying last event: %w", err)
	}
	firstAt, lastAt := first.Timestamp, last.Timestamp
	stats.FirstEventAt = &firstAt
	stats.LastEventAt = &lastAt
	return &stats, nil
}
