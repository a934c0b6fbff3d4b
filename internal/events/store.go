package events

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// ErrMalformedEvent marks a record that cannot enter aggregation. Malformed
// records are dropped one at a time, never the whole batch.
var ErrMalformedEvent = errors.New("malformed event")

// Notifier receives a signal after every successful insert. The update
// coordinator bus satisfies this.
type Notifier interface {
	EmitRefresh()
}

// Store is the event store client: batch queries plus an insert-notification
// stream for live consumers.
type Store struct {
	db       *gorm.DB
	logger   *slog.Logger
	notifier Notifier
}

// NewStore creates a Store. notifier may be nil when no live consumers exist.
func NewStore(db *gorm.DB, logger *slog.Logger, notifier Notifier) *Store {
	return &Store{db: db, logger: logger, notifier: notifier}
}

// QueryEvents returns all events for a project inside the time range. Order
// is unspecified; aggregation sorts as needed.
func (s *Store) QueryEvents(projectID uint, from, to time.Time) ([]Event, error) {
	var evts []Event
	err := s.db.
		Where("project_id = ? AND timestamp >= ? AND timestamp <= ?", projectID, from.UTC(), to.UTC()).
		Find(&evts).Error
	if err != nil {
		return nil, fmt.Errorf("querying events for project %d: %w", projectID, err)
	}
	return evts, nil
}

// Validate reports whether an event is well-formed enough to store.
func Validate(e Event) error {
	if e.VisitorID == "" {
		return fmt.Errorf("%w: missing visitor_id", ErrMalformedEvent)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrMalformedEvent)
	}
	if e.ScrollDepth < 0 || e.ScrollDepth > 100 {
		return fmt.Errorf("%w: scroll_depth %d out of range", ErrMalformedEvent, e.ScrollDepth)
	}
	return nil
}

// Insert validates and stores a single event, then fans out an insert
// notification. A malformed event is dropped and reported; the caller decides
// whether that matters.
func (s *Store) Insert(e Event) error {
	if err := Validate(e); err != nil {
		s.logger.Warn("Dropping malformed event",
			slog.Uint64("projectID", uint64(e.ProjectID)),
			slog.Any("error", err))
		return err
	}

	e.Timestamp = e.Timestamp.UTC()
	if err := s.db.Create(&e).Error; err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	if s.notifier != nil {
		s.notifier.EmitRefresh()
	}
	return nil
}

// InsertBatch stores a batch of events, dropping malformed records
// individually. Returns how many were stored.
func (s *Store) InsertBatch(batch []Event) (int, error) {
	stored := 0
	for _, e := range batch {
		if err := s.Insert(e); err != nil {
			if errors.Is(err, ErrMalformedEvent) {
				continue
			}
			return stored, err
		}
		stored++
	}
	return stored, nil
}

// CountInTimeRange counts events for a project in a time range.
func (s *Store) CountInTimeRange(projectID uint, from, to time.Time) (int64, error) {
	var count int64
	err := s.db.Model(&Event{}).
		Where("project_id = ? AND timestamp BETWEEN ? AND ?", projectID, from.UTC(), to.UTC()).
		Count(&count).Error
	return count, err
}

// DB exposes the underlying connection for read-only summary queries.
func (s *Store) DB() *gorm.DB {
	return s.db
}
