// Package testsupport holds shared helpers for package tests: in-memory
// databases, event factories and small fakes for the refresh machinery.
package testsupport

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/karloscodes/cartridge/cache"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pulsemetry/internal/events"
)

// testDBCache caches test databases by root test name so that subtests and
// helpers sharing the outer t reuse one database.
var (
	testDBCache   = make(map[string]*gorm.DB)
	testDBCacheMu sync.Mutex
)

func allModels() []any {
	return []any{
		&cache.CacheRecord{},
		&events.Event{},
	}
}

// SetupTestDB opens a unique named in-memory SQLite database for the test
// and migrates all models. The database is shared across subtests and closed
// on cleanup.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	rootName := t.Name()
	if idx := strings.Index(rootName, "/"); idx > 0 {
		rootName = rootName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	sanitizedName := strings.ReplaceAll(rootName, "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")

	if err := db.AutoMigrate(allModels()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// GetLogger returns a logger that discards output.
func GetLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// RecordingNotifier counts refresh signals, standing in for the coordinator
// bus in store-level tests.
type RecordingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *RecordingNotifier) EmitRefresh() {
	n.mu.Lock()
	n.count++
	n.mu.Unlock()
}

func (n *RecordingNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}

// NoopNotifier ignores refresh signals.
type NoopNotifier struct{}

func (NoopNotifier) EmitRefresh() {}

// EventOption mutates a factory event before it is returned.
type EventOption func(*events.Event)

func WithUTM(source, medium, campaign string) EventOption {
	return func(e *events.Event) {
		e.UTMSource = source
		e.UTMMedium = medium
		e.UTMCampaign = campaign
	}
}

func WithReferrer(referrer string) EventOption {
	return func(e *events.Event) { e.Referrer = referrer }
}

func WithProject(projectID uint) EventOption {
	return func(e *events.Event) { e.ProjectID = projectID }
}

func WithType(eventType events.EventType) EventOption {
	return func(e *events.Event) { e.EventType = eventType }
}

func WithClickTarget(target string) EventOption {
	return func(e *events.Event) {
		e.EventType = events.EventTypeClick
		e.ClickTarget = target
	}
}

func WithSession(sessionID string) EventOption {
	return func(e *events.Event) { e.SessionID = sessionID }
}

func WithDevice(device string) EventOption {
	return func(e *events.Event) { e.DeviceType = device }
}

func WithLocation(country, city string) EventOption {
	return func(e *events.Event) {
		e.Country = country
		e.City = city
	}
}

func WithEngagement(scrollDepth, timeOnPage int) EventOption {
	return func(e *events.Event) {
		e.ScrollDepth = scrollDepth
		e.TimeOnPage = timeOnPage
	}
}

// MakeEvent builds a pageview for the given visitor at the given time.
// Options adjust the defaults.
func MakeEvent(visitorID string, ts time.Time, opts ...EventOption) events.Event {
	e := events.Event{
		ProjectID:  1,
		VisitorID:  visitorID,
		SessionID:  "session-" + visitorID,
		EventType:  events.EventTypePageView,
		Timestamp:  ts.UTC(),
		DeviceType: "desktop",
		Country:    events.UnknownCountry,
		City:       events.UnknownCity,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// SeedEvents persists a batch directly, bypassing validation.
func SeedEvents(t *testing.T, db *gorm.DB, batch []events.Event) {
	t.Helper()
	for i := range batch {
		if err := db.Create(&batch[i]).Error; err != nil {
			t.Fatalf("testsupport: failed to seed event: %v", err)
		}
	}
}
