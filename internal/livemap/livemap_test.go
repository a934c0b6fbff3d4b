package livemap_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsemetry/internal/events"
	"pulsemetry/internal/livemap"
	"pulsemetry/internal/testsupport"
)

func newService(t *testing.T) (*livemap.Service, *events.Store) {
	t.Helper()
	db := testsupport.SetupTestDB(t)
	store := events.NewStore(db, testsupport.GetLogger(), testsupport.NoopNotifier{})
	svc := livemap.NewService(store, testsupport.GetLogger(), 30*time.Minute, 5)
	svc.SetProject(1)
	return svc, store
}

func TestRecomputeCountsRecentVisitors(t *testing.T) {
	svc, store := newService(t)
	now := time.Now().UTC()

	testsupport.SeedEvents(t, store.DB(), []events.Event{
		testsupport.MakeEvent("v1", now.Add(-5*time.Minute)),
		testsupport.MakeEvent("v1", now.Add(-2*time.Minute)),
		testsupport.MakeEvent("v2", now.Add(-10*time.Minute)),
		// Outside the 30 minute window.
		testsupport.MakeEvent("v3", now.Add(-2*time.Hour)),
	})

	require.NoError(t, svc.Recompute())
	assert.Equal(t, 2, svc.State().Online)
}

func TestRecomputeResolvesLocations(t *testing.T) {
	svc, store := newService(t)
	now := time.Now().UTC()

	testsupport.SeedEvents(t, store.DB(), []events.Event{
		testsupport.MakeEvent("v1", now.Add(-5*time.Minute), testsupport.WithLocation("us", "new york")),
		testsupport.MakeEvent("v2", now.Add(-6*time.Minute), testsupport.WithLocation("us", "new york")),
		testsupport.MakeEvent("v3", now.Add(-7*time.Minute), testsupport.WithLocation("de", "berlin")),
	})

	require.NoError(t, svc.Recompute())
	state := svc.State()
	require.Len(t, state.Locations, 2)

	top := state.Locations[0]
	assert.Equal(t, "United States", top.Country)
	assert.Equal(t, "New York", top.City)
	assert.Equal(t, 2, top.Count)
	assert.NotZero(t, top.Latitude)
	assert.NotZero(t, top.Longitude)

	second := state.Locations[1]
	assert.Equal(t, "Germany", second.Country)
	assert.Equal(t, "Berlin", second.City)
	assert.Equal(t, 1, second.Count)
}

func TestRecomputeUnknownLocationFallback(t *testing.T) {
	svc, store := newService(t)
	now := time.Now().UTC()

	testsupport.SeedEvents(t, store.DB(), []events.Event{
		testsupport.MakeEvent("v1", now.Add(-5*time.Minute)),
	})

	require.NoError(t, svc.Recompute())
	state := svc.State()
	require.Len(t, state.Locations, 1)
	assert.Equal(t, "Unknown", state.Locations[0].Country)
	assert.Equal(t, "Unknown", state.Locations[0].City)
	assert.Zero(t, state.Locations[0].Latitude)
	assert.Zero(t, state.Locations[0].Longitude)
}

func TestTopLocationsLimit(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	store := events.NewStore(db, testsupport.GetLogger(), testsupport.NoopNotifier{})
	svc := livemap.NewService(store, testsupport.GetLogger(), 30*time.Minute, 2)
	svc.SetProject(1)

	now := time.Now().UTC()
	testsupport.SeedEvents(t, store.DB(), []events.Event{
		testsupport.MakeEvent("v1", now.Add(-time.Minute), testsupport.WithLocation("us", "new york")),
		testsupport.MakeEvent("v2", now.Add(-time.Minute), testsupport.WithLocation("de", "berlin")),
		testsupport.MakeEvent("v3", now.Add(-time.Minute), testsupport.WithLocation("fr", "paris")),
	})

	require.NoError(t, svc.Recompute())
	assert.Len(t, svc.State().Locations, 2)
}

func TestOnVisitorRiseFiresOnIncrease(t *testing.T) {
	svc, store := newService(t)
	now := time.Now().UTC()

	var rises atomic.Int64
	svc.OnVisitorRise(func(online int) { rises.Add(1) })

	testsupport.SeedEvents(t, store.DB(), []events.Event{
		testsupport.MakeEvent("v1", now.Add(-time.Minute)),
	})
	require.NoError(t, svc.Recompute())
	assert.Equal(t, int64(1), rises.Load())

	// No change: callback stays quiet.
	require.NoError(t, svc.Recompute())
	assert.Equal(t, int64(1), rises.Load())

	testsupport.SeedEvents(t, store.DB(), []events.Event{
		testsupport.MakeEvent("v2", now),
	})
	require.NoError(t, svc.Recompute())
	assert.Equal(t, int64(2), rises.Load())
}

func TestRefreshImplementsRefresher(t *testing.T) {
	svc, store := newService(t)
	now := time.Now().UTC()

	testsupport.SeedEvents(t, store.DB(), []events.Event{
		testsupport.MakeEvent("v1", now.Add(-time.Minute)),
	})

	svc.Refresh()
	assert.Equal(t, 1, svc.State().Online)
}
