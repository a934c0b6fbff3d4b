package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsemetry/internal/aggregation"
	"pulsemetry/internal/attribution"
	"pulsemetry/internal/coordinator"
	"pulsemetry/internal/events"
	"pulsemetry/internal/testsupport"
	"pulsemetry/internal/timeframe"
)

type noPaidSources struct{}

func (noPaidSources) IsPaidSource(string) bool { return false }

func newPublishService(t *testing.T) *Service {
	t.Helper()
	db := testsupport.SetupTestDB(t)
	bus := coordinator.NewBus(testsupport.GetLogger(), 10*time.Millisecond)
	t.Cleanup(bus.Close)

	store := events.NewStore(db, testsupport.GetLogger(), bus)
	agg := aggregation.NewAggregator(aggregation.Config{
		ConversionKeywords: []string{"signup"},
		TimeOnPageFactor:   20,
		InteractionFactor:  10,
		PagesPerSessFactor: 20,
	}, attribution.NewClassifier(noPaidSources{}))

	return NewService(store, agg, bus, testsupport.GetLogger())
}

func mustWindow(t *testing.T, from, to time.Time) timeframe.Window {
	t.Helper()
	w, err := timeframe.NewWindow(from, to)
	require.NoError(t, err)
	return w
}

// A fetch that started under one scope must not install its result after the
// scope moved on, even though the refresh generation never changed in
// between.
func TestPublishSkipsSupersededProject(t *testing.T) {
	svc := newPublishService(t)

	w1 := mustWindow(t,
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 7, 23, 59, 59, 0, time.UTC))
	w2 := mustWindow(t,
		time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 4, 7, 23, 59, 59, 0, time.UTC))

	testsupport.SeedEvents(t, svc.store.DB(), []events.Event{
		testsupport.MakeEvent("a", w1.From.Add(time.Hour)),
		testsupport.MakeEvent("x", w2.From.Add(time.Hour), testsupport.WithProject(2)),
		testsupport.MakeEvent("y", w2.From.Add(2*time.Hour), testsupport.WithProject(2)),
	})

	// A slow tick captures scope and generation, then stalls before its
	// publish while a request switches the scope and lands its own result.
	require.NoError(t, svc.SetScope(1, w1))
	gen := svc.bus.Generation()
	batch, err := svc.store.QueryEvents(1, w1.From, w1.To)
	require.NoError(t, err)
	late := svc.agg.Aggregate(batch, w1)

	require.NoError(t, svc.SetScope(2, w2))
	require.NoError(t, svc.FetchAndPublish(context.Background()))
	require.NotNil(t, svc.Snapshot())
	require.Equal(t, 2, svc.Snapshot().UniqueVisitors)

	require.NoError(t, svc.publish(1, w1, gen, &late, len(batch)))

	snap := svc.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, 2, snap.UniqueVisitors)
}

func TestPublishSkipsSupersededWindow(t *testing.T) {
	svc := newPublishService(t)

	w1 := mustWindow(t,
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 7, 23, 59, 59, 0, time.UTC))
	w2 := mustWindow(t,
		time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 14, 23, 59, 59, 0, time.UTC))

	testsupport.SeedEvents(t, svc.store.DB(), []events.Event{
		testsupport.MakeEvent("a", w1.From.Add(time.Hour)),
	})

	require.NoError(t, svc.SetScope(1, w1))
	gen := svc.bus.Generation()
	batch, err := svc.store.QueryEvents(1, w1.From, w1.To)
	require.NoError(t, err)
	late := svc.agg.Aggregate(batch, w1)

	require.NoError(t, svc.SetScope(1, w2))
	require.NoError(t, svc.FetchAndPublish(context.Background()))
	require.NotNil(t, svc.Snapshot())
	require.Equal(t, 0, svc.Snapshot().UniqueVisitors)

	require.NoError(t, svc.publish(1, w1, gen, &late, len(batch)))
	assert.Equal(t, 0, svc.Snapshot().UniqueVisitors)
}

func TestPublishInstallsMatchingScope(t *testing.T) {
	svc := newPublishService(t)

	w := mustWindow(t,
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 7, 23, 59, 59, 0, time.UTC))

	testsupport.SeedEvents(t, svc.store.DB(), []events.Event{
		testsupport.MakeEvent("a", w.From.Add(time.Hour)),
	})

	require.NoError(t, svc.SetScope(1, w))
	gen := svc.bus.Generation()
	batch, err := svc.store.QueryEvents(1, w.From, w.To)
	require.NoError(t, err)
	snap := svc.agg.Aggregate(batch, w)

	require.NoError(t, svc.publish(1, w, gen, &snap, len(batch)))

	got := svc.Snapshot()
	require.NotNil(t, got)
	assert.Equal(t, 1, got.UniqueVisitors)
}
