// Package internal contains core application functionality
package internal

import (
	"context"
	"fmt"

	"github.com/karloscodes/cartridge"

	"pulsemetry/internal/aggregation"
	"pulsemetry/internal/attribution"
	"pulsemetry/internal/config"
	"pulsemetry/internal/coordinator"
	"pulsemetry/internal/dashboard"
	"pulsemetry/internal/database"
	"pulsemetry/internal/events"
	"pulsemetry/internal/livemap"
	"pulsemetry/internal/pkg/geoip"
	"pulsemetry/internal/scheduler"
)

// Application wraps cartridge.Application with the pulsemetry services.
type Application struct {
	*cartridge.Application
	DBManager *database.DBManager
	Store     *events.Store
	Bus       *coordinator.Bus
	Scheduler *scheduler.Scheduler
	Dashboard *dashboard.Service
	LiveMap   *livemap.Service

	transportDone chan struct{}
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	cfg := config.GetConfig()
	return NewAppWithConfig(cfg)
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)

	geoip.InitLogger(logger)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	bus := coordinator.NewBus(logger, cfg.RefreshDebounce())
	store := events.NewStore(dbManager.GetConnection(), logger, bus)

	classifier := attribution.NewClassifier(cfg)
	aggregator := aggregation.NewAggregator(aggregation.DefaultConfig(cfg), classifier)

	dash := dashboard.NewService(store, aggregator, bus, logger)
	live := livemap.NewService(store, logger, cfg.LiveMapWindow(), cfg.LiveMapTopLocations)

	sched := scheduler.New(logger, cfg.PollInterval(), func(ctx context.Context) error {
		if err := dash.FetchAndPublish(ctx); err != nil {
			return err
		}
		return live.Recompute()
	})

	// Refresh fan-out: the dashboard gets the direct handle path (funnelled
	// through the scheduler's in-flight guard), the live map the broadcast
	// path, and the transport channel kicks the scheduler for consumers
	// that only see channels.
	dash.SetForceFunc(sched.ForceImmediate)
	bus.RegisterHandle(dash)
	bus.Subscribe(func(coordinator.Refresh) { live.Refresh() })

	app := &Application{
		DBManager:     dbManager,
		Store:         store,
		Bus:           bus,
		Scheduler:     sched,
		Dashboard:     dash,
		LiveMap:       live,
		transportDone: make(chan struct{}),
	}

	go func() {
		defer close(app.transportDone)
		for range bus.Transport() {
			sched.ForceImmediate()
		}
	}()

	cartApp, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:            cfg,
		Logger:            logger,
		DBManager:         dbManager,
		RouteMountFunc:    app.MountRoutes,
		BackgroundWorkers: []cartridge.BackgroundWorker{sched},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	app.Application = cartApp
	return app, nil
}

// Shutdown stops the refresh machinery before delegating to cartridge.
// Closing the bus closes the transport channel, which lets the drain
// goroutine exit; wait for it so no late kicks race the teardown.
func (a *Application) Shutdown(ctx context.Context) error {
	a.Scheduler.Stop()
	a.Bus.Close()
	select {
	case <-a.transportDone:
	case <-ctx.Done():
	}
	return a.Application.Shutdown(ctx)
}
