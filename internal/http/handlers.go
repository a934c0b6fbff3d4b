// Package http contains the authenticated dashboard-facing handlers. The
// public ingestion API lives in api/v1.
package http

import (
	"pulsemetry/internal/coordinator"
	"pulsemetry/internal/dashboard"
	"pulsemetry/internal/livemap"
	"pulsemetry/internal/scheduler"
)

// Handlers bundles the services the dashboard routes depend on.
type Handlers struct {
	Dashboard *dashboard.Service
	LiveMap   *livemap.Service
	Scheduler *scheduler.Scheduler
	Bus       *coordinator.Bus
}

func NewHandlers(dash *dashboard.Service, live *livemap.Service, sched *scheduler.Scheduler, bus *coordinator.Bus) *Handlers {
	return &Handlers{
		Dashboard: dash,
		LiveMap:   live,
		Scheduler: sched,
		Bus:       bus,
	}
}
