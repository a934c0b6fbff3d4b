package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"pulsemetry/internal/aggregation"
	"pulsemetry/internal/dashboard"
	"pulsemetry/internal/livemap"
	"pulsemetry/internal/pkg/async"
	"pulsemetry/internal/timeframe"
)

const defaultWindowDays = 7

// DashboardResponse is the combined payload backing the analytics view.
type DashboardResponse struct {
	Snapshot   *aggregation.Snapshot `json:"snapshot"`
	Stats      *dashboard.Stats      `json:"stats"`
	LiveMap    livemap.State         `json:"live_map"`
	Generation uint64                `json:"generation"`
	FetchedAt  time.Time             `json:"fetched_at"`
}

// DashboardIndexAction serves the full dashboard payload. The snapshot,
// lifetime stats and live view are independent reads, so they fan out
// across the worker pool and join into one response.
func (h *Handlers) DashboardIndexAction(ctx *cartridge.Context) error {
	projectID, window, err := parseScope(ctx)
	if err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if err := h.ensureScope(ctx, projectID, window); err != nil {
		ctx.Logger.Error("Dashboard fetch failed", slog.Any("error", err))
		return ctx.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Dashboard data temporarily unavailable",
		})
	}

	pool := async.NewPool(4)
	results := pool.Execute(ctx.Ctx.Context(), []async.Task{
		{Name: "snapshot", Execute: func() (interface{}, error) {
			return h.Dashboard.Snapshot(), nil
		}},
		{Name: "stats", Execute: func() (interface{}, error) {
			return h.Dashboard.GetDashboardStats(projectID)
		}},
		{Name: "livemap", Execute: func() (interface{}, error) {
			return h.LiveMap.State(), nil
		}},
	})

	resp := DashboardResponse{
		Generation: h.Bus.Generation(),
		FetchedAt:  h.Dashboard.LastFetched(),
	}
	for name, result := range results {
		if result.Err != nil {
			ctx.Logger.Warn("Dashboard task failed",
				slog.String("task", name),
				slog.Any("error", result.Err))
			continue
		}
		switch name {
		case "snapshot":
			if snap, ok := result.Data.(*aggregation.Snapshot); ok {
				resp.Snapshot = snap
			}
		case "stats":
			if stats, ok := result.Data.(*dashboard.Stats); ok {
				resp.Stats = stats
			}
		case "livemap":
			if state, ok := result.Data.(livemap.State); ok {
				resp.LiveMap = state
			}
		}
	}

	return ctx.JSON(resp)
}

// DashboardStatsAction serves the lifetime summary on its own.
func (h *Handlers) DashboardStatsAction(ctx *cartridge.Context) error {
	projectID, err := parseProjectID(ctx)
	if err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	stats, err := h.Dashboard.GetDashboardStats(projectID)
	if err != nil {
		ctx.Logger.Error("Failed to load dashboard stats", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load dashboard stats",
		})
	}
	return ctx.JSON(stats)
}

// ensureScope applies the requested scope and guarantees a snapshot exists
// for it, fetching synchronously when the scope changed or nothing has been
// published yet.
func (h *Handlers) ensureScope(ctx *cartridge.Context, projectID uint, window timeframe.Window) error {
	curProject, curWindow := h.Dashboard.Scope()
	changed := curProject != projectID || !curWindow.From.Equal(window.From) || !curWindow.To.Equal(window.To)
	if changed {
		if err := h.Dashboard.SetScope(projectID, window); err != nil {
			return err
		}
		h.LiveMap.SetProject(projectID)
	}
	if changed || h.Dashboard.Snapshot() == nil {
		return h.Dashboard.FetchAndPublish(ctx.Ctx.Context())
	}
	return nil
}

func parseProjectID(ctx *cartridge.Context) (uint, error) {
	projectID, err := ctx.ParamsInt("id")
	if err != nil || projectID <= 0 {
		return 0, fmt.Errorf("invalid project id")
	}
	return uint(projectID), nil
}

// parseScope reads the project and timeframe from the query string. Either
// an explicit from/to pair (YYYY-MM-DD) or a trailing day count is accepted.
func parseScope(ctx *cartridge.Context) (uint, timeframe.Window, error) {
	projectID, err := parseProjectID(ctx)
	if err != nil {
		return 0, timeframe.Window{}, err
	}

	fromStr := ctx.Query("from")
	toStr := ctx.Query("to")
	if fromStr != "" || toStr != "" {
		from, err := time.Parse("2006-01-02", fromStr)
		if err != nil {
			return 0, timeframe.Window{}, fmt.Errorf("invalid from date: %s", fromStr)
		}
		to, err := time.Parse("2006-01-02", toStr)
		if err != nil {
			return 0, timeframe.Window{}, fmt.Errorf("invalid to date: %s", toStr)
		}
		window, err := timeframe.NewWindow(from, to.Add(24*time.Hour-time.Nanosecond))
		if err != nil {
			return 0, timeframe.Window{}, err
		}
		return projectID, window, nil
	}

	days := ctx.QueryInt("days", defaultWindowDays)
	if days < 1 {
		return 0, timeframe.Window{}, fmt.Errorf("days must be positive")
	}
	return projectID, timeframe.LastDays(days, time.Now().UTC()), nil
}
