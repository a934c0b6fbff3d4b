package http

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"pulsemetry/internal/scheduler"
)

type visibilityParams struct {
	Visible bool `json:"visible"`
}

// VisibilityAction reports the client surface's visibility. Hidden surfaces
// suspend the polling scheduler; regaining visibility fires a catch-up
// fetch before the cadence resumes.
func (h *Handlers) VisibilityAction(ctx *cartridge.Context) error {
	var params visibilityParams
	if err := ctx.BodyParser(&params); err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}

	h.Scheduler.SetVisible(params.Visible)
	return ctx.JSON(fiber.Map{"state": h.Scheduler.State()})
}

// RefreshAction is the user-triggered refresh: it raises a coordinated
// refresh signal, which debounces and fans out to every registered consumer.
func (h *Handlers) RefreshAction(ctx *cartridge.Context) error {
	h.Bus.EmitRefresh()
	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{
		"generation": h.Bus.Generation(),
	})
}

// SchedulerStateAction exposes the scheduler lifecycle state, mostly for the
// polling fallback to decide whether it needs to poll at all.
func (h *Handlers) SchedulerStateAction(ctx *cartridge.Context) error {
	return ctx.JSON(fiber.Map{
		"state":      h.Scheduler.State(),
		"running":    h.Scheduler.State() != scheduler.StateIdle,
		"generation": h.Bus.Generation(),
	})
}
