package http

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
)

// LiveMapIndexAction serves the current live view. The state is recomputed
// on demand when the project scope differs from the cached one.
func (h *Handlers) LiveMapIndexAction(ctx *cartridge.Context) error {
	projectID, err := parseProjectID(ctx)
	if err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	h.LiveMap.SetProject(projectID)
	if err := h.LiveMap.Recompute(); err != nil {
		ctx.Logger.Error("Failed to compute live map", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to compute live map",
		})
	}

	return ctx.JSON(h.LiveMap.State())
}
