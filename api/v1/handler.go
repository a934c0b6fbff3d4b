package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"pulsemetry/internal/events"
)

const (
	msgEventAdded     = "Event added successfully"
	errInvalidRequest = "Invalid request"
)

type CreateEventParams struct {
	ProjectID   uint             `json:"projectId"`
	VisitorID   string           `json:"visitorId"`
	SessionID   string           `json:"sessionId"`
	EventType   events.EventType `json:"eventType"`
	Timestamp   time.Time        `json:"timestamp"`
	Referrer    string           `json:"referrer"`
	UTMSource   string           `json:"utmSource"`
	UTMMedium   string           `json:"utmMedium"`
	UTMCampaign string           `json:"utmCampaign"`
	ClickTarget string           `json:"clickTarget"`
	DeviceType  string           `json:"deviceType"`
	ScrollDepth int              `json:"scrollDepth"`
	TimeOnPage  int              `json:"timeOnPage"`
}

func (p *CreateEventParams) toCollectInput(clientIP string) *events.CollectEventInput {
	return &events.CollectEventInput{
		ProjectID:   p.ProjectID,
		VisitorID:   p.VisitorID,
		SessionID:   p.SessionID,
		EventType:   p.EventType,
		Timestamp:   p.Timestamp,
		Referrer:    p.Referrer,
		UTMSource:   p.UTMSource,
		UTMMedium:   p.UTMMedium,
		UTMCampaign: p.UTMCampaign,
		ClickTarget: p.ClickTarget,
		DeviceType:  p.DeviceType,
		ScrollDepth: p.ScrollDepth,
		TimeOnPage:  p.TimeOnPage,
		IPAddress:   clientIP,
	}
}

// CreateEventHandler builds the public ingestion endpoint. Malformed events
// are rejected with 400; SQLite contention surfaces as the retryable 599 so
// trackers back off and resend.
func CreateEventHandler(store *events.Store) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		ctx.Logger.Debug("Received event request",
			slog.String("method", ctx.Method()),
			slog.String("path", ctx.Path()))

		var params CreateEventParams
		if err := ctx.BodyParser(&params); err != nil {
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": errInvalidRequest,
				"code":  "INVALID_BODY",
			})
		}

		if err := store.CollectEvent(params.toCollectInput(getClientIP(ctx.Ctx))); err != nil {
			if errors.Is(err, events.ErrMalformedEvent) {
				ctx.Logger.Debug("Rejected malformed event", slog.Any("error", err))
				return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
					"error": err.Error(),
					"code":  "MALFORMED_EVENT",
				})
			}
			ctx.Logger.Error("Failed to collect event", slog.Any("error", err))
			if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "busy") {
				return ctx.Status(599).JSON(fiber.Map{})
			}
			return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to collect event",
				"code":  "COLLECTION_ERROR",
			})
		}

		return ctx.Status(http.StatusAccepted).JSON(fiber.Map{
			"message": msgEventAdded,
			"status":  http.StatusAccepted,
		})
	}
}

// CreateEventBatchHandler accepts an array of events in one request.
// Malformed entries are dropped individually; the response reports how many
// were stored.
func CreateEventBatchHandler(store *events.Store) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		var params []CreateEventParams
		if err := ctx.BodyParser(&params); err != nil {
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": errInvalidRequest,
				"code":  "INVALID_BODY",
			})
		}
		if len(params) == 0 {
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": "Empty batch",
				"code":  "EMPTY_BATCH",
			})
		}

		clientIP := getClientIP(ctx.Ctx)
		batch := make([]*events.CollectEventInput, 0, len(params))
		for i := range params {
			batch = append(batch, params[i].toCollectInput(clientIP))
		}

		stored, err := store.CollectEventBatch(batch)
		if err != nil {
			ctx.Logger.Error("Failed to collect event batch", slog.Any("error", err))
			if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "busy") {
				return ctx.Status(599).JSON(fiber.Map{})
			}
			return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to collect event batch",
				"code":  "COLLECTION_ERROR",
			})
		}

		return ctx.Status(http.StatusAccepted).JSON(fiber.Map{
			"stored":  stored,
			"dropped": len(params) - stored,
			"status":  http.StatusAccepted,
		})
	}
}
