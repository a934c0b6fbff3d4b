package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "pulsemetry/api/v1"
	"pulsemetry/internal/config"
	"pulsemetry/internal/http"
)

// publicCORSConfig is the permissive CORS setup shared by the public
// ingestion endpoints, which are called cross-origin from tracked sites.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Authorization, Referrer, User-Agent",
}

// MountRoutes mounts all application routes using cartridge's route API.
func (a *Application) MountRoutes(srv *cartridge.Server) {
	cfg := config.GetConfig()
	handlers := http.NewHandlers(a.Dashboard, a.LiveMap, a.Scheduler, a.Bus)

	// Rate limiting only bites in production; in development and tests it
	// would get in the way.
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// 70 req/min per IP absorbs legitimate tracker traffic while capping abuse.
	publicRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(70),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	publicAPIConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		WriteConcurrency: false,
		CustomMiddleware: []fiber.Handler{publicRateLimiter},
		CORSConfig:       publicCORSConfig,
	}

	dashboardAPIConfig := &cartridge.RouteConfig{
		CustomMiddleware: []fiber.Handler{publicRateLimiter},
	}

	// === ROOT ROUTES ===
	srv.Get("/", func(ctx *cartridge.Context) error {
		return ctx.JSON(fiber.Map{"service": cfg.AppName, "status": "ok"})
	})

	srv.Get("/_health", http.HealthIndexAction)
	srv.Head("/_health", http.HealthIndexAction)

	// === PUBLIC INGESTION API ===
	srv.Post("/x/api/v1/events", v1.CreateEventHandler(a.Store), publicAPIConfig)
	srv.Options("/x/api/v1/events", func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}, publicAPIConfig)
	srv.Post("/x/api/v1/events/batch", v1.CreateEventBatchHandler(a.Store), publicAPIConfig)
	srv.Options("/x/api/v1/events/batch", func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}, publicAPIConfig)

	// === DASHBOARD API ===
	srv.Get("/api/v1/projects/:id/dashboard", handlers.DashboardIndexAction, dashboardAPIConfig)
	srv.Get("/api/v1/projects/:id/stats", handlers.DashboardStatsAction, dashboardAPIConfig)
	srv.Get("/api/v1/projects/:id/livemap", handlers.LiveMapIndexAction, dashboardAPIConfig)

	// === REFRESH CONTROL ===
	srv.Post("/api/v1/visibility", handlers.VisibilityAction, dashboardAPIConfig)
	srv.Post("/api/v1/refresh", handlers.RefreshAction, dashboardAPIConfig)
	srv.Get("/api/v1/scheduler", handlers.SchedulerStateAction, dashboardAPIConfig)
}
