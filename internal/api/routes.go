package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/edgeflow/drillctl/internal/api/middleware"
	"github.com/edgeflow/drillctl/internal/coordinator"
	"github.com/edgeflow/drillctl/internal/security"
	wshub "github.com/edgeflow/drillctl/internal/websocket"
)

// Deps bundles the collaborators route handlers need.
type Deps struct {
	Coordinator *coordinator.Coordinator
	Hub         *wshub.Hub
	PIN         *security.PINService
	PINHash     string
	JWT         middleware.JWTConfig
}

// SetupRoutes configures the coordinator's HTTP/WS surface (spec.md §6):
// the seven operations of §4.7 plus a status websocket feed.
func SetupRoutes(app *fiber.App, deps Deps) {
	h := &handlers{deps: deps}

	api := app.Group("/api/v1")
	api.Get("/health", h.health)

	protected := api.Group("", middleware.JWTMiddleware(deps.JWT))
	protected.Post("/mode", h.selectMode)
	protected.Post("/manual", h.selectManual)
	protected.Post("/start", h.pressStartVirtual)
	protected.Post("/stop", h.pressStopVirtual)
	protected.Post("/estop", h.emergencyStop)
	protected.Post("/reset", h.resetVirtual)
	protected.Get("/snapshot", h.snapshot)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		deps.Hub.HandleWebSocket(c)
	}))
}
