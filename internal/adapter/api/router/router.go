package router

import (
	"github.com/labstack/echo/v4"

	"heartstring/internal/adapter/api/handler"
	"heartstring/internal/adapter/api/middleware"
	"heartstring/internal/infrastructure/ratelimit"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Health    *handler.HealthHandler
	Messaging *handler.MessagingHandler
	Profile   *handler.ProfileHandler
	Settings  *handler.SettingsHandler
	WebSocket *handler.WebSocketHandler
}

func Setup(e *echo.Echo, h Handlers, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	SetupHealthRouter(e, h.Health)

	v1 := e.Group("/v1", authMiddleware.Authenticate, middleware.RateLimit(limiter))
	SetupMessagingRouter(v1, h.Messaging)
	SetupProfileRouter(v1, h.Profile)
	SetupSettingsRouter(v1, h.Settings)
	SetupWebSocketRouter(v1, h.WebSocket)
}
