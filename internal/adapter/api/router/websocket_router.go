package router

import (
	"github.com/labstack/echo/v4"

	"heartstring/internal/adapter/api/handler"
)

// SetupWebSocketRouter mounts the realtime endpoint. Browsers pass the token
// as ?token= since they cannot set headers on the upgrade.
func SetupWebSocketRouter(g *echo.Group, wsHandler *handler.WebSocketHandler) {
	g.GET("/ws", wsHandler.HandleWebSocket)
}
