package router

import (
	"github.com/labstack/echo/v4"

	"heartstring/internal/adapter/api/handler"
)

func SetupSettingsRouter(g *echo.Group, settingsHandler *handler.SettingsHandler) {
	g.GET("/settings", settingsHandler.GetSettings)
	g.PUT("/settings", settingsHandler.UpdateSettings)

	blocked := g.Group("/blocked-users")
	blocked.GET("", settingsHandler.ListBlockedUsers)
	blocked.POST("", settingsHandler.BlockUser)
	blocked.DELETE("/:id", settingsHandler.UnblockUser)
}
