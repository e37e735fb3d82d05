package router

import (
	"github.com/labstack/echo/v4"

	"heartstring/internal/adapter/api/handler"
)

func SetupProfileRouter(g *echo.Group, profileHandler *handler.ProfileHandler) {
	g.GET("/profiles/:id", profileHandler.GetProfile)
}
