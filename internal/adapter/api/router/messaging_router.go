package router

import (
	"github.com/labstack/echo/v4"

	"heartstring/internal/adapter/api/handler"
)

func SetupMessagingRouter(g *echo.Group, messagingHandler *handler.MessagingHandler) {
	conversations := g.Group("/conversations")
	conversations.GET("", messagingHandler.GetConversations)
	conversations.POST("/refresh", messagingHandler.RefreshConversations)
	conversations.POST("/close", messagingHandler.CloseConversation)
	conversations.POST("/:partnerId/open", messagingHandler.OpenConversation)
	conversations.GET("/:partnerId/messages", messagingHandler.GetMessages)
	conversations.POST("/:partnerId/messages", messagingHandler.SendMessage)

	g.DELETE("/messages/:id", messagingHandler.DeleteMessage)
}
