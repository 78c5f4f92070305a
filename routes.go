// routes.go

package main

import (
	"github.com/labstack/echo/v4"
)

// registerRoutes sets up all the routes for the application.
func registerRoutes(e *echo.Echo, a *app) {
	e.GET("/", rootHandler)
	e.GET("/health", healthHandler)

	// OpenAI-compatible surface for chat clients.
	e.GET("/v1/models", modelsHandler)
	e.POST("/v1/chat/completions", a.chatCompletionsHandler)
	e.DELETE("/v1/chat/completions/:id", a.deleteConversationHandler)

	// Council administration.
	api := e.Group("/api")
	api.GET("/config", a.getConfigHandler)
	api.PUT("/config", a.updateConfigHandler)
	api.POST("/config/reload", a.reloadConfigHandler)
	api.GET("/config/validate", a.validateModelsHandler)

	api.GET("/conversations", a.listConversationsHandler)
	api.GET("/conversations/:id", a.getConversationHandler)

	api.GET("/metrics/tokens", tokenMetricsHandler)
}
