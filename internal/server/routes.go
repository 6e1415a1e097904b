package server

import (
	"github.com/vigia-news/vigia/internal/server/middleware"
	"github.com/vigia-news/vigia/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Entity routes
	apiRoutes.GET("/entities", routes.GetEntitiesHandler)
	apiRoutes.GET("/entities/:id", routes.GetEntityHandler)
	apiRoutes.GET("/entities/:id/summary", routes.GetEntitySummaryHandler)
	apiRoutes.PATCH("/entities/:id", routes.ReviewEntityHandler, middleware.RequirePermission("entity.review"))

	// Ingestion routes
	apiRoutes.POST("/ingest", routes.IngestHandler, middleware.RequirePermission("ingest.submit"))

	// Background run routes
	apiRoutes.POST("/runs", routes.CreateRunHandler, middleware.RequirePermission("run.trigger"))
	apiRoutes.GET("/runs/:id", routes.GetRunHandler)
	apiRoutes.GET("/rank-runs", routes.GetRankRunsHandler)

	// Suggestion routes
	apiRoutes.GET("/suggestions", routes.GetSuggestionsHandler)
	apiRoutes.POST("/suggestions/:id/accept", routes.AcceptSuggestionHandler, middleware.RequirePermission("suggestion.review"))
	apiRoutes.DELETE("/suggestions/:id", routes.DismissSuggestionHandler, middleware.RequirePermission("suggestion.review"))
}
