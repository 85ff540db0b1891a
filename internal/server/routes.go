package server

import (
	"github.com/sprintly/backend/internal/server/routes"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Run progress routes
	e.GET("/runs", routes.GetActiveRunsHandler)
	e.GET("/runs/:id", routes.GetRunHandler)
	e.GET("/runs/:id/summary", routes.GetRunSummaryHandler)
}
