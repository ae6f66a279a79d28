// Package main provides the API server entry point.
package main

import (
	"github.com/labstack/echo/v4"

	"github.com/lllypuk/userfeed/internal/infrastructure/httpserver"
	"github.com/lllypuk/userfeed/internal/middleware"
)

// SetupRoutes configures all API routes and middleware chains on e.
func SetupRoutes(e *echo.Echo, c *Container) *httpserver.Router {
	routerConfig := httpserver.RouterConfig{
		Logger:     c.Logger,
		CORSConfig: middleware.FeedCORSConfig(c.Config.Server.AllowedOrigins),
		LoggingConfig: middleware.LoggingConfig{
			Logger:    c.Logger,
			SkipPaths: middleware.DefaultLoggingConfig().SkipPaths,
		},
		RecoveryConfig: middleware.RecoveryConfig{
			Logger:    c.Logger,
			StackSize: middleware.DefaultStackSize,
		},
		APIPrefix: "/api/v1",
	}

	router := httpserver.NewRouter(e, routerConfig)

	// Container implements httpserver.HealthChecker, so it is passed directly.
	router.RegisterHealthEndpoints(c)

	if c.Config.Metrics.Enabled {
		router.RegisterMetricsEndpoint(c.Config.Metrics.Path, c.Registry)
	}

	router.RegisterAll(
		c.UsersHandler,
		c.WSHandler,
	)

	if c.Config.IsDevelopment() {
		router.PrintRoutes()
	}

	return router
}
