package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telegraphhq/telegraph/internal/handlers"
	"github.com/telegraphhq/telegraph/internal/middleware"
)

// Deps carries the constructed handlers the router mounts.
type Deps struct {
	Users         *handlers.UserHandler
	Notifications *handlers.NotificationHandler
	Realtime      *handlers.RealtimeHandler
	// APIKey gates the dashboard routes. Empty rejects every request, so a
	// misconfigured deployment fails closed.
	APIKey string
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
// Health, metrics and the push handshake are public; the handshake carries
// its own token check. Everything else sits behind the dashboard API key.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.Users == nil {
		return nil, fmt.Errorf("user handler must be provided")
	}
	if deps.Notifications == nil {
		return nil, fmt.Errorf("notification handler must be provided")
	}
	if deps.Realtime == nil {
		return nil, fmt.Errorf("realtime handler must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	// Public endpoints
	r.GET("/health", handlers.Health())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", deps.Realtime.Connect)

	api := r.Group("/api")
	api.Use(middleware.APIKeyAuth(deps.APIKey))

	// Intake and dashboard views
	api.POST("/notification", deps.Notifications.Submit)
	api.GET("/notifications", deps.Notifications.Logs)
	api.GET("/dlq", deps.Notifications.DeadLetters)

	// Recipients
	api.POST("/user", deps.Users.Create)
	api.GET("/users", deps.Users.List)
	users := api.Group("/user/:id")
	{
		users.GET("", deps.Users.Get)
		users.PUT("", deps.Users.Update)
		users.DELETE("", deps.Users.Delete)
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
