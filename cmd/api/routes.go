package main

import (
	"collabflow/internal/auth"
	"collabflow/internal/authflow"
	"collabflow/internal/config"
	"collabflow/internal/csrf"
	"collabflow/internal/proxy"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	cfg       config.Config
	tokens    *auth.Manager
	flows     *authflow.Service
	forwarder *proxy.Forwarder
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	secure := deps.cfg.IsProduction()

	// The CSRF guard runs on every route, /healthz included, so a plain
	// GET is enough to obtain the token cookie before the first mutating
	// call.
	r.Use(csrf.Guard(secure))

	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	h := authflow.Handlers{
		Service:      deps.flows,
		Secure:       secure,
		CookieMaxAge: int(deps.cfg.Auth.SessionMaxAge.Seconds()),
	}

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/token", h.Token)
		authGroup.POST("/refresh", h.Refresh)
		authGroup.POST("/logout", h.Logout)
		authGroup.GET("/me", auth.RequireAccessToken(deps.tokens), h.Me)
		authGroup.POST("/logout-all", auth.RequireAccessToken(deps.tokens), h.LogoutEverywhere)
	}

	// Everything else is authenticated and proxied to the resource API.
	r.NoRoute(auth.RequireAccessToken(deps.tokens), deps.forwarder.Handle)
}
