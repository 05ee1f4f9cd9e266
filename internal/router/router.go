// Package router wires HTTP routes to their handlers and middleware.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/worksheetlab/worksheet-api/internal/config"
	"github.com/worksheetlab/worksheet-api/internal/handler"
	"github.com/worksheetlab/worksheet-api/internal/middleware"
	"github.com/worksheetlab/worksheet-api/internal/model"
)

// RegisterRoutes registers routes that require no authentication: the
// health check and the provider webhook endpoint (which authenticates
// its payloads by signature, not by session).
func RegisterRoutes(e *echo.Echo, wh *handler.WebhookHandler) {
	e.GET("/healthz", handler.Health)
	e.POST("/v1/webhooks/stripe", wh.HandleStripe)
}

// RegisterAuth registers the authentication endpoints. Register, login
// and refresh live under /v1/auth without a session; logout, me and
// account deletion require a valid access token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))
	auth.POST("/logout", a.Logout)
	auth.GET("/me", a.Me)
	auth.DELETE("/me", a.DeleteAccount)
}

// RegisterSubscription registers the entitlement query/command surface
// and the billing endpoints. All of them operate on the authenticated
// identity; the record-usage endpoint additionally sits behind the
// token-bucket limiter since it is called once per generation.
func RegisterSubscription(e *echo.Echo, s *handler.SubscriptionHandler, b *handler.BillingHandler,
	jwtSecret string, rlCfg config.RateLimitConfig, rdb *redis.Client) {

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))

	auth.GET("/subscription/status", s.Status)
	auth.GET("/subscription/can-generate", s.CanGenerate)
	auth.POST("/subscription/record-usage", s.RecordUsage, middleware.NewTokenBucket(rlCfg, rdb))
	auth.POST("/subscription/cancel", s.Cancel)
	auth.POST("/subscription/reactivate", s.Reactivate)

	auth.POST("/billing/checkout", b.Checkout)
	auth.POST("/billing/portal", b.Portal)
	auth.GET("/billing/prices", b.Prices)

	admin := e.Group("/v1/admin")
	admin.Use(middleware.JWTAuth(jwtSecret))
	admin.Use(middleware.RequireRole(model.RoleAdmin))
	admin.POST("/users/:id/cancel", s.AdminCancelNow)
}
