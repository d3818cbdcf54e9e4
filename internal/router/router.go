package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-booking/internal/handler"
	"github.com/iliyamo/studio-booking/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication.
// Currently it exposes only the health check.
func RegisterRoutes(e *echo.Echo, h handler.HealthHandler) {
	e.GET("/healthz", h.Health)
}

// RegisterPublic registers the catalog browse endpoints.  They need no
// token so guests can look at the schedule; cache wraps them with the
// Redis response cache.
//
// The /v1 groups carry no group middleware: echo registers catch-all
// routes for a group with middleware, which would turn unknown paths into
// 401s.  Middleware is attached per route instead.
func RegisterPublic(e *echo.Echo, c *handler.CatalogHandler, cache echo.MiddlewareFunc) {
	g := e.Group("/v1")
	cache = orPass(cache)
	g.GET("/templates", c.ListTemplates, cache)
	g.GET("/templates/:id", c.GetTemplate, cache)
	g.GET("/instances", c.ListInstances, cache)
	g.GET("/instances/:id", c.GetInstance, cache)
}

// Handlers bundles the authenticated handlers.
type Handlers struct {
	Catalog  *handler.CatalogHandler
	Bookings *handler.BookingHandler
	Waitlist *handler.WaitlistHandler
	Credits  *handler.CreditHandler
}

// RegisterMember registers endpoints available to any signed-in member.
// Staff tokens are accepted too so front-desk staff can act for a member.
// limit is the rate limiter in front of the write paths.
func RegisterMember(e *echo.Echo, h Handlers, jwtSecret string, limit echo.MiddlewareFunc) {
	auth := []echo.MiddlewareFunc{
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleMember, middleware.RoleStaff),
	}
	limited := append(auth[:len(auth):len(auth)], orPass(limit))

	g := e.Group("/v1")
	g.POST("/instances/:id/bookings", h.Bookings.Reserve, limited...)
	g.GET("/bookings/:id", h.Bookings.Get, auth...)
	g.DELETE("/bookings/:id", h.Bookings.Cancel, limited...)
	g.GET("/me/bookings", h.Bookings.MyBookings, auth...)
	g.GET("/me/packages", h.Credits.MyPackages, auth...)

	g.POST("/instances/:id/waitlist", h.Waitlist.Join, limited...)
	g.GET("/instances/:id/waitlist", h.Waitlist.List, auth...)
	g.GET("/waitlist/:id", h.Waitlist.Get, auth...)
	g.DELETE("/waitlist/:id", h.Waitlist.Leave, limited...)
	g.POST("/waitlist/:id/confirm", h.Waitlist.Confirm, limited...)
}

func orPass(m echo.MiddlewareFunc) echo.MiddlewareFunc {
	if m != nil {
		return m
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
}
