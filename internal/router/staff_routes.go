package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-booking/internal/middleware"
)

// RegisterStaff registers operator endpoints under /v1.  All routes
// require a valid JWT with the STAFF role.
func RegisterStaff(e *echo.Echo, h Handlers, jwtSecret string) {
	auth := []echo.MiddlewareFunc{
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleStaff),
	}
	g := e.Group("/v1")
	g.POST("/templates", h.Catalog.CreateTemplate, auth...)
	g.PUT("/templates/:id", h.Catalog.UpdateTemplate, auth...)
	g.POST("/templates/:id/generate", h.Catalog.GenerateInstances, auth...)
	g.POST("/instances", h.Catalog.ScheduleInstance, auth...)
	g.POST("/instances/:id/cancel", h.Catalog.CancelInstance, auth...)
	g.GET("/instances/:id/bookings", h.Bookings.InstanceBookings, auth...)
	g.GET("/instances/:id/audit", h.Bookings.Audit, auth...)

	g.POST("/bookings/:id/outcome", h.Bookings.MarkOutcome, auth...)
	g.POST("/users/:id/packages", h.Credits.Grant, auth...)
}
