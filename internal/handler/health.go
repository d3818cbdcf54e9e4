package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// HealthHandler reports liveness and, when Ping is set, store readiness.
type HealthHandler struct {
	Ping func(ctx context.Context) error
}

// Health is used by load balancers and monitoring systems.  It returns
// "ok" with 200, or 503 when the store does not answer.
func (h HealthHandler) Health(c echo.Context) error {
	if h.Ping != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := h.Ping(ctx); err != nil {
			return c.String(http.StatusServiceUnavailable, "store unavailable")
		}
	}
	return c.String(http.StatusOK, "ok")
}
