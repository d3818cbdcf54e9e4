package handler // HTTP handlers for the booking API

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-booking/internal/middleware"
	"github.com/iliyamo/studio-booking/internal/service"
)

// validate checks request bodies before they reach the engine.
var validate = validator.New()

// defaultWindow is the listing range when a request gives no "to".
const defaultWindow = 14 * 24 * time.Hour

var errUnauthenticated = errors.New("invalid user_id in context")

// getUserID extracts the authenticated subject set by JWTAuth.
func getUserID(c echo.Context) (string, error) {
	if id := middleware.UserID(c); id != "" {
		return id, nil
	}
	return "", errUnauthenticated
}

// actorFrom describes the caller for ownership checks.
func actorFrom(c echo.Context) (service.Actor, error) {
	id, err := getUserID(c)
	if err != nil {
		return service.Actor{}, err
	}
	return service.Actor{UserID: id, Operator: middleware.IsStaff(c)}, nil
}

// bindValid binds the request body into dst and validates its tags.  When
// ok is false the 400 response has already been written and err is what
// the handler should return.
func bindValid(c echo.Context, dst any) (ok bool, err error) {
	if err := c.Bind(dst); err != nil {
		return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_body", "message": "invalid request body"})
	}
	if err := validate.Struct(dst); err != nil {
		return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "validation_failed", "message": err.Error()})
	}
	return true, nil
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}

// statusFor maps engine errors onto HTTP status codes and stable codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, service.ErrInsufficientCredit):
		return http.StatusPaymentRequired, "insufficient_credit"
	case errors.Is(err, service.ErrInstanceNotBookable):
		return http.StatusConflict, "instance_not_bookable"
	case errors.Is(err, service.ErrDuplicateBooking):
		return http.StatusConflict, "duplicate_booking"
	case errors.Is(err, service.ErrDuplicateWaitlistEntry):
		return http.StatusConflict, "duplicate_waitlist_entry"
	case errors.Is(err, service.ErrOutcomeAlreadyRecorded):
		return http.StatusConflict, "outcome_already_recorded"
	case errors.Is(err, service.ErrOutcomeTooEarly):
		return http.StatusConflict, "outcome_too_early"
	case errors.Is(err, service.ErrBookingNotActive):
		return http.StatusConflict, "booking_not_active"
	case errors.Is(err, service.ErrConcurrentCapacityExceeded):
		return http.StatusServiceUnavailable, "concurrent_capacity_exceeded"
	}
	return http.StatusInternalServerError, "internal_error"
}

// respondError writes err as JSON.  Unknown errors are logged and hidden.
func respondError(c echo.Context, err error) error {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("handler: %s %s: %v", c.Request().Method, c.Path(), err)
		return c.JSON(status, echo.Map{"error": code})
	}
	if status == http.StatusServiceUnavailable {
		c.Response().Header().Set("Retry-After", "1")
	}
	return c.JSON(status, echo.Map{"error": code, "message": err.Error()})
}

// parseWindow reads ?from and ?to as RFC3339; from defaults to now and to
// to from plus two weeks.
func parseWindow(c echo.Context, now time.Time) (time.Time, time.Time, error) {
	from, to := now, time.Time{}
	if s := c.QueryParam("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return from, to, err
		}
		from = t
	}
	to = from.Add(defaultWindow)
	if s := c.QueryParam("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return from, to, err
		}
		to = t
	}
	if !to.After(from) {
		return from, to, errors.New("to must be after from")
	}
	return from, to, nil
}
