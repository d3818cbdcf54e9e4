package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/service"
)

// BookingHandler serves seat reservations and attendance.  All routes
// require JWTAuth.
type BookingHandler struct {
	Engine *service.Engine
}

// NewBookingHandler panics on a nil engine.
func NewBookingHandler(e *service.Engine) *BookingHandler {
	if e == nil {
		panic("nil engine passed to NewBookingHandler")
	}
	return &BookingHandler{Engine: e}
}

type reserveRequest struct {
	PaymentMode model.PaymentMode `json:"payment_mode" validate:"required,oneof=credit direct"`
}

// Reserve handles POST /v1/instances/:id/bookings.  It answers 201 with
// the booking when a seat was free and 202 with the waitlist entry when
// the class is full.  Lost seat races are retried before 503 is returned.
func (h *BookingHandler) Reserve(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var body reserveRequest
	if ok, err := bindValid(c, &body); !ok {
		return err
	}
	res, err := h.Engine.Bookings.ReserveWithRetry(c.Request().Context(), c.Param("id"), userID, body.PaymentMode)
	if err != nil {
		return respondError(c, err)
	}
	if res.Kind == service.ReservationWaitlisted {
		return c.JSON(http.StatusAccepted, res)
	}
	return c.JSON(http.StatusCreated, res)
}

// Get handles GET /v1/bookings/:id for the owner or staff.
func (h *BookingHandler) Get(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	b, err := h.Engine.Bookings.GetBooking(c.Request().Context(), c.Param("id"), actor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// Cancel handles DELETE /v1/bookings/:id.  Members may cancel their own
// bookings; staff may cancel any.
func (h *BookingHandler) Cancel(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	if err := h.Engine.Bookings.Cancel(c.Request().Context(), c.Param("id"), actor); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// MyBookings handles GET /v1/me/bookings.
func (h *BookingHandler) MyBookings(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	bs, err := h.Engine.Bookings.ListUserBookings(c.Request().Context(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": bs})
}

type outcomeRequest struct {
	Outcome model.BookingState `json:"outcome" validate:"required,oneof=attended no_show"`
}

// MarkOutcome handles POST /v1/bookings/:id/outcome (staff).
func (h *BookingHandler) MarkOutcome(c echo.Context) error {
	var body outcomeRequest
	if ok, err := bindValid(c, &body); !ok {
		return err
	}
	b, err := h.Engine.Bookings.MarkOutcome(c.Request().Context(), c.Param("id"), body.Outcome)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// InstanceBookings handles GET /v1/instances/:id/bookings (staff).
func (h *BookingHandler) InstanceBookings(c echo.Context) error {
	bs, err := h.Engine.Bookings.ListInstanceBookings(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": bs})
}

// Audit handles GET /v1/instances/:id/audit (staff).  It recounts the
// instance's seats, bookings and queue and lists any mismatch.
func (h *BookingHandler) Audit(c echo.Context) error {
	rep, err := h.Engine.Bookings.CheckInvariants(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	status := http.StatusOK
	if !rep.OK() {
		status = http.StatusConflict
	}
	return c.JSON(status, rep)
}
