package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/service"
)

// WaitlistHandler serves the per-instance queue.
type WaitlistHandler struct {
	Engine *service.Engine
}

// NewWaitlistHandler panics on a nil engine.
func NewWaitlistHandler(e *service.Engine) *WaitlistHandler {
	if e == nil {
		panic("nil engine passed to NewWaitlistHandler")
	}
	return &WaitlistHandler{Engine: e}
}

// Join handles POST /v1/instances/:id/waitlist.  It only succeeds while
// the class is full; otherwise the member should book directly.
func (h *WaitlistHandler) Join(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var body reserveRequest
	if ok, err := bindValid(c, &body); !ok {
		return err
	}
	entry, err := h.Engine.Waitlist.Enqueue(c.Request().Context(), c.Param("id"), userID, body.PaymentMode)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, entry)
}

// List handles GET /v1/instances/:id/waitlist.  Staff see the whole
// queue and the pending promotions.  A member sees only the queue length
// and their own entry (waiting or promoted), or null.
func (h *WaitlistHandler) List(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	ctx := c.Request().Context()
	id := c.Param("id")
	waiting, err := h.Engine.Waitlist.List(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	promoted, err := h.Engine.Waitlist.Promotions(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	if actor.Operator {
		return c.JSON(http.StatusOK, echo.Map{"waiting": waiting, "promoted": promoted})
	}
	var own *model.WaitlistEntry
	for _, entries := range [][]model.WaitlistEntry{waiting, promoted} {
		for i := range entries {
			if entries[i].UserID == actor.UserID {
				own = &entries[i]
			}
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"waiting_count": len(waiting), "entry": own})
}

// Get handles GET /v1/waitlist/:id for the owner or staff.
func (h *WaitlistHandler) Get(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	entry, err := h.Engine.Waitlist.Get(c.Request().Context(), c.Param("id"), actor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, entry)
}

// Leave handles DELETE /v1/waitlist/:id.  Leaving a pending promotion
// declines it and frees the seat for the next member.
func (h *WaitlistHandler) Leave(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	if err := h.Engine.Waitlist.Leave(c.Request().Context(), c.Param("id"), actor); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Confirm handles POST /v1/waitlist/:id/confirm.  The promoted member
// keeps the seat held for them.
func (h *WaitlistHandler) Confirm(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	b, err := h.Engine.Waitlist.ConfirmPromotion(c.Request().Context(), c.Param("id"), actor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}
