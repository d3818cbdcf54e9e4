package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-booking/internal/service"
)

// CreditHandler serves prepaid class packages.
type CreditHandler struct {
	Engine *service.Engine
}

// NewCreditHandler panics on a nil engine.
func NewCreditHandler(e *service.Engine) *CreditHandler {
	if e == nil {
		panic("nil engine passed to NewCreditHandler")
	}
	return &CreditHandler{Engine: e}
}

// MyPackages handles GET /v1/me/packages.  Balance counts only credits
// usable right now.
func (h *CreditHandler) MyPackages(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	ctx := c.Request().Context()
	pkgs, err := h.Engine.Credits.ListPackages(ctx, userID)
	if err != nil {
		return respondError(c, err)
	}
	balance, err := h.Engine.Credits.Balance(ctx, userID, h.Engine.Options().Clock())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"balance": balance, "packages": pkgs})
}

type grantRequest struct {
	Credits      int `json:"credits" validate:"required,min=1,max=500"`
	ValidityDays int `json:"validity_days" validate:"required,min=1,max=3650"`
}

// Grant handles POST /v1/users/:id/packages (staff).  Payment happens
// elsewhere; this records the purchased credits.
func (h *CreditHandler) Grant(c echo.Context) error {
	var body grantRequest
	if ok, err := bindValid(c, &body); !ok {
		return err
	}
	p, err := h.Engine.Credits.GrantPackage(c.Request().Context(), c.Param("id"), body.Credits, body.ValidityDays)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}
