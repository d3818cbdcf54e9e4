package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-booking/internal/service"
)

// CatalogHandler serves class templates and scheduled instances.  Reads
// are public; writes are mounted behind RequireRole(STAFF).
type CatalogHandler struct {
	Engine *service.Engine
}

// NewCatalogHandler panics on a nil engine.
func NewCatalogHandler(e *service.Engine) *CatalogHandler {
	if e == nil {
		panic("nil engine passed to NewCatalogHandler")
	}
	return &CatalogHandler{Engine: e}
}

// ListTemplates handles GET /v1/templates.
func (h *CatalogHandler) ListTemplates(c echo.Context) error {
	tpls, err := h.Engine.Catalog.ListTemplates(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"templates": tpls})
}

// GetTemplate handles GET /v1/templates/:id.
func (h *CatalogHandler) GetTemplate(c echo.Context) error {
	tpl, err := h.Engine.Catalog.GetTemplate(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, tpl)
}

// CreateTemplate handles POST /v1/templates.
func (h *CatalogHandler) CreateTemplate(c echo.Context) error {
	var in service.TemplateInput
	if ok, err := bindValid(c, &in); !ok {
		return err
	}
	tpl, err := h.Engine.Catalog.CreateTemplate(c.Request().Context(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, tpl)
}

// UpdateTemplate handles PUT /v1/templates/:id.  Instances already
// scheduled keep their values.
func (h *CatalogHandler) UpdateTemplate(c echo.Context) error {
	var in service.TemplateInput
	if ok, err := bindValid(c, &in); !ok {
		return err
	}
	tpl, err := h.Engine.Catalog.UpdateTemplate(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, tpl)
}

type generateRequest struct {
	From time.Time `json:"from" validate:"required"`
	To   time.Time `json:"to" validate:"required"`
}

// GenerateInstances handles POST /v1/templates/:id/generate.  It
// materialises the template's recurrence over [from, to) and returns the
// newly created instances.
func (h *CatalogHandler) GenerateInstances(c echo.Context) error {
	var body generateRequest
	if ok, err := bindValid(c, &body); !ok {
		return err
	}
	insts, err := h.Engine.Catalog.GenerateInstances(c.Request().Context(), c.Param("id"), body.From, body.To)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"created": len(insts), "instances": insts})
}

// ScheduleInstance handles POST /v1/instances.
func (h *CatalogHandler) ScheduleInstance(c echo.Context) error {
	var in service.InstanceInput
	if ok, err := bindValid(c, &in); !ok {
		return err
	}
	inst, err := h.Engine.Catalog.ScheduleInstance(c.Request().Context(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, inst)
}

// ListInstances handles GET /v1/instances?from=&to= (RFC3339).
func (h *CatalogHandler) ListInstances(c echo.Context) error {
	from, to, err := parseWindow(c, h.Engine.Options().Clock())
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_window", "message": err.Error()})
	}
	insts, err := h.Engine.Catalog.ListInstances(c.Request().Context(), from, to)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"from": from.UTC(), "to": to.UTC(), "instances": insts})
}

// GetInstance handles GET /v1/instances/:id.
func (h *CatalogHandler) GetInstance(c echo.Context) error {
	inst, err := h.Engine.Catalog.GetInstance(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, inst)
}

// CancelInstance handles POST /v1/instances/:id/cancel.  Every booking is
// cancelled and refunded and the waitlist is cleared.
func (h *CatalogHandler) CancelInstance(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	inst, err := h.Engine.Catalog.CancelInstance(c.Request().Context(), c.Param("id"), actor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, inst)
}
