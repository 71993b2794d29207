// Package journey exposes the journey authoring and enrollment API
package journey

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/vine/pkg/graph"
	journeys "github.com/Ramsey-B/vine/pkg/journey"
	"github.com/Ramsey-B/vine/pkg/models"
	"github.com/Ramsey-B/vine/pkg/tenant"
)

// Handler serves journey definition routes
type Handler struct {
	service   *journeys.Service
	projector *graph.Projector
	validate  *validator.Validate
}

// NewHandler creates the journey route handler. projector may be nil when the
// graph projection is disabled.
func NewHandler(service *journeys.Service, projector *graph.Projector) *Handler {
	return &Handler{
		service:   service,
		projector: projector,
		validate:  validator.New(),
	}
}

// Register registers journey routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("", h.CreateJourney)
	g.GET("", h.ListJourneys)
	g.GET("/:id", h.GetJourney)
	g.PUT("/:id", h.UpdateJourney)
	g.PUT("/:id/status", h.SetJourneyStatus)
	g.POST("/:id/executions", h.StartJourney)
	g.GET("/:id/flow", h.GetJourneyFlow)
}

// CreateJourney creates a new draft journey
func (h *Handler) CreateJourney(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := tenant.GetTenantID(ctx)

	var req models.CreateJourneyRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	def, err := h.service.CreateJourney(ctx, tenantID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, def)
}

// ListJourneys lists the tenant's journeys
func (h *Handler) ListJourneys(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := tenant.GetTenantID(ctx)

	limit := intQueryParam(c, "limit", 50)
	offset := intQueryParam(c, "offset", 0)

	resp, err := h.service.ListJourneys(ctx, tenantID, limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// GetJourney returns a journey with its steps
func (h *Handler) GetJourney(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := tenant.GetTenantID(ctx)

	def, err := h.service.GetJourney(ctx, tenantID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, def)
}

// UpdateJourney replaces a draft journey's name and steps
func (h *Handler) UpdateJourney(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := tenant.GetTenantID(ctx)

	var req models.UpdateJourneyRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	def, err := h.service.UpdateJourney(ctx, tenantID, c.Param("id"), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, def)
}

type statusRequest struct {
	Status models.JourneyStatus `json:"status" validate:"required"`
}

// SetJourneyStatus transitions a journey's activation status
func (h *Handler) SetJourneyStatus(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := tenant.GetTenantID(ctx)

	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	def, err := h.service.SetJourneyStatus(ctx, tenantID, c.Param("id"), req.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, def)
}

type startRequest struct {
	ContactID string `json:"contact_id" validate:"required"`
}

// StartJourney enrolls a contact in the journey
func (h *Handler) StartJourney(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := tenant.GetTenantID(ctx)

	var req startRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	exec, err := h.service.StartJourney(ctx, tenantID, c.Param("id"), req.ContactID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, exec)
}

// GetJourneyFlow returns the aggregated step transition counts from the
// graph projection
func (h *Handler) GetJourneyFlow(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := tenant.GetTenantID(ctx)

	if h.projector == nil {
		return httperror.NewHTTPError(http.StatusNotImplemented, "graph projection is disabled")
	}

	flow, err := h.projector.JourneyFlow(ctx, tenantID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, flow)
}

func intQueryParam(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	var v int
	if err := echo.QueryParamsBinder(c).Int(name, &v).BindError(); err != nil {
		return fallback
	}
	return v
}
