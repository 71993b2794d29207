// Package execution exposes the execution monitoring and operator control API
package execution

import (
	"net/http"

	"github.com/labstack/echo/v4"

	journeys "github.com/Ramsey-B/vine/pkg/journey"
	"github.com/Ramsey-B/vine/pkg/models"
	"github.com/Ramsey-B/vine/pkg/tenant"
)

// Handler serves execution routes
type Handler struct {
	service *journeys.Service
}

// NewHandler creates the execution route handler
func NewHandler(service *journeys.Service) *Handler {
	return &Handler{service: service}
}

// Register registers execution routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.ListExecutions)
	g.GET("/:id", h.GetExecution)
	g.GET("/:id/progress", h.GetProgress)
	g.POST("/:id/cancel", h.CancelExecution)
	g.POST("/:id/pause", h.PauseExecution)
	g.POST("/:id/resume", h.ResumeExecution)
	g.POST("/:id/retry", h.RetryExecution)
}

// ListExecutions lists executions with optional journey, contact and status filters
func (h *Handler) ListExecutions(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := tenant.GetTenantID(ctx)

	filter := models.ExecutionFilter{
		JourneyID: c.QueryParam("journey_id"),
		ContactID: c.QueryParam("contact_id"),
		Status:    models.ExecutionStatus(c.QueryParam("status")),
	}
	_ = echo.QueryParamsBinder(c).Int("limit", &filter.Limit).Int("offset", &filter.Offset).BindError()

	resp, err := h.service.ListExecutions(ctx, tenantID, filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// GetExecution returns one execution
func (h *Handler) GetExecution(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := tenant.GetTenantID(ctx)

	exec, err := h.service.GetExecution(ctx, tenantID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, exec)
}

// GetProgress returns the step-by-step progress projection
func (h *Handler) GetProgress(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := tenant.GetTenantID(ctx)

	progress, err := h.service.Progress(ctx, tenantID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, progress)
}

// CancelExecution cancels a running or paused execution
func (h *Handler) CancelExecution(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := tenant.GetTenantID(ctx)

	exec, err := h.service.CancelExecution(ctx, tenantID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, exec)
}

// PauseExecution pauses a running execution
func (h *Handler) PauseExecution(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := tenant.GetTenantID(ctx)

	exec, err := h.service.PauseExecution(ctx, tenantID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, exec)
}

// ResumeExecution resumes a paused execution
func (h *Handler) ResumeExecution(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := tenant.GetTenantID(ctx)

	exec, err := h.service.ResumeExecution(ctx, tenantID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, exec)
}

// RetryExecution moves a failed execution back to running at its current step
func (h *Handler) RetryExecution(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := tenant.GetTenantID(ctx)

	exec, err := h.service.RetryFailed(ctx, tenantID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, exec)
}
