package middleware

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/vine/pkg/tenant"
)

// TenantHeader is the request header carrying the tenant scope
const TenantHeader = "X-Tenant-ID"

// Tenant requires the tenant header on every request and stores it in the
// request context for repositories and logging.
func Tenant() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := c.Request().Header.Get(TenantHeader)
			if tenantID == "" {
				return httperror.NewHTTPError(http.StatusBadRequest, "missing X-Tenant-ID header")
			}
			ctx := tenant.WithTenantID(c.Request().Context(), tenantID)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
