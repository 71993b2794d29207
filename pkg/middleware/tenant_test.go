package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/vine/pkg/tenant"
)

func TestTenant(t *testing.T) {
	e := echo.New()

	t.Run("stores the tenant in the request context", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(TenantHeader, "tenant-1")
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		var got string
		handler := Tenant()(func(c echo.Context) error {
			got = tenant.GetTenantID(c.Request().Context())
			return nil
		})

		require.NoError(t, handler(c))
		assert.Equal(t, "tenant-1", got)
	})

	t.Run("missing header is a 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		handler := Tenant()(func(c echo.Context) error { return nil })

		err := handler(c)
		require.Error(t, err)
		assert.True(t, httperror.IsHTTPError(err))
		assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
	})
}
