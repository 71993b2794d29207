// Package tenant carries the tenant scope through request contexts
package tenant

import "context"

type contextKey string

const tenantIDKey contextKey = "tenant_id"

// WithTenantID returns a context carrying the tenant ID
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// GetTenantID returns the tenant ID from the context, or "" if unset
func GetTenantID(ctx context.Context) string {
	if v, ok := ctx.Value(tenantIDKey).(string); ok {
		return v
	}
	return ""
}
