package authcore

import "context"

type contextKey int

const (
	ctxKeyClientIP contextKey = iota + 1
	ctxKeyTenant
)

// DefaultTenant is used when no tenant is attached to the context.
const DefaultTenant = "default"

// WithClientIP attaches the caller's network address for rate limiting and
// audit records.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyClientIP, ip)
}

func clientIP(ctx context.Context) string {
	ip, _ := ctx.Value(ctxKeyClientIP).(string)
	return ip
}

// WithTenant scopes all Engine operations on the context to the given
// tenant. Accounts, sessions, lockouts and counters never cross tenants.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxKeyTenant, tenantID)
}

func tenantID(ctx context.Context) string {
	if t, ok := ctx.Value(ctxKeyTenant).(string); ok && t != "" {
		return t
	}
	return DefaultTenant
}
