package middleware

import (
	"context"
	"net"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/repairdesk-core/services/credentials"
	"github.com/upb/repairdesk-core/services/tenancy"
)

// Context key type to avoid collisions
type contextKey string

const (
	// ClaimsKey is the context key for verified access-token claims
	ClaimsKey contextKey = "claims"

	// IdentityKey is the context key for the resolved caller
	IdentityKey contextKey = "identity"
)

// GetRequestIDFromContext retrieves the request ID set by chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	return chimw.GetReqID(ctx)
}

// GetClaimsFromContext retrieves verified claims from context
func GetClaimsFromContext(ctx context.Context) *credentials.AccessClaims {
	if claims, ok := ctx.Value(ClaimsKey).(*credentials.AccessClaims); ok {
		return claims
	}
	return nil
}

// WithClaims adds verified claims to the context
func WithClaims(ctx context.Context, claims *credentials.AccessClaims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// GetIdentityFromContext retrieves the resolved caller, or nil on public routes
func GetIdentityFromContext(ctx context.Context) *tenancy.Identity {
	if identity, ok := ctx.Value(IdentityKey).(*tenancy.Identity); ok {
		return identity
	}
	return nil
}

// WithIdentity adds the resolved caller to the context
func WithIdentity(ctx context.Context, identity *tenancy.Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// ClientIP returns the caller's address without its port. ProxyTrust.RealIP
// has already replaced RemoteAddr when a trusted proxy reported the client.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RequestMeta collects the request fields written to the audit log
func RequestMeta(r *http.Request) credentials.RequestMeta {
	return credentials.RequestMeta{
		SourceIP:  ClientIP(r),
		RequestID: GetRequestIDFromContext(r.Context()),
	}
}
