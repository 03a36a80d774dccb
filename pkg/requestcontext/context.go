// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Middleware sets the authenticated institute and the request id; coordinators
// read them without importing net/http. Tests inject a fixed clock with WithTime.
//
//	ctx = requestcontext.WithInstitute(ctx, "I1", "Institute One")
//	now := requestcontext.Now(ctx)
package requestcontext

import (
	"context"
	"time"
)

type (
	instituteIDKey   struct{}
	instituteNameKey struct{}
	requestIDKey     struct{}
	requestTimeKey   struct{}
)

// Exported context keys for tests that need context.WithValue directly.
var (
	ContextKeyInstituteID   = instituteIDKey{}
	ContextKeyInstituteName = instituteNameKey{}
	ContextKeyRequestID     = requestIDKey{}
	ContextKeyRequestTime   = requestTimeKey{}
)

// InstituteID returns the authenticated institute, or "" when unauthenticated.
func InstituteID(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyInstituteID).(string); ok {
		return v
	}
	return ""
}

// InstituteName returns the authenticated institute's display name.
func InstituteName(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyInstituteName).(string); ok {
		return v
	}
	return ""
}

// WithInstitute injects the authenticated institute identity.
func WithInstitute(ctx context.Context, instituteID, instituteName string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyInstituteID, instituteID)
	return context.WithValue(ctx, ContextKeyInstituteName, instituteName)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() for workers and recovery runs.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
