package testutil

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"certledger/pkg/requestcontext"
)

// WithInstitute simulates what RequireAuth sets for an authenticated request.
func WithInstitute(req *http.Request, instituteID, instituteName string) *http.Request {
	return req.WithContext(requestcontext.WithInstitute(req.Context(), instituteID, instituteName))
}

// WithURLParams attaches chi route parameters so a handler can be called
// without a router.
func WithURLParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}
