package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"certledger/internal/identity/models"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/httputil"
	"certledger/pkg/requestcontext"
)

// Authorizer resolves a bearer token to the institute it was issued to.
type Authorizer interface {
	Authorize(ctx context.Context, token models.SessionToken) (models.Principal, error)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// caller's institute in the request context.
func RequireAuth(authorizer Authorizer, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			principal, err := authorizer.Authorize(ctx, models.SessionToken(strings.TrimSpace(token)))
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - token rejected",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				httputil.WriteError(w, err)
				return
			}

			ctx = requestcontext.WithInstitute(ctx, principal.InstituteID, principal.InstituteName)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFrom returns the institute set by RequireAuth.
func PrincipalFrom(ctx context.Context) models.Principal {
	return models.Principal{
		InstituteID:   requestcontext.InstituteID(ctx),
		InstituteName: requestcontext.InstituteName(ctx),
	}
}
