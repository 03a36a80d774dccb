// Package httptransport binds the coordinators to HTTP. Handlers decode,
// delegate to a service and encode; they hold no business rules.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"certledger/internal/platform/metrics"
	"certledger/internal/platform/middleware"
	ratelimitmw "certledger/internal/ratelimit/middleware"
	ratelimitmodels "certledger/internal/ratelimit/models"
	"certledger/pkg/platform/httputil"
	"certledger/pkg/platform/middleware/admin"
	"certledger/pkg/platform/middleware/metadata"
	"certledger/pkg/platform/middleware/requesttime"
)

// RouterDeps carries everything NewRouter mounts.
type RouterDeps struct {
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Authorizer middleware.Authorizer
	AdminToken string
	// RateLimit is optional; nil leaves every route unlimited.
	RateLimit *ratelimitmw.Middleware
	// Readiness probes backing /health/ready, keyed by dependency name.
	Readiness map[string]ReadinessCheck

	Institutes   *InstituteHandler
	Certificates *CertificateHandler
	Verification *VerificationHandler
	UniqueIDs    *UniqueIDHandler
	Admin        *AdminHandler
}

// NewRouter assembles the middleware chain and mounts every handler.
func NewRouter(d RouterDeps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Latency(d.Metrics))

	r.Get("/health", handleHealth)
	r.Get("/health/ready", handleReady(d.Readiness))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if d.RateLimit != nil {
			r.Use(d.RateLimit.RateLimit(ratelimitmodels.ClassAuth))
			r.Use(d.RateLimit.LoginLockout)
		}
		d.Institutes.Register(r)
	})
	r.Group(func(r chi.Router) {
		if d.RateLimit != nil {
			r.Use(d.RateLimit.RateLimit(ratelimitmodels.ClassPublic))
		}
		d.Verification.Register(r)
	})
	r.Group(func(r chi.Router) {
		if d.RateLimit != nil {
			r.Use(d.RateLimit.RateLimit(ratelimitmodels.ClassWrite))
		}
		r.Use(middleware.RequireAuth(d.Authorizer, logger))
		d.Certificates.Register(r)
		d.UniqueIDs.Register(r)
	})

	if d.Admin != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Use(admin.RequireAdminToken(d.AdminToken, logger))
			d.Admin.Register(r)
		})
	}
	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "OK",
		"message": "certificate ledger API is running",
	})
}

// ReadinessCheck reports whether one backing dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

const readinessTimeout = 2 * time.Second

func handleReady(checks map[string]ReadinessCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(names))
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}
		httputil.WriteJSON(w, status, map[string]any{
			"ready":  status == http.StatusOK,
			"checks": results,
		})
	}
}
