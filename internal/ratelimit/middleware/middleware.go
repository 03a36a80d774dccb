package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"certledger/internal/ratelimit/models"
	"certledger/pkg/platform/httputil"
	"certledger/pkg/platform/middleware/metadata"
)

const maxPeekBytes = 64 << 10

type RateLimiter interface {
	CheckIP(ctx context.Context, ip string, class models.EndpointClass) (*models.RateLimitResult, error)
	CheckAuth(ctx context.Context, instituteID, ip string) (*models.RateLimitResult, error)
	RecordAuthFailure(ctx context.Context, instituteID, ip string) error
	ClearAuthFailures(ctx context.Context, instituteID, ip string) error
}

type Middleware struct {
	limiter  RateLimiter
	logger   *slog.Logger
	disabled bool
}

type Option func(*Middleware)

// WithDisabled turns every check into a pass-through.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func New(limiter RateLimiter, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{limiter: limiter, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimit enforces the class budget per client IP. A limiter error lets the
// request through.
func (m *Middleware) RateLimit(class models.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			ip := metadata.GetClientIP(ctx)

			result, err := m.limiter.CheckIP(ctx, ip, class)
			if err != nil {
				m.logger.ErrorContext(ctx, "failed to check rate limit", "class", class, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			addRateLimitHeaders(w, result)
			if !result.Allowed {
				writeRateLimitExceeded(w, result, "Too many requests from this IP address. Please try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoginLockout refuses logins for a locked institute id and IP pair, counts
// 401 replies as failures and clears the count on success.
func (m *Middleware) LoginLockout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		ip := metadata.GetClientIP(ctx)
		instituteID := peekInstituteID(r)
		if instituteID == "" {
			next.ServeHTTP(w, r)
			return
		}

		result, err := m.limiter.CheckAuth(ctx, instituteID, ip)
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to check auth lockout", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if !result.Allowed {
			writeRateLimitExceeded(w, result, "Too many failed login attempts. Please try again later.")
			return
		}

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		switch status := ww.Status(); {
		case status == http.StatusUnauthorized:
			err = m.limiter.RecordAuthFailure(ctx, instituteID, ip)
		case status >= 200 && status < 300:
			err = m.limiter.ClearAuthFailures(ctx, instituteID, ip)
		}
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to update auth lockout", "institute_id", instituteID, "error", err)
		}
	})
}

// peekInstituteID reads instituteId from a JSON body and restores the body
// for the handler.
func peekInstituteID(r *http.Request) string {
	if r.Body == nil || r.ContentLength == 0 {
		return ""
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes))
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(raw), r.Body))
	if err != nil {
		return ""
	}
	var payload struct {
		InstituteID string `json:"instituteId"`
	}
	if json.Unmarshal(raw, &payload) != nil {
		return ""
	}
	return strings.TrimSpace(payload.InstituteID)
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.RateLimitResult, message string) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    message,
		RetryAfter: result.RetryAfter,
	})
}
