package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certledger/internal/ratelimit/models"
	"certledger/internal/ratelimit/service"
	"certledger/internal/ratelimit/store/authlockout"
	"certledger/internal/ratelimit/store/bucket"
	"certledger/pkg/platform/middleware/metadata"
)

func newMiddleware(opts ...Option) *Middleware {
	limiter := service.New(bucket.NewInMemoryBucketStore(), authlockout.NewInMemoryStore(),
		service.WithLimit(models.ClassPublic, models.Limit{Requests: 1, Window: time.Minute}),
		service.WithLockoutPolicy(service.LockoutPolicy{MaxAttempts: 2, Window: time.Minute, LockFor: time.Minute}),
	)
	return New(limiter, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func TestRateLimit(t *testing.T) {
	handler := metadata.ClientMetadata(newMiddleware().RateLimit(models.ClassPublic)(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }),
	))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/verify", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	second := send()
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Contains(t, second.Body.String(), "rate_limit_exceeded")
}

func TestRateLimitDisabled(t *testing.T) {
	handler := newMiddleware(WithDisabled(true)).RateLimit(models.ClassPublic)(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }),
	)
	for range 3 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/verify", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestLoginLockout(t *testing.T) {
	status := http.StatusUnauthorized
	var seenBody string
	handler := metadata.ClientMetadata(newMiddleware().LoginLockout(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, _ := io.ReadAll(r.Body)
			seenBody = string(raw)
			w.WriteHeader(status)
		}),
	))

	login := func() int {
		body := `{"instituteId":"I1","password":"wrong-password"}`
		req := httptest.NewRequest(http.MethodPost, "/institutes/login", bytes.NewBufferString(body))
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusUnauthorized, login())
	assert.Contains(t, seenBody, `"instituteId":"I1"`, "handler still sees the body")
	require.Equal(t, http.StatusUnauthorized, login())

	status = http.StatusOK
	assert.Equal(t, http.StatusTooManyRequests, login(), "locked even with the right password")
}

func TestLoginSuccessResetsFailures(t *testing.T) {
	status := http.StatusUnauthorized
	handler := metadata.ClientMetadata(newMiddleware().LoginLockout(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(status) }),
	))
	login := func() int {
		req := httptest.NewRequest(http.MethodPost, "/institutes/login", bytes.NewBufferString(`{"instituteId":"I1"}`))
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	login()
	status = http.StatusOK
	require.Equal(t, http.StatusOK, login())
	status = http.StatusUnauthorized
	assert.Equal(t, http.StatusUnauthorized, login(), "one failure after success does not lock")
}
