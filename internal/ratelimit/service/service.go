// Package service decides whether a request fits its class budget and tracks
// failed institute logins.
package service

import (
	"context"
	"log/slog"
	"time"

	"certledger/internal/ratelimit/metrics"
	"certledger/internal/ratelimit/models"
	dErrors "certledger/pkg/domain-errors"
	audit "certledger/pkg/platform/audit"
	"certledger/pkg/requestcontext"
)

type BucketStore interface {
	Allow(ctx context.Context, key string, limit models.Limit) (*models.RateLimitResult, error)
	Reset(ctx context.Context, key string) error
}

type LockoutStore interface {
	Get(ctx context.Context, key string) (*models.AuthLockout, error)
	Update(ctx context.Context, key string, mutate func(*models.AuthLockout)) (*models.AuthLockout, error)
	Clear(ctx context.Context, key string) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// LockoutPolicy bounds failed logins per institute id and IP.
type LockoutPolicy struct {
	MaxAttempts int
	Window      time.Duration
	LockFor     time.Duration
}

func DefaultLimits() map[models.EndpointClass]models.Limit {
	return map[models.EndpointClass]models.Limit{
		models.ClassAuth:   {Requests: 10, Window: time.Minute},
		models.ClassPublic: {Requests: 120, Window: time.Minute},
		models.ClassWrite:  {Requests: 30, Window: time.Minute},
	}
}

func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{MaxAttempts: 5, Window: 15 * time.Minute, LockFor: 15 * time.Minute}
}

type Service struct {
	buckets        BucketStore
	lockouts       LockoutStore
	limits         map[models.EndpointClass]models.Limit
	lockout        LockoutPolicy
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

// WithLimit overrides one class budget. Non-positive values keep the default.
func WithLimit(class models.EndpointClass, limit models.Limit) Option {
	return func(s *Service) {
		if limit.Requests > 0 && limit.Window > 0 {
			s.limits[class] = limit
		}
	}
}

func WithLockoutPolicy(p LockoutPolicy) Option {
	return func(s *Service) {
		if p.MaxAttempts > 0 && p.Window > 0 && p.LockFor > 0 {
			s.lockout = p
		}
	}
}

func New(buckets BucketStore, lockouts LockoutStore, opts ...Option) *Service {
	s := &Service{
		buckets:  buckets,
		lockouts: lockouts,
		limits:   DefaultLimits(),
		lockout:  DefaultLockoutPolicy(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckIP counts one request from ip against the class budget.
func (s *Service) CheckIP(ctx context.Context, ip string, class models.EndpointClass) (*models.RateLimitResult, error) {
	limit, ok := s.limits[class]
	if !ok {
		return nil, dErrors.New(dErrors.CodeInternal, "unknown endpoint class "+string(class))
	}
	res, err := s.buckets.Allow(ctx, models.IPKey(class, ip), limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check rate limit")
	}
	if !res.Allowed {
		s.metrics.Rejected(string(class))
	}
	return res, nil
}

// CheckAuth reports whether instituteID may attempt a login from ip.
func (s *Service) CheckAuth(ctx context.Context, instituteID, ip string) (*models.RateLimitResult, error) {
	rec, err := s.lockouts.Get(ctx, models.AuthLockoutKey(instituteID, ip))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load auth lockout")
	}
	now := requestcontext.Now(ctx)
	if rec == nil || !rec.IsLockedAt(now) {
		return &models.RateLimitResult{Allowed: true, Limit: s.lockout.MaxAttempts}, nil
	}
	secs := max(int(rec.LockedUntil.Sub(now).Seconds()), 1)
	return &models.RateLimitResult{
		Allowed:    false,
		Limit:      s.lockout.MaxAttempts,
		ResetAt:    *rec.LockedUntil,
		RetryAfter: secs,
	}, nil
}

// RecordAuthFailure counts a failed login and locks the pair once the policy
// is exhausted.
func (s *Service) RecordAuthFailure(ctx context.Context, instituteID, ip string) error {
	now := requestcontext.Now(ctx)
	var locked bool
	rec, err := s.lockouts.Update(ctx, models.AuthLockoutKey(instituteID, ip), func(l *models.AuthLockout) {
		locked = l.ApplyFailure(now, s.lockout.MaxAttempts, s.lockout.Window, s.lockout.LockFor)
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record auth failure")
	}
	s.metrics.AuthFailure(locked)
	if locked {
		s.logger.WarnContext(ctx, "institute login locked",
			"institute_id", instituteID,
			"failure_count", rec.FailureCount,
			"locked_until", rec.LockedUntil,
		)
		s.emit(ctx, audit.Event{
			InstituteID: instituteID,
			Subject:     instituteID,
			Action:      string(audit.EventAuthLockout),
			Severity:    audit.SeverityWarning,
		})
	}
	return nil
}

// ClearAuthFailures forgets failures after a successful login.
func (s *Service) ClearAuthFailures(ctx context.Context, instituteID, ip string) error {
	if err := s.lockouts.Clear(ctx, models.AuthLockoutKey(instituteID, ip)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear auth lockout")
	}
	return nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "action", event.Action, "error", err)
	}
}
