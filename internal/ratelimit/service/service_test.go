package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"certledger/internal/ratelimit/models"
	"certledger/internal/ratelimit/store/authlockout"
	"certledger/internal/ratelimit/store/bucket"
	audit "certledger/pkg/platform/audit"
	"certledger/pkg/platform/audit/publisher"
	auditmemory "certledger/pkg/platform/audit/store/memory"
	"certledger/pkg/requestcontext"
)

type RateLimitServiceSuite struct {
	suite.Suite
	ctx     context.Context
	now     time.Time
	audit   *auditmemory.InMemoryStore
	service *Service
}

func TestRateLimitServiceSuite(t *testing.T) {
	suite.Run(t, new(RateLimitServiceSuite))
}

func (s *RateLimitServiceSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.audit = auditmemory.NewInMemoryStore()
	s.service = New(bucket.NewInMemoryBucketStore(), authlockout.NewInMemoryStore(),
		WithLimit(models.ClassPublic, models.Limit{Requests: 2, Window: time.Minute}),
		WithLockoutPolicy(LockoutPolicy{MaxAttempts: 3, Window: 10 * time.Minute, LockFor: 5 * time.Minute}),
		WithAuditPublisher(publisher.NewPublisher(s.audit)),
	)
}

func (s *RateLimitServiceSuite) TestCheckIP() {
	for range 2 {
		res, err := s.service.CheckIP(s.ctx, "10.0.0.1", models.ClassPublic)
		s.Require().NoError(err)
		s.True(res.Allowed)
	}
	res, err := s.service.CheckIP(s.ctx, "10.0.0.1", models.ClassPublic)
	s.Require().NoError(err)
	s.False(res.Allowed)

	s.Run("classes have separate budgets", func() {
		res, err := s.service.CheckIP(s.ctx, "10.0.0.1", models.ClassWrite)
		s.Require().NoError(err)
		s.True(res.Allowed)
	})

	s.Run("unknown class is an error", func() {
		_, err := s.service.CheckIP(s.ctx, "10.0.0.1", models.EndpointClass("bulk"))
		s.Error(err)
	})
}

func (s *RateLimitServiceSuite) TestLoginLockout() {
	for range 3 {
		res, err := s.service.CheckAuth(s.ctx, "I1", "10.0.0.1")
		s.Require().NoError(err)
		s.True(res.Allowed)
		s.Require().NoError(s.service.RecordAuthFailure(s.ctx, "I1", "10.0.0.1"))
	}

	res, err := s.service.CheckAuth(s.ctx, "I1", "10.0.0.1")
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Equal(300, res.RetryAfter)

	events, err := s.audit.ListByInstitute(s.ctx, "I1")
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(string(audit.EventAuthLockout), events[0].Action)
	s.Equal(audit.CategorySecurity, events[0].Category)

	s.Run("another IP is not locked", func() {
		res, err := s.service.CheckAuth(s.ctx, "I1", "10.0.0.2")
		s.Require().NoError(err)
		s.True(res.Allowed)
	})

	s.Run("lock expires", func() {
		later := requestcontext.WithTime(context.Background(), s.now.Add(6*time.Minute))
		res, err := s.service.CheckAuth(later, "I1", "10.0.0.1")
		s.Require().NoError(err)
		s.True(res.Allowed)
	})
}

func (s *RateLimitServiceSuite) TestSuccessClearsFailures() {
	s.Require().NoError(s.service.RecordAuthFailure(s.ctx, "I1", "10.0.0.1"))
	s.Require().NoError(s.service.RecordAuthFailure(s.ctx, "I1", "10.0.0.1"))
	s.Require().NoError(s.service.ClearAuthFailures(s.ctx, "I1", "10.0.0.1"))
	s.Require().NoError(s.service.RecordAuthFailure(s.ctx, "I1", "10.0.0.1"))

	res, err := s.service.CheckAuth(s.ctx, "I1", "10.0.0.1")
	s.Require().NoError(err)
	s.True(res.Allowed)
}
