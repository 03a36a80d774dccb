//go:build integration

package bucket

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"certledger/internal/ratelimit/models"
	"certledger/pkg/testutil/containers"
)

type RedisBucketSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *RedisBucketStore
	ctx   context.Context
}

func TestRedisBucketSuite(t *testing.T) {
	suite.Run(t, new(RedisBucketSuite))
}

func (s *RedisBucketSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.ctx = context.Background()
}

func (s *RedisBucketSuite) SetupTest() {
	s.store = NewRedisBucketStore(s.redis.Client, "test-"+uuid.NewString())
}

func (s *RedisBucketSuite) TestWindowIsEnforced() {
	limit := models.Limit{Requests: 3, Window: time.Minute}
	for i := range 3 {
		res, err := s.store.Allow(s.ctx, "ip:public:10.0.0.1", limit)
		s.Require().NoError(err)
		s.True(res.Allowed)
		s.Equal(2-i, res.Remaining)
	}

	res, err := s.store.Allow(s.ctx, "ip:public:10.0.0.1", limit)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Positive(res.RetryAfter)

	s.Run("reset reopens the window", func() {
		s.Require().NoError(s.store.Reset(s.ctx, "ip:public:10.0.0.1"))
		res, err := s.store.Allow(s.ctx, "ip:public:10.0.0.1", limit)
		s.Require().NoError(err)
		s.True(res.Allowed)
	})
}

func (s *RedisBucketSuite) TestExpiredEntriesLeaveTheWindow() {
	limit := models.Limit{Requests: 1, Window: 200 * time.Millisecond}
	res, err := s.store.Allow(s.ctx, "k", limit)
	s.Require().NoError(err)
	s.True(res.Allowed)

	time.Sleep(300 * time.Millisecond)
	res, err = s.store.Allow(s.ctx, "k", limit)
	s.Require().NoError(err)
	s.True(res.Allowed)
}
