//go:build integration

package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"certledger/internal/ledger"
	redisledger "certledger/internal/ledger/redis"
	"certledger/pkg/platform/sentinel"
	"certledger/pkg/testutil/containers"
)

type RedisLedgerSuite struct {
	suite.Suite
	redis  *containers.RedisContainer
	ledger *redisledger.Ledger
	ctx    context.Context
}

func TestRedisLedgerSuite(t *testing.T) {
	suite.Run(t, new(RedisLedgerSuite))
}

func (s *RedisLedgerSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.ctx = context.Background()
}

func (s *RedisLedgerSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
	s.ledger = redisledger.New(s.redis.Client, redisledger.WithKeyPrefix("test-"+uuid.NewString()))
}

func (s *RedisLedgerSuite) await(tx ledger.TxID) ledger.Receipt {
	receipt, err := s.ledger.AwaitFinal(s.ctx, tx, time.Second)
	s.Require().NoError(err)
	return receipt
}

func (s *RedisLedgerSuite) TestAnchorAndRevoke() {
	tx, err := s.ledger.SubmitAnchor(s.ctx, "h1", ledger.AnchorMetadata{InstituteID: "I1", InstituteName: "One"})
	s.Require().NoError(err)
	s.True(s.await(tx).Confirmed())

	entry, err := s.ledger.QueryAnchor(s.ctx, "h1")
	s.Require().NoError(err)
	s.True(entry.Valid)
	s.Equal("I1", entry.InstituteID)
	s.Equal("One", entry.InstituteName)
	s.Equal(tx, entry.TxID)

	s.Run("duplicate anchor fails", func() {
		dup, err := s.ledger.SubmitAnchor(s.ctx, "h1", ledger.AnchorMetadata{InstituteID: "I2"})
		s.Require().NoError(err)
		receipt := s.await(dup)
		s.Equal(ledger.TxFailed, receipt.Status)
		s.Equal(ledger.ErrAlreadyAnchored.Error(), receipt.Reason)
	})

	s.Run("revoke is one-way", func() {
		rtx, err := s.ledger.SubmitRevoke(s.ctx, "h1")
		s.Require().NoError(err)
		s.True(s.await(rtx).Confirmed())

		entry, err := s.ledger.QueryAnchor(s.ctx, "h1")
		s.Require().NoError(err)
		s.False(entry.Valid)

		again, err := s.ledger.SubmitRevoke(s.ctx, "h1")
		s.Require().NoError(err)
		s.Equal(ledger.ErrAlreadyRevoked.Error(), s.await(again).Reason)
	})

	n, err := s.ledger.LogLength(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(4), n)
}

func (s *RedisLedgerSuite) TestBinding() {
	tx, err := s.ledger.SubmitBinding(s.ctx, "UID-1", "I1")
	s.Require().NoError(err)
	s.True(s.await(tx).Confirmed())

	b, err := s.ledger.QueryBinding(s.ctx, "UID-1")
	s.Require().NoError(err)
	s.Equal("I1", b.InstituteID)

	dup, err := s.ledger.SubmitBinding(s.ctx, "UID-1", "I1")
	s.Require().NoError(err)
	s.Equal(ledger.TxFailed, s.await(dup).Status)
}

func (s *RedisLedgerSuite) TestMissing() {
	_, err := s.ledger.QueryAnchor(s.ctx, "nope")
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.ledger.AwaitFinal(s.ctx, "0xunknown", 100*time.Millisecond)
	s.ErrorIs(err, ledger.ErrUnknownTx)
}
