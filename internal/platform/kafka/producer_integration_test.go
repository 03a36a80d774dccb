//go:build integration

package kafka_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"certledger/internal/platform/kafka"
	"certledger/internal/platform/kafka/consumer"
	audit "certledger/pkg/platform/audit"
	"certledger/pkg/testutil/containers"
)

type KafkaAuditSuite struct {
	suite.Suite
	redpanda *containers.RedpandaContainer
}

func TestKafkaAuditSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaAuditSuite))
}

func (s *KafkaAuditSuite) SetupSuite() {
	s.redpanda = containers.GetManager().GetRedpanda(s.T())
}

type collector struct {
	mu   sync.Mutex
	msgs []*consumer.Message
}

func (c *collector) Handle(_ context.Context, msg *consumer.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func (s *KafkaAuditSuite) TestProduceAndConsume() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	topic := "audit-" + uuid.NewString()

	producer, err := kafka.NewProducer(s.redpanda.Brokers, topic, kafka.WithLogger(slog.Default()))
	s.Require().NoError(err)
	defer producer.Close()
	s.Require().NoError(producer.EnsureTopic(ctx, 1, 1))
	s.Require().NoError(producer.EnsureTopic(ctx, 1, 1), "existing topic is not an error")

	s.Require().NoError(producer.Append(ctx, audit.Event{
		ID:          uuid.NewString(),
		InstituteID: "I1",
		Subject:     "S100",
		Action:      string(audit.EventCertificateIssued),
		Category:    audit.CategoryCompliance,
	}))

	c, err := consumer.New(s.redpanda.Brokers, "test-"+uuid.NewString(), []string{topic})
	s.Require().NoError(err)
	defer c.Close()

	sink := &collector{}
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(runCtx, sink)
	}()

	s.Eventually(func() bool { return sink.len() == 1 }, 30*time.Second, 100*time.Millisecond)
	stop()
	<-done

	msg := sink.msgs[0]
	s.Equal("I1", string(msg.Key))
	s.Equal(string(audit.EventCertificateIssued), msg.Headers["action"])
}
