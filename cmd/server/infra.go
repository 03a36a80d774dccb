package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	anchoring "certledger/internal/anchoring/service"
	certstore "certledger/internal/certificate/store"
	identity "certledger/internal/identity/service"
	identitystore "certledger/internal/identity/store"
	"certledger/internal/ledger"
	ledgermemory "certledger/internal/ledger/memory"
	ledgerredis "certledger/internal/ledger/redis"
	"certledger/internal/platform/config"
	"certledger/internal/platform/kafka"
	kafkaconsumer "certledger/internal/platform/kafka/consumer"
	"certledger/internal/platform/postgres"
	redisclient "certledger/internal/platform/redis"
	ratelimitmetrics "certledger/internal/ratelimit/metrics"
	ratelimitmw "certledger/internal/ratelimit/middleware"
	ratelimitmodels "certledger/internal/ratelimit/models"
	ratelimit "certledger/internal/ratelimit/service"
	"certledger/internal/ratelimit/store/authlockout"
	"certledger/internal/ratelimit/store/bucket"
	"certledger/internal/saga"
	sagastore "certledger/internal/saga/store"
	httptransport "certledger/internal/transport/http"
	uniqueid "certledger/internal/uniqueid/service"
	uidstore "certledger/internal/uniqueid/store"
	"certledger/internal/verification"
	audit "certledger/pkg/platform/audit"
	auditconsumer "certledger/pkg/platform/audit/consumer"
	"certledger/pkg/platform/audit/publisher"
	auditmemory "certledger/pkg/platform/audit/store/memory"
	auditpostgres "certledger/pkg/platform/audit/store/postgres"
	"certledger/pkg/platform/circuit"
)

const (
	auditBufferSize        = 1024
	auditTopicPartitions   = 3
	auditTopicReplications = 1
)

type certificateStore interface {
	anchoring.CertificateStore
	verification.CertificateStore
}

type auditSink interface {
	audit.Store
	httptransport.AuditReader
}

// infra holds the backends selected by configuration.
type infra struct {
	institutes   identity.InstituteStore
	certificates certificateStore
	uniqueIDs    uniqueid.Store
	sagas        saga.Store
	tx           uniqueid.TxRunner
	ledger       *ledger.Guarded
	redis        *redisclient.Client
	rateLimit    *ratelimitmw.Middleware

	audit         *publisher.Publisher
	auditReader   httptransport.AuditReader
	auditConsumer *kafkaconsumer.Consumer
	auditHandler  kafkaconsumer.Handler

	readiness map[string]httptransport.ReadinessCheck
	closers   []func()
}

// Close releases resources in reverse order of acquisition.
func (i *infra) Close() {
	for idx := len(i.closers) - 1; idx >= 0; idx-- {
		i.closers[idx]()
	}
}

func buildInfra(ctx context.Context, cfg config.Server, log *slog.Logger) (_ *infra, err error) {
	in := &infra{readiness: map[string]httptransport.ReadinessCheck{}}
	defer func() {
		if err != nil {
			in.Close()
		}
	}()

	var db *sql.DB
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err = postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		in.closers = append(in.closers, func() { _ = db.Close() })
		if err = postgres.Migrate(ctx, db); err != nil {
			return nil, err
		}
		in.institutes = identitystore.NewPostgres(db)
		in.certificates = certstore.NewPostgres(db)
		in.uniqueIDs = uidstore.NewPostgres(db)
		in.sagas = sagastore.NewPostgres(db)
		in.tx = postgres.NewTxRunner(db)
		in.readiness["postgres"] = db.PingContext
	default:
		in.institutes = identitystore.NewInMemoryStore()
		in.certificates = certstore.NewInMemoryStore()
		in.uniqueIDs = uidstore.NewInMemoryStore()
		in.sagas = sagastore.NewInMemoryStore()
	}

	if in.redis, err = redisclient.New(ctx, cfg.Redis); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if in.redis != nil {
		rc := in.redis
		in.closers = append(in.closers, func() { _ = rc.Close() })
		in.readiness["redis"] = rc.Health
	}

	client := buildLedger(cfg, in)
	breaker := circuit.New("ledger",
		circuit.WithFailureThreshold(cfg.LedgerBreaker.FailureThreshold),
		circuit.WithSuccessThreshold(cfg.LedgerBreaker.SuccessThreshold),
		circuit.WithCooldown(cfg.LedgerBreaker.Cooldown),
	)
	in.ledger = ledger.NewGuarded(client, breaker, ledger.WithGuardLogger(log))
	in.readiness["ledger"] = func(context.Context) error {
		if !in.ledger.Available() {
			return ledger.ErrCircuitOpen
		}
		return nil
	}

	if err = buildAudit(ctx, cfg, log, db, in); err != nil {
		return nil, err
	}
	in.rateLimit = buildRateLimit(cfg, log, in)
	return in, nil
}

// buildLedger relies on config validation: the redis backend always has a client.
func buildLedger(cfg config.Server, in *infra) ledger.Client {
	if cfg.LedgerBackend == config.BackendRedis {
		return ledgerredis.New(in.redis.Client)
	}
	return ledgermemory.New(ledgermemory.WithFinalityDelay(cfg.MemoryLedgerFinalityDelay))
}

func buildRateLimit(cfg config.Server, log *slog.Logger, in *infra) *ratelimitmw.Middleware {
	var buckets ratelimit.BucketStore = bucket.NewInMemoryBucketStore()
	if in.redis != nil {
		buckets = bucket.NewRedisBucketStore(in.redis.Client, "certledger:ratelimit")
	}
	rl := cfg.RateLimit
	limiter := ratelimit.New(buckets, authlockout.NewInMemoryStore(),
		ratelimit.WithLogger(log),
		ratelimit.WithMetrics(ratelimitmetrics.New()),
		ratelimit.WithAuditPublisher(in.audit),
		ratelimit.WithLimit(ratelimitmodels.ClassAuth, ratelimitmodels.Limit{Requests: rl.AuthPerMinute, Window: time.Minute}),
		ratelimit.WithLimit(ratelimitmodels.ClassPublic, ratelimitmodels.Limit{Requests: rl.PublicPerMinute, Window: time.Minute}),
		ratelimit.WithLimit(ratelimitmodels.ClassWrite, ratelimitmodels.Limit{Requests: rl.WritePerMinute, Window: time.Minute}),
		ratelimit.WithLockoutPolicy(ratelimit.LockoutPolicy{
			MaxAttempts: rl.LockoutAttempts,
			Window:      rl.LockoutWindow,
			LockFor:     rl.LockoutDuration,
		}),
	)
	return ratelimitmw.New(limiter, log, ratelimitmw.WithDisabled(rl.Disabled))
}

// buildAudit picks the sink audit events land in. With Kafka configured the
// publisher produces to the audit topic and a consumer materializes the topic
// into the queryable store; otherwise the publisher writes the store directly.
func buildAudit(ctx context.Context, cfg config.Server, log *slog.Logger, db *sql.DB, in *infra) error {
	var store auditSink
	if db != nil {
		store = auditpostgres.New(db)
	} else {
		store = auditmemory.NewInMemoryStore()
	}
	in.auditReader = store

	var sink audit.Store = store
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, kafka.WithLogger(log))
		if err != nil {
			return err
		}
		in.closers = append(in.closers, producer.Close)
		in.readiness["kafka"] = producer.Ping
		if err := producer.EnsureTopic(ctx, auditTopicPartitions, auditTopicReplications); err != nil {
			return err
		}

		c, err := kafkaconsumer.New(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, []string{cfg.Kafka.AuditTopic},
			kafkaconsumer.WithLogger(log),
		)
		if err != nil {
			return err
		}
		in.closers = append(in.closers, c.Close)
		in.auditConsumer = c
		in.auditHandler = auditconsumer.NewMaterializer(store, log)
		sink = producer
	}

	in.audit = publisher.NewPublisher(sink,
		publisher.WithAsyncBuffer(auditBufferSize),
		publisher.WithLogger(log),
	)
	in.closers = append(in.closers, func() { _ = in.audit.Close() })
	return nil
}
