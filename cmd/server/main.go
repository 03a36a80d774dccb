package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	anchoringmetrics "certledger/internal/anchoring/metrics"
	anchoring "certledger/internal/anchoring/service"
	identity "certledger/internal/identity/service"
	"certledger/internal/identity/token"
	"certledger/internal/platform/config"
	"certledger/internal/platform/httpserver"
	"certledger/internal/platform/logger"
	"certledger/internal/platform/metrics"
	"certledger/internal/saga"
	httptransport "certledger/internal/transport/http"
	uidmetrics "certledger/internal/uniqueid/metrics"
	uniqueid "certledger/internal/uniqueid/service"
	"certledger/internal/verification"
)

// requestSlack is the time a request needs beyond ledger finality.
const requestSlack = 30 * time.Second

// requestBudget bounds both a single request and graceful shutdown, so a saga
// waiting on ledger finality finishes instead of being left for recovery.
func requestBudget(cfg config.Server) time.Duration {
	return cfg.FinalityTimeout + requestSlack
}

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Environment, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	infra, err := buildInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	sagaLog := saga.NewLog(infra.sagas, saga.WithLogger(log))

	identitySvc := identity.New(infra.institutes, token.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer),
		identity.WithLogger(log),
		identity.WithAuditPublisher(infra.audit),
		identity.WithSessionTTL(cfg.SessionTTL),
	)
	anchoringSvc := anchoring.New(infra.certificates, infra.ledger, sagaLog,
		anchoring.WithLogger(log),
		anchoring.WithAuditPublisher(infra.audit),
		anchoring.WithMetrics(anchoringmetrics.New()),
		anchoring.WithFinalityTimeout(cfg.FinalityTimeout),
	)
	verificationSvc := verification.New(infra.certificates, infra.ledger,
		verification.WithLogger(log),
		verification.WithAuditPublisher(infra.audit),
		verification.WithMetrics(verification.NewMetrics()),
	)
	uniqueIDSvc := uniqueid.New(infra.uniqueIDs, infra.ledger, sagaLog,
		uniqueid.WithLogger(log),
		uniqueid.WithAuditPublisher(infra.audit),
		uniqueid.WithMetrics(uidmetrics.New()),
		uniqueid.WithTxRunner(infra.tx),
		uniqueid.WithFinalityTimeout(cfg.FinalityTimeout),
	)

	recoverer := saga.NewRecoverer(sagaLog,
		saga.WithConcurrency(cfg.RecoveryConcurrency),
		saga.WithRecoveryLogger(log),
	)
	anchoringSvc.RegisterResolvers(recoverer)
	uniqueIDSvc.RegisterResolvers(recoverer)
	if _, err := recoverer.Recover(ctx); err != nil {
		return fmt.Errorf("recover in-flight sagas: %w", err)
	}

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Logger:       log,
		Metrics:      metrics.New(),
		Authorizer:   identitySvc,
		AdminToken:   cfg.AdminToken,
		RateLimit:    infra.rateLimit,
		Readiness:    infra.readiness,
		Institutes:   httptransport.NewInstituteHandler(identitySvc, log),
		Certificates: httptransport.NewCertificateHandler(anchoringSvc, log),
		Verification: httptransport.NewVerificationHandler(verificationSvc),
		UniqueIDs:    httptransport.NewUniqueIDHandler(uniqueIDSvc),
		Admin:        httptransport.NewAdminHandler(anchoringSvc, identitySvc, infra.auditReader, log),
	})
	// Issuance can block for the full finality timeout.
	srv := httpserver.New(cfg.Addr, router, requestBudget(cfg))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(gctx, "starting certledger", "addr", cfg.Addr,
			"store_backend", cfg.StoreBackend,
			"ledger_backend", cfg.LedgerBackend,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if infra.auditConsumer != nil {
		g.Go(func() error {
			return infra.auditConsumer.Run(gctx, infra.auditHandler)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), requestBudget(cfg))
		defer cancel()
		log.Info("shutting down; draining in-flight requests", "timeout", requestBudget(cfg))
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
