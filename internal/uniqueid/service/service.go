// Package service mints institute-owned unique identifiers. The ledger binding
// is confirmed before anything is persisted, so a failed mint leaves no trace
// in the store.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	identitymodels "certledger/internal/identity/models"
	"certledger/internal/ledger"
	"certledger/internal/saga"
	uidmetrics "certledger/internal/uniqueid/metrics"
	"certledger/internal/uniqueid/models"
	dErrors "certledger/pkg/domain-errors"
	audit "certledger/pkg/platform/audit"
	"certledger/pkg/platform/sentinel"
	"certledger/pkg/requestcontext"
)

const (
	defaultFinalityTimeout = 2 * time.Minute
	recoveryAwait          = 5 * time.Second
)

type Store interface {
	Insert(ctx context.Context, rec *models.UniqueIDRecord) error
	Get(ctx context.Context, uniqueID string) (*models.UniqueIDRecord, error)
	ListByInstitute(ctx context.Context, instituteID string) ([]*models.UniqueIDRecord, error)
}

type Ledger interface {
	SubmitBinding(ctx context.Context, uniqueID, instituteID string) (ledger.TxID, error)
	AwaitFinal(ctx context.Context, tx ledger.TxID, timeout time.Duration) (ledger.Receipt, error)
	QueryBinding(ctx context.Context, uniqueID string) (*ledger.IdentifierBinding, error)
}

type SagaLog interface {
	Begin(ctx context.Context, kind saga.Kind, instituteID, subject, hash string, first saga.Step) (*saga.Record, error)
	Mark(ctx context.Context, rec *saga.Record, step saga.Step, txID string)
	Complete(ctx context.Context, rec *saga.Record)
	Compensated(ctx context.Context, rec *saga.Record, cause error)
	RecordFailure(ctx context.Context, rec *saga.Record, cause error)
}

// TxRunner scopes the record insert and the saga completion to one unit of work.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type noTx struct{}

func (noTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type Service struct {
	store           Store
	ledger          Ledger
	sagas           SagaLog
	tx              TxRunner
	finalityTimeout time.Duration
	logger          *slog.Logger
	auditPublisher  AuditPublisher
	metrics         *uidmetrics.Metrics
	tracer          trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *uidmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTxRunner(tx TxRunner) Option {
	return func(s *Service) {
		if tx != nil {
			s.tx = tx
		}
	}
}

func WithFinalityTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.finalityTimeout = d
		}
	}
}

func New(store Store, ledgerClient Ledger, sagas SagaLog, opts ...Option) *Service {
	s := &Service{
		store:           store,
		ledger:          ledgerClient,
		sagas:           sagas,
		tx:              noTx{},
		finalityTimeout: defaultFinalityTimeout,
		logger:          slog.Default(),
		tracer:          otel.Tracer("certledger/uniqueid"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mint binds a fresh identifier to the caller's institute on the ledger and
// persists it once the binding is final.
func (s *Service) Mint(ctx context.Context, principal identitymodels.Principal) (*models.UniqueIDRecord, error) {
	ctx, span := s.tracer.Start(ctx, "uniqueid.Mint", trace.WithAttributes(
		attribute.String("institute_id", principal.InstituteID),
	))
	defer span.End()

	rec, err := s.mint(ctx, principal)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	return rec, err
}

func (s *Service) mint(ctx context.Context, principal identitymodels.Principal) (*models.UniqueIDRecord, error) {
	if principal.InstituteID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if a, ok := s.ledger.(interface{ Available() bool }); ok && !a.Available() {
		s.metrics.Mint("failed")
		return nil, dErrors.Wrap(ledger.ErrCircuitOpen, dErrors.CodeMintFailed, "ledger unavailable; no identifier was minted")
	}

	ctx = context.WithoutCancel(ctx)
	uniqueID := models.NewUniqueID()
	sagaRec, err := s.sagas.Begin(ctx, saga.KindMint, principal.InstituteID, uniqueID, "", saga.StepLedgerSubmit)
	if err != nil {
		return nil, err
	}

	tx, err := s.ledger.SubmitBinding(ctx, uniqueID, principal.InstituteID)
	if err != nil {
		return nil, s.mintFailed(ctx, sagaRec, err)
	}
	s.sagas.Mark(ctx, sagaRec, saga.StepLedgerAwait, tx.String())
	receipt, err := s.ledger.AwaitFinal(ctx, tx, s.finalityTimeout)
	if err == nil {
		err = receipt.Err()
	}
	if err != nil {
		return nil, s.mintFailed(ctx, sagaRec, err)
	}

	s.sagas.Mark(ctx, sagaRec, saga.StepStoreCommit, "")
	generatedAt := receipt.FinalizedAt
	if generatedAt.IsZero() {
		generatedAt = requestcontext.Now(ctx)
	}
	rec := models.NewRecord(uniqueID, principal.InstituteID, tx.String(), generatedAt)
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Insert(ctx, rec); err != nil {
			return err
		}
		s.sagas.Complete(ctx, sagaRec)
		return nil
	})
	if err != nil {
		if !sagaRec.State.IsTerminal() {
			s.sagas.RecordFailure(ctx, sagaRec, err)
		}
		s.logger.ErrorContext(ctx, "unique id bound on ledger but not persisted",
			"saga_id", sagaRec.ID,
			"institute_id", principal.InstituteID,
			"unique_id", uniqueID,
			"tx_id", tx,
			"error", err,
		)
		s.metrics.Mint("inconsistent")
		s.emit(ctx, audit.Event{
			InstituteID: principal.InstituteID,
			Subject:     uniqueID,
			Action:      string(audit.EventMintFailed),
			Reason:      "ledger binding without store record: " + err.Error(),
			Severity:    audit.SeverityCritical,
		})
		return nil, dErrors.Wrap(err, dErrors.CodeInconsistentState,
			"identifier "+uniqueID+" is bound on the ledger but was not stored; recovery will persist it")
	}

	s.metrics.Mint("minted")
	s.logger.InfoContext(ctx, "unique id minted",
		"institute_id", principal.InstituteID,
		"unique_id", uniqueID,
		"tx_id", tx,
	)
	s.emit(ctx, audit.Event{
		InstituteID: principal.InstituteID,
		Subject:     uniqueID,
		Action:      string(audit.EventUniqueIDMinted),
	})
	return rec, nil
}

// mintFailed ends a mint whose binding did not confirm. A binding that may
// still land keeps the saga in flight so recovery persists it.
func (s *Service) mintFailed(ctx context.Context, sagaRec *saga.Record, cause error) error {
	unsettled := ledger.OutcomeUnknown(cause)
	if unsettled {
		s.sagas.RecordFailure(ctx, sagaRec, cause)
	} else {
		s.sagas.Compensated(ctx, sagaRec, cause)
	}
	s.metrics.Mint("failed")
	s.logger.WarnContext(ctx, "unique id mint failed",
		"saga_id", sagaRec.ID,
		"institute_id", sagaRec.InstituteID,
		"unique_id", sagaRec.Subject,
		"timed_out", ledger.TimedOut(cause),
		"unsettled", unsettled,
		"error", cause,
	)
	s.emit(ctx, audit.Event{
		InstituteID: sagaRec.InstituteID,
		Subject:     sagaRec.Subject,
		Action:      string(audit.EventMintFailed),
		Reason:      cause.Error(),
		Severity:    audit.SeverityWarning,
	})
	return dErrors.Wrap(cause, dErrors.CodeMintFailed, "ledger binding failed; no identifier was minted")
}

// List returns the caller's identifiers, newest first.
func (s *Service) List(ctx context.Context, principal identitymodels.Principal) ([]*models.UniqueIDRecord, error) {
	if principal.InstituteID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	recs, err := s.store.ListByInstitute(ctx, principal.InstituteID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list unique ids")
	}
	return recs, nil
}

// Registrar is satisfied by *saga.Recoverer.
type Registrar interface {
	Register(kind saga.Kind, resolver saga.Resolver)
}

func (s *Service) RegisterResolvers(r Registrar) {
	r.Register(saga.KindMint, saga.ResolverFunc(s.ResolveMint))
}

// ResolveMint finishes an interrupted mint: a final binding is persisted,
// a missing one means nothing happened.
func (s *Service) ResolveMint(ctx context.Context, rec *saga.Record) (saga.State, error) {
	if rec.TxID != "" {
		receipt, err := s.ledger.AwaitFinal(ctx, ledger.TxID(rec.TxID), recoveryAwait)
		switch {
		case err == nil && receipt.Pending():
			return "", fmt.Errorf("mint transaction %s is not final yet", rec.TxID)
		case err != nil && !errors.Is(err, ledger.ErrUnknownTx):
			s.logger.WarnContext(ctx, "awaiting mint transaction during recovery", "saga_id", rec.ID, "error", err)
		}
	}
	binding, err := s.ledger.QueryBinding(ctx, rec.Subject)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.metrics.Mint("recovered")
		return saga.StateCompensated, nil
	}
	if err != nil {
		return "", err
	}
	if binding.InstituteID != rec.InstituteID {
		return saga.StateInconsistent, nil
	}

	if _, err := s.store.Get(ctx, rec.Subject); err == nil {
		return saga.StateCompleted, nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return "", err
	}
	stored := models.NewRecord(rec.Subject, rec.InstituteID, binding.TxID.String(), binding.BoundAt)
	if err := s.store.Insert(ctx, stored); err != nil && !errors.Is(err, sentinel.ErrConflict) {
		return "", err
	}
	s.metrics.Mint("recovered")
	return saga.StateCompleted, nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "action", event.Action, "error", err)
	}
}
