// Package service is the anchoring coordinator. It runs the issuance and
// revocation sagas across the certificate store and the ledger so that a
// record is never reported valid without a matching anchor, and it resolves
// sagas interrupted by a restart.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	anchoringmetrics "certledger/internal/anchoring/metrics"
	certmodels "certledger/internal/certificate/models"
	identitymodels "certledger/internal/identity/models"
	"certledger/internal/ledger"
	"certledger/internal/saga"
	dErrors "certledger/pkg/domain-errors"
	audit "certledger/pkg/platform/audit"
)

const defaultFinalityTimeout = 2 * time.Minute

type CertificateStore interface {
	Insert(ctx context.Context, record *certmodels.CertificateRecord) error
	Get(ctx context.Context, instituteID, identifier string) (*certmodels.CertificateRecord, error)
	FindByIdentifier(ctx context.Context, identifier string) ([]*certmodels.CertificateRecord, error)
	ListByInstitute(ctx context.Context, instituteID string) ([]*certmodels.CertificateRecord, error)
	Update(ctx context.Context, instituteID, identifier string, mutate func(*certmodels.CertificateRecord) error) (*certmodels.CertificateRecord, error)
	Delete(ctx context.Context, instituteID, identifier string) error
}

type Ledger interface {
	SubmitAnchor(ctx context.Context, hash string, meta ledger.AnchorMetadata) (ledger.TxID, error)
	SubmitRevoke(ctx context.Context, hash string) (ledger.TxID, error)
	AwaitFinal(ctx context.Context, tx ledger.TxID, timeout time.Duration) (ledger.Receipt, error)
	QueryAnchor(ctx context.Context, hash string) (*ledger.AnchorEntry, error)
}

// availability is implemented by ledger clients guarded by a circuit breaker.
type availability interface {
	Available() bool
}

type SagaLog interface {
	Begin(ctx context.Context, kind saga.Kind, instituteID, subject, hash string, first saga.Step) (*saga.Record, error)
	Mark(ctx context.Context, rec *saga.Record, step saga.Step, txID string)
	Complete(ctx context.Context, rec *saga.Record)
	Compensated(ctx context.Context, rec *saga.Record, cause error)
	Inconsistent(ctx context.Context, rec *saga.Record, cause error)
	RecordFailure(ctx context.Context, rec *saga.Record, cause error)
	ListInconsistent(ctx context.Context) ([]*saga.Record, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service coordinates certificate issuance and revocation.
type Service struct {
	certificates    CertificateStore
	ledger          Ledger
	sagas           SagaLog
	finalityTimeout time.Duration
	logger          *slog.Logger
	auditPublisher  AuditPublisher
	metrics         *anchoringmetrics.Metrics
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

func WithMetrics(m *anchoringmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithFinalityTimeout bounds how long a saga waits for ledger finality.
func WithFinalityTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.finalityTimeout = d
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

func New(certificates CertificateStore, ledgerClient Ledger, sagas SagaLog, opts ...Option) *Service {
	s := &Service{
		certificates:    certificates,
		ledger:          ledgerClient,
		sagas:           sagas,
		finalityTimeout: defaultFinalityTimeout,
		logger:          slog.Default(),
		tracer:          otel.Tracer("certledger/anchoring"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueResult is returned by a successful issuance.
type IssueResult struct {
	Identifier string      `json:"id"`
	Hash       string      `json:"hash"`
	CreatedAt  time.Time   `json:"createdAt"`
	TxID       ledger.TxID `json:"txId"`
}

// RevokeResult is returned by a successful or repeated revocation.
type RevokeResult struct {
	Identifier     string      `json:"id"`
	Hash           string      `json:"hash"`
	RevokedAt      time.Time   `json:"revokedAt"`
	TxID           ledger.TxID `json:"txId,omitempty"`
	AlreadyRevoked bool        `json:"alreadyRevoked"`
}

// ListMine returns the caller's certificates, newest first.
func (s *Service) ListMine(ctx context.Context, principal identitymodels.Principal) ([]*certmodels.CertificateRecord, error) {
	if principal.InstituteID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	recs, err := s.certificates.ListByInstitute(ctx, principal.InstituteID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list certificates")
	}
	return recs, nil
}

// ListInconsistent returns sagas parked for operator attention.
func (s *Service) ListInconsistent(ctx context.Context) ([]*saga.Record, error) {
	return s.sagas.ListInconsistent(ctx)
}

func (s *Service) ledgerAvailable() bool {
	if a, ok := s.ledger.(availability); ok {
		return a.Available()
	}
	return true
}

// await resolves a submitted transaction to nil on confirmation and to the
// failure otherwise.
func (s *Service) await(ctx context.Context, tx ledger.TxID) (ledger.Receipt, error) {
	receipt, err := s.ledger.AwaitFinal(ctx, tx, s.finalityTimeout)
	if err != nil {
		return receipt, err
	}
	return receipt, receipt.Err()
}

// inconsistent escalates a failed compensation.
func (s *Service) inconsistent(ctx context.Context, sagaRec *saga.Record, forwardOp, compensationOp string, forwardErr, compensationErr error) error {
	s.logger.ErrorContext(ctx, "saga compensation failed; store and ledger disagree",
		"saga_id", sagaRec.ID,
		"kind", sagaRec.Kind,
		"institute_id", sagaRec.InstituteID,
		"identifier", sagaRec.Subject,
		"hash", sagaRec.Hash,
		"forward_op", forwardOp,
		"compensation_op", compensationOp,
		"forward_error", forwardErr,
		"compensation_error", compensationErr,
	)
	joined := errors.Join(forwardErr, compensationErr)
	s.sagas.Inconsistent(ctx, sagaRec, joined)
	s.metrics.Inconsistent(string(sagaRec.Kind))
	s.emit(ctx, audit.Event{
		InstituteID: sagaRec.InstituteID,
		Subject:     sagaRec.Subject,
		Action:      string(audit.EventSagaInconsistent),
		Reason:      forwardOp + " failed and " + compensationOp + " failed",
		Severity:    audit.SeverityCritical,
	})
	return dErrors.Wrap(joined, dErrors.CodeInconsistentState,
		"compensation failed for saga "+sagaRec.ID+"; operator reconciliation required")
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "action", event.Action, "error", err)
	}
}

func spanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
}
