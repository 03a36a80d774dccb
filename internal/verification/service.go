// Package verification answers whether a certificate is genuine and current.
// A valid verdict requires the record store and the ledger to agree
// independently; every disagreement is classified and surfaced.
package verification

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	certmodels "certledger/internal/certificate/models"
	"certledger/internal/ledger"
	"certledger/pkg/anchorhash"
	dErrors "certledger/pkg/domain-errors"
	audit "certledger/pkg/platform/audit"
	"certledger/pkg/platform/sentinel"
)

type CertificateStore interface {
	FindByHash(ctx context.Context, hash string) (*certmodels.CertificateRecord, error)
}

type Ledger interface {
	QueryAnchor(ctx context.Context, hash string) (*ledger.AnchorEntry, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	certificates   CertificateStore
	ledger         Ledger
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *Metrics
	tracer         trace.Tracer
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

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(certificates CertificateStore, ledgerClient Ledger, opts ...Option) *Service {
	s := &Service{
		certificates: certificates,
		ledger:       ledgerClient,
		logger:       slog.Default(),
		tracer:       otel.Tracer("certledger/verification"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify reconciles the record stored for (identifier, publicKey) with its
// ledger anchor. A ledger that cannot be read yields an error, never a verdict.
func (s *Service) Verify(ctx context.Context, identifier, publicKey string) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "verification.Verify")
	defer span.End()

	identifier = strings.TrimSpace(identifier)
	publicKey = strings.TrimSpace(publicKey)
	if identifier == "" || publicKey == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "id and publicKey are required")
	}

	res, err := s.verify(ctx, identifier, publicKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "verification failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("verdict", string(res.Verdict)),
		attribute.String("reason", string(res.Reason)),
	)
	s.metrics.observe(res)
	s.report(ctx, identifier, res)
	return res, nil
}

func (s *Service) verify(ctx context.Context, identifier, publicKey string) (*Result, error) {
	hash := anchorhash.Compute(identifier, publicKey)
	rec, err := s.certificates.FindByHash(ctx, hash)
	if errors.Is(err, sentinel.ErrNotFound) {
		return notFound(), nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificate")
	}
	if rec.Identifier != identifier || rec.PublicKey != publicKey {
		return notFound(), nil
	}

	switch {
	case rec.IsRevoked():
		return invalid(rec, ReasonRevoked), nil
	case rec.IsPending():
		return &Result{Verdict: VerdictPending, Reason: ReasonAnchorPending, Hash: rec.Hash}, nil
	}

	entry, err := s.ledger.QueryAnchor(ctx, hash)
	if errors.Is(err, sentinel.ErrNotFound) {
		return invalid(rec, ReasonNotAnchored), nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "ledger unavailable; cannot verify")
	}

	switch {
	case !entry.Valid:
		return invalid(rec, ReasonLedgerRevoked), nil
	case entry.InstituteID != rec.InstituteID:
		return invalid(rec, ReasonIssuerMismatch), nil
	}

	anchoredAt := entry.AnchoredAt
	return &Result{
		Verdict:       VerdictValid,
		Hash:          hash,
		Certificate:   rec,
		Authoritative: true,
		IssuerName:    entry.InstituteName,
		AnchoredAt:    &anchoredAt,
		TxID:          entry.TxID,
	}, nil
}

func (s *Service) report(ctx context.Context, identifier string, res *Result) {
	if !res.Reason.TamperSignal() {
		if res.Valid() {
			s.emit(ctx, audit.Event{
				InstituteID: res.Certificate.InstituteID,
				Subject:     identifier,
				Action:      string(audit.EventCertificateVerified),
			})
		}
		return
	}
	s.logger.WarnContext(ctx, "store and ledger disagree on certificate",
		"identifier", identifier,
		"institute_id", res.Certificate.InstituteID,
		"hash", res.Hash,
		"reason", res.Reason,
	)
	s.emit(ctx, audit.Event{
		InstituteID: res.Certificate.InstituteID,
		Subject:     identifier,
		Action:      string(audit.EventVerificationTamper),
		Reason:      string(res.Reason),
		Severity:    audit.SeverityWarning,
	})
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "action", event.Action, "error", err)
	}
}
