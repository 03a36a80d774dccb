package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	certmodels "certledger/internal/certificate/models"
	identitymodels "certledger/internal/identity/models"
	"certledger/internal/ledger"
	"certledger/internal/saga"
	dErrors "certledger/pkg/domain-errors"
	audit "certledger/pkg/platform/audit"
	"certledger/pkg/platform/sentinel"
	"certledger/pkg/requestcontext"
)

// errRevokedConcurrently aborts the revocation update when another request
// revoked the record first.
var errRevokedConcurrently = errors.New("certificate revoked concurrently")

// Revoke flips the caller's certificate to revoked and invalidates its anchor.
// Revoking an already revoked certificate succeeds without touching the ledger.
func (s *Service) Revoke(ctx context.Context, identifier string, principal identitymodels.Principal) (*RevokeResult, error) {
	ctx, span := s.tracer.Start(ctx, "anchoring.Revoke", trace.WithAttributes(
		attribute.String("institute_id", principal.InstituteID),
		attribute.String("identifier", identifier),
	))
	defer span.End()

	result, err := s.revoke(ctx, strings.TrimSpace(identifier), principal)
	spanError(span, err)
	return result, err
}

func (s *Service) revoke(ctx context.Context, identifier string, principal identitymodels.Principal) (*RevokeResult, error) {
	if principal.InstituteID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if identifier == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "certificate id is required")
	}

	rec, err := s.ownedCertificate(ctx, identifier, principal.InstituteID)
	if err != nil {
		s.metrics.RevocationOutcome("rejected")
		return nil, err
	}
	if rec.IsRevoked() {
		s.metrics.RevocationOutcome("already_revoked")
		return alreadyRevoked(rec), nil
	}
	if rec.IsPending() {
		s.metrics.RevocationOutcome("rejected")
		return nil, dErrors.New(dErrors.CodeConflict, "certificate issuance is still in progress")
	}
	if !s.ledgerAvailable() {
		s.metrics.RevocationOutcome("rejected")
		return nil, dErrors.Wrap(ledger.ErrCircuitOpen, dErrors.CodeRevocationFailed, "ledger unavailable; certificate was not revoked")
	}

	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	defer s.metrics.ObserveSaga(string(saga.KindRevocation), start)

	sagaRec, err := s.sagas.Begin(ctx, saga.KindRevocation, rec.InstituteID, rec.Identifier, rec.Hash, saga.StepStoreUpdate)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	revoked, err := s.certificates.Update(ctx, rec.InstituteID, rec.Identifier, func(c *certmodels.CertificateRecord) error {
		if c.IsRevoked() {
			return errRevokedConcurrently
		}
		if err := c.CanRevoke(); err != nil {
			return err
		}
		c.ApplyRevocation(now)
		return nil
	})
	if err != nil {
		s.sagas.Compensated(ctx, sagaRec, err)
		return s.revocationUpdateFailed(ctx, rec, err)
	}

	s.sagas.Mark(ctx, sagaRec, saga.StepLedgerSubmit, "")
	tx, err := s.ledger.SubmitRevoke(ctx, rec.Hash)
	if err != nil {
		return nil, s.compensateRevocation(ctx, sagaRec, rec, err)
	}
	s.sagas.Mark(ctx, sagaRec, saga.StepLedgerAwait, tx.String())
	receipt, err := s.await(ctx, tx)
	if err != nil && !ledgerAlreadyRevoked(receipt) {
		return nil, s.compensateRevocation(ctx, sagaRec, rec, err)
	}

	s.sagas.Complete(ctx, sagaRec)
	s.metrics.RevocationOutcome("completed")
	s.logger.InfoContext(ctx, "certificate revoked",
		"institute_id", rec.InstituteID,
		"identifier", rec.Identifier,
		"hash", rec.Hash,
		"tx_id", tx,
	)
	s.emit(ctx, audit.Event{
		InstituteID: rec.InstituteID,
		Subject:     rec.Identifier,
		Action:      string(audit.EventCertificateRevoked),
	})
	return &RevokeResult{
		Identifier: revoked.Identifier,
		Hash:       revoked.Hash,
		RevokedAt:  *revoked.RevokedAt,
		TxID:       tx,
	}, nil
}

// ownedCertificate resolves identifier to the caller's record. Identifiers are
// unique per institute, so the same identifier may exist under others.
func (s *Service) ownedCertificate(ctx context.Context, identifier, instituteID string) (*certmodels.CertificateRecord, error) {
	recs, err := s.certificates.FindByIdentifier(ctx, identifier)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificate")
	}
	if len(recs) == 0 {
		return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
	}
	for _, rec := range recs {
		if rec.InstituteID == instituteID {
			return rec, nil
		}
	}
	return nil, dErrors.New(dErrors.CodeForbidden, "certificate belongs to another institute")
}

func (s *Service) revocationUpdateFailed(ctx context.Context, rec *certmodels.CertificateRecord, err error) (*RevokeResult, error) {
	switch {
	case errors.Is(err, errRevokedConcurrently):
		current, getErr := s.certificates.Get(ctx, rec.InstituteID, rec.Identifier)
		if getErr != nil {
			return nil, dErrors.Wrap(getErr, dErrors.CodeInternal, "failed to load certificate")
		}
		s.metrics.RevocationOutcome("already_revoked")
		return alreadyRevoked(current), nil
	case errors.Is(err, sentinel.ErrNotFound):
		s.metrics.RevocationOutcome("rejected")
		return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
	case dErrors.HasCode(err, dErrors.CodeInvariantViolation):
		s.metrics.RevocationOutcome("rejected")
		return nil, dErrors.New(dErrors.CodeConflict, "certificate issuance is still in progress")
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke certificate")
	}
}

func (s *Service) compensateRevocation(ctx context.Context, sagaRec *saga.Record, rec *certmodels.CertificateRecord, cause error) error {
	s.sagas.Mark(ctx, sagaRec, saga.StepCompensate, "")
	_, err := s.certificates.Update(ctx, rec.InstituteID, rec.Identifier, func(c *certmodels.CertificateRecord) error {
		return c.RevertRevocation()
	})
	if err != nil {
		s.metrics.RevocationOutcome("inconsistent")
		return s.inconsistent(ctx, sagaRec, "revoke", "revert_revocation", cause, err)
	}

	// A revoke that may still land keeps the saga in flight so recovery
	// re-applies the revocation once the ledger shows it.
	unsettled := ledger.OutcomeUnknown(cause)
	if unsettled {
		s.sagas.RecordFailure(ctx, sagaRec, cause)
		s.metrics.RevocationOutcome("unsettled")
	} else {
		s.sagas.Compensated(ctx, sagaRec, cause)
		s.metrics.RevocationOutcome("compensated")
	}
	s.logger.WarnContext(ctx, "ledger revocation failed; certificate restored to active",
		"saga_id", sagaRec.ID,
		"institute_id", rec.InstituteID,
		"identifier", rec.Identifier,
		"hash", rec.Hash,
		"timed_out", ledger.TimedOut(cause),
		"unsettled", unsettled,
		"error", cause,
	)
	s.emit(ctx, audit.Event{
		InstituteID: rec.InstituteID,
		Subject:     rec.Identifier,
		Action:      string(audit.EventRevocationFailed),
		Reason:      cause.Error(),
		Severity:    audit.SeverityWarning,
	})
	return dErrors.Wrap(cause, dErrors.CodeRevocationFailed, "ledger revocation failed; certificate remains active")
}

// ledgerAlreadyRevoked reports a revoke rejected because the anchor is already
// invalid, which is the state the saga was driving towards.
func ledgerAlreadyRevoked(receipt ledger.Receipt) bool {
	return receipt.Status == ledger.TxFailed && receipt.Reason == ledger.ErrAlreadyRevoked.Error()
}

func alreadyRevoked(rec *certmodels.CertificateRecord) *RevokeResult {
	res := &RevokeResult{
		Identifier:     rec.Identifier,
		Hash:           rec.Hash,
		AlreadyRevoked: true,
	}
	if rec.RevokedAt != nil {
		res.RevokedAt = *rec.RevokedAt
	}
	return res
}
