package service

import (
	"context"
	"errors"
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

// Issue stores a pending certificate, anchors its hash and promotes the record
// once the anchor is final. On any ledger failure the pending record is
// removed, so a rejected issuance can be resubmitted unchanged.
func (s *Service) Issue(ctx context.Context, draft certmodels.Draft, principal identitymodels.Principal) (*IssueResult, error) {
	ctx, span := s.tracer.Start(ctx, "anchoring.Issue")
	defer span.End()

	result, err := s.issue(ctx, draft, principal)
	spanError(span, err)
	return result, err
}

func (s *Service) issue(ctx context.Context, draft certmodels.Draft, principal identitymodels.Principal) (*IssueResult, error) {
	if principal.InstituteID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	now := requestcontext.Now(ctx)
	rec, err := certmodels.NewCertificate(draft, now)
	if err != nil {
		s.metrics.IssuanceOutcome("rejected")
		return nil, err
	}
	trace.SpanFromContext(ctx).SetAttributes(issueAttrs(rec)...)
	if rec.InstituteID != principal.InstituteID {
		s.metrics.IssuanceOutcome("rejected")
		return nil, dErrors.New(dErrors.CodeForbidden, "cannot issue certificates for another institute")
	}
	if !s.ledgerAvailable() {
		s.metrics.IssuanceOutcome("rejected")
		return nil, dErrors.Wrap(ledger.ErrCircuitOpen, dErrors.CodeAnchoringFailed, "ledger unavailable; certificate was not issued")
	}

	// The saga must run to a terminal state even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	defer s.metrics.ObserveSaga(string(saga.KindIssuance), start)

	sagaRec, err := s.sagas.Begin(ctx, saga.KindIssuance, rec.InstituteID, rec.Identifier, rec.Hash, saga.StepStoreInsert)
	if err != nil {
		return nil, err
	}

	if err := s.certificates.Insert(ctx, rec); err != nil {
		s.sagas.Compensated(ctx, sagaRec, err)
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.IssuanceOutcome("conflict")
			return nil, dErrors.New(dErrors.CodeConflict, "certificate already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store certificate")
	}

	s.sagas.Mark(ctx, sagaRec, saga.StepLedgerSubmit, "")
	tx, err := s.ledger.SubmitAnchor(ctx, rec.Hash, ledger.AnchorMetadata{
		InstituteID:   principal.InstituteID,
		InstituteName: principal.InstituteName,
	})
	if err != nil {
		return nil, s.compensateIssuance(ctx, sagaRec, rec, err)
	}

	s.sagas.Mark(ctx, sagaRec, saga.StepLedgerAwait, tx.String())
	receipt, err := s.await(ctx, tx)
	if err != nil {
		adopted, ok := s.adoptAnchor(ctx, rec, receipt)
		if !ok {
			return nil, s.compensateIssuance(ctx, sagaRec, rec, err)
		}
		tx = adopted
	}

	s.sagas.Mark(ctx, sagaRec, saga.StepStoreCommit, tx.String())
	_, err = s.certificates.Update(ctx, rec.InstituteID, rec.Identifier, func(c *certmodels.CertificateRecord) error {
		if err := c.CanActivate(); err != nil {
			return err
		}
		c.ApplyActivation()
		return nil
	})
	if err != nil {
		// The anchor is final. Leave the saga in flight so recovery promotes
		// the record; until then it verifies as pending.
		s.logger.ErrorContext(ctx, "certificate anchored but activation failed",
			"saga_id", sagaRec.ID,
			"institute_id", rec.InstituteID,
			"identifier", rec.Identifier,
			"hash", rec.Hash,
			"tx_id", tx,
			"error", err,
		)
		s.metrics.IssuanceOutcome("activation_pending")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "certificate anchored but activation is pending recovery")
	}

	s.sagas.Complete(ctx, sagaRec)
	s.metrics.IssuanceOutcome("completed")
	s.logger.InfoContext(ctx, "certificate issued",
		"institute_id", rec.InstituteID,
		"identifier", rec.Identifier,
		"hash", rec.Hash,
		"tx_id", tx,
	)
	s.emit(ctx, audit.Event{
		InstituteID: rec.InstituteID,
		Subject:     rec.Identifier,
		Action:      string(audit.EventCertificateIssued),
	})
	return &IssueResult{
		Identifier: rec.Identifier,
		Hash:       rec.Hash,
		CreatedAt:  rec.CreatedAt,
		TxID:       tx,
	}, nil
}

// adoptAnchor accepts an "already anchored" rejection when the existing anchor
// is valid and belongs to the same institute. That happens when an earlier
// attempt timed out, was rolled back, and its transaction landed afterwards.
func (s *Service) adoptAnchor(ctx context.Context, rec *certmodels.CertificateRecord, receipt ledger.Receipt) (ledger.TxID, bool) {
	if receipt.Status != ledger.TxFailed || receipt.Reason != ledger.ErrAlreadyAnchored.Error() {
		return "", false
	}
	entry, err := s.ledger.QueryAnchor(ctx, rec.Hash)
	if err != nil || !entry.Valid || entry.InstituteID != rec.InstituteID {
		return "", false
	}
	s.logger.WarnContext(ctx, "adopting existing anchor from an earlier attempt",
		"institute_id", rec.InstituteID,
		"identifier", rec.Identifier,
		"hash", rec.Hash,
		"tx_id", entry.TxID,
	)
	return entry.TxID, true
}

// compensateIssuance removes the pending record. When the ledger outcome is
// unknown the saga stays in flight: the transaction may still land, and
// recovery flags an anchor that outlived its record.
func (s *Service) compensateIssuance(ctx context.Context, sagaRec *saga.Record, rec *certmodels.CertificateRecord, cause error) error {
	s.sagas.Mark(ctx, sagaRec, saga.StepCompensate, "")
	if err := s.certificates.Delete(ctx, rec.InstituteID, rec.Identifier); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		s.metrics.IssuanceOutcome("inconsistent")
		return s.inconsistent(ctx, sagaRec, "anchor", "delete_pending_record", cause, err)
	}

	unsettled := ledger.OutcomeUnknown(cause)
	if unsettled {
		s.sagas.RecordFailure(ctx, sagaRec, cause)
		s.metrics.IssuanceOutcome("unsettled")
	} else {
		s.sagas.Compensated(ctx, sagaRec, cause)
		s.metrics.IssuanceOutcome("compensated")
	}
	s.logger.WarnContext(ctx, "certificate anchoring failed; pending record removed",
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
		Action:      string(audit.EventAnchoringFailed),
		Reason:      cause.Error(),
		Severity:    audit.SeverityWarning,
	})
	return dErrors.Wrap(cause, dErrors.CodeAnchoringFailed, "ledger anchoring failed; certificate was not issued")
}

func issueAttrs(rec *certmodels.CertificateRecord) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("institute_id", rec.InstituteID),
		attribute.String("identifier", rec.Identifier),
	}
}
