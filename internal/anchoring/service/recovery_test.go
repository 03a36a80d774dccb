package service

import (
	"errors"
	"time"

	certmodels "certledger/internal/certificate/models"
	"certledger/internal/ledger"
	ledgermemory "certledger/internal/ledger/memory"
	"certledger/internal/saga"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/sentinel"
)

func (s *AnchoringServiceSuite) recover() saga.Report {
	r := saga.NewRecoverer(s.sagas, saga.WithConcurrency(2))
	s.service.RegisterResolvers(r)
	report, err := r.Recover(s.ctx)
	s.Require().NoError(err)
	return report
}

func (s *AnchoringServiceSuite) pendingRecord(identifier string) *certmodels.CertificateRecord {
	rec, err := certmodels.NewCertificate(draft(identifier, "PK1", "I1"), time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.certificates.Insert(s.ctx, rec))
	return rec
}

func (s *AnchoringServiceSuite) activeRecord(identifier string) *certmodels.CertificateRecord {
	_, err := s.service.Issue(s.ctx, draft(identifier, "PK1", "I1"), instituteOne)
	s.Require().NoError(err)
	rec, err := s.certificates.Get(s.ctx, "I1", identifier)
	s.Require().NoError(err)
	return rec
}

func (s *AnchoringServiceSuite) interrupted(kind saga.Kind, rec *certmodels.CertificateRecord, step saga.Step, tx ledger.TxID) *saga.Record {
	sagaRec, err := s.sagas.Begin(s.ctx, kind, rec.InstituteID, rec.Identifier, rec.Hash, step)
	s.Require().NoError(err)
	if tx != "" {
		s.sagas.Mark(s.ctx, sagaRec, saga.StepLedgerAwait, tx.String())
	}
	return sagaRec
}

func (s *AnchoringServiceSuite) sagaState(id string) *saga.Record {
	rec, err := s.sagaStore.Get(s.ctx, id)
	s.Require().NoError(err)
	return rec
}

func (s *AnchoringServiceSuite) TestRecoverIssuanceWithFinalAnchorPromotes() {
	rec := s.pendingRecord("R1")
	tx, err := s.ledger.SubmitAnchor(s.ctx, rec.Hash, ledger.AnchorMetadata{InstituteID: "I1"})
	s.Require().NoError(err)
	sagaRec := s.interrupted(saga.KindIssuance, rec, saga.StepLedgerSubmit, tx)

	report := s.recover()
	s.Equal(1, report.Completed)

	current, err := s.certificates.Get(s.ctx, "I1", "R1")
	s.Require().NoError(err)
	s.True(current.IsActive())
	s.Equal(saga.StateCompleted, s.sagaState(sagaRec.ID).State)
}

func (s *AnchoringServiceSuite) TestRecoverIssuanceWithoutAnchorRemovesRecord() {
	rec := s.pendingRecord("R2")
	sagaRec := s.interrupted(saga.KindIssuance, rec, saga.StepStoreInsert, "")

	report := s.recover()
	s.Equal(1, report.Compensated)

	_, err := s.certificates.Get(s.ctx, "I1", "R2")
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.Equal(saga.StateCompensated, s.sagaState(sagaRec.ID).State)
}

func (s *AnchoringServiceSuite) TestRecoverIssuanceWithOrphanAnchorIsInconsistent() {
	rec, err := certmodels.NewCertificate(draft("R3", "PK1", "I1"), time.Now())
	s.Require().NoError(err)
	tx, err := s.ledger.SubmitAnchor(s.ctx, rec.Hash, ledger.AnchorMetadata{InstituteID: "I1"})
	s.Require().NoError(err)
	sagaRec := s.interrupted(saga.KindIssuance, rec, saga.StepCompensate, tx)

	report := s.recover()
	s.Equal(1, report.Inconsistent)

	parked, err := s.service.ListInconsistent(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(parked, 1)
	s.Equal(sagaRec.ID, parked[0].ID)
}

func (s *AnchoringServiceSuite) TestRecoverRevocationFollowsLedger() {
	s.Run("ledger revoked keeps the record revoked", func() {
		rec := s.activeRecord("R4")
		_, err := s.certificates.Update(s.ctx, "I1", "R4", func(c *certmodels.CertificateRecord) error {
			c.ApplyRevocation(time.Now())
			return nil
		})
		s.Require().NoError(err)
		tx, err := s.ledger.SubmitRevoke(s.ctx, rec.Hash)
		s.Require().NoError(err)
		sagaRec := s.interrupted(saga.KindRevocation, rec, saga.StepStoreUpdate, tx)

		s.recover()

		current, err := s.certificates.Get(s.ctx, "I1", "R4")
		s.Require().NoError(err)
		s.True(current.IsRevoked())
		s.Equal(saga.StateCompleted, s.sagaState(sagaRec.ID).State)
	})

	s.Run("ledger still valid restores the record", func() {
		rec := s.activeRecord("R5")
		_, err := s.certificates.Update(s.ctx, "I1", "R5", func(c *certmodels.CertificateRecord) error {
			c.ApplyRevocation(time.Now())
			return nil
		})
		s.Require().NoError(err)
		sagaRec := s.interrupted(saga.KindRevocation, rec, saga.StepLedgerSubmit, "")

		s.recover()

		current, err := s.certificates.Get(s.ctx, "I1", "R5")
		s.Require().NoError(err)
		s.True(current.IsActive())
		s.Nil(current.RevokedAt)
		s.Equal(saga.StateCompensated, s.sagaState(sagaRec.ID).State)
	})
}

func (s *AnchoringServiceSuite) TestRecoverLeavesSagaInFlightWhenLedgerUnreachable() {
	rec := s.pendingRecord("R6")
	sagaRec := s.interrupted(saga.KindIssuance, rec, saga.StepLedgerSubmit, "")
	s.ledger.SetQueryError(errors.New("dial tcp: connection refused"))

	report := s.recover()
	s.Equal(1, report.Unresolved)

	stored := s.sagaState(sagaRec.ID)
	s.Equal(saga.StateInFlight, stored.State)
	s.Contains(stored.LastError, "connection refused")

	current, err := s.certificates.Get(s.ctx, "I1", "R6")
	s.Require().NoError(err)
	s.True(current.IsPending(), "nothing changes until the ledger can be read")

	s.ledger.SetQueryError(nil)
	report = s.recover()
	s.Equal(1, report.Compensated)
}

func (s *AnchoringServiceSuite) TestRecoverFlagsAnchorThatLandedAfterTimeout() {
	slow := ledgermemory.New(ledgermemory.WithFinalityDelay(50 * time.Millisecond))
	s.service = s.newService(slow, 5*time.Millisecond)

	_, err := s.service.Issue(s.ctx, draft("R7", "PK1", "I1"), instituteOne)
	s.Require().True(dErrors.HasCode(err, dErrors.CodeAnchoringFailed))
	s.Empty(s.sagasIn(saga.StateCompensated))
	s.Require().Len(s.sagasIn(saga.StateInFlight), 1)

	s.Eventually(func() bool {
		return slow.ConfirmedCount(ledger.TxAnchor) == 1
	}, time.Second, 10*time.Millisecond)

	_, err = s.certificates.Get(s.ctx, "I1", "R7")
	s.ErrorIs(err, sentinel.ErrNotFound)

	report := s.recover()
	s.Equal(1, report.Inconsistent)

	flagged, err := s.service.ListInconsistent(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(flagged, 1)
	s.Equal("R7", flagged[0].Subject)
	s.Equal(saga.KindIssuance, flagged[0].Kind)
}

func (s *AnchoringServiceSuite) TestRecoverReappliesRevocationThatLandedAfterTimeout() {
	slow := ledgermemory.New(ledgermemory.WithFinalityDelay(50 * time.Millisecond))
	_, err := s.newService(slow, time.Second).Issue(s.ctx, draft("R8", "PK1", "I1"), instituteOne)
	s.Require().NoError(err)

	s.service = s.newService(slow, 5*time.Millisecond)
	_, err = s.service.Revoke(s.ctx, "R8", instituteOne)
	s.Require().True(dErrors.HasCode(err, dErrors.CodeRevocationFailed))

	current, err := s.certificates.Get(s.ctx, "I1", "R8")
	s.Require().NoError(err)
	s.True(current.IsActive(), "the caller was told the revocation failed")

	s.Eventually(func() bool {
		return slow.ConfirmedCount(ledger.TxRevoke) == 1
	}, time.Second, 10*time.Millisecond)

	report := s.recover()
	s.Equal(1, report.Completed)

	current, err = s.certificates.Get(s.ctx, "I1", "R8")
	s.Require().NoError(err)
	s.True(current.IsRevoked(), "the record follows the ledger")
	s.Empty(s.sagasIn(saga.StateInFlight))
}
