package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	certmodels "certledger/internal/certificate/models"
	"certledger/internal/ledger"
	"certledger/internal/saga"
	"certledger/pkg/platform/sentinel"
	"certledger/pkg/requestcontext"
)

const recoveryAwait = 5 * time.Second

// Registrar is satisfied by *saga.Recoverer.
type Registrar interface {
	Register(kind saga.Kind, resolver saga.Resolver)
}

// RegisterResolvers installs the issuance and revocation resolvers.
func (s *Service) RegisterResolvers(r Registrar) {
	r.Register(saga.KindIssuance, saga.ResolverFunc(s.ResolveIssuance))
	r.Register(saga.KindRevocation, saga.ResolverFunc(s.ResolveRevocation))
}

// ResolveIssuance finishes an interrupted issuance. A valid anchor owned by
// the institute promotes the record; anything else removes the pending record.
func (s *Service) ResolveIssuance(ctx context.Context, rec *saga.Record) (saga.State, error) {
	entry, err := s.settledAnchor(ctx, rec)
	if err != nil {
		return "", err
	}
	anchored := entry != nil && entry.Valid && entry.InstituteID == rec.InstituteID

	current, err := s.certificates.Get(ctx, rec.InstituteID, rec.Subject)
	if errors.Is(err, sentinel.ErrNotFound) {
		if anchored {
			// Anchor without a record. Nothing verifies as valid, but the
			// pair can only be reissued through anchor adoption.
			s.metrics.Recovered(string(rec.Kind), string(saga.StateInconsistent))
			return saga.StateInconsistent, nil
		}
		s.metrics.Recovered(string(rec.Kind), string(saga.StateCompensated))
		return saga.StateCompensated, nil
	}
	if err != nil {
		return "", err
	}

	if !current.IsPending() {
		s.metrics.Recovered(string(rec.Kind), string(saga.StateCompleted))
		return saga.StateCompleted, nil
	}
	if anchored {
		_, err := s.certificates.Update(ctx, rec.InstituteID, rec.Subject, func(c *certmodels.CertificateRecord) error {
			if err := c.CanActivate(); err != nil {
				return err
			}
			c.ApplyActivation()
			return nil
		})
		if err != nil {
			return "", err
		}
		s.metrics.Recovered(string(rec.Kind), string(saga.StateCompleted))
		return saga.StateCompleted, nil
	}
	if err := s.certificates.Delete(ctx, rec.InstituteID, rec.Subject); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return "", err
	}
	s.metrics.Recovered(string(rec.Kind), string(saga.StateCompensated))
	return saga.StateCompensated, nil
}

// ResolveRevocation finishes an interrupted revocation. The record follows the
// anchor: an invalid anchor keeps it revoked, a valid one restores it.
func (s *Service) ResolveRevocation(ctx context.Context, rec *saga.Record) (saga.State, error) {
	entry, err := s.settledAnchor(ctx, rec)
	if err != nil {
		return "", err
	}
	now := requestcontext.Now(ctx)

	if entry != nil && !entry.Valid {
		_, err := s.certificates.Update(ctx, rec.InstituteID, rec.Subject, func(c *certmodels.CertificateRecord) error {
			if c.IsRevoked() {
				return nil
			}
			if err := c.CanRevoke(); err != nil {
				return err
			}
			c.ApplyRevocation(now)
			return nil
		})
		if err != nil {
			return "", err
		}
		s.metrics.Recovered(string(rec.Kind), string(saga.StateCompleted))
		return saga.StateCompleted, nil
	}

	_, err = s.certificates.Update(ctx, rec.InstituteID, rec.Subject, func(c *certmodels.CertificateRecord) error {
		if !c.IsRevoked() {
			return nil
		}
		return c.RevertRevocation()
	})
	if err != nil {
		return "", err
	}
	s.metrics.Recovered(string(rec.Kind), string(saga.StateCompensated))
	return saga.StateCompensated, nil
}

// settledAnchor waits briefly for the saga's transaction, if one was
// submitted, then reads the anchor. A nil entry means the hash is not anchored.
// A transaction still pending leaves the saga for the next recovery run.
func (s *Service) settledAnchor(ctx context.Context, rec *saga.Record) (*ledger.AnchorEntry, error) {
	if rec.TxID != "" {
		receipt, err := s.ledger.AwaitFinal(ctx, ledger.TxID(rec.TxID), recoveryAwait)
		switch {
		case err == nil && receipt.Pending():
			return nil, fmt.Errorf("saga transaction %s is not final yet", rec.TxID)
		case err != nil && !errors.Is(err, ledger.ErrUnknownTx):
			s.logger.WarnContext(ctx, "awaiting saga transaction during recovery",
				"saga_id", rec.ID,
				"tx_id", rec.TxID,
				"error", err,
			)
		}
	}
	entry, err := s.ledger.QueryAnchor(ctx, rec.Hash)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}
