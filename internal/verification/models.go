package verification

import (
	"time"

	certmodels "certledger/internal/certificate/models"
	"certledger/internal/ledger"
)

// Verdict is the outcome of reconciling the store with the ledger.
type Verdict string

const (
	VerdictValid    Verdict = "valid"
	VerdictInvalid  Verdict = "invalid"
	VerdictPending  Verdict = "pending"
	VerdictNotFound Verdict = "not_found"
)

// Reason qualifies a non-valid verdict.
type Reason string

const (
	ReasonRevoked        Reason = "revoked"
	ReasonNotAnchored    Reason = "not_anchored"
	ReasonLedgerRevoked  Reason = "ledger_revoked"
	ReasonIssuerMismatch Reason = "issuer_mismatch"
	ReasonAnchorPending  Reason = "anchor_pending"
)

// TamperSignal reports whether the reason means the store and the ledger
// disagree about a record the store claims is active.
func (r Reason) TamperSignal() bool {
	switch r {
	case ReasonNotAnchored, ReasonLedgerRevoked, ReasonIssuerMismatch:
		return true
	default:
		return false
	}
}

// Result is a verification verdict. Certificate is set for every verdict but
// not_found; it is authoritative only when the verdict is valid.
type Result struct {
	Verdict       Verdict                       `json:"verdict"`
	Reason        Reason                        `json:"reason,omitempty"`
	Hash          string                        `json:"hash,omitempty"`
	Certificate   *certmodels.CertificateRecord `json:"certificate,omitempty"`
	Authoritative bool                          `json:"authoritative"`
	IssuerName    string                        `json:"issuerName,omitempty"`
	AnchoredAt    *time.Time                    `json:"anchoredAt,omitempty"`
	TxID          ledger.TxID                   `json:"txId,omitempty"`
}

func (r *Result) Valid() bool { return r.Verdict == VerdictValid }

func notFound() *Result {
	return &Result{Verdict: VerdictNotFound}
}

func invalid(rec *certmodels.CertificateRecord, reason Reason) *Result {
	return &Result{
		Verdict:     VerdictInvalid,
		Reason:      reason,
		Hash:        rec.Hash,
		Certificate: rec,
	}
}
