// Package ledger defines the contract of the append-only, eventually-final
// ledger that attests certificate anchors and identifier bindings.
//
// Submissions return a TxID immediately; AwaitFinal blocks until the
// transaction is final (Confirmed or Failed) or the caller's finality timeout
// elapses (TimedOut). A transport error from any call means the outcome is
// unknown, not that the transaction failed.
package ledger

import (
	"context"
	"errors"
	"time"
)

//go:generate mockgen -source=ledger.go -destination=mocks/mocks.go -package=mocks Client

// TxID identifies a submitted ledger transaction.
type TxID string

func (t TxID) String() string { return string(t) }

// TxStatus is the terminal outcome of AwaitFinal.
type TxStatus string

const (
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
	TxTimedOut  TxStatus = "timed_out"
)

// TxKind is the operation a transaction carries.
type TxKind string

const (
	TxAnchor TxKind = "anchor"
	TxRevoke TxKind = "revoke"
	TxBind   TxKind = "bind"
)

// AnchorMetadata is the issuer metadata recorded alongside an anchor.
type AnchorMetadata struct {
	InstituteID   string
	InstituteName string
}

// AnchorEntry is the ledger-resident attestation of a certificate hash.
// Valid moves true → false at most once.
type AnchorEntry struct {
	Hash          string
	InstituteID   string
	InstituteName string
	AnchoredAt    time.Time
	Valid         bool
	TxID          TxID
}

// IdentifierBinding records that a minted unique id belongs to an institute.
type IdentifierBinding struct {
	UniqueID    string
	InstituteID string
	BoundAt     time.Time
	TxID        TxID
}

// Errors reported as the reason of a failed transaction.
var (
	ErrAlreadyAnchored = errors.New("hash already anchored")
	ErrNotAnchored     = errors.New("hash not anchored")
	ErrAlreadyRevoked  = errors.New("anchor already revoked")
	ErrAlreadyBound    = errors.New("identifier already bound")
	ErrUnknownTx       = errors.New("unknown transaction")
)

// Client is the full ledger surface. Coordinators depend on narrower
// interfaces declared next to them.
type Client interface {
	SubmitAnchor(ctx context.Context, hash string, meta AnchorMetadata) (TxID, error)
	SubmitRevoke(ctx context.Context, hash string) (TxID, error)
	SubmitBinding(ctx context.Context, uniqueID, instituteID string) (TxID, error)
	AwaitFinal(ctx context.Context, tx TxID, timeout time.Duration) (Receipt, error)
	QueryAnchor(ctx context.Context, hash string) (*AnchorEntry, error)
	QueryBinding(ctx context.Context, uniqueID string) (*IdentifierBinding, error)
}

// Receipt is the outcome of AwaitFinal.
type Receipt struct {
	TxID        TxID
	Status      TxStatus
	Reason      string
	FinalizedAt time.Time
}

func (r Receipt) Confirmed() bool { return r.Status == TxConfirmed }

// Err returns nil for a confirmed receipt and a *FailedTxError otherwise.
func (r Receipt) Err() error {
	if r.Confirmed() {
		return nil
	}
	return &FailedTxError{TxID: r.TxID, Status: r.Status, Reason: r.Reason}
}

// FailedTxError reports a transaction that did not confirm.
type FailedTxError struct {
	TxID   TxID
	Status TxStatus
	Reason string
}

func (e *FailedTxError) Error() string {
	msg := "ledger tx " + string(e.TxID) + " " + string(e.Status)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// TimedOut reports whether err is a finality timeout.
func TimedOut(err error) bool {
	var fe *FailedTxError
	return errors.As(err, &fe) && fe.Status == TxTimedOut
}

// OutcomeUnknown reports whether err leaves open that the transaction still
// lands: a finality timeout or a transport error. A failed receipt and an
// open circuit are definite.
func OutcomeUnknown(err error) bool {
	if err == nil || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	var fe *FailedTxError
	if errors.As(err, &fe) {
		return fe.Status == TxTimedOut
	}
	return true
}

// Pending reports whether a receipt returned by AwaitFinal is not final yet.
func (r Receipt) Pending() bool { return r.Status == TxTimedOut }
