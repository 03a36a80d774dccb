// Package saga records the progress of multi-step operations that span the
// record store and the ledger, so an interrupted operation can be resolved on
// startup and a failed compensation stays visible to operators.
package saga

import (
	"time"

	"github.com/google/uuid"

	dErrors "certledger/pkg/domain-errors"
)

type Kind string

const (
	KindIssuance   Kind = "issuance"
	KindRevocation Kind = "revocation"
	KindMint       Kind = "mint"
)

type State string

const (
	StateInFlight     State = "in_flight"
	StateCompleted    State = "completed"
	StateCompensated  State = "compensated"
	StateInconsistent State = "inconsistent"
)

// IsTerminal reports whether the saga has stopped moving.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCompensated || s == StateInconsistent
}

// Step is the last step marker persisted before the step ran.
type Step string

const (
	StepStoreInsert  Step = "store_insert"
	StepStoreUpdate  Step = "store_update"
	StepLedgerSubmit Step = "ledger_submit"
	StepLedgerAwait  Step = "ledger_await"
	StepStoreCommit  Step = "store_commit"
	StepCompensate   Step = "compensate"
	StepDone         Step = "done"
)

// Record is one saga log entry.
type Record struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	InstituteID string    `json:"institute_id"`
	Subject     string    `json:"subject"`
	Hash        string    `json:"hash,omitempty"`
	Step        Step      `json:"step"`
	State       State     `json:"state"`
	TxID        string    `json:"tx_id,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewRecord opens an in-flight saga at its first step.
func NewRecord(kind Kind, instituteID, subject, hash string, first Step, now time.Time) *Record {
	return &Record{
		ID:          uuid.NewString(),
		Kind:        kind,
		InstituteID: instituteID,
		Subject:     subject,
		Hash:        hash,
		Step:        first,
		State:       StateInFlight,
		StartedAt:   now,
		UpdatedAt:   now,
	}
}

func (r *Record) CanAdvance() error {
	if r.State != StateInFlight {
		return dErrors.New(dErrors.CodeInvariantViolation, "saga "+r.ID+" is "+string(r.State))
	}
	return nil
}

// ApplyStep moves the marker forward. Call CanAdvance first.
func (r *Record) ApplyStep(step Step, txID string, now time.Time) {
	r.Step = step
	if txID != "" {
		r.TxID = txID
	}
	r.UpdatedAt = now
}

// ApplyFinish moves the saga to a terminal state. Call CanAdvance first.
func (r *Record) ApplyFinish(state State, lastError string, now time.Time) {
	r.State = state
	r.LastError = lastError
	if state != StateInconsistent {
		r.Step = StepDone
	}
	r.UpdatedAt = now
}
