// Package memory is an in-process ledger used for development and tests. It
// models submission, delayed finality, and the failure modes the coordinators
// must survive: rejected submissions, transactions that fail at finality, and
// transactions that never finalize.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"certledger/internal/ledger"
	"certledger/pkg/platform/sentinel"
)

// LogEntry is one line of the append-only transaction log.
type LogEntry struct {
	TxID        ledger.TxID
	Kind        ledger.TxKind
	Subject     string
	Status      ledger.TxStatus
	FinalizedAt time.Time
}

type pendingTx struct {
	id          ledger.TxID
	kind        ledger.TxKind
	subject     string
	meta        ledger.AnchorMetadata
	instituteID string
	done        chan struct{}
	receipt     ledger.Receipt
}

// Ledger is safe for concurrent use.
type Ledger struct {
	finalityDelay time.Duration
	now           func() time.Time

	mu         sync.Mutex
	anchors    map[string]ledger.AnchorEntry
	bindings   map[string]ledger.IdentifierBinding
	txs        map[ledger.TxID]*pendingTx
	log        []LogEntry
	failNext   map[ledger.TxKind]string
	stallNext  map[ledger.TxKind]bool
	submitErrs map[ledger.TxKind]error
	queryErr   error
}

type Option func(*Ledger)

// WithFinalityDelay delays finality of every transaction.
func WithFinalityDelay(d time.Duration) Option {
	return func(l *Ledger) {
		l.finalityDelay = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		now:        time.Now,
		anchors:    make(map[string]ledger.AnchorEntry),
		bindings:   make(map[string]ledger.IdentifierBinding),
		txs:        make(map[ledger.TxID]*pendingTx),
		failNext:   make(map[ledger.TxKind]string),
		stallNext:  make(map[ledger.TxKind]bool),
		submitErrs: make(map[ledger.TxKind]error),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) SubmitAnchor(_ context.Context, hash string, meta ledger.AnchorMetadata) (ledger.TxID, error) {
	return l.submit(&pendingTx{kind: ledger.TxAnchor, subject: hash, meta: meta})
}

func (l *Ledger) SubmitRevoke(_ context.Context, hash string) (ledger.TxID, error) {
	return l.submit(&pendingTx{kind: ledger.TxRevoke, subject: hash})
}

func (l *Ledger) SubmitBinding(_ context.Context, uniqueID, instituteID string) (ledger.TxID, error) {
	return l.submit(&pendingTx{kind: ledger.TxBind, subject: uniqueID, instituteID: instituteID})
}

func (l *Ledger) submit(tx *pendingTx) (ledger.TxID, error) {
	l.mu.Lock()
	if err, ok := l.submitErrs[tx.kind]; ok {
		delete(l.submitErrs, tx.kind)
		l.mu.Unlock()
		return "", err
	}
	tx.id = ledger.TxID("0x" + uuid.NewString())
	tx.done = make(chan struct{})
	l.txs[tx.id] = tx
	stalled := l.stallNext[tx.kind]
	delete(l.stallNext, tx.kind)
	delay := l.finalityDelay
	l.mu.Unlock()

	switch {
	case stalled:
		// Never finalizes; callers observe TimedOut.
	case delay > 0:
		time.AfterFunc(delay, func() { l.finalize(tx) })
	default:
		l.finalize(tx)
	}
	return tx.id, nil
}

func (l *Ledger) finalize(tx *pendingTx) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	receipt := ledger.Receipt{TxID: tx.id, Status: ledger.TxConfirmed, FinalizedAt: now}
	if reason, ok := l.failNext[tx.kind]; ok {
		delete(l.failNext, tx.kind)
		receipt.Status = ledger.TxFailed
		receipt.Reason = reason
	} else if err := l.apply(tx, now); err != nil {
		receipt.Status = ledger.TxFailed
		receipt.Reason = err.Error()
	}

	tx.receipt = receipt
	l.log = append(l.log, LogEntry{
		TxID:        tx.id,
		Kind:        tx.kind,
		Subject:     tx.subject,
		Status:      receipt.Status,
		FinalizedAt: now,
	})
	close(tx.done)
}

func (l *Ledger) apply(tx *pendingTx, now time.Time) error {
	switch tx.kind {
	case ledger.TxAnchor:
		if _, exists := l.anchors[tx.subject]; exists {
			return ledger.ErrAlreadyAnchored
		}
		l.anchors[tx.subject] = ledger.AnchorEntry{
			Hash:          tx.subject,
			InstituteID:   tx.meta.InstituteID,
			InstituteName: tx.meta.InstituteName,
			AnchoredAt:    now,
			Valid:         true,
			TxID:          tx.id,
		}
	case ledger.TxRevoke:
		entry, exists := l.anchors[tx.subject]
		if !exists {
			return ledger.ErrNotAnchored
		}
		if !entry.Valid {
			return ledger.ErrAlreadyRevoked
		}
		entry.Valid = false
		l.anchors[tx.subject] = entry
	case ledger.TxBind:
		if _, exists := l.bindings[tx.subject]; exists {
			return ledger.ErrAlreadyBound
		}
		l.bindings[tx.subject] = ledger.IdentifierBinding{
			UniqueID:    tx.subject,
			InstituteID: tx.instituteID,
			BoundAt:     now,
			TxID:        tx.id,
		}
	default:
		return fmt.Errorf("unknown tx kind %q", tx.kind)
	}
	return nil
}

func (l *Ledger) AwaitFinal(ctx context.Context, id ledger.TxID, timeout time.Duration) (ledger.Receipt, error) {
	l.mu.Lock()
	tx, ok := l.txs[id]
	l.mu.Unlock()
	if !ok {
		return ledger.Receipt{}, ledger.ErrUnknownTx
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-tx.done:
		l.mu.Lock()
		defer l.mu.Unlock()
		return tx.receipt, nil
	case <-timer.C:
		return ledger.Receipt{TxID: id, Status: ledger.TxTimedOut, Reason: "finality timeout " + timeout.String()}, nil
	case <-ctx.Done():
		return ledger.Receipt{}, ctx.Err()
	}
}

func (l *Ledger) QueryAnchor(_ context.Context, hash string) (*ledger.AnchorEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.queryErr != nil {
		return nil, l.queryErr
	}
	entry, ok := l.anchors[hash]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &entry, nil
}

func (l *Ledger) QueryBinding(_ context.Context, uniqueID string) (*ledger.IdentifierBinding, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.queryErr != nil {
		return nil, l.queryErr
	}
	b, ok := l.bindings[uniqueID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &b, nil
}

// FailNext makes the next transaction of kind fail at finality with reason.
func (l *Ledger) FailNext(kind ledger.TxKind, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext[kind] = reason
}

// StallNext makes the next transaction of kind never finalize.
func (l *Ledger) StallNext(kind ledger.TxKind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stallNext[kind] = true
}

// RejectNextSubmit makes the next submission of kind return err.
func (l *Ledger) RejectNextSubmit(kind ledger.TxKind, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submitErrs[kind] = err
}

// SetQueryError makes queries fail until cleared with nil.
func (l *Ledger) SetQueryError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queryErr = err
}

// ForceValidity overwrites an anchor's valid flag outside any transaction.
// It exists to simulate tampering in tests.
func (l *Ledger) ForceValidity(hash string, valid bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.anchors[hash]; ok {
		entry.Valid = valid
		l.anchors[hash] = entry
	}
}

// Log returns a copy of the finalized transaction log.
func (l *Ledger) Log() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogEntry(nil), l.log...)
}

// ConfirmedCount returns how many transactions of kind confirmed.
func (l *Ledger) ConfirmedCount(kind ledger.TxKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.log {
		if e.Kind == kind && e.Status == ledger.TxConfirmed {
			n++
		}
	}
	return n
}
