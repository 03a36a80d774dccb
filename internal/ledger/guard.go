package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"certledger/pkg/platform/circuit"
	"certledger/pkg/platform/sentinel"
)

// ErrCircuitOpen is returned while the guard rejects ledger calls.
var ErrCircuitOpen = fmt.Errorf("ledger circuit open: %w", sentinel.ErrUnavailable)

// Guarded wraps a Client with a circuit breaker. Transport errors and
// finality timeouts count as failures; a transaction that finalizes as
// Failed is a normal ledger answer and counts as success.
type Guarded struct {
	next    Client
	breaker *circuit.Breaker
	logger  *slog.Logger
}

type GuardOption func(*Guarded)

func WithGuardLogger(logger *slog.Logger) GuardOption {
	return func(g *Guarded) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func NewGuarded(next Client, breaker *circuit.Breaker, opts ...GuardOption) *Guarded {
	g := &Guarded{
		next:    next,
		breaker: breaker,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Available reports whether the guard would let a call through right now.
// Coordinators check it before any store write.
func (g *Guarded) Available() bool {
	return g.breaker.Allow()
}

func (g *Guarded) SubmitAnchor(ctx context.Context, hash string, meta AnchorMetadata) (TxID, error) {
	if !g.breaker.Allow() {
		return "", ErrCircuitOpen
	}
	tx, err := g.next.SubmitAnchor(ctx, hash, meta)
	g.record(ctx, err)
	return tx, err
}

func (g *Guarded) SubmitRevoke(ctx context.Context, hash string) (TxID, error) {
	if !g.breaker.Allow() {
		return "", ErrCircuitOpen
	}
	tx, err := g.next.SubmitRevoke(ctx, hash)
	g.record(ctx, err)
	return tx, err
}

func (g *Guarded) SubmitBinding(ctx context.Context, uniqueID, instituteID string) (TxID, error) {
	if !g.breaker.Allow() {
		return "", ErrCircuitOpen
	}
	tx, err := g.next.SubmitBinding(ctx, uniqueID, instituteID)
	g.record(ctx, err)
	return tx, err
}

// AwaitFinal is never short-circuited: a submitted transaction must be
// observed to its end so the caller can compensate correctly.
func (g *Guarded) AwaitFinal(ctx context.Context, tx TxID, timeout time.Duration) (Receipt, error) {
	receipt, err := g.next.AwaitFinal(ctx, tx, timeout)
	switch {
	case err != nil && errors.Is(err, context.Canceled):
	case err != nil:
		g.record(ctx, err)
	case receipt.Status == TxTimedOut:
		g.record(ctx, receipt.Err())
	default:
		g.record(ctx, nil)
	}
	return receipt, err
}

func (g *Guarded) QueryAnchor(ctx context.Context, hash string) (*AnchorEntry, error) {
	if !g.breaker.Allow() {
		return nil, ErrCircuitOpen
	}
	entry, err := g.next.QueryAnchor(ctx, hash)
	g.record(ctx, ignoreNotFound(err))
	return entry, err
}

func (g *Guarded) QueryBinding(ctx context.Context, uniqueID string) (*IdentifierBinding, error) {
	if !g.breaker.Allow() {
		return nil, ErrCircuitOpen
	}
	b, err := g.next.QueryBinding(ctx, uniqueID)
	g.record(ctx, ignoreNotFound(err))
	return b, err
}

func (g *Guarded) record(ctx context.Context, err error) {
	if err == nil {
		if _, change := g.breaker.RecordSuccess(); change.Closed {
			g.logger.InfoContext(ctx, "ledger circuit closed", "breaker", g.breaker.Name())
		}
		return
	}
	if _, change := g.breaker.RecordFailure(); change.Opened {
		g.logger.WarnContext(ctx, "ledger circuit opened", "breaker", g.breaker.Name(), "error", err)
	}
}

func ignoreNotFound(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	return err
}
