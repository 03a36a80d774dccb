package saga

import (
	"context"
	"log/slog"

	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/requestcontext"
)

// Store persists saga records.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Save(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	ListByState(ctx context.Context, state State) ([]*Record, error)
}

// Log is the coordinators' handle on the saga store. Begin must succeed
// before a saga touches anything; later markers are best effort and a lost
// marker only makes recovery re-check the ledger from an earlier step.
type Log struct {
	store  Store
	logger *slog.Logger
}

type Option func(*Log)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func NewLog(store Store, opts ...Option) *Log {
	l := &Log{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Begin persists a new in-flight saga.
func (l *Log) Begin(ctx context.Context, kind Kind, instituteID, subject, hash string, first Step) (*Record, error) {
	rec := NewRecord(kind, instituteID, subject, hash, first, requestcontext.Now(ctx))
	if err := l.store.Create(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to open saga log entry")
	}
	return rec, nil
}

// Mark records that the saga is about to run step.
func (l *Log) Mark(ctx context.Context, rec *Record, step Step, txID string) {
	if err := rec.CanAdvance(); err != nil {
		l.logger.ErrorContext(ctx, "saga marker on finished saga", "saga_id", rec.ID, "step", step)
		return
	}
	rec.ApplyStep(step, txID, requestcontext.Now(ctx))
	l.save(ctx, rec)
}

func (l *Log) Complete(ctx context.Context, rec *Record) {
	l.finish(ctx, rec, StateCompleted, nil)
}

// Compensated records that the saga's forward effects were undone; cause is
// the forward failure that triggered compensation.
func (l *Log) Compensated(ctx context.Context, rec *Record, cause error) {
	l.finish(ctx, rec, StateCompensated, cause)
}

// Inconsistent parks the saga for operator attention. It is never retried.
func (l *Log) Inconsistent(ctx context.Context, rec *Record, cause error) {
	l.finish(ctx, rec, StateInconsistent, cause)
}

// Finish applies a terminal state chosen by a resolver.
func (l *Log) Finish(ctx context.Context, rec *Record, state State, cause error) {
	l.finish(ctx, rec, state, cause)
}

func (l *Log) finish(ctx context.Context, rec *Record, state State, cause error) {
	if err := rec.CanAdvance(); err != nil {
		l.logger.ErrorContext(ctx, "saga already finished", "saga_id", rec.ID, "state", rec.State, "requested", state)
		return
	}
	msg := rec.LastError
	if cause != nil {
		msg = cause.Error()
	}
	rec.ApplyFinish(state, msg, requestcontext.Now(ctx))
	l.save(ctx, rec)
}

// RecordFailure keeps the saga in flight and notes why resolution failed.
func (l *Log) RecordFailure(ctx context.Context, rec *Record, cause error) {
	rec.LastError = cause.Error()
	rec.UpdatedAt = requestcontext.Now(ctx)
	l.save(ctx, rec)
}

func (l *Log) save(ctx context.Context, rec *Record) {
	if err := l.store.Save(ctx, rec); err != nil {
		l.logger.ErrorContext(ctx, "failed to persist saga marker",
			"saga_id", rec.ID,
			"kind", rec.Kind,
			"step", rec.Step,
			"state", rec.State,
			"error", err,
		)
	}
}

// InFlight lists sagas awaiting resolution.
func (l *Log) InFlight(ctx context.Context) ([]*Record, error) {
	recs, err := l.store.ListByState(ctx, StateInFlight)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list in-flight sagas")
	}
	return recs, nil
}

// ListInconsistent lists sagas whose compensation failed.
func (l *Log) ListInconsistent(ctx context.Context) ([]*Record, error) {
	recs, err := l.store.ListByState(ctx, StateInconsistent)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list inconsistent sagas")
	}
	return recs, nil
}
