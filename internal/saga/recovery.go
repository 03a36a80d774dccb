package saga

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Resolver decides the terminal state of an interrupted saga by inspecting
// the ledger and repairing the record store. Returning an error leaves the
// saga in flight for the next run.
type Resolver interface {
	Resolve(ctx context.Context, rec *Record) (State, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, rec *Record) (State, error)

func (f ResolverFunc) Resolve(ctx context.Context, rec *Record) (State, error) {
	return f(ctx, rec)
}

// Report summarises one recovery run.
type Report struct {
	Scanned      int `json:"scanned"`
	Completed    int `json:"completed"`
	Compensated  int `json:"compensated"`
	Inconsistent int `json:"inconsistent"`
	Unresolved   int `json:"unresolved"`
}

// Recoverer resolves in-flight sagas left behind by a crash or restart.
type Recoverer struct {
	log         *Log
	resolvers   map[Kind]Resolver
	concurrency int
	logger      *slog.Logger
}

type RecovererOption func(*Recoverer)

func WithConcurrency(n int) RecovererOption {
	return func(r *Recoverer) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func WithRecoveryLogger(logger *slog.Logger) RecovererOption {
	return func(r *Recoverer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRecoverer(log *Log, opts ...RecovererOption) *Recoverer {
	r := &Recoverer{
		log:         log,
		resolvers:   make(map[Kind]Resolver),
		concurrency: 4,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs the resolver for kind. Not safe to call concurrently with Recover.
func (r *Recoverer) Register(kind Kind, resolver Resolver) {
	r.resolvers[kind] = resolver
}

// Recover resolves every in-flight saga. One saga failing to resolve does not
// stop the others.
func (r *Recoverer) Recover(ctx context.Context) (Report, error) {
	pending, err := r.log.InFlight(ctx)
	if err != nil {
		return Report{}, err
	}

	var (
		mu     sync.Mutex
		report = Report{Scanned: len(pending)}
	)
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, rec := range pending {
		g.Go(func() error {
			state := r.resolve(ctx, rec)
			mu.Lock()
			defer mu.Unlock()
			switch state {
			case StateCompleted:
				report.Completed++
			case StateCompensated:
				report.Compensated++
			case StateInconsistent:
				report.Inconsistent++
			default:
				report.Unresolved++
			}
			return nil
		})
	}
	_ = g.Wait()

	r.logger.InfoContext(ctx, "saga recovery finished",
		"scanned", report.Scanned,
		"completed", report.Completed,
		"compensated", report.Compensated,
		"inconsistent", report.Inconsistent,
		"unresolved", report.Unresolved,
	)
	return report, nil
}

func (r *Recoverer) resolve(ctx context.Context, rec *Record) State {
	resolver, ok := r.resolvers[rec.Kind]
	if !ok {
		r.logger.WarnContext(ctx, "no resolver for saga kind", "saga_id", rec.ID, "kind", rec.Kind)
		return StateInFlight
	}
	state, err := resolver.Resolve(ctx, rec)
	if err != nil {
		r.logger.WarnContext(ctx, "saga left in flight",
			"saga_id", rec.ID,
			"kind", rec.Kind,
			"subject", rec.Subject,
			"error", err,
		)
		r.log.RecordFailure(ctx, rec, err)
		return StateInFlight
	}
	if state == StateInconsistent {
		r.logger.ErrorContext(ctx, "saga resolved as inconsistent",
			"saga_id", rec.ID,
			"kind", rec.Kind,
			"subject", rec.Subject,
			"hash", rec.Hash,
		)
	}
	r.log.Finish(ctx, rec, state, nil)
	return state
}
