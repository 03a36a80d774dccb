// Package redis is a ledger backend shared by every instance of the service.
// Each transaction applies its effect atomically in a Lua script, records its
// outcome under the tx key, and appends to a Redis stream that serves as the
// append-only log. Anchors and bindings are never deleted.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"certledger/internal/ledger"
	"certledger/pkg/platform/sentinel"
)

var submitDurationMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "certledger_ledger_redis_submit_duration_ms",
	Help:    "Latency of redis ledger submissions in milliseconds",
	Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
}, []string{"kind"})

const (
	defaultPrefix       = "ledger"
	defaultPollInterval = 50 * time.Millisecond

	statusPending = "pending"
)

// KEYS: anchor, tx, log. ARGV: tx id, hash, institute id, institute name, now, reason.
var anchorScript = redis.NewScript(`
local status = 'confirmed'
local reason = ''
if redis.call('EXISTS', KEYS[1]) == 1 then
  status = 'failed'
  reason = ARGV[6]
else
  redis.call('HSET', KEYS[1], 'institute_id', ARGV[3], 'institute_name', ARGV[4],
    'anchored_at', ARGV[5], 'valid', '1', 'tx_id', ARGV[1])
end
redis.call('HSET', KEYS[2], 'kind', 'anchor', 'subject', ARGV[2], 'status', status,
  'reason', reason, 'finalized_at', ARGV[5])
redis.call('XADD', KEYS[3], '*', 'tx_id', ARGV[1], 'kind', 'anchor', 'subject', ARGV[2], 'status', status)
return status
`)

// KEYS: anchor, tx, log. ARGV: tx id, hash, now, not-anchored reason, already-revoked reason.
var revokeScript = redis.NewScript(`
local status = 'confirmed'
local reason = ''
if redis.call('EXISTS', KEYS[1]) == 0 then
  status = 'failed'
  reason = ARGV[4]
elseif redis.call('HGET', KEYS[1], 'valid') ~= '1' then
  status = 'failed'
  reason = ARGV[5]
else
  redis.call('HSET', KEYS[1], 'valid', '0')
end
redis.call('HSET', KEYS[2], 'kind', 'revoke', 'subject', ARGV[2], 'status', status,
  'reason', reason, 'finalized_at', ARGV[3])
redis.call('XADD', KEYS[3], '*', 'tx_id', ARGV[1], 'kind', 'revoke', 'subject', ARGV[2], 'status', status)
return status
`)

// KEYS: binding, tx, log. ARGV: tx id, unique id, institute id, now, reason.
var bindScript = redis.NewScript(`
local status = 'confirmed'
local reason = ''
if redis.call('EXISTS', KEYS[1]) == 1 then
  status = 'failed'
  reason = ARGV[5]
else
  redis.call('HSET', KEYS[1], 'institute_id', ARGV[3], 'bound_at', ARGV[4], 'tx_id', ARGV[1])
end
redis.call('HSET', KEYS[2], 'kind', 'bind', 'subject', ARGV[2], 'status', status,
  'reason', reason, 'finalized_at', ARGV[4])
redis.call('XADD', KEYS[3], '*', 'tx_id', ARGV[1], 'kind', 'bind', 'subject', ARGV[2], 'status', status)
return status
`)

// Ledger implements ledger.Client on Redis.
type Ledger struct {
	client       *redis.Client
	prefix       string
	pollInterval time.Duration
	now          func() time.Time
}

type Option func(*Ledger)

// WithKeyPrefix namespaces every key, letting tests share one Redis.
func WithKeyPrefix(prefix string) Option {
	return func(l *Ledger) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

func New(client *redis.Client, opts ...Option) *Ledger {
	l := &Ledger{
		client:       client,
		prefix:       defaultPrefix,
		pollInterval: defaultPollInterval,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) anchorKey(hash string) string      { return l.prefix + ":anchor:" + hash }
func (l *Ledger) bindingKey(uniqueID string) string { return l.prefix + ":binding:" + uniqueID }
func (l *Ledger) txKey(tx ledger.TxID) string       { return l.prefix + ":tx:" + string(tx) }
func (l *Ledger) logKey() string                    { return l.prefix + ":log" }

func newTxID() ledger.TxID {
	return ledger.TxID("0x" + uuid.NewString())
}

func (l *Ledger) nowNanos() string {
	return strconv.FormatInt(l.now().UnixNano(), 10)
}

func (l *Ledger) SubmitAnchor(ctx context.Context, hash string, meta ledger.AnchorMetadata) (ledger.TxID, error) {
	defer observe(ledger.TxAnchor, time.Now())
	tx := newTxID()
	keys := []string{l.anchorKey(hash), l.txKey(tx), l.logKey()}
	err := anchorScript.Run(ctx, l.client, keys,
		string(tx), hash, meta.InstituteID, meta.InstituteName, l.nowNanos(), ledger.ErrAlreadyAnchored.Error(),
	).Err()
	if err != nil {
		return "", fmt.Errorf("submit anchor: %w", err)
	}
	return tx, nil
}

func (l *Ledger) SubmitRevoke(ctx context.Context, hash string) (ledger.TxID, error) {
	defer observe(ledger.TxRevoke, time.Now())
	tx := newTxID()
	keys := []string{l.anchorKey(hash), l.txKey(tx), l.logKey()}
	err := revokeScript.Run(ctx, l.client, keys,
		string(tx), hash, l.nowNanos(), ledger.ErrNotAnchored.Error(), ledger.ErrAlreadyRevoked.Error(),
	).Err()
	if err != nil {
		return "", fmt.Errorf("submit revoke: %w", err)
	}
	return tx, nil
}

func (l *Ledger) SubmitBinding(ctx context.Context, uniqueID, instituteID string) (ledger.TxID, error) {
	defer observe(ledger.TxBind, time.Now())
	tx := newTxID()
	keys := []string{l.bindingKey(uniqueID), l.txKey(tx), l.logKey()}
	err := bindScript.Run(ctx, l.client, keys,
		string(tx), uniqueID, instituteID, l.nowNanos(), ledger.ErrAlreadyBound.Error(),
	).Err()
	if err != nil {
		return "", fmt.Errorf("submit binding: %w", err)
	}
	return tx, nil
}

// AwaitFinal polls the tx record until it leaves pending or timeout elapses.
func (l *Ledger) AwaitFinal(ctx context.Context, tx ledger.TxID, timeout time.Duration) (ledger.Receipt, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		fields, err := l.client.HGetAll(ctx, l.txKey(tx)).Result()
		if err != nil {
			return ledger.Receipt{}, fmt.Errorf("read tx %s: %w", tx, err)
		}
		if len(fields) == 0 {
			return ledger.Receipt{}, ledger.ErrUnknownTx
		}
		if status := fields["status"]; status != statusPending {
			return ledger.Receipt{
				TxID:        tx,
				Status:      ledger.TxStatus(status),
				Reason:      fields["reason"],
				FinalizedAt: parseNanos(fields["finalized_at"]),
			}, nil
		}

		select {
		case <-ctx.Done():
			return ledger.Receipt{}, ctx.Err()
		case <-deadline.C:
			return ledger.Receipt{TxID: tx, Status: ledger.TxTimedOut, Reason: "finality timeout " + timeout.String()}, nil
		case <-ticker.C:
		}
	}
}

func (l *Ledger) QueryAnchor(ctx context.Context, hash string) (*ledger.AnchorEntry, error) {
	fields, err := l.client.HGetAll(ctx, l.anchorKey(hash)).Result()
	if err != nil {
		return nil, fmt.Errorf("query anchor: %w", err)
	}
	if len(fields) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return &ledger.AnchorEntry{
		Hash:          hash,
		InstituteID:   fields["institute_id"],
		InstituteName: fields["institute_name"],
		AnchoredAt:    parseNanos(fields["anchored_at"]),
		Valid:         fields["valid"] == "1",
		TxID:          ledger.TxID(fields["tx_id"]),
	}, nil
}

func (l *Ledger) QueryBinding(ctx context.Context, uniqueID string) (*ledger.IdentifierBinding, error) {
	fields, err := l.client.HGetAll(ctx, l.bindingKey(uniqueID)).Result()
	if err != nil {
		return nil, fmt.Errorf("query binding: %w", err)
	}
	if len(fields) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return &ledger.IdentifierBinding{
		UniqueID:    uniqueID,
		InstituteID: fields["institute_id"],
		BoundAt:     parseNanos(fields["bound_at"]),
		TxID:        ledger.TxID(fields["tx_id"]),
	}, nil
}

// LogLength returns the number of finalized transactions in the log stream.
func (l *Ledger) LogLength(ctx context.Context) (int64, error) {
	n, err := l.client.XLen(ctx, l.logKey()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func parseNanos(raw string) time.Time {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func observe(kind ledger.TxKind, start time.Time) {
	submitDurationMs.WithLabelValues(string(kind)).Observe(float64(time.Since(start).Microseconds()) / 1000.0)
}
