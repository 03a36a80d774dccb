// Package consumer turns audit events read back from Kafka into queryable
// store rows.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"certledger/internal/platform/kafka/consumer"
	audit "certledger/pkg/platform/audit"
)

// Materializer appends each consumed event to a store. Stores dedupe on the
// event ID, so redelivery is harmless. Security events are also logged so
// they reach log-based alerting without a query.
type Materializer struct {
	store  audit.Store
	logger *slog.Logger
}

func NewMaterializer(store audit.Store, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{store: store, logger: logger}
}

func (m *Materializer) Handle(ctx context.Context, msg *consumer.Message) error {
	var event audit.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		m.logger.WarnContext(ctx, "dropping malformed audit message",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}
	if event.Category == audit.CategorySecurity {
		m.logger.WarnContext(ctx, "security audit event",
			"action", event.Action,
			"institute_id", event.InstituteID,
			"subject", event.Subject,
			"reason", event.Reason,
			"severity", event.Severity,
		)
	}
	if err := m.store.Append(ctx, event); err != nil {
		return fmt.Errorf("materialize audit event %s: %w", event.ID, err)
	}
	return nil
}
