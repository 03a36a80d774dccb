package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	audit "certledger/pkg/platform/audit"
	txcontext "certledger/pkg/platform/tx"
)

// Store materializes audit events into the audit_events table. Appends are
// idempotent on the event ID so a Kafka consumer can replay safely, and they
// join a transaction carried in context.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const eventColumns = `id, category, timestamp, institute_id, subject, action, reason, request_id, severity`

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	query := `INSERT INTO audit_events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, query,
		event.ID,
		string(event.Category),
		event.Timestamp,
		event.InstituteID,
		event.Subject,
		event.Action,
		event.Reason,
		event.RequestID,
		string(event.Severity),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *Store) ListByInstitute(ctx context.Context, instituteID string) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM audit_events WHERE institute_id = $1 ORDER BY timestamp`, instituteID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListRecent returns up to limit events, newest last.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT * FROM (
			SELECT `+eventColumns+` FROM audit_events ORDER BY timestamp DESC LIMIT $1
		) recent ORDER BY timestamp`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	events := make([]audit.Event, 0)
	for rows.Next() {
		var (
			event              audit.Event
			category, severity string
		)
		if err := rows.Scan(
			&event.ID,
			&category,
			&event.Timestamp,
			&event.InstituteID,
			&event.Subject,
			&event.Action,
			&event.Reason,
			&event.RequestID,
			&severity,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = audit.EventCategory(category)
		event.Severity = audit.Severity(severity)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
