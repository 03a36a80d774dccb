package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"certledger/internal/saga"
	"certledger/pkg/platform/sentinel"
	txcontext "certledger/pkg/platform/tx"
)

// PostgresStore persists saga records in PostgreSQL. Writes join a transaction
// carried in context, so a coordinator can commit a store change and its saga
// marker together.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sagaColumns = `id, kind, institute_id, subject, hash, step, state, tx_id, last_error, started_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, rec *saga.Record) error {
	query := `INSERT INTO sagas (` + sagaColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, query,
		rec.ID, string(rec.Kind), rec.InstituteID, rec.Subject, rec.Hash,
		string(rec.Step), string(rec.State), rec.TxID, rec.LastError, rec.StartedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert saga: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert saga rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, rec *saga.Record) error {
	query := `UPDATE sagas SET step = $2, state = $3, tx_id = $4, last_error = $5, updated_at = $6 WHERE id = $1`
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, query,
		rec.ID, string(rec.Step), string(rec.State), rec.TxID, rec.LastError, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update saga: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update saga rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*saga.Record, error) {
	rec, err := scanSaga(txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+sagaColumns+` FROM sagas WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get saga: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListByState(ctx context.Context, state saga.State) ([]*saga.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sagaColumns+` FROM sagas WHERE state = $1 ORDER BY started_at`, string(state))
	if err != nil {
		return nil, fmt.Errorf("list sagas: %w", err)
	}
	defer rows.Close()

	out := make([]*saga.Record, 0)
	for rows.Next() {
		rec, err := scanSaga(rows)
		if err != nil {
			return nil, fmt.Errorf("scan saga: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sagas: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSaga(row rowScanner) (*saga.Record, error) {
	var (
		rec               saga.Record
		kind, step, state string
	)
	if err := row.Scan(
		&rec.ID, &kind, &rec.InstituteID, &rec.Subject, &rec.Hash,
		&step, &state, &rec.TxID, &rec.LastError, &rec.StartedAt, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.Kind = saga.Kind(kind)
	rec.Step = saga.Step(step)
	rec.State = saga.State(state)
	return &rec, nil
}
