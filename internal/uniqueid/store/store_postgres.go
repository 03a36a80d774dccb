package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"certledger/internal/uniqueid/models"
	"certledger/pkg/platform/sentinel"
	txcontext "certledger/pkg/platform/tx"
)

// PostgresStore persists minted identifiers. Writes join a transaction
// carried in context.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, rec *models.UniqueIDRecord) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO unique_ids (unique_id, institute_id, generated_at, is_active, tx_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (unique_id) DO NOTHING
	`, rec.UniqueID, rec.InstituteID, rec.GeneratedAt, rec.IsActive, rec.TxID)
	if err != nil {
		return fmt.Errorf("insert unique id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert unique id rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, uniqueID string) (*models.UniqueIDRecord, error) {
	var rec models.UniqueIDRecord
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT unique_id, institute_id, generated_at, is_active, tx_id
		FROM unique_ids WHERE unique_id = $1
	`, uniqueID).Scan(&rec.UniqueID, &rec.InstituteID, &rec.GeneratedAt, &rec.IsActive, &rec.TxID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get unique id: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) ListByInstitute(ctx context.Context, instituteID string) ([]*models.UniqueIDRecord, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, `
		SELECT unique_id, institute_id, generated_at, is_active, tx_id
		FROM unique_ids WHERE institute_id = $1
		ORDER BY generated_at DESC
	`, instituteID)
	if err != nil {
		return nil, fmt.Errorf("list unique ids: %w", err)
	}
	defer rows.Close()

	out := make([]*models.UniqueIDRecord, 0)
	for rows.Next() {
		var rec models.UniqueIDRecord
		if err := rows.Scan(&rec.UniqueID, &rec.InstituteID, &rec.GeneratedAt, &rec.IsActive, &rec.TxID); err != nil {
			return nil, fmt.Errorf("scan unique id: %w", err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unique ids: %w", err)
	}
	return out, nil
}
