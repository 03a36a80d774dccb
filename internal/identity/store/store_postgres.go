package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"certledger/internal/identity/models"
	"certledger/pkg/platform/sentinel"
	txcontext "certledger/pkg/platform/tx"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const instituteColumns = `institute_id, institute_name, credential_hash, is_active, ledger_tx_hash, wallet_address, created_at`

func (s *PostgresStore) Create(ctx context.Context, inst *models.Institute) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO institutes (`+instituteColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (institute_id) DO NOTHING
	`,
		inst.InstituteID,
		inst.InstituteName,
		inst.CredentialHash,
		inst.IsActive,
		nullString(inst.LedgerTxHash),
		nullString(inst.WalletAddress),
		inst.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert institute: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert institute rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, instituteID string) (*models.Institute, error) {
	inst, err := scanInstitute(txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+instituteColumns+` FROM institutes WHERE institute_id = $1`, instituteID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find institute: %w", err)
	}
	return inst, nil
}

func (s *PostgresStore) Update(ctx context.Context, instituteID string, mutate func(*models.Institute) error) (*models.Institute, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin institute update: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	inst, err := scanInstitute(tx.QueryRowContext(ctx,
		`SELECT `+instituteColumns+` FROM institutes WHERE institute_id = $1 FOR UPDATE`, instituteID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("lock institute: %w", err)
	}
	if err := mutate(inst); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE institutes SET institute_name = $2, is_active = $3 WHERE institute_id = $1`,
		instituteID, inst.InstituteName, inst.IsActive,
	); err != nil {
		return nil, fmt.Errorf("update institute: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit institute update: %w", err)
	}
	return inst, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstitute(row rowScanner) (*models.Institute, error) {
	var (
		inst                 models.Institute
		ledgerTxHash, wallet sql.NullString
	)
	if err := row.Scan(
		&inst.InstituteID,
		&inst.InstituteName,
		&inst.CredentialHash,
		&inst.IsActive,
		&ledgerTxHash,
		&wallet,
		&inst.CreatedAt,
	); err != nil {
		return nil, err
	}
	inst.LedgerTxHash = ledgerTxHash.String
	inst.WalletAddress = wallet.String
	return &inst, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
