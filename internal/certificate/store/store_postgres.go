package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"certledger/internal/certificate/models"
	"certledger/pkg/platform/sentinel"
	txcontext "certledger/pkg/platform/tx"
)

// PostgresStore persists certificate records in PostgreSQL. The primary key
// (institute_id, identifier) and the unique hash column make Insert exclusive;
// Update locks the row with SELECT ... FOR UPDATE for the mutator's duration.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed certificate store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const certificateColumns = `identifier, student_name, course_name, institution, institute_id,
	year, semester, score, public_key, hash, created_at, status, revoked_at`

func (s *PostgresStore) Insert(ctx context.Context, record *models.CertificateRecord) error {
	query := `
		INSERT INTO certificates (` + certificateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT DO NOTHING
	`
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, query,
		record.Identifier,
		record.StudentName,
		record.CourseName,
		record.Institution,
		record.InstituteID,
		record.Year,
		record.Semester,
		record.Score,
		record.PublicKey,
		record.Hash,
		record.CreatedAt,
		string(record.Status),
		nullTime(record.RevokedAt),
	)
	if err != nil {
		return fmt.Errorf("insert certificate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert certificate rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, instituteID, identifier string) (*models.CertificateRecord, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE institute_id = $1 AND identifier = $2`
	rec, err := scanCertificate(txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query, instituteID, identifier))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get certificate: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) FindByHash(ctx context.Context, hash string) (*models.CertificateRecord, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE hash = $1`
	rec, err := scanCertificate(s.db.QueryRowContext(ctx, query, hash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find certificate by hash: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) FindByIdentifier(ctx context.Context, identifier string) ([]*models.CertificateRecord, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE identifier = $1`
	return s.list(ctx, query, identifier)
}

func (s *PostgresStore) ListByInstitute(ctx context.Context, instituteID string) ([]*models.CertificateRecord, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE institute_id = $1 ORDER BY created_at DESC`
	return s.list(ctx, query, instituteID)
}

func (s *PostgresStore) list(ctx context.Context, query string, arg string) ([]*models.CertificateRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	defer rows.Close()

	out := make([]*models.CertificateRecord, 0)
	for rows.Next() {
		rec, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate certificates: %w", err)
	}
	return out, nil
}

// Update runs mutate against the locked row. When the caller already opened a
// transaction (see pkg/platform/tx) the lock joins it; otherwise Update owns a
// short transaction of its own.
func (s *PostgresStore) Update(ctx context.Context, instituteID, identifier string, mutate func(*models.CertificateRecord) error) (*models.CertificateRecord, error) {
	if tx, ok := txcontext.From(ctx); ok {
		return s.updateInTx(ctx, tx, instituteID, identifier, mutate)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin certificate update: %w", err)
	}
	rec, err := s.updateInTx(ctx, tx, instituteID, identifier, mutate)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit certificate update: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) updateInTx(ctx context.Context, tx *sql.Tx, instituteID, identifier string, mutate func(*models.CertificateRecord) error) (*models.CertificateRecord, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE institute_id = $1 AND identifier = $2 FOR UPDATE`
	rec, err := scanCertificate(tx.QueryRowContext(ctx, query, instituteID, identifier))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("lock certificate: %w", err)
	}
	if err := mutate(rec); err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE certificates SET status = $3, revoked_at = $4
		WHERE institute_id = $1 AND identifier = $2
	`, instituteID, identifier, string(rec.Status), nullTime(rec.RevokedAt))
	if err != nil {
		return nil, fmt.Errorf("update certificate: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Delete(ctx context.Context, instituteID, identifier string) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx,
		`DELETE FROM certificates WHERE institute_id = $1 AND identifier = $2`, instituteID, identifier)
	if err != nil {
		return fmt.Errorf("delete certificate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete certificate rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCertificate(row rowScanner) (*models.CertificateRecord, error) {
	var (
		rec       models.CertificateRecord
		status    string
		revokedAt sql.NullTime
	)
	if err := row.Scan(
		&rec.Identifier,
		&rec.StudentName,
		&rec.CourseName,
		&rec.Institution,
		&rec.InstituteID,
		&rec.Year,
		&rec.Semester,
		&rec.Score,
		&rec.PublicKey,
		&rec.Hash,
		&rec.CreatedAt,
		&status,
		&revokedAt,
	); err != nil {
		return nil, err
	}
	rec.Status = models.Status(status)
	if revokedAt.Valid {
		t := revokedAt.Time
		rec.RevokedAt = &t
	}
	return &rec, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
