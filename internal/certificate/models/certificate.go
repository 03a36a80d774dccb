package models

import (
	"strconv"
	"strings"
	"time"

	"certledger/pkg/anchorhash"
	dErrors "certledger/pkg/domain-errors"
)

// Status is the lifecycle state of a certificate record.
type Status string

const (
	// StatusPending marks a record whose issuance saga has not reached ledger
	// finality. It is never reported as verified.
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

func (s Status) String() string { return string(s) }

// CanTransitionTo encodes the forward moves pending → active → revoked.
// Reverting a revocation whose ledger transaction failed goes through
// RevertRevocation, never through a status transition.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusActive
	case StatusActive:
		return next == StatusRevoked
	default:
		return false
	}
}

// CertificateRecord is the off-chain, authoritative certificate content.
//
// Invariants:
//   - Identifier is unique within InstituteID
//   - Hash == anchorhash.Compute(Identifier, PublicKey)
//   - Status moves pending → active → revoked; never back except as saga compensation
type CertificateRecord struct {
	Identifier  string     `json:"id"`
	StudentName string     `json:"student_name"`
	CourseName  string     `json:"course_name"`
	Institution string     `json:"institution"`
	InstituteID string     `json:"institute_id"`
	Year        int        `json:"year"`
	Semester    int        `json:"semester"`
	Score       string     `json:"score"`
	PublicKey   string     `json:"public_key"`
	Hash        string     `json:"hash"`
	CreatedAt   time.Time  `json:"created_at"`
	Status      Status     `json:"status"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

func (c *CertificateRecord) IsActive() bool  { return c.Status == StatusActive }
func (c *CertificateRecord) IsPending() bool { return c.Status == StatusPending }
func (c *CertificateRecord) IsRevoked() bool { return c.Status == StatusRevoked }

// CanActivate checks the pending → active promotion after ledger finality.
func (c *CertificateRecord) CanActivate() error {
	if !c.Status.CanTransitionTo(StatusActive) {
		return dErrors.New(dErrors.CodeInvariantViolation, "certificate is not pending")
	}
	return nil
}

// ApplyActivation promotes the record. Call CanActivate first.
func (c *CertificateRecord) ApplyActivation() {
	c.Status = StatusActive
}

// CanRevoke checks the active → revoked transition.
func (c *CertificateRecord) CanRevoke() error {
	if !c.Status.CanTransitionTo(StatusRevoked) {
		return dErrors.New(dErrors.CodeInvariantViolation, "certificate is not active")
	}
	return nil
}

// ApplyRevocation flips the record to revoked at now. Call CanRevoke first.
func (c *CertificateRecord) ApplyRevocation(now time.Time) {
	c.Status = StatusRevoked
	revokedAt := now
	c.RevokedAt = &revokedAt
}

// RevertRevocation undoes ApplyRevocation when the ledger revoke could not be
// confirmed.
func (c *CertificateRecord) RevertRevocation() error {
	if c.Status != StatusRevoked {
		return dErrors.New(dErrors.CodeInvariantViolation, "certificate is not revoked")
	}
	c.Status = StatusActive
	c.RevokedAt = nil
	return nil
}

// Draft is the caller-supplied content of a certificate to issue. Numeric
// fields arrive as strings so validation can reject non-numeric input instead
// of silently zeroing it.
type Draft struct {
	Identifier    string `json:"id"`
	StudentName   string `json:"studentName"`
	CourseName    string `json:"courseName"`
	Institution   string `json:"institution"`
	InstituteID   string `json:"instituteId"`
	InstituteName string `json:"instituteName,omitempty"`
	Year          string `json:"year"`
	Semester      string `json:"semester"`
	Score         string `json:"score"`
	PublicKey     string `json:"publicKey"`
}

// NewCertificate validates the draft and builds a pending record.
func NewCertificate(d Draft, now time.Time) (*CertificateRecord, error) {
	fields := []struct {
		name  string
		value string
	}{
		{"id", d.Identifier},
		{"studentName", d.StudentName},
		{"courseName", d.CourseName},
		{"institution", d.Institution},
		{"instituteId", d.InstituteID},
		{"year", d.Year},
		{"semester", d.Semester},
		{"score", d.Score},
		{"publicKey", d.PublicKey},
	}
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "missing required fields: "+strings.Join(missing, ", "))
	}

	year, err := positiveInt("year", d.Year)
	if err != nil {
		return nil, err
	}
	semester, err := positiveInt("semester", d.Semester)
	if err != nil {
		return nil, err
	}
	score := strings.TrimSpace(d.Score)
	if _, err := strconv.ParseFloat(score, 64); err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, "score must be numeric")
	}

	identifier := strings.TrimSpace(d.Identifier)
	publicKey := strings.TrimSpace(d.PublicKey)
	return &CertificateRecord{
		Identifier:  identifier,
		StudentName: strings.TrimSpace(d.StudentName),
		CourseName:  strings.TrimSpace(d.CourseName),
		Institution: strings.TrimSpace(d.Institution),
		InstituteID: strings.TrimSpace(d.InstituteID),
		Year:        year,
		Semester:    semester,
		Score:       score,
		PublicKey:   publicKey,
		Hash:        anchorhash.Compute(identifier, publicKey),
		CreatedAt:   now,
		Status:      StatusPending,
	}, nil
}

func positiveInt(field, raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, dErrors.New(dErrors.CodeValidation, field+" must be numeric")
	}
	if n <= 0 {
		return 0, dErrors.New(dErrors.CodeValidation, field+" must be positive")
	}
	return n, nil
}
