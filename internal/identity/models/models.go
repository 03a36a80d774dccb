package models

import (
	"strings"
	"time"

	dErrors "certledger/pkg/domain-errors"
)

// MinPasswordLength is the shortest credential accepted at registration.
const MinPasswordLength = 8

// SessionToken is the opaque bearer credential returned by Authenticate.
type SessionToken string

// Principal is the authenticated caller every coordinator operation receives.
type Principal struct {
	InstituteID   string `json:"instituteId"`
	InstituteName string `json:"instituteName"`
}

// Institute is an issuing organisation.
//
// Invariants:
//   - InstituteID is globally unique and immutable
//   - CredentialHash is a bcrypt hash, never the plaintext
//   - an inactive institute cannot authenticate or use an existing session
type Institute struct {
	InstituteID    string    `json:"instituteId"`
	InstituteName  string    `json:"instituteName"`
	CredentialHash string    `json:"-"`
	IsActive       bool      `json:"isActive"`
	LedgerTxHash   string    `json:"ledgerTxHash,omitempty"`
	WalletAddress  string    `json:"walletAddress,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (i *Institute) Principal() Principal {
	return Principal{InstituteID: i.InstituteID, InstituteName: i.InstituteName}
}

func (i *Institute) CanAuthenticate() error {
	if !i.IsActive {
		return dErrors.New(dErrors.CodeForbidden, "institute account is deactivated")
	}
	return nil
}

func (i *Institute) CanDeactivate() error {
	if !i.IsActive {
		return dErrors.New(dErrors.CodeInvariantViolation, "institute is already inactive")
	}
	return nil
}

// ApplyDeactivation marks the institute inactive. Call CanDeactivate first.
func (i *Institute) ApplyDeactivation() {
	i.IsActive = false
}

// Registration is the input of institute registration. The ledger fields are
// optional metadata from an on-ledger registration done by the caller.
type Registration struct {
	InstituteID   string `json:"instituteId"`
	InstituteName string `json:"instituteName"`
	Password      string `json:"password"`
	LedgerTxHash  string `json:"blockchainTxHash,omitempty"`
	WalletAddress string `json:"walletAddress,omitempty"`
}

func (r *Registration) Normalize() {
	r.InstituteID = strings.TrimSpace(r.InstituteID)
	r.InstituteName = strings.TrimSpace(r.InstituteName)
	r.LedgerTxHash = strings.TrimSpace(r.LedgerTxHash)
	r.WalletAddress = strings.TrimSpace(r.WalletAddress)
}

func (r *Registration) Validate() error {
	if r.InstituteID == "" || r.InstituteName == "" || r.Password == "" {
		return dErrors.New(dErrors.CodeValidation, "missing required fields: instituteId, instituteName, password")
	}
	if len(r.Password) < MinPasswordLength {
		return dErrors.New(dErrors.CodeValidation, "password must be at least 8 characters long")
	}
	return nil
}

// Session is what Authenticate returns to the transport.
type Session struct {
	Token     SessionToken `json:"token"`
	Principal Principal    `json:"institute"`
	ExpiresAt time.Time    `json:"expiresAt"`
}
