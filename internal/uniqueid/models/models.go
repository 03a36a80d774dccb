package models

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Prefix marks minted identifiers.
const Prefix = "UID-"

// UniqueIDRecord is an institute-owned identifier whose binding is anchored on
// the ledger. It is immutable after creation.
type UniqueIDRecord struct {
	UniqueID    string    `json:"uniqueId"`
	InstituteID string    `json:"instituteId"`
	GeneratedAt time.Time `json:"generatedAt"`
	IsActive    bool      `json:"isActive"`
	TxID        string    `json:"txId"`
}

// NewUniqueID returns "UID-" followed by 32 hex characters of a random UUID.
// Collisions are treated as impossible and are not retried.
func NewUniqueID() string {
	id := uuid.New()
	return Prefix + hex.EncodeToString(id[:])
}

func NewRecord(uniqueID, instituteID, txID string, generatedAt time.Time) *UniqueIDRecord {
	return &UniqueIDRecord{
		UniqueID:    uniqueID,
		InstituteID: instituteID,
		GeneratedAt: generatedAt,
		IsActive:    true,
		TxID:        txID,
	}
}
