package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose so sinks can
// route and retain them differently.
type EventCategory string

const (
	// CategoryCompliance covers actions with record-keeping significance:
	// issuance, revocation, registration.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events an operator must look at: failed logins,
	// tamper signals, sagas left inconsistent.
	CategorySecurity EventCategory = "security"

	CategoryOperations EventCategory = "operations"
)

// Severity levels for security events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID          string        `json:"id"`
	Category    EventCategory `json:"category"`
	Timestamp   time.Time     `json:"timestamp"`
	InstituteID string        `json:"institute_id,omitempty"`
	Subject     string        `json:"subject"`
	Action      string        `json:"action"`
	Reason      string        `json:"reason,omitempty"`
	RequestID   string        `json:"request_id,omitempty"`
	Severity    Severity      `json:"severity,omitempty"`
}

type AuditEvent string

const (
	EventInstituteRegistered AuditEvent = "institute_registered"
	EventLoginSucceeded      AuditEvent = "login_succeeded"
	EventLoginFailed         AuditEvent = "login_failed"
	EventAuthLockout         AuditEvent = "auth_lockout_triggered"

	EventCertificateIssued   AuditEvent = "certificate_issued"
	EventCertificateRevoked  AuditEvent = "certificate_revoked"
	EventAnchoringFailed     AuditEvent = "anchoring_failed"
	EventRevocationFailed    AuditEvent = "revocation_failed"
	EventSagaInconsistent    AuditEvent = "saga_inconsistent"
	EventVerificationTamper  AuditEvent = "verification_tamper_signal"
	EventCertificateVerified AuditEvent = "certificate_verified"

	EventUniqueIDMinted AuditEvent = "unique_id_minted"
	EventMintFailed     AuditEvent = "unique_id_mint_failed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventInstituteRegistered: CategoryCompliance,
	EventCertificateIssued:   CategoryCompliance,
	EventCertificateRevoked:  CategoryCompliance,
	EventUniqueIDMinted:      CategoryCompliance,

	EventLoginFailed:        CategorySecurity,
	EventAuthLockout:        CategorySecurity,
	EventSagaInconsistent:   CategorySecurity,
	EventVerificationTamper: CategorySecurity,

	EventLoginSucceeded:      CategoryOperations,
	EventAnchoringFailed:     CategoryOperations,
	EventRevocationFailed:    CategoryOperations,
	EventMintFailed:          CategoryOperations,
	EventCertificateVerified: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store is the sink audit events are appended to.
type Store interface {
	Append(ctx context.Context, event Event) error
}
