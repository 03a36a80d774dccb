// Package service is the concrete identity provider: institute registration,
// credential checks and session tokens.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"certledger/internal/identity/models"
	"certledger/internal/identity/secrets"
	"certledger/internal/identity/token"
	dErrors "certledger/pkg/domain-errors"
	audit "certledger/pkg/platform/audit"
	"certledger/pkg/platform/sentinel"
	"certledger/pkg/requestcontext"
)

const defaultSessionTTL = 24 * time.Hour

type InstituteStore interface {
	Create(ctx context.Context, inst *models.Institute) error
	FindByID(ctx context.Context, instituteID string) (*models.Institute, error)
	Update(ctx context.Context, instituteID string, mutate func(*models.Institute) error) (*models.Institute, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	institutes     InstituteStore
	tokens         *token.JWTService
	sessionTTL     time.Duration
	hashCost       int
	logger         *slog.Logger
	auditPublisher AuditPublisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// WithHashCost overrides the bcrypt cost; tests use bcrypt.MinCost.
func WithHashCost(cost int) Option {
	return func(s *Service) {
		s.hashCost = cost
	}
}

func New(institutes InstituteStore, tokens *token.JWTService, opts ...Option) *Service {
	s := &Service{
		institutes: institutes,
		tokens:     tokens,
		sessionTTL: defaultSessionTTL,
		hashCost:   secrets.Cost,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an active institute.
func (s *Service) Register(ctx context.Context, reg models.Registration) (*models.Institute, error) {
	reg.Normalize()
	if err := reg.Validate(); err != nil {
		return nil, err
	}

	hash, err := secrets.HashWithCost(reg.Password, s.hashCost)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeValidation) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash credential")
	}

	inst := &models.Institute{
		InstituteID:    reg.InstituteID,
		InstituteName:  reg.InstituteName,
		CredentialHash: hash,
		IsActive:       true,
		LedgerTxHash:   reg.LedgerTxHash,
		WalletAddress:  reg.WalletAddress,
		CreatedAt:      requestcontext.Now(ctx),
	}
	if err := s.institutes.Create(ctx, inst); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "institute with this ID already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create institute")
	}

	s.logger.InfoContext(ctx, "institute registered", "institute_id", inst.InstituteID)
	s.emit(ctx, audit.Event{
		InstituteID: inst.InstituteID,
		Subject:     inst.InstituteID,
		Action:      string(audit.EventInstituteRegistered),
	})
	return inst, nil
}

// Authenticate checks the institute's credential and issues a session token.
func (s *Service) Authenticate(ctx context.Context, instituteID, secret string) (*models.Session, error) {
	if instituteID == "" || secret == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "missing required fields: instituteId, password")
	}

	inst, err := s.institutes.FindByID(ctx, instituteID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.loginFailed(ctx, instituteID, "unknown_institute")
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid institute ID or password")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load institute")
	}
	if err := inst.CanAuthenticate(); err != nil {
		s.loginFailed(ctx, instituteID, "inactive")
		return nil, err
	}
	if err := secrets.Verify(secret, inst.CredentialHash); err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			s.loginFailed(ctx, instituteID, "bad_credential")
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid institute ID or password")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify credential")
	}

	principal := inst.Principal()
	tok, expiresAt, err := s.tokens.Issue(principal, requestcontext.Now(ctx), s.sessionTTL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue session token")
	}
	s.emit(ctx, audit.Event{
		InstituteID: inst.InstituteID,
		Subject:     inst.InstituteID,
		Action:      string(audit.EventLoginSucceeded),
	})
	return &models.Session{Token: tok, Principal: principal, ExpiresAt: expiresAt}, nil
}

// Authorize resolves a session token to its principal. The institute is
// re-read so a deactivation takes effect before the token expires.
func (s *Service) Authorize(ctx context.Context, tok models.SessionToken) (models.Principal, error) {
	if tok == "" {
		return models.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "no token provided")
	}
	claims, err := s.tokens.Validate(tok)
	if err != nil {
		return models.Principal{}, err
	}
	inst, err := s.institutes.FindByID(ctx, claims.InstituteID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
		}
		return models.Principal{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load institute")
	}
	if err := inst.CanAuthenticate(); err != nil {
		return models.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "institute account is deactivated")
	}
	return inst.Principal(), nil
}

// Deactivate blocks further logins and invalidates existing sessions.
func (s *Service) Deactivate(ctx context.Context, instituteID string) (*models.Institute, error) {
	inst, err := s.institutes.Update(ctx, instituteID, func(inst *models.Institute) error {
		if err := inst.CanDeactivate(); err != nil {
			return err
		}
		inst.ApplyDeactivation()
		return nil
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "institute not found")
		}
		if de, ok := dErrors.As(err); ok && de.Code == dErrors.CodeInvariantViolation {
			return nil, dErrors.New(dErrors.CodeConflict, de.Message)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to deactivate institute")
	}
	s.logger.InfoContext(ctx, "institute deactivated", "institute_id", instituteID)
	return inst, nil
}

func (s *Service) loginFailed(ctx context.Context, instituteID, reason string) {
	s.logger.WarnContext(ctx, "institute login failed", "institute_id", instituteID, "reason", reason)
	s.emit(ctx, audit.Event{
		InstituteID: instituteID,
		Subject:     instituteID,
		Action:      string(audit.EventLoginFailed),
		Reason:      reason,
		Severity:    audit.SeverityWarning,
	})
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "action", event.Action, "error", err)
	}
}
