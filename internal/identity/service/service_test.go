package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"certledger/internal/identity/models"
	"certledger/internal/identity/store"
	"certledger/internal/identity/token"
	dErrors "certledger/pkg/domain-errors"
	audit "certledger/pkg/platform/audit"
	"certledger/pkg/platform/audit/publisher"
	auditmemory "certledger/pkg/platform/audit/store/memory"
)

type IdentityServiceSuite struct {
	suite.Suite
	service *Service
	audit   *auditmemory.InMemoryStore
	ctx     context.Context
}

func TestIdentityServiceSuite(t *testing.T) {
	suite.Run(t, new(IdentityServiceSuite))
}

func (s *IdentityServiceSuite) SetupTest() {
	s.audit = auditmemory.NewInMemoryStore()
	s.service = New(
		store.NewInMemoryStore(),
		token.NewJWTService("test-key", "certledger-test"),
		WithHashCost(bcrypt.MinCost),
		WithSessionTTL(time.Hour),
		WithAuditPublisher(publisher.NewPublisher(s.audit)),
	)
	s.ctx = context.Background()
}

func (s *IdentityServiceSuite) register(id, password string) *models.Institute {
	inst, err := s.service.Register(s.ctx, models.Registration{
		InstituteID:   id,
		InstituteName: "Institute " + id,
		Password:      password,
	})
	s.Require().NoError(err)
	return inst
}

func (s *IdentityServiceSuite) TestRegister() {
	s.Run("creates an active institute without storing the plaintext", func() {
		inst := s.register("I1", "password123")
		s.True(inst.IsActive)
		s.NotEqual("password123", inst.CredentialHash)
	})

	s.Run("duplicate id is a conflict", func() {
		_, err := s.service.Register(s.ctx, models.Registration{InstituteID: "I1", InstituteName: "Again", Password: "password123"})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("short password", func() {
		_, err := s.service.Register(s.ctx, models.Registration{InstituteID: "I9", InstituteName: "Nine", Password: "short"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("missing fields", func() {
		_, err := s.service.Register(s.ctx, models.Registration{InstituteID: "  ", Password: "password123"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	events, err := s.audit.ListByInstitute(s.ctx, "I1")
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(string(audit.EventInstituteRegistered), events[0].Action)
}

func (s *IdentityServiceSuite) TestAuthenticateAndAuthorize() {
	s.register("I1", "password123")

	session, err := s.service.Authenticate(s.ctx, "I1", "password123")
	s.Require().NoError(err)
	s.Equal("I1", session.Principal.InstituteID)

	principal, err := s.service.Authorize(s.ctx, session.Token)
	s.Require().NoError(err)
	s.Equal(models.Principal{InstituteID: "I1", InstituteName: "Institute I1"}, principal)

	s.Run("wrong password and unknown institute look the same", func() {
		_, errWrong := s.service.Authenticate(s.ctx, "I1", "wrong-password")
		_, errUnknown := s.service.Authenticate(s.ctx, "I404", "password123")
		s.True(dErrors.HasCode(errWrong, dErrors.CodeUnauthorized))
		s.Equal(errWrong.Error(), errUnknown.Error())
	})

	s.Run("empty token", func() {
		_, err := s.service.Authorize(s.ctx, "")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *IdentityServiceSuite) TestDeactivatedInstitute() {
	s.register("I1", "password123")
	session, err := s.service.Authenticate(s.ctx, "I1", "password123")
	s.Require().NoError(err)

	_, err = s.service.Deactivate(s.ctx, "I1")
	s.Require().NoError(err)

	_, err = s.service.Authenticate(s.ctx, "I1", "password123")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.service.Authorize(s.ctx, session.Token)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized), "existing sessions stop working")

	_, err = s.service.Deactivate(s.ctx, "I1")
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = s.service.Deactivate(s.ctx, "I404")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	events, err := s.audit.ListByInstitute(s.ctx, "I1")
	s.Require().NoError(err)
	failed := 0
	for _, e := range events {
		if e.Action == string(audit.EventLoginFailed) {
			failed++
			s.Equal("inactive", e.Reason)
		}
	}
	s.Equal(1, failed)
}
