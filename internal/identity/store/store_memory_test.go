package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"certledger/internal/identity/models"
	"certledger/pkg/platform/sentinel"
)

type InstituteStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
}

func TestInstituteStoreSuite(t *testing.T) {
	suite.Run(t, new(InstituteStoreSuite))
}

func (s *InstituteStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.ctx = context.Background()
}

func newInstitute(id string) *models.Institute {
	return &models.Institute{
		InstituteID:    id,
		InstituteName:  "Institute " + id,
		CredentialHash: "hash",
		IsActive:       true,
		CreatedAt:      time.Now(),
	}
}

func (s *InstituteStoreSuite) TestCreate() {
	s.Require().NoError(s.store.Create(s.ctx, newInstitute("I1")))
	s.ErrorIs(s.store.Create(s.ctx, newInstitute("I1")), sentinel.ErrConflict)

	got, err := s.store.FindByID(s.ctx, "I1")
	s.Require().NoError(err)
	s.Equal("Institute I1", got.InstituteName)

	_, err = s.store.FindByID(s.ctx, "I2")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InstituteStoreSuite) TestUpdate() {
	s.Require().NoError(s.store.Create(s.ctx, newInstitute("I1")))

	s.Run("mutator error leaves record untouched", func() {
		boom := errors.New("boom")
		_, err := s.store.Update(s.ctx, "I1", func(inst *models.Institute) error {
			inst.IsActive = false
			return boom
		})
		s.ErrorIs(err, boom)
		got, err := s.store.FindByID(s.ctx, "I1")
		s.Require().NoError(err)
		s.True(got.IsActive)
	})

	s.Run("applies mutation", func() {
		updated, err := s.store.Update(s.ctx, "I1", func(inst *models.Institute) error {
			inst.ApplyDeactivation()
			return nil
		})
		s.Require().NoError(err)
		s.False(updated.IsActive)
	})

	s.Run("missing", func() {
		_, err := s.store.Update(s.ctx, "nope", func(*models.Institute) error { return nil })
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}
