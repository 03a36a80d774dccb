package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"certledger/internal/certificate/models"
	"certledger/pkg/anchorhash"
	"certledger/pkg/platform/sentinel"
)

type CertificateStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
}

func (s *CertificateStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.ctx = context.Background()
}

func TestCertificateStoreSuite(t *testing.T) {
	suite.Run(t, new(CertificateStoreSuite))
}

func newRecord(instituteID, identifier, publicKey string) *models.CertificateRecord {
	return &models.CertificateRecord{
		Identifier:  identifier,
		StudentName: "Student",
		CourseName:  "Course",
		Institution: "Institute",
		InstituteID: instituteID,
		Year:        2024,
		Semester:    1,
		Score:       "8.5",
		PublicKey:   publicKey,
		Hash:        anchorhash.Compute(identifier, publicKey),
		CreatedAt:   time.Now(),
		Status:      models.StatusPending,
	}
}

func (s *CertificateStoreSuite) TestInsertAndLookups() {
	s.Run("inserts and finds by key and hash", func() {
		rec := newRecord("I1", "S100", "PK1")
		s.Require().NoError(s.store.Insert(s.ctx, rec))

		got, err := s.store.Get(s.ctx, "I1", "S100")
		s.Require().NoError(err)
		s.Equal(rec.Hash, got.Hash)

		byHash, err := s.store.FindByHash(s.ctx, rec.Hash)
		s.Require().NoError(err)
		s.Equal("S100", byHash.Identifier)
	})

	s.Run("same identifier in another institute is a separate key", func() {
		s.Require().NoError(s.store.Insert(s.ctx, newRecord("I2", "S100", "PK2")))
		found, err := s.store.FindByIdentifier(s.ctx, "S100")
		s.Require().NoError(err)
		s.Len(found, 2)
	})

	s.Run("duplicate key conflicts", func() {
		err := s.store.Insert(s.ctx, newRecord("I1", "S100", "PK9"))
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("duplicate hash conflicts", func() {
		err := s.store.Insert(s.ctx, newRecord("I3", "S100", "PK1"))
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("unknown key is not found", func() {
		_, err := s.store.Get(s.ctx, "I1", "missing")
		s.ErrorIs(err, sentinel.ErrNotFound)
		_, err = s.store.FindByHash(s.ctx, "deadbeef")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *CertificateStoreSuite) TestUpdate() {
	rec := newRecord("I1", "S200", "PK1")
	s.Require().NoError(s.store.Insert(s.ctx, rec))

	s.Run("mutator error leaves record untouched", func() {
		boom := errors.New("boom")
		_, err := s.store.Update(s.ctx, "I1", "S200", func(r *models.CertificateRecord) error {
			r.Status = models.StatusRevoked
			return boom
		})
		s.ErrorIs(err, boom)
		got, _ := s.store.Get(s.ctx, "I1", "S200")
		s.Equal(models.StatusPending, got.Status)
	})

	s.Run("mutator success persists", func() {
		updated, err := s.store.Update(s.ctx, "I1", "S200", func(r *models.CertificateRecord) error {
			r.ApplyActivation()
			return nil
		})
		s.Require().NoError(err)
		s.Equal(models.StatusActive, updated.Status)
	})

	s.Run("returned records are copies", func() {
		got, _ := s.store.Get(s.ctx, "I1", "S200")
		got.Status = models.StatusRevoked
		again, _ := s.store.Get(s.ctx, "I1", "S200")
		s.Equal(models.StatusActive, again.Status)
	})

	s.Run("missing key is not found", func() {
		_, err := s.store.Update(s.ctx, "I1", "nope", func(*models.CertificateRecord) error { return nil })
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *CertificateStoreSuite) TestDeleteFreesKeyAndHash() {
	rec := newRecord("I1", "S300", "PK1")
	s.Require().NoError(s.store.Insert(s.ctx, rec))
	s.Require().NoError(s.store.Delete(s.ctx, "I1", "S300"))

	_, err := s.store.FindByHash(s.ctx, rec.Hash)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.Require().NoError(s.store.Insert(s.ctx, newRecord("I1", "S300", "PK1")))
	s.ErrorIs(s.store.Delete(s.ctx, "I1", "missing"), sentinel.ErrNotFound)
}

func (s *CertificateStoreSuite) TestListByInstituteIsScoped() {
	older := newRecord("I1", "A", "PK1")
	older.CreatedAt = time.Now().Add(-time.Hour)
	s.Require().NoError(s.store.Insert(s.ctx, older))
	s.Require().NoError(s.store.Insert(s.ctx, newRecord("I1", "B", "PK1")))
	s.Require().NoError(s.store.Insert(s.ctx, newRecord("I2", "C", "PK1")))

	list, err := s.store.ListByInstitute(s.ctx, "I1")
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal("B", list[0].Identifier)
	s.Equal("A", list[1].Identifier)
}

func (s *CertificateStoreSuite) TestConcurrentInsertSingleWinner() {
	const goroutines = 50
	var wg sync.WaitGroup
	var successCount, conflictCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.Insert(s.ctx, newRecord("I1", "RACE", "PK1"))
			if err == nil {
				successCount.Add(1)
			} else if errors.Is(err, sentinel.ErrConflict) {
				conflictCount.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load())
	s.Equal(int32(goroutines-1), conflictCount.Load())
}
