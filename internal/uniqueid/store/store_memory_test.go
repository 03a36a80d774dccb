package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certledger/internal/uniqueid/models"
	"certledger/pkg/platform/sentinel"
)

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Insert(ctx, models.NewRecord("UID-a", "I1", "0x1", base)))
	require.NoError(t, s.Insert(ctx, models.NewRecord("UID-b", "I1", "0x2", base.Add(time.Minute))))
	require.NoError(t, s.Insert(ctx, models.NewRecord("UID-c", "I2", "0x3", base)))

	t.Run("duplicate insert conflicts", func(t *testing.T) {
		err := s.Insert(ctx, models.NewRecord("UID-a", "I2", "0x9", base))
		assert.ErrorIs(t, err, sentinel.ErrConflict)
	})

	t.Run("list is scoped and newest first", func(t *testing.T) {
		recs, err := s.ListByInstitute(ctx, "I1")
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "UID-b", recs[0].UniqueID)
		assert.Equal(t, "UID-a", recs[1].UniqueID)
	})

	t.Run("unknown institute lists nothing", func(t *testing.T) {
		recs, err := s.ListByInstitute(ctx, "I9")
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("get returns a copy", func(t *testing.T) {
		rec, err := s.Get(ctx, "UID-c")
		require.NoError(t, err)
		rec.InstituteID = "tampered"

		again, err := s.Get(ctx, "UID-c")
		require.NoError(t, err)
		assert.Equal(t, "I2", again.InstituteID)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := s.Get(ctx, "UID-zzz")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}
