package authlockout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certledger/internal/ratelimit/models"
)

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	rec, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, rec)

	now := time.Now()
	rec, err = store.Update(ctx, "k", func(l *models.AuthLockout) {
		l.ApplyFailure(now, 5, time.Minute, time.Minute)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.FailureCount)

	rec.FailureCount = 99
	stored, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.FailureCount, "returned records are copies")

	require.NoError(t, store.Clear(ctx, "k"))
	rec, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
