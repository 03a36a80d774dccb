package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInstituteRoundTrip(t *testing.T) {
	ctx := WithInstitute(context.Background(), "I1", "Institute One")
	assert.Equal(t, "I1", InstituteID(ctx))
	assert.Equal(t, "Institute One", InstituteName(ctx))
	assert.Empty(t, InstituteID(context.Background()))
}

func TestNowFallsBackToWallClock(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, fixed, Now(WithTime(context.Background(), fixed)))

	before := time.Now()
	got := Now(context.Background())
	assert.False(t, got.Before(before))
}
