package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certledger/internal/identity/models"
	dErrors "certledger/pkg/domain-errors"
)

var (
	jwtService = NewJWTService("test-signing-key", "certledger-test")
	principal  = models.Principal{InstituteID: "I1", InstituteName: "Institute One"}
)

func TestIssueAndValidate(t *testing.T) {
	now := time.Now()
	tok, expiresAt, err := jwtService.Issue(principal, now, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, tok)
	assert.Equal(t, now.Add(time.Hour), expiresAt)

	claims, err := jwtService.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "I1", claims.InstituteID)
	assert.Equal(t, "Institute One", claims.InstituteName)
	assert.WithinDuration(t, now.Add(time.Hour), claims.ExpiresAt.Time, time.Second)
}

func TestValidate_Rejects(t *testing.T) {
	t.Run("garbage", func(t *testing.T) {
		_, err := jwtService.Validate("invalid-token-string")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("expired", func(t *testing.T) {
		tok, _, err := jwtService.Issue(principal, time.Now().Add(-2*time.Hour), time.Hour)
		require.NoError(t, err)
		_, err = jwtService.Validate(tok)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "token has expired")
	})

	t.Run("other key", func(t *testing.T) {
		tok, _, err := NewJWTService("other-key", "certledger-test").Issue(principal, time.Now(), time.Hour)
		require.NoError(t, err)
		_, err = jwtService.Validate(tok)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("other issuer", func(t *testing.T) {
		tok, _, err := NewJWTService("test-signing-key", "someone-else").Issue(principal, time.Now(), time.Hour)
		require.NoError(t, err)
		_, err = jwtService.Validate(tok)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}
