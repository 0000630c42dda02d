package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret", 1)
	userID := uuid.New()

	token, err := svc.Generate(userID, "candidate@example.com", "candidate")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "candidate@example.com", claims.Email)
	assert.Equal(t, "candidate", claims.Role)
}

func TestJWTValidateRejectsBadToken(t *testing.T) {
	svc := NewJWTService("test-secret", 1)

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.Validate("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewJWTService("other-secret", 1)
		token, err := other.Generate(uuid.New(), "x@example.com", "expert")
		require.NoError(t, err)

		_, err = svc.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		expired := NewJWTService("test-secret", -1)
		token, err := expired.Generate(uuid.New(), "x@example.com", "expert")
		require.NoError(t, err)

		_, err = svc.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
