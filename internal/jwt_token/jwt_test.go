package jwttoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "correlate/pkg/domain-errors"
)

func signToken(t *testing.T, key string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(key))
	require.NoError(t, err)
	return signed
}

func TestValidateToken(t *testing.T) {
	const key = "test-signing-key"
	svc := NewJWTService(key, "identity-platform")
	userID := uuid.NewString()

	t.Run("accepts valid token", func(t *testing.T) {
		signed := signToken(t, key, Claims{
			UserID: userID,
			Roles:  []string{"correlation-admin"},
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "identity-platform",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})

		claims, err := svc.ValidateToken(signed)
		require.NoError(t, err)
		assert.Equal(t, userID, claims.UserID)
		assert.Contains(t, claims.Roles, "correlation-admin")
	})

	t.Run("rejects expired token", func(t *testing.T) {
		signed := signToken(t, key, Claims{
			UserID: userID,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "identity-platform",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			},
		})

		_, err := svc.ValidateToken(signed)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("rejects wrong signing key", func(t *testing.T) {
		signed := signToken(t, "other-key", Claims{
			UserID: userID,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "identity-platform",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})

		_, err := svc.ValidateToken(signed)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("rejects wrong issuer", func(t *testing.T) {
		signed := signToken(t, key, Claims{
			UserID: userID,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "someone-else",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})

		_, err := svc.ValidateToken(signed)
		require.Error(t, err)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := svc.ValidateToken("not.a.token")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}
