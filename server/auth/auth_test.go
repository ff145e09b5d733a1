package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuthenticate(t *testing.T) {
	a := New("test-secret")

	userID, err := a.Authenticate(signToken(t, "test-secret", "user-123"))
	require.NoError(t, err)
	require.Equal(t, "user-123", userID)
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	a := New("test-secret")

	_, err := a.Authenticate("")
	require.Error(t, err)

	_, err = a.Authenticate("not-a-token")
	require.Error(t, err)

	_, err = a.Authenticate(signToken(t, "other-secret", "user-123"))
	require.Error(t, err)

	_, err = a.Authenticate(signToken(t, "test-secret", ""))
	require.Error(t, err)
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	a := New("test-secret")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-123",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = a.Authenticate(signed)
	require.Error(t, err)
}

func TestAuthenticateWithoutSecret(t *testing.T) {
	a := New("")
	userID, err := a.Authenticate("")
	require.NoError(t, err)
	require.Equal(t, DemoUserID, userID)
}

func TestUserIDContext(t *testing.T) {
	ctx := WithUserID(context.Background(), "user-123")
	require.Equal(t, "user-123", UserIDFromContext(ctx))
	require.Empty(t, UserIDFromContext(context.Background()))
}
