package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brinewave/cipherline/internal/apperr"
)

func issue(t *testing.T, v *Verifier, p Principal, ttl time.Duration) string {
	t.Helper()
	token, err := v.Issue(p, *jwt.NewNumericDate(time.Now().Add(ttl)))
	require.NoError(t, err)
	return token
}

func TestAuthenticateTokenRoundTrips(t *testing.T) {
	v := NewVerifier("shared-secret", "HS256", "x-access-token")
	token := issue(t, v, Principal{Hex: "alice", Name: "Alice"}, time.Hour)

	p, err := v.AuthenticateToken(token)
	require.Nil(t, err)
	assert.Equal(t, "alice", p.Hex)
	assert.Equal(t, "Alice", p.Name)
}

func TestAuthenticateTokenRejectsExpired(t *testing.T) {
	v := NewVerifier("shared-secret", "HS256", "x-access-token")
	token := issue(t, v, Principal{Hex: "alice"}, -time.Hour)

	_, err := v.AuthenticateToken(token)
	require.NotNil(t, err)
	assert.Equal(t, apperr.Unauthenticated, err.Kind)
}

func TestAuthenticateTokenRejectsWrongSecret(t *testing.T) {
	signer := NewVerifier("secret-a", "HS256", "x-access-token")
	verifier := NewVerifier("secret-b", "HS256", "x-access-token")
	token := issue(t, signer, Principal{Hex: "alice"}, time.Hour)

	_, err := verifier.AuthenticateToken(token)
	require.NotNil(t, err)
	assert.Equal(t, apperr.Unauthenticated, err.Kind)
}

func TestAuthenticateTokenRejectsWrongSigningMethod(t *testing.T) {
	signer := NewVerifier("shared-secret", "HS384", "x-access-token")
	verifier := NewVerifier("shared-secret", "HS256", "x-access-token")
	token := issue(t, signer, Principal{Hex: "alice"}, time.Hour)

	_, err := verifier.AuthenticateToken(token)
	require.NotNil(t, err)
	assert.Equal(t, apperr.Unauthenticated, err.Kind)
}

func TestExtractCookie(t *testing.T) {
	v := NewVerifier("shared-secret", "HS256", "x-access-token")
	value, ok := v.ExtractCookie("x-access-token=abc123; other=1")
	require.True(t, ok)
	assert.Equal(t, "abc123", value)

	_, ok = v.ExtractCookie("other=1")
	assert.False(t, ok)
}

func TestAuthenticateMissingCookie(t *testing.T) {
	v := NewVerifier("shared-secret", "HS256", "x-access-token")
	_, err := v.Authenticate("other=1")
	require.NotNil(t, err)
	assert.Equal(t, apperr.Unauthenticated, err.Kind)
}
