// ABOUTME: Tests for JWT session token issuance and verification
// ABOUTME: Covers round-trips, expiry, tampering, and wrong-secret rejection

package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer([]byte("secret"))
	require.NoError(t, err)

	token, err := issuer.Generate("alice", time.Hour)
	require.NoError(t, err)

	username, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)
}

func TestTokenExpired(t *testing.T) {
	issuer, err := NewTokenIssuer([]byte("secret"))
	require.NoError(t, err)

	token, err := issuer.Generate("alice", -time.Minute)
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenWrongSecret(t *testing.T) {
	issuer, err := NewTokenIssuer([]byte("secret"))
	require.NoError(t, err)
	other, err := NewTokenIssuer([]byte("different"))
	require.NoError(t, err)

	token, err := issuer.Generate("alice", time.Hour)
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenGarbage(t *testing.T) {
	issuer, err := NewTokenIssuer([]byte("secret"))
	require.NoError(t, err)

	_, err = issuer.Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestEmptySecretRejected(t *testing.T) {
	_, err := NewTokenIssuer(nil)
	assert.Error(t, err)
}
