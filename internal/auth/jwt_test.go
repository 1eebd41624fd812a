package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key-at-least-32-bytes!!")

const (
	testIssuer   = "sentineld"
	testAudience = "sentineld-api"
)

func TestTokenRoundTrip(t *testing.T) {
	token, err := NewToken("alice", "admin", testSecret, testIssuer, testAudience, time.Hour)
	require.NoError(t, err)

	v, err := NewValidator(testSecret, testIssuer, testAudience)
	require.NoError(t, err)

	identity, err := v.Validate(token)
	require.NoError(t, err)
	require.Equal(t, "alice", identity.Subject)
	require.Equal(t, "admin", identity.Role)
}

func TestValidatorRejectsWrongSecret(t *testing.T) {
	token, err := NewToken("alice", "admin", testSecret, testIssuer, testAudience, time.Hour)
	require.NoError(t, err)

	v, err := NewValidator([]byte("another-secret-key-also-32-bytes!!!"), testIssuer, testAudience)
	require.NoError(t, err)

	_, err = v.Validate(token)
	require.Error(t, err)
}

func TestValidatorRejectsExpiredToken(t *testing.T) {
	token, err := NewToken("alice", "admin", testSecret, testIssuer, testAudience, -time.Minute)
	require.NoError(t, err)

	v, err := NewValidator(testSecret, testIssuer, testAudience)
	require.NoError(t, err)

	_, err = v.Validate(token)
	require.Error(t, err)
}

func TestValidatorRejectsWrongIssuer(t *testing.T) {
	token, err := NewToken("alice", "admin", testSecret, "someone-else", testAudience, time.Hour)
	require.NoError(t, err)

	v, err := NewValidator(testSecret, testIssuer, testAudience)
	require.NoError(t, err)

	_, err = v.Validate(token)
	require.Error(t, err)
}

func TestValidatorRejectsWrongAudience(t *testing.T) {
	token, err := NewToken("alice", "admin", testSecret, testIssuer, "other-api", time.Hour)
	require.NoError(t, err)

	v, err := NewValidator(testSecret, testIssuer, testAudience)
	require.NoError(t, err)

	_, err = v.Validate(token)
	require.Error(t, err)
}

func TestShortSecretRejected(t *testing.T) {
	_, err := NewValidator([]byte("short"), testIssuer, testAudience)
	require.ErrorIs(t, err, ErrSecretKeyTooShort)

	_, err = NewToken("a", "b", []byte("short"), testIssuer, testAudience, time.Hour)
	require.ErrorIs(t, err, ErrSecretKeyTooShort)
}

func TestDevIdentity(t *testing.T) {
	id := DevIdentity()
	require.Equal(t, "admin", id.Subject)
	require.Equal(t, "admin", id.Role)
}
