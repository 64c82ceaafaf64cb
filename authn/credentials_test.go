package authn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearCredentialEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TV_TOKEN", "")
	t.Setenv("TV_USERNAME", "")
	t.Setenv("TV_PASSWORD", "")
}

func TestNewDefaultExplicitTokenWins(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("HOME", t.TempDir()) // isolate the on-disk cache

	p := NewDefault(CredentialsParams{Token: "explicit"})
	token, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "explicit", token)
}

func TestNewDefaultTokenFromEnv(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TV_TOKEN", "from-env")

	p := NewDefault(CredentialsParams{})
	token, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-env", token)
}

func TestNewDefaultFallsBackToAnonymous(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("HOME", t.TempDir())

	p := NewDefault(CredentialsParams{})
	token, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AnonymousToken, token)
}
