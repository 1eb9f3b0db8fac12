package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyFormat(t *testing.T) {
	plaintext, hash, prefix, err := generateKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(plaintext, "sk-tool-"))
	assert.Len(t, plaintext, len("sk-tool-")+48) // 24 random bytes hex encoded

	assert.Equal(t, plaintext[:len("sk-tool-")+8], prefix)
	assert.Equal(t, HashKey(plaintext), hash)
}

func TestGenerateKeyUnique(t *testing.T) {
	a, _, _, err := generateKey()
	require.NoError(t, err)
	b, _, _, err := generateKey()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestHashKeyDeterministic(t *testing.T) {
	assert.Equal(t, HashKey("sk-tool-abc"), HashKey("sk-tool-abc"))
	assert.NotEqual(t, HashKey("sk-tool-abc"), HashKey("sk-tool-abd"))
	assert.Len(t, HashKey("anything"), 64)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "sk-tool-a1b2c3d4...", MaskKey("sk-tool-a1b2c3d4"))
}

func TestGenerateWebhookSecretFormat(t *testing.T) {
	secret, err := GenerateWebhookSecret()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(secret, "whsec-"))
	assert.Len(t, secret, len("whsec-")+48)

	other, err := GenerateWebhookSecret()
	require.NoError(t, err)
	assert.NotEqual(t, secret, other)
}
