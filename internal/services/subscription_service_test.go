package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashEmail(t *testing.T) {
	// Normalization: lowercase and trim before hashing
	base := HashEmail("user@example.com")
	assert.Equal(t, base, HashEmail("  User@Example.COM  "))
	assert.Len(t, base, 64)

	assert.NotEqual(t, base, HashEmail("other@example.com"))
}
