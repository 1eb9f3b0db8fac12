package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	payload := []byte(`{"type":"credits.consumed","amount":50}`)
	secret := "whsec-test-secret"

	header := Sign(payload, secret, time.Now())
	assert.Regexp(t, `^t=\d+,v1=[0-9a-f]{64}$`, header)

	assert.True(t, VerifySignature(payload, header, secret, 5*time.Minute))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	secret := "whsec-test-secret"
	header := Sign([]byte(`{"amount":50}`), secret, time.Now())

	assert.False(t, VerifySignature([]byte(`{"amount":5000}`), header, secret, 5*time.Minute))
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	payload := []byte(`{"amount":50}`)
	header := Sign(payload, "whsec-right", time.Now())

	assert.False(t, VerifySignature(payload, header, "whsec-wrong", 5*time.Minute))
}

func TestVerifyRejectsOldTimestamps(t *testing.T) {
	payload := []byte(`{"amount":50}`)
	secret := "whsec-test-secret"

	header := Sign(payload, secret, time.Now().Add(-10*time.Minute))
	assert.False(t, VerifySignature(payload, header, secret, 5*time.Minute))

	// Future timestamps are equally suspect
	header = Sign(payload, secret, time.Now().Add(10*time.Minute))
	assert.False(t, VerifySignature(payload, header, secret, 5*time.Minute))
}

func TestVerifyWithinTolerance(t *testing.T) {
	payload := []byte(`{"amount":50}`)
	secret := "whsec-test-secret"

	header := Sign(payload, secret, time.Now().Add(-4*time.Minute))
	assert.True(t, VerifySignature(payload, header, secret, 5*time.Minute))
}

func TestVerifyMalformedHeaders(t *testing.T) {
	payload := []byte(`{"amount":50}`)
	secret := "whsec-test-secret"

	cases := []string{
		"",
		"garbage",
		"t=,v1=",
		"t=notanumber,v1=abcd",
		fmt.Sprintf("t=%d", time.Now().Unix()),
		"v1=deadbeef",
	}
	for _, header := range cases {
		assert.False(t, VerifySignature(payload, header, secret, 5*time.Minute), "header %q", header)
	}
}

func TestSignIsDeterministicPerTimestamp(t *testing.T) {
	payload := []byte(`{"amount":50}`)
	ts := time.Unix(1700000000, 0)

	a := Sign(payload, "whsec-x", ts)
	b := Sign(payload, "whsec-x", ts)
	require.Equal(t, a, b)
}
