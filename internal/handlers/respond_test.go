package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, 404, CodeNotFound, "User not found")

	assert.Equal(t, 404, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	// Clients read the code as a plain string under "error"
	assert.Equal(t, "NOT_FOUND", body["error"])
	assert.Equal(t, "User not found", body["message"])
}

func TestWriteErrorDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	writeErrorDetails(rec, 400, CodeInsufficientCredits, "Insufficient credits", map[string]interface{}{
		"current_balance": 30,
		"required":        50,
		"shortfall":       20,
	})

	assert.Equal(t, 400, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INSUFFICIENT_CREDITS", body["error"])
	assert.Equal(t, "Insufficient credits", body["message"])
	// Extras land at the top level, not nested under a details object
	assert.EqualValues(t, 30, body["current_balance"])
	assert.EqualValues(t, 50, body["required"])
	assert.EqualValues(t, 20, body["shortfall"])
	assert.NotContains(t, body, "details")
}
