package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1sub-io/vendor-api/internal/services"
)

func exchangeRecorder(t *testing.T, h *PlatformHandler, withTool bool, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/v1/authorize/exchange", strings.NewReader(body))
	if withTool {
		req = req.WithContext(context.WithValue(req.Context(), ToolContextKey, uuid.New()))
	}
	rec := httptest.NewRecorder()
	h.ExchangeLinkCode(rec, req)
	return rec
}

func TestExchangeRequiresToolKey(t *testing.T) {
	h := &PlatformHandler{}
	rec := exchangeRecorder(t, h, false, `{"code":"ABC234","toolUserId":"u-1"}`)

	assert.Equal(t, 401, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "UNAUTHORIZED", body["error"])
}

func TestExchangeRequiresToolUser(t *testing.T) {
	h := &PlatformHandler{}
	rec := exchangeRecorder(t, h, true, `{"code":"ABC234"}`)

	assert.Equal(t, 400, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "VALIDATION_ERROR", body["error"])
}

func TestExchangeAcceptsRedirectURIAlias(t *testing.T) {
	// Older SDKs send the tool user id under redirectUri. The malformed code
	// short-circuits before any database work, proving the alias passed
	// request validation and reached the exchange.
	h := &PlatformHandler{links: &services.LinkService{}}
	rec := exchangeRecorder(t, h, true, `{"code":"not a code!","redirectUri":"u-1"}`)

	assert.Equal(t, 400, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INVALID_CODE", body["error"])
}
