package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1sub-io/vendor-api/internal/models"
)

func TestRegisterValidation(t *testing.T) {
	h := &AuthHandler{}

	cases := map[string]struct {
		body   string
		status int
	}{
		"invalid json":   {`{`, 400},
		"invalid email":  {`{"email":"not-an-email","password":"longenough","name":"Acme"}`, 400},
		"short password": {`{"email":"vendor@acme.io","password":"short","name":"Acme"}`, 400},
		"missing name":   {`{"email":"vendor@acme.io","password":"longenough"}`, 400},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/auth/register", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.Register(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestUserProfileJSONShape(t *testing.T) {
	// The dashboard reads display_name; last_login_at is absent until the
	// first login
	profile := models.UserProfile{DisplayName: "Acme Tools", IsVendor: true}

	data, err := json.Marshal(profile)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, "Acme Tools", body["display_name"])
	assert.NotContains(t, body, "last_login_at")

	now := time.Now()
	profile.LastLoginAt = &now
	data, err = json.Marshal(profile)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Contains(t, body, "last_login_at")
}
