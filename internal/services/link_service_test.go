package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "ABC123", NormalizeCode("  abc123 "))
	assert.Equal(t, "XYZ999", NormalizeCode("xyz999"))
}

func TestValidCodeFormat(t *testing.T) {
	valid := []string{"ABC123", "abc123", "ABCDEFGHJK", "999999"}
	for _, code := range valid {
		assert.True(t, ValidCodeFormat(code), "code %q", code)
	}

	invalid := []string{"", "ABC", "ABC12", "ABCDEFGHJKL", "ABC-123", "ABC 12"}
	for _, code := range invalid {
		assert.False(t, ValidCodeFormat(code), "code %q", code)
	}
}

func TestRandomCodeAlphabet(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := randomCode(6)
		require.NoError(t, err)
		require.Len(t, code, 6)
		assert.True(t, ValidCodeFormat(code))

		// Ambiguous characters never appear
		for _, c := range "0O1I" {
			assert.NotContains(t, code, string(c))
		}
		for _, c := range code {
			assert.True(t, strings.ContainsRune(codeAlphabet, c))
		}
	}
}

func TestExchangeBindsToolUser(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	svc := &LinkService{pool: mock, ttl: 10 * time.Minute}
	toolID, userID := uuid.New(), uuid.New()
	linkedAt := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE link_codes SET consumed_at").
		WithArgs("ABC234").
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow(userID))
	mock.ExpectQuery("INSERT INTO user_links").
		WithArgs(toolID, "discord-123", userID).
		WillReturnRows(pgxmock.NewRows([]string{"linked_at"}).AddRow(linkedAt))
	mock.ExpectCommit()

	result, err := svc.Exchange(context.Background(), toolID, "abc234", "discord-123")
	require.NoError(t, err)

	assert.True(t, result.Linked)
	assert.Equal(t, userID.String(), result.OneSubUserID)
	assert.Equal(t, "discord-123", result.ToolUserID)
	assert.Equal(t, linkedAt, result.LinkedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExchangeRejectsMalformedCodeWithoutDatabase(t *testing.T) {
	svc := &LinkService{}
	_, err := svc.Exchange(context.Background(), uuid.New(), "not a code!", "u-1")
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestLinkResultUsesPublicFieldNames(t *testing.T) {
	data, err := json.Marshal(LinkResult{
		Linked:       true,
		OneSubUserID: "1c0ffee0-0000-0000-0000-000000000001",
		ToolUserID:   "discord-123",
		LinkedAt:     time.Now(),
	})
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &body))
	// SDK clients read camelCase keys
	assert.Contains(t, body, "linked")
	assert.Contains(t, body, "oneSubUserId")
	assert.Contains(t, body, "toolUserId")
	assert.Contains(t, body, "linkedAt")
}
