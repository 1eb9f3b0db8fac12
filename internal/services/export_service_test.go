package services

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1sub-io/vendor-api/internal/models"
)

func TestExportTransactionsCSV(t *testing.T) {
	txID := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	userID := uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")
	created := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)

	txs := []models.CreditTransaction{
		{ID: txID, UserID: userID, Type: models.TxTypeSubtract, Amount: 250, Reason: "image generation", CreatedAt: created},
	}

	var buf bytes.Buffer
	require.NoError(t, ExportTransactionsCSV(&buf, txs))

	lines := strings.Split(buf.String(), "\r\n")
	require.Len(t, lines, 3) // header, row, trailing empty after final CRLF
	assert.Empty(t, lines[2])

	assert.Equal(t, `"transaction_id","date","type","user_id","reason",amount`, lines[0])
	assert.Equal(t,
		`"11111111-2222-3333-4444-555555555555","2026-03-15T10:30:00Z","subtract","aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee","image generation",250`,
		lines[1])
}

func TestExportTransactionsCSVEscapesQuotes(t *testing.T) {
	txs := []models.CreditTransaction{
		{ID: uuid.New(), UserID: uuid.New(), Type: models.TxTypeAdd, Amount: 10,
			Reason: `used "premium" mode`, CreatedAt: time.Now()},
	}

	var buf bytes.Buffer
	require.NoError(t, ExportTransactionsCSV(&buf, txs))

	assert.Contains(t, buf.String(), `"used ""premium"" mode"`)
}

func TestExportTransactionsCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportTransactionsCSV(&buf, nil))

	assert.Equal(t, `"transaction_id","date","type","user_id","reason",amount`+"\r\n", buf.String())
}

func TestExportTransactionsCSVNumericAmountUnquoted(t *testing.T) {
	txs := []models.CreditTransaction{
		{ID: uuid.New(), UserID: uuid.New(), Type: models.TxTypeSubtract, Amount: 9999, CreatedAt: time.Now()},
	}

	var buf bytes.Buffer
	require.NoError(t, ExportTransactionsCSV(&buf, txs))

	assert.True(t, strings.HasSuffix(strings.TrimRight(buf.String(), "\r\n"), ",9999"))
}
