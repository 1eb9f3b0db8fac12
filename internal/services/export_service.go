package services

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/1sub-io/vendor-api/internal/models"
)

// ExportTransactionsCSV serializes ledger rows for download. String fields
// are always quoted, numeric fields never are, matching what the dashboard's
// spreadsheet imports expect.
func ExportTransactionsCSV(w io.Writer, txs []models.CreditTransaction) error {
	header := `"transaction_id","date","type","user_id","reason",amount`
	if _, err := io.WriteString(w, header+"\r\n"); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, tx := range txs {
		row := strings.Join([]string{
			quote(tx.ID.String()),
			quote(tx.CreatedAt.UTC().Format(time.RFC3339)),
			quote(tx.Type),
			quote(tx.UserID.String()),
			quote(tx.Reason),
			strconv.FormatInt(tx.Amount, 10),
		}, ",")
		if _, err := io.WriteString(w, row+"\r\n"); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	return nil
}

// quote wraps a string field, doubling embedded quotes per RFC 4180
func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
