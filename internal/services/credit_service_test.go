package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedgerMock(t *testing.T) (pgxmock.PgxPoolIface, *CreditService) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, &CreditService{pool: mock}
}

func TestConsumeInsufficientCredits(t *testing.T) {
	mock, svc := newLedgerMock(t)
	toolID, userID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, metadata FROM credit_transactions").
		WithArgs(toolID, "req-1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT credits_balance FROM user_profiles").
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"credits_balance"}).AddRow(int64(30)))
	mock.ExpectRollback()

	_, err := svc.Consume(context.Background(), toolID, userID, 50, "api call", "req-1")

	var insufficient *InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.EqualValues(t, 30, insufficient.CurrentBalance)
	assert.EqualValues(t, 50, insufficient.Required)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeIdempotentReplay(t *testing.T) {
	mock, svc := newLedgerMock(t)
	toolID, userID := uuid.New(), uuid.New()
	originalTx := uuid.New()

	// The stored subtract row carries the original new_balance in metadata
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, metadata FROM credit_transactions").
		WithArgs(toolID, "req-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "metadata"}).
			AddRow(originalTx, []byte(`{"new_balance":70}`)))
	mock.ExpectRollback()

	result, err := svc.Consume(context.Background(), toolID, userID, 50, "api call", "req-1")
	require.NoError(t, err)

	assert.True(t, result.IsDuplicate)
	assert.Equal(t, originalTx, result.TransactionID)
	assert.EqualValues(t, 70, result.NewBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeRaceLoserReturnsWinnerRow(t *testing.T) {
	mock, svc := newLedgerMock(t)
	toolID, userID := uuid.New(), uuid.New()
	winnerTx := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, metadata FROM credit_transactions").
		WithArgs(toolID, "req-1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT credits_balance FROM user_profiles").
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"credits_balance"}).AddRow(int64(100)))
	mock.ExpectExec("UPDATE user_profiles").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	// ON CONFLICT DO NOTHING returns no row when a concurrent retry won
	mock.ExpectQuery("INSERT INTO credit_transactions").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT id, metadata FROM credit_transactions").
		WithArgs(toolID, "req-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "metadata"}).
			AddRow(winnerTx, []byte(`{"new_balance":50}`)))
	mock.ExpectRollback()

	result, err := svc.Consume(context.Background(), toolID, userID, 50, "api call", "req-1")
	require.NoError(t, err)

	assert.True(t, result.IsDuplicate)
	assert.Equal(t, winnerTx, result.TransactionID)
	assert.EqualValues(t, 50, result.NewBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeSuccess(t *testing.T) {
	mock, svc := newLedgerMock(t)
	toolID, userID, vendorID := uuid.New(), uuid.New(), uuid.New()
	txID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, metadata FROM credit_transactions").
		WithArgs(toolID, "req-1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT credits_balance FROM user_profiles").
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"credits_balance"}).AddRow(int64(100)))
	mock.ExpectExec("UPDATE user_profiles").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("INSERT INTO credit_transactions").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(txID))
	mock.ExpectQuery("SELECT vendor_id FROM tools").
		WithArgs(toolID).
		WillReturnRows(pgxmock.NewRows([]string{"vendor_id"}).AddRow(vendorID))
	mock.ExpectExec("UPDATE user_profiles").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	result, err := svc.Consume(context.Background(), toolID, userID, 50, "api call", "req-1")
	require.NoError(t, err)

	assert.False(t, result.IsDuplicate)
	assert.Equal(t, txID, result.TransactionID)
	assert.EqualValues(t, 50, result.NewBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeWithoutKeySkipsDedup(t *testing.T) {
	mock, svc := newLedgerMock(t)
	toolID, userID, vendorID := uuid.New(), uuid.New(), uuid.New()
	txID := uuid.New()

	// No replay lookup: the balance check is the first statement in the tx
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT credits_balance FROM user_profiles").
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"credits_balance"}).AddRow(int64(100)))
	mock.ExpectExec("UPDATE user_profiles").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("INSERT INTO credit_transactions").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(txID))
	mock.ExpectQuery("SELECT vendor_id FROM tools").
		WithArgs(toolID).
		WillReturnRows(pgxmock.NewRows([]string{"vendor_id"}).AddRow(vendorID))
	mock.ExpectExec("UPDATE user_profiles").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	result, err := svc.Consume(context.Background(), toolID, userID, 25, "api call", "")
	require.NoError(t, err)

	assert.False(t, result.IsDuplicate)
	assert.EqualValues(t, 75, result.NewBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeUserNotFound(t *testing.T) {
	mock, svc := newLedgerMock(t)
	toolID, userID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT credits_balance FROM user_profiles").
		WithArgs(userID).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := svc.Consume(context.Background(), toolID, userID, 10, "", "")
	assert.True(t, errors.Is(err, ErrUserNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
