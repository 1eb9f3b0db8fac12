package workers

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffGrowth(t *testing.T) {
	// Jitter adds up to a second, so check the base is in range
	for attempt, base := range map[int]time.Duration{
		1: 1 * time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
		4: 8 * time.Second,
		5: 16 * time.Second,
	} {
		d := Backoff(attempt)
		assert.GreaterOrEqual(t, d, base, "attempt %d", attempt)
		assert.Less(t, d, base+time.Second+time.Millisecond, "attempt %d", attempt)
	}
}

func TestBackoffCapped(t *testing.T) {
	for _, attempt := range []int{6, 7, 10, 30} {
		d := Backoff(attempt)
		assert.LessOrEqual(t, d, 30*time.Second, "attempt %d", attempt)
		assert.GreaterOrEqual(t, d, 30*time.Second, "attempt %d", attempt)
	}
}

func TestDispatchBatchReclaimsStrandedDeliveries(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	w := &WebhookDispatcher{db: mock, batchSize: 25}

	// The claim must cover 'delivering' rows whose next_attempt_at has
	// passed, so a crash between claim and delivery cannot strand them
	mock.ExpectBegin()
	mock.ExpectQuery(`status IN \('pending', 'delivering'\) AND next_attempt_at <= NOW\(\)`).
		WithArgs(25).
		WillReturnRows(pgxmock.NewRows([]string{"id", "tool_id", "event_type", "payload", "attempts"}))
	mock.ExpectRollback()

	w.dispatchBatch(context.Background())

	assert.NoError(t, mock.ExpectationsWereMet())
}
