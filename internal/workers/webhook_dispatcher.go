package workers

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/1sub-io/vendor-api/internal/config"
	"github.com/1sub-io/vendor-api/internal/models"
	"github.com/1sub-io/vendor-api/internal/services"
)

const (
	backoffBase = 1 * time.Second
	backoffCap  = 30 * time.Second
)

// queuePool is the pool surface the dispatcher uses. *pgxpool.Pool satisfies
// it; tests substitute a mock.
type queuePool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// WebhookDispatcher delivers queued webhook events to vendor endpoints
// with signed payloads and exponential backoff on failure
type WebhookDispatcher struct {
	db          queuePool
	keys        *services.KeyService
	interval    time.Duration
	batchSize   int
	maxAttempts int
	client      *http.Client
	limiter     *rate.Limiter
}

// NewWebhookDispatcher creates a new dispatcher worker
func NewWebhookDispatcher(db *pgxpool.Pool, keys *services.KeyService, cfg *config.Config) *WebhookDispatcher {
	return &WebhookDispatcher{
		db:          db,
		keys:        keys,
		interval:    cfg.DispatchInterval,
		batchSize:   cfg.DispatchBatchSize,
		maxAttempts: cfg.DispatchMaxAttempts,
		client:      &http.Client{Timeout: 10 * time.Second},
		limiter:     rate.NewLimiter(rate.Limit(cfg.DispatchRate), int(cfg.DispatchRate)),
	}
}

// Start begins the periodic dispatch loop
func (w *WebhookDispatcher) Start(ctx context.Context) {
	log.Info().
		Dur("interval", w.interval).
		Int("batchSize", w.batchSize).
		Int("maxAttempts", w.maxAttempts).
		Msg("Starting Webhook Dispatcher worker")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Webhook Dispatcher worker stopped")
			return
		case <-ticker.C:
			w.dispatchBatch(ctx)
		}
	}
}

// dispatchBatch claims due events and delivers them concurrently. Claiming
// uses SKIP LOCKED so multiple dispatcher instances never double-send.
func (w *WebhookDispatcher) dispatchBatch(ctx context.Context) {
	start := time.Now()

	tx, err := w.db.Begin(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to begin dispatch transaction")
		return
	}
	defer tx.Rollback(ctx)

	// 'delivering' rows past next_attempt_at are claims stranded by a crash;
	// re-claim them alongside fresh pending work
	rows, err := tx.Query(ctx, `
		SELECT id, tool_id, event_type, payload, attempts
		FROM webhook_events
		WHERE status IN ('pending', 'delivering') AND next_attempt_at <= NOW()
		ORDER BY next_attempt_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, w.batchSize)
	if err != nil {
		log.Error().Err(err).Msg("Failed to claim webhook events")
		return
	}

	var events []models.WebhookEvent
	for rows.Next() {
		var ev models.WebhookEvent
		if err := rows.Scan(&ev.ID, &ev.ToolID, &ev.EventType, &ev.Payload, &ev.Attempts); err != nil {
			continue
		}
		events = append(events, ev)
	}
	rows.Close()

	if len(events) == 0 {
		tx.Rollback(ctx)
		return
	}

	// Mark claimed events in-flight so a crash between claim and delivery
	// retries them on the next cycle rather than losing them
	ids := make([]uuid.UUID, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	_, err = tx.Exec(ctx, `
		UPDATE webhook_events
		SET status = 'delivering', attempts = attempts + 1, next_attempt_at = NOW() + INTERVAL '2 minutes'
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		log.Error().Err(err).Msg("Failed to mark events delivering")
		return
	}
	if err := tx.Commit(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to commit event claim")
		return
	}

	var wg sync.WaitGroup
	successCount := 0
	failCount := 0
	var countMu sync.Mutex

	for _, ev := range events {
		wg.Add(1)

		go func(ev models.WebhookEvent) {
			defer wg.Done()

			if err := w.limiter.Wait(ctx); err != nil {
				w.recordFailure(context.Background(), ev, err)
				return
			}

			if err := w.deliver(ctx, ev); err != nil {
				countMu.Lock()
				failCount++
				countMu.Unlock()

				w.recordFailure(context.Background(), ev, err)
			} else {
				countMu.Lock()
				successCount++
				countMu.Unlock()

				w.recordSuccess(context.Background(), ev)
			}
		}(ev)
	}

	wg.Wait()

	log.Debug().
		Int("total", len(events)).
		Int("success", successCount).
		Int("failed", failCount).
		Dur("elapsed", time.Since(start)).
		Msg("Webhook dispatch cycle completed")
}

// deliver signs the payload and POSTs it to the tool's webhook endpoint
func (w *WebhookDispatcher) deliver(ctx context.Context, ev models.WebhookEvent) error {
	url, secret, err := w.keys.WebhookTarget(ctx, ev.ToolID)
	if err != nil {
		return fmt.Errorf("webhook target lookup: %w", err)
	}

	signature := services.Sign(ev.Payload, secret, time.Now())

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(ev.Payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(services.SignatureHeader, signature)
	req.Header.Set("X-1Sub-Event", ev.EventType)
	req.Header.Set("X-1Sub-Delivery", ev.ID.String())

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func (w *WebhookDispatcher) recordSuccess(ctx context.Context, ev models.WebhookEvent) {
	_, err := w.db.Exec(ctx, `
		UPDATE webhook_events
		SET status = 'delivered', delivered_at = NOW()
		WHERE id = $1
	`, ev.ID)
	if err != nil {
		log.Error().Err(err).Str("event_id", ev.ID.String()).Msg("Failed to mark event delivered")
	}
}

// recordFailure schedules a retry with exponential backoff, or marks the
// event failed once attempts are exhausted
func (w *WebhookDispatcher) recordFailure(ctx context.Context, ev models.WebhookEvent, cause error) {
	attempts := ev.Attempts + 1

	if attempts >= w.maxAttempts {
		log.Warn().
			Str("event_id", ev.ID.String()).
			Str("tool_id", ev.ToolID.String()).
			Int("attempts", attempts).
			Err(cause).
			Msg("Webhook delivery abandoned")

		_, err := w.db.Exec(ctx, `
			UPDATE webhook_events
			SET status = 'failed', last_error = $2
			WHERE id = $1
		`, ev.ID, cause.Error())
		if err != nil {
			log.Error().Err(err).Str("event_id", ev.ID.String()).Msg("Failed to mark event failed")
		}
		return
	}

	delay := Backoff(attempts)
	log.Debug().
		Str("event_id", ev.ID.String()).
		Int("attempts", attempts).
		Dur("retry_in", delay).
		Err(cause).
		Msg("Webhook delivery failed, scheduling retry")

	_, err := w.db.Exec(ctx, `
		UPDATE webhook_events
		SET status = 'pending', next_attempt_at = NOW() + $2, last_error = $3
		WHERE id = $1
	`, ev.ID, delay, cause.Error())
	if err != nil {
		log.Error().Err(err).Str("event_id", ev.ID.String()).Msg("Failed to schedule retry")
	}
}

// Backoff returns the retry delay after the given attempt count: base
// doubles each attempt with up to one second of jitter, capped at 30s
func Backoff(attempt int) time.Duration {
	delay := backoffBase * time.Duration(1<<uint(attempt-1))
	if delay > backoffCap {
		delay = backoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	delay += jitter
	if delay > backoffCap {
		delay = backoffCap
	}
	return delay
}
