package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Limiter enforces per-key request limits using a fixed window in Redis
type Limiter struct {
	client  *redis.Client
	limit   int
	window  time.Duration
	baseKey string
}

// Result reports the outcome of an Allow call
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// New creates a Limiter. limit is requests per minute per key.
func New(redisURL string, limit int, baseKey string) (*Limiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Limiter{
		client:  client,
		limit:   limit,
		window:  60 * time.Second, // 1 minute fixed window
		baseKey: baseKey,
	}, nil
}

// SetLimit updates the rate limit dynamically
func (l *Limiter) SetLimit(limit int) {
	l.limit = limit
}

// Allow counts a request against the caller's current window. It never
// blocks; callers turn a denied result into a 429 with the Retry-After
// taken from the result.
func (l *Limiter) Allow(ctx context.Context, callerKey string) (Result, error) {
	now := time.Now()
	windowKey := fmt.Sprintf("%s:%s:%d", l.baseKey, callerKey, now.Unix()/60)

	count, err := l.client.Incr(ctx, windowKey).Result()
	if err != nil {
		// Fail open: a Redis outage should not take the platform API down
		log.Error().Err(err).Msg("Rate limiter: Redis error, allowing request")
		return Result{Allowed: true, Limit: l.limit, Remaining: 0}, nil
	}

	// Set expiry on first increment
	if count == 1 {
		l.client.Expire(ctx, windowKey, 2*time.Minute)
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	if count <= int64(l.limit) {
		return Result{Allowed: true, Limit: l.limit, Remaining: remaining}, nil
	}

	retryAfter := time.Until(now.Truncate(time.Minute).Add(time.Minute))
	if retryAfter < time.Second {
		retryAfter = time.Second
	}

	return Result{
		Allowed:    false,
		Limit:      l.limit,
		Remaining:  0,
		RetryAfter: retryAfter,
	}, nil
}

// Close closes the Redis client
func (l *Limiter) Close() error {
	return l.client.Close()
}
