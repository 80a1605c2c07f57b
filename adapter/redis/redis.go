// Package redis publishes run completion events on a Redis pub/sub
// channel and optionally keeps a capped history list of recent runs.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/FadeVT/Frostband/adapter"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "frostband:run_completed"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// DefaultHistoryLen caps the history list when HistoryKey is set.
const DefaultHistoryLen = 100

// Config configures the Redis adapter.
type Config struct {
	// URL is the connection URL, redis://[:password@]host:port[/db] (required).
	URL string
	// Channel is the pub/sub channel (default frostband:run_completed).
	Channel string
	// HistoryKey, when set, names a list that receives every event, newest first.
	HistoryKey string
	// HistoryLen caps the history list (default 100).
	HistoryLen int64
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retries after the first attempt.
	Retries int
}

// Adapter publishes run completion events via Redis.
type Adapter struct {
	cfg    Config
	client *goredis.Client
}

// New validates cfg and returns an adapter. No connection is made until
// the first Publish.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HistoryLen <= 0 {
		cfg.HistoryLen = DefaultHistoryLen
	}
	return &Adapter{cfg: cfg, client: goredis.NewClient(opts)}, nil
}

// Publish sends event as JSON, retrying with exponential backoff.
func (a *Adapter) Publish(ctx context.Context, event *adapter.RunCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	attempts := 1 + a.cfg.Retries
	var lastErr error
	for i := range attempts {
		if i > 0 {
			if err := adapter.Sleep(ctx, adapter.Backoff(i)); err != nil {
				return fmt.Errorf("redis: canceled during backoff: %w", err)
			}
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}

		pubCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		lastErr = a.send(pubCtx, body)
		cancel()
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

func (a *Adapter) send(ctx context.Context, body []byte) error {
	if a.cfg.HistoryKey == "" {
		return a.client.Publish(ctx, a.cfg.Channel, body).Err()
	}
	_, err := a.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.LPush(ctx, a.cfg.HistoryKey, body)
		p.LTrim(ctx, a.cfg.HistoryKey, 0, a.cfg.HistoryLen-1)
		p.Publish(ctx, a.cfg.Channel, body)
		return nil
	})
	return err
}

// History returns up to n recent events from the history list, newest first.
func (a *Adapter) History(ctx context.Context, n int64) ([]adapter.RunCompletedEvent, error) {
	if a.cfg.HistoryKey == "" {
		return nil, errors.New("redis: no history key configured")
	}
	raw, err := a.client.LRange(ctx, a.cfg.HistoryKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read history: %w", err)
	}
	events := make([]adapter.RunCompletedEvent, 0, len(raw))
	for _, r := range raw {
		var ev adapter.RunCompletedEvent
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			return nil, fmt.Errorf("redis: decode history: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// Close releases the connection pool.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
