package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/registry-fetch/pkg/registry"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound indicates no mirrored result exists for the key.
var ErrNotFound = errors.New("result not mirrored")

// Config holds mirror configuration.
type Config struct {
	// RunID namespaces all keys written by this mirror.
	RunID string

	// TTL applies to every key; zero keeps keys forever.
	TTL time.Duration
}

// DefaultConfig keeps mirrored results for a day.
func DefaultConfig(runID string) Config {
	return Config{
		RunID: runID,
		TTL:   24 * time.Hour,
	}
}

// Mirror publishes results to Redis.
type Mirror struct {
	redis  *redis.Client
	config Config
}

// New creates a Mirror.
func New(redisClient *redis.Client, cfg Config) (*Mirror, error) {
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.RunID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("ttl must be >= 0 (got %s)", cfg.TTL)
	}

	return &Mirror{
		redis:  redisClient,
		config: cfg,
	}, nil
}

// RunID returns the run id keys are namespaced by.
func (m *Mirror) RunID() string {
	return m.config.RunID
}

// Publish stores r, appends its id to the completion list and bumps the
// counter in a single pipeline.
func (m *Mirror) Publish(ctx context.Context, r registry.Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		Errors.WithLabelValues("publish").Inc()
		return fmt.Errorf("marshal result: %w", err)
	}

	completedKey := CompletedKey(m.config.RunID)
	countKey := CountKey(m.config.RunID)

	pipe := m.redis.TxPipeline()
	pipe.Set(ctx, Key{RunID: m.config.RunID, ID: r.ID}.String(), data, m.config.TTL)
	pipe.RPush(ctx, completedKey, r.ID)
	pipe.Incr(ctx, countKey)
	if m.config.TTL > 0 {
		pipe.Expire(ctx, completedKey, m.config.TTL)
		pipe.Expire(ctx, countKey, m.config.TTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		Errors.WithLabelValues("publish").Inc()
		return fmt.Errorf("redis publish: %w", err)
	}

	Published.Inc()
	return nil
}

// Get reads back a mirrored result.
// Returns ErrNotFound if the key doesn't exist or has expired.
func (m *Mirror) Get(ctx context.Context, id string) (*registry.Result, error) {
	data, err := m.redis.Get(ctx, Key{RunID: m.config.RunID, ID: id}.String()).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		Errors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var r registry.Result
	if err := json.Unmarshal(data, &r); err != nil {
		Errors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &r, nil
}

// Count returns the number of results published for the run.
func (m *Mirror) Count(ctx context.Context) (int64, error) {
	n, err := m.redis.Get(ctx, CountKey(m.config.RunID)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		Errors.WithLabelValues("count").Inc()
		return 0, fmt.Errorf("redis get count: %w", err)
	}
	return n, nil
}

// Completed returns the identifiers published for the run, in completion order.
func (m *Mirror) Completed(ctx context.Context) ([]string, error) {
	ids, err := m.redis.LRange(ctx, CompletedKey(m.config.RunID), 0, -1).Result()
	if err != nil {
		Errors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	return ids, nil
}
