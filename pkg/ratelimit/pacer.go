// Package ratelimit paces registry lookups.
//
// The per-worker pause is advisory: each worker waits a fixed interval after
// every completed lookup, and the aggregate throughput is workers/interval.
// An optional shared ceiling caps the aggregate rate across all workers.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for pacing.
var (
	rateLimitWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "registry_rate_limit_wait_seconds",
		Help:    "Time workers spent waiting on the rate limiter by stage",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"stage"}) // "pause", "admit"
)

// Config holds pacing configuration.
type Config struct {
	// CallsPerSecond is the aggregate budget, split evenly across Workers.
	// Zero disables the per-worker pause.
	CallsPerSecond float64

	// Workers is the number of concurrent workers sharing the budget.
	Workers int

	// MaxRate is a hard ceiling in calls per second shared by all workers.
	// Zero disables the ceiling.
	MaxRate float64
}

// Interval returns the pause each worker takes after a lookup so that
// workers together stay within callsPerSecond.
func Interval(callsPerSecond float64, workers int) time.Duration {
	if callsPerSecond <= 0 || workers <= 0 {
		return 0
	}
	return time.Duration(float64(workers) / callsPerSecond * float64(time.Second))
}

// Pacer applies the per-worker pause and the optional shared ceiling.
type Pacer struct {
	interval time.Duration
	ceiling  *rate.Limiter
	logger   zerolog.Logger
}

// NewPacer creates a Pacer.
func NewPacer(cfg Config, logger zerolog.Logger) (*Pacer, error) {
	if cfg.CallsPerSecond < 0 {
		return nil, fmt.Errorf("calls_per_second must be >= 0 (got %g)", cfg.CallsPerSecond)
	}
	if cfg.MaxRate < 0 {
		return nil, fmt.Errorf("max_rate must be >= 0 (got %g)", cfg.MaxRate)
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("workers must be > 0 (got %d)", cfg.Workers)
	}

	p := &Pacer{
		interval: Interval(cfg.CallsPerSecond, cfg.Workers),
		logger:   logger,
	}
	if cfg.MaxRate > 0 {
		p.ceiling = rate.NewLimiter(rate.Limit(cfg.MaxRate), 1)
	}

	logger.Debug().
		Dur("interval", p.interval).
		Float64("max_rate", cfg.MaxRate).
		Msg("Pacer configured")

	return p, nil
}

// Interval returns the per-worker pause.
func (p *Pacer) Interval() time.Duration {
	return p.interval
}

// Pause blocks the calling worker for the per-worker interval.
func (p *Pacer) Pause(ctx context.Context) error {
	if p.interval <= 0 {
		return nil
	}

	startTime := time.Now()
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	rateLimitWait.WithLabelValues("pause").Observe(time.Since(startTime).Seconds())
	return nil
}

// Admit blocks until the shared ceiling allows one more lookup.
func (p *Pacer) Admit(ctx context.Context) error {
	if p.ceiling == nil {
		return nil
	}

	startTime := time.Now()
	if err := p.ceiling.Wait(ctx); err != nil {
		return fmt.Errorf("wait for rate ceiling: %w", err)
	}

	waited := time.Since(startTime)
	rateLimitWait.WithLabelValues("admit").Observe(waited.Seconds())
	if waited > time.Second {
		p.logger.Warn().Dur("waited", waited).Msg("Rate ceiling throttling lookups")
	}
	return nil
}
