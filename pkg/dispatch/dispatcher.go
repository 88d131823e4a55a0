package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/registry-fetch/pkg/logging"
	"github.com/Sternrassler/registry-fetch/pkg/registry"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for dispatching.
var (
	infrastructureFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registry_dispatch_infrastructure_failures_total",
		Help: "Total tasks that failed outside the fetcher (crashes, rejected submissions)",
	})

	tasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "registry_dispatch_tasks_in_flight",
		Help: "Lookups currently running",
	})
)

// Fetcher looks up one identifier.
type Fetcher interface {
	Fetch(ctx context.Context, id string) registry.Result
}

// Sink receives every result.
type Sink interface {
	Record(r registry.Result) (int, error)
	Flush() error
}

// Pacer throttles workers.
type Pacer interface {
	Admit(ctx context.Context) error
	Pause(ctx context.Context) error
}

// Mirror optionally publishes results outside the process.
type Mirror interface {
	Publish(ctx context.Context, r registry.Result) error
}

// Config holds dispatcher configuration.
type Config struct {
	// Workers is the fixed pool size.
	Workers int
}

// DefaultConfig returns the default pool size.
func DefaultConfig() Config {
	return Config{
		Workers: 20,
	}
}

// Dispatcher fans lookups out to a worker pool.
type Dispatcher struct {
	fetcher Fetcher
	sink    Sink
	pacer   Pacer
	mirror  Mirror
	config  Config
	logger  zerolog.Logger

	succeeded atomic.Int64
	failed    atomic.Int64
}

// New creates a Dispatcher.
func New(cfg Config, fetcher Fetcher, sink Sink, pacer Pacer) (*Dispatcher, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if pacer == nil {
		return nil, fmt.Errorf("pacer is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}

	return &Dispatcher{
		fetcher: fetcher,
		sink:    sink,
		pacer:   pacer,
		config:  cfg,
		logger:  logging.NewLogger("dispatcher"),
	}, nil
}

// SetMirror enables publishing of every recorded result.
func (d *Dispatcher) SetMirror(m Mirror) {
	d.mirror = m
}

// Run looks up every identifier and flushes the sink once all tasks are
// done. When ctx is cancelled no further tasks are submitted, running tasks
// drain, the partial document is flushed and ctx.Err() is returned.
func (d *Dispatcher) Run(ctx context.Context, ids []string) error {
	start := time.Now()

	d.logger.Info().
		Int("total", len(ids)).
		Int("workers", d.config.Workers).
		Msg("Starting dispatch")

	pool, err := ants.NewPool(d.config.Workers, ants.WithOptions(ants.Options{
		// Submit blocks until a worker is free.
		Nonblocking:    false,
		ExpiryDuration: 10 * time.Second,
	}))
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	submitted := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			d.process(ctx, id)
		})
		if submitErr != nil {
			wg.Done()
			d.infrastructureFailure(ctx, id, fmt.Errorf("submit task: %w", submitErr))
		}
		submitted++
	}

	wg.Wait()

	if err := d.sink.Flush(); err != nil {
		return fmt.Errorf("flush document: %w", err)
	}

	logEvent := d.logger.Info()
	if ctx.Err() != nil {
		logEvent = d.logger.Warn().Int("skipped", len(ids)-submitted)
	}
	logEvent.
		Int("submitted", submitted).
		Int("total", len(ids)).
		Int64("succeeded", d.succeeded.Load()).
		Int64("failed", d.failed.Load()).
		Dur("duration", time.Since(start)).
		Msg("Dispatch complete")

	return ctx.Err()
}

// process is one worker task: admit, fetch, record, pause.
func (d *Dispatcher) process(ctx context.Context, id string) {
	recorded := false
	defer func() {
		if r := recover(); r != nil {
			if recorded {
				d.logger.Error().Str("id", id).Interface("panic", r).Msg("Task crashed after recording")
				infrastructureFailures.Inc()
				return
			}
			d.infrastructureFailure(ctx, id, fmt.Errorf("%v", r))
		}
	}()

	tasksInFlight.Inc()
	defer tasksInFlight.Dec()

	var result registry.Result
	if err := d.pacer.Admit(ctx); err != nil {
		result = registry.Failed(id, err)
	} else {
		result = d.fetcher.Fetch(ctx, id)
	}

	// From here on the identifier owns its row, even if recording panics.
	recorded = true
	d.record(ctx, result)

	if err := d.pacer.Pause(ctx); err != nil {
		d.logger.Debug().Err(err).Str("id", id).Msg("Pause interrupted")
	}
}

// record hands result to the sink and the mirror. Panics in either are
// contained so a result is never recorded twice.
func (d *Dispatcher) record(ctx context.Context, result registry.Result) {
	if result.OK() {
		d.succeeded.Add(1)
	} else {
		d.failed.Add(1)
	}

	d.contain(result.ID, "record", func() {
		if _, err := d.sink.Record(result); err != nil {
			d.logger.Error().Err(err).Str("id", result.ID).Msg("Failed to record result")
		}
	})

	if d.mirror != nil {
		d.contain(result.ID, "mirror", func() {
			// Results drained after cancellation are still mirrored.
			if err := d.mirror.Publish(context.WithoutCancel(ctx), result); err != nil {
				d.logger.Warn().Err(err).Str("id", result.ID).Msg("Failed to mirror result")
			}
		})
	}
}

// contain runs fn and turns a panic into a logged infrastructure failure.
func (d *Dispatcher) contain(id, stage string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			infrastructureFailures.Inc()
			d.logger.Error().
				Str("id", id).
				Str("stage", stage).
				Interface("panic", r).
				Msg("Task crashed while recording")
		}
	}()
	fn()
}

// infrastructureFailure records a synthetic failed result so the identifier
// still gets its row.
func (d *Dispatcher) infrastructureFailure(ctx context.Context, id string, cause error) {
	infrastructureFailures.Inc()
	d.logger.Error().
		Err(cause).
		Str("id", id).
		Str("error_class", string(registry.ErrorClassInfrastructure)).
		Msg("Error processing ID")

	d.record(ctx, registry.Failed(id, fmt.Errorf("internal error: %w", cause)))
}
