// Package registry looks up client records in the remote registry and
// normalizes each response into a Result.
package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Sternrassler/registry-fetch/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for registry lookups.
var (
	fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_fetch_total",
		Help: "Total registry lookups by outcome class",
	}, []string{"outcome"})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "registry_fetch_duration_seconds",
		Help:    "Registry lookup duration in seconds, authentication included",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})
)

// Fixed query parameters sent with every lookup.
const (
	paramCustomValidation = "custom_validation_payload"
	paramDynamicIDSearch  = "dynamic_id_search"
	paramAgent            = "agent"
	paramID               = "id"
)

// TokenSource issues one access token per call.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Config holds the fetch endpoint settings.
type Config struct {
	// URL of the fetch endpoint.
	URL string

	// Agent is the static agent identifier sent with every lookup.
	Agent string

	// RequestTimeout bounds authentication plus fetch for one identifier.
	// Zero disables the deadline.
	RequestTimeout time.Duration
}

// DefaultConfig returns a configuration with a 30s per-lookup deadline.
func DefaultConfig(url, agent string) Config {
	return Config{
		URL:            url,
		Agent:          agent,
		RequestTimeout: 30 * time.Second,
	}
}

// Fetcher performs registry lookups.
type Fetcher struct {
	httpClient *http.Client
	tokens     TokenSource
	config     Config
	logger     zerolog.Logger
}

// New creates a Fetcher. A nil httpClient selects http.DefaultClient.
func New(cfg Config, tokens TokenSource, httpClient *http.Client) (*Fetcher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("fetch url is required")
	}
	if cfg.Agent == "" {
		return nil, fmt.Errorf("agent is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	if cfg.RequestTimeout < 0 {
		return nil, fmt.Errorf("request_timeout must be >= 0 (got %s)", cfg.RequestTimeout)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Fetcher{
		httpClient: httpClient,
		tokens:     tokens,
		config:     cfg,
		logger:     logging.NewLogger("registry-fetcher"),
	}, nil
}

// Fetch looks up one identifier. It never fails: every problem is recorded
// in the returned Result.
func (f *Fetcher) Fetch(ctx context.Context, id string) Result {
	startTime := time.Now()

	if f.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.config.RequestTimeout)
		defer cancel()
	}

	result, class := f.fetch(ctx, id)

	fetchDuration.Observe(time.Since(startTime).Seconds())
	fetchTotal.WithLabelValues(string(class)).Inc()

	switch class {
	case ErrorClassAuth, ErrorClassTransport:
		f.logger.Warn().
			Str("id", id).
			Str("error_class", string(class)).
			Str("error", result.ErrorText()).
			Msg("Lookup failed")
	default:
		f.logger.Debug().
			Str("id", id).
			Str("status", result.StatusText()).
			Str("error_class", string(class)).
			Dur("duration", time.Since(startTime)).
			Msg("Lookup complete")
	}

	return result
}

func (f *Fetcher) fetch(ctx context.Context, id string) (Result, ErrorClass) {
	// A fresh token per lookup; tokens are never reused.
	token, err := f.tokens.Token(ctx)
	if err != nil {
		return Failed(id, err), classifyFailure(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.config.URL, nil)
	if err != nil {
		return Failed(id, fmt.Errorf("create request: %w", err)), ErrorClassTransport
	}

	query := req.URL.Query()
	query.Set(paramCustomValidation, "1")
	query.Set(paramDynamicIDSearch, "1")
	query.Set(paramAgent, f.config.Agent)
	query.Set(paramID, id)
	req.URL.RawQuery = query.Encode()

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Failed(id, err), ErrorClassTransport
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return remoteFailure(id, resp.StatusCode), ErrorClassRemote
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Failed(id, fmt.Errorf("read response: %w", err)), ErrorClassTransport
	}

	result := Normalize(id, resp.StatusCode, body)
	return result, Classify(result)
}
