// Package auth obtains short-lived bearer tokens from the registry
// authentication endpoint.
//
// Tokens are never cached: every call to Token performs one round trip, so
// authentication traffic grows linearly with the number of fetches.
package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for token requests.
var (
	authRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_auth_requests_total",
		Help: "Total token requests by HTTP status (or network_error)",
	}, []string{"status"})

	authRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "registry_auth_duration_seconds",
		Help:    "Token request duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
)

// maxErrorBody caps how much of a rejected response is kept in an Error.
const maxErrorBody = 4096

// Config holds the authentication endpoint settings.
type Config struct {
	// URL of the token endpoint, including any fixed query string.
	URL string

	// Headers are sent verbatim on every token request
	// (typically a static Basic Authorization header).
	Headers map[string]string
}

// Authenticator requests access tokens.
type Authenticator struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates an Authenticator. A nil httpClient selects http.DefaultClient.
func New(cfg Config, httpClient *http.Client) (*Authenticator, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("auth url is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Authenticator{
		httpClient: httpClient,
		config:     cfg,
		logger:     log.With().Str("component", "auth").Logger(),
	}, nil
}

// Token performs a single token request. A non-200 answer yields *Error.
func (a *Authenticator) Token(ctx context.Context) (string, error) {
	startTime := time.Now()
	defer func() {
		authRequestDuration.Observe(time.Since(startTime).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.URL, nil)
	if err != nil {
		return "", fmt.Errorf("create auth request: %w", err)
	}
	for key, value := range a.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		authRequestsTotal.WithLabelValues("network_error").Inc()
		return "", fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	authRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		a.logger.Warn().
			Int("status", resp.StatusCode).
			Msg("Token request rejected")
		return "", &Error{
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read auth response: %w", err)
	}

	a.logger.Trace().Dur("duration", time.Since(startTime)).Msg("Token obtained")

	return strings.TrimSpace(string(body)), nil
}
