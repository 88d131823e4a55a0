package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Sternrassler/registry-fetch/internal/cli"
	"github.com/Sternrassler/registry-fetch/pkg/auth"
	"github.com/Sternrassler/registry-fetch/pkg/dispatch"
	"github.com/Sternrassler/registry-fetch/pkg/input"
	"github.com/Sternrassler/registry-fetch/pkg/logging"
	"github.com/Sternrassler/registry-fetch/pkg/mirror"
	"github.com/Sternrassler/registry-fetch/pkg/ratelimit"
	"github.com/Sternrassler/registry-fetch/pkg/registry"
	"github.com/Sternrassler/registry-fetch/pkg/sink"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const cmdName = "registry-fetch"

// App is the registry-fetch command.
type App struct {
	cmd    *cobra.Command
	viper  *viper.Viper
	config appConfig

	ctx    context.Context
	cancel context.CancelFunc
}

// appConfig holds every setting of a run.
type appConfig struct {
	Verbosity int  `mapstructure:"verbose"`
	LogPretty bool `mapstructure:"log-pretty"`

	Workers        int     `mapstructure:"workers"`
	CallsPerSecond float64 `mapstructure:"calls-per-second"`
	MaxRate        float64 `mapstructure:"max-rate"`

	AuthURL     string   `mapstructure:"auth-url"`
	AuthHeaders []string `mapstructure:"auth-header"`
	FetchURL    string   `mapstructure:"fetch-url"`
	Agent       string   `mapstructure:"agent"`

	RequestTimeout time.Duration `mapstructure:"request-timeout"`

	Input      string `mapstructure:"input"`
	OutputCSV  string `mapstructure:"output-csv"`
	OutputJSON string `mapstructure:"output-json"`

	RedisAddr     string        `mapstructure:"redis-addr"`
	RedisPassword string        `mapstructure:"redis-password"`
	RedisDB       int           `mapstructure:"redis-db"`
	MirrorTTL     time.Duration `mapstructure:"mirror-ttl"`

	MetricsAddr string `mapstructure:"metrics-addr"`
}

// defaultConfig mirrors the flag defaults.
func defaultConfig() appConfig {
	return appConfig{
		Workers:        dispatch.DefaultConfig().Workers,
		CallsPerSecond: 300,
		Input:          "ids.csv",
		OutputCSV:      "responses.csv",
		OutputJSON:     "responses.json",
		RequestTimeout: 30 * time.Second,
		MirrorTTL:      24 * time.Hour,
	}
}

// New creates the command with its flags bound to viper.
func New() (*App, error) {
	a := App{}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	a.cmd = &cobra.Command{
		Use:   cmdName,
		Short: "Fetch client registry records for a list of identifiers",
		Long: `Fetch client registry records for every identifier in the input CSV.

Each lookup requests a fresh token from the auth endpoint before querying the
fetch endpoint; tokens are never reused. Results are streamed to a CSV table as
they complete and written once to a JSON document when all lookups are done.

Settings can be given as flags, REGISTRY_FETCH_* environment variables or a
registry-fetch.yaml configuration file.`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			cli.SetVerbosity(a.config.Verbosity, a.config.LogPretty) // Set verbosity before loading config
			if err := cli.InitViperConfig(cmdName, a.cmd, a.viper); err != nil {
				return err
			}
			if err := a.viper.Unmarshal(&a.config); err != nil {
				return fmt.Errorf("unable to decode configuration into struct: %w", err)
			}

			cli.SetVerbosity(a.config.Verbosity, a.config.LogPretty)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cmd.SilenceUsage = true

			return a.run()
		},
	}
	a.viper = viper.New()
	a.cmd.CompletionOptions.HiddenDefaultCmd = true

	installFlags(&a)
	cli.InstallConfigFlag(a.cmd)

	if err := a.viper.BindPFlags(a.cmd.PersistentFlags()); err != nil {
		return nil, err
	}
	if err := a.viper.BindPFlags(a.cmd.Flags()); err != nil {
		return nil, err
	}

	return &a, nil
}

func installFlags(app *App) {
	cmd := app.cmd
	def := defaultConfig()

	cmd.PersistentFlags().CountVarP(&app.config.Verbosity, "verbose", "v", "issue DEBUG (-v), TRACE (-vv)")
	cmd.PersistentFlags().BoolVar(&app.config.LogPretty, "log-pretty", false, "human-readable console logs instead of JSON")

	cmd.Flags().IntVar(&app.config.Workers, "workers", def.Workers, "number of concurrent lookups")
	cmd.Flags().Float64Var(&app.config.CallsPerSecond, "calls-per-second", def.CallsPerSecond, "aggregate call budget shared by all workers (0 disables pacing)")
	cmd.Flags().Float64Var(&app.config.MaxRate, "max-rate", def.MaxRate, "hard ceiling on lookups per second across all workers (0 disables)")

	cmd.Flags().StringVar(&app.config.AuthURL, "auth-url", def.AuthURL, "token endpoint URL, including any query parameters")
	cmd.Flags().StringArrayVar(&app.config.AuthHeaders, "auth-header", nil, "static header sent to the token endpoint as key=value (repeatable)")
	cmd.Flags().StringVar(&app.config.FetchURL, "fetch-url", def.FetchURL, "registry fetch endpoint URL")
	cmd.Flags().StringVar(&app.config.Agent, "agent", def.Agent, "agent code sent with every lookup")
	cmd.Flags().DurationVar(&app.config.RequestTimeout, "request-timeout", def.RequestTimeout, "deadline for one lookup including authentication (0 disables)")

	cmd.Flags().StringVarP(&app.config.Input, "input", "i", def.Input, "CSV file with one identifier in the first column of each row")
	cmd.Flags().StringVar(&app.config.OutputCSV, "output-csv", def.OutputCSV, "CSV table written as lookups complete")
	cmd.Flags().StringVar(&app.config.OutputJSON, "output-json", def.OutputJSON, "JSON document written when all lookups are done")

	cmd.Flags().StringVar(&app.config.RedisAddr, "redis-addr", def.RedisAddr, "Redis address to mirror results to (empty disables)")
	cmd.Flags().StringVar(&app.config.RedisPassword, "redis-password", def.RedisPassword, "Redis password")
	cmd.Flags().IntVar(&app.config.RedisDB, "redis-db", def.RedisDB, "Redis database")
	cmd.Flags().DurationVar(&app.config.MirrorTTL, "mirror-ttl", def.MirrorTTL, "expiry of mirrored results (0 keeps them)")

	cmd.Flags().StringVar(&app.config.MetricsAddr, "metrics-addr", def.MetricsAddr, "address serving /metrics and /health (empty disables)")

	for _, name := range []string{"input", "output-csv", "output-json"} {
		if err := cmd.MarkFlagFilename(name); err != nil {
			// This should never happen.
			panic(fmt.Sprintf("failed to mark %s flag as filename: %v", name, err))
		}
	}
}

// Run executes the command and associated process, returning an error if any.
func (a *App) Run() error {
	return a.cmd.Execute()
}

// UsageError returns if the error is a command parsing or runtime one.
func (a *App) UsageError() bool {
	return !a.cmd.SilenceUsage
}

// Quit stops submitting lookups. Running lookups finish and the partial
// document is still written.
func (a *App) Quit() {
	a.cancel()
}

// RootCmd returns the root command.
func (a *App) RootCmd() *cobra.Command {
	return a.cmd
}

// validate checks the configuration and returns the parsed auth headers.
func (c appConfig) validate() (map[string]string, error) {
	if c.AuthURL == "" {
		return nil, fmt.Errorf("auth-url is required")
	}
	if c.FetchURL == "" {
		return nil, fmt.Errorf("fetch-url is required")
	}
	if c.Agent == "" {
		return nil, fmt.Errorf("agent is required")
	}
	if c.Workers <= 0 {
		return nil, fmt.Errorf("workers must be > 0 (got %d)", c.Workers)
	}
	if c.CallsPerSecond < 0 {
		return nil, fmt.Errorf("calls-per-second must be >= 0 (got %g)", c.CallsPerSecond)
	}
	if c.MaxRate < 0 {
		return nil, fmt.Errorf("max-rate must be >= 0 (got %g)", c.MaxRate)
	}
	if c.RequestTimeout < 0 {
		return nil, fmt.Errorf("request-timeout must be >= 0 (got %s)", c.RequestTimeout)
	}
	if c.MirrorTTL < 0 {
		return nil, fmt.Errorf("mirror-ttl must be >= 0 (got %s)", c.MirrorTTL)
	}
	if c.OutputCSV == "" || c.OutputJSON == "" {
		return nil, fmt.Errorf("output-csv and output-json are required")
	}

	return parseHeaders(c.AuthHeaders)
}

// parseHeaders turns key=value pairs into a header map.
func parseHeaders(pairs []string) (map[string]string, error) {
	headers := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid auth-header %q: want key=value", pair)
		}
		headers[key] = value
	}
	return headers, nil
}

func (a *App) run() error {
	cfg := a.config
	headers, err := cfg.validate()
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	logger := logging.NewLogger(cmdName).With().Str("run_id", runID).Logger()

	ids, err := input.Load(cfg.Input)
	if err != nil {
		return fmt.Errorf("load identifiers: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.Workers
	httpClient := &http.Client{Transport: transport}

	authenticator, err := auth.New(auth.Config{URL: cfg.AuthURL, Headers: headers}, httpClient)
	if err != nil {
		return err
	}

	fetcher, err := registry.New(registry.Config{
		URL:            cfg.FetchURL,
		Agent:          cfg.Agent,
		RequestTimeout: cfg.RequestTimeout,
	}, authenticator, httpClient)
	if err != nil {
		return err
	}

	pacer, err := ratelimit.NewPacer(ratelimit.Config{
		CallsPerSecond: cfg.CallsPerSecond,
		Workers:        cfg.Workers,
		MaxRate:        cfg.MaxRate,
	}, logging.NewLogger("pacer"))
	if err != nil {
		return err
	}

	// Connect before opening the outputs so an unreachable Redis leaves the
	// previous run's files untouched.
	var (
		redisClient  *redis.Client
		resultMirror *mirror.Mirror
	)
	if cfg.RedisAddr != "" {
		redisClient, err = connectRedis(a.ctx, cfg)
		if err != nil {
			return err
		}
		defer redisClient.Close()

		resultMirror, err = mirror.New(redisClient, mirror.Config{RunID: runID, TTL: cfg.MirrorTTL})
		if err != nil {
			return err
		}
	}

	out, err := sink.Open(sink.Config{
		TablePath:    cfg.OutputCSV,
		DocumentPath: cfg.OutputJSON,
		Total:        len(ids),
	})
	if err != nil {
		return fmt.Errorf("open outputs: %w", err)
	}
	defer func() {
		if err := out.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close CSV table")
		}
	}()

	d, err := dispatch.New(dispatch.Config{Workers: cfg.Workers}, fetcher, out, pacer)
	if err != nil {
		return err
	}
	if resultMirror != nil {
		d.SetMirror(resultMirror)
		logger.Info().Str("redis_addr", cfg.RedisAddr).Msg("Mirroring results to Redis")
	}

	if cfg.MetricsAddr != "" {
		srv := newServer(cfg.MetricsAddr, redisClient)
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("Starting metrics server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn().Err(err).Msg("Metrics server shutdown failed")
			}
		}()
	}

	logger.Info().
		Int("identifiers", len(ids)).
		Str("input", cfg.Input).
		Str("output_csv", cfg.OutputCSV).
		Str("output_json", cfg.OutputJSON).
		Msg("Starting run")

	if err := d.Run(a.ctx, ids); err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("run interrupted after %d of %d identifiers: %w", out.Completed(), len(ids), err)
		}
		return err
	}

	logger.Info().Int("completed", out.Completed()).Msg("Run complete")
	return nil
}

// connectRedis creates the mirror's client. An unreachable server is fatal.
func connectRedis(ctx context.Context, cfg appConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisAddr, err)
	}
	return client, nil
}
