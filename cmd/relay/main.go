// Command relay sends generation requests to a weighted pool of LLM backends,
// failing over between them and learning which ones perform best.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aschepis/backscratcher/relay/config"
	"github.com/aschepis/backscratcher/relay/failover"
	"github.com/aschepis/backscratcher/relay/llm"
	relaylogger "github.com/aschepis/backscratcher/relay/logger"
	"github.com/aschepis/backscratcher/relay/observe"
	"github.com/aschepis/backscratcher/relay/perf"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const usage = `Usage: relay [flags] <command> [args]

Commands:
  generate [--no-stream] [--system text] [--max-tokens n] <prompt>
  count <prompt>
  embed <text>
  stats
  probe
  models

Flags:
`

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds everything a command needs.
type app struct {
	cfg        *config.Config
	tracker    *perf.Tracker
	controller *failover.Controller
	model      string
	logger     zerolog.Logger
}

func run() error {
	var (
		configPath  = flag.String("config", config.GetConfigPath(), "Path to config file")
		logFile     = flag.String("logfile", "", "Path to log file. If not set, logs to stderr")
		pretty      = flag.Bool("pretty", false, "Use pretty console output (only valid when logfile is not set)")
		model       = flag.String("model", "", "Model to request, overriding backend defaults")
		metricsAddr = flag.String("metrics-addr", "", "Address to expose Prometheus metrics on (e.g. 127.0.0.1:9464)")
		envFile     = flag.String("env-file", ".env", "Path to a .env file with credentials")
	)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *logFile != "" && *pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}
	if flag.NArg() == 0 {
		flag.Usage()
		return fmt.Errorf("missing command")
	}

	logger, err := relaylogger.InitWithOptions(*logFile, *pretty)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	logger.Debug().Str("path", *configPath).Int("backends", len(cfg.Backends)).Msg("Loaded configuration")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "relay", ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Failed to shut down telemetry")
		}
	}()

	if cfg.Metrics.Addr != "" {
		srv := startMetricsServer(cfg.Metrics.Addr, logger)
		defer srv.Close() //nolint:errcheck // No remedy for metrics server close errors
	}

	store, closeStore, err := openStore(cfg.Tracker, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	tracker := perf.NewTracker(store, logger)
	if err := tracker.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("Starting with empty performance records")
	}
	for _, b := range cfg.PerfBackends() {
		tracker.Register(b)
	}
	defer func() {
		tracker.Wait()
		if err := tracker.Flush(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("Failed to persist performance records")
		}
	}()

	registry := llm.NewRegistry()
	cfg.ApplyFamilies(registry)
	factory := failover.NewFactory(registry, logger)

	a := &app{
		cfg:     cfg,
		tracker: tracker,
		controller: failover.NewController(tracker, factory, failover.Config{
			MaxAttempts:    cfg.Failover.MaxAttempts,
			InitialBackoff: cfg.InitialBackoff(),
			Middleware:     []llm.Middleware{failover.LoggingMiddleware(logger)},
			Metrics:        observe.DefaultMetrics(),
		}, logger),
		model:  *model,
		logger: logger,
	}

	ctx = failover.WithRequestID(ctx, newRequestID())
	return a.dispatch(ctx, flag.Arg(0), flag.Args()[1:])
}

// openStore opens the configured performance store.
func openStore(cfg config.TrackerConfig, logger zerolog.Logger) (perf.Store, func(), error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		store, err := perf.OpenSQLiteStore(cfg.Path, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open performance database: %w", err)
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn().Err(err).Msg("Failed to close performance database")
			}
		}, nil
	default:
		return perf.NewJSONStore(cfg.Path), func() {}, nil
	}
}

func startMetricsServer(addr string, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("address", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("address", addr).Msg("Metrics server failed")
		}
	}()
	return srv
}
