package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/shophound/internal/api"
	"github.com/maltedev/shophound/internal/config"
	"github.com/maltedev/shophound/internal/events"
	"github.com/maltedev/shophound/internal/fetch"
	"github.com/maltedev/shophound/internal/journal"
	"github.com/maltedev/shophound/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher, err := newFetcher(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize fetcher", "error", err)
		os.Exit(1)
	}
	defer fetcher.Close()

	var sinks []pipeline.Emitter

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, events.NewStreamEmitter(redisClient, events.DefaultStreamPrefix, logger))
		logger.Info("redis event stream enabled", "addr", cfg.Redis.Addr)
	}

	var history api.History
	var store *journal.Journal
	if cfg.Database.Enabled {
		store, err = journal.Open(ctx, cfg.Database.DSN(), logger)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer store.Close()

		if err := store.EnsureSchema(ctx); err != nil {
			logger.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, journal.NewRecorder(store))
		history = store
		logger.Info("run journal enabled", "database", cfg.Database.DBName)
	}

	var emitter pipeline.Emitter
	if len(sinks) > 0 {
		emitter = pipeline.NewMultiEmitter(logger, sinks...)
	}

	orchestrator := pipeline.NewOrchestrator(fetcher, emitter, pipeline.Config{
		ListingTimeout:  cfg.Pipeline.ListingTimeout,
		ProductTimeout:  cfg.Pipeline.ProductTimeout,
		TotalTimeout:    cfg.Pipeline.TotalTimeout,
		MaxFailureRatio: cfg.Pipeline.FailureRatio,
		PacerMinDelay:   cfg.Pipeline.PacerDelayMin,
		PacerMaxDelay:   cfg.Pipeline.PacerDelayMax,
	}, logger)

	handlers := api.NewHandlers(orchestrator, history, cfg.Pipeline.MaxProducts, logger)
	if redisClient != nil {
		handlers.RegisterHealthCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	if store != nil {
		handlers.RegisterHealthCheck("journal", store.Ping)
	}
	router := api.NewRouter(handlers, cfg.API.AllowedOrigins)

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout stays off so run streams can outlive slow sites.
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting",
		"addr", server.Addr,
		"fetch_mode", cfg.Fetch.Mode,
		"redis", cfg.Redis.Enabled,
		"journal", cfg.Database.Enabled,
	)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func newFetcher(cfg *config.Config, logger *slog.Logger) (fetch.Fetcher, error) {
	classifier := fetch.NewClassifier(cfg.Fetch.BlockSizeThreshold)

	switch cfg.Fetch.Mode {
	case config.FetchModeUnlocker:
		return fetch.NewUnlockerFetcher(&fetch.UnlockerOptions{
			Endpoint:          cfg.Fetch.UnlockerEndpoint,
			APIToken:          cfg.Fetch.UnlockerAPIToken,
			RequestsPerSecond: cfg.Fetch.UnlockerRPS,
			Burst:             cfg.Fetch.UnlockerBurst,
		}, classifier, logger)
	default:
		opts := fetch.DefaultBrowserOptions()
		opts.Headless = cfg.Browser.Headless
		opts.Timeout = cfg.Browser.Timeout
		opts.ViewportWidth = cfg.Browser.ViewportWidth
		opts.ViewportHeight = cfg.Browser.ViewportHeight
		opts.AcceptLanguage = cfg.Browser.AcceptLanguage
		opts.TimezoneID = cfg.Browser.TimezoneID
		opts.Locale = cfg.Browser.Locale
		opts.ProxyServer = cfg.Browser.ProxyServer
		return fetch.NewBrowserFetcher(opts, classifier, logger)
	}
}
