package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/memeroyale/indexer/service/config"
	"github.com/memeroyale/indexer/service/db"
	"github.com/memeroyale/indexer/service/decode"
	"github.com/memeroyale/indexer/service/ingest"
	"github.com/memeroyale/indexer/service/metrics"
	natspkg "github.com/memeroyale/indexer/service/nats"
	"github.com/memeroyale/indexer/service/ratelimit"
	"github.com/memeroyale/indexer/service/solana"
	"github.com/memeroyale/indexer/service/temporal"
	"github.com/memeroyale/indexer/service/wealth"

	solanago "github.com/gagliardetto/solana-go"
)

const mintCacheSize = 4096

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"log_level", cfg.LogLevel,
	)

	programID, err := solanago.PublicKeyFromBase58(cfg.ProgramID)
	if err != nil {
		logger.Error("invalid program id", "program_id", cfg.ProgramID, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	metricsCollector := metrics.NewMetrics(nil)

	// Worker metrics are exposed on a separate port from the server
	metricsAddr := getEnv("METRICS_ADDR", ":9091")
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("starting metrics HTTP server", "addr", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	store := db.NewStore(dbPool, metricsCollector)

	limiter := ratelimit.NewClient(ratelimit.NewCompose(
		ratelimit.NewSparse(cfg.RPCRateLimit, cfg.RPCRateInterval),
		ratelimit.NewConcurrency(cfg.RPCMaxConcurrency),
	))
	chain := solana.NewClient(cfg.RPCURL, limiter, metricsCollector, logger)
	chain.StartPoolDiagnostics(ctx, time.Minute)

	publisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to initialize NATS publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	// The activities run the same pipelines the server does: the wealth
	// refresher for scheduled sweeps and the crawler for backfills.
	prices := wealth.NewPriceClient(cfg.PriceAPIURL, cfg.USDCMintAddress, metricsCollector, logger)
	resolver, err := wealth.NewResolver(chain, store, mintCacheSize, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to initialize mint resolver", "error", err)
		os.Exit(1)
	}
	sampler := wealth.NewSampler(chain, prices, resolver, metricsCollector, logger)
	refresher := wealth.NewRefresher(sampler, store, logger)

	decoder := decode.NewDecoder(programID, chain, sampler, store, metricsCollector, logger)
	sink := ingest.NewSink(store, publisher, logger)
	crawler := ingest.NewCrawler(chain, store, decoder, sink, cfg.CrawlPageSize, cfg.CrawlPageDelay, metricsCollector, logger)

	worker, err := temporal.NewWorker(temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Refresher:         refresher,
		Crawler:           crawler,
		Metrics:           metricsCollector,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	// Ensure the wealth refresh schedule exists before taking work
	scheduler, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
	if err != nil {
		logger.Error("failed to create temporal client", "error", err)
		os.Exit(1)
	}
	if err := scheduler.UpsertRefreshSchedule(ctx, cfg.RefreshInterval); err != nil {
		logger.Error("failed to upsert wealth refresh schedule", "error", err)
		os.Exit(1)
	}
	scheduler.Close()

	// Blocks until interrupted
	if err := worker.Start(); err != nil {
		logger.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
