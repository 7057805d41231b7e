package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/memeroyale/indexer/service/config"
	"github.com/memeroyale/indexer/service/db"
	"github.com/memeroyale/indexer/service/decode"
	"github.com/memeroyale/indexer/service/ingest"
	"github.com/memeroyale/indexer/service/metrics"
	natspkg "github.com/memeroyale/indexer/service/nats"
	"github.com/memeroyale/indexer/service/ratelimit"
	"github.com/memeroyale/indexer/service/server"
	"github.com/memeroyale/indexer/service/solana"
	"github.com/memeroyale/indexer/service/wealth"
)

const mintCacheSize = 4096

func main() {
	// Load .env if present; real deployments set env directly
	_ = godotenv.Load()

	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting indexer server",
		"addr", cfg.ServerAddr,
		"program_id", cfg.ProgramID,
		"log_level", cfg.LogLevel,
	)

	programID, err := solanago.PublicKeyFromBase58(cfg.ProgramID)
	if err != nil {
		logger.Error("invalid program id", "program_id", cfg.ProgramID, "error", err)
		os.Exit(1)
	}

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
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

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	store := db.NewStore(dbPool, metricsCollector)

	// All RPC traffic flows through one admission-controlled client:
	// a sliding-window rate limit composed with a concurrency cap.
	limiter := ratelimit.NewClient(ratelimit.NewCompose(
		ratelimit.NewSparse(cfg.RPCRateLimit, cfg.RPCRateInterval),
		ratelimit.NewConcurrency(cfg.RPCMaxConcurrency),
	))
	chain := solana.NewClient(cfg.RPCURL, limiter, metricsCollector, logger)
	chain.StartPoolDiagnostics(ctx, time.Minute)
	logger.Info("initialized solana RPC client",
		"url", cfg.RPCURL,
		"rate_limit", cfg.RPCRateLimit,
		"rate_interval", cfg.RPCRateInterval,
		"max_concurrency", cfg.RPCMaxConcurrency,
	)

	// Initialize NATS JetStream publisher for decoded events
	publisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to initialize NATS publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	// Wealth sampling pipeline: price oracle, mint resolver, sampler
	prices := wealth.NewPriceClient(cfg.PriceAPIURL, cfg.USDCMintAddress, metricsCollector, logger)
	resolver, err := wealth.NewResolver(chain, store, mintCacheSize, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to initialize mint resolver", "error", err)
		os.Exit(1)
	}
	sampler := wealth.NewSampler(chain, prices, resolver, metricsCollector, logger)

	// Decode and persist pipeline
	decoder := decode.NewDecoder(programID, chain, sampler, store, metricsCollector, logger)
	sink := ingest.NewSink(store, publisher, logger)

	// Live subscription: every transaction touching the program is fetched,
	// decoded, and persisted as it lands.
	subscriber := solana.NewSubscriber(cfg.RPCWSURL, cfg.ProgramID, chain, func(ctx context.Context, tx *solana.RawTransaction) error {
		parsed := decoder.DecodeTransactions(ctx, []*solana.RawTransaction{tx})
		return sink.Persist(ctx, parsed)
	}, metricsCollector, logger, 0)
	go func() {
		if err := subscriber.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("websocket subscription terminated", "error", err)
		}
	}()

	// Backfill crawl on startup: walk the program's signature history
	// backwards and ingest anything not already stored.
	crawler := ingest.NewCrawler(chain, store, decoder, sink, cfg.CrawlPageSize, cfg.CrawlPageDelay, metricsCollector, logger)
	go func() {
		result := crawler.Crawl(ctx, cfg.ProgramID)
		logger.Info("startup backfill finished",
			"pages", result.Pages,
			"signatures", result.Signatures,
			"skipped", result.Skipped,
			"transactions", result.Transactions,
			"completed", result.Completed,
		)
	}()

	httpServer := server.New(cfg.ServerAddr, cfg, chain, decoder, sink, metricsCollector, logger)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
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
