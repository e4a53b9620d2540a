package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pulsehound/pulsehound/internal/batch"
	"github.com/pulsehound/pulsehound/internal/cache"
	"github.com/pulsehound/pulsehound/internal/chains"
	"github.com/pulsehound/pulsehound/internal/collector"
	"github.com/pulsehound/pulsehound/internal/config"
	"github.com/pulsehound/pulsehound/internal/discovery"
	"github.com/pulsehound/pulsehound/internal/metadata"
	"github.com/pulsehound/pulsehound/internal/refresh"
	"github.com/pulsehound/pulsehound/internal/scan"
	"github.com/pulsehound/pulsehound/internal/server"
	"github.com/pulsehound/pulsehound/internal/wallets"
)

func main() {
	// 1. Parse flags. A missing .env file is fine; shell variables still apply.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	envPath := flag.String("env", ".env", "Path to env file")
	stubMode := flag.Bool("stub", false, "Use stub scan client and in-memory cache (no external services)")
	flag.Parse()

	_ = godotenv.Load(*envPath)

	// 2. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	log.Info().Msg("=============================================")
	log.Info().Msg("PulseHound Token Radar - Starting")
	log.Info().Msg("DISCOVER -> COLLECT -> SCORE -> CACHE")
	log.Info().Msg("=============================================")

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Int("chains", len(cfg.Chains)).
		Int("port", cfg.Server.Port).
		Bool("stub_mode", *stubMode).
		Bool("refresh_enabled", cfg.Refresh.Enabled).
		Bool("scan_token", cfg.Scan.APIKey != "").
		Msg("Configuration loaded")

	// 4. Chain registry.
	registry, err := chains.NewRegistry(cfg.Chains)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid chain table")
	}

	// 5. Scan client.
	var logClient scan.LogClient
	if *stubMode {
		logClient = scan.NewStubClient()
		log.Info().Msg("Scan client: STUB mode")
	} else {
		logClient = scan.NewHTTPClient(registry, cfg.Scan.APIKey)
	}

	// 6. Token cache.
	var store cache.Store
	if *stubMode {
		store = cache.NewMemoryStore()
		log.Info().Msg("Token cache: in-memory")
	} else {
		connectCtx, connectCancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisStore, err := cache.NewRedisStore(connectCtx, cfg.Redis)
		connectCancel()
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis connection failed")
		}
		store = redisStore
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Token cache: redis connected")
	}
	defer store.Close()

	// 7. Pipeline components.
	scanner := scan.NewScanner(cfg.Scan.Scanner, logClient)
	aggregator := discovery.NewAggregator(scanner, registry)
	col := collector.NewCollector(logClient, registry, cfg.Scan.Scanner.PageLimit)
	meta := metadata.NewHTTPClient(cfg.Metadata.BaseURL)
	runner := batch.NewRunner(store, col, meta)
	analyzer := wallets.NewAnalyzer(logClient, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 8. Optional live tail per chain.
	if cfg.Scan.LiveTail.Enabled {
		for _, chain := range registry.All() {
			tailConfig := cfg.Scan.LiveTail
			if tailConfig.WSEndpoint == "" {
				tailConfig.WSEndpoint = chain.RPCFallback
			}
			if tailConfig.WSEndpoint == "" {
				continue
			}
			tail := scan.NewLiveTail(tailConfig, chain.ID)
			go drainTail(ctx, chain.Name, tail)
		}
	}

	// 9. Hourly refresh scheduler.
	scheduler := refresh.NewScheduler(refresh.Config{
		Interval:            time.Duration(cfg.Refresh.IntervalMinutes) * time.Minute,
		NewTokenDays:        cfg.Refresh.NewTokenDays,
		MaxNewTokens:        cfg.Refresh.MaxNewTokens,
		NewTokenConcurrency: cfg.Refresh.NewTokenConcurrency,
		RescoreConcurrency:  cfg.Refresh.RescoreConcurrency,
	}, aggregator, runner, store)
	if cfg.Refresh.Enabled {
		scheduler.Start(ctx)
		defer scheduler.Stop()
		log.Info().Int("interval_minutes", cfg.Refresh.IntervalMinutes).Msg("Refresh scheduler started")
	}

	// 10. Handle shutdown signals.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	// 11. HTTP surface (blocks until shutdown).
	srv := server.NewServer(server.Config{
		Port:          cfg.Server.Port,
		ReadTimeoutS:  cfg.Server.ReadTimeoutS,
		WriteTimeoutS: cfg.Server.WriteTimeoutS,
	}, server.Deps{
		Registry:   registry,
		LogClient:  logClient,
		ScanConfig: cfg.Scan.Scanner,
		ScanToken:  cfg.Scan.APIKey,
		Metadata:   meta,
		Store:      store,
		Collector:  col,
		Runner:     runner,
		Analyzer:   analyzer,
	})
	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server failed")
	}

	log.Info().Msg("PulseHound Token Radar - Shutdown complete")
}

// drainTail logs tail activity at debug level. The tail feeds operational
// visibility between refresh passes; scoring still runs off the paginated
// scans.
func drainTail(ctx context.Context, chainName string, tail *scan.LiveTail) {
	for raw := range tail.Start(ctx) {
		log.Debug().
			Str("chain", chainName).
			Str("address", raw.Address).
			Uint64("block", raw.BlockNumber).
			Msg("livetail: log observed")
	}
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "pulsehound").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "pulsehound").
			Str("instance", general.InstanceID).Logger()
	}
}
