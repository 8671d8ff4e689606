package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"synthscan/internal/detect"
	"synthscan/internal/server"
	"synthscan/internal/source"
)

func main() {
	configPath := flag.String("config", "", "Path to server config YAML/JSON")
	listen := flag.String("listen", "", "Optional listen address override")
	seedUser := flag.Bool("seed-user", false, "Create/update user and exit")
	username := flag.String("username", "", "Username for seed-user")
	password := flag.String("password", "", "Password for seed-user")
	role := flag.String("role", "admin", "Role for seed-user (admin|viewer)")
	flag.Parse()

	cfg, err := server.LoadServerConfig(*configPath)
	if err != nil {
		slog.Error("load config failed", "error", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// PostgreSQL is optional: without a DSN the service runs on the
	// in-memory store, which loses history on restart.
	var pool *pgxpool.Pool
	var store server.Store
	if cfg.Database.DSN != "" {
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
		if err != nil {
			slog.Error("parse database DSN failed", "error", err)
			os.Exit(1)
		}
		if cfg.Database.MaxConns > 0 {
			poolCfg.MaxConns = cfg.Database.MaxConns
		}
		pool, err = pgxpool.NewWithConfig(rootCtx, poolCfg)
		if err != nil {
			slog.Error("connect database failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := server.RunMigrations(rootCtx, pool, cfg.Database.MigrationsPath); err != nil {
			slog.Error("run migrations failed", "error", err)
			os.Exit(1)
		}
		store = server.NewPgStore(pool, slog.Default())
	} else {
		slog.Warn("no database configured, verdict history is in-memory only")
		store = server.NewMemoryStore()
	}

	if *seedUser {
		if pool == nil {
			fmt.Fprintln(os.Stderr, "seed-user requires a configured database")
			os.Exit(1)
		}
		if *username == "" || *password == "" {
			fmt.Fprintln(os.Stderr, "seed-user requires -username and -password")
			os.Exit(1)
		}
		if err := server.SeedUser(rootCtx, pool, *username, *password, *role); err != nil {
			slog.Error("seed user failed", "error", err)
			os.Exit(1)
		}
		slog.Info("user seeded", "username", *username, "role", *role)
		return
	}

	obs, err := server.SetupObservability(rootCtx, cfg.Observer)
	if err != nil {
		slog.Error("setup observability failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = obs.Shutdown(ctx)
	}()

	registry, cleanup, err := buildRegistry(rootCtx, cfg)
	if err != nil {
		slog.Error("build signal source registry failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	heuristic := detect.NewHeuristicScorer(cfg.Analysis.HeuristicWeight)
	orchestrator := detect.NewOrchestrator(heuristic, time.Duration(cfg.Analysis.DeadlineSec)*time.Second)
	cache := server.NewVerdictCache(cfg.Cache, slog.Default())
	defer func() { _ = cache.Close() }()

	auth := server.NewAuth(pool, cfg)
	analyzer := server.NewAnalysisService(cfg, store, registry, orchestrator, cache, obs, slog.Default())
	api := server.NewAPI(auth, store, analyzer, obs)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-rootCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	slog.Info("synthscan API listening", "listen", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// buildRegistry wires every provider that has an API key. Providers left
// unconfigured are skipped with a warning; the heuristic keeps the service
// functional even with an empty registry.
func buildRegistry(ctx context.Context, cfg server.ServerConfig) (*source.Registry, func(), error) {
	registry := source.NewRegistry()
	cleanup := func() {}

	if cfg.Providers.Gemini.APIKey != "" {
		gemini, err := source.NewGeminiJudge(ctx, providerConfig(cfg.Providers.Gemini))
		if err != nil {
			return nil, cleanup, fmt.Errorf("gemini judge: %w", err)
		}
		registry.Register(gemini,
			detect.ModalityText, detect.ModalityDocument,
			detect.ModalityImage, detect.ModalityVideo)
		cleanup = func() { _ = gemini.Close() }
	} else {
		slog.Warn("gemini provider not configured, skipping")
	}

	if cfg.Providers.OpenAI.APIKey != "" {
		openai, err := source.NewOpenAIJudge(providerConfig(cfg.Providers.OpenAI))
		if err != nil {
			return nil, cleanup, fmt.Errorf("openai judge: %w", err)
		}
		registry.Register(openai, detect.ModalityText, detect.ModalityDocument)
	} else {
		slog.Warn("openai provider not configured, skipping")
	}

	if cfg.Providers.Anthropic.APIKey != "" {
		anthropic, err := source.NewAnthropicJudge(providerConfig(cfg.Providers.Anthropic))
		if err != nil {
			return nil, cleanup, fmt.Errorf("anthropic judge: %w", err)
		}
		registry.Register(anthropic, detect.ModalityText, detect.ModalityImage)
	} else {
		slog.Warn("anthropic provider not configured, skipping")
	}

	return registry, cleanup, nil
}

func providerConfig(cfg server.ProviderConfig) source.Config {
	return source.Config{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Weight:  cfg.Weight,
		Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
	}
}
