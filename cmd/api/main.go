package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"vidforge/internal/adapter/repo"
	"vidforge/internal/http/handlers"
	"vidforge/internal/http/httpapi"
	"vidforge/internal/infra"
	"vidforge/internal/orchestrator"
	"vidforge/internal/storage"
	"vidforge/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	// Background jobs run against this context; cancelling it on shutdown
	// terminates any workers still in flight.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer pool.Close()

	fileStore, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	generations := repo.NewGenerationRepository(pool)
	logs := repo.NewLogRepository(pool)

	orch := orchestrator.New(ctx, orchestrator.Options{
		Generations: generations,
		Logs:        logs,
		Factory: &worker.Factory{
			PythonBin:  cfg.PythonBin,
			ScriptsDir: cfg.ScriptsDir,
			WorkDir:    cfg.WorkDir,
		},
		Launcher:          worker.NewSupervisor(logger),
		Logger:            logger,
		GenerationTimeout: cfg.GenerationTimeout,
		EnhanceTimeout:    cfg.EnhanceTimeout,
	})

	app := &handlers.App{
		Generations: generations,
		Logs:        logs,
		Orch:        orch,
		Store:       fileStore,
		Logger:      logger,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
