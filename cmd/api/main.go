package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mediaforge/internal/adapter/repo"
	"mediaforge/internal/http/handlers"
	"mediaforge/internal/http/httpapi"
	"mediaforge/internal/infra"
	"mediaforge/internal/providers/genai"
	"mediaforge/internal/providers/image"
	"mediaforge/internal/providers/prompt"
	"mediaforge/internal/providers/video"
	"mediaforge/internal/storage"
	"mediaforge/internal/workflow"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: db connection failed")
	}
	defer pool.Close()

	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("api: schema migration failed")
	}

	jobs := repo.NewJobRepository(pool)
	ledger := repo.NewLedgerRepository(pool)

	fileStore, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure storage")
	}

	geminiClient, err := genai.NewClient(genai.Options{
		APIKey:  cfg.GeminiAPIKey,
		BaseURL: cfg.GeminiBaseURL,
		Model:   cfg.GeminiModel,
		HTTPClient: &http.Client{
			Timeout: cfg.StepTimeout,
		},
		Logger: &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure gemini client")
	}
	if geminiClient.Synthetic() {
		logger.Warn().Str("model", geminiClient.Model()).Msg("api: gemini api key missing, using synthetic asset generation")
	}

	var enhancer prompt.Enhancer
	switch cfg.PromptProvider {
	case "static":
		enhancer = prompt.NewStaticEnhancer()
	default:
		enhancer = prompt.NewGeminiEnhancer(geminiClient)
	}

	broker := workflow.NewBroker(cfg.SubscriberBuffer)
	executor := workflow.NewExecutor(workflow.Providers{
		Enhancer: enhancer,
		Image:    image.NewGeminiGenerator(geminiClient),
		Video:    video.NewGeminiGenerator(geminiClient),
		Store:    fileStore,
	}, jobs, broker, logger, workflow.ExecutorOptions{
		StepTimeout: cfg.StepTimeout,
		MaxAttempts: cfg.StepMaxAttempts,
	})
	orch := workflow.NewOrchestrator(jobs, ledger, executor, broker, logger, int64(cfg.MaxConcurrentJobs))

	if recovered, err := orch.RecoverInterrupted(ctx); err != nil {
		logger.Error().Err(err).Msg("api: startup recovery failed")
	} else if recovered > 0 {
		logger.Info().Int("jobs", recovered).Msg("api: recovered interrupted jobs")
	}

	app := handlers.NewApp(orch, logger)
	router := httpapi.NewRouter(app, cfg.RateLimitPerMin)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("workers did not drain before deadline")
	}
	logger.Info().Msg("server stopped")
}
