package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zerotrust/access-engine/configs"
	"github.com/zerotrust/access-engine/internal/access"
	"github.com/zerotrust/access-engine/internal/behavioral"
	"github.com/zerotrust/access-engine/internal/identity"
	"github.com/zerotrust/access-engine/internal/metrics"
	"github.com/zerotrust/access-engine/internal/queue"
	"github.com/zerotrust/access-engine/internal/risk"
	"github.com/zerotrust/access-engine/internal/services"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := configs.Load()
	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Int("concurrency", cfg.Worker.Concurrency).
		Msg("Starting Zero Trust Access Engine Worker")

	streamClient, err := queue.NewRedisStreamClient(cfg.Redis, cfg.Worker.DeadLetterStream)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis Stream")
	}
	defer streamClient.Close()

	cacheClient, err := queue.NewCacheClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis Cache")
	}
	defer cacheClient.Close()

	// Build the evaluation pipeline.
	baselines := behavioral.NewBaselineStore()
	baselines.SetDecayFactor(cfg.Engine.DecayFactor)

	detector := behavioral.NewAnomalyDetector(baselines)
	detector.SetThreshold(cfg.Engine.AnomalyThreshold)

	riskEngine := risk.NewEngine(nil)

	decisions := access.NewDecisionEngine()
	decisions.SetThresholds(cfg.Engine.DenyThreshold, cfg.Engine.ChallengeThreshold, cfg.Engine.RestrictThreshold)

	verifier := access.NewContinuousVerifier(decisions)
	verifier.SetReverifyInterval(cfg.Engine.ReverifyInterval)

	service := services.NewEvaluationService(services.Deps{
		Baselines:  baselines,
		Detector:   detector,
		Risk:       riskEngine,
		Decisions:  decisions,
		Verifier:   verifier,
		Identities: identity.NewRegistry(),
		Metrics:    metrics.New(),
		Cache:      cacheClient,
	})

	workerPool := services.NewWorkerPool(
		cfg.Worker.Concurrency,
		service,
		streamClient,
		cfg.Worker,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background maintenance: baseline decay and session re-verification.
	baselines.StartDecayLoop(ctx, cfg.Engine.DecayInterval)
	go reverifyLoop(ctx, service, cfg.Engine.ReverifyInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- workerPool.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("Worker pool error")
		}
	}

	if err := workerPool.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop worker pool")
	}

	log.Info().Msg("Worker shutdown complete")
}

// reverifyLoop sweeps stale sessions on a ticker until ctx is cancelled.
func reverifyLoop(ctx context.Context, service *services.EvaluationService, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if swept := service.ReverifySweep(ctx); swept > 0 {
				log.Info().Int("sessions", swept).Msg("Re-verified stale sessions")
			}
		}
	}
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
