package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zerotrust/access-engine/configs"
	"github.com/zerotrust/access-engine/internal/api"
	"github.com/zerotrust/access-engine/internal/metrics"
	"github.com/zerotrust/access-engine/internal/queue"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := configs.Load()
	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("Starting Zero Trust Access Engine API Server")

	// Redis is optional: without it the server evaluates everything in-process.
	var streamClient *queue.RedisStreamClient
	var cacheClient *queue.CacheClient
	if cfg.Redis.URL != "" {
		var err error
		streamClient, err = queue.NewRedisStreamClient(cfg.Redis, cfg.Worker.DeadLetterStream)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis Stream")
		}
		defer streamClient.Close()

		cacheClient, err = queue.NewCacheClient(cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis Cache")
		}
		defer cacheClient.Close()
	}

	app := api.New(cfg, metrics.New(), streamClient, cacheClient)

	go app.Hub().Run()
	defer app.Hub().Close()

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      app.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
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
