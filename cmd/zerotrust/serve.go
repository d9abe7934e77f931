package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zerotrust/access-engine/configs"
	"github.com/zerotrust/access-engine/internal/api"
	"github.com/zerotrust/access-engine/internal/metrics"
	"github.com/zerotrust/access-engine/internal/queue"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configs.Load()
			if port, _ := cmd.Flags().GetString("port"); port != "" {
				cfg.Server.Port = port
			}
			zerolog.SetGlobalLevel(zerolog.InfoLevel)

			var streamClient *queue.RedisStreamClient
			var cacheClient *queue.CacheClient
			if cfg.Redis.URL != "" {
				var err error
				streamClient, err = queue.NewRedisStreamClient(cfg.Redis, cfg.Worker.DeadLetterStream)
				if err != nil {
					return err
				}
				defer streamClient.Close()

				cacheClient, err = queue.NewCacheClient(cfg.Redis)
				if err != nil {
					return err
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

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("port", cfg.Server.Port).Msg("Server listening")
				errCh <- srv.ListenAndServe()
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
			case <-quit:
				log.Info().Msg("Shutting down server...")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
	cmd.Flags().String("port", "", "listen port (overrides SERVER_PORT)")
	return cmd
}
