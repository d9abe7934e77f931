package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zerotrust/access-engine/configs"
	"github.com/zerotrust/access-engine/internal/access"
	"github.com/zerotrust/access-engine/internal/analytics"
	"github.com/zerotrust/access-engine/internal/auth"
	"github.com/zerotrust/access-engine/internal/behavioral"
	"github.com/zerotrust/access-engine/internal/identity"
	"github.com/zerotrust/access-engine/internal/ingestion"
	"github.com/zerotrust/access-engine/internal/lateral"
	"github.com/zerotrust/access-engine/internal/metrics"
	"github.com/zerotrust/access-engine/internal/microseg"
	"github.com/zerotrust/access-engine/internal/policy"
	"github.com/zerotrust/access-engine/internal/queue"
	"github.com/zerotrust/access-engine/internal/risk"
	"github.com/zerotrust/access-engine/internal/services"
	"github.com/zerotrust/access-engine/internal/ws"
)

// Server holds every engine the HTTP facade fronts.
type Server struct {
	cfg *configs.Config
	mtx *metrics.Metrics

	baselines   *behavioral.BaselineStore
	detector    *behavioral.AnomalyDetector
	patterns    *behavioral.PatternAnalyzer
	sessions    *behavioral.SessionAnalyzer
	riskEngine  *risk.Engine
	decisions   *access.DecisionEngine
	verifier    *access.ContinuousVerifier
	movement    *lateral.MovementDetector
	policies    *policy.Engine
	flows       *microseg.FlowAnalyzer
	segments    *microseg.SegmentManager
	recommender *microseg.PolicyRecommender
	identities  *identity.Registry

	ingest    *ingestion.Service
	service   *services.EvaluationService
	dashboard *analytics.DashboardService
	hub       *ws.Hub

	streamClient *queue.RedisStreamClient

	// Operator auth; all nil/empty when AUTH_JWT_SECRET is unset.
	jwtManager   *auth.JWTManager
	operatorHash string
}

// New builds every engine from config. The metrics argument may be nil
// (tests); Redis clients may be nil for in-process deployments.
func New(cfg *configs.Config, m *metrics.Metrics, streamClient *queue.RedisStreamClient, cacheClient *queue.CacheClient) *Server {
	baselines := behavioral.NewBaselineStore()
	baselines.SetDecayFactor(cfg.Engine.DecayFactor)

	detector := behavioral.NewAnomalyDetector(baselines)
	detector.SetThreshold(cfg.Engine.AnomalyThreshold)

	riskEngine := risk.NewEngine(nil)

	decisions := access.NewDecisionEngine()
	decisions.SetThresholds(cfg.Engine.DenyThreshold, cfg.Engine.ChallengeThreshold, cfg.Engine.RestrictThreshold)

	verifier := access.NewContinuousVerifier(decisions)
	verifier.SetReverifyInterval(cfg.Engine.ReverifyInterval)

	movement := lateral.NewMovementDetector(
		lateral.WithDims(cfg.Engine.EmbeddingDim, cfg.Engine.HiddenDim, cfg.Engine.EmbeddingDim),
		lateral.WithHopThreshold(cfg.Engine.HopThreshold),
		lateral.WithSeed(cfg.Engine.GNNSeed),
	)

	policies := policy.NewEngine()
	flows := microseg.NewFlowAnalyzer()
	segments := microseg.NewSegmentManager()
	identities := identity.NewRegistry()
	hub := ws.NewHub()

	service := services.NewEvaluationService(services.Deps{
		Baselines:  baselines,
		Detector:   detector,
		Risk:       riskEngine,
		Decisions:  decisions,
		Verifier:   verifier,
		Identities: identities,
		Metrics:    m,
		Hub:        hub,
		Cache:      cacheClient,
	})

	srv := &Server{
		cfg:         cfg,
		mtx:         m,
		baselines:   baselines,
		detector:    detector,
		patterns:    behavioral.NewPatternAnalyzer(baselines),
		sessions:    behavioral.NewSessionAnalyzer(baselines),
		riskEngine:  riskEngine,
		decisions:   decisions,
		verifier:    verifier,
		movement:    movement,
		policies:    policies,
		flows:       flows,
		segments:    segments,
		recommender: microseg.NewPolicyRecommender(flows, segments, cfg.Engine.MinRecommendedFlows),
		identities:  identities,
		ingest:      ingestion.NewService(streamClient, cacheClient),
		service:     service,
		dashboard: analytics.NewDashboardService(
			baselines, riskEngine, decisions, verifier, movement,
			policies, segments, identities, cacheClient,
		),
		hub:          hub,
		streamClient: streamClient,
	}

	if cfg.Auth.JWTSecret != "" {
		srv.jwtManager = auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiration)
		if cfg.Auth.OperatorPassword != "" {
			hash, err := auth.HashPassword(cfg.Auth.OperatorPassword)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to hash operator password")
			}
			srv.operatorHash = hash
		}
	}

	return srv
}

// Hub exposes the websocket hub so callers can run and close its pump.
func (app *Server) Hub() *ws.Hub { return app.hub }

// Middleware

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("request_id", c.GetString("request_id")).
			Str("client_ip", c.ClientIP()).
			Msg("Request completed")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (app *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if app.mtx == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		app.mtx.HTTPRequestDuration.
			WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
