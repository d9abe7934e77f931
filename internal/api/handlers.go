package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/zerotrust/access-engine/internal/auth"
	"github.com/zerotrust/access-engine/internal/ingestion"
	"github.com/zerotrust/access-engine/internal/lateral"
	"github.com/zerotrust/access-engine/internal/microseg"
	"github.com/zerotrust/access-engine/internal/models"
	"github.com/zerotrust/access-engine/internal/risk"
)

// Router wires every route. Auth and admin gating apply only when a JWT
// secret is configured; without one the API is open, matching single-process
// lab deployments.
func (app *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware())
	router.Use(app.metricsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws/events", app.hub.Subscribe)

	v1 := router.Group("/api/v1")

	if app.jwtManager != nil {
		v1.POST("/auth/login", app.loginHandler)
	}

	protected := v1.Group("")
	admin := v1.Group("")
	if app.jwtManager != nil {
		protected.Use(auth.Middleware(app.jwtManager))
		admin.Use(auth.Middleware(app.jwtManager), auth.RoleMiddleware("admin"))
	}

	accessRoutes := protected.Group("/access")
	{
		accessRoutes.POST("/decide", app.decideHandler)
		accessRoutes.GET("/decisions", app.recentDecisionsHandler)
		accessRoutes.GET("/stats", app.decisionStatsHandler)
	}

	riskRoutes := protected.Group("/risk")
	{
		riskRoutes.POST("/score", app.riskScoreHandler)
		riskRoutes.GET("/summary", app.riskSummaryHandler)
	}
	admin.POST("/risk/intel/:kind", app.addIntelHandler)
	admin.DELETE("/risk/intel/:kind", app.removeIntelHandler)

	behavioralRoutes := protected.Group("/behavioral")
	{
		behavioralRoutes.POST("/observe", app.observeHandler)
		behavioralRoutes.POST("/observe/batch", app.observeBatchHandler)
		behavioralRoutes.POST("/analyze", app.analyzeHandler)
		behavioralRoutes.GET("/profile/:id", app.profileHandler)
		behavioralRoutes.GET("/entities", app.entitiesHandler)
	}

	policyRoutes := protected.Group("/policy")
	{
		policyRoutes.POST("/evaluate", app.policyEvaluateHandler)
		policyRoutes.GET("/list", app.policyListHandler)
		policyRoutes.GET("/conflicts", app.policyConflictsHandler)
		policyRoutes.GET("/export", app.policyExportHandler)
	}
	admin.POST("/policy/import", app.policyImportHandler)

	lateralRoutes := protected.Group("/lateral")
	{
		lateralRoutes.GET("/detect", app.lateralDetectHandler)
		lateralRoutes.POST("/event", app.lateralEventHandler)
		lateralRoutes.POST("/baseline", app.lateralBaselineHandler)
		lateralRoutes.GET("/path", app.lateralPathHandler)
	}

	microsegRoutes := protected.Group("/microseg")
	{
		microsegRoutes.POST("/flow", app.microsegFlowHandler)
		microsegRoutes.GET("/recommendations", app.microsegRecommendationsHandler)
		microsegRoutes.GET("/segments", app.microsegSegmentsHandler)
	}
	admin.POST("/microseg/segments", app.microsegCreateSegmentHandler)

	verifyRoutes := protected.Group("/verify")
	{
		verifyRoutes.GET("/state", app.verifyStateHandler)
		verifyRoutes.POST("/reverify", app.reverifyHandler)
	}

	protected.GET("/sessions/analyze/:id", app.sessionAnalyzeHandler)
	protected.GET("/patterns/:entity", app.patternsHandler)
	protected.GET("/identity/summary", app.identitySummaryHandler)
	protected.GET("/dashboard", app.dashboardHandler)
	protected.GET("/audit/:entity", app.auditTrailHandler)

	return router
}

// Auth

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (app *Server) loginHandler(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if app.operatorHash == "" ||
		req.Email != app.cfg.Auth.OperatorEmail ||
		!auth.CheckPassword(req.Password, app.operatorHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := app.jwtManager.GenerateToken(uuid.New(), req.Email, "admin")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	app.ingest.RecordDecision(req.Email, models.AuditEventLogin, nil, c.GetString("request_id"))
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(app.jwtManager.Expiration().Seconds()),
	})
}

// Access decisions

func (app *Server) decideHandler(c *gin.Context) {
	var ev models.AccessEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if ev.EntityID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entity_id is required"})
		return
	}

	result, err := app.service.ProcessEvent(c.Request.Context(), &ev)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	app.service.MarkIngested("http")

	if ev.SessionID != "" {
		app.sessions.RecordEvent(ev.SessionID, ev.EntityID, ev)
	}
	app.ingest.RecordDecision(ev.EntityID, result.Decision, models.JSONMap{
		"trust_score": result.TrustScore,
		"risk_level":  result.RiskLevel,
		"resource":    ev.Resource,
	}, c.GetString("request_id"))

	c.JSON(http.StatusOK, result)
}

func (app *Server) recentDecisionsHandler(c *gin.Context) {
	n, _ := strconv.Atoi(c.DefaultQuery("n", "20"))
	c.JSON(http.StatusOK, gin.H{"decisions": app.decisions.RecentDecisions(n)})
}

func (app *Server) decisionStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, app.decisions.DecisionStats())
}

// Risk

func (app *Server) riskScoreHandler(c *gin.Context) {
	var in risk.RiskInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if in.EntityID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entity_id is required"})
		return
	}
	c.JSON(http.StatusOK, app.riskEngine.Calculate(c.Request.Context(), in))
}

func (app *Server) riskSummaryHandler(c *gin.Context) {
	c.JSON(http.StatusOK, app.riskEngine.PopulationSummary())
}

type intelRequest struct {
	Value string `json:"value" binding:"required"`
}

func (app *Server) addIntelHandler(c *gin.Context) {
	app.mutateIntel(c, true)
}

func (app *Server) removeIntelHandler(c *gin.Context) {
	app.mutateIntel(c, false)
}

func (app *Server) mutateIntel(c *gin.Context, add bool) {
	var req intelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	intel := app.riskEngine.Intel()
	switch c.Param("kind") {
	case "ip":
		if add {
			intel.AddMaliciousIP(req.Value)
		} else {
			intel.RemoveMaliciousIP(req.Value)
		}
	case "credential":
		if add {
			intel.AddCompromisedEntity(req.Value)
		} else {
			intel.RemoveCompromisedEntity(req.Value)
		}
	case "tor":
		if add {
			intel.AddTorExitNode(req.Value)
		} else {
			intel.RemoveTorExitNode(req.Value)
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be ip, credential, or tor"})
		return
	}

	app.ingest.RecordDecision(req.Value, models.AuditEventIntel, models.JSONMap{
		"kind":  c.Param("kind"),
		"added": add,
	}, c.GetString("request_id"))
	c.JSON(http.StatusOK, intel.Summary())
}

// Behavioral

func (app *Server) observeHandler(c *gin.Context) {
	var ev models.AccessEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := app.ingest.IngestEvent(c.Request.Context(), &ev, c.GetString("request_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	app.service.MarkIngested("http")

	// Without a stream the observation folds in synchronously; with one the
	// worker replays it.
	if resp.Status == "accepted" {
		app.baselines.Observe(ev.EntityID, ev)
	}
	if ev.SessionID != "" {
		app.sessions.RecordEvent(ev.SessionID, ev.EntityID, ev)
	}

	c.JSON(http.StatusOK, resp)
}

func (app *Server) observeBatchHandler(c *gin.Context) {
	var req ingestion.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp := app.ingest.IngestBatch(c.Request.Context(), &req, c.GetString("request_id"))
	for i, r := range resp.Results {
		if r.Status == "accepted" {
			app.baselines.Observe(req.Events[i].EntityID, req.Events[i])
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (app *Server) analyzeHandler(c *gin.Context) {
	var ev models.AccessEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if ev.EntityID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entity_id is required"})
		return
	}
	c.JSON(http.StatusOK, app.detector.Analyze(ev.EntityID, ev))
}

func (app *Server) profileHandler(c *gin.Context) {
	summary, ok := app.baselines.ProfileSummary(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (app *Server) entitiesHandler(c *gin.Context) {
	ids := app.baselines.EntityIDs()
	c.JSON(http.StatusOK, gin.H{"entities": ids, "count": len(ids)})
}

func (app *Server) patternsHandler(c *gin.Context) {
	entityID := c.Param("entity")
	if _, ok := app.baselines.GetProfile(entityID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entity_id":              entityID,
		"unusual_hours":          app.patterns.UnusualHours(entityID, 0.01),
		"location_entropy":       app.patterns.LocationEntropy(entityID),
		"resource_concentration": app.patterns.ResourceConcentration(entityID),
		"top_resources":          app.patterns.TopKResources(entityID, 5),
		"activity_spread":        app.patterns.ActivitySpread(entityID),
	})
}

func (app *Server) sessionAnalyzeHandler(c *gin.Context) {
	sessionID := c.Param("id")
	snapshot, ok := app.sessions.SessionSnapshot(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	snapshot["flags"] = app.sessions.FlagSession(sessionID)
	c.JSON(http.StatusOK, snapshot)
}

// Policy

func (app *Server) policyEvaluateHandler(c *gin.Context) {
	var ctx map[string]interface{}
	if err := c.ShouldBindJSON(&ctx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, app.policies.Evaluate(ctx))
}

func (app *Server) policyListHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"summary":  app.policies.PolicySummary(),
		"policies": app.policies.ListPolicies(),
	})
}

func (app *Server) policyConflictsHandler(c *gin.Context) {
	conflicts := app.policies.DetectConflicts()
	c.JSON(http.StatusOK, gin.H{"conflicts": conflicts, "count": len(conflicts)})
}

func (app *Server) policyImportHandler(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	loaded, err := app.policies.LoadYAML(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ids := make([]string, 0, len(loaded))
	for _, p := range loaded {
		ids = append(ids, p.PolicyID)
	}
	app.ingest.RecordDecision("", models.AuditEventPolicy, models.JSONMap{
		"imported": ids,
	}, c.GetString("request_id"))

	c.JSON(http.StatusOK, gin.H{"imported": len(loaded), "policy_ids": ids})
}

func (app *Server) policyExportHandler(c *gin.Context) {
	data, err := app.policies.ExportYAML()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/x-yaml", data)
}

// Lateral movement

func (app *Server) lateralDetectHandler(c *gin.Context) {
	alerts, err := app.movement.Detect(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if app.mtx != nil {
		for _, a := range alerts {
			app.mtx.LateralAlertsTotal.WithLabelValues(a.AlertType).Inc()
		}
	}
	if app.hub != nil {
		for _, a := range alerts {
			app.hub.BroadcastAlert(a)
		}
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

func (app *Server) lateralEventHandler(c *gin.Context) {
	var e lateral.Edge
	if err := c.ShouldBindJSON(&e); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if e.Src == "" || e.Dst == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "src and dst are required"})
		return
	}
	app.movement.AddAccessEvent(e)
	graph := app.movement.Graph()
	c.JSON(http.StatusOK, gin.H{"nodes": graph.NodeCount(), "edges": graph.EdgeCount()})
}

func (app *Server) lateralBaselineHandler(c *gin.Context) {
	n := app.movement.LearnBaseline()
	c.JSON(http.StatusOK, gin.H{"baseline_nodes": n})
}

func (app *Server) lateralPathHandler(c *gin.Context) {
	src, dst := c.Query("src"), c.Query("dst")
	if src == "" || dst == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "src and dst are required"})
		return
	}
	path := app.movement.Graph().ShortestPath(src, dst)
	c.JSON(http.StatusOK, gin.H{
		"path":     path,
		"analysis": app.movement.AnalyzePath(path),
	})
}

// Microsegmentation

func (app *Server) microsegFlowHandler(c *gin.Context) {
	var f microseg.Flow
	if err := c.ShouldBindJSON(&f); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if f.Src == "" || f.Dst == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "src and dst are required"})
		return
	}
	app.flows.AddFlow(f)
	c.JSON(http.StatusOK, gin.H{"flows": app.flows.FlowCount()})
}

func (app *Server) microsegRecommendationsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"policies": app.recommender.Recommend(),
		"coverage": app.recommender.CoverageReport(),
	})
}

func (app *Server) microsegSegmentsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"segments":        app.segments.Summaries(),
		"isolation_score": app.segments.IsolationScore(),
	})
}

type createSegmentRequest struct {
	SegmentID   string   `json:"segment_id" binding:"required"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	TrustLevel  float64  `json:"trust_level"`
	Members     []string `json:"members"`
}

func (app *Server) microsegCreateSegmentHandler(c *gin.Context) {
	var req createSegmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	app.segments.CreateSegment(req.SegmentID, req.Name, req.Description, req.TrustLevel)
	for _, m := range req.Members {
		app.segments.AddMember(req.SegmentID, m)
	}

	log.Info().Str("segment_id", req.SegmentID).Int("members", len(req.Members)).Msg("segment created")
	c.JSON(http.StatusCreated, gin.H{"segments": app.segments.Summaries()})
}

// Continuous verification

func (app *Server) verifyStateHandler(c *gin.Context) {
	entityID, sessionID := c.Query("entity"), c.Query("session")
	if entityID == "" || sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entity and session are required"})
		return
	}
	state, ok := app.verifier.SessionState(entityID, sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (app *Server) reverifyHandler(c *gin.Context) {
	var ev models.AccessEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if ev.EntityID == "" || ev.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entity_id and session_id are required"})
		return
	}

	result, err := app.service.ProcessEvent(c.Request.Context(), &ev)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Aggregates

func (app *Server) identitySummaryHandler(c *gin.Context) {
	c.JSON(http.StatusOK, app.identities.Summary())
}

func (app *Server) dashboardHandler(c *gin.Context) {
	snap, err := app.dashboard.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (app *Server) auditTrailHandler(c *gin.Context) {
	n, _ := strconv.Atoi(c.DefaultQuery("n", "50"))
	trail := app.ingest.AuditTrail(c.Param("entity"), n)
	c.JSON(http.StatusOK, gin.H{"records": trail, "summary": app.ingest.AuditSummary()})
}
