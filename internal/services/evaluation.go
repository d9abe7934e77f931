package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zerotrust/access-engine/internal/access"
	"github.com/zerotrust/access-engine/internal/behavioral"
	"github.com/zerotrust/access-engine/internal/identity"
	"github.com/zerotrust/access-engine/internal/metrics"
	"github.com/zerotrust/access-engine/internal/models"
	"github.com/zerotrust/access-engine/internal/queue"
	"github.com/zerotrust/access-engine/internal/risk"
	"github.com/zerotrust/access-engine/internal/ws"
)

// decisionCacheTTL is how long the latest per-entity decision stays cached.
const decisionCacheTTL = 5 * time.Minute

// EvaluationResult is the outcome of pushing one event through the full
// pipeline: baseline update, anomaly analysis, risk composition, decision,
// and (for session-bearing events) continuous verification.
type EvaluationResult struct {
	EntityID        string                   `json:"entity_id"`
	Decision        string                   `json:"decision"`
	TrustScore      float64                  `json:"trust_score"`
	RiskLevel       float64                  `json:"risk_level"`
	Reasons         []string                 `json:"reasons,omitempty"`
	RequiredActions []string                 `json:"required_actions,omitempty"`
	Anomaly         behavioral.AnomalyResult `json:"anomaly"`
	Risk            risk.RiskScore           `json:"risk"`
	Verification    map[string]interface{}   `json:"verification,omitempty"`
	EvaluatedAt     time.Time                `json:"evaluated_at"`
}

// Deps wires the engines an EvaluationService composes. Metrics, Hub, Stream,
// and Cache are optional; a nil Identities gets a fresh registry.
type Deps struct {
	Baselines  *behavioral.BaselineStore
	Detector   *behavioral.AnomalyDetector
	Risk       *risk.Engine
	Decisions  *access.DecisionEngine
	Verifier   *access.ContinuousVerifier
	Identities *identity.Registry
	Metrics    *metrics.Metrics
	Hub        *ws.Hub
	// Stream, when set together with ForwardEvents, receives every evaluated
	// event so detached consumers (graph builders, archival) see the flow.
	// Workers that consume from the stream must leave ForwardEvents off.
	Stream        *queue.RedisStreamClient
	Cache         *queue.CacheClient
	ForwardEvents bool
}

// EvaluationService is the single pipeline every binary shares: the API
// server runs it synchronously, the Redis and Kafka workers run it per
// consumed message.
type EvaluationService struct {
	baselines  *behavioral.BaselineStore
	detector   *behavioral.AnomalyDetector
	riskEngine *risk.Engine
	decisions  *access.DecisionEngine
	verifier   *access.ContinuousVerifier
	identities *identity.Registry
	metrics    *metrics.Metrics
	hub        *ws.Hub
	stream     *queue.RedisStreamClient
	cache      *queue.CacheClient
	forward    bool

	// lastContext remembers the most recent signals per session so sweeps
	// can re-verify without a fresh event.
	mu          sync.Mutex
	lastContext map[access.SessionKey]access.Context
}

// NewEvaluationService composes the pipeline. Core engines must be non-nil
// except Identities, which defaults to an empty registry.
func NewEvaluationService(deps Deps) *EvaluationService {
	if deps.Identities == nil {
		deps.Identities = identity.NewRegistry()
	}
	return &EvaluationService{
		baselines:   deps.Baselines,
		detector:    deps.Detector,
		riskEngine:  deps.Risk,
		decisions:   deps.Decisions,
		verifier:    deps.Verifier,
		identities:  deps.Identities,
		metrics:     deps.Metrics,
		hub:         deps.Hub,
		stream:      deps.Stream,
		cache:       deps.Cache,
		forward:     deps.ForwardEvents,
		lastContext: make(map[access.SessionKey]access.Context),
	}
}

// Identities exposes the registry for handlers and dashboards.
func (s *EvaluationService) Identities() *identity.Registry { return s.identities }

// Verifier exposes the continuous verifier for handlers.
func (s *EvaluationService) Verifier() *access.ContinuousVerifier { return s.verifier }

// ContextFromEvent maps an access event onto a decision context. Absent
// device signals assume a healthy posture; an absent network zone is treated
// as on-prem and an absent auth method as a plain password login.
func ContextFromEvent(ev *models.AccessEvent) access.Context {
	device := access.HealthyDevice()
	if ev.DeviceCompliance != nil {
		device.ComplianceScore = *ev.DeviceCompliance
	}
	if ev.OSPatched != nil {
		device.OSPatched = *ev.OSPatched
	}
	if ev.AntivirusActive != nil {
		device.AntivirusActive = *ev.AntivirusActive
	}
	if ev.DiskEncrypted != nil {
		device.DiskEncrypted = *ev.DiskEncrypted
	}
	if ev.FirewallEnabled != nil {
		device.FirewallEnabled = *ev.FirewallEnabled
	}

	zone := ev.NetworkZone
	if zone == "" {
		zone = "internal"
	}
	method := ev.AuthMethod
	if method == "" {
		method = "password"
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	hour := ts.Hour()
	if h, ok := ev.HourValue(); ok {
		hour = h
	}
	day := int(ts.Weekday())
	if d, ok := ev.DayValue(); ok {
		day = d
	}

	return access.Context{
		EntityID:    ev.EntityID,
		Resource:    ev.Resource,
		Action:      ev.Action,
		SourceIP:    ev.SourceIP,
		Location:    ev.Location,
		Hour:        hour,
		DayOfWeek:   day,
		Device:      device,
		SessionID:   ev.SessionID,
		AuthMethod:  method,
		MFAVerified: ev.MFAVerified,
		NetworkZone: zone,
		Timestamp:   ts,
	}
}

// ProcessEvent runs the pipeline: observe, analyze, compose risk, decide.
// Events carrying a session id go through the continuous verifier so their
// decisions count toward the session's history; everything else is a
// stateless evaluation.
func (s *EvaluationService) ProcessEvent(ctx context.Context, ev *models.AccessEvent) (*EvaluationResult, error) {
	if ev == nil || ev.EntityID == "" {
		return nil, fmt.Errorf("event missing entity_id")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.baselines.Observe(ev.EntityID, *ev)

	anomaly := s.detector.Analyze(ev.EntityID, *ev)

	actx := ContextFromEvent(ev)
	actx.BehaviorScore = anomaly.AnomalyScore

	riskScore := s.riskEngine.Calculate(ctx, risk.RiskInput{
		EntityID:      ev.EntityID,
		BehaviorScore: anomaly.AnomalyScore,
		DeviceHealth:  actx.Device.HealthScore(),
		NetworkTrust:  actx.NetworkTrust(),
		SourceIP:      ev.SourceIP,
		AuthStrength:  actx.AuthStrength(),
	})
	actx.RiskScore = riskScore.CompositeScore

	result := &EvaluationResult{
		EntityID:    ev.EntityID,
		Anomaly:     anomaly,
		Risk:        riskScore,
		EvaluatedAt: time.Now(),
	}

	if ev.SessionID != "" {
		verification := s.verifier.Reverify(actx)
		result.Verification = verification
		if kind, ok := verification["current_decision"].(string); ok {
			result.Decision = kind
		} else if kind, ok := verification["initial_decision"].(string); ok {
			result.Decision = kind
		}
		if rl, ok := verification["risk_level"].(float64); ok {
			result.RiskLevel = rl
			result.TrustScore = round4(1 - rl)
		}

		s.identities.TrackSession(ev.SessionID, ev.EntityID, "", ev.SourceIP)

		s.mu.Lock()
		s.lastContext[access.SessionKey{Entity: ev.EntityID, Session: ev.SessionID}] = actx
		s.mu.Unlock()
	} else {
		decision := s.decisions.Evaluate(actx)
		result.Decision = decision.Decision
		result.TrustScore = decision.TrustScore
		result.RiskLevel = decision.RiskLevel
		result.Reasons = decision.Reasons
		result.RequiredActions = decision.RequiredActions
	}

	s.recordMetrics(result)
	s.broadcast(result)

	if s.cache != nil {
		if err := s.cache.Set(ctx, "decision:"+ev.EntityID, result, decisionCacheTTL); err != nil {
			log.Debug().Err(err).Str("entity_id", ev.EntityID).Msg("failed to cache decision")
		}
	}
	if s.forward && s.stream != nil {
		if _, err := s.stream.Publish(ctx, ev); err != nil {
			log.Warn().Err(err).Str("entity_id", ev.EntityID).Msg("failed to forward event to stream")
		}
	}

	return result, nil
}

// ReverifySweep re-evaluates every session whose decision has gone stale,
// using the last signals each session produced. Returns the number of
// sessions re-verified.
func (s *EvaluationService) ReverifySweep(ctx context.Context) int {
	return s.verifier.SweepDue(ctx, func(entityID, sessionID string) error {
		s.mu.Lock()
		actx, ok := s.lastContext[access.SessionKey{Entity: entityID, Session: sessionID}]
		s.mu.Unlock()
		if !ok {
			return fmt.Errorf("no recorded context for session %s/%s", entityID, sessionID)
		}

		verification := s.verifier.Reverify(actx)
		escalated, _ := verification["escalated"].(bool)

		if s.metrics != nil {
			s.metrics.ReverificationsTotal.WithLabelValues(strconv.FormatBool(escalated)).Inc()
		}
		if escalated && s.hub != nil {
			s.hub.BroadcastAlert(models.JSONMap{
				"kind":       "session_escalation",
				"entity_id":  entityID,
				"session_id": sessionID,
				"decision":   verification["current_decision"],
			})
		}
		return nil
	})
}

// EndSession drops all state held for a session across the verifier, the
// identity registry, and the sweep context map.
func (s *EvaluationService) EndSession(entityID, sessionID string) bool {
	s.mu.Lock()
	delete(s.lastContext, access.SessionKey{Entity: entityID, Session: sessionID})
	s.mu.Unlock()

	s.identities.EndSession(sessionID)
	return s.verifier.EndSession(entityID, sessionID)
}

// MarkIngested bumps the ingestion counter for a transport; callers that
// receive events name the path the event arrived on.
func (s *EvaluationService) MarkIngested(transport string) {
	if s.metrics != nil {
		s.metrics.EventsIngestedTotal.WithLabelValues(transport).Inc()
	}
}

func (s *EvaluationService) recordMetrics(result *EvaluationResult) {
	if s.metrics == nil {
		return
	}
	s.metrics.DecisionsTotal.WithLabelValues(result.Decision).Inc()
	s.metrics.AnomalyScore.Observe(result.Anomaly.AnomalyScore)
	s.metrics.RiskScore.Observe(result.Risk.CompositeScore)

	checkResult := "normal"
	if _, insufficient := result.Anomaly.Details["reason"]; insufficient {
		checkResult = "insufficient_baseline"
	} else if result.Anomaly.IsAnomalous {
		checkResult = "anomalous"
	}
	s.metrics.AnomalyChecksTotal.WithLabelValues(checkResult).Inc()

	if result.Verification != nil {
		if escalated, ok := result.Verification["escalated"].(bool); ok {
			s.metrics.ReverificationsTotal.WithLabelValues(strconv.FormatBool(escalated)).Inc()
		}
	}
}

func (s *EvaluationService) broadcast(result *EvaluationResult) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastDecision(models.JSONMap{
		"entity_id":     result.EntityID,
		"decision":      result.Decision,
		"trust_score":   result.TrustScore,
		"risk_level":    result.RiskLevel,
		"anomaly_score": result.Anomaly.AnomalyScore,
		"evaluated_at":  result.EvaluatedAt,
	})
}
