package analytics

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zerotrust/access-engine/internal/access"
	"github.com/zerotrust/access-engine/internal/behavioral"
	"github.com/zerotrust/access-engine/internal/identity"
	"github.com/zerotrust/access-engine/internal/lateral"
	"github.com/zerotrust/access-engine/internal/microseg"
	"github.com/zerotrust/access-engine/internal/policy"
	"github.com/zerotrust/access-engine/internal/queue"
	"github.com/zerotrust/access-engine/internal/risk"
)

const (
	snapshotCacheKey = "dashboard:snapshot"
	snapshotCacheTTL = 5 * time.Second

	recentDecisionCount = 20
	topRiskCount        = 10
)

// DashboardSnapshot is one consistent view across every engine, rendered by
// the HTTP dashboard endpoint and the CLI dashboard command.
type DashboardSnapshot struct {
	GeneratedAt      time.Time                 `json:"generated_at"`
	DecisionStats    map[string]int            `json:"decision_stats"`
	RecentDecisions  []access.Decision         `json:"recent_decisions"`
	PopulationRisk   map[string]interface{}    `json:"population_risk"`
	TopRiskEntities  []risk.RiskScore          `json:"top_risk_entities"`
	ProfiledEntities int                       `json:"profiled_entities"`
	ActiveSessions   int                       `json:"active_sessions"`
	LateralAlerts    []lateral.Alert           `json:"lateral_alerts"`
	LateralGraph     map[string]interface{}    `json:"lateral_graph"`
	PolicySummary    map[string]interface{}    `json:"policy_summary"`
	SegmentSummaries []microseg.SegmentSummary `json:"segment_summaries"`
	IsolationScore   float64                   `json:"isolation_score"`
	IdentitySummary  map[string]interface{}    `json:"identity_summary"`
	ThreatIntel      map[string]interface{}    `json:"threat_intel"`
}

// DashboardService aggregates engine state. Every dependency except the
// cache may be shared with the live pipeline; reads go through the engines'
// copying accessors. A nil cache disables the snapshot guard.
type DashboardService struct {
	baselines  *behavioral.BaselineStore
	riskEngine *risk.Engine
	decisions  *access.DecisionEngine
	verifier   *access.ContinuousVerifier
	detector   *lateral.MovementDetector
	policies   *policy.Engine
	segments   *microseg.SegmentManager
	identities *identity.Registry
	cache      *queue.CacheClient
}

// NewDashboardService wires the aggregation sources.
func NewDashboardService(
	baselines *behavioral.BaselineStore,
	riskEngine *risk.Engine,
	decisions *access.DecisionEngine,
	verifier *access.ContinuousVerifier,
	detector *lateral.MovementDetector,
	policies *policy.Engine,
	segments *microseg.SegmentManager,
	identities *identity.Registry,
	cache *queue.CacheClient,
) *DashboardService {
	return &DashboardService{
		baselines:  baselines,
		riskEngine: riskEngine,
		decisions:  decisions,
		verifier:   verifier,
		detector:   detector,
		policies:   policies,
		segments:   segments,
		identities: identities,
		cache:      cache,
	}
}

// Snapshot builds (or serves from cache) a dashboard view. Lateral detection
// runs inside the snapshot, so the call honors ctx cancellation.
func (s *DashboardService) Snapshot(ctx context.Context) (*DashboardSnapshot, error) {
	if s.cache != nil {
		var cached DashboardSnapshot
		if err := s.cache.Get(ctx, snapshotCacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	alerts, err := s.detector.Detect(ctx)
	if err != nil {
		return nil, err
	}

	graph := s.detector.Graph()
	snap := &DashboardSnapshot{
		GeneratedAt:      time.Now(),
		DecisionStats:    s.decisions.DecisionStats(),
		RecentDecisions:  s.decisions.RecentDecisions(recentDecisionCount),
		PopulationRisk:   s.riskEngine.PopulationSummary(),
		TopRiskEntities:  s.riskEngine.TopRiskEntities(topRiskCount),
		ProfiledEntities: len(s.baselines.EntityIDs()),
		ActiveSessions:   s.verifier.ActiveSessionCount(),
		LateralAlerts:    alerts,
		LateralGraph: map[string]interface{}{
			"nodes": graph.NodeCount(),
			"edges": graph.EdgeCount(),
		},
		PolicySummary:    s.policies.PolicySummary(),
		SegmentSummaries: s.segments.Summaries(),
		IsolationScore:   s.segments.IsolationScore(),
		IdentitySummary:  s.identities.Summary(),
		ThreatIntel:      s.riskEngine.Intel().Summary(),
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, snapshotCacheKey, snap, snapshotCacheTTL); err != nil {
			log.Debug().Err(err).Msg("failed to cache dashboard snapshot")
		}
	}
	return snap, nil
}

// AlertCounts groups the snapshot's lateral alerts by type.
func (s *DashboardSnapshot) AlertCounts() map[string]int {
	counts := make(map[string]int)
	for _, a := range s.LateralAlerts {
		counts[a.AlertType]++
	}
	return counts
}
