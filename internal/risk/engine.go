package risk

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zerotrust/access-engine/internal/models"
)

// Component weights for the composite score.
type Weights struct {
	Behavior float64 `json:"behavior"`
	Device   float64 `json:"device"`
	Network  float64 `json:"network"`
	Threat   float64 `json:"threat"`
	Auth     float64 `json:"auth"`
}

func DefaultWeights() Weights {
	return Weights{Behavior: 0.30, Device: 0.20, Network: 0.15, Threat: 0.20, Auth: 0.15}
}

// Level thresholds, checked critical-first.
const (
	criticalThreshold = 0.9
	highThreshold     = 0.7
	mediumThreshold   = 0.5
	lowThreshold      = 0.3
)

// maxHistoryPerEntity bounds each entity's score history so long-running
// processes stay flat.
const maxHistoryPerEntity = 1000

// RiskInput carries the signals the engine composes. Zero values are
// meaningful (behavior 0 = normal); callers fill what they know.
type RiskInput struct {
	EntityID      string  `json:"entity_id"`
	BehaviorScore float64 `json:"behavior_score"`
	DeviceHealth  float64 `json:"device_health"`
	NetworkTrust  float64 `json:"network_trust"`
	SourceIP      string  `json:"source_ip"`
	AuthStrength  float64 `json:"auth_strength"`
}

// RiskScore is the immutable result of one calculation.
type RiskScore struct {
	EntityID       string             `json:"entity_id"`
	CompositeScore float64            `json:"composite_score"`
	RiskLevel      string             `json:"risk_level"`
	Components     map[string]float64 `json:"components"`
	Factors        []string           `json:"factors"`
	Timestamp      time.Time          `json:"timestamp"`
}

// Engine computes composite risk scores from behavioral, device, network,
// threat-intel, and authentication signals.
type Engine struct {
	mu      sync.RWMutex
	weights Weights
	intel   *ThreatIntel
	history map[string][]RiskScore
	now     func() time.Time
}

// NewEngine creates a risk engine with default weights. A nil intel store
// gets an empty one.
func NewEngine(intel *ThreatIntel) *Engine {
	if intel == nil {
		intel = NewThreatIntel()
	}
	return &Engine{
		weights: DefaultWeights(),
		intel:   intel,
		history: make(map[string][]RiskScore),
		now:     time.Now,
	}
}

// SetWeights overrides the component weights.
func (e *Engine) SetWeights(w Weights) {
	e.mu.Lock()
	e.weights = w
	e.mu.Unlock()
}

// Intel exposes the threat intelligence store for feed updates.
func (e *Engine) Intel() *ThreatIntel { return e.intel }

// Calculate composes the five risk components into a composite score and
// level. The context parameter keeps the signature uniform with the rest of
// the pipeline; the calculation itself never blocks.
func (e *Engine) Calculate(ctx context.Context, in RiskInput) RiskScore {
	components := make(map[string]float64, 5)
	factors := make([]string, 0, 4)

	// Anomaly score passes through; higher is riskier.
	components["behavior"] = in.BehaviorScore
	if in.BehaviorScore > 0.7 {
		factors = append(factors, "High behavioral anomaly")
	}

	components["device"] = math.Max(0, 1-in.DeviceHealth)
	if in.DeviceHealth < 0.5 {
		factors = append(factors, "Poor device health")
	}

	components["network"] = math.Max(0, 1-in.NetworkTrust)
	if in.NetworkTrust < 0.3 {
		factors = append(factors, "Untrusted network")
	}

	threat := 0.0
	if in.SourceIP != "" {
		if ipScore := e.intel.CheckIP(in.SourceIP); ipScore > 0 {
			threat = math.Max(threat, ipScore)
			factors = append(factors, "Threat intel match on IP")
		}
	}
	if credScore := e.intel.CheckCredential(in.EntityID); credScore > 0 {
		threat = math.Max(threat, credScore)
		factors = append(factors, "Compromised credential")
	}
	components["threat"] = threat

	components["auth"] = math.Max(0, 1-in.AuthStrength)
	if in.AuthStrength < 0.4 {
		factors = append(factors, "Weak authentication")
	}

	e.mu.Lock()
	w := e.weights
	e.mu.Unlock()

	composite := components["behavior"]*w.Behavior +
		components["device"]*w.Device +
		components["network"]*w.Network +
		components["threat"]*w.Threat +
		components["auth"]*w.Auth
	composite = round4(clamp01(composite))

	score := RiskScore{
		EntityID:       in.EntityID,
		CompositeScore: composite,
		RiskLevel:      levelFor(composite),
		Components:     components,
		Factors:        factors,
		Timestamp:      e.now(),
	}

	e.mu.Lock()
	hist := append(e.history[in.EntityID], score)
	if len(hist) > maxHistoryPerEntity {
		hist = hist[len(hist)-maxHistoryPerEntity:]
	}
	e.history[in.EntityID] = hist
	e.mu.Unlock()

	if score.RiskLevel == models.RiskLevelHigh || score.RiskLevel == models.RiskLevelCritical {
		log.Warn().
			Str("entity_id", in.EntityID).
			Float64("composite_score", composite).
			Str("risk_level", score.RiskLevel).
			Strs("factors", factors).
			Msg("elevated risk score")
	}
	return score
}

// BatchCalculate scores inputs in order.
func (e *Engine) BatchCalculate(ctx context.Context, inputs []RiskInput) []RiskScore {
	out := make([]RiskScore, 0, len(inputs))
	for _, in := range inputs {
		out = append(out, e.Calculate(ctx, in))
	}
	return out
}

// RiskTrend returns the entity's last n composite scores, oldest first.
func (e *Engine) RiskTrend(entityID string, n int) []float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	hist := e.history[entityID]
	if n > 0 && len(hist) > n {
		hist = hist[len(hist)-n:]
	}
	scores := make([]float64, len(hist))
	for i, s := range hist {
		scores[i] = s.CompositeScore
	}
	return scores
}

// LatestScore returns the most recent score for an entity.
func (e *Engine) LatestScore(entityID string) (RiskScore, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	hist := e.history[entityID]
	if len(hist) == 0 {
		return RiskScore{}, false
	}
	return hist[len(hist)-1], true
}

// PopulationSummary aggregates the latest score of every scored entity.
func (e *Engine) PopulationSummary() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()

	latest := make(map[string]RiskScore)
	for eid, hist := range e.history {
		if len(hist) > 0 {
			latest[eid] = hist[len(hist)-1]
		}
	}
	if len(latest) == 0 {
		return map[string]interface{}{"total_entities": 0}
	}

	levelCounts := map[string]int{
		models.RiskLevelLow:      0,
		models.RiskLevelMedium:   0,
		models.RiskLevelHigh:     0,
		models.RiskLevelCritical: 0,
	}
	sum, max := 0.0, 0.0
	for _, s := range latest {
		sum += s.CompositeScore
		if s.CompositeScore > max {
			max = s.CompositeScore
		}
		levelCounts[s.RiskLevel]++
	}
	mean := sum / float64(len(latest))

	variance := 0.0
	for _, s := range latest {
		d := s.CompositeScore - mean
		variance += d * d
	}
	variance /= float64(len(latest))

	return map[string]interface{}{
		"total_entities":     len(latest),
		"mean_risk":          round4(mean),
		"max_risk":           round4(max),
		"std_risk":           round4(math.Sqrt(variance)),
		"level_distribution": levelCounts,
	}
}

// TopRiskEntities returns up to k entities ordered by latest composite score
// descending, ids breaking ties.
func (e *Engine) TopRiskEntities(k int) []RiskScore {
	e.mu.RLock()
	defer e.mu.RUnlock()

	latest := make([]RiskScore, 0, len(e.history))
	for _, hist := range e.history {
		if len(hist) > 0 {
			latest = append(latest, hist[len(hist)-1])
		}
	}
	sort.Slice(latest, func(i, j int) bool {
		if latest[i].CompositeScore != latest[j].CompositeScore {
			return latest[i].CompositeScore > latest[j].CompositeScore
		}
		return latest[i].EntityID < latest[j].EntityID
	})
	if k > 0 && len(latest) > k {
		latest = latest[:k]
	}
	return latest
}

func levelFor(composite float64) string {
	switch {
	case composite >= criticalThreshold:
		return models.RiskLevelCritical
	case composite >= highThreshold:
		return models.RiskLevelHigh
	case composite >= mediumThreshold:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

func round4(x float64) float64 { return math.Round(x*10000) / 10000 }
