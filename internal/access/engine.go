package access

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Default thresholds compared against the trust score in increasing order.
const (
	DefaultDenyThreshold      = 0.3
	DefaultChallengeThreshold = 0.5
	DefaultRestrictThreshold  = 0.7

	defaultSensitivity = 0.5
	maxDecisionLog     = 10000
)

// TrustWeights controls the trust score composition.
type TrustWeights struct {
	Auth     float64 `json:"auth"`
	Device   float64 `json:"device"`
	Behavior float64 `json:"behavior"`
	Network  float64 `json:"network"`
	Risk     float64 `json:"risk"`
}

func DefaultTrustWeights() TrustWeights {
	return TrustWeights{Auth: 0.20, Device: 0.20, Behavior: 0.25, Network: 0.15, Risk: 0.20}
}

// Decision is the immutable outcome of one evaluation.
type Decision struct {
	Decision        string                 `json:"decision"`
	TrustScore      float64                `json:"trust_score"`
	Confidence      float64                `json:"confidence"`
	RiskLevel       float64                `json:"risk_level"`
	Reasons         []string               `json:"reasons"`
	RequiredActions []string               `json:"required_actions"`
	ContextSummary  map[string]interface{} `json:"context_summary"`
	Timestamp       time.Time              `json:"timestamp"`
}

// DecisionEngine turns a fully-populated context into a graded decision.
// Per-resource sensitivity tightens thresholds: sensitive resources demand
// more trust for the same outcome.
type DecisionEngine struct {
	mu                 sync.RWMutex
	weights            TrustWeights
	denyThreshold      float64
	challengeThreshold float64
	restrictThreshold  float64
	sensitivity        map[string]float64
	decisionLog        []Decision
	now                func() time.Time
}

func NewDecisionEngine() *DecisionEngine {
	return &DecisionEngine{
		weights:            DefaultTrustWeights(),
		denyThreshold:      DefaultDenyThreshold,
		challengeThreshold: DefaultChallengeThreshold,
		restrictThreshold:  DefaultRestrictThreshold,
		sensitivity:        make(map[string]float64),
		now:                time.Now,
	}
}

// SetThresholds overrides the base thresholds; they must be increasing.
func (e *DecisionEngine) SetThresholds(deny, challenge, restrict float64) {
	if deny <= 0 || deny >= challenge || challenge >= restrict || restrict > 1 {
		return
	}
	e.mu.Lock()
	e.denyThreshold, e.challengeThreshold, e.restrictThreshold = deny, challenge, restrict
	e.mu.Unlock()
}

// SetResourceSensitivity pins a resource's sensitivity; values are clamped
// to [0,1]. Unset resources use 0.5.
func (e *DecisionEngine) SetResourceSensitivity(resource string, level float64) {
	e.mu.Lock()
	e.sensitivity[resource] = clamp01(level)
	e.mu.Unlock()
}

// Evaluate computes the trust score, compares it to the resource-adjusted
// thresholds, and appends the result to the decision log.
func (e *DecisionEngine) Evaluate(ctx Context) Decision {
	trust := e.trustScore(ctx)

	e.mu.RLock()
	s, ok := e.sensitivity[ctx.Resource]
	if !ok {
		s = defaultSensitivity
	}
	effectiveDeny := e.denyThreshold * (1 + s*0.5)
	effectiveChallenge := e.challengeThreshold * (1 + s*0.3)
	effectiveRestrict := e.restrictThreshold * (1 + s*0.2)
	e.mu.RUnlock()

	reasons := make([]string, 0, 3)
	actions := make([]string, 0, 2)
	var kind string

	switch {
	case trust < effectiveDeny:
		kind = DecisionDeny
		reasons = append(reasons, fmt.Sprintf("Trust score %.2f below deny threshold %.2f", trust, effectiveDeny))
		if ctx.BehaviorScore > 0.7 {
			reasons = append(reasons, "High behavioral anomaly score")
		}
		if ctx.Device.HealthScore() < 0.5 {
			reasons = append(reasons, "Device health below minimum")
		}
	case trust < effectiveChallenge:
		kind = DecisionChallenge
		reasons = append(reasons, fmt.Sprintf("Trust score %.2f requires step-up verification", trust))
		if !ctx.MFAVerified {
			actions = append(actions, "mfa_verification")
		}
		if ctx.Device.HealthScore() < 0.7 {
			actions = append(actions, "device_compliance_check")
		}
	case trust < effectiveRestrict:
		kind = DecisionRestrict
		reasons = append(reasons, "Read-only access granted")
		switch ctx.Action {
		case "write", "delete", "admin":
			actions = append(actions, "reduce_to_read_only")
		}
	default:
		kind = DecisionAllow
		reasons = append(reasons, fmt.Sprintf("Trust score %.2f meets threshold", trust))
	}

	decision := Decision{
		Decision:        kind,
		TrustScore:      trust,
		Confidence:      math.Min(1.0, math.Abs(trust-0.5)*2),
		RiskLevel:       round4(1 - trust),
		Reasons:         reasons,
		RequiredActions: actions,
		ContextSummary:  ctx.Summary(),
		Timestamp:       e.now(),
	}

	e.mu.Lock()
	e.decisionLog = append(e.decisionLog, decision)
	if len(e.decisionLog) > maxDecisionLog {
		e.decisionLog = e.decisionLog[len(e.decisionLog)-maxDecisionLog:]
	}
	e.mu.Unlock()

	log.Info().
		Str("entity_id", ctx.EntityID).
		Str("resource", ctx.Resource).
		Str("decision", kind).
		Float64("trust_score", trust).
		Msg("access evaluated")
	return decision
}

// trustScore is the weighted blend of the five trust signals, clamped to
// [0,1] and rounded to 4 decimals.
func (e *DecisionEngine) trustScore(ctx Context) float64 {
	e.mu.RLock()
	w := e.weights
	e.mu.RUnlock()

	trust := ctx.AuthStrength()*w.Auth +
		ctx.Device.HealthScore()*w.Device +
		math.Max(0, 1-ctx.BehaviorScore)*w.Behavior +
		ctx.NetworkTrust()*w.Network +
		math.Max(0, 1-ctx.RiskScore)*w.Risk
	return round4(clamp01(trust))
}

// RecentDecisions returns the last n decisions, oldest first.
func (e *DecisionEngine) RecentDecisions(n int) []Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()
	logLen := len(e.decisionLog)
	if n <= 0 || n > logLen {
		n = logLen
	}
	out := make([]Decision, n)
	copy(out, e.decisionLog[logLen-n:])
	return out
}

// DecisionStats counts logged decisions per kind. All four keys are always
// present.
func (e *DecisionEngine) DecisionStats() map[string]int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	stats := map[string]int{
		DecisionAllow:     0,
		DecisionDeny:      0,
		DecisionChallenge: 0,
		DecisionRestrict:  0,
	}
	for _, d := range e.decisionLog {
		stats[d.Decision]++
	}
	return stats
}

func clamp01(x float64) float64 { return math.Max(0, math.Min(1, x)) }

func round4(x float64) float64 { return math.Round(x*10000) / 10000 }
