package access

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultReverifyInterval is how long a session decision stays fresh.
const DefaultReverifyInterval = 300 * time.Second

// SessionKey identifies a verification state. A struct key keeps entity and
// session ids separate; joining them into one string cannot distinguish
// identifiers containing the separator.
type SessionKey struct {
	Entity  string
	Session string
}

// VerificationState tracks one session's decision history.
type VerificationState struct {
	EntityID          string    `json:"entity_id"`
	SessionID         string    `json:"session_id"`
	InitialDecision   string    `json:"initial_decision"`
	CurrentDecision   string    `json:"current_decision"`
	LastVerified      time.Time `json:"last_verified"`
	VerificationCount int       `json:"verification_count"`
	EscalationCount   int       `json:"escalation_count"`
	TrustHistory      []float64 `json:"trust_history"`
}

// ContinuousVerifier re-evaluates trust throughout a session's lifetime.
// Trust is not a one-time gate: it is re-earned on every verification.
type ContinuousVerifier struct {
	mu       sync.Mutex
	engine   *DecisionEngine
	states   map[SessionKey]*VerificationState
	interval time.Duration
	now      func() time.Time
}

// NewContinuousVerifier wraps a decision engine. A nil engine gets a fresh
// one with defaults.
func NewContinuousVerifier(engine *DecisionEngine) *ContinuousVerifier {
	if engine == nil {
		engine = NewDecisionEngine()
	}
	return &ContinuousVerifier{
		engine:   engine,
		states:   make(map[SessionKey]*VerificationState),
		interval: DefaultReverifyInterval,
		now:      time.Now,
	}
}

// SetReverifyInterval overrides the freshness window; non-positive values
// are ignored.
func (v *ContinuousVerifier) SetReverifyInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	v.mu.Lock()
	v.interval = d
	v.mu.Unlock()
}

// Engine exposes the wrapped decision engine.
func (v *ContinuousVerifier) Engine() *DecisionEngine { return v.engine }

// InitializeSession evaluates once and starts tracking the session.
func (v *ContinuousVerifier) InitializeSession(ctx Context) map[string]interface{} {
	decision := v.engine.Evaluate(ctx)
	now := v.now()

	state := &VerificationState{
		EntityID:        ctx.EntityID,
		SessionID:       ctx.SessionID,
		InitialDecision: decision.Decision,
		CurrentDecision: decision.Decision,
		LastVerified:    now,
		TrustHistory:    []float64{1 - decision.RiskLevel},
	}

	v.mu.Lock()
	v.states[SessionKey{Entity: ctx.EntityID, Session: ctx.SessionID}] = state
	interval := v.interval
	v.mu.Unlock()

	return map[string]interface{}{
		"session_id":        ctx.SessionID,
		"initial_decision":  decision.Decision,
		"risk_level":        decision.RiskLevel,
		"next_verification": now.Add(interval),
	}
}

// Reverify re-evaluates an active session, recording escalations when the
// new decision is stricter than the previous one. Unknown sessions are
// initialized instead.
func (v *ContinuousVerifier) Reverify(ctx Context) map[string]interface{} {
	key := SessionKey{Entity: ctx.EntityID, Session: ctx.SessionID}

	v.mu.Lock()
	state, ok := v.states[key]
	v.mu.Unlock()
	if !ok {
		return v.InitializeSession(ctx)
	}

	decision := v.engine.Evaluate(ctx)

	v.mu.Lock()
	defer v.mu.Unlock()

	state.VerificationCount++
	state.LastVerified = v.now()
	state.TrustHistory = append(state.TrustHistory, 1-decision.RiskLevel)

	escalated := false
	if Stricter(decision.Decision, state.CurrentDecision) {
		state.EscalationCount++
		escalated = true
		log.Warn().
			Str("entity_id", ctx.EntityID).
			Str("session_id", ctx.SessionID).
			Str("previous", state.CurrentDecision).
			Str("current", decision.Decision).
			Msg("session trust escalated")
	}

	prev := state.CurrentDecision
	state.CurrentDecision = decision.Decision

	return map[string]interface{}{
		"session_id":         ctx.SessionID,
		"previous_decision":  prev,
		"current_decision":   decision.Decision,
		"risk_level":         decision.RiskLevel,
		"trust_trend":        trustTrend(state.TrustHistory),
		"escalated":          escalated,
		"verification_count": state.VerificationCount,
	}
}

// NeedsReverification reports whether the session's decision has gone stale.
// Unknown sessions always need verification.
func (v *ContinuousVerifier) NeedsReverification(entityID, sessionID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	state, ok := v.states[SessionKey{Entity: entityID, Session: sessionID}]
	if !ok {
		return true
	}
	return v.now().Sub(state.LastVerified) > v.interval
}

// SessionState returns a snapshot of the tracked state.
func (v *ContinuousVerifier) SessionState(entityID, sessionID string) (map[string]interface{}, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	state, ok := v.states[SessionKey{Entity: entityID, Session: sessionID}]
	if !ok {
		return nil, false
	}
	return map[string]interface{}{
		"entity_id":          state.EntityID,
		"session_id":         state.SessionID,
		"initial_decision":   state.InitialDecision,
		"current_decision":   state.CurrentDecision,
		"verification_count": state.VerificationCount,
		"escalation_count":   state.EscalationCount,
		"trust_trend":        trustTrend(state.TrustHistory),
		"last_verified":      state.LastVerified,
	}, true
}

// ActiveSessionCount reports how many sessions are tracked.
func (v *ContinuousVerifier) ActiveSessionCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.states)
}

// EndSession drops a session's state.
func (v *ContinuousVerifier) EndSession(entityID, sessionID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	key := SessionKey{Entity: entityID, Session: sessionID}
	if _, ok := v.states[key]; !ok {
		return false
	}
	delete(v.states, key)
	return true
}

// SweepDue invokes fn for every session due for re-verification, in sorted
// key order. fn rebuilds the session's context and calls Reverify; returning
// an error skips only that session. Sweeping stops when ctx is cancelled.
func (v *ContinuousVerifier) SweepDue(ctx context.Context, fn func(entityID, sessionID string) error) int {
	v.mu.Lock()
	due := make([]SessionKey, 0)
	now := v.now()
	for key, state := range v.states {
		if now.Sub(state.LastVerified) > v.interval {
			due = append(due, key)
		}
	}
	v.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].Entity != due[j].Entity {
			return due[i].Entity < due[j].Entity
		}
		return due[i].Session < due[j].Session
	})

	swept := 0
	for _, key := range due {
		if ctx.Err() != nil {
			break
		}
		if err := fn(key.Entity, key.Session); err != nil {
			log.Error().Err(err).
				Str("entity_id", key.Entity).
				Str("session_id", key.Session).
				Msg("reverification sweep callback failed")
			continue
		}
		swept++
	}
	return swept
}

// trustTrend compares the mean of the last three history points to the
// earliest of those three. Needs at least two points to say anything.
func trustTrend(history []float64) string {
	if len(history) < 2 {
		return "unknown"
	}
	recent := history
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}
	sum := 0.0
	for _, t := range recent {
		sum += t
	}
	delta := sum/float64(len(recent)) - recent[0]
	switch {
	case delta < -0.1:
		return "degrading"
	case delta > 0.1:
		return "improving"
	default:
		return "stable"
	}
}
