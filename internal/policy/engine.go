package policy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Engine stores policies and evaluates access contexts against them.
// No matching rule means deny: the engine is default-closed.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*Policy
	order    []string
}

func NewEngine() *Engine {
	return &Engine{policies: make(map[string]*Policy)}
}

// AddPolicy inserts or replaces a policy by id.
func (e *Engine) AddPolicy(p Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.policies[p.PolicyID]; !exists {
		e.order = append(e.order, p.PolicyID)
	}
	e.policies[p.PolicyID] = &p
	log.Info().Str("policy_id", p.PolicyID).Int("rules", len(p.Rules)).Msg("policy added")
}

// RemovePolicy drops a policy; returns false if it was not present.
func (e *Engine) RemovePolicy(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.policies[id]; !ok {
		return false
	}
	delete(e.policies, id)
	for i, pid := range e.order {
		if pid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return true
}

// GetPolicy returns a copy of the policy.
func (e *Engine) GetPolicy(id string) (Policy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.policies[id]
	if !ok {
		return Policy{}, false
	}
	return *p, true
}

// ListPolicies returns all policies sorted by id.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Policy, 0, len(e.policies))
	for _, p := range e.policies {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PolicyID < out[j].PolicyID })
	return out
}

// EnablePolicy toggles a policy; returns false for unknown ids.
func (e *Engine) EnablePolicy(id string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.policies[id]
	if !ok {
		return false
	}
	p.Enabled = enabled
	return true
}

type match struct {
	priority int
	rule     Rule
	policyID string
}

// Evaluate gathers every matching rule across enabled policies and returns
// the lowest-priority-number winner. Ties go to the earliest-added policy,
// which keeps the outcome deterministic.
func (e *Engine) Evaluate(ctx map[string]interface{}) map[string]interface{} {
	e.mu.RLock()
	var matches []match
	for _, pid := range e.order {
		p := e.policies[pid]
		if p == nil || !p.Enabled {
			continue
		}
		for _, rule := range p.Rules {
			if rule.Matches(ctx) {
				matches = append(matches, match{rule.Priority, rule, pid})
			}
		}
	}
	e.mu.RUnlock()

	if len(matches) == 0 {
		return map[string]interface{}{
			"decision":     "deny",
			"reason":       "no_matching_policy",
			"default_deny": true,
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].priority < matches[j].priority })
	best := matches[0]

	return map[string]interface{}{
		"decision":      best.rule.Effect,
		"rule_id":       best.rule.RuleID,
		"policy_id":     best.policyID,
		"priority":      best.priority,
		"description":   best.rule.Description,
		"total_matches": len(matches),
	}
}

// Simulate runs Evaluate over a batch of what-if contexts.
func (e *Engine) Simulate(contexts []map[string]interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, len(contexts))
	for i, ctx := range contexts {
		out[i] = e.Evaluate(ctx)
	}
	return out
}

// DetectConflicts flags pairs of enabled rules with differing effects whose
// condition sets could match the same context. Two sets overlap unless some
// shared field carries eq constraints to different values.
func (e *Engine) DetectConflicts() []map[string]interface{} {
	e.mu.RLock()
	type flatRule struct {
		policyID string
		rule     Rule
	}
	var all []flatRule
	for _, pid := range e.order {
		p := e.policies[pid]
		if p == nil || !p.Enabled {
			continue
		}
		for _, rule := range p.Rules {
			if rule.Enabled {
				all = append(all, flatRule{pid, rule})
			}
		}
	}
	e.mu.RUnlock()

	var conflicts []map[string]interface{}
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			r1, r2 := all[i], all[j]
			if r1.rule.Effect == r2.rule.Effect {
				continue
			}
			if !conditionsOverlap(r1.rule.Conditions, r2.rule.Conditions) {
				continue
			}
			winner := r1.rule.RuleID
			if r2.rule.Priority < r1.rule.Priority {
				winner = r2.rule.RuleID
			}
			conflicts = append(conflicts, map[string]interface{}{
				"rule_1": map[string]interface{}{
					"policy_id": r1.policyID, "rule_id": r1.rule.RuleID, "effect": r1.rule.Effect,
				},
				"rule_2": map[string]interface{}{
					"policy_id": r2.policyID, "rule_id": r2.rule.RuleID, "effect": r2.rule.Effect,
				},
				"type":        "overlapping_conditions_different_effects",
				"resolved_by": "priority",
				"winner":      winner,
			})
		}
	}
	return conflicts
}

func conditionsOverlap(a, b []Condition) bool {
	shared := make(map[string]bool)
	fieldsB := make(map[string]bool, len(b))
	for _, c := range b {
		fieldsB[c.Field] = true
	}
	for _, c := range a {
		if fieldsB[c.Field] {
			shared[c.Field] = true
		}
	}
	if len(shared) == 0 {
		return true
	}
	for field := range shared {
		for _, ca := range a {
			if ca.Field != field || ca.Operator != "eq" {
				continue
			}
			for _, cb := range b {
				if cb.Field == field && cb.Operator == "eq" && !compareEqual(ca.Value, cb.Value) {
					return false
				}
			}
		}
	}
	return true
}

// PolicySummary reports aggregate counts plus an effect distribution.
func (e *Engine) PolicySummary() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()

	totalRules := 0
	enabled := 0
	effects := make(map[string]int)
	for _, p := range e.policies {
		if p.Enabled {
			enabled++
		}
		totalRules += len(p.Rules)
		for _, r := range p.Rules {
			effects[r.Effect]++
		}
	}
	return map[string]interface{}{
		"total_policies":   len(e.policies),
		"enabled_policies": enabled,
		"total_rules":      totalRules,
		"effects":          effects,
	}
}

// LeastPrivilegeRecommendations distills an access log into one recommended
// resource/action scope per entity.
func (e *Engine) LeastPrivilegeRecommendations(accessLog []map[string]interface{}) []map[string]interface{} {
	resources := make(map[string]map[string]bool)
	actions := make(map[string]map[string]bool)

	for _, entry := range accessLog {
		eid, _ := entry["entity_id"].(string)
		resource, _ := entry["resource"].(string)
		action, ok := entry["action"].(string)
		if !ok || action == "" {
			action = "read"
		}
		if eid == "" || resource == "" {
			continue
		}
		if resources[eid] == nil {
			resources[eid] = make(map[string]bool)
			actions[eid] = make(map[string]bool)
		}
		resources[eid][resource] = true
		actions[eid][action] = true
	}

	entities := make([]string, 0, len(resources))
	for eid := range resources {
		entities = append(entities, eid)
	}
	sort.Strings(entities)

	out := make([]map[string]interface{}, 0, len(entities))
	for _, eid := range entities {
		out = append(out, map[string]interface{}{
			"entity_id":             eid,
			"recommended_resources": sortedKeys(resources[eid]),
			"recommended_actions":   sortedKeys(actions[eid]),
			"principle":             "least_privilege",
			"note": fmt.Sprintf("Entity accessed %d resources with %d action types",
				len(resources[eid]), len(actions[eid])),
		})
	}
	return out
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
