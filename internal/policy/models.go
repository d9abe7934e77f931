package policy

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Effects a rule can produce.
const (
	EffectAllow     = "allow"
	EffectDeny      = "deny"
	EffectChallenge = "challenge"
)

// Condition constrains one context field. Supported operators:
// eq, ne, gt, lt, gte, lte, in, not_in.
type Condition struct {
	Field    string      `yaml:"field" json:"field"`
	Operator string      `yaml:"operator" json:"operator"`
	Value    interface{} `yaml:"value" json:"value"`
}

// Evaluate checks the condition against a context map. A missing field or
// an unknown operator never matches.
func (c Condition) Evaluate(ctx map[string]interface{}) bool {
	actual, ok := ctx[c.Field]
	if !ok || actual == nil {
		return false
	}

	switch c.Operator {
	case "eq":
		return compareEqual(actual, c.Value)
	case "ne":
		return !compareEqual(actual, c.Value)
	case "gt":
		return compareFloat(actual, c.Value, func(a, b float64) bool { return a > b })
	case "lt":
		return compareFloat(actual, c.Value, func(a, b float64) bool { return a < b })
	case "gte":
		return compareFloat(actual, c.Value, func(a, b float64) bool { return a >= b })
	case "lte":
		return compareFloat(actual, c.Value, func(a, b float64) bool { return a <= b })
	case "in":
		return containsValue(c.Value, actual)
	case "not_in":
		return isList(c.Value) && !containsValue(c.Value, actual)
	default:
		return false
	}
}

// Rule is a single prioritized rule. Lower priority numbers win.
type Rule struct {
	RuleID      string      `yaml:"rule_id" json:"rule_id"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Effect      string      `yaml:"effect" json:"effect"`
	Conditions  []Condition `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Priority    int         `yaml:"priority" json:"priority"`
	Enabled     bool        `yaml:"enabled" json:"enabled"`
}

// Matches reports whether the rule is enabled and all its conditions hold.
func (r Rule) Matches(ctx map[string]interface{}) bool {
	if !r.Enabled {
		return false
	}
	for _, c := range r.Conditions {
		if !c.Evaluate(ctx) {
			return false
		}
	}
	return true
}

// Policy is a named group of rules.
type Policy struct {
	PolicyID    string   `yaml:"policy_id" json:"policy_id"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Rules       []Rule   `yaml:"rules" json:"rules"`
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	Tags        []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

func compareFloat(a, b interface{}, cmp func(float64, float64) bool) bool {
	aFloat, aOk := toFloat64(a)
	bFloat, bOk := toFloat64(b)
	if !aOk || !bOk {
		return false
	}
	return cmp(aFloat, bFloat)
}

func compareEqual(a, b interface{}) bool {
	if aBool, ok := a.(bool); ok {
		if bBool, ok := b.(bool); ok {
			return aBool == bBool
		}
	}
	aFloat, aOk := toFloat64(a)
	bFloat, bOk := toFloat64(b)
	if aOk && bOk {
		return aFloat == bFloat
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func isList(v interface{}) bool {
	switch v.(type) {
	case []interface{}, []string, []float64, []int:
		return true
	default:
		return false
	}
}

func containsValue(list, target interface{}) bool {
	switch l := list.(type) {
	case []interface{}:
		for _, item := range l {
			if compareEqual(target, item) {
				return true
			}
		}
	case []string:
		for _, item := range l {
			if compareEqual(target, item) {
				return true
			}
		}
	case []float64:
		for _, item := range l {
			if compareEqual(target, item) {
				return true
			}
		}
	case []int:
		for _, item := range l {
			if compareEqual(target, item) {
				return true
			}
		}
	}
	return false
}
