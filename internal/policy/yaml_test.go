package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePolicies = `
policies:
  - policy_id: high-risk-lockdown
    name: High Risk Lockdown
    description: Deny everything when risk spikes
    enabled: true
    tags: [security, risk]
    rules:
      - rule_id: deny-critical-risk
        description: Block critical risk contexts
        effect: deny
        priority: 10
        enabled: true
        conditions:
          - field: risk_score
            operator: gt
            value: 0.9
  - policy_id: office-hours
    name: Office Hours
    enabled: true
    rules:
      - rule_id: allow-business-hours
        effect: allow
        priority: 100
        enabled: true
        conditions:
          - field: hour
            operator: gte
            value: 9
          - field: hour
            operator: lt
            value: 18
`

func TestLoadYAML(t *testing.T) {
	e := NewEngine()
	policies, err := e.LoadYAML([]byte(samplePolicies))
	require.NoError(t, err)
	require.Len(t, policies, 2)

	p, ok := e.GetPolicy("high-risk-lockdown")
	require.True(t, ok)
	assert.Equal(t, "High Risk Lockdown", p.Name)
	assert.Equal(t, []string{"security", "risk"}, p.Tags)
	require.Len(t, p.Rules, 1)
	assert.Equal(t, EffectDeny, p.Rules[0].Effect)
	assert.Equal(t, 10, p.Rules[0].Priority)

	result := e.Evaluate(map[string]interface{}{"risk_score": 0.95, "hour": 10})
	assert.Equal(t, "deny", result["decision"])
	assert.Equal(t, "deny-critical-risk", result["rule_id"])
}

func TestLoadYAMLSinglePolicy(t *testing.T) {
	e := NewEngine()
	doc := `
policy_id: solo
name: Solo Policy
enabled: true
rules:
  - rule_id: r1
    effect: allow
    priority: 1
    enabled: true
`
	policies, err := e.LoadYAML([]byte(doc))
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, "solo", policies[0].PolicyID)
}

func TestLoadYAMLDefaultsEnabled(t *testing.T) {
	e := NewEngine()
	doc := `
policies:
  - policy_id: implicit
    name: Implicitly Enabled
    rules:
      - rule_id: r1
        effect: allow
        priority: 1
        conditions:
          - field: department
            operator: eq
            value: engineering
  - policy_id: explicit-off
    name: Explicitly Disabled
    enabled: false
    rules:
      - rule_id: r2
        effect: deny
        priority: 1
`
	_, err := e.LoadYAML([]byte(doc))
	require.NoError(t, err)

	p, ok := e.GetPolicy("implicit")
	require.True(t, ok)
	assert.True(t, p.Enabled)
	require.Len(t, p.Rules, 1)
	assert.True(t, p.Rules[0].Enabled)

	off, ok := e.GetPolicy("explicit-off")
	require.True(t, ok)
	assert.False(t, off.Enabled)

	result := e.Evaluate(map[string]interface{}{"department": "engineering"})
	assert.Equal(t, "allow", result["decision"])
	assert.Equal(t, "r1", result["rule_id"])
}

func TestLoadYAMLErrors(t *testing.T) {
	e := NewEngine()

	_, err := e.LoadYAML([]byte("{not yaml: ["))
	assert.Error(t, err)

	_, err = e.LoadYAML([]byte("name: no id here"))
	assert.Error(t, err)
}

func TestYAMLRoundTrip(t *testing.T) {
	src := NewEngine()
	_, err := src.LoadYAML([]byte(samplePolicies))
	require.NoError(t, err)

	exported, err := src.ExportYAML()
	require.NoError(t, err)

	dst := NewEngine()
	_, err = dst.LoadYAML(exported)
	require.NoError(t, err)

	for _, want := range src.ListPolicies() {
		got, ok := dst.GetPolicy(want.PolicyID)
		require.True(t, ok, "missing policy %s after round trip", want.PolicyID)
		assert.Equal(t, want.Name, got.Name)
		assert.Len(t, got.Rules, len(want.Rules))
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePolicies), 0o644))

	e := NewEngine()
	policies, err := e.LoadYAMLFile(path)
	require.NoError(t, err)
	assert.Len(t, policies, 2)

	_, err = e.LoadYAMLFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
