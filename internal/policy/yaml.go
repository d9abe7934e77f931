package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

type policyFile struct {
	Policies []Policy `yaml:"policies"`
}

// In the file format, `enabled` is optional and disabling is always explicit:
// an omitted flag means enabled. The structs zero-value to false, so both
// types decode through a shadow with a pointer-typed flag.

func (r *Rule) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw struct {
		RuleID      string      `yaml:"rule_id"`
		Description string      `yaml:"description"`
		Effect      string      `yaml:"effect"`
		Conditions  []Condition `yaml:"conditions"`
		Priority    int         `yaml:"priority"`
		Enabled     *bool       `yaml:"enabled"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	*r = Rule{
		RuleID:      raw.RuleID,
		Description: raw.Description,
		Effect:      raw.Effect,
		Conditions:  raw.Conditions,
		Priority:    raw.Priority,
		Enabled:     raw.Enabled == nil || *raw.Enabled,
	}
	return nil
}

func (p *Policy) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw struct {
		PolicyID    string   `yaml:"policy_id"`
		Name        string   `yaml:"name"`
		Description string   `yaml:"description"`
		Rules       []Rule   `yaml:"rules"`
		Enabled     *bool    `yaml:"enabled"`
		Tags        []string `yaml:"tags"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	*p = Policy{
		PolicyID:    raw.PolicyID,
		Name:        raw.Name,
		Description: raw.Description,
		Rules:       raw.Rules,
		Enabled:     raw.Enabled == nil || *raw.Enabled,
		Tags:        raw.Tags,
	}
	return nil
}

// LoadYAML parses a policy document and installs every policy it contains.
// Accepts either a top-level `policies:` list or a single bare policy.
func (e *Engine) LoadYAML(data []byte) ([]Policy, error) {
	var doc policyFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing policy yaml: %w", err)
	}

	if len(doc.Policies) == 0 {
		var single Policy
		if err := yaml.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("parsing policy yaml: %w", err)
		}
		if single.PolicyID == "" {
			return nil, fmt.Errorf("policy yaml contains no policies")
		}
		doc.Policies = []Policy{single}
	}

	for i := range doc.Policies {
		if doc.Policies[i].PolicyID == "" {
			return nil, fmt.Errorf("policy %d missing policy_id", i)
		}
		e.AddPolicy(doc.Policies[i])
	}
	return doc.Policies, nil
}

// LoadYAMLFile reads and installs policies from a file on disk.
func (e *Engine) LoadYAMLFile(path string) ([]Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	return e.LoadYAML(data)
}

// ExportYAML renders every stored policy back into the document format
// LoadYAML accepts.
func (e *Engine) ExportYAML() ([]byte, error) {
	doc := policyFile{Policies: e.ListPolicies()}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling policies: %w", err)
	}
	return out, nil
}
