// Package policy implements the two authorization layers the pipeline
// evaluates before any query executes: capability rules (a static
// requester/template allowlist keyed by capability name) and the dynamic
// per-tenant grant store (wallet-scoped allow/deny rules).
package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Outcome codes returned by capability evaluation, matching spec.md §4.G/§8.
const (
	CodeUnknownCapability   = "UNKNOWN_CAPABILITY"
	CodeRequesterNotAllowed = "REQUESTER_NOT_ALLOWED"
	CodeTemplateNotAllowed  = "TEMPLATE_NOT_ALLOWED"
	CodeAllowed             = "ALLOWED"
)

// CapabilityRule is the resolved form of one entry in
// POLICY_CAPABILITY_RULES_JSON: the set of templates a capability may
// invoke, and an optional requester allowlist.
type CapabilityRule struct {
	Capability string   `json:"capability" yaml:"capability"`
	Templates  []string `json:"templates" yaml:"templates"`
	Requesters []string `json:"requesters,omitempty" yaml:"requesters,omitempty"`
}

// CapabilityDecision is the result of evaluating a capability/requester/
// template triple against the active rule set.
type CapabilityDecision struct {
	Code             string
	Allowed          bool
	AllowedTemplates []string
}

// CapabilityRules is the immutable, process-lifetime capability allowlist.
// It is loaded once at startup from POLICY_CAPABILITY_RULES_JSON (or the
// built-in default set when unset) and never mutated afterward.
type CapabilityRules struct {
	rules map[string]CapabilityRule
}

// DefaultCapabilityRules returns the built-in rule set used when
// POLICY_CAPABILITY_RULES_JSON is unset, mirroring spec.md §9's documented
// default (audit:write maps only to access_log_insert).
func DefaultCapabilityRules() []CapabilityRule {
	return []CapabilityRule{
		{Capability: "balances:read", Templates: []string{"wallet_balances"}},
		{Capability: "positions:read", Templates: []string{"wallet_positions"}},
		{Capability: "transactions:read", Templates: []string{"wallet_transactions"}},
		{Capability: "audit:write", Templates: []string{"access_log_insert"}},
	}
}

// NewCapabilityRules builds a CapabilityRules from a fixed slice, rejecting
// duplicate capability names.
func NewCapabilityRules(rules []CapabilityRule) (*CapabilityRules, error) {
	set := make(map[string]CapabilityRule, len(rules))
	for _, r := range rules {
		if _, exists := set[r.Capability]; exists {
			return nil, fmt.Errorf("policy: duplicate capability rule %q", r.Capability)
		}
		set[r.Capability] = r
	}
	return &CapabilityRules{rules: set}, nil
}

// LoadCapabilityRulesJSON parses POLICY_CAPABILITY_RULES_JSON's value, a
// JSON object keyed by capability name:
//
//	{"balances:read": {"templates": ["wallet_balances"], "requesters": ["0x..."]}}
func LoadCapabilityRulesJSON(raw string) (*CapabilityRules, error) {
	var decoded map[string]struct {
		Templates  []string `json:"templates"`
		Requesters []string `json:"requesters"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("policy: parse capability rules json: %w", err)
	}
	rules := make([]CapabilityRule, 0, len(decoded))
	for cap, body := range decoded {
		rules = append(rules, CapabilityRule{
			Capability: cap,
			Templates:  body.Templates,
			Requesters: body.Requesters,
		})
	}
	return NewCapabilityRules(rules)
}

// LoadCapabilityRulesYAMLFile parses a POLICY_CAPABILITY_RULES_FILE document,
// the YAML-file alternative to the inline POLICY_CAPABILITY_RULES_JSON
// variable, for deployments that keep policy under version control rather
// than in an environment variable. Shape mirrors the teacher's
// gateway/config/config.go: a top-level `rules` list of `{capability,
// templates, requesters}` objects.
func LoadCapabilityRulesYAMLFile(path string) (*CapabilityRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read capability rules file: %w", err)
	}
	var doc struct {
		Rules []CapabilityRule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("policy: parse capability rules yaml: %w", err)
	}
	return NewCapabilityRules(doc.Rules)
}

// Evaluate implements spec.md §4.G's capability evaluation ladder:
//  1. unknown capability
//  2. requester allowlist (if present)
//  3. template allowlist
//  4. allowed
func (c *CapabilityRules) Evaluate(capability, requester, queryTemplate string) CapabilityDecision {
	rule, ok := c.rules[capability]
	if !ok {
		return CapabilityDecision{Code: CodeUnknownCapability}
	}

	if len(rule.Requesters) > 0 {
		lowered := strings.ToLower(requester)
		allowed := false
		for _, r := range rule.Requesters {
			if strings.ToLower(r) == lowered {
				allowed = true
				break
			}
		}
		if !allowed {
			return CapabilityDecision{Code: CodeRequesterNotAllowed}
		}
	}

	for _, t := range rule.Templates {
		if t == queryTemplate {
			return CapabilityDecision{Code: CodeAllowed, Allowed: true, AllowedTemplates: rule.Templates}
		}
	}
	return CapabilityDecision{Code: CodeTemplateNotAllowed, AllowedTemplates: rule.Templates}
}

// Lookup returns the rule registered for capability, if any. The
// `:read`/`:write` mode-suffix check lives in internal/executor and does not
// go through this method.
func (c *CapabilityRules) Lookup(capability string) (CapabilityRule, bool) {
	r, ok := c.rules[capability]
	return r, ok
}
