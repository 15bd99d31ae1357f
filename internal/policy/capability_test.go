package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCapabilityEvaluateUnknown(t *testing.T) {
	rules, err := NewCapabilityRules(DefaultCapabilityRules())
	if err != nil {
		t.Fatalf("new rules: %v", err)
	}
	d := rules.Evaluate("nonexistent:cap", "0xabc", "wallet_balances")
	if d.Code != CodeUnknownCapability {
		t.Fatalf("expected %s, got %s", CodeUnknownCapability, d.Code)
	}
}

func TestCapabilityEvaluateRequesterNotAllowed(t *testing.T) {
	rules, err := NewCapabilityRules([]CapabilityRule{
		{Capability: "balances:read", Templates: []string{"wallet_balances"}, Requesters: []string{"0xAAA"}},
	})
	if err != nil {
		t.Fatalf("new rules: %v", err)
	}
	d := rules.Evaluate("balances:read", "0xbbb", "wallet_balances")
	if d.Code != CodeRequesterNotAllowed {
		t.Fatalf("expected %s, got %s", CodeRequesterNotAllowed, d.Code)
	}
	d = rules.Evaluate("balances:read", "0xAAA", "wallet_balances")
	if d.Code != CodeAllowed {
		t.Fatalf("expected allowed for case-insensitive match, got %s", d.Code)
	}
}

func TestCapabilityEvaluateTemplateNotAllowed(t *testing.T) {
	rules, err := NewCapabilityRules(DefaultCapabilityRules())
	if err != nil {
		t.Fatalf("new rules: %v", err)
	}
	d := rules.Evaluate("balances:read", "0xabc", "access_log_insert")
	if d.Code != CodeTemplateNotAllowed {
		t.Fatalf("expected %s, got %s", CodeTemplateNotAllowed, d.Code)
	}
	if len(d.AllowedTemplates) != 1 || d.AllowedTemplates[0] != "wallet_balances" {
		t.Fatalf("expected allowed templates to echo rule set, got %v", d.AllowedTemplates)
	}
}

func TestCapabilityEvaluateAllowed(t *testing.T) {
	rules, err := NewCapabilityRules(DefaultCapabilityRules())
	if err != nil {
		t.Fatalf("new rules: %v", err)
	}
	d := rules.Evaluate("balances:read", "0xabc", "wallet_balances")
	if d.Code != CodeAllowed || !d.Allowed {
		t.Fatalf("expected allowed, got %+v", d)
	}
}

func TestLoadCapabilityRulesJSON(t *testing.T) {
	raw := `{"balances:read": {"templates": ["wallet_balances"], "requesters": ["0xAAA"]}}`
	rules, err := LoadCapabilityRulesJSON(raw)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	rule, ok := rules.Lookup("balances:read")
	if !ok {
		t.Fatal("expected rule to be present")
	}
	if len(rule.Requesters) != 1 {
		t.Fatalf("expected 1 requester, got %v", rule.Requesters)
	}
}

func TestLoadCapabilityRulesYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	doc := "rules:\n" +
		"  - capability: balances:read\n" +
		"    templates: [wallet_balances]\n" +
		"    requesters: [0xAAA]\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write rules file: %v", err)
	}

	rules, err := LoadCapabilityRulesYAMLFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	d := rules.Evaluate("balances:read", "0xAAA", "wallet_balances")
	if d.Code != CodeAllowed {
		t.Fatalf("expected allowed, got %s", d.Code)
	}
}

func TestLoadCapabilityRulesYAMLFileMissingPath(t *testing.T) {
	if _, err := LoadCapabilityRulesYAMLFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestNewCapabilityRulesRejectsDuplicates(t *testing.T) {
	dup := []CapabilityRule{
		{Capability: "x", Templates: []string{"a"}},
		{Capability: "x", Templates: []string{"b"}},
	}
	if _, err := NewCapabilityRules(dup); err == nil {
		t.Fatal("expected duplicate error")
	}
}
