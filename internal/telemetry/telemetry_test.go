package telemetry

import "testing"

func TestMetricsSnapshotTracksDecisions(t *testing.T) {
	m := New()
	m.RecordDecision("policy", "ALLOWED", "allow")
	m.RecordDecision("policy", "POLICY_DENIED_EXPLICIT_DENY", "deny")
	m.RecordAuditFailure()
	m.ObserveRequestDuration("/v1/query", 0.05)
	m.ObserveRequestDuration("/v1/query", 0.15)

	snap := m.Snapshot()
	if snap.DecisionsByOutcome["allow"] == 0 {
		t.Fatal("expected at least one allow decision recorded")
	}
	if snap.DecisionsByOutcome["deny"] == 0 {
		t.Fatal("expected at least one deny decision recorded")
	}
	if snap.DecisionsByCode["POLICY_DENIED_EXPLICIT_DENY"] == 0 {
		t.Fatal("expected code-keyed counter to be recorded")
	}
	if snap.AuditFailures == 0 {
		t.Fatal("expected audit failure to be recorded")
	}
	if avg, ok := snap.AvgDurationSeconds["/v1/query"]; !ok || avg <= 0 {
		t.Fatalf("expected positive average duration, got %v", snap.AvgDurationSeconds)
	}
}

func TestMetricsNewIsSingleton(t *testing.T) {
	a := New()
	b := New()
	if a != b {
		t.Fatal("expected New() to return the same registry across calls")
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.RecordDecision("policy", "ALLOWED", "allow")
	m.RecordAuditFailure()
	m.ObserveRequestDuration("/v1/query", 0.1)
}
