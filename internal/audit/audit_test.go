package audit

import (
	"context"
	"testing"

	"private-db-agent/internal/dbadapter"
)

func TestSinkAppendSuccess(t *testing.T) {
	adapter, err := dbadapter.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer adapter.Close()

	sink := NewSink(adapter, nil)
	result := sink.Append(context.Background(), Row{
		RequestID: "req_1", TenantID: "acme", Requester: "0xabc",
		Capability: "balances:read", QueryTemplate: "wallet_balances", Decision: `{"outcome":"allow"}`,
	})
	if !result.Logged || result.Code != "OK" {
		t.Fatalf("expected successful append, got %+v", result)
	}
}

func TestSinkAppendFailureDoesNotPanic(t *testing.T) {
	adapter, err := dbadapter.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := adapter.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sink := NewSink(adapter, nil)
	result := sink.Append(context.Background(), Row{RequestID: "req_1", TenantID: "acme"})
	if result.Logged || result.Code != "AUDIT_WRITE_FAILED" {
		t.Fatalf("expected AUDIT_WRITE_FAILED after adapter close, got %+v", result)
	}
}
