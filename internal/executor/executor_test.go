package executor

import (
	"context"
	"testing"

	"private-db-agent/internal/dbadapter"
	"private-db-agent/internal/templates"
)

func newTestExecutor(t *testing.T) (*Executor, *dbadapter.SQLiteAdapter) {
	t.Helper()
	adapter, err := dbadapter.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	reg, err := templates.NewRegistry(templates.DefaultTemplates())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return New(reg, adapter), adapter
}

func TestExecutorUnknownTemplate(t *testing.T) {
	exec, adapter := newTestExecutor(t)
	defer adapter.Close()

	_, failure := exec.Run(context.Background(), "balances:read", "does_not_exist", nil)
	if failure == nil || failure.Code != CodeUnknownQueryTemplate {
		t.Fatalf("expected UNKNOWN_QUERY_TEMPLATE, got %+v", failure)
	}
}

func TestExecutorCapabilityModeMismatch(t *testing.T) {
	exec, adapter := newTestExecutor(t)
	defer adapter.Close()

	_, failure := exec.Run(context.Background(), "balances:read", "access_log_insert", map[string]interface{}{
		"requester": "0xabc", "capability": "balances:read", "query_template": "wallet_balances", "outcome": "ALLOWED",
	})
	if failure == nil || failure.Code != CodeCapabilityModeMismatch {
		t.Fatalf("expected CAPABILITY_MODE_MISMATCH, got %+v", failure)
	}
}

func TestExecutorUnknownParam(t *testing.T) {
	exec, adapter := newTestExecutor(t)
	defer adapter.Close()

	_, failure := exec.Run(context.Background(), "balances:read", "wallet_balances", map[string]interface{}{
		"wallet_address": "0x8ba1f109551bd432803012645ac136ddd64dba72",
		"chain_id":       int64(1),
		"bogus":          "x",
	})
	if failure == nil || failure.Code != CodeUnknownParam {
		t.Fatalf("expected UNKNOWN_PARAM, got %+v", failure)
	}
}

func TestExecutorSuccessfulRead(t *testing.T) {
	exec, adapter := newTestExecutor(t)
	defer adapter.Close()

	ctx := context.Background()
	_, err := adapter.Execute(ctx, dbadapter.ModeWrite,
		`INSERT INTO wallet_balances (wallet_address, chain_id, asset, balance) VALUES (?, ?, ?, ?)`,
		[]interface{}{"0x8ba1f109551bd432803012645ac136ddd64dba72", 1, "USDC", "42"})
	if err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	result, failure := exec.Run(ctx, "balances:read", "wallet_balances", map[string]interface{}{
		"wallet_address": "0x8ba1f109551bd432803012645ac136ddd64dba72",
		"chain_id":       int64(1),
	})
	if failure != nil {
		t.Fatalf("unexpected failure: %+v", failure)
	}
	if result.RowCount != 1 {
		t.Fatalf("expected 1 row, got %d", result.RowCount)
	}
}

func TestExecutorMissingParam(t *testing.T) {
	exec, adapter := newTestExecutor(t)
	defer adapter.Close()

	_, failure := exec.Run(context.Background(), "balances:read", "wallet_balances", map[string]interface{}{
		"wallet_address": "0x8ba1f109551bd432803012645ac136ddd64dba72",
	})
	if failure == nil || failure.Code != CodeMissingParam {
		t.Fatalf("expected MISSING_PARAM, got %+v", failure)
	}
}
