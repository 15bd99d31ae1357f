package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"private-db-agent/internal/a2a"
	"private-db-agent/internal/attestation"
	"private-db-agent/internal/audit"
	"private-db-agent/internal/auth"
	"private-db-agent/internal/dbadapter"
	"private-db-agent/internal/executor"
	"private-db-agent/internal/mutation"
	"private-db-agent/internal/pipeline"
	"private-db-agent/internal/policy"
	"private-db-agent/internal/receipt"
	"private-db-agent/internal/templates"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	adapter, err := dbadapter.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { adapter.Close() })

	registry, err := templates.NewRegistry(templates.DefaultTemplates())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	capRules, err := policy.NewCapabilityRules(policy.DefaultCapabilityRules())
	if err != nil {
		t.Fatalf("new capability rules: %v", err)
	}
	grants := policy.NewGrantStore()

	authenticator := auth.NewAuthenticator(auth.Options{AllowUnsigned: true})
	tasks := a2a.NewTaskStore()
	idempotency := a2a.NewIdempotencyStore()
	workers := a2a.NewWorkerPool(tasks, func(ctx context.Context, task a2a.Task) (map[string]interface{}, error) {
		return map[string]interface{}{"echo": task.Input}, nil
	})
	workers.Start()
	t.Cleanup(workers.Stop)

	p := pipeline.New(pipeline.Config{
		ServiceName:    "private-db-agent-test",
		Authenticator:  authenticator,
		Capabilities:   capRules,
		Executor:       executor.New(registry, adapter),
		Mutations:      mutation.NewService(grants, adapter),
		Receipts:       receipt.NewService(true),
		Audits:         audit.NewSink(adapter, nil),
		AttestationCfg: attestation.Config{Enabled: false, TrustModel: "none"},
		Dialect:        adapter.Dialect(),
		Agents:         map[string]*auth.AgentSigner{},
		Tasks:          tasks,
		Idempotency:    idempotency,
		Workers:        workers,
	})

	return New(Config{
		Pipeline:       p,
		ServiceName:    "private-db-agent-test",
		ServiceVersion: "test",
		AttestationCfg: attestation.Config{Enabled: false, TrustModel: "none"},
	})
}

func decodeJSON(t *testing.T, body *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, body.String())
	}
	return out
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeJSON(t, rec.Body)
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %+v", body)
	}
}

func TestRuntimeAttestationEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runtime/attestation", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeJSON(t, rec.Body)
	if body["verificationStatus"] != "DISABLED" {
		t.Fatalf("expected DISABLED verification status, got %+v", body)
	}
}

func TestQueryEndpointValidationFailure(t *testing.T) {
	s := newTestServer(t)
	reqBody, _ := json.Marshal(map[string]interface{}{"tenantId": "acme"})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(reqBody)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestQueryEndpointAllowed(t *testing.T) {
	s := newTestServer(t)
	reqBody, _ := json.Marshal(map[string]interface{}{
		"requestId": "req-1", "tenantId": "acme", "requester": "0xabc",
		"capability": "balances:read", "queryTemplate": "wallet_balances",
		"queryParams": map[string]interface{}{"wallet_address": "0x8ba1f109551bd432803012645ac136ddd64dba72", "chain_id": 1},
		"nonce":       "nonce-1", "signedAt": "2026-07-29T00:00:00Z",
	})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(reqBody)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestGrantCreateEndpointBootstrap(t *testing.T) {
	s := newTestServer(t)
	reqBody, _ := json.Marshal(map[string]interface{}{
		"requestId": "req-2", "tenantId": "acme", "actorWallet": "0xabc", "action": "grant:create",
		"payload": map[string]interface{}{
			"walletAddress": "0xabc", "scopeType": "database", "scopeId": "*",
			"operation": "all", "effect": "allow",
		},
		"nonce": "nonce-2", "signedAt": "2026-07-29T00:00:00Z",
	})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/policy/grants", bytes.NewReader(reqBody)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestGrantCreateEndpointRejectsActionMismatch(t *testing.T) {
	s := newTestServer(t)
	reqBody, _ := json.Marshal(map[string]interface{}{
		"requestId": "req-3", "tenantId": "acme", "actorWallet": "0xabc", "action": "data:execute",
		"payload": map[string]interface{}{}, "nonce": "nonce-3", "signedAt": "2026-07-29T00:00:00Z",
	})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/policy/grants", bytes.NewReader(reqBody)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 ACTION_MISMATCH, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestAIDraftRegistrationThenApprove(t *testing.T) {
	s := newTestServer(t)

	draftBody, _ := json.Marshal(map[string]interface{}{
		"draftId": "d1", "draftHash": "h1", "tenantId": "acme", "signerAddress": "0xabc",
	})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/ai/schema-draft", bytes.NewReader(draftBody)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (%s)", rec.Code, rec.Body.String())
	}

	approveBody, _ := json.Marshal(map[string]interface{}{
		"requestId": "req-4", "tenantId": "acme", "actorWallet": "0xabc", "action": "ai:draft:approve",
		"payload": map[string]interface{}{"draftId": "d1", "draftHash": "h1"},
		"nonce":   "nonce-4", "signedAt": "2026-07-29T00:00:00Z",
	})
	rec2 := httptest.NewRecorder()
	s.ServeHTTP(rec2, httptest.NewRequest(http.MethodPost, "/v1/ai/approve-draft", bytes.NewReader(approveBody)))
	if rec2.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec2.Code, rec2.Body.String())
	}
}

func TestTaskSubmissionRejectsUnregisteredAgent(t *testing.T) {
	s := newTestServer(t)
	taskBody, _ := json.Marshal(map[string]interface{}{
		"agentId": "agent-unconfigured", "taskType": "data-sync",
		"nonce": "nonce-5", "timestamp": "2026-07-29T00:00:00Z",
	})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/a2a/tasks", bytes.NewReader(taskBody)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an unregistered agent, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
