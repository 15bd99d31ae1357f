// Package server is the HTTP front-end for the policy-gated database
// agent: a switch-based ServeHTTP dispatch over the routes spec.md §6
// documents, grounded on the teacher's services/escrow-gateway/server.go
// (readRequestBody size limit, writeError/writeJSON helpers, one handler
// method per route). Handlers that reach the pipeline decode the body,
// build the pipeline's input struct, and render whatever status/body the
// pipeline returns; apart from body decoding, the route-vs-body action check
// in handleMutation and the required draft fields in handleAIDraft, all
// policy logic lives in internal/pipeline.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"private-db-agent/internal/a2a"
	"private-db-agent/internal/attestation"
	"private-db-agent/internal/mutation"
	"private-db-agent/internal/pipeline"
	"private-db-agent/internal/telemetry"
)

const maxRequestBody = 1 << 20 // 1 MiB, matching the teacher's escrow-gateway limit.

// Server dispatches every documented route to the pipeline.
type Server struct {
	pipeline       *pipeline.Pipeline
	serviceName    string
	serviceVersion string
	attestationCfg attestation.Config
	metrics        *telemetry.Metrics
	nowFn          func() time.Time
}

// Config collects Server's construction dependencies.
type Config struct {
	Pipeline       *pipeline.Pipeline
	ServiceName    string
	ServiceVersion string
	AttestationCfg attestation.Config
	Metrics        *telemetry.Metrics
}

// New builds a Server from cfg.
func New(cfg Config) *Server {
	if cfg.Pipeline == nil {
		panic("server: pipeline required")
	}
	return &Server{
		pipeline:       cfg.Pipeline,
		serviceName:    cfg.ServiceName,
		serviceVersion: cfg.ServiceVersion,
		attestationCfg: cfg.AttestationCfg,
		metrics:        cfg.Metrics,
		nowFn:          time.Now,
	}
}

// ServeHTTP dispatches to the route table, mirroring the teacher's flat
// method+path switch rather than a router dependency.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/health":
		s.handleHealth(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/v1/runtime/attestation":
		s.handleAttestation(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/.well-known/agent-card.json":
		s.handleAgentCard(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/query":
		s.handleQuery(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/data/execute":
		s.handleMutation(w, r, mutation.ActionDataExecute)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/control-plane/submit":
		s.handleMutation(w, r, mutation.ActionSchemaSubmit)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/control-plane/apply":
		s.handleMutation(w, r, mutation.ActionSchemaApply)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/policy/grants":
		s.handleMutation(w, r, mutation.ActionGrantCreate)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/policy/grants/revoke":
		s.handleMutation(w, r, mutation.ActionGrantRevoke)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/ai/schema-draft":
		s.handleAIDraft(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/ai/policy-draft":
		s.handleAIDraft(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/ai/approve-draft":
		s.handleMutation(w, r, mutation.ActionAIDraftApprove)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/a2a/tasks":
		s.handleSubmitTask(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/v1/a2a/tasks":
		s.handleListTasks(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/a2a/tasks/"):
		s.handleGetTask(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/v1/a2a/contracts":
		s.handleA2AContracts(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/v1/ops/metrics":
		s.handleMetrics(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) readRequestBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	limited := io.LimitReader(r.Body, maxRequestBody+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(data) > maxRequestBody {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxRequestBody)
	}
	return data, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		_ = err // the header is already written; nothing more to do here
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{"code": code, "message": message},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": s.serviceName,
		"version": s.serviceVersion,
	})
}

func (s *Server) handleAttestation(w http.ResponseWriter, r *http.Request) {
	claims, err := attestation.Snapshot(s.attestationCfg)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, claims)
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":        s.serviceName,
		"version":     s.serviceVersion,
		"protocol":    "a2a/1.0",
		"authSchemes": []string{"hmac-sha256", "evm-personal-sign"},
		"endpoints": map[string]string{
			"query":        "/v1/query",
			"tasks":        "/v1/a2a/tasks",
			"contracts":    "/v1/a2a/contracts",
			"attestation":  "/v1/runtime/attestation",
			"controlPlane": "/v1/control-plane/apply",
		},
	})
}

func (s *Server) handleA2AContracts(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"taskTypes": []string{"data-sync", "schema-migration", "policy-review"},
		"schemes":   []string{"hmac-sha256", "evm-personal-sign"},
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// queryBody is the wire shape of a POST /v1/query request.
type queryBody struct {
	RequestID     string                 `json:"requestId"`
	TenantID      string                 `json:"tenantId"`
	Requester     string                 `json:"requester"`
	Capability    string                 `json:"capability"`
	QueryTemplate string                 `json:"queryTemplate"`
	QueryParams   map[string]interface{} `json:"queryParams"`
	Nonce         string                 `json:"nonce"`
	SignedAt      string                 `json:"signedAt"`
	Signature     string                 `json:"signature"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	body, err := s.readRequestBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	var req queryBody
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}

	outcome := s.pipeline.RunQuery(r.Context(), pipeline.QueryInput{
		RequestID:     req.RequestID,
		TenantID:      req.TenantID,
		Requester:     req.Requester,
		Capability:    req.Capability,
		QueryTemplate: req.QueryTemplate,
		QueryParams:   req.QueryParams,
		Nonce:         req.Nonce,
		SignedAt:      req.SignedAt,
		Signature:     req.Signature,
	})

	s.writeJSON(w, outcome.StatusCode, map[string]interface{}{
		"decision":         outcome.Decision,
		"receipt":          outcome.Receipt,
		"audit":            outcome.Audit,
		"rows":             outcome.Result.Rows,
		"rowCount":         outcome.Result.RowCount,
		"allowedTemplates": outcome.AllowedTemplates,
		"allowedParams":    outcome.AllowedParams,
	})
}

// controlPlaneBody is the wire shape of every wallet-signed control-plane
// request. The route determines which Action is expected; a body whose
// Action disagrees is rejected before it ever reaches the pipeline.
type controlPlaneBody struct {
	RequestID   string                 `json:"requestId"`
	TenantID    string                 `json:"tenantId"`
	ActorWallet string                 `json:"actorWallet"`
	Action      string                 `json:"action"`
	Payload     map[string]interface{} `json:"payload"`
	Nonce       string                 `json:"nonce"`
	SignedAt    string                 `json:"signedAt"`
	Signature   string                 `json:"signature"`
}

func (s *Server) handleMutation(w http.ResponseWriter, r *http.Request, expected mutation.Action) {
	body, err := s.readRequestBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	var req controlPlaneBody
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	if req.Action != "" && mutation.Action(req.Action) != expected {
		s.writeError(w, http.StatusBadRequest, "ACTION_MISMATCH",
			fmt.Sprintf("route expects action %q, body declared %q", expected, req.Action))
		return
	}

	outcome := s.pipeline.RunMutation(r.Context(), pipeline.MutationInput{
		RequestID:   req.RequestID,
		TenantID:    req.TenantID,
		ActorWallet: req.ActorWallet,
		Action:      expected,
		Payload:     req.Payload,
		Nonce:       req.Nonce,
		SignedAt:    req.SignedAt,
		Signature:   req.Signature,
	})

	var responseBody map[string]interface{}
	if outcome.Response.Body != nil {
		responseBody = outcome.Response.Body
	}
	s.writeJSON(w, outcome.StatusCode, map[string]interface{}{
		"decision": outcome.Decision,
		"receipt":  outcome.Receipt,
		"audit":    outcome.Audit,
		"code":     outcome.Response.Code,
		"result":   responseBody,
	})
}

// aiDraftBody is the wire shape of POST /v1/ai/schema-draft and
// /v1/ai/policy-draft: registering an AI-authored draft ahead of the
// ai:draft:approve action a wallet later signs.
type aiDraftBody struct {
	DraftID       string                 `json:"draftId"`
	DraftHash     string                 `json:"draftHash"`
	TenantID      string                 `json:"tenantId"`
	SignerAddress string                 `json:"signerAddress"`
	Verification  map[string]interface{} `json:"verification"`
}

func (s *Server) handleAIDraft(w http.ResponseWriter, r *http.Request) {
	body, err := s.readRequestBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	var req aiDraftBody
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	if req.DraftID == "" || req.DraftHash == "" {
		s.writeError(w, http.StatusBadRequest, "MISSING_FIELD", "draftId and draftHash are required")
		return
	}

	s.pipeline.RegisterDraft(mutation.Draft{
		DraftID:       req.DraftID,
		DraftHash:     req.DraftHash,
		TenantID:      req.TenantID,
		SignerAddress: req.SignerAddress,
		Verification:  req.Verification,
	})

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"draftId":   req.DraftID,
		"draftHash": req.DraftHash,
	})
}

// taskBody is the wire shape of POST /v1/a2a/tasks.
type taskBody struct {
	AgentID        string                 `json:"agentId"`
	TaskType       string                 `json:"taskType"`
	Input          map[string]interface{} `json:"input"`
	Nonce          string                 `json:"nonce"`
	Timestamp      string                 `json:"timestamp"`
	CorrelationID  *string                `json:"correlationId"`
	IdempotencyKey *string                `json:"idempotencyKey"`
	Signature      string                 `json:"signature"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	body, err := s.readRequestBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	var req taskBody
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}

	outcome := s.pipeline.SubmitTask(r.Context(), pipeline.TaskSubmissionInput{
		AgentID:        req.AgentID,
		TaskType:       req.TaskType,
		Input:          req.Input,
		Nonce:          req.Nonce,
		Timestamp:      req.Timestamp,
		CorrelationID:  req.CorrelationID,
		IdempotencyKey: req.IdempotencyKey,
		Signature:      req.Signature,
	})

	s.writeJSON(w, outcome.StatusCode, map[string]interface{}{
		"decision": outcome.Decision,
		"receipt":  outcome.Receipt,
		"audit":    outcome.Audit,
		"task":     outcome.Task,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimPrefix(r.URL.Path, "/v1/a2a/tasks/")
	if taskID == "" {
		s.writeError(w, http.StatusBadRequest, "MISSING_FIELD", "taskId is required")
		return
	}
	task, err := s.pipeline.GetTask(taskID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "TASK_NOT_FOUND", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

const (
	defaultListTasksLimit = 25
	maxListTasksLimit     = 200
)

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := a2a.Status(r.URL.Query().Get("status"))
	limit := defaultListTasksLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxListTasksLimit {
		limit = maxListTasksLimit
	}
	tasks := s.pipeline.ListTasks(status, limit)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

// Shutdown is a hook for future connection draining; context is accepted
// for symmetry with http.Server.Shutdown even though there is nothing yet
// for this Server to drain itself.
func (s *Server) Shutdown(ctx context.Context) error {
	return nil
}
