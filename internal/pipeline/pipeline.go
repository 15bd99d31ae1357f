// Package pipeline sequences validate -> authenticate -> policy -> execute
// -> receipt -> audit for every request surface, mapping the outcome onto
// the HTTP status spec.md §6 documents. It owns no transport concerns; the
// HTTP layer only translates an Outcome into a response body.
package pipeline

import (
	"private-db-agent/internal/a2a"
	"private-db-agent/internal/attestation"
	"private-db-agent/internal/audit"
	"private-db-agent/internal/auth"
	"private-db-agent/internal/executor"
	"private-db-agent/internal/mutation"
	"private-db-agent/internal/policy"
	"private-db-agent/internal/receipt"
	"private-db-agent/internal/telemetry"
)

// Stage names a pipeline phase, used both for the decision envelope and
// for mapping a failure onto an HTTP status code.
const (
	StageValidation = "validation"
	StageAuth       = "auth"
	StagePolicy     = "policy"
	StageExecution  = "execution"
	StageService    = "service"
)

// Outcome values for the decision envelope.
const (
	OutcomeAllow = "allow"
	OutcomeDeny  = "deny"
)

// DecisionEnvelope is the `decision` block every response envelope embeds.
type DecisionEnvelope struct {
	Outcome string `json:"outcome"`
	Stage   string `json:"stage"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func allow(stage, code string) DecisionEnvelope {
	return DecisionEnvelope{Outcome: OutcomeAllow, Stage: stage, Code: code}
}

func deny(stage, code, message string) DecisionEnvelope {
	return DecisionEnvelope{Outcome: OutcomeDeny, Stage: stage, Code: code, Message: message}
}

// Pipeline wires every stage's collaborator behind the entrypoints the
// HTTP layer calls: RunQuery, RunMutation, SubmitTask, GetTask, ListTasks
// and RegisterDraft.
type Pipeline struct {
	serviceName    string
	authenticator  *auth.Authenticator
	capabilities   *policy.CapabilityRules
	executor       *executor.Executor
	mutations      *mutation.Service
	receipts       *receipt.Service
	audits         *audit.Sink
	metrics        *telemetry.Metrics
	attestationCfg attestation.Config
	dialect        string

	agents      map[string]*auth.AgentSigner
	tasks       *a2a.TaskStore
	idempotency *a2a.IdempotencyStore
	workers     *a2a.WorkerPool
}

// Config collects the Pipeline's collaborators.
type Config struct {
	ServiceName    string
	Authenticator  *auth.Authenticator
	Capabilities   *policy.CapabilityRules
	Executor       *executor.Executor
	Mutations      *mutation.Service
	Receipts       *receipt.Service
	Audits         *audit.Sink
	Metrics        *telemetry.Metrics
	AttestationCfg attestation.Config
	Dialect        string

	Agents      map[string]*auth.AgentSigner
	Tasks       *a2a.TaskStore
	Idempotency *a2a.IdempotencyStore
	Workers     *a2a.WorkerPool
}

// New builds a Pipeline from cfg.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		serviceName:    cfg.ServiceName,
		authenticator:  cfg.Authenticator,
		capabilities:   cfg.Capabilities,
		executor:       cfg.Executor,
		mutations:      cfg.Mutations,
		receipts:       cfg.Receipts,
		audits:         cfg.Audits,
		metrics:        cfg.Metrics,
		attestationCfg: cfg.AttestationCfg,
		dialect:        cfg.Dialect,
		agents:         cfg.Agents,
		tasks:          cfg.Tasks,
		idempotency:    cfg.Idempotency,
		workers:        cfg.Workers,
	}
}

// statusForExecutionCode maps an execution-stage failure code onto the
// 400/403/500 split spec.md §6 documents: CAPABILITY_MODE_MISMATCH is
// policy-bucketed even though the executor raises it (per spec.md §9's
// "make this contract explicit" note), DB_EXECUTION_FAILED is a 500, and
// every other execution failure is a client-side 400.
func statusForExecutionCode(code string) int {
	switch code {
	case executor.CodeCapabilityModeMismatch:
		return 403
	case executor.CodeDBExecutionFailed:
		return 500
	default:
		return 400
	}
}

// verificationFacet builds the receipt's verification facet from the
// pipeline's configured dialect and current runtime attestation snapshot.
func (p *Pipeline) verificationFacet() (receipt.VerificationFacet, error) {
	claims, err := attestation.Snapshot(p.attestationCfg)
	if err != nil {
		return receipt.VerificationFacet{}, err
	}
	return receipt.VerificationFacet{
		Service: p.serviceName,
		Runtime: receipt.RuntimeClaims{
			TrustModel:              claims.TrustModel,
			AppID:                   claims.AppID,
			ImageDigest:             claims.ImageDigest,
			AttestationReportHash:   claims.AttestationReportHash,
			OnchainDeploymentTxHash: claims.OnchainDeploymentTxHash,
			ClaimsHash:              claims.ClaimsHash,
			VerificationStatus:      claims.VerificationStatus,
			Verified:                claims.Verified,
		},
		DatabaseDialect: p.dialect,
	}, nil
}

func (p *Pipeline) recordDecision(d DecisionEnvelope) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordDecision(d.Stage, d.Code, d.Outcome)
}

func (p *Pipeline) recordAudit(result audit.Result) {
	if result.Code == "AUDIT_WRITE_FAILED" && p.metrics != nil {
		p.metrics.RecordAuditFailure()
	}
}
