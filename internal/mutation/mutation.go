// Package mutation dispatches the six wallet-authored control-plane
// actions carried in a signed policy-mutation envelope, as a closed Go sum
// type rather than the teacher's runtime-registered handler objects.
package mutation

import (
	"context"
	"fmt"

	"private-db-agent/internal/dbadapter"
	"private-db-agent/internal/executor"
	"private-db-agent/internal/policy"
)

// Action names the six control-plane operations a policy-mutation envelope
// may carry, per spec.md §4.F.
type Action string

const (
	ActionSchemaSubmit   Action = "schema:submit"
	ActionSchemaApply    Action = "schema:apply"
	ActionGrantCreate    Action = "grant:create"
	ActionGrantRevoke    Action = "grant:revoke"
	ActionAIDraftApprove Action = "ai:draft:approve"
	ActionDataExecute    Action = "data:execute"
)

// Outcome codes specific to the mutation dispatch layer.
const (
	CodeUnknownAction        = "UNKNOWN_ACTION"
	CodeSubmissionForwarded  = "SUBMISSION_FORWARDED"
	CodeSchemaApplied        = "SCHEMA_APPLIED"
	CodeAIApprovalRequired   = "AI_APPROVAL_REQUIRED"
	CodeGrantCreated         = "POLICY_GRANT_CREATED"
	CodeGrantRevoked         = "POLICY_GRANT_REVOKED"
	CodeApprovalCreated      = "AI_DRAFT_APPROVED"
	CodeBootstrapRequired    = "BOOTSTRAP_GRANT_REQUIRED"
	CodeGrantAlreadyExists   = "POLICY_GRANT_ALREADY_EXISTS"
	CodeInvalidPayload       = "INVALID_PAYLOAD"
)

// Failure is a denied or invalid mutation outcome.
type Failure struct {
	Code    string
	Message string
}

func (f *Failure) Error() string { return fmt.Sprintf("mutation: %s: %s", f.Code, f.Message) }

func fail(code, message string) *Failure {
	return &Failure{Code: code, Message: message}
}

// Request is one policy-mutation envelope's action + payload, after
// signature verification has already confirmed actorWallet signed it.
type Request struct {
	RequestID   string
	TenantID    string
	ActorWallet string
	Action      Action
	Payload     map[string]interface{}
}

// Response is the action-specific success payload returned alongside the
// pipeline's decision/receipt/audit envelope.
type Response struct {
	Code string
	Body map[string]interface{}
}

// Service wires the grant store, schema registry, AI draft/approval
// bookkeeping, and the dynamic data:execute builder behind the single
// Dispatch entrypoint the request pipeline calls.
type Service struct {
	grants    *policy.GrantStore
	adapter   dbadapter.Adapter
	dynamic   *executor.DynamicBuilder
	drafts    *DraftStore
	approvals *ApprovalStore
}

// NewService builds a mutation Service.
func NewService(grants *policy.GrantStore, adapter dbadapter.Adapter) *Service {
	return &Service{
		grants:    grants,
		adapter:   adapter,
		dynamic:   executor.NewDynamicBuilder(adapter),
		drafts:    NewDraftStore(),
		approvals: NewApprovalStore(),
	}
}

// Drafts exposes the AI draft store so the AI-draft HTTP handlers can
// register drafts ahead of an ai:draft:approve action.
func (s *Service) Drafts() *DraftStore { return s.drafts }

// Dispatch routes req to its action handler.
func (s *Service) Dispatch(ctx context.Context, req Request) (Response, *Failure) {
	switch req.Action {
	case ActionSchemaSubmit:
		return s.schemaSubmit(req)
	case ActionSchemaApply:
		return s.schemaApply(ctx, req)
	case ActionGrantCreate:
		return s.grantCreate(req)
	case ActionGrantRevoke:
		return s.grantRevoke(req)
	case ActionAIDraftApprove:
		return s.aiDraftApprove(req)
	case ActionDataExecute:
		return s.dataExecute(ctx, req)
	default:
		return Response{}, fail(CodeUnknownAction, fmt.Sprintf("unknown action %q", req.Action))
	}
}
