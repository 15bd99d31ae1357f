package pipeline

import (
	"context"
	"time"

	"private-db-agent/internal/audit"
	"private-db-agent/internal/auth"
	"private-db-agent/internal/executor"
	"private-db-agent/internal/mutation"
	"private-db-agent/internal/receipt"
)

// MutationInput is the validated, signed body of a wallet-authored
// control-plane request (/v1/control-plane/*, /v1/policy/grants*,
// /v1/ai/approve-draft, /v1/data/execute).
type MutationInput struct {
	RequestID   string
	TenantID    string
	ActorWallet string
	Action      mutation.Action
	Payload     map[string]interface{}
	Nonce       string
	SignedAt    string
	Signature   string
}

// MutationOutcome is the full result the HTTP handler renders for a
// control-plane request.
type MutationOutcome struct {
	StatusCode int
	Decision   DecisionEnvelope
	Receipt    *receipt.Receipt
	Audit      audit.Result
	Response   mutation.Response
}

// successStatusForAction maps each control-plane action onto the status
// code its successful response carries, per spec.md §6: schema:submit is
// forwarded for out-of-band review (202), schema:apply/grant:create/
// ai:draft:approve mint a new resource (201), grant:revoke and data:execute
// report on an existing one (200).
func successStatusForAction(action mutation.Action) int {
	switch action {
	case mutation.ActionSchemaSubmit:
		return 202
	case mutation.ActionSchemaApply, mutation.ActionGrantCreate, mutation.ActionAIDraftApprove:
		return 201
	default:
		return 200
	}
}

// statusForMutationFailure maps a mutation-stage failure code onto its
// HTTP status: validation-shaped codes are 400, policy-bucketed codes
// (including the grant-store's own deny codes) are 403, conflicts with an
// existing resource are 409, missing-resource lookups are 404, and any
// executor code reaching here unchanged (via data:execute) falls back to
// the same 400/403/500 split the query pipeline uses.
func statusForMutationFailure(code string) int {
	switch code {
	case mutation.CodeInvalidPayload, mutation.CodeUnknownAction:
		return 400
	case mutation.CodeBootstrapRequired, mutation.CodeAIApprovalRequired,
		"POLICY_DENIED_EXPLICIT_DENY", "POLICY_NO_MATCHING_GRANT":
		return 403
	case mutation.CodeGrantAlreadyExists, "GRANT_SIGNATURE_HASH_MISMATCH":
		return 409
	case "POLICY_GRANT_NOT_FOUND", "AI_DRAFT_NOT_FOUND":
		return 404
	case executor.CodeDBExecutionFailed:
		return 500
	default:
		return statusForExecutionCode(code)
	}
}

// RegisterDraft records an AI-authored draft ahead of an ai:draft:approve
// action, for the POST /v1/ai/schema-draft and /v1/ai/policy-draft
// endpoints. Registration carries no policy decision of its own; the draft
// only gates a later schema:apply or ai:draft:approve.
func (p *Pipeline) RegisterDraft(d mutation.Draft) {
	p.mutations.Drafts().Put(d)
}

func validateMutation(in MutationInput) *DecisionEnvelope {
	switch {
	case in.RequestID == "":
		d := deny(StageValidation, "MISSING_FIELD", "requestId is required")
		return &d
	case in.TenantID == "":
		d := deny(StageValidation, "MISSING_FIELD", "tenantId is required")
		return &d
	case in.ActorWallet == "":
		d := deny(StageValidation, "MISSING_FIELD", "actorWallet is required")
		return &d
	case in.Action == "":
		d := deny(StageValidation, "MISSING_FIELD", "action is required")
		return &d
	}
	return nil
}

// RunMutation implements the control-plane analogue of RunQuery: validate,
// authenticate the wallet signature over the policy-mutation envelope,
// dispatch to internal/mutation, build a receipt, append an audit row, and
// respond.
func (p *Pipeline) RunMutation(ctx context.Context, in MutationInput) MutationOutcome {
	start := time.Now()
	outcome := p.runMutation(ctx, in)
	p.recordDecision(outcome.Decision)
	p.recordAudit(outcome.Audit)
	if p.metrics != nil {
		p.metrics.ObserveRequestDuration("/v1/control-plane", time.Since(start).Seconds())
	}
	return outcome
}

func (p *Pipeline) runMutation(ctx context.Context, in MutationInput) MutationOutcome {
	requester := in.ActorWallet

	// finish builds the receipt and appends the audit row for whatever
	// decision was reached; every return path runs it, not only the
	// terminal success branch.
	finish := func(status int, decision DecisionEnvelope, out MutationOutcome) MutationOutcome {
		rcpt, err := p.buildMutationReceipt(in, decision)
		if err != nil {
			rcpt = nil
			if decision.Outcome == OutcomeAllow {
				status = 500
				decision = deny(StageService, "INTERNAL_ERROR", err.Error())
			}
		}
		out.StatusCode = status
		out.Decision = decision
		out.Receipt = rcpt
		out.Audit = p.audits.Append(ctx, audit.Row{
			RequestID:     in.RequestID,
			TenantID:      in.TenantID,
			Requester:     requester,
			Capability:    string(in.Action),
			QueryTemplate: "",
			Decision:      decision.Code,
		})
		return out
	}

	if failure := validateMutation(in); failure != nil {
		return finish(400, *failure, MutationOutcome{})
	}

	authResult := p.authenticator.VerifyPolicyMutation(auth.PolicyMutationEnvelope{
		RequestID:   in.RequestID,
		TenantID:    in.TenantID,
		ActorWallet: in.ActorWallet,
		Action:      string(in.Action),
		Payload:     in.Payload,
		Nonce:       in.Nonce,
		SignedAt:    in.SignedAt,
	}, in.Signature)
	if !authResult.OK {
		return finish(401, deny(StageAuth, authResult.Code, authResult.Message), MutationOutcome{})
	}
	requester = authResult.Requester

	response, mutFailure := p.mutations.Dispatch(ctx, mutation.Request{
		RequestID:   in.RequestID,
		TenantID:    in.TenantID,
		ActorWallet: authResult.Requester,
		Action:      in.Action,
		Payload:     in.Payload,
	})
	if mutFailure != nil {
		return finish(statusForMutationFailure(mutFailure.Code), deny(StagePolicy, mutFailure.Code, mutFailure.Message), MutationOutcome{})
	}

	return finish(successStatusForAction(in.Action), allow(StageExecution, response.Code), MutationOutcome{Response: response})
}

// buildMutationReceipt reuses the query pipeline's RequestFacet shape: the
// action name stands in for Capability, and the payload stands in for
// QueryParams, since a mutation's receipt must still be reproducible from
// canonicalized request content the same way a query's is.
func (p *Pipeline) buildMutationReceipt(in MutationInput, decision DecisionEnvelope) (*receipt.Receipt, error) {
	verification, err := p.verificationFacet()
	if err != nil {
		return nil, err
	}
	return p.receipts.Build(
		receipt.RequestFacet{
			RequestID:     in.RequestID,
			TenantID:      in.TenantID,
			Requester:     in.ActorWallet,
			Capability:    string(in.Action),
			QueryTemplate: "",
			QueryParams:   in.Payload,
			AuthNonce:     in.Nonce,
			AuthSignedAt:  in.SignedAt,
		},
		receipt.DecisionFacet{
			Outcome: decision.Outcome,
			Stage:   decision.Stage,
			Code:    decision.Code,
			Message: decision.Message,
		},
		verification,
	)
}
