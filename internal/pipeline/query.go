package pipeline

import (
	"context"
	"time"

	"private-db-agent/internal/audit"
	"private-db-agent/internal/auth"
	"private-db-agent/internal/dbadapter"
	"private-db-agent/internal/receipt"
)

// QueryInput is the validated, signed body of a POST /v1/query request.
type QueryInput struct {
	RequestID     string
	TenantID      string
	Requester     string
	Capability    string
	QueryTemplate string
	QueryParams   map[string]interface{}
	Nonce         string
	SignedAt      string
	Signature     string
}

// QueryOutcome is the full result the HTTP handler renders for /v1/query.
type QueryOutcome struct {
	StatusCode       int
	Decision         DecisionEnvelope
	Receipt          *receipt.Receipt
	Audit            audit.Result
	Result           dbadapter.Result
	AllowedTemplates []string
	AllowedParams    []string
}

// validateQuery checks the request shape before any signature/policy work,
// per spec.md §4.K step 1.
func validateQuery(in QueryInput) *DecisionEnvelope {
	switch {
	case in.RequestID == "":
		d := deny(StageValidation, "MISSING_FIELD", "requestId is required")
		return &d
	case in.TenantID == "":
		d := deny(StageValidation, "MISSING_FIELD", "tenantId is required")
		return &d
	case in.Requester == "":
		d := deny(StageValidation, "MISSING_FIELD", "requester is required")
		return &d
	case in.Capability == "":
		d := deny(StageValidation, "MISSING_FIELD", "capability is required")
		return &d
	case in.QueryTemplate == "":
		d := deny(StageValidation, "MISSING_FIELD", "queryTemplate is required")
		return &d
	}
	return nil
}

// RunQuery implements spec.md §4.K's 7-step ladder for a signed wallet
// query: validate, authenticate, evaluate capability, execute, build a
// receipt, append an audit row, and respond.
func (p *Pipeline) RunQuery(ctx context.Context, in QueryInput) QueryOutcome {
	start := time.Now()
	outcome := p.runQuery(ctx, in)
	p.recordDecision(outcome.Decision)
	p.recordAudit(outcome.Audit)
	if p.metrics != nil {
		p.metrics.ObserveRequestDuration("/v1/query", time.Since(start).Seconds())
	}
	return outcome
}

func (p *Pipeline) runQuery(ctx context.Context, in QueryInput) QueryOutcome {
	requester := in.Requester

	// finish builds the receipt and appends the audit row for whatever
	// decision was reached, per spec.md §4.K step 5-6: the subsequent
	// receipt and audit always run, even on a denial.
	finish := func(status int, decision DecisionEnvelope, out QueryOutcome) QueryOutcome {
		rcpt, err := p.buildReceipt(in, decision)
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
			Capability:    in.Capability,
			QueryTemplate: in.QueryTemplate,
			Decision:      decision.Code,
		})
		return out
	}

	if failure := validateQuery(in); failure != nil {
		return finish(400, *failure, QueryOutcome{})
	}

	authResult := p.authenticator.VerifyUserAuth(auth.UserAuthEnvelope{
		RequestID:     in.RequestID,
		TenantID:      in.TenantID,
		Requester:     in.Requester,
		Capability:    in.Capability,
		QueryTemplate: in.QueryTemplate,
		QueryParams:   in.QueryParams,
		Nonce:         in.Nonce,
		SignedAt:      in.SignedAt,
	}, in.Signature)
	if !authResult.OK {
		return finish(401, deny(StageAuth, authResult.Code, authResult.Message), QueryOutcome{})
	}
	requester = authResult.Requester

	capDecision := p.capabilities.Evaluate(in.Capability, authResult.Requester, in.QueryTemplate)
	if !capDecision.Allowed {
		return finish(403, deny(StagePolicy, capDecision.Code, "capability evaluation denied the request"),
			QueryOutcome{AllowedTemplates: capDecision.AllowedTemplates})
	}

	result, execFailure := p.executor.Run(ctx, in.Capability, in.QueryTemplate, in.QueryParams)
	if execFailure != nil {
		return finish(statusForExecutionCode(execFailure.Code), deny(StageExecution, execFailure.Code, execFailure.Message),
			QueryOutcome{AllowedParams: execFailure.AllowedParams})
	}

	return finish(200, allow(StageExecution, "ALLOWED"), QueryOutcome{Result: result})
}

func (p *Pipeline) buildReceipt(in QueryInput, decision DecisionEnvelope) (*receipt.Receipt, error) {
	verification, err := p.verificationFacet()
	if err != nil {
		return nil, err
	}
	return p.receipts.Build(
		receipt.RequestFacet{
			RequestID:     in.RequestID,
			TenantID:      in.TenantID,
			Requester:     in.Requester,
			Capability:    in.Capability,
			QueryTemplate: in.QueryTemplate,
			QueryParams:   in.QueryParams,
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
