package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"private-db-agent/internal/a2a"
	"private-db-agent/internal/audit"
	"private-db-agent/internal/auth"
	"private-db-agent/internal/receipt"
)

// TaskSubmissionInput is the validated, signed body of a POST
// /v1/a2a/tasks request.
type TaskSubmissionInput struct {
	AgentID        string
	TaskType       string
	Input          map[string]interface{}
	Nonce          string
	Timestamp      string
	CorrelationID  *string
	IdempotencyKey *string
	Signature      string
}

// TaskSubmissionOutcome is the full result the HTTP handler renders for
// POST /v1/a2a/tasks.
type TaskSubmissionOutcome struct {
	StatusCode int
	Decision   DecisionEnvelope
	Receipt    *receipt.Receipt
	Audit      audit.Result
	Task       a2a.Task
}

func validateTaskSubmission(in TaskSubmissionInput) *DecisionEnvelope {
	switch {
	case in.AgentID == "":
		d := deny(StageValidation, "MISSING_FIELD", "agentId is required")
		return &d
	case in.TaskType == "":
		d := deny(StageValidation, "MISSING_FIELD", "taskType is required")
		return &d
	}
	return nil
}

// taskTypeAllowed reports whether taskType appears in allowed. An agent with
// no configured allowlist entries allows nothing, per spec.md §4.L step 2
// ("missing mapping or unknown type" both deny).
func taskTypeAllowed(allowed []string, taskType string) bool {
	for _, t := range allowed {
		if t == taskType {
			return true
		}
	}
	return false
}

// terminalTask resolves the task snapshot an idempotency replay should
// return: the terminal envelope persisted when the original task finished,
// or (if the original task hasn't reached a terminal state yet) its current
// live snapshot.
func terminalTask(existing *a2a.IdempotencyRecord, tasks *a2a.TaskStore) (a2a.Task, error) {
	if existing.Terminal != nil {
		if task, ok := existing.Terminal["task"].(a2a.Task); ok {
			return task, nil
		}
	}
	return tasks.Get(existing.TaskID)
}

// SubmitTask implements spec.md §4.L's task intake procedure: validate,
// authenticate the peer agent's signature over the envelope, de-duplicate
// on (agentId, idempotencyKey), create the task in the accepted state,
// enqueue it on the worker pool, and respond without blocking on execution.
func (p *Pipeline) SubmitTask(ctx context.Context, in TaskSubmissionInput) TaskSubmissionOutcome {
	start := time.Now()
	outcome := p.submitTask(ctx, in)
	p.recordDecision(outcome.Decision)
	p.recordAudit(outcome.Audit)
	if p.metrics != nil {
		p.metrics.ObserveRequestDuration("/v1/a2a/tasks", time.Since(start).Seconds())
	}
	return outcome
}

func (p *Pipeline) submitTask(ctx context.Context, in TaskSubmissionInput) TaskSubmissionOutcome {
	requester := in.AgentID

	// finish builds the receipt and appends the audit row for whatever
	// decision was reached, including the idempotency-replay-hit branch —
	// every return path runs it, not only the terminal-accept branch.
	finish := func(status int, decision DecisionEnvelope, taskID string, out TaskSubmissionOutcome) TaskSubmissionOutcome {
		rcpt, err := p.buildTaskReceipt(in, taskID, decision)
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
			RequestID:     taskID,
			TenantID:      in.AgentID,
			Requester:     requester,
			Capability:    "a2a:" + in.TaskType,
			QueryTemplate: "",
			Decision:      decision.Code,
		})
		return out
	}

	if failure := validateTaskSubmission(in); failure != nil {
		return finish(400, *failure, "", TaskSubmissionOutcome{})
	}

	body := map[string]interface{}{"taskType": in.TaskType, "input": in.Input}
	payloadHash, err := auth.PayloadHash(body)
	if err != nil {
		return finish(500, deny(StageService, "INTERNAL_ERROR", err.Error()), "", TaskSubmissionOutcome{})
	}

	agent := p.agents[in.AgentID]
	authResult := p.authenticator.VerifyA2A(auth.A2AEnvelope{
		AgentID:        in.AgentID,
		Method:         "POST",
		Path:           "/v1/a2a/tasks",
		Timestamp:      in.Timestamp,
		Nonce:          in.Nonce,
		CorrelationID:  in.CorrelationID,
		IdempotencyKey: in.IdempotencyKey,
		PayloadHash:    payloadHash,
	}, in.Signature, agent)
	if !authResult.OK {
		return finish(401, deny(StageAuth, authResult.Code, authResult.Message), "", TaskSubmissionOutcome{})
	}
	requester = authResult.Requester

	if !taskTypeAllowed(agent.AllowedTaskTypes, in.TaskType) {
		return finish(403, deny(StagePolicy, "A2A_TASK_NOT_ALLOWED",
			fmt.Sprintf("task type %q is not allowed for agent %q", in.TaskType, in.AgentID)), "", TaskSubmissionOutcome{})
	}

	if in.IdempotencyKey != nil && *in.IdempotencyKey != "" {
		existing, lookupErr := p.idempotency.Lookup(in.AgentID, *in.IdempotencyKey, payloadHash)
		if lookupErr != nil {
			return finish(409, deny(StageValidation, "IDEMPOTENCY_KEY_REUSED_WITH_DIFFERENT_PAYLOAD", lookupErr.Error()), "", TaskSubmissionOutcome{})
		}
		if existing != nil {
			task, taskErr := terminalTask(existing, p.tasks)
			if taskErr != nil {
				return finish(500, deny(StageService, "INTERNAL_ERROR", taskErr.Error()), existing.TaskID, TaskSubmissionOutcome{})
			}
			return finish(200, allow(StageExecution, "A2A_TASK_REPLAY"), existing.TaskID, TaskSubmissionOutcome{Task: task})
		}
	}

	taskID := "task_" + uuid.NewString()
	task := p.tasks.Create(taskID, in.AgentID, in.TaskType, in.Input)
	if in.IdempotencyKey != nil && *in.IdempotencyKey != "" {
		p.idempotency.Reserve(in.AgentID, *in.IdempotencyKey, payloadHash, taskID)
		p.tasks.SetIdempotencyKey(taskID, in.IdempotencyKey)
	}
	p.workers.Submit(taskID)

	return finish(202, allow(StageExecution, "TASK_ACCEPTED"), taskID, TaskSubmissionOutcome{Task: *task})
}

func (p *Pipeline) buildTaskReceipt(in TaskSubmissionInput, taskID string, decision DecisionEnvelope) (*receipt.Receipt, error) {
	verification, err := p.verificationFacet()
	if err != nil {
		return nil, err
	}
	return p.receipts.Build(
		receipt.RequestFacet{
			RequestID:     taskID,
			TenantID:      in.AgentID,
			Requester:     in.AgentID,
			Capability:    "a2a:" + in.TaskType,
			QueryTemplate: "",
			QueryParams:   in.Input,
			AuthNonce:     in.Nonce,
			AuthSignedAt:  in.Timestamp,
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

// GetTask returns the current snapshot for taskID, for GET
// /v1/a2a/tasks/{taskId}.
func (p *Pipeline) GetTask(taskID string) (a2a.Task, error) {
	return p.tasks.Get(taskID)
}

// ListTasks returns a snapshot of tasks, optionally filtered by status.
func (p *Pipeline) ListTasks(status a2a.Status, limit int) []a2a.Task {
	return p.tasks.List(status, limit)
}
