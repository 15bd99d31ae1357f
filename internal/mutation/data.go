package mutation

import (
	"context"
	"fmt"

	"private-db-agent/internal/executor"
	"private-db-agent/internal/policy"
)

// dataExecute runs a read/insert/update/delete against a tenant's
// apply-installed table, gated solely by the grant engine (no capability
// rule applies to this path), per spec.md §4.H.
func (s *Service) dataExecute(ctx context.Context, req Request) (Response, *Failure) {
	table, _ := req.Payload["table"].(string)
	opRaw, _ := req.Payload["operation"].(string)
	if table == "" || opRaw == "" {
		return Response{}, fail(CodeInvalidPayload, "data:execute requires table and operation")
	}

	decision := s.grants.Evaluate(req.TenantID, req.ActorWallet, policy.ScopeTable, table, policy.Operation(opRaw))
	if !decision.Allow {
		return Response{}, fail(decision.Code, fmt.Sprintf("data:execute denied for table %q operation %q", table, opRaw))
	}

	filters, _ := req.Payload["filters"].(map[string]interface{})
	values, _ := req.Payload["values"].(map[string]interface{})

	result, execFailure := s.dynamic.Run(ctx, executor.DynamicRequest{
		TenantID:  req.TenantID,
		Table:     table,
		Operation: executor.DynamicOperation(opRaw),
		Filters:   filters,
		Values:    values,
	})
	if execFailure != nil {
		return Response{}, fail(execFailure.Code, execFailure.Message)
	}

	return Response{
		Code: "DATA_EXECUTED",
		Body: map[string]interface{}{"rowCount": result.RowCount, "rows": result.Rows},
	}, nil
}
