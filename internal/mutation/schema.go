package mutation

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"private-db-agent/internal/dbadapter"
	"private-db-agent/internal/policy"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var allowedColumnTypes = map[string]bool{
	"text": true, "integer": true, "real": true, "blob": true, "numeric": true,
}

// schemaSubmit accepts a draft payload and forwards it without mutating any
// state, per spec.md §4.M.
func (s *Service) schemaSubmit(req Request) (Response, *Failure) {
	return Response{
		Code: CodeSubmissionForwarded,
		Body: map[string]interface{}{"tenantId": req.TenantID, "submitted": true},
	}, nil
}

// schemaApply validates the payload, requires the caller to hold
// database:*:alter:allow or bootstrap privilege (the tenant has no grants
// yet), installs/rewrites the tenant's schema registry entry, and issues
// any grants enumerated in payload["grants"].
func (s *Service) schemaApply(ctx context.Context, req Request) (Response, *Failure) {
	tableName, ok := req.Payload["tableName"].(string)
	if tableName == "" || !ok {
		return Response{}, fail(CodeInvalidPayload, "schema:apply requires a non-empty tableName")
	}

	if !s.grants.HasAnyGrants(req.TenantID) {
		// Bootstrap: the tenant's very first schema:apply is trusted in the
		// same way the first grant:create is, since nothing yet governs it.
	} else {
		decision := s.grants.Evaluate(req.TenantID, req.ActorWallet, policy.ScopeDatabase, "*", policy.OpAlter)
		if !decision.Allow {
			return Response{}, fail(decision.Code, "schema:apply requires database:*:alter:allow")
		}
	}

	if aiAssist, ok := req.Payload["aiAssist"].(map[string]interface{}); ok && aiAssist != nil {
		if failure := s.checkAIApproval(aiAssist); failure != nil {
			return Response{}, failure
		}
	}

	if !identifierPattern.MatchString(tableName) {
		return Response{}, fail(CodeInvalidPayload, fmt.Sprintf("invalid table name %q", tableName))
	}

	columns, failure := parseColumns(req.Payload["columns"])
	if failure != nil {
		return Response{}, failure
	}

	if _, err := s.adapter.Execute(ctx, dbadapter.ModeWrite, buildCreateTableSQL(tableName, columns), nil); err != nil {
		return Response{}, fail(CodeInvalidPayload, fmt.Sprintf("create table: %v", err))
	}

	table := dbadapter.SchemaTable{
		TenantID:    req.TenantID,
		TableName:   tableName,
		Columns:     columns,
		InstalledAt: time.Now().UTC().Unix(),
		InstalledBy: req.ActorWallet,
	}
	if err := s.adapter.SchemaRegistry().InstallTable(ctx, table); err != nil {
		return Response{}, fail(CodeInvalidPayload, fmt.Sprintf("install table: %v", err))
	}

	issued, failure := s.issueGrants(req)
	if failure != nil {
		return Response{}, failure
	}

	return Response{
		Code: CodeSchemaApplied,
		Body: map[string]interface{}{
			"tableName":   tableName,
			"columnCount": len(columns),
			"grantsIssued": issued,
		},
	}, nil
}

func (s *Service) checkAIApproval(aiAssist map[string]interface{}) *Failure {
	draftID, _ := aiAssist["draftId"].(string)
	if draftID == "" {
		return nil
	}
	draftHash, _ := aiAssist["draftHash"].(string)
	approvalID, _ := aiAssist["approvalId"].(string)
	approvedBy, _ := aiAssist["approvedBy"].(string)

	approval, ok := s.approvals.Lookup(draftID, draftHash)
	if !ok || approval.ApprovalID != approvalID || approval.ApprovedBy != approvedBy {
		return fail(CodeAIApprovalRequired, "schema:apply references a draft with no matching approval")
	}
	return nil
}

func parseColumns(raw interface{}) ([]dbadapter.SchemaColumn, *Failure) {
	list, ok := raw.([]interface{})
	if !ok || len(list) == 0 {
		return nil, fail(CodeInvalidPayload, "schema:apply requires a non-empty columns array")
	}
	columns := make([]dbadapter.SchemaColumn, 0, len(list))
	for _, entry := range list {
		m, ok := entry.(map[string]interface{})
		if !ok {
			return nil, fail(CodeInvalidPayload, "each column must be an object")
		}
		name, _ := m["name"].(string)
		colType, _ := m["type"].(string)
		if name == "" || colType == "" {
			return nil, fail(CodeInvalidPayload, "each column requires a non-empty name and type")
		}
		if !identifierPattern.MatchString(name) {
			return nil, fail(CodeInvalidPayload, fmt.Sprintf("invalid column name %q", name))
		}
		if !allowedColumnTypes[strings.ToLower(colType)] {
			return nil, fail(CodeInvalidPayload, fmt.Sprintf("unsupported column type %q", colType))
		}
		columns = append(columns, dbadapter.SchemaColumn{Name: name, Type: colType})
	}
	return columns, nil
}

// buildCreateTableSQL renders a CREATE TABLE IF NOT EXISTS statement.
// Identifiers have already passed identifierPattern, so this is not
// interpolating caller-controlled SQL fragments beyond validated names.
func buildCreateTableSQL(tableName string, columns []dbadapter.SchemaColumn) string {
	defs := make([]string, 0, len(columns))
	for _, c := range columns {
		defs = append(defs, fmt.Sprintf("%s %s", c.Name, c.Type))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", tableName, strings.Join(defs, ", "))
}

// issueGrants creates every grant enumerated in req.Payload["grants"],
// stamping issuedBy/issuedAt from the apply call itself.
func (s *Service) issueGrants(req Request) (int, *Failure) {
	raw, ok := req.Payload["grants"].([]interface{})
	if !ok || len(raw) == 0 {
		return 0, nil
	}
	issued := 0
	for _, entry := range raw {
		m, ok := entry.(map[string]interface{})
		if !ok {
			return issued, fail(CodeInvalidPayload, "each grant must be an object")
		}
		g, failure := grantFromPayload(req, m)
		if failure != nil {
			return issued, failure
		}
		if err := s.grants.Create(g); err != nil {
			if err == policy.ErrGrantExists {
				continue
			}
			return issued, fail(CodeInvalidPayload, err.Error())
		}
		issued++
	}
	return issued, nil
}
