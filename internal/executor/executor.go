// Package executor runs a named, parameter-validated template against an
// Adapter, enforcing the mode/capability-suffix invariant and surfacing the
// exact failure codes spec.md §4.H/§8 documents.
package executor

import (
	"context"
	"fmt"
	"strings"

	"private-db-agent/internal/dbadapter"
	"private-db-agent/internal/templates"
)

// Outcome codes, matching spec.md §4.H/§8 verbatim.
const (
	CodeUnknownQueryTemplate  = "UNKNOWN_QUERY_TEMPLATE"
	CodeCapabilityModeMismatch = "CAPABILITY_MODE_MISMATCH"
	CodeMissingParam          = "MISSING_PARAM"
	CodeInvalidParamType      = "INVALID_PARAM_TYPE"
	CodeInvalidParamRange     = "INVALID_PARAM_RANGE"
	CodeInvalidParamLength    = "INVALID_PARAM_LENGTH"
	CodeInvalidParamFormat    = "INVALID_PARAM_FORMAT"
	CodeInvalidParamValue     = "INVALID_PARAM_VALUE"
	CodeUnknownParam          = "UNKNOWN_PARAM"
	CodeUnsupportedDialect    = "UNSUPPORTED_DIALECT"
	CodeDBExecutionFailed     = "DB_EXECUTION_FAILED"
)

// Failure is a structured execution-stage error carrying the code the
// pipeline maps onto an HTTP status and a decision record.
type Failure struct {
	Code             string
	Message          string
	AllowedParams    []string
}

func (f *Failure) Error() string { return fmt.Sprintf("executor: %s: %s", f.Code, f.Message) }

func fail(code, message string) *Failure {
	return &Failure{Code: code, Message: message}
}

// Executor runs registry templates against a single Adapter.
type Executor struct {
	registry *templates.Registry
	adapter  dbadapter.Adapter
}

// New builds an Executor bound to registry and adapter.
func New(registry *templates.Registry, adapter dbadapter.Adapter) *Executor {
	return &Executor{registry: registry, adapter: adapter}
}

// Run implements spec.md §4.H's 5-step procedure for a named template.
func (e *Executor) Run(ctx context.Context, capability, templateName string, params map[string]interface{}) (dbadapter.Result, *Failure) {
	tmpl, err := e.registry.Lookup(templateName)
	if err != nil {
		return dbadapter.Result{}, fail(CodeUnknownQueryTemplate, err.Error())
	}

	if strings.HasSuffix(capability, ":read") && tmpl.Mode == dbadapter.ModeWrite {
		return dbadapter.Result{}, fail(CodeCapabilityModeMismatch, fmt.Sprintf("capability %q may not execute write template %q", capability, templateName))
	}
	if strings.HasSuffix(capability, ":write") && tmpl.Mode == dbadapter.ModeRead {
		return dbadapter.Result{}, fail(CodeCapabilityModeMismatch, fmt.Sprintf("capability %q may not execute read template %q", capability, templateName))
	}

	if failure := checkUnknownParams(tmpl, params); failure != nil {
		return dbadapter.Result{}, failure
	}

	values, bindErr := tmpl.Bind(params)
	if bindErr != nil {
		return dbadapter.Result{}, classifyBindError(bindErr)
	}

	sql, err := tmpl.SQLFor(e.adapter.Dialect())
	if err != nil {
		return dbadapter.Result{}, fail(CodeUnsupportedDialect, err.Error())
	}

	result, err := e.adapter.Execute(ctx, tmpl.Mode, sql, values)
	if err != nil {
		return dbadapter.Result{}, fail(CodeDBExecutionFailed, err.Error())
	}
	return result, nil
}

func checkUnknownParams(tmpl templates.Template, params map[string]interface{}) *Failure {
	allowed := make(map[string]bool, len(tmpl.Params))
	names := make([]string, 0, len(tmpl.Params))
	for _, p := range tmpl.Params {
		allowed[p.Name] = true
		names = append(names, p.Name)
	}
	for k := range params {
		if !allowed[k] {
			f := fail(CodeUnknownParam, fmt.Sprintf("unknown parameter %q", k))
			f.AllowedParams = names
			return f
		}
	}
	return nil
}

func classifyBindError(err error) *Failure {
	var ve *templates.ValidationError
	if ok := asValidationError(err, &ve); ok {
		return &Failure{Code: ve.Code, Message: ve.Message}
	}
	return fail(CodeInvalidParamType, err.Error())
}

func asValidationError(err error, target **templates.ValidationError) bool {
	if ve, ok := err.(*templates.ValidationError); ok {
		*target = ve
		return true
	}
	return false
}
