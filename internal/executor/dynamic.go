package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"private-db-agent/internal/dbadapter"
)

// DynamicOperation is the CRUD verb a data:execute request performs against
// a tenant's apply-installed table.
type DynamicOperation string

const (
	DynamicRead   DynamicOperation = "read"
	DynamicInsert DynamicOperation = "insert"
	DynamicUpdate DynamicOperation = "update"
	DynamicDelete DynamicOperation = "delete"
)

// Outcome codes specific to the dynamic data:execute path.
const (
	CodeUnknownTable      = "UNKNOWN_TABLE"
	CodeUnknownColumn     = "UNKNOWN_COLUMN"
	CodeUnsupportedOperation = "UNSUPPORTED_OPERATION"
)

// DynamicRequest describes one data:execute call.
type DynamicRequest struct {
	TenantID  string
	Table     string
	Operation DynamicOperation
	// Filters restrict rows for read/update/delete: column -> value,
	// joined with AND.
	Filters map[string]interface{}
	// Values supplies the column/value pairs to write for insert/update.
	Values map[string]interface{}
}

// DynamicBuilder builds and executes data:execute SQL, binding every
// identifier strictly against the tenant's installed schema registry so no
// caller-controlled string ever becomes part of the SQL text beyond values
// bound as parameters.
type DynamicBuilder struct {
	adapter dbadapter.Adapter
}

// NewDynamicBuilder builds a DynamicBuilder bound to adapter.
func NewDynamicBuilder(adapter dbadapter.Adapter) *DynamicBuilder {
	return &DynamicBuilder{adapter: adapter}
}

// Run validates req.Table/columns against the tenant's schema registry,
// then builds and executes parameterized SQL for req.Operation.
func (b *DynamicBuilder) Run(ctx context.Context, req DynamicRequest) (dbadapter.Result, *Failure) {
	table, err := b.adapter.SchemaRegistry().LookupTable(ctx, req.TenantID, req.Table)
	if err != nil {
		return dbadapter.Result{}, fail(CodeUnknownTable, err.Error())
	}

	columnTypes := make(map[string]string, len(table.Columns))
	for _, c := range table.Columns {
		columnTypes[c.Name] = c.Type
	}

	if failure := validateColumns(columnTypes, req.Filters); failure != nil {
		return dbadapter.Result{}, failure
	}
	if failure := validateColumns(columnTypes, req.Values); failure != nil {
		return dbadapter.Result{}, failure
	}

	sql, values, mode, failure := buildDynamicSQL(req)
	if failure != nil {
		return dbadapter.Result{}, failure
	}

	result, err := b.adapter.Execute(ctx, mode, sql, values)
	if err != nil {
		return dbadapter.Result{}, fail(CodeDBExecutionFailed, err.Error())
	}
	return result, nil
}

func validateColumns(known map[string]string, cols map[string]interface{}) *Failure {
	for name := range cols {
		if _, ok := known[name]; !ok {
			return fail(CodeUnknownColumn, fmt.Sprintf("unknown column %q", name))
		}
	}
	return nil
}

func buildDynamicSQL(req DynamicRequest) (string, []interface{}, dbadapter.Mode, *Failure) {
	switch req.Operation {
	case DynamicRead:
		return buildSelect(req)
	case DynamicInsert:
		return buildInsert(req)
	case DynamicUpdate:
		return buildUpdate(req)
	case DynamicDelete:
		return buildDelete(req)
	default:
		return "", nil, "", fail(CodeUnsupportedOperation, fmt.Sprintf("unsupported operation %q", req.Operation))
	}
}

func buildSelect(req DynamicRequest) (string, []interface{}, dbadapter.Mode, *Failure) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s", req.Table)
	values := appendWhere(&b, req.Filters)
	return b.String(), values, dbadapter.ModeRead, nil
}

func buildInsert(req DynamicRequest) (string, []interface{}, dbadapter.Mode, *Failure) {
	if len(req.Values) == 0 {
		return "", nil, "", fail(CodeMissingParam, "insert requires at least one value")
	}
	cols, placeholders, values := columnTriple(req.Values)
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", req.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	return sql, values, dbadapter.ModeWrite, nil
}

func buildUpdate(req DynamicRequest) (string, []interface{}, dbadapter.Mode, *Failure) {
	if len(req.Values) == 0 {
		return "", nil, "", fail(CodeMissingParam, "update requires at least one value")
	}
	if len(req.Filters) == 0 {
		return "", nil, "", fail(CodeMissingParam, "update requires at least one filter")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "UPDATE %s SET ", req.Table)
	values := make([]interface{}, 0, len(req.Values)+len(req.Filters))
	for i, col := range sortedKeys(req.Values) {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = ?", col)
		values = append(values, req.Values[col])
	}
	values = append(values, appendWhere(&b, req.Filters)...)
	return b.String(), values, dbadapter.ModeWrite, nil
}

func buildDelete(req DynamicRequest) (string, []interface{}, dbadapter.Mode, *Failure) {
	if len(req.Filters) == 0 {
		return "", nil, "", fail(CodeMissingParam, "delete requires at least one filter")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "DELETE FROM %s", req.Table)
	values := appendWhere(&b, req.Filters)
	return b.String(), values, dbadapter.ModeWrite, nil
}

func appendWhere(b *strings.Builder, filters map[string]interface{}) []interface{} {
	if len(filters) == 0 {
		return nil
	}
	b.WriteString(" WHERE ")
	values := make([]interface{}, 0, len(filters))
	for i, col := range sortedKeys(filters) {
		if i > 0 {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(b, "%s = ?", col)
		values = append(values, filters[col])
	}
	return values
}

func columnTriple(values map[string]interface{}) ([]string, []string, []interface{}) {
	keys := sortedKeys(values)
	cols := make([]string, 0, len(keys))
	placeholders := make([]string, 0, len(keys))
	vals := make([]interface{}, 0, len(keys))
	for _, col := range keys {
		cols = append(cols, col)
		placeholders = append(placeholders, "?")
		vals = append(vals, values[col])
	}
	return cols, placeholders, vals
}

// sortedKeys returns m's keys in sorted order so generated SQL text (and
// therefore receipt hashes over it) is reproducible across runs despite Go's
// randomized map iteration order.
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
