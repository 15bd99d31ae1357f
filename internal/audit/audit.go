// Package audit implements the append-only audit sink: a best-effort write
// that never alters the decision outcome it records, grounded on the
// teacher's InsertAuditLog/audit_log pattern.
package audit

import (
	"context"
	"log/slog"
	"time"

	"private-db-agent/internal/dbadapter"
)

// Row is one append-only audit record, per spec.md §3.
type Row struct {
	RequestID     string
	TenantID      string
	Requester     string
	Capability    string
	QueryTemplate string
	Decision      string // JSON-encoded decision facet
	CreatedAt     time.Time
}

// Result reports whether the append succeeded, per the Open Question
// decision that audit failures never alter the pipeline's decision outcome.
type Result struct {
	Logged bool
	Code   string
}

// Sink appends audit rows to the database adapter's access_log table,
// swallowing write failures into a logged/code result rather than an error
// the pipeline must react to.
type Sink struct {
	adapter dbadapter.Adapter
	logger  *slog.Logger
}

// NewSink builds a Sink writing through adapter.
func NewSink(adapter dbadapter.Adapter, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{adapter: adapter, logger: logger}
}

// Append writes row to the access_log table. Failures are logged and
// reported via Result.Code = "AUDIT_WRITE_FAILED" but never returned as an
// error — per spec.md §3, "Failure to write audit never alters the
// decision outcome."
func (s *Sink) Append(ctx context.Context, row Row) Result {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	_, err := s.adapter.Execute(ctx, dbadapter.ModeWrite,
		`INSERT INTO access_log (requester, capability, query_template, outcome) VALUES (?, ?, ?, ?)`,
		[]interface{}{row.Requester, row.Capability, row.QueryTemplate, row.Decision})
	if err != nil {
		s.logger.Warn("audit: failed to append row",
			"requestId", row.RequestID,
			"tenantId", row.TenantID,
			"error", err,
		)
		return Result{Logged: false, Code: "AUDIT_WRITE_FAILED"}
	}
	return Result{Logged: true, Code: "OK"}
}
