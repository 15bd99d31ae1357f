package dbadapter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteAdapter is the embedded-file-store implementation of Adapter.
type SQLiteAdapter struct {
	db     *sql.DB
	schema *sqliteSchemaRegistry
}

// OpenSQLite opens (and migrates) a sqlite-backed adapter at path.
func OpenSQLite(path string) (*SQLiteAdapter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dbadapter: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(10)
	a := &SQLiteAdapter{db: db}
	a.schema = &sqliteSchemaRegistry{db: db}
	if err := a.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *SQLiteAdapter) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS wallet_balances (
			wallet_address TEXT NOT NULL,
			chain_id INTEGER NOT NULL,
			asset TEXT NOT NULL,
			balance TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY(wallet_address, chain_id, asset)
		);`,
		`CREATE TABLE IF NOT EXISTS wallet_positions (
			wallet_address TEXT NOT NULL,
			chain_id INTEGER NOT NULL,
			market TEXT NOT NULL,
			size TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY(wallet_address, chain_id, market)
		);`,
		`CREATE TABLE IF NOT EXISTS wallet_transactions (
			tx_id TEXT PRIMARY KEY,
			wallet_address TEXT NOT NULL,
			chain_id INTEGER NOT NULL,
			amount TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS access_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			requester TEXT NOT NULL,
			capability TEXT NOT NULL,
			query_template TEXT NOT NULL,
			outcome TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS policy_grants (
			grant_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			wallet_address TEXT NOT NULL,
			scope_type TEXT NOT NULL,
			scope_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			effect TEXT NOT NULL,
			issued_by TEXT NOT NULL,
			issued_at TIMESTAMP NOT NULL,
			signature_hash TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			task_type TEXT NOT NULL,
			status TEXT NOT NULL,
			input TEXT NOT NULL,
			result TEXT,
			error TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS idempotency_records (
			agent_id TEXT NOT NULL,
			idempotency_key TEXT NOT NULL,
			request_hash TEXT NOT NULL,
			task_id TEXT NOT NULL,
			terminal_response TEXT,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY(agent_id, idempotency_key)
		);`,
		`CREATE TABLE IF NOT EXISTS ai_drafts (
			draft_id TEXT PRIMARY KEY,
			draft_hash TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			signer_address TEXT NOT NULL,
			verification TEXT,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ai_approvals (
			approval_id TEXT PRIMARY KEY,
			draft_id TEXT NOT NULL,
			draft_hash TEXT NOT NULL,
			approved_by TEXT NOT NULL,
			approved_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS schema_registry (
			tenant_id TEXT NOT NULL,
			table_name TEXT NOT NULL,
			columns TEXT NOT NULL,
			installed_at TIMESTAMP NOT NULL,
			installed_by TEXT NOT NULL,
			PRIMARY KEY(tenant_id, table_name)
		);`,
	}
	for _, stmt := range statements {
		if _, err := a.db.Exec(stmt); err != nil {
			return fmt.Errorf("dbadapter: migrate: %w", err)
		}
	}
	return nil
}

// Execute runs sql against the underlying sqlite database.
func (a *SQLiteAdapter) Execute(ctx context.Context, mode Mode, query string, values []interface{}) (Result, error) {
	trimmed := strings.TrimSpace(strings.ToUpper(query))
	if mode == ModeRead || strings.HasPrefix(trimmed, "SELECT") {
		return a.executeQuery(ctx, query, values)
	}
	return a.executeExec(ctx, query, values)
}

func (a *SQLiteAdapter) executeQuery(ctx context.Context, query string, values []interface{}) (Result, error) {
	rows, err := a.db.QueryContext(ctx, query, values...)
	if err != nil {
		return Result{}, fmt.Errorf("dbadapter: query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("dbadapter: columns: %w", err)
	}

	var out []map[string]interface{}
	for rows.Next() {
		raw := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, fmt.Errorf("dbadapter: scan: %w", err)
		}
		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			row[c] = normalizeSQLValue(raw[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("dbadapter: rows: %w", err)
	}
	return Result{RowCount: int64(len(out)), Rows: out}, nil
}

func (a *SQLiteAdapter) executeExec(ctx context.Context, query string, values []interface{}) (Result, error) {
	res, err := a.db.ExecContext(ctx, query, values...)
	if err != nil {
		return Result{}, fmt.Errorf("dbadapter: exec: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	return Result{RowCount: affected}, nil
}

func normalizeSQLValue(v interface{}) interface{} {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return t
	}
}

func (a *SQLiteAdapter) Dialect() string { return "sqlite" }

func (a *SQLiteAdapter) SchemaRegistry() SchemaRegistry { return a.schema }

func (a *SQLiteAdapter) Close() error { return a.db.Close() }
