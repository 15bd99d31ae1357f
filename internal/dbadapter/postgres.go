package dbadapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PostgresAdapter is the external-store implementation of Adapter. It uses
// gorm purely for connection pooling and schema migration; all query-path
// SQL execution goes through gorm's Raw()/Exec() escape hatch so the
// executor never depends on gorm's query builder for template SQL (the
// registry is the only thing allowed to produce SQL text here).
type PostgresAdapter struct {
	db     *gorm.DB
	schema *postgresSchemaRegistry
}

// PostgresOptions configures the pool and TLS behavior of the adapter.
type PostgresOptions struct {
	DSN         string
	SSL         bool
	MaxPoolSize int
}

// OpenPostgres opens (and migrates) a postgres-backed adapter.
func OpenPostgres(opts PostgresOptions) (*PostgresAdapter, error) {
	dsn := opts.DSN
	if opts.SSL && !strings.Contains(dsn, "sslmode=") {
		dsn = appendDSNParam(dsn, "sslmode=require")
	} else if !opts.SSL && !strings.Contains(dsn, "sslmode=") {
		dsn = appendDSNParam(dsn, "sslmode=disable")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("dbadapter: open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("dbadapter: underlying sql.DB: %w", err)
	}
	maxPool := opts.MaxPoolSize
	if maxPool <= 0 {
		maxPool = 10
	}
	sqlDB.SetMaxOpenConns(maxPool)

	a := &PostgresAdapter{db: db, schema: &postgresSchemaRegistry{db: db}}
	if err := a.migrate(); err != nil {
		return nil, err
	}
	return a, nil
}

func appendDSNParam(dsn, param string) string {
	if dsn == "" {
		return param
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + param
	}
	return dsn + " " + param
}

func (a *PostgresAdapter) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS wallet_balances (
			wallet_address TEXT NOT NULL,
			chain_id BIGINT NOT NULL,
			asset TEXT NOT NULL,
			balance TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY(wallet_address, chain_id, asset)
		)`,
		`CREATE TABLE IF NOT EXISTS wallet_positions (
			wallet_address TEXT NOT NULL,
			chain_id BIGINT NOT NULL,
			market TEXT NOT NULL,
			size TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY(wallet_address, chain_id, market)
		)`,
		`CREATE TABLE IF NOT EXISTS wallet_transactions (
			tx_id TEXT PRIMARY KEY,
			wallet_address TEXT NOT NULL,
			chain_id BIGINT NOT NULL,
			amount TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS access_log (
			id BIGSERIAL PRIMARY KEY,
			requester TEXT NOT NULL,
			capability TEXT NOT NULL,
			query_template TEXT NOT NULL,
			outcome TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS policy_grants (
			grant_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			wallet_address TEXT NOT NULL,
			scope_type TEXT NOT NULL,
			scope_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			effect TEXT NOT NULL,
			issued_by TEXT NOT NULL,
			issued_at TIMESTAMPTZ NOT NULL,
			signature_hash TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			task_type TEXT NOT NULL,
			status TEXT NOT NULL,
			input TEXT NOT NULL,
			result TEXT,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS idempotency_records (
			agent_id TEXT NOT NULL,
			idempotency_key TEXT NOT NULL,
			request_hash TEXT NOT NULL,
			task_id TEXT NOT NULL,
			terminal_response TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY(agent_id, idempotency_key)
		)`,
		`CREATE TABLE IF NOT EXISTS ai_drafts (
			draft_id TEXT PRIMARY KEY,
			draft_hash TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			signer_address TEXT NOT NULL,
			verification TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ai_approvals (
			approval_id TEXT PRIMARY KEY,
			draft_id TEXT NOT NULL,
			draft_hash TEXT NOT NULL,
			approved_by TEXT NOT NULL,
			approved_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS schema_registry (
			tenant_id TEXT NOT NULL,
			table_name TEXT NOT NULL,
			columns JSONB NOT NULL,
			installed_at TIMESTAMPTZ NOT NULL,
			installed_by TEXT NOT NULL,
			PRIMARY KEY(tenant_id, table_name)
		)`,
	}
	for _, stmt := range statements {
		if err := a.db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("dbadapter: migrate postgres: %w", err)
		}
	}
	return nil
}

// Execute runs sql against the underlying postgres database via gorm's raw
// escape hatch, rewriting `?` placeholders to `$N` for the pq/pgx dialect.
func (a *PostgresAdapter) Execute(ctx context.Context, mode Mode, query string, values []interface{}) (Result, error) {
	pgQuery := rewritePlaceholders(query)
	trimmed := strings.TrimSpace(strings.ToUpper(query))
	if mode == ModeRead || strings.HasPrefix(trimmed, "SELECT") {
		return a.executeQuery(ctx, pgQuery, values)
	}
	return a.executeExec(ctx, pgQuery, values)
}

func (a *PostgresAdapter) executeQuery(ctx context.Context, query string, values []interface{}) (Result, error) {
	rows, err := a.db.WithContext(ctx).Raw(query, values...).Rows()
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
	return Result{RowCount: int64(len(out)), Rows: out}, nil
}

func (a *PostgresAdapter) executeExec(ctx context.Context, query string, values []interface{}) (Result, error) {
	tx := a.db.WithContext(ctx).Exec(query, values...)
	if tx.Error != nil {
		return Result{}, fmt.Errorf("dbadapter: exec: %w", tx.Error)
	}
	return Result{RowCount: tx.RowsAffected}, nil
}

func rewritePlaceholders(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (a *PostgresAdapter) Dialect() string { return "postgres" }

func (a *PostgresAdapter) SchemaRegistry() SchemaRegistry { return a.schema }

func (a *PostgresAdapter) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type postgresSchemaRegistry struct {
	db *gorm.DB
}

func (r *postgresSchemaRegistry) LookupTable(ctx context.Context, tenantID, table string) (*SchemaTable, error) {
	var row struct {
		Columns     string
		InstalledAt time.Time
		InstalledBy string
	}
	tx := r.db.WithContext(ctx).Raw(
		`SELECT columns::text AS columns, installed_at, installed_by FROM schema_registry WHERE tenant_id = $1 AND table_name = $2`,
		tenantID, table).Scan(&row)
	if tx.Error != nil {
		return nil, fmt.Errorf("dbadapter: lookup schema: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return nil, fmt.Errorf("dbadapter: table %q not installed for tenant %q", table, tenantID)
	}
	cols, err := decodeColumnsJSON(row.Columns)
	if err != nil {
		return nil, err
	}
	return &SchemaTable{
		TenantID:    tenantID,
		TableName:   table,
		Columns:     cols,
		InstalledAt: row.InstalledAt.Unix(),
		InstalledBy: row.InstalledBy,
	}, nil
}

func (r *postgresSchemaRegistry) InstallTable(ctx context.Context, table SchemaTable) error {
	columnsJSON, err := encodeColumnsJSON(table.Columns)
	if err != nil {
		return err
	}
	tx := r.db.WithContext(ctx).Exec(
		`INSERT INTO schema_registry (tenant_id, table_name, columns, installed_at, installed_by)
		 VALUES ($1, $2, $3::jsonb, $4, $5)
		 ON CONFLICT (tenant_id, table_name) DO UPDATE SET
		   columns = excluded.columns,
		   installed_at = excluded.installed_at,
		   installed_by = excluded.installed_by`,
		table.TenantID, table.TableName, columnsJSON, time.Now().UTC(), table.InstalledBy)
	if tx.Error != nil {
		return fmt.Errorf("dbadapter: install schema table: %w", tx.Error)
	}
	return nil
}
