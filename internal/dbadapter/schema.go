package dbadapter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// sqliteSchemaRegistry persists tenant table definitions installed by
// schema:apply into the schema_registry table created by migrate().
type sqliteSchemaRegistry struct {
	db *sql.DB
}

func (r *sqliteSchemaRegistry) LookupTable(ctx context.Context, tenantID, table string) (*SchemaTable, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT columns, installed_at, installed_by FROM schema_registry WHERE tenant_id = ? AND table_name = ?`,
		tenantID, table)

	var columnsJSON string
	var installedAt time.Time
	var installedBy string
	if err := row.Scan(&columnsJSON, &installedAt, &installedBy); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("dbadapter: table %q not installed for tenant %q", table, tenantID)
		}
		return nil, fmt.Errorf("dbadapter: lookup schema: %w", err)
	}

	cols, err := decodeColumnsJSON(columnsJSON)
	if err != nil {
		return nil, err
	}

	return &SchemaTable{
		TenantID:    tenantID,
		TableName:   table,
		Columns:     cols,
		InstalledAt: installedAt.Unix(),
		InstalledBy: installedBy,
	}, nil
}

func (r *sqliteSchemaRegistry) InstallTable(ctx context.Context, table SchemaTable) error {
	columnsJSON, err := encodeColumnsJSON(table.Columns)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO schema_registry (tenant_id, table_name, columns, installed_at, installed_by)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(tenant_id, table_name) DO UPDATE SET
		   columns = excluded.columns,
		   installed_at = excluded.installed_at,
		   installed_by = excluded.installed_by`,
		table.TenantID, table.TableName, columnsJSON, time.Now().UTC(), table.InstalledBy)
	if err != nil {
		return fmt.Errorf("dbadapter: install schema table: %w", err)
	}
	return nil
}

func decodeColumnsJSON(raw string) ([]SchemaColumn, error) {
	var cols []SchemaColumn
	if err := json.Unmarshal([]byte(raw), &cols); err != nil {
		return nil, fmt.Errorf("dbadapter: decode schema columns: %w", err)
	}
	return cols, nil
}

func encodeColumnsJSON(cols []SchemaColumn) (string, error) {
	b, err := json.Marshal(cols)
	if err != nil {
		return "", fmt.Errorf("dbadapter: encode schema columns: %w", err)
	}
	return string(b), nil
}
