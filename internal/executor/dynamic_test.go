package executor

import (
	"context"
	"testing"

	"private-db-agent/internal/dbadapter"
)

func TestDynamicBuilderUnknownTable(t *testing.T) {
	adapter, err := dbadapter.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer adapter.Close()

	b := NewDynamicBuilder(adapter)
	_, failure := b.Run(context.Background(), DynamicRequest{
		TenantID: "acme", Table: "invoices", Operation: DynamicRead,
	})
	if failure == nil || failure.Code != CodeUnknownTable {
		t.Fatalf("expected UNKNOWN_TABLE, got %+v", failure)
	}
}

func TestDynamicBuilderInsertAndRead(t *testing.T) {
	adapter, err := dbadapter.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer adapter.Close()

	ctx := context.Background()
	_, err = adapter.Execute(ctx, dbadapter.ModeWrite,
		`CREATE TABLE invoices (id TEXT, amount TEXT)`, nil)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	err = adapter.SchemaRegistry().InstallTable(ctx, dbadapter.SchemaTable{
		TenantID: "acme", TableName: "invoices",
		Columns: []dbadapter.SchemaColumn{{Name: "id", Type: "text"}, {Name: "amount", Type: "text"}},
	})
	if err != nil {
		t.Fatalf("install schema: %v", err)
	}

	b := NewDynamicBuilder(adapter)
	_, failure := b.Run(ctx, DynamicRequest{
		TenantID: "acme", Table: "invoices", Operation: DynamicInsert,
		Values: map[string]interface{}{"id": "inv-1", "amount": "100"},
	})
	if failure != nil {
		t.Fatalf("insert failed: %+v", failure)
	}

	result, failure := b.Run(ctx, DynamicRequest{
		TenantID: "acme", Table: "invoices", Operation: DynamicRead,
		Filters: map[string]interface{}{"id": "inv-1"},
	})
	if failure != nil {
		t.Fatalf("read failed: %+v", failure)
	}
	if result.RowCount != 1 {
		t.Fatalf("expected 1 row, got %d", result.RowCount)
	}
}

func TestDynamicBuilderUnknownColumn(t *testing.T) {
	adapter, err := dbadapter.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer adapter.Close()

	ctx := context.Background()
	err = adapter.SchemaRegistry().InstallTable(ctx, dbadapter.SchemaTable{
		TenantID: "acme", TableName: "invoices",
		Columns: []dbadapter.SchemaColumn{{Name: "id", Type: "text"}},
	})
	if err != nil {
		t.Fatalf("install schema: %v", err)
	}

	b := NewDynamicBuilder(adapter)
	_, failure := b.Run(ctx, DynamicRequest{
		TenantID: "acme", Table: "invoices", Operation: DynamicRead,
		Filters: map[string]interface{}{"nonexistent_column": "x"},
	})
	if failure == nil || failure.Code != CodeUnknownColumn {
		t.Fatalf("expected UNKNOWN_COLUMN, got %+v", failure)
	}
}

func TestDynamicBuilderDeleteRequiresFilter(t *testing.T) {
	adapter, err := dbadapter.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer adapter.Close()

	ctx := context.Background()
	err = adapter.SchemaRegistry().InstallTable(ctx, dbadapter.SchemaTable{
		TenantID: "acme", TableName: "invoices",
		Columns: []dbadapter.SchemaColumn{{Name: "id", Type: "text"}},
	})
	if err != nil {
		t.Fatalf("install schema: %v", err)
	}

	b := NewDynamicBuilder(adapter)
	_, failure := b.Run(ctx, DynamicRequest{TenantID: "acme", Table: "invoices", Operation: DynamicDelete})
	if failure == nil || failure.Code != CodeMissingParam {
		t.Fatalf("expected MISSING_PARAM for filterless delete, got %+v", failure)
	}
}
