package introspect

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
)

// mockExec satisfies Executor over a sqlmock connection without the retry
// layer; retries are covered by the pool tests.
type mockExec struct {
	db *sql.DB
}

func (m mockExec) ExecuteWithRetry(ctx context.Context, query string, args []any, scan func(*sql.Rows) error) error {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	if err := scan(rows); err != nil {
		return err
	}
	return rows.Err()
}

func newMock(t *testing.T) (*Introspector, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(mockExec{db: db}), mock
}

func TestListTables(t *testing.T) {
	intro, mock := newMock(t)
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM information_schema.TABLES").
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{
			"TABLE_NAME", "ENGINE", "TABLE_ROWS", "DATA_MB", "INDEX_MB", "TOTAL_MB",
			"AUTO_INCREMENT", "CREATE_TIME", "UPDATE_TIME", "TABLE_COLLATION",
		}).
			AddRow("orders", "InnoDB", 500000, 2048.5, 512.25, 2560.75, 500001, created, nil, "utf8mb4_general_ci").
			AddRow("users", "InnoDB", 1000, 5.0, 1.0, 6.0, nil, nil, nil, "utf8mb4_general_ci"))

	tables, err := intro.ListTables(context.Background(), "shop")
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("got %d tables, want 2", len(tables))
	}
	if tables[0].Name != "orders" || tables[0].TotalMB != 2560.75 {
		t.Fatalf("unexpected first table: %+v", tables[0])
	}
	if tables[0].AutoIncrement == nil || *tables[0].AutoIncrement != 500001 {
		t.Fatalf("auto increment not carried: %+v", tables[0].AutoIncrement)
	}
	if tables[1].AutoIncrement != nil || tables[1].CreateTime != nil {
		t.Fatalf("NULL catalog values must stay nil: %+v", tables[1])
	}
}

func TestIndexesGrouping(t *testing.T) {
	intro, mock := newMock(t)
	mock.ExpectQuery("FROM information_schema.STATISTICS").
		WithArgs("shop", "orders").
		WillReturnRows(sqlmock.NewRows([]string{
			"INDEX_NAME", "NON_UNIQUE", "SEQ_IN_INDEX", "COLUMN_NAME", "CARDINALITY", "SUB_PART", "INDEX_TYPE",
		}).
			AddRow("PRIMARY", 0, 1, "id", 500000, nil, "BTREE").
			AddRow("idx_customer_date", 1, 1, "customer_id", 40000, nil, "BTREE").
			AddRow("idx_customer_date", 1, 2, "order_date", 500000, nil, "BTREE"))

	indexes, err := intro.Indexes(context.Background(), "shop", "orders")
	if err != nil {
		t.Fatalf("Indexes: %v", err)
	}
	want := []Index{
		{Name: "PRIMARY", Unique: true, Type: "BTREE", Cardinality: 500000,
			Columns: []IndexColumn{{Name: "id", Seq: 1}}},
		{Name: "idx_customer_date", Unique: false, Type: "BTREE", Cardinality: 40000,
			Columns: []IndexColumn{{Name: "customer_id", Seq: 1}, {Name: "order_date", Seq: 2}}},
	}
	if diff := cmp.Diff(want, indexes); diff != "" {
		t.Fatalf("indexes mismatch (-want +got):\n%s", diff)
	}
}

func TestColumnsNullable(t *testing.T) {
	intro, mock := newMock(t)
	mock.ExpectQuery("FROM information_schema.COLUMNS").
		WithArgs("shop", "users").
		WillReturnRows(sqlmock.NewRows([]string{
			"COLUMN_NAME", "ORDINAL_POSITION", "COLUMN_DEFAULT", "IS_NULLABLE",
			"DATA_TYPE", "COLUMN_TYPE", "COLUMN_KEY", "EXTRA", "COLUMN_COMMENT",
		}).
			AddRow("id", 1, nil, "NO", "bigint", "bigint unsigned", "PRI", "auto_increment", "").
			AddRow("nickname", 2, "anon", "YES", "varchar", "varchar(64)", "", "", "display name"))

	cols, err := intro.Columns(context.Background(), "shop", "users")
	if err != nil {
		t.Fatalf("Columns: %v", err)
	}
	if cols[0].Nullable || cols[0].Default != nil {
		t.Fatalf("id column misread: %+v", cols[0])
	}
	if !cols[1].Nullable || cols[1].Default == nil || *cols[1].Default != "anon" {
		t.Fatalf("nickname column misread: %+v", cols[1])
	}
}

func TestForeignKeys(t *testing.T) {
	intro, mock := newMock(t)
	mock.ExpectQuery("FROM information_schema.KEY_COLUMN_USAGE").
		WithArgs("shop", "orders").
		WillReturnRows(sqlmock.NewRows([]string{
			"CONSTRAINT_NAME", "COLUMN_NAME", "REFERENCED_TABLE_NAME",
			"REFERENCED_COLUMN_NAME", "UPDATE_RULE", "DELETE_RULE",
		}).AddRow("fk_orders_customer", "customer_id", "customers", "id", "CASCADE", "RESTRICT"))

	fks, err := intro.ForeignKeys(context.Background(), "shop", "orders")
	if err != nil {
		t.Fatalf("ForeignKeys: %v", err)
	}
	want := []ForeignKey{{
		ConstraintName: "fk_orders_customer", Column: "customer_id",
		ReferencedTable: "customers", ReferencedColumn: "id",
		OnUpdate: "CASCADE", OnDelete: "RESTRICT",
	}}
	if diff := cmp.Diff(want, fks); diff != "" {
		t.Fatalf("fks mismatch (-want +got):\n%s", diff)
	}
}

func TestTableDictionary(t *testing.T) {
	intro, mock := newMock(t)
	mock.ExpectQuery("FROM information_schema.TABLES").
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{
			"TABLE_NAME", "ENGINE", "TABLE_ROWS", "DATA_MB", "INDEX_MB", "TOTAL_MB",
			"AUTO_INCREMENT", "CREATE_TIME", "UPDATE_TIME", "TABLE_COLLATION",
		}).AddRow("users", "InnoDB", 1000, 5.0, 1.0, 6.0, nil, nil, nil, ""))

	dict, err := intro.TableDictionary(context.Background(), "shop")
	if err != nil {
		t.Fatalf("TableDictionary: %v", err)
	}
	facts, ok := dict["users"]
	if !ok || !facts.Exists || facts.SizeMB != 6.0 {
		t.Fatalf("unexpected facts: %+v", facts)
	}
	if _, ok := dict["ghost"]; ok {
		t.Fatal("dictionary must only contain real tables")
	}
}
