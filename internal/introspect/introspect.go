package introspect

import (
	"context"
	"database/sql"
)

// Executor runs a catalog query with the pool manager's retry policy and
// hands the rows to scan.
type Executor interface {
	ExecuteWithRetry(ctx context.Context, query string, args []any, scan func(*sql.Rows) error) error
}

// Introspector reads structured facts from the target's system catalog. It
// never guesses identifiers: the catalog is the single source of truth. It
// holds no state and is safe for concurrent use.
type Introspector struct {
	exec Executor
}

// New returns an Introspector executing through exec.
func New(exec Executor) *Introspector {
	return &Introspector{exec: exec}
}

const listTablesQuery = `
SELECT
    TABLE_NAME,
    ENGINE,
    TABLE_ROWS,
    ROUND(DATA_LENGTH / 1024 / 1024, 2),
    ROUND(INDEX_LENGTH / 1024 / 1024, 2),
    ROUND((DATA_LENGTH + INDEX_LENGTH) / 1024 / 1024, 2),
    AUTO_INCREMENT,
    CREATE_TIME,
    UPDATE_TIME,
    TABLE_COLLATION
FROM information_schema.TABLES
WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
ORDER BY DATA_LENGTH DESC`

// ListTables returns the base tables of database, largest first.
func (i *Introspector) ListTables(ctx context.Context, database string) ([]TableInfo, error) {
	var tables []TableInfo
	err := i.exec.ExecuteWithRetry(ctx, listTablesQuery, []any{database}, func(rows *sql.Rows) error {
		for rows.Next() {
			var (
				t         TableInfo
				engine    sql.NullString
				rowCount  sql.NullInt64
				dataMB    sql.NullFloat64
				indexMB   sql.NullFloat64
				totalMB   sql.NullFloat64
				autoInc   sql.NullInt64
				created   sql.NullTime
				updated   sql.NullTime
				collation sql.NullString
			)
			if err := rows.Scan(&t.Name, &engine, &rowCount, &dataMB, &indexMB, &totalMB, &autoInc, &created, &updated, &collation); err != nil {
				return err
			}
			t.Engine = engine.String
			t.RowCount = rowCount.Int64
			t.DataMB = dataMB.Float64
			t.IndexMB = indexMB.Float64
			t.TotalMB = totalMB.Float64
			if autoInc.Valid {
				v := autoInc.Int64
				t.AutoIncrement = &v
			}
			if created.Valid {
				v := created.Time
				t.CreateTime = &v
			}
			if updated.Valid {
				v := updated.Time
				t.UpdateTime = &v
			}
			t.Collation = collation.String
			tables = append(tables, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tables, nil
}

const columnsQuery = `
SELECT
    COLUMN_NAME,
    ORDINAL_POSITION,
    COLUMN_DEFAULT,
    IS_NULLABLE,
    DATA_TYPE,
    COLUMN_TYPE,
    COLUMN_KEY,
    EXTRA,
    COLUMN_COMMENT
FROM information_schema.COLUMNS
WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
ORDER BY ORDINAL_POSITION`

// Columns returns the columns of one table in ordinal order.
func (i *Introspector) Columns(ctx context.Context, database, table string) ([]Column, error) {
	var cols []Column
	err := i.exec.ExecuteWithRetry(ctx, columnsQuery, []any{database, table}, func(rows *sql.Rows) error {
		for rows.Next() {
			var (
				c        Column
				def      sql.NullString
				nullable string
			)
			if err := rows.Scan(&c.Name, &c.Position, &def, &nullable, &c.DataType, &c.ColumnType, &c.Key, &c.Extra, &c.Comment); err != nil {
				return err
			}
			if def.Valid {
				v := def.String
				c.Default = &v
			}
			c.Nullable = nullable == "YES"
			cols = append(cols, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cols, nil
}

const indexesQuery = `
SELECT
    INDEX_NAME,
    NON_UNIQUE,
    SEQ_IN_INDEX,
    COLUMN_NAME,
    CARDINALITY,
    SUB_PART,
    INDEX_TYPE
FROM information_schema.STATISTICS
WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
ORDER BY INDEX_NAME, SEQ_IN_INDEX`

// Indexes groups the raw per-column statistics rows into one record per
// index name, preserving the catalog's ordering.
func (i *Introspector) Indexes(ctx context.Context, database, table string) ([]Index, error) {
	var (
		order   []string
		grouped = map[string]*Index{}
	)
	err := i.exec.ExecuteWithRetry(ctx, indexesQuery, []any{database, table}, func(rows *sql.Rows) error {
		for rows.Next() {
			var (
				name        string
				nonUnique   int
				seq         int
				column      string
				cardinality sql.NullInt64
				subPart     sql.NullInt64
				indexType   string
			)
			if err := rows.Scan(&name, &nonUnique, &seq, &column, &cardinality, &subPart, &indexType); err != nil {
				return err
			}
			idx, ok := grouped[name]
			if !ok {
				idx = &Index{
					Name:        name,
					Unique:      nonUnique == 0,
					Type:        indexType,
					Cardinality: cardinality.Int64,
				}
				grouped[name] = idx
				order = append(order, name)
			}
			col := IndexColumn{Name: column, Seq: seq}
			if subPart.Valid {
				v := subPart.Int64
				col.SubPart = &v
			}
			idx.Columns = append(idx.Columns, col)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	indexes := make([]Index, 0, len(order))
	for _, name := range order {
		indexes = append(indexes, *grouped[name])
	}
	return indexes, nil
}

const partitionsQuery = `
SELECT
    PARTITION_NAME,
    PARTITION_ORDINAL_POSITION,
    PARTITION_METHOD,
    PARTITION_EXPRESSION,
    PARTITION_DESCRIPTION,
    TABLE_ROWS,
    DATA_LENGTH
FROM information_schema.PARTITIONS
WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND PARTITION_NAME IS NOT NULL`

// Partitions returns the named partitions of one table; empty when the table
// is unpartitioned.
func (i *Introspector) Partitions(ctx context.Context, database, table string) ([]Partition, error) {
	var parts []Partition
	err := i.exec.ExecuteWithRetry(ctx, partitionsQuery, []any{database, table}, func(rows *sql.Rows) error {
		for rows.Next() {
			var (
				p          Partition
				method     sql.NullString
				expression sql.NullString
				descr      sql.NullString
				tableRows  sql.NullInt64
				dataLength sql.NullInt64
			)
			if err := rows.Scan(&p.Name, &p.Position, &method, &expression, &descr, &tableRows, &dataLength); err != nil {
				return err
			}
			p.Method = method.String
			p.Expression = expression.String
			p.Description = descr.String
			p.Rows = tableRows.Int64
			p.DataLength = dataLength.Int64
			parts = append(parts, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return parts, nil
}

const foreignKeysQuery = `
SELECT
    kcu.CONSTRAINT_NAME,
    kcu.COLUMN_NAME,
    kcu.REFERENCED_TABLE_NAME,
    kcu.REFERENCED_COLUMN_NAME,
    rc.UPDATE_RULE,
    rc.DELETE_RULE
FROM information_schema.KEY_COLUMN_USAGE kcu
JOIN information_schema.REFERENTIAL_CONSTRAINTS rc
    ON kcu.CONSTRAINT_NAME = rc.CONSTRAINT_NAME
    AND kcu.TABLE_SCHEMA = rc.CONSTRAINT_SCHEMA
WHERE kcu.TABLE_SCHEMA = ? AND kcu.TABLE_NAME = ?
    AND kcu.REFERENCED_TABLE_NAME IS NOT NULL`

// ForeignKeys returns the foreign keys declared on one table.
func (i *Introspector) ForeignKeys(ctx context.Context, database, table string) ([]ForeignKey, error) {
	var fks []ForeignKey
	err := i.exec.ExecuteWithRetry(ctx, foreignKeysQuery, []any{database, table}, func(rows *sql.Rows) error {
		for rows.Next() {
			var fk ForeignKey
			if err := rows.Scan(&fk.ConstraintName, &fk.Column, &fk.ReferencedTable, &fk.ReferencedColumn, &fk.OnUpdate, &fk.OnDelete); err != nil {
				return err
			}
			fks = append(fks, fk)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fks, nil
}

// TableDictionary maps every real table name to its facts. Collaborators use
// it to validate names before composing anything that refers to them.
func (i *Introspector) TableDictionary(ctx context.Context, database string) (map[string]TableFacts, error) {
	tables, err := i.ListTables(ctx, database)
	if err != nil {
		return nil, err
	}
	dict := make(map[string]TableFacts, len(tables))
	for _, t := range tables {
		dict[t.Name] = TableFacts{
			Exists:     true,
			RowCount:   t.RowCount,
			SizeMB:     t.TotalMB,
			Engine:     t.Engine,
			CreateTime: t.CreateTime,
		}
	}
	return dict, nil
}
