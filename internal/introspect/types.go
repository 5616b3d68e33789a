package introspect

import "time"

// TableInfo is one base table as reported by information_schema.TABLES,
// ordered by on-disk size when listed.
type TableInfo struct {
	Name          string     `bson:"table_name" json:"table_name"`
	Engine        string     `bson:"engine" json:"engine"`
	RowCount      int64      `bson:"row_count" json:"row_count"`
	DataMB        float64    `bson:"data_mb" json:"data_mb"`
	IndexMB       float64    `bson:"index_mb" json:"index_mb"`
	TotalMB       float64    `bson:"total_mb" json:"total_mb"`
	AutoIncrement *int64     `bson:"auto_increment,omitempty" json:"auto_increment,omitempty"`
	CreateTime    *time.Time `bson:"create_time,omitempty" json:"create_time,omitempty"`
	UpdateTime    *time.Time `bson:"update_time,omitempty" json:"update_time,omitempty"`
	Collation     string     `bson:"collation" json:"collation"`
}

// Column is one row of information_schema.COLUMNS.
type Column struct {
	Name       string  `bson:"column_name" json:"column_name"`
	Position   int     `bson:"position" json:"position"`
	Default    *string `bson:"default_value,omitempty" json:"default_value,omitempty"`
	Nullable   bool    `bson:"is_nullable" json:"is_nullable"`
	DataType   string  `bson:"data_type" json:"data_type"`
	ColumnType string  `bson:"column_type" json:"column_type"`
	Key        string  `bson:"column_key" json:"column_key"`
	Extra      string  `bson:"extra" json:"extra"`
	Comment    string  `bson:"comment" json:"comment"`
}

// IndexColumn is one column within an index, in sequence order.
type IndexColumn struct {
	Name    string `bson:"name" json:"name"`
	Seq     int    `bson:"seq" json:"seq"`
	SubPart *int64 `bson:"sub_part,omitempty" json:"sub_part,omitempty"`
}

// Index groups the per-column statistics rows of one index.
type Index struct {
	Name        string        `bson:"name" json:"name"`
	Unique      bool          `bson:"unique" json:"unique"`
	Type        string        `bson:"type" json:"type"`
	Cardinality int64         `bson:"cardinality" json:"cardinality"`
	Columns     []IndexColumn `bson:"columns" json:"columns"`
}

// Partition is one named partition of a table; unpartitioned tables have
// none.
type Partition struct {
	Name        string `bson:"partition_name" json:"partition_name"`
	Position    int    `bson:"position" json:"position"`
	Method      string `bson:"method" json:"method"`
	Expression  string `bson:"expression" json:"expression"`
	Description string `bson:"description" json:"description"`
	Rows        int64  `bson:"rows" json:"rows"`
	DataLength  int64  `bson:"data_length" json:"data_length"`
}

// ForeignKey is one referencing column joined with its referential rule.
type ForeignKey struct {
	ConstraintName   string `bson:"constraint_name" json:"constraint_name"`
	Column           string `bson:"column_name" json:"column_name"`
	ReferencedTable  string `bson:"referenced_table" json:"referenced_table"`
	ReferencedColumn string `bson:"referenced_column" json:"referenced_column"`
	OnUpdate         string `bson:"on_update" json:"on_update"`
	OnDelete         string `bson:"on_delete" json:"on_delete"`
}

// TableFacts is the dictionary entry collaborators use to check that a table
// name referenced elsewhere actually exists.
type TableFacts struct {
	Exists     bool       `json:"exists"`
	RowCount   int64      `json:"row_count"`
	SizeMB     float64    `json:"size_mb"`
	Engine     string     `json:"engine"`
	CreateTime *time.Time `json:"create_time,omitempty"`
}
