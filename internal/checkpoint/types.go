package checkpoint

import (
	"errors"
	"math"
	"time"

	"github.com/sqlxray/sqlxray/internal/introspect"
)

// ErrNotFound is returned when a job id has no document.
var ErrNotFound = errors.New("checkpoint: job not found")

// ScanStatus enumerates scan job states. Paused is a declared value with no
// inbound transition; cancellation lands in StatusCancelled.
type ScanStatus string

const (
	ScanPending   ScanStatus = "pending"
	ScanRunning   ScanStatus = "running"
	ScanPaused    ScanStatus = "paused"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
	ScanCancelled ScanStatus = "cancelled"
)

// ScanType selects the breadth of a scan.
type ScanType string

const (
	ScanTypeFull         ScanType = "full"
	ScanTypeIntelligence ScanType = "intelligence"
	ScanTypeWorkload     ScanType = "workload"
)

// JobError is one entry of a job's ordered error log.
type JobError struct {
	Table     string    `bson:"table,omitempty" json:"table,omitempty"`
	Message   string    `bson:"message" json:"message"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// ScanStats aggregates what a scan has seen so far. Updated with atomic
// increments so late or concurrent writes never clobber prior ones.
type ScanStats struct {
	TotalSizeMB  float64 `bson:"total_size_mb" json:"total_size_mb"`
	TotalRows    int64   `bson:"total_rows" json:"total_rows"`
	TotalIndexes int64   `bson:"total_indexes" json:"total_indexes"`
	IssuesFound  int64   `bson:"issues_found" json:"issues_found"`
}

// StatsDelta carries the per-table increments applied to ScanStats.
type StatsDelta struct {
	SizeMB  float64
	Rows    int64
	Indexes int64
	Issues  int64
}

// ScanJob is the durable record of one scan.
type ScanJob struct {
	ScanID             string     `bson:"scan_id" json:"scan_id"`
	ScanType           ScanType   `bson:"scan_type" json:"scan_type"`
	Database           string     `bson:"database" json:"database"`
	Status             ScanStatus `bson:"status" json:"status"`
	TotalTables        int        `bson:"total_tables" json:"total_tables"`
	ProcessedTables    int        `bson:"processed_tables" json:"processed_tables"`
	CurrentTable       string     `bson:"current_table,omitempty" json:"current_table,omitempty"`
	ProgressPercentage float64    `bson:"progress_percentage" json:"progress_percentage"`
	StartedAt          time.Time  `bson:"started_at" json:"started_at"`
	UpdatedAt          time.Time  `bson:"updated_at" json:"updated_at"`
	CompletedAt        *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	LastProcessedTable string     `bson:"last_processed_table,omitempty" json:"last_processed_table,omitempty"`
	Errors             []JobError `bson:"errors" json:"errors"`
	ConnectionHost     string     `bson:"connection_host,omitempty" json:"connection_host,omitempty"`
	Stats              ScanStats  `bson:"stats" json:"stats"`
}

// IssueSeverity grades a detected issue.
type IssueSeverity string

const (
	SeverityLow      IssueSeverity = "low"
	SeverityMedium   IssueSeverity = "medium"
	SeverityHigh     IssueSeverity = "high"
	SeverityCritical IssueSeverity = "critical"
)

// IssueType is the closed set of structural findings.
type IssueType string

const (
	IssueLargeTableNoPartition IssueType = "large_table_no_partition"
	IssueNoSecondaryIndexes    IssueType = "no_secondary_indexes"
	IssueFKWithoutIndex        IssueType = "fk_without_index"
	IssueRedundantIndex        IssueType = "redundant_index"
)

// Issue is a derived finding about one table. It is recomputed on every
// analysis and persisted only inside a TableResult.
type Issue struct {
	Type           IssueType     `bson:"type" json:"type"`
	Severity       IssueSeverity `bson:"severity" json:"severity"`
	Message        string        `bson:"message" json:"message"`
	Recommendation string        `bson:"recommendation,omitempty" json:"recommendation,omitempty"`
}

// TableResult is the analysis of one table within one scan. There is at most
// one per (scan id, table name): writes are upserts, so replays converge.
type TableResult struct {
	ScanID         string                  `bson:"scan_id" json:"scan_id"`
	TableName      string                  `bson:"table_name" json:"table_name"`
	SchemaName     string                  `bson:"schema_name" json:"schema_name"`
	SizeMB         float64                 `bson:"size_mb" json:"size_mb"`
	RowCount       int64                   `bson:"row_count" json:"row_count"`
	DataLength     int64                   `bson:"data_length" json:"data_length"`
	IndexLength    int64                   `bson:"index_length" json:"index_length"`
	AutoIncrement  *int64                  `bson:"auto_increment,omitempty" json:"auto_increment,omitempty"`
	CreateTime     *time.Time              `bson:"create_time,omitempty" json:"create_time,omitempty"`
	UpdateTime     *time.Time              `bson:"update_time,omitempty" json:"update_time,omitempty"`
	Columns        []introspect.Column     `bson:"columns" json:"columns"`
	Indexes        []introspect.Index      `bson:"indexes" json:"indexes"`
	Partitions     []introspect.Partition  `bson:"partitions" json:"partitions"`
	ForeignKeys    []introspect.ForeignKey `bson:"foreign_keys" json:"foreign_keys"`
	Issues         []Issue                 `bson:"issues" json:"issues"`
	AnalyzedAt     time.Time               `bson:"analyzed_at" json:"analyzed_at"`
	AnalysisTimeMS int64                   `bson:"analysis_time_ms" json:"analysis_time_ms"`
}

// WorkloadStatus enumerates workload analysis states.
type WorkloadStatus string

const (
	WorkloadPending    WorkloadStatus = "pending"
	WorkloadCollecting WorkloadStatus = "collecting"
	WorkloadAnalyzing  WorkloadStatus = "analyzing"
	WorkloadCompleted  WorkloadStatus = "completed"
	WorkloadFailed     WorkloadStatus = "failed"
	WorkloadCancelled  WorkloadStatus = "cancelled"
)

// PhaseSummary condenses one phase's outcome into the job document.
type PhaseSummary struct {
	Records int    `bson:"records" json:"records"`
	Note    string `bson:"note,omitempty" json:"note,omitempty"`
	Error   string `bson:"error,omitempty" json:"error,omitempty"`
}

// Recommendation is an advisory derived from persisted workload records.
type Recommendation struct {
	Type     string   `bson:"type" json:"type"`
	Priority string   `bson:"priority" json:"priority"`
	Message  string   `bson:"message" json:"message"`
	Action   string   `bson:"action" json:"action"`
	Indexes  []string `bson:"indexes,omitempty" json:"indexes,omitempty"`
}

// WorkloadJob is the durable record of one workload analysis. Phases are
// only ever added to PhasesCompleted, never removed.
type WorkloadJob struct {
	AnalysisID         string                  `bson:"analysis_id" json:"analysis_id"`
	Database           string                  `bson:"database" json:"database"`
	Status             WorkloadStatus          `bson:"status" json:"status"`
	StartedAt          time.Time               `bson:"started_at" json:"started_at"`
	UpdatedAt          time.Time               `bson:"updated_at" json:"updated_at"`
	CompletedAt        *time.Time              `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	ProgressPercentage float64                 `bson:"progress_percentage" json:"progress_percentage"`
	CurrentPhase       string                  `bson:"current_phase" json:"current_phase"`
	PhasesCompleted    []string                `bson:"phases_completed" json:"phases_completed"`
	Errors             []JobError              `bson:"errors" json:"errors"`
	Summary            map[string]PhaseSummary `bson:"summary" json:"summary"`
	Recommendations    []Recommendation        `bson:"recommendations,omitempty" json:"recommendations,omitempty"`
}

// QueryRecord is one captured statement digest, appended per analysis.
type QueryRecord struct {
	AnalysisID      string    `bson:"analysis_id" json:"analysis_id"`
	QueryType       string    `bson:"query_type" json:"query_type"`
	Pattern         string    `bson:"query_pattern" json:"query_pattern"`
	ExecCount       int64     `bson:"execution_count" json:"execution_count"`
	TotalTimeSec    float64   `bson:"total_time_sec" json:"total_time_sec"`
	AvgTimeSec      float64   `bson:"avg_time_sec" json:"avg_time_sec"`
	MaxTimeSec      float64   `bson:"max_time_sec" json:"max_time_sec"`
	RowsExamined    int64     `bson:"rows_examined" json:"rows_examined"`
	RowsSent        int64     `bson:"rows_sent" json:"rows_sent"`
	NoIndexUsed     int64     `bson:"no_index_used" json:"no_index_used"`
	AvgRowsExamined float64   `bson:"avg_rows_examined" json:"avg_rows_examined"`
	SavedAt         time.Time `bson:"saved_at" json:"saved_at"`
}

// StatRecord is one runtime statistic, upserted by identifier so a phase
// rerun converges to the same documents.
type StatRecord struct {
	AnalysisID   string    `bson:"analysis_id" json:"analysis_id"`
	StatType     string    `bson:"stat_type" json:"stat_type"`
	Identifier   string    `bson:"identifier" json:"identifier"`
	TableName    string    `bson:"table_name,omitempty" json:"table_name,omitempty"`
	IndexName    string    `bson:"index_name,omitempty" json:"index_name,omitempty"`
	EventName    string    `bson:"event_name,omitempty" json:"event_name,omitempty"`
	ReadCount    int64     `bson:"read_count" json:"read_count"`
	WriteCount   int64     `bson:"write_count" json:"write_count"`
	FetchCount   int64     `bson:"fetch_count" json:"fetch_count"`
	InsertCount  int64     `bson:"insert_count" json:"insert_count"`
	UpdateCount  int64     `bson:"update_count" json:"update_count"`
	DeleteCount  int64     `bson:"delete_count" json:"delete_count"`
	WaitCount    int64     `bson:"wait_count" json:"wait_count"`
	ReadTimeSec  float64   `bson:"read_time_sec" json:"read_time_sec"`
	WriteTimeSec float64   `bson:"write_time_sec" json:"write_time_sec"`
	TotalTimeSec float64   `bson:"total_time_sec" json:"total_time_sec"`
	AvgTimeSec   float64   `bson:"avg_time_sec" json:"avg_time_sec"`
	SavedAt      time.Time `bson:"saved_at" json:"saved_at"`
}

// ScanEvent is one entry of the append-only scan event log.
type ScanEvent struct {
	ScanID    string         `bson:"scan_id" json:"scan_id"`
	EventType string         `bson:"event_type" json:"event_type"`
	Message   string         `bson:"message" json:"message"`
	Data      map[string]any `bson:"data" json:"data"`
	Timestamp time.Time      `bson:"timestamp" json:"timestamp"`
}

// Percentage returns processed/total as a percentage rounded to two
// decimals, or 0 when total is zero.
func Percentage(processed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(processed)/float64(total)*10000) / 100
}
