package workload

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/sqlxray/sqlxray/internal/checkpoint"
	"github.com/sqlxray/sqlxray/internal/metrics"
)

// Executor runs a performance_schema query with the pool manager's retry
// policy.
type Executor interface {
	ExecuteWithRetry(ctx context.Context, query string, args []any, scan func(*sql.Rows) error) error
}

// Store is the durable checkpoint for workload analyses.
type Store interface {
	CreateAnalysis(ctx context.Context, analysisID, database string) (*checkpoint.WorkloadJob, error)
	GetAnalysis(ctx context.Context, analysisID string) (*checkpoint.WorkloadJob, error)
	UpdateProgress(ctx context.Context, analysisID, phase string, progress float64, status checkpoint.WorkloadStatus) error
	SaveQueries(ctx context.Context, records []checkpoint.QueryRecord) error
	SaveStats(ctx context.Context, records []checkpoint.StatRecord) error
	MarkPhaseCompleted(ctx context.Context, analysisID, phase string) error
	CompletedPhases(ctx context.Context, analysisID string) ([]string, error)
	MarkCompleted(ctx context.Context, analysisID string, summary map[string]checkpoint.PhaseSummary, recs []checkpoint.Recommendation) error
	MarkCancelled(ctx context.Context, analysisID string) error
	MarkFailed(ctx context.Context, analysisID, msg string) error
	AddPhaseError(ctx context.Context, analysisID, phase, msg string) error
	SlowQueries(ctx context.Context, analysisID string) ([]checkpoint.QueryRecord, error)
	IndexStats(ctx context.Context, analysisID string) ([]checkpoint.StatRecord, error)
}

// Phase is one resumable step of the analysis; Weight is its cumulative
// progress upper bound.
type Phase struct {
	ID          string
	Description string
	Weight      float64
}

// Phases is the fixed, ordered phase list.
var Phases = []Phase{
	{ID: "query_digest", Description: "Analyzing query patterns", Weight: 20},
	{ID: "slow_queries", Description: "Identifying slow queries", Weight: 35},
	{ID: "table_io", Description: "Collecting table I/O stats", Weight: 50},
	{ID: "index_usage", Description: "Analyzing index usage", Weight: 65},
	{ID: "wait_events", Description: "Analyzing wait events", Weight: 80},
	{ID: "recommendations", Description: "Generating recommendations", Weight: 100},
}

// Analyzer is the phase-sequenced workload state machine. Unlike the table
// scanner its unit of resume is a whole phase.
type Analyzer struct {
	exec  Executor
	store Store
	log   *zap.SugaredLogger
}

// New builds an Analyzer.
func New(exec Executor, store Store, log *zap.SugaredLogger) *Analyzer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Analyzer{exec: exec, store: store, log: log}
}

// Run is one prepared analysis with its phase resume frontier.
type Run struct {
	AnalysisID string

	a         *Analyzer
	database  string
	completed map[string]struct{}
}

// Prepare resolves or creates the analysis job. An unknown resume id fails
// synchronously before any phase runs.
func (a *Analyzer) Prepare(ctx context.Context, analysisID, database, resumeID string) (*Run, error) {
	completed := map[string]struct{}{}
	if resumeID != "" {
		phases, err := a.store.CompletedPhases(ctx, resumeID)
		if err != nil {
			return nil, fmt.Errorf("resume analysis %s: %w", resumeID, err)
		}
		for _, p := range phases {
			completed[p] = struct{}{}
		}
		analysisID = resumeID
		a.log.Infow("resuming workload analysis", "analysis_id", analysisID, "completed_phases", len(completed))
	} else {
		if _, err := a.store.CreateAnalysis(ctx, analysisID, database); err != nil {
			return nil, err
		}
		a.log.Infow("starting workload analysis", "analysis_id", analysisID)
	}
	return &Run{AnalysisID: analysisID, a: a, database: database, completed: completed}, nil
}

// Execute walks the phase list in order, skipping already-completed phases.
// A phase's internal failure is recorded and the machine proceeds; phases
// are independent. Cancellation is observed between phases only.
func (r *Run) Execute(ctx context.Context) error {
	a := r.a
	summary := map[string]checkpoint.PhaseSummary{}
	var recs []checkpoint.Recommendation
	cancelled := false

	for _, phase := range Phases {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		if _, done := r.completed[phase.ID]; done {
			a.log.Infow("skipping completed phase", "analysis_id", r.AnalysisID, "phase", phase.ID)
			continue
		}

		// A started phase runs to completion; a cancel request must not
		// abort its queries mid-flight.
		pctx := context.WithoutCancel(ctx)
		if err := a.store.UpdateProgress(pctx, r.AnalysisID, phase.Description, phase.Weight-15, checkpoint.WorkloadAnalyzing); err != nil {
			return err
		}

		result, phaseRecs, err := r.executePhase(pctx, phase.ID)
		if err != nil {
			a.log.Errorw("phase failed", "analysis_id", r.AnalysisID, "phase", phase.ID, "err", err)
			_ = a.store.AddPhaseError(pctx, r.AnalysisID, phase.ID, err.Error())
			_ = a.store.UpdateProgress(pctx, r.AnalysisID, fmt.Sprintf("Error in %s", phase.ID), phase.Weight, "")
			summary[phase.ID] = checkpoint.PhaseSummary{Error: err.Error()}
			metrics.WorkloadPhases.WithLabelValues(phase.ID, "error").Inc()
			continue
		}
		summary[phase.ID] = result
		recs = append(recs, phaseRecs...)

		if err := a.store.MarkPhaseCompleted(pctx, r.AnalysisID, phase.ID); err != nil {
			return err
		}
		if err := a.store.UpdateProgress(pctx, r.AnalysisID, phase.Description, phase.Weight, ""); err != nil {
			return err
		}
		metrics.WorkloadPhases.WithLabelValues(phase.ID, "ok").Inc()
		a.log.Infow("phase completed", "analysis_id", r.AnalysisID, "phase", phase.ID)
	}

	if cancelled {
		if err := a.store.MarkCancelled(context.WithoutCancel(ctx), r.AnalysisID); err != nil {
			return err
		}
		return ctx.Err()
	}
	return a.store.MarkCompleted(ctx, r.AnalysisID, summary, recs)
}

func (r *Run) executePhase(ctx context.Context, phaseID string) (checkpoint.PhaseSummary, []checkpoint.Recommendation, error) {
	switch phaseID {
	case "query_digest":
		s, err := r.collectQueryDigest(ctx)
		return s, nil, err
	case "slow_queries":
		s, err := r.collectSlowQueries(ctx)
		return s, nil, err
	case "table_io":
		s, err := r.collectTableIO(ctx)
		return s, nil, err
	case "index_usage":
		s, err := r.collectIndexUsage(ctx)
		return s, nil, err
	case "wait_events":
		s, err := r.collectWaitEvents(ctx)
		return s, nil, err
	case "recommendations":
		return r.buildRecommendations(ctx)
	}
	return checkpoint.PhaseSummary{}, nil, fmt.Errorf("unknown phase %q", phaseID)
}

const queryDigestQuery = `
SELECT
    DIGEST_TEXT,
    COUNT_STAR,
    ROUND(SUM_TIMER_WAIT / 1000000000000, 4),
    ROUND(AVG_TIMER_WAIT / 1000000000000, 6),
    ROUND(MAX_TIMER_WAIT / 1000000000000, 4),
    SUM_ROWS_EXAMINED,
    SUM_ROWS_SENT,
    SUM_NO_INDEX_USED
FROM performance_schema.events_statements_summary_by_digest
WHERE SCHEMA_NAME = ? OR SCHEMA_NAME IS NULL
ORDER BY SUM_TIMER_WAIT DESC
LIMIT 100`

func (r *Run) collectQueryDigest(ctx context.Context) (checkpoint.PhaseSummary, error) {
	records, err := r.scanQueryRecords(ctx, queryDigestQuery, "digest")
	if err != nil {
		return checkpoint.PhaseSummary{}, err
	}
	if err := r.a.store.SaveQueries(ctx, records); err != nil {
		return checkpoint.PhaseSummary{}, err
	}
	return checkpoint.PhaseSummary{
		Records: len(records),
		Note:    fmt.Sprintf("%d query patterns captured", len(records)),
	}, nil
}

const slowQueriesQuery = `
SELECT
    DIGEST_TEXT,
    COUNT_STAR,
    ROUND(SUM_TIMER_WAIT / 1000000000000, 4),
    ROUND(AVG_TIMER_WAIT / 1000000000000, 6),
    ROUND(MAX_TIMER_WAIT / 1000000000000, 4),
    SUM_ROWS_EXAMINED,
    SUM_ROWS_SENT,
    SUM_NO_INDEX_USED
FROM performance_schema.events_statements_summary_by_digest
WHERE (SCHEMA_NAME = ? OR SCHEMA_NAME IS NULL)
    AND AVG_TIMER_WAIT > 1000000000000
ORDER BY AVG_TIMER_WAIT DESC
LIMIT 50`

func (r *Run) collectSlowQueries(ctx context.Context) (checkpoint.PhaseSummary, error) {
	records, err := r.scanQueryRecords(ctx, slowQueriesQuery, "slow")
	if err != nil {
		return checkpoint.PhaseSummary{}, err
	}
	if err := r.a.store.SaveQueries(ctx, records); err != nil {
		return checkpoint.PhaseSummary{}, err
	}
	return checkpoint.PhaseSummary{
		Records: len(records),
		Note:    fmt.Sprintf("%d slow query patterns", len(records)),
	}, nil
}

func (r *Run) scanQueryRecords(ctx context.Context, query, queryType string) ([]checkpoint.QueryRecord, error) {
	var records []checkpoint.QueryRecord
	err := r.a.exec.ExecuteWithRetry(ctx, query, []any{r.database}, func(rows *sql.Rows) error {
		for rows.Next() {
			var (
				rec          checkpoint.QueryRecord
				pattern      sql.NullString
				total        sql.NullFloat64
				avg          sql.NullFloat64
				max          sql.NullFloat64
				rowsExamined sql.NullInt64
				rowsSent     sql.NullInt64
				noIndex      sql.NullInt64
			)
			if err := rows.Scan(&pattern, &rec.ExecCount, &total, &avg, &max, &rowsExamined, &rowsSent, &noIndex); err != nil {
				return err
			}
			rec.AnalysisID = r.AnalysisID
			rec.QueryType = queryType
			rec.Pattern = pattern.String
			rec.TotalTimeSec = total.Float64
			rec.AvgTimeSec = avg.Float64
			rec.MaxTimeSec = max.Float64
			rec.RowsExamined = rowsExamined.Int64
			rec.RowsSent = rowsSent.Int64
			rec.NoIndexUsed = noIndex.Int64
			if rec.ExecCount > 0 {
				rec.AvgRowsExamined = float64(rec.RowsExamined) / float64(rec.ExecCount)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

const tableIOQuery = `
SELECT
    OBJECT_NAME,
    COUNT_READ,
    COUNT_WRITE,
    COUNT_FETCH,
    COUNT_INSERT,
    COUNT_UPDATE,
    COUNT_DELETE,
    ROUND(SUM_TIMER_READ / 1000000000000, 4),
    ROUND(SUM_TIMER_WRITE / 1000000000000, 4)
FROM performance_schema.table_io_waits_summary_by_table
WHERE OBJECT_SCHEMA = ?
ORDER BY SUM_TIMER_WAIT DESC
LIMIT 100`

func (r *Run) collectTableIO(ctx context.Context) (checkpoint.PhaseSummary, error) {
	var records []checkpoint.StatRecord
	err := r.a.exec.ExecuteWithRetry(ctx, tableIOQuery, []any{r.database}, func(rows *sql.Rows) error {
		for rows.Next() {
			var (
				rec       checkpoint.StatRecord
				readTime  sql.NullFloat64
				writeTime sql.NullFloat64
			)
			if err := rows.Scan(&rec.TableName, &rec.ReadCount, &rec.WriteCount, &rec.FetchCount,
				&rec.InsertCount, &rec.UpdateCount, &rec.DeleteCount, &readTime, &writeTime); err != nil {
				return err
			}
			rec.AnalysisID = r.AnalysisID
			rec.StatType = "table_io"
			rec.Identifier = rec.TableName
			rec.ReadTimeSec = readTime.Float64
			rec.WriteTimeSec = writeTime.Float64
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return checkpoint.PhaseSummary{}, err
	}
	if err := r.a.store.SaveStats(ctx, records); err != nil {
		return checkpoint.PhaseSummary{}, err
	}
	return checkpoint.PhaseSummary{
		Records: len(records),
		Note:    fmt.Sprintf("%d tables with I/O activity", len(records)),
	}, nil
}

const indexUsageQuery = `
SELECT
    OBJECT_NAME,
    INDEX_NAME,
    COUNT_READ,
    COUNT_WRITE,
    COUNT_FETCH,
    ROUND(SUM_TIMER_READ / 1000000000000, 4)
FROM performance_schema.table_io_waits_summary_by_index_usage
WHERE OBJECT_SCHEMA = ? AND INDEX_NAME IS NOT NULL
ORDER BY COUNT_READ DESC
LIMIT 200`

func (r *Run) collectIndexUsage(ctx context.Context) (checkpoint.PhaseSummary, error) {
	var (
		records []checkpoint.StatRecord
		unused  int
	)
	err := r.a.exec.ExecuteWithRetry(ctx, indexUsageQuery, []any{r.database}, func(rows *sql.Rows) error {
		for rows.Next() {
			var (
				rec      checkpoint.StatRecord
				readTime sql.NullFloat64
			)
			if err := rows.Scan(&rec.TableName, &rec.IndexName, &rec.ReadCount, &rec.WriteCount, &rec.FetchCount, &readTime); err != nil {
				return err
			}
			rec.AnalysisID = r.AnalysisID
			rec.StatType = "index_usage"
			rec.Identifier = rec.TableName + "." + rec.IndexName
			rec.ReadTimeSec = readTime.Float64
			if rec.ReadCount == 0 && rec.IndexName != "PRIMARY" {
				unused++
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return checkpoint.PhaseSummary{}, err
	}
	if err := r.a.store.SaveStats(ctx, records); err != nil {
		return checkpoint.PhaseSummary{}, err
	}
	return checkpoint.PhaseSummary{
		Records: len(records),
		Note:    fmt.Sprintf("%d unused indexes", unused),
	}, nil
}

const waitEventsQuery = `
SELECT
    EVENT_NAME,
    COUNT_STAR,
    ROUND(SUM_TIMER_WAIT / 1000000000000, 4),
    ROUND(AVG_TIMER_WAIT / 1000000000000, 6)
FROM performance_schema.events_waits_summary_global_by_event_name
WHERE COUNT_STAR > 0
ORDER BY SUM_TIMER_WAIT DESC
LIMIT 50`

func (r *Run) collectWaitEvents(ctx context.Context) (checkpoint.PhaseSummary, error) {
	var records []checkpoint.StatRecord
	err := r.a.exec.ExecuteWithRetry(ctx, waitEventsQuery, nil, func(rows *sql.Rows) error {
		for rows.Next() {
			var (
				rec     checkpoint.StatRecord
				total   sql.NullFloat64
				avgTime sql.NullFloat64
			)
			if err := rows.Scan(&rec.EventName, &rec.WaitCount, &total, &avgTime); err != nil {
				return err
			}
			rec.AnalysisID = r.AnalysisID
			rec.StatType = "wait_events"
			rec.Identifier = rec.EventName
			rec.TotalTimeSec = total.Float64
			rec.AvgTimeSec = avgTime.Float64
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return checkpoint.PhaseSummary{}, err
	}
	if err := r.a.store.SaveStats(ctx, records); err != nil {
		return checkpoint.PhaseSummary{}, err
	}
	return checkpoint.PhaseSummary{
		Records: len(records),
		Note:    fmt.Sprintf("%d wait events observed", len(records)),
	}, nil
}

// buildRecommendations derives advisories from the records persisted by the
// earlier phases, not from live state, so a resumed run sees exactly what
// was durably collected.
func (r *Run) buildRecommendations(ctx context.Context) (checkpoint.PhaseSummary, []checkpoint.Recommendation, error) {
	var recs []checkpoint.Recommendation

	slow, err := r.a.store.SlowQueries(ctx, r.AnalysisID)
	if err != nil {
		return checkpoint.PhaseSummary{}, nil, err
	}
	if len(slow) > 0 {
		recs = append(recs, checkpoint.Recommendation{
			Type:     "slow_queries",
			Priority: "high",
			Message:  fmt.Sprintf("Found %d slow query patterns", len(slow)),
			Action:   "Review and optimize these queries or add appropriate indexes",
		})
	}

	stats, err := r.a.store.IndexStats(ctx, r.AnalysisID)
	if err != nil {
		return checkpoint.PhaseSummary{}, nil, err
	}
	var unused []string
	for _, s := range stats {
		if s.ReadCount == 0 && s.IndexName != "PRIMARY" {
			unused = append(unused, s.TableName+"."+s.IndexName)
		}
	}
	if len(unused) > 0 {
		listed := unused
		if len(listed) > 10 {
			listed = listed[:10]
		}
		recs = append(recs, checkpoint.Recommendation{
			Type:     "unused_indexes",
			Priority: "medium",
			Message:  fmt.Sprintf("Found %d unused indexes", len(unused)),
			Action:   "Consider removing unused indexes to improve write performance",
			Indexes:  listed,
		})
	}

	return checkpoint.PhaseSummary{
		Records: len(recs),
		Note:    fmt.Sprintf("%d recommendations", len(recs)),
	}, recs, nil
}
