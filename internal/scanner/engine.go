package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sqlxray/sqlxray/internal/checkpoint"
	"github.com/sqlxray/sqlxray/internal/introspect"
	"github.com/sqlxray/sqlxray/internal/metrics"
)

// ErrNoTables is returned when the target database has no base tables.
var ErrNoTables = errors.New("scanner: no tables found in database")

// Introspector supplies catalog facts for the scan loop.
type Introspector interface {
	ListTables(ctx context.Context, database string) ([]introspect.TableInfo, error)
	Columns(ctx context.Context, database, table string) ([]introspect.Column, error)
	Indexes(ctx context.Context, database, table string) ([]introspect.Index, error)
	Partitions(ctx context.Context, database, table string) ([]introspect.Partition, error)
	ForeignKeys(ctx context.Context, database, table string) ([]introspect.ForeignKey, error)
}

// Store is the durable checkpoint the engine writes through after every unit
// of work.
type Store interface {
	CreateScan(ctx context.Context, scanID string, scanType checkpoint.ScanType, database, host string, totalTables int) (*checkpoint.ScanJob, error)
	GetScan(ctx context.Context, scanID string) (*checkpoint.ScanJob, error)
	UpdateProgress(ctx context.Context, scanID, currentTable string, processed, total int, delta *checkpoint.StatsDelta) error
	SaveTableResult(ctx context.Context, res checkpoint.TableResult) error
	ProcessedTables(ctx context.Context, scanID string) (map[string]struct{}, error)
	MarkCompleted(ctx context.Context, scanID string) error
	MarkCancelled(ctx context.Context, scanID string) error
	MarkFailed(ctx context.Context, scanID, msg string) error
	AddTableError(ctx context.Context, scanID, table, msg string) error
	LogEvent(ctx context.Context, scanID, eventType, message string, data map[string]any) error
}

// Options tune the scan loop. Zero values fall back to the defaults.
type Options struct {
	BatchSize    int
	TableTimeout time.Duration
	BatchPause   time.Duration
}

const (
	defaultBatchSize    = 10
	defaultTableTimeout = 120 * time.Second
	defaultBatchPause   = 100 * time.Millisecond
)

func (o Options) normalized() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.TableTimeout <= 0 {
		o.TableTimeout = defaultTableTimeout
	}
	if o.BatchPause <= 0 {
		o.BatchPause = defaultBatchPause
	}
	return o
}

// Engine drives table-by-table analysis of one target database, persisting
// after every unit so a crash or cancellation can resume exactly where it
// stopped.
type Engine struct {
	intro Introspector
	store Store
	log   *zap.SugaredLogger
	opts  Options
	host  string
}

// New builds an Engine. host is recorded on new jobs for observability only.
func New(intro Introspector, store Store, log *zap.SugaredLogger, host string, opts Options) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{intro: intro, store: store, log: log, opts: opts.normalized(), host: host}
}

// Run is one prepared scan: the job exists, the table listing is fresh and
// the resume frontier is computed. Execute drives it to a terminal status.
type Run struct {
	ScanID string

	e         *Engine
	database  string
	pending   []introspect.TableInfo
	processed int
	total     int
	resumed   bool
}

// Prepare validates preconditions and resolves or creates the job. Fatal
// precondition errors (zero tables, unknown resume id) surface here,
// synchronously, before any unit runs.
func (e *Engine) Prepare(ctx context.Context, scanID, database string, scanType checkpoint.ScanType, resumeID string) (*Run, error) {
	resumed := resumeID != ""
	if resumed {
		if _, err := e.store.GetScan(ctx, resumeID); err != nil {
			return nil, fmt.Errorf("resume scan %s: %w", resumeID, err)
		}
		scanID = resumeID
	}

	tables, err := e.intro.ListTables(ctx, database)
	if err != nil {
		return nil, e.failPrepare(ctx, scanID, resumed, err)
	}
	if len(tables) == 0 {
		return nil, e.failPrepare(ctx, scanID, resumed, fmt.Errorf("%w: %s", ErrNoTables, database))
	}

	var processed map[string]struct{}
	if resumed {
		// The stored counter may be stale after a crash; the recorded
		// results are the authoritative frontier.
		if processed, err = e.store.ProcessedTables(ctx, resumeID); err != nil {
			return nil, err
		}
		e.log.Infow("resuming scan", "scan_id", scanID, "already_processed", len(processed))
	} else {
		if _, err := e.store.CreateScan(ctx, scanID, scanType, database, e.host, len(tables)); err != nil {
			return nil, err
		}
		processed = map[string]struct{}{}
		e.log.Infow("starting scan", "scan_id", scanID, "total_tables", len(tables))
	}

	pending := make([]introspect.TableInfo, 0, len(tables))
	for _, t := range tables {
		if _, done := processed[t.Name]; !done {
			pending = append(pending, t)
		}
	}

	metrics.ScansStarted.WithLabelValues(string(scanType), fmt.Sprint(resumed)).Inc()
	return &Run{
		ScanID:    scanID,
		e:         e,
		database:  database,
		pending:   pending,
		processed: len(processed),
		total:     len(tables),
		resumed:   resumed,
	}, nil
}

// failPrepare marks the job failed when a precondition breaks after the job
// is known to exist. A fresh scan has no job yet; only the error surfaces.
func (e *Engine) failPrepare(ctx context.Context, scanID string, resumed bool, err error) error {
	if resumed {
		if merr := e.store.MarkFailed(ctx, scanID, err.Error()); merr != nil {
			e.log.Errorw("mark scan failed", "scan_id", scanID, "err", merr)
		}
	}
	return err
}

// Execute processes the pending tables in batches. A single table's failure
// is recorded and skipped over; only cancellation or completion ends the
// loop. Cancellation is observed between units and between batches, never
// mid-unit.
func (r *Run) Execute(ctx context.Context) error {
	e := r.e
	start := time.Now()

	_ = e.store.LogEvent(ctx, r.ScanID, "scan_started",
		fmt.Sprintf("Scanning %d tables in %s", r.total, r.database),
		map[string]any{"total_tables": r.total, "resume": r.resumed})

	cancelled := false

batches:
	for i := 0; i < len(r.pending); i += e.opts.BatchSize {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		end := i + e.opts.BatchSize
		if end > len(r.pending) {
			end = len(r.pending)
		}
		for _, table := range r.pending[i:end] {
			if ctx.Err() != nil {
				cancelled = true
				break batches
			}
			r.processTable(ctx, table)
		}
		// Brief pause so batch churn does not saturate the target.
		sleep(ctx, e.opts.BatchPause)
	}

	if cancelled {
		_ = e.store.LogEvent(context.WithoutCancel(ctx), r.ScanID, "scan_cancelled", "Scan cancelled by user", nil)
		if err := e.store.MarkCancelled(context.WithoutCancel(ctx), r.ScanID); err != nil {
			return err
		}
		metrics.ScansFinished.WithLabelValues(string(checkpoint.ScanCancelled)).Inc()
		return ctx.Err()
	}

	if err := e.store.MarkCompleted(ctx, r.ScanID); err != nil {
		return err
	}
	elapsed := time.Since(start)
	metrics.ScansFinished.WithLabelValues(string(checkpoint.ScanCompleted)).Inc()
	metrics.ScanDuration.Observe(elapsed.Seconds())
	_ = e.store.LogEvent(ctx, r.ScanID, "scan_completed",
		fmt.Sprintf("Scan completed in %.1fs", elapsed.Seconds()),
		map[string]any{"elapsed_seconds": elapsed.Seconds(), "tables_processed": r.processed})
	e.log.Infow("scan completed", "scan_id", r.ScanID, "elapsed", elapsed, "tables", r.processed)
	return nil
}

// processTable analyzes one table and persists its result and the updated
// aggregates. Errors are non-fatal: the table is logged and still counted so
// the scan always makes forward progress.
func (r *Run) processTable(ctx context.Context, table introspect.TableInfo) {
	e := r.e
	// A cancel request must not kill the unit mid-query; once a unit
	// starts, the per-table timeout is its only interrupt and its result
	// is still saved.
	uctx := context.WithoutCancel(ctx)
	err := func() error {
		// Pre-write: a crash mid-analysis must still show the correct
		// current table on restart.
		if err := e.store.UpdateProgress(uctx, r.ScanID, table.Name, r.processed, r.total, nil); err != nil {
			return err
		}
		res, err := r.analyzeTable(uctx, table)
		if err != nil {
			return err
		}
		if err := e.store.SaveTableResult(uctx, res); err != nil {
			return err
		}
		delta := &checkpoint.StatsDelta{
			SizeMB:  res.SizeMB,
			Rows:    res.RowCount,
			Indexes: int64(len(res.Indexes)),
			Issues:  int64(len(res.Issues)),
		}
		if err := e.store.UpdateProgress(uctx, r.ScanID, table.Name, r.processed+1, r.total, delta); err != nil {
			return err
		}
		for _, issue := range res.Issues {
			metrics.IssuesFound.WithLabelValues(string(issue.Type)).Inc()
		}
		return nil
	}()
	if err != nil {
		e.log.Errorw("table analysis failed", "scan_id", r.ScanID, "table", table.Name, "err", err)
		_ = e.store.AddTableError(uctx, r.ScanID, table.Name, err.Error())
	}
	r.processed++
	metrics.TablesScanned.Inc()
	e.log.Debugw("table analyzed", "scan_id", r.ScanID, "table", table.Name,
		"processed", r.processed, "total", r.total)
}

// analyzeTable fetches the table's metadata under the per-table timeout and
// runs the issue heuristics. On timeout the metadata is substituted with
// empty sets and a table_timeout event is logged; the unit still yields a
// partial result rather than an error. Any other fetch failure is returned.
func (r *Run) analyzeTable(ctx context.Context, table introspect.TableInfo) (checkpoint.TableResult, error) {
	e := r.e
	start := time.Now()

	tctx, cancel := context.WithTimeout(ctx, e.opts.TableTimeout)
	defer cancel()

	var (
		columns    []introspect.Column
		indexes    []introspect.Index
		partitions []introspect.Partition
		fks        []introspect.ForeignKey
	)
	err := func() error {
		var err error
		if columns, err = e.intro.Columns(tctx, r.database, table.Name); err != nil {
			return err
		}
		if indexes, err = e.intro.Indexes(tctx, r.database, table.Name); err != nil {
			return err
		}
		if partitions, err = e.intro.Partitions(tctx, r.database, table.Name); err != nil {
			return err
		}
		fks, err = e.intro.ForeignKeys(tctx, r.database, table.Name)
		return err
	}()
	if err != nil {
		if tctx.Err() == nil {
			return checkpoint.TableResult{}, err
		}
		columns, indexes, partitions, fks = nil, nil, nil, nil
		e.log.Warnw("timeout analyzing table", "scan_id", r.ScanID, "table", table.Name)
		_ = e.store.LogEvent(ctx, r.ScanID, "table_timeout",
			fmt.Sprintf("Metadata fetch for %s timed out; recording partial result", table.Name),
			map[string]any{"table": table.Name})
	}

	issues := DetectIssues(table, indexes, partitions, fks)

	return checkpoint.TableResult{
		ScanID:         r.ScanID,
		TableName:      table.Name,
		SchemaName:     r.database,
		SizeMB:         table.TotalMB,
		RowCount:       table.RowCount,
		DataLength:     int64(table.DataMB * 1024 * 1024),
		IndexLength:    int64(table.IndexMB * 1024 * 1024),
		AutoIncrement:  table.AutoIncrement,
		CreateTime:     table.CreateTime,
		UpdateTime:     table.UpdateTime,
		Columns:        columns,
		Indexes:        indexes,
		Partitions:     partitions,
		ForeignKeys:    fks,
		Issues:         issues,
		AnalyzedAt:     time.Now().UTC(),
		AnalysisTimeMS: time.Since(start).Milliseconds(),
	}, nil
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
