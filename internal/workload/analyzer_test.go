package workload

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/sqlxray/sqlxray/internal/checkpoint"
)

type wProgress struct {
	phase    string
	progress float64
	status   checkpoint.WorkloadStatus
}

type fakeWStore struct {
	jobs      map[string]*checkpoint.WorkloadJob
	queries   []checkpoint.QueryRecord
	stats     []checkpoint.StatRecord
	phases    map[string][]string
	phaseErrs []string
	progress  []wProgress
	summary   map[string]checkpoint.PhaseSummary
	recs      []checkpoint.Recommendation
}

func newFakeWStore() *fakeWStore {
	return &fakeWStore{
		jobs:   map[string]*checkpoint.WorkloadJob{},
		phases: map[string][]string{},
	}
}

func (s *fakeWStore) CreateAnalysis(_ context.Context, analysisID, database string) (*checkpoint.WorkloadJob, error) {
	job := &checkpoint.WorkloadJob{AnalysisID: analysisID, Database: database, Status: checkpoint.WorkloadCollecting}
	s.jobs[analysisID] = job
	return job, nil
}

func (s *fakeWStore) GetAnalysis(_ context.Context, analysisID string) (*checkpoint.WorkloadJob, error) {
	job, ok := s.jobs[analysisID]
	if !ok {
		return nil, checkpoint.ErrNotFound
	}
	return job, nil
}

func (s *fakeWStore) UpdateProgress(_ context.Context, analysisID, phase string, progress float64, status checkpoint.WorkloadStatus) error {
	s.progress = append(s.progress, wProgress{phase: phase, progress: progress, status: status})
	return nil
}

func (s *fakeWStore) SaveQueries(_ context.Context, records []checkpoint.QueryRecord) error {
	s.queries = append(s.queries, records...)
	return nil
}

func (s *fakeWStore) SaveStats(_ context.Context, records []checkpoint.StatRecord) error {
	s.stats = append(s.stats, records...)
	return nil
}

func (s *fakeWStore) MarkPhaseCompleted(_ context.Context, analysisID, phase string) error {
	s.phases[analysisID] = append(s.phases[analysisID], phase)
	return nil
}

func (s *fakeWStore) CompletedPhases(_ context.Context, analysisID string) ([]string, error) {
	if _, ok := s.jobs[analysisID]; !ok {
		return nil, checkpoint.ErrNotFound
	}
	return s.phases[analysisID], nil
}

func (s *fakeWStore) MarkCompleted(_ context.Context, analysisID string, summary map[string]checkpoint.PhaseSummary, recs []checkpoint.Recommendation) error {
	s.jobs[analysisID].Status = checkpoint.WorkloadCompleted
	s.summary = summary
	s.recs = recs
	return nil
}

func (s *fakeWStore) MarkCancelled(_ context.Context, analysisID string) error {
	s.jobs[analysisID].Status = checkpoint.WorkloadCancelled
	return nil
}

func (s *fakeWStore) MarkFailed(_ context.Context, analysisID, msg string) error {
	s.jobs[analysisID].Status = checkpoint.WorkloadFailed
	return nil
}

func (s *fakeWStore) AddPhaseError(_ context.Context, analysisID, phase, msg string) error {
	s.phaseErrs = append(s.phaseErrs, phase)
	return nil
}

func (s *fakeWStore) SlowQueries(_ context.Context, analysisID string) ([]checkpoint.QueryRecord, error) {
	var out []checkpoint.QueryRecord
	for _, q := range s.queries {
		if q.AnalysisID == analysisID && q.QueryType == "slow" {
			out = append(out, q)
		}
	}
	return out, nil
}

func (s *fakeWStore) IndexStats(_ context.Context, analysisID string) ([]checkpoint.StatRecord, error) {
	var out []checkpoint.StatRecord
	for _, st := range s.stats {
		if st.AnalysisID == analysisID && st.StatType == "index_usage" {
			out = append(out, st)
		}
	}
	return out, nil
}

// mockExec runs queries against a sqlmock connection.
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

func digestCols() []string {
	return []string{"DIGEST_TEXT", "COUNT_STAR", "TOTAL", "AVG", "MAX", "ROWS_EXAMINED", "ROWS_SENT", "NO_INDEX"}
}

func expectAllPhases(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("events_statements_summary_by_digest").
		WillReturnRows(sqlmock.NewRows(digestCols()).
			AddRow("SELECT * FROM orders WHERE id = ?", 1000, 12.5, 0.0125, 1.2, 100000, 5000, 0))
	mock.ExpectQuery("events_statements_summary_by_digest").
		WillReturnRows(sqlmock.NewRows(digestCols()).
			AddRow("SELECT * FROM orders o JOIN items i", 50, 125.0, 2.5, 8.0, 5000000, 100, 50))
	mock.ExpectQuery("table_io_waits_summary_by_table").
		WillReturnRows(sqlmock.NewRows([]string{
			"OBJECT_NAME", "COUNT_READ", "COUNT_WRITE", "COUNT_FETCH",
			"COUNT_INSERT", "COUNT_UPDATE", "COUNT_DELETE", "READ_TIME", "WRITE_TIME",
		}).AddRow("orders", 10000, 500, 10000, 300, 150, 50, 42.5, 3.5))
	mock.ExpectQuery("table_io_waits_summary_by_index_usage").
		WillReturnRows(sqlmock.NewRows([]string{
			"OBJECT_NAME", "INDEX_NAME", "COUNT_READ", "COUNT_WRITE", "COUNT_FETCH", "READ_TIME",
		}).
			AddRow("orders", "PRIMARY", 10000, 500, 10000, 40.0).
			AddRow("orders", "idx_unused", 0, 500, 0, 0.0))
	mock.ExpectQuery("events_waits_summary_global_by_event_name").
		WillReturnRows(sqlmock.NewRows([]string{"EVENT_NAME", "COUNT_STAR", "TOTAL", "AVG"}).
			AddRow("wait/io/file/innodb/innodb_data_file", 100000, 120.0, 0.0012))
}

func newTestAnalyzer(t *testing.T) (*Analyzer, *fakeWStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := newFakeWStore()
	return New(mockExec{db: db}, store, nil), store, mock
}

func TestAnalysisRunsAllPhases(t *testing.T) {
	a, store, mock := newTestAnalyzer(t)
	expectAllPhases(mock)

	run, err := a.Prepare(context.Background(), "workload_aaa", "shop", "")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := run.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if got := store.jobs["workload_aaa"].Status; got != checkpoint.WorkloadCompleted {
		t.Fatalf("status = %s, want completed", got)
	}
	want := []string{"query_digest", "slow_queries", "table_io", "index_usage", "wait_events", "recommendations"}
	got := store.phases["workload_aaa"]
	if len(got) != len(want) {
		t.Fatalf("phases completed = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("phase order: %v, want %v", got, want)
		}
	}

	// Each phase writes its lower bound first, then its weight.
	for _, p := range Phases {
		lower, upper := false, false
		for _, w := range store.progress {
			if w.progress == p.Weight-15 {
				lower = true
			}
			if w.progress == p.Weight && lower {
				upper = true
			}
		}
		if !lower || !upper {
			t.Fatalf("phase %s missing progress bounds: %+v", p.ID, store.progress)
		}
	}

	if len(store.recs) != 2 {
		t.Fatalf("recommendations = %+v, want slow + unused", store.recs)
	}
	var unused *checkpoint.Recommendation
	for i := range store.recs {
		if store.recs[i].Type == "unused_indexes" {
			unused = &store.recs[i]
		}
	}
	if unused == nil {
		t.Fatalf("unused_indexes recommendation missing: %+v", store.recs)
	}
	if unused.Priority != "medium" || len(unused.Indexes) != 1 || unused.Indexes[0] != "orders.idx_unused" {
		t.Fatalf("unexpected unused recommendation: %+v", unused)
	}
}

func TestAnalysisResumeSkipsCompletedPhases(t *testing.T) {
	a, store, _ := newTestAnalyzer(t)

	if _, err := store.CreateAnalysis(context.Background(), "workload_bbb", "shop"); err != nil {
		t.Fatal(err)
	}
	store.phases["workload_bbb"] = []string{"query_digest", "slow_queries", "table_io", "index_usage", "wait_events"}
	// Records the interrupted run persisted before dying.
	store.queries = append(store.queries, checkpoint.QueryRecord{AnalysisID: "workload_bbb", QueryType: "slow", Pattern: "SELECT SLEEP(?)"})
	store.stats = append(store.stats, checkpoint.StatRecord{AnalysisID: "workload_bbb", StatType: "index_usage", TableName: "orders", IndexName: "idx_unused"})

	run, err := a.Prepare(context.Background(), "ignored", "shop", "workload_bbb")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if run.AnalysisID != "workload_bbb" {
		t.Fatalf("resume must keep the original id, got %s", run.AnalysisID)
	}
	// No sqlmock expectations set: any phase query would fail the run.
	if err := run.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	phases := store.phases["workload_bbb"]
	if phases[len(phases)-1] != "recommendations" || len(phases) != 6 {
		t.Fatalf("only recommendations should have run: %v", phases)
	}
	if got := store.jobs["workload_bbb"].Status; got != checkpoint.WorkloadCompleted {
		t.Fatalf("status = %s, want completed", got)
	}
	// Recommendations derive from the persisted records of the first run.
	if len(store.recs) != 2 {
		t.Fatalf("recommendations = %+v", store.recs)
	}
}

func TestAnalysisPhaseFailureContinues(t *testing.T) {
	a, store, mock := newTestAnalyzer(t)

	mock.ExpectQuery("events_statements_summary_by_digest").
		WillReturnError(errors.New("performance_schema disabled"))
	mock.ExpectQuery("events_statements_summary_by_digest").
		WillReturnRows(sqlmock.NewRows(digestCols()))
	mock.ExpectQuery("table_io_waits_summary_by_table").
		WillReturnRows(sqlmock.NewRows([]string{
			"OBJECT_NAME", "COUNT_READ", "COUNT_WRITE", "COUNT_FETCH",
			"COUNT_INSERT", "COUNT_UPDATE", "COUNT_DELETE", "READ_TIME", "WRITE_TIME",
		}))
	mock.ExpectQuery("table_io_waits_summary_by_index_usage").
		WillReturnRows(sqlmock.NewRows([]string{
			"OBJECT_NAME", "INDEX_NAME", "COUNT_READ", "COUNT_WRITE", "COUNT_FETCH", "READ_TIME",
		}))
	mock.ExpectQuery("events_waits_summary_global_by_event_name").
		WillReturnRows(sqlmock.NewRows([]string{"EVENT_NAME", "COUNT_STAR", "TOTAL", "AVG"}))

	run, err := a.Prepare(context.Background(), "workload_ccc", "shop", "")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := run.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(store.phaseErrs) != 1 || store.phaseErrs[0] != "query_digest" {
		t.Fatalf("phase errors = %v, want [query_digest]", store.phaseErrs)
	}
	for _, p := range store.phases["workload_ccc"] {
		if p == "query_digest" {
			t.Fatal("failed phase must not be marked completed")
		}
	}
	if len(store.phases["workload_ccc"]) != 5 {
		t.Fatalf("later phases must still run: %v", store.phases["workload_ccc"])
	}
	if got := store.jobs["workload_ccc"].Status; got != checkpoint.WorkloadCompleted {
		t.Fatalf("status = %s, want completed", got)
	}
	if store.summary["query_digest"].Error == "" {
		t.Fatalf("summary must record the phase error: %+v", store.summary)
	}
}

// cancelOnFirstExec cancels the run's context during the first query it
// serves, then delegates to the underlying sqlmock connection.
type cancelOnFirstExec struct {
	mockExec
	t      *testing.T
	cancel context.CancelFunc
	calls  int
}

func (c *cancelOnFirstExec) ExecuteWithRetry(ctx context.Context, query string, args []any, scan func(*sql.Rows) error) error {
	c.calls++
	if c.calls == 1 {
		c.cancel() // fires while the phase's query is in flight
		if ctx.Err() != nil {
			c.t.Error("phase context must not die with the run context")
		}
	}
	return c.mockExec.ExecuteWithRetry(ctx, query, args, scan)
}

func TestCancelDoesNotKillInFlightPhase(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	mock.ExpectQuery("events_statements_summary_by_digest").
		WillReturnRows(sqlmock.NewRows(digestCols()).
			AddRow("SELECT * FROM orders WHERE id = ?", 1000, 12.5, 0.0125, 1.2, 100000, 5000, 0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := newFakeWStore()
	exec := &cancelOnFirstExec{mockExec: mockExec{db: db}, t: t, cancel: cancel}
	a := New(exec, store, nil)

	run, err := a.Prepare(ctx, "workload_eee", "shop", "")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := run.Execute(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// The started phase ran to completion; nothing after it started.
	phases := store.phases["workload_eee"]
	if len(phases) != 1 || phases[0] != "query_digest" {
		t.Fatalf("completed phases = %v, want [query_digest]", phases)
	}
	if len(store.phaseErrs) != 0 {
		t.Fatalf("cancel is not a phase error: %v", store.phaseErrs)
	}
	if len(store.queries) != 1 {
		t.Fatalf("in-flight phase must persist its records: %+v", store.queries)
	}
	if got := store.jobs["workload_eee"].Status; got != checkpoint.WorkloadCancelled {
		t.Fatalf("status = %s, want cancelled", got)
	}
}

func TestAnalysisCancelled(t *testing.T) {
	a, store, _ := newTestAnalyzer(t)

	run, err := a.Prepare(context.Background(), "workload_ddd", "shop", "")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := run.Execute(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := store.jobs["workload_ddd"].Status; got != checkpoint.WorkloadCancelled {
		t.Fatalf("status = %s, want cancelled", got)
	}
}
