package sdk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sqlxray/sqlxray/internal/checkpoint"
	"github.com/sqlxray/sqlxray/internal/introspect"
	"github.com/sqlxray/sqlxray/internal/metrics"
	"github.com/sqlxray/sqlxray/internal/pool"
	"github.com/sqlxray/sqlxray/internal/scanner"
	"github.com/sqlxray/sqlxray/internal/workload"
)

// ErrNoTables mirrors the scanner's fatal empty-database precondition.
var ErrNoTables = scanner.ErrNoTables

// TablesReport lists a database's tables with their dictionary facts.
type TablesReport struct {
	Database string                           `json:"database"`
	Tables   []introspect.TableInfo           `json:"tables"`
	Facts    map[string]introspect.TableFacts `json:"facts"`
}

// Service exposes high level scan and workload operations.
type Service interface {
	// StartScan launches an asynchronous scan and returns its id.
	StartScan(ctx context.Context, cfg pool.Config, scanType checkpoint.ScanType) (string, error)
	// ResumeScan relaunches an interrupted scan, skipping recorded tables.
	ResumeScan(ctx context.Context, cfg pool.Config, scanID string) (string, error)
	// GetScanStatus returns the durable job record.
	GetScanStatus(ctx context.Context, scanID string) (*checkpoint.ScanJob, error)
	// GetScanResults returns per-table results, largest first.
	GetScanResults(ctx context.Context, scanID string) ([]checkpoint.TableResult, error)
	// CancelScan requests cooperative cancellation of a running scan.
	CancelScan(ctx context.Context, scanID string) error
	// StartWorkloadAnalysis launches an asynchronous workload analysis.
	StartWorkloadAnalysis(ctx context.Context, cfg pool.Config) (string, error)
	// GetWorkloadStatus returns the durable analysis record.
	GetWorkloadStatus(ctx context.Context, analysisID string) (*checkpoint.WorkloadJob, error)
	// CancelWorkloadAnalysis requests cooperative cancellation.
	CancelWorkloadAnalysis(ctx context.Context, analysisID string) error
	// GetRealTables lists tables and dictionary facts without a scan job.
	GetRealTables(ctx context.Context, cfg pool.Config) (*TablesReport, error)
	// Close cancels running jobs and releases the pools.
	Close() error
}

// New returns a Service initialized with the given configuration.
func New(cfg ServiceConfig) Service {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &service{
		logger:    logger,
		scans:     cfg.Scans,
		workloads: cfg.Workloads,
		pools:     cfg.Pools,
		scanOpts:  cfg.Scanner,
		runs:      map[string]context.CancelFunc{},
	}
}

type service struct {
	logger    *zap.SugaredLogger
	scans     *checkpoint.ScanStore
	workloads *checkpoint.WorkloadStore
	pools     *pool.Registry
	scanOpts  scanner.Options

	mu   sync.Mutex
	runs map[string]context.CancelFunc
}

// newJobID yields ids like scan_3f2a9c1d4e5b.
func newJobID(prefix string) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "_" + hex[:12]
}

func (s *service) register(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.runs[id] = cancel
	s.mu.Unlock()
}

func (s *service) unregister(id string) {
	s.mu.Lock()
	delete(s.runs, id)
	s.mu.Unlock()
}

func (s *service) cancel(id string) bool {
	s.mu.Lock()
	cancel, ok := s.runs[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (s *service) StartScan(ctx context.Context, cfg pool.Config, scanType checkpoint.ScanType) (string, error) {
	return s.launchScan(ctx, cfg, scanType, "")
}

func (s *service) ResumeScan(ctx context.Context, cfg pool.Config, scanID string) (string, error) {
	job, err := s.scans.GetScan(ctx, scanID)
	if err != nil {
		return "", err
	}
	switch job.Status {
	case checkpoint.ScanCompleted:
		return "", fmt.Errorf("scan %s already completed", scanID)
	case checkpoint.ScanRunning:
		s.mu.Lock()
		_, live := s.runs[scanID]
		s.mu.Unlock()
		if live {
			return "", fmt.Errorf("scan %s is still running", scanID)
		}
	}
	return s.launchScan(ctx, cfg, job.ScanType, scanID)
}

func (s *service) launchScan(ctx context.Context, cfg pool.Config, scanType checkpoint.ScanType, resumeID string) (string, error) {
	mgr := s.pools.Get(cfg)
	engine := scanner.New(introspect.New(mgr), s.scans, s.logger, cfg.Host, s.scanOpts)

	run, err := engine.Prepare(ctx, newJobID("scan"), cfg.Database, scanType, resumeID)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.register(run.ScanID, cancel)
	go func() {
		defer s.unregister(run.ScanID)
		defer cancel()
		if err := run.Execute(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				s.logger.Infow("scan cancelled", "scan_id", run.ScanID)
				return
			}
			s.logger.Errorw("scan failed", "scan_id", run.ScanID, "err", err)
			if ferr := s.scans.MarkFailed(context.Background(), run.ScanID, err.Error()); ferr != nil {
				s.logger.Errorw("mark scan failed", "scan_id", run.ScanID, "err", ferr)
			}
			metrics.ScansFinished.WithLabelValues(string(checkpoint.ScanFailed)).Inc()
		}
	}()
	return run.ScanID, nil
}

func (s *service) GetScanStatus(ctx context.Context, scanID string) (*checkpoint.ScanJob, error) {
	return s.scans.GetScan(ctx, scanID)
}

func (s *service) GetScanResults(ctx context.Context, scanID string) ([]checkpoint.TableResult, error) {
	if _, err := s.scans.GetScan(ctx, scanID); err != nil {
		return nil, err
	}
	return s.scans.Results(ctx, scanID)
}

func (s *service) CancelScan(ctx context.Context, scanID string) error {
	job, err := s.scans.GetScan(ctx, scanID)
	if err != nil {
		return err
	}
	if s.cancel(scanID) {
		return nil
	}
	// Not running in this process; flip the record if still cancellable.
	switch job.Status {
	case checkpoint.ScanPending, checkpoint.ScanRunning:
		return s.scans.MarkCancelled(ctx, scanID)
	}
	return fmt.Errorf("scan %s is not running (status %s)", scanID, job.Status)
}

func (s *service) StartWorkloadAnalysis(ctx context.Context, cfg pool.Config) (string, error) {
	mgr := s.pools.Get(cfg)
	analyzer := workload.New(mgr, s.workloads, s.logger)

	run, err := analyzer.Prepare(ctx, newJobID("workload"), cfg.Database, "")
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.register(run.AnalysisID, cancel)
	go func() {
		defer s.unregister(run.AnalysisID)
		defer cancel()
		if err := run.Execute(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				s.logger.Infow("workload analysis cancelled", "analysis_id", run.AnalysisID)
				return
			}
			s.logger.Errorw("workload analysis failed", "analysis_id", run.AnalysisID, "err", err)
			if ferr := s.workloads.MarkFailed(context.Background(), run.AnalysisID, err.Error()); ferr != nil {
				s.logger.Errorw("mark analysis failed", "analysis_id", run.AnalysisID, "err", ferr)
			}
		}
	}()
	return run.AnalysisID, nil
}

func (s *service) GetWorkloadStatus(ctx context.Context, analysisID string) (*checkpoint.WorkloadJob, error) {
	return s.workloads.GetAnalysis(ctx, analysisID)
}

func (s *service) CancelWorkloadAnalysis(ctx context.Context, analysisID string) error {
	job, err := s.workloads.GetAnalysis(ctx, analysisID)
	if err != nil {
		return err
	}
	if s.cancel(analysisID) {
		return nil
	}
	switch job.Status {
	case checkpoint.WorkloadPending, checkpoint.WorkloadCollecting, checkpoint.WorkloadAnalyzing:
		return s.workloads.MarkCancelled(ctx, analysisID)
	}
	return fmt.Errorf("analysis %s is not running (status %s)", analysisID, job.Status)
}

func (s *service) GetRealTables(ctx context.Context, cfg pool.Config) (*TablesReport, error) {
	intro := introspect.New(s.pools.Get(cfg))
	tables, err := intro.ListTables(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	facts, err := intro.TableDictionary(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return &TablesReport{Database: cfg.Database, Tables: tables, Facts: facts}, nil
}

// Close cancels every in-flight job and closes the pools.
func (s *service) Close() error {
	s.mu.Lock()
	for id, cancel := range s.runs {
		s.logger.Infow("cancelling job on shutdown", "job_id", id)
		cancel()
	}
	s.runs = map[string]context.CancelFunc{}
	s.mu.Unlock()
	if s.pools != nil {
		s.pools.CloseAll()
	}
	return nil
}
