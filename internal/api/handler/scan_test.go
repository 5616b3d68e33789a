package handler

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sqlxray/sqlxray/internal/api/schema"
	"github.com/sqlxray/sqlxray/internal/checkpoint"
	"github.com/sqlxray/sqlxray/internal/pool"
	"github.com/sqlxray/sqlxray/sdk"
)

type fakeService struct {
	jobs      map[string]*checkpoint.ScanJob
	analyses  map[string]*checkpoint.WorkloadJob
	results   map[string][]checkpoint.TableResult
	cancelled []string
	lastType  checkpoint.ScanType
	startErr  error
}

func newFakeService() *fakeService {
	return &fakeService{
		jobs:     map[string]*checkpoint.ScanJob{},
		analyses: map[string]*checkpoint.WorkloadJob{},
		results:  map[string][]checkpoint.TableResult{},
	}
}

func (f *fakeService) StartScan(_ context.Context, cfg pool.Config, scanType checkpoint.ScanType) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.lastType = scanType
	id := "scan_0123456789ab"
	f.jobs[id] = &checkpoint.ScanJob{ScanID: id, ScanType: scanType, Database: cfg.Database, Status: checkpoint.ScanPending}
	return id, nil
}

func (f *fakeService) ResumeScan(_ context.Context, _ pool.Config, scanID string) (string, error) {
	if _, ok := f.jobs[scanID]; !ok {
		return "", checkpoint.ErrNotFound
	}
	return scanID, nil
}

func (f *fakeService) GetScanStatus(_ context.Context, scanID string) (*checkpoint.ScanJob, error) {
	job, ok := f.jobs[scanID]
	if !ok {
		return nil, checkpoint.ErrNotFound
	}
	return job, nil
}

func (f *fakeService) GetScanResults(_ context.Context, scanID string) ([]checkpoint.TableResult, error) {
	if _, ok := f.jobs[scanID]; !ok {
		return nil, checkpoint.ErrNotFound
	}
	return f.results[scanID], nil
}

func (f *fakeService) CancelScan(_ context.Context, scanID string) error {
	if _, ok := f.jobs[scanID]; !ok {
		return checkpoint.ErrNotFound
	}
	f.cancelled = append(f.cancelled, scanID)
	return nil
}

func (f *fakeService) StartWorkloadAnalysis(_ context.Context, cfg pool.Config) (string, error) {
	id := "workload_0123456789ab"
	f.analyses[id] = &checkpoint.WorkloadJob{AnalysisID: id, Database: cfg.Database, Status: checkpoint.WorkloadPending}
	return id, nil
}

func (f *fakeService) GetWorkloadStatus(_ context.Context, analysisID string) (*checkpoint.WorkloadJob, error) {
	job, ok := f.analyses[analysisID]
	if !ok {
		return nil, checkpoint.ErrNotFound
	}
	return job, nil
}

func (f *fakeService) CancelWorkloadAnalysis(_ context.Context, analysisID string) error {
	if _, ok := f.analyses[analysisID]; !ok {
		return checkpoint.ErrNotFound
	}
	f.cancelled = append(f.cancelled, analysisID)
	return nil
}

func (f *fakeService) GetRealTables(_ context.Context, cfg pool.Config) (*sdk.TablesReport, error) {
	return &sdk.TablesReport{Database: cfg.Database}, nil
}

func (f *fakeService) Close() error { return nil }

func conn() schema.Connection {
	return schema.Connection{Host: "db1", User: "root", Database: "shop"}
}

func TestStartScanDefaultsType(t *testing.T) {
	svc := newFakeService()
	h := &ScanHandler{Svc: svc}

	out, err := h.start(context.Background(), &startScanInput{Body: schema.StartScan{Connection: conn()}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if out.Body.JobID == "" || out.Body.Status != "pending" {
		t.Fatalf("unexpected ack: %+v", out.Body)
	}
	if svc.lastType != checkpoint.ScanTypeIntelligence {
		t.Fatalf("scan type = %s, want intelligence default", svc.lastType)
	}
	// The accept body and an immediate status poll must agree.
	status, err := h.status(context.Background(), &scanIDParam{ID: out.Body.JobID})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if string(status.Body.Status) != out.Body.Status {
		t.Fatalf("ack status %q disagrees with stored status %q", out.Body.Status, status.Body.Status)
	}
}

func TestStartScanEmptyDatabase(t *testing.T) {
	svc := newFakeService()
	svc.startErr = sdk.ErrNoTables
	h := &ScanHandler{Svc: svc}

	_, err := h.start(context.Background(), &startScanInput{Body: schema.StartScan{Connection: conn()}})
	if err == nil || !strings.Contains(err.Error(), "no tables") {
		t.Fatalf("expected 422 no-tables error, got %v", err)
	}
}

func TestScanStatusNotFound(t *testing.T) {
	h := &ScanHandler{Svc: newFakeService()}
	_, err := h.status(context.Background(), &scanIDParam{ID: "scan_missing"})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestScanResults(t *testing.T) {
	svc := newFakeService()
	svc.jobs["scan_x"] = &checkpoint.ScanJob{ScanID: "scan_x", Status: checkpoint.ScanCompleted}
	svc.results["scan_x"] = []checkpoint.TableResult{{ScanID: "scan_x", TableName: "orders"}}
	h := &ScanHandler{Svc: svc}

	out, err := h.results(context.Background(), &scanIDParam{ID: "scan_x"})
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if out.Body.ScanID != "scan_x" || len(out.Body.Tables) != 1 {
		t.Fatalf("unexpected results: %+v", out.Body)
	}
}

func TestCancelScan(t *testing.T) {
	svc := newFakeService()
	svc.jobs["scan_y"] = &checkpoint.ScanJob{ScanID: "scan_y", Status: checkpoint.ScanRunning}
	h := &ScanHandler{Svc: svc}

	out, err := h.cancel(context.Background(), &scanIDParam{ID: "scan_y"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if out.Body.Status != "cancelled" {
		t.Fatalf("unexpected ack: %+v", out.Body)
	}
	if len(svc.cancelled) != 1 || svc.cancelled[0] != "scan_y" {
		t.Fatalf("cancel not forwarded: %v", svc.cancelled)
	}
}

func TestWorkloadLifecycle(t *testing.T) {
	svc := newFakeService()
	h := &WorkloadHandler{Svc: svc}

	started, err := h.start(context.Background(), &startWorkloadInput{Body: conn()})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := started.Body.JobID
	if !strings.HasPrefix(id, "workload_") {
		t.Fatalf("unexpected id %q", id)
	}
	if started.Body.Status != "pending" {
		t.Fatalf("unexpected ack: %+v", started.Body)
	}

	status, err := h.status(context.Background(), &analysisIDParam{ID: id})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Body.Database != "shop" {
		t.Fatalf("unexpected status: %+v", status.Body)
	}

	if _, err := h.cancel(context.Background(), &analysisIDParam{ID: id}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := h.status(context.Background(), &analysisIDParam{ID: "workload_missing"}); err == nil {
		t.Fatal("expected 404 for unknown analysis")
	}
}

func TestJobErrMapping(t *testing.T) {
	if err := jobErr(checkpoint.ErrNotFound); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("ErrNotFound mapping: %v", err)
	}
	plain := errors.New("boom")
	if err := jobErr(plain); !errors.Is(err, plain) {
		t.Fatalf("unexpected wrapping of %v: %v", plain, err)
	}
}
