package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sqlxray/sqlxray/internal/api/schema"
	"github.com/sqlxray/sqlxray/internal/checkpoint"
	"github.com/sqlxray/sqlxray/internal/pool"
	"github.com/sqlxray/sqlxray/sdk"
)

// ScanHandler exposes scan jobs via REST.
type ScanHandler struct {
	Svc sdk.Service
}

type startScanInput struct{ Body schema.StartScan }
type jobAcceptedOutput struct{ Body schema.JobAccepted }

type scanIDParam struct {
	ID string `path:"id" doc:"Scan id"`
}

type scanStatusOutput struct{ Body checkpoint.ScanJob }

type scanResultsOutput struct {
	Body struct {
		ScanID string                   `json:"scan_id"`
		Tables []checkpoint.TableResult `json:"tables"`
	}
}

type resumeScanInput struct {
	ID   string `path:"id" doc:"Scan id"`
	Body schema.Connection
}

// RegisterScan registers scan endpoints.
func RegisterScan(api huma.API, h *ScanHandler) {
	huma.Register(api, huma.Operation{
		OperationID:   "startScan",
		Method:        http.MethodPost,
		Path:          "/v1/scans",
		Summary:       "Start a database scan",
		Tags:          []string{"Scan"},
		DefaultStatus: http.StatusAccepted,
	}, h.start)
	huma.Register(api, huma.Operation{
		OperationID: "getScanStatus",
		Method:      http.MethodGet,
		Path:        "/v1/scans/{id}",
		Summary:     "Get scan status",
		Tags:        []string{"Scan"},
	}, h.status)
	huma.Register(api, huma.Operation{
		OperationID: "getScanResults",
		Method:      http.MethodGet,
		Path:        "/v1/scans/{id}/results",
		Summary:     "Get per-table scan results",
		Tags:        []string{"Scan"},
	}, h.results)
	huma.Register(api, huma.Operation{
		OperationID: "cancelScan",
		Method:      http.MethodPost,
		Path:        "/v1/scans/{id}/cancel",
		Summary:     "Cancel a running scan",
		Tags:        []string{"Scan"},
	}, h.cancel)
	huma.Register(api, huma.Operation{
		OperationID:   "resumeScan",
		Method:        http.MethodPost,
		Path:          "/v1/scans/{id}/resume",
		Summary:       "Resume an interrupted scan",
		Tags:          []string{"Scan"},
		DefaultStatus: http.StatusAccepted,
	}, h.resume)
}

func connConfig(c schema.Connection) pool.Config {
	return pool.Config{
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Database: c.Database,
		TLS:      c.TLS,
	}
}

func jobErr(err error) error {
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		return huma.Error404NotFound("job not found", err)
	case errors.Is(err, sdk.ErrNoTables):
		return huma.Error422UnprocessableEntity("database has no tables", err)
	}
	return err
}

func (h *ScanHandler) start(ctx context.Context, in *startScanInput) (*jobAcceptedOutput, error) {
	scanType := checkpoint.ScanType(in.Body.ScanType)
	if scanType == "" {
		scanType = checkpoint.ScanTypeIntelligence
	}
	id, err := h.Svc.StartScan(ctx, connConfig(in.Body.Connection), scanType)
	if err != nil {
		return nil, jobErr(err)
	}
	return &jobAcceptedOutput{Body: schema.JobAccepted{JobID: id, Status: string(checkpoint.ScanPending)}}, nil
}

func (h *ScanHandler) status(ctx context.Context, in *scanIDParam) (*scanStatusOutput, error) {
	job, err := h.Svc.GetScanStatus(ctx, in.ID)
	if err != nil {
		return nil, jobErr(err)
	}
	return &scanStatusOutput{Body: *job}, nil
}

func (h *ScanHandler) results(ctx context.Context, in *scanIDParam) (*scanResultsOutput, error) {
	tables, err := h.Svc.GetScanResults(ctx, in.ID)
	if err != nil {
		return nil, jobErr(err)
	}
	out := &scanResultsOutput{}
	out.Body.ScanID = in.ID
	out.Body.Tables = tables
	return out, nil
}

func (h *ScanHandler) cancel(ctx context.Context, in *scanIDParam) (*jobAcceptedOutput, error) {
	if err := h.Svc.CancelScan(ctx, in.ID); err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return nil, huma.Error404NotFound("job not found", err)
		}
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	return &jobAcceptedOutput{Body: schema.JobAccepted{JobID: in.ID, Status: string(checkpoint.ScanCancelled)}}, nil
}

func (h *ScanHandler) resume(ctx context.Context, in *resumeScanInput) (*jobAcceptedOutput, error) {
	id, err := h.Svc.ResumeScan(ctx, connConfig(in.Body), in.ID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return nil, huma.Error404NotFound("job not found", err)
		}
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	return &jobAcceptedOutput{Body: schema.JobAccepted{JobID: id, Status: string(checkpoint.ScanPending)}}, nil
}
