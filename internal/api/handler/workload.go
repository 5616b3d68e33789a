package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sqlxray/sqlxray/internal/api/schema"
	"github.com/sqlxray/sqlxray/internal/checkpoint"
	"github.com/sqlxray/sqlxray/sdk"
)

// WorkloadHandler exposes workload analyses via REST.
type WorkloadHandler struct {
	Svc sdk.Service
}

type startWorkloadInput struct{ Body schema.Connection }

type analysisIDParam struct {
	ID string `path:"id" doc:"Analysis id"`
}

type workloadStatusOutput struct{ Body checkpoint.WorkloadJob }

// RegisterWorkload registers workload analysis endpoints.
func RegisterWorkload(api huma.API, h *WorkloadHandler) {
	huma.Register(api, huma.Operation{
		OperationID:   "startWorkloadAnalysis",
		Method:        http.MethodPost,
		Path:          "/v1/workload-analyses",
		Summary:       "Start a workload analysis",
		Tags:          []string{"Workload"},
		DefaultStatus: http.StatusAccepted,
	}, h.start)
	huma.Register(api, huma.Operation{
		OperationID: "getWorkloadAnalysis",
		Method:      http.MethodGet,
		Path:        "/v1/workload-analyses/{id}",
		Summary:     "Get workload analysis status",
		Tags:        []string{"Workload"},
	}, h.status)
	huma.Register(api, huma.Operation{
		OperationID: "cancelWorkloadAnalysis",
		Method:      http.MethodPost,
		Path:        "/v1/workload-analyses/{id}/cancel",
		Summary:     "Cancel a running workload analysis",
		Tags:        []string{"Workload"},
	}, h.cancel)
}

func (h *WorkloadHandler) start(ctx context.Context, in *startWorkloadInput) (*jobAcceptedOutput, error) {
	id, err := h.Svc.StartWorkloadAnalysis(ctx, connConfig(in.Body))
	if err != nil {
		return nil, jobErr(err)
	}
	return &jobAcceptedOutput{Body: schema.JobAccepted{JobID: id, Status: string(checkpoint.WorkloadPending)}}, nil
}

func (h *WorkloadHandler) status(ctx context.Context, in *analysisIDParam) (*workloadStatusOutput, error) {
	job, err := h.Svc.GetWorkloadStatus(ctx, in.ID)
	if err != nil {
		return nil, jobErr(err)
	}
	return &workloadStatusOutput{Body: *job}, nil
}

func (h *WorkloadHandler) cancel(ctx context.Context, in *analysisIDParam) (*jobAcceptedOutput, error) {
	if err := h.Svc.CancelWorkloadAnalysis(ctx, in.ID); err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return nil, huma.Error404NotFound("job not found", err)
		}
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	return &jobAcceptedOutput{Body: schema.JobAccepted{JobID: in.ID, Status: string(checkpoint.WorkloadCancelled)}}, nil
}
