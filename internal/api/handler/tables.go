package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sqlxray/sqlxray/internal/api/schema"
	"github.com/sqlxray/sqlxray/sdk"
)

// TablesHandler serves live table listings without creating a scan job.
type TablesHandler struct {
	Svc sdk.Service
}

type listTablesInput struct{ Body schema.Connection }
type listTablesOutput struct{ Body sdk.TablesReport }

// RegisterTables registers the table listing endpoint.
func RegisterTables(api huma.API, h *TablesHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "listTables",
		Method:      http.MethodPost,
		Path:        "/v1/tables",
		Summary:     "List tables of a database",
		Tags:        []string{"Tables"},
	}, h.list)
}

func (h *TablesHandler) list(ctx context.Context, in *listTablesInput) (*listTablesOutput, error) {
	report, err := h.Svc.GetRealTables(ctx, connConfig(in.Body))
	if err != nil {
		return nil, err
	}
	return &listTablesOutput{Body: *report}, nil
}

type healthOutput struct {
	Body struct {
		Status string    `json:"status"`
		Time   time.Time `json:"time"`
	}
}

// RegisterHealth registers the liveness endpoint.
func RegisterHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"System"},
	}, func(ctx context.Context, _ *struct{}) (*healthOutput, error) {
		out := &healthOutput{}
		out.Body.Status = "healthy"
		out.Body.Time = time.Now().UTC()
		return out, nil
	})
}
