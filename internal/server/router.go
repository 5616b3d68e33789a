package server

import (
	"os"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sqlxray/sqlxray/internal/api/handler"
	"github.com/sqlxray/sqlxray/internal/server/middleware"
	"github.com/sqlxray/sqlxray/sdk"
)

// New builds the API: CORS, /metrics, and the versioned endpoints. The
// underlying router is reachable via Adapter().
func New(svc sdk.Service) huma.API {
	r := chi.NewRouter()

	allowed := os.Getenv("ALLOWED_ORIGINS")
	if allowed == "" {
		allowed = "http://localhost:5173"
	}
	origins := strings.Split(allowed, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	api := humachi.New(r, huma.DefaultConfig("SQLXray API", "1.0.0"))
	api.UseMiddleware(middleware.MetricsMW)

	handler.RegisterHealth(api)
	handler.RegisterScan(api, &handler.ScanHandler{Svc: svc})
	handler.RegisterWorkload(api, &handler.WorkloadHandler{Svc: svc})
	handler.RegisterTables(api, &handler.TablesHandler{Svc: svc})

	return api
}
