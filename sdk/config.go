package sdk

import (
	"go.uber.org/zap"

	"github.com/sqlxray/sqlxray/internal/checkpoint"
	"github.com/sqlxray/sqlxray/internal/pool"
	"github.com/sqlxray/sqlxray/internal/scanner"
)

// ServiceConfig holds the dependencies of a Service.
type ServiceConfig struct {
	Logger *zap.SugaredLogger

	// Checkpoint stores. Both are required.
	Scans     *checkpoint.ScanStore
	Workloads *checkpoint.WorkloadStore

	// Pools hands out one connection pool per target database.
	Pools *pool.Registry

	// Scanner overrides batch size, per-table timeout and batch pause.
	// Zero values keep the defaults.
	Scanner scanner.Options
}
