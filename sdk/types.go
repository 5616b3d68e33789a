package sdk

import "github.com/sqlxray/sqlxray/internal/checkpoint"

// Aliases so callers outside the module can consume job records without
// reaching into internal packages.
type (
	ScanJob        = checkpoint.ScanJob
	ScanStatus     = checkpoint.ScanStatus
	ScanType       = checkpoint.ScanType
	TableResult    = checkpoint.TableResult
	Issue          = checkpoint.Issue
	WorkloadJob    = checkpoint.WorkloadJob
	Recommendation = checkpoint.Recommendation
)
