package checkpoint

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names mirror the logical layout: scan jobs, per-table results
// and the scan event log.
const (
	scansCollection  = "database_scans"
	tablesCollection = "scan_tables"
	logsCollection   = "scan_logs"
)

// ScanStore persists scan jobs and their children. Every write is atomic at
// the document level; idempotent upserts stand in for cross-document
// transactions.
type ScanStore struct {
	scans  *mongo.Collection
	tables *mongo.Collection
	logs   *mongo.Collection
}

// NewScanStore returns a store over db.
func NewScanStore(db *mongo.Database) *ScanStore {
	return &ScanStore{
		scans:  db.Collection(scansCollection),
		tables: db.Collection(tablesCollection),
		logs:   db.Collection(logsCollection),
	}
}

// CreateScan inserts a fresh job document with zeroed counters.
func (s *ScanStore) CreateScan(ctx context.Context, scanID string, scanType ScanType, database, host string, totalTables int) (*ScanJob, error) {
	now := time.Now().UTC()
	job := &ScanJob{
		ScanID:         scanID,
		ScanType:       scanType,
		Database:       database,
		Status:         ScanPending,
		TotalTables:    totalTables,
		StartedAt:      now,
		UpdatedAt:      now,
		Errors:         []JobError{},
		ConnectionHost: host,
	}
	if _, err := s.scans.InsertOne(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// GetScan loads a job by id, or ErrNotFound.
func (s *ScanStore) GetScan(ctx context.Context, scanID string) (*ScanJob, error) {
	var job ScanJob
	err := s.scans.FindOne(ctx, bson.M{"scan_id": scanID}).Decode(&job)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateProgress records the current table, the processed count and the
// recomputed percentage, moves the job to running and atomically increments
// the aggregate stats by delta.
func (s *ScanStore) UpdateProgress(ctx context.Context, scanID, currentTable string, processed, total int, delta *StatsDelta) error {
	update := bson.M{
		"$set": bson.M{
			"current_table":        currentTable,
			"processed_tables":     processed,
			"progress_percentage":  Percentage(processed, total),
			"last_processed_table": currentTable,
			"updated_at":           time.Now().UTC(),
			"status":               ScanRunning,
		},
	}
	if delta != nil {
		update["$inc"] = bson.M{
			"stats.total_size_mb": delta.SizeMB,
			"stats.total_rows":    delta.Rows,
			"stats.total_indexes": delta.Indexes,
			"stats.issues_found":  delta.Issues,
		}
	}
	_, err := s.scans.UpdateOne(ctx, bson.M{"scan_id": scanID}, update)
	return err
}

// SaveTableResult upserts one table's analysis keyed by (scan id, table
// name) so replays of the same unit are idempotent.
func (s *ScanStore) SaveTableResult(ctx context.Context, res TableResult) error {
	filter := bson.M{"scan_id": res.ScanID, "table_name": res.TableName}
	_, err := s.tables.UpdateOne(ctx, filter, bson.M{"$set": res}, options.Update().SetUpsert(true))
	return err
}

// ProcessedTables returns the resume frontier: the set of table names with a
// durably recorded result for this scan.
func (s *ScanStore) ProcessedTables(ctx context.Context, scanID string) (map[string]struct{}, error) {
	cur, err := s.tables.Find(ctx, bson.M{"scan_id": scanID},
		options.Find().SetProjection(bson.M{"table_name": 1, "_id": 0}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	set := make(map[string]struct{})
	for cur.Next(ctx) {
		var doc struct {
			TableName string `bson:"table_name"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		set[doc.TableName] = struct{}{}
	}
	return set, cur.Err()
}

// MarkCompleted moves the job to completed and clears the current table.
func (s *ScanStore) MarkCompleted(ctx context.Context, scanID string) error {
	now := time.Now().UTC()
	_, err := s.scans.UpdateOne(ctx, bson.M{"scan_id": scanID}, bson.M{
		"$set": bson.M{
			"status":        ScanCompleted,
			"completed_at":  now,
			"updated_at":    now,
			"current_table": "",
		},
	})
	return err
}

// MarkCancelled records a cooperative cancellation.
func (s *ScanStore) MarkCancelled(ctx context.Context, scanID string) error {
	now := time.Now().UTC()
	_, err := s.scans.UpdateOne(ctx, bson.M{"scan_id": scanID}, bson.M{
		"$set": bson.M{
			"status":     ScanCancelled,
			"updated_at": now,
		},
	})
	return err
}

// MarkFailed records a job-level fatal error and appends it to the log.
func (s *ScanStore) MarkFailed(ctx context.Context, scanID, msg string) error {
	now := time.Now().UTC()
	_, err := s.scans.UpdateOne(ctx, bson.M{"scan_id": scanID}, bson.M{
		"$set":  bson.M{"status": ScanFailed, "updated_at": now},
		"$push": bson.M{"errors": JobError{Message: msg, Timestamp: now}},
	})
	return err
}

// AddTableError appends a non-fatal per-table error without changing the
// job's runnability.
func (s *ScanStore) AddTableError(ctx context.Context, scanID, table, msg string) error {
	_, err := s.scans.UpdateOne(ctx, bson.M{"scan_id": scanID}, bson.M{
		"$push": bson.M{"errors": JobError{Table: table, Message: msg, Timestamp: time.Now().UTC()}},
	})
	return err
}

// LogEvent appends one entry to the scan event log.
func (s *ScanStore) LogEvent(ctx context.Context, scanID, eventType, message string, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	_, err := s.logs.InsertOne(ctx, ScanEvent{
		ScanID:    scanID,
		EventType: eventType,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	return err
}

// Results returns every table result of a scan, largest table first.
func (s *ScanStore) Results(ctx context.Context, scanID string) ([]TableResult, error) {
	cur, err := s.tables.Find(ctx, bson.M{"scan_id": scanID},
		options.Find().SetSort(bson.D{{Key: "size_mb", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var results []TableResult
	for cur.Next(ctx) {
		var r TableResult
		if err := cur.Decode(&r); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, cur.Err()
}
