package checkpoint

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	analysesCollection = "workload_analyses"
	queriesCollection  = "workload_queries"
	statsCollection    = "workload_stats"
)

// WorkloadStore persists workload analyses at phase granularity.
type WorkloadStore struct {
	analyses *mongo.Collection
	queries  *mongo.Collection
	stats    *mongo.Collection
}

// NewWorkloadStore returns a store over db.
func NewWorkloadStore(db *mongo.Database) *WorkloadStore {
	return &WorkloadStore{
		analyses: db.Collection(analysesCollection),
		queries:  db.Collection(queriesCollection),
		stats:    db.Collection(statsCollection),
	}
}

// CreateAnalysis inserts a fresh analysis document.
func (s *WorkloadStore) CreateAnalysis(ctx context.Context, analysisID, database string) (*WorkloadJob, error) {
	now := time.Now().UTC()
	job := &WorkloadJob{
		AnalysisID:      analysisID,
		Database:        database,
		Status:          WorkloadPending,
		StartedAt:       now,
		UpdatedAt:       now,
		CurrentPhase:    "initializing",
		PhasesCompleted: []string{},
		Errors:          []JobError{},
		Summary:         map[string]PhaseSummary{},
	}
	if _, err := s.analyses.InsertOne(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// GetAnalysis loads an analysis by id, or ErrNotFound.
func (s *WorkloadStore) GetAnalysis(ctx context.Context, analysisID string) (*WorkloadJob, error) {
	var job WorkloadJob
	err := s.analyses.FindOne(ctx, bson.M{"analysis_id": analysisID}).Decode(&job)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateProgress records the current phase and percentage; status is changed
// only when non-empty.
func (s *WorkloadStore) UpdateProgress(ctx context.Context, analysisID, phase string, progress float64, status WorkloadStatus) error {
	set := bson.M{
		"current_phase":       phase,
		"progress_percentage": progress,
		"updated_at":          time.Now().UTC(),
	}
	if status != "" {
		set["status"] = status
	}
	_, err := s.analyses.UpdateOne(ctx, bson.M{"analysis_id": analysisID}, bson.M{"$set": set})
	return err
}

// SaveQueries appends a batch of captured query records.
func (s *WorkloadStore) SaveQueries(ctx context.Context, records []QueryRecord) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]any, len(records))
	for i := range records {
		records[i].SavedAt = time.Now().UTC()
		docs[i] = records[i]
	}
	_, err := s.queries.InsertMany(ctx, docs)
	return err
}

// SaveStats upserts each record by (analysis id, stat type, identifier) so a
// rerun phase converges instead of duplicating.
func (s *WorkloadStore) SaveStats(ctx context.Context, records []StatRecord) error {
	for i := range records {
		records[i].SavedAt = time.Now().UTC()
		filter := bson.M{
			"analysis_id": records[i].AnalysisID,
			"stat_type":   records[i].StatType,
			"identifier":  records[i].Identifier,
		}
		if _, err := s.stats.UpdateOne(ctx, filter, bson.M{"$set": records[i]}, options.Update().SetUpsert(true)); err != nil {
			return err
		}
	}
	return nil
}

// MarkPhaseCompleted adds phase to the completed set; the operation is
// idempotent by construction.
func (s *WorkloadStore) MarkPhaseCompleted(ctx context.Context, analysisID, phase string) error {
	_, err := s.analyses.UpdateOne(ctx, bson.M{"analysis_id": analysisID},
		bson.M{"$addToSet": bson.M{"phases_completed": phase}})
	return err
}

// CompletedPhases returns the phase resume frontier.
func (s *WorkloadStore) CompletedPhases(ctx context.Context, analysisID string) ([]string, error) {
	job, err := s.GetAnalysis(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	return job.PhasesCompleted, nil
}

// MarkCompleted finishes the analysis with its accumulated summary and
// derived recommendations.
func (s *WorkloadStore) MarkCompleted(ctx context.Context, analysisID string, summary map[string]PhaseSummary, recs []Recommendation) error {
	now := time.Now().UTC()
	_, err := s.analyses.UpdateOne(ctx, bson.M{"analysis_id": analysisID}, bson.M{
		"$set": bson.M{
			"status":              WorkloadCompleted,
			"completed_at":        now,
			"updated_at":          now,
			"progress_percentage": 100.0,
			"current_phase":       "completed",
			"summary":             summary,
			"recommendations":     recs,
		},
	})
	return err
}

// MarkCancelled records a cooperative cancellation.
func (s *WorkloadStore) MarkCancelled(ctx context.Context, analysisID string) error {
	_, err := s.analyses.UpdateOne(ctx, bson.M{"analysis_id": analysisID}, bson.M{
		"$set": bson.M{"status": WorkloadCancelled, "updated_at": time.Now().UTC()},
	})
	return err
}

// MarkFailed records a job-level fatal error.
func (s *WorkloadStore) MarkFailed(ctx context.Context, analysisID, msg string) error {
	now := time.Now().UTC()
	_, err := s.analyses.UpdateOne(ctx, bson.M{"analysis_id": analysisID}, bson.M{
		"$set":  bson.M{"status": WorkloadFailed, "updated_at": now},
		"$push": bson.M{"errors": JobError{Message: msg, Timestamp: now}},
	})
	return err
}

// AddPhaseError appends a non-fatal per-phase error.
func (s *WorkloadStore) AddPhaseError(ctx context.Context, analysisID, phase, msg string) error {
	_, err := s.analyses.UpdateOne(ctx, bson.M{"analysis_id": analysisID}, bson.M{
		"$push": bson.M{"errors": JobError{Table: phase, Message: msg, Timestamp: time.Now().UTC()}},
	})
	return err
}

// SlowQueries reads back the persisted slow-query records of one analysis.
func (s *WorkloadStore) SlowQueries(ctx context.Context, analysisID string) ([]QueryRecord, error) {
	cur, err := s.queries.Find(ctx,
		bson.M{"analysis_id": analysisID, "query_type": "slow"},
		options.Find().SetLimit(50))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var records []QueryRecord
	for cur.Next(ctx) {
		var r QueryRecord
		if err := cur.Decode(&r); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, cur.Err()
}

// IndexStats reads back the persisted index-usage records of one analysis.
func (s *WorkloadStore) IndexStats(ctx context.Context, analysisID string) ([]StatRecord, error) {
	cur, err := s.stats.Find(ctx,
		bson.M{"analysis_id": analysisID, "stat_type": "index_usage"},
		options.Find().SetLimit(200))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var records []StatRecord
	for cur.Next(ctx) {
		var r StatRecord
		if err := cur.Decode(&r); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, cur.Err()
}
