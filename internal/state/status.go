package state

import (
	"time"

	"github.com/anatomie/orchestrator/internal/storage"
)

// Status is the JSON view of the state served by the status endpoints.
type Status struct {
	LikesSinceLastRetrain int        `json:"likes_since_last_retrain"`
	LastRetrainAt         *time.Time `json:"last_retrain_at"`
	LastLikeAt            *time.Time `json:"last_like_at"`
	TotalRetrains         int        `json:"total_retrains"`
	TotalLikesProcessed   int        `json:"total_likes_processed"`
	IsRetraining          bool       `json:"is_retraining"`
	LastError             *string    `json:"last_error"`

	LastBatchAt     *time.Time            `json:"last_batch_at"`
	TotalBatches    int                   `json:"total_batches"`
	LastBatchResult *storage.BatchSummary `json:"last_batch_result"`

	LastGenerationAt     *time.Time                 `json:"last_generation_at"`
	TotalGenerations     int                        `json:"total_generations"`
	LastGenerationResult *storage.GenerationSummary `json:"last_generation_result"`

	ScoresCachedAt    *time.Time `json:"scores_cached_at"`
	CachedScoresCount int        `json:"cached_scores_count"`
}

// Status returns a consistent view of persisted and transient fields.
func (s *State) Status() Status {
	s.mu.Lock()
	snap := s.snap.Clone()
	lastErr := s.lastError
	s.mu.Unlock()

	st := Status{
		LikesSinceLastRetrain: snap.LikesSinceLastRetrain,
		LastRetrainAt:         snap.LastRetrainAt,
		LastLikeAt:            snap.LastLikeAt,
		TotalRetrains:         snap.TotalRetrains,
		TotalLikesProcessed:   snap.TotalLikesProcessed,
		IsRetraining:          s.IsRetraining(),
		LastBatchAt:           snap.LastBatchAt,
		TotalBatches:          snap.TotalBatches,
		LastBatchResult:       snap.LastBatchResult,
		LastGenerationAt:      snap.LastGenerationAt,
		TotalGenerations:      snap.TotalGenerations,
		LastGenerationResult:  snap.LastGenerationResult,
		ScoresCachedAt:        snap.ScoresCachedAt,
		CachedScoresCount:     len(snap.CachedStructureScores),
	}
	if lastErr != "" {
		st.LastError = &lastErr
	}
	return st
}
