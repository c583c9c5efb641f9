package storage

import (
	"errors"
	"maps"
	"time"
)

// ErrNotFound is returned when no persisted snapshot exists yet.
var ErrNotFound = errors.New("not found")

// Snapshot is the persisted subset of the orchestrator process state.
// Field names match the on-disk JSON record so existing state files keep loading.
type Snapshot struct {
	// Learning cycle
	LikesSinceLastRetrain int        `json:"likes_since_last_retrain"`
	LastRetrainAt         *time.Time `json:"last_retrain_at"`
	LastLikeAt            *time.Time `json:"last_like_at"`
	TotalRetrains         int        `json:"total_retrains"`
	TotalLikesProcessed   int        `json:"total_likes_processed"`

	// Daily batch
	LastBatchAt     *time.Time    `json:"last_batch_at"`
	TotalBatches    int           `json:"total_batches"`
	LastBatchResult *BatchSummary `json:"last_batch_result"`

	// Prompt generation
	LastGenerationAt     *time.Time         `json:"last_generation_at"`
	TotalGenerations     int                `json:"total_generations"`
	LastGenerationResult *GenerationSummary `json:"last_generation_result"`

	// Cached optimizer scores
	CachedStructureScores map[string]float64 `json:"cached_structure_scores"`
	ScoresCachedAt        *time.Time         `json:"scores_cached_at"`
}

// BatchSummary is the short record kept about the last daily batch.
type BatchSummary struct {
	Ideas            int  `json:"ideas"`
	Prompts          int  `json:"prompts"`
	RetrainTriggered bool `json:"retrain_triggered"`
}

// GenerationSummary is the short record kept about the last manual generation.
type GenerationSummary struct {
	Prompts  int    `json:"prompts"`
	Renderer string `json:"renderer"`
	Manual   bool   `json:"manual"`
}

// SnapshotStore loads and saves the persisted snapshot.
//
// Load never fails: a missing or unreadable record yields a zero Snapshot.
// Save replaces the whole record.
type SnapshotStore interface {
	Load() Snapshot
	Save(Snapshot) error
	Close() error
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.LastRetrainAt = cloneTime(s.LastRetrainAt)
	out.LastLikeAt = cloneTime(s.LastLikeAt)
	out.LastBatchAt = cloneTime(s.LastBatchAt)
	out.LastGenerationAt = cloneTime(s.LastGenerationAt)
	out.ScoresCachedAt = cloneTime(s.ScoresCachedAt)
	if s.LastBatchResult != nil {
		b := *s.LastBatchResult
		out.LastBatchResult = &b
	}
	if s.LastGenerationResult != nil {
		g := *s.LastGenerationResult
		out.LastGenerationResult = &g
	}
	if s.CachedStructureScores != nil {
		out.CachedStructureScores = maps.Clone(s.CachedStructureScores)
	}
	return out
}

// normalize clamps counters that a hand-edited or damaged record could
// have pushed below zero.
func (s *Snapshot) normalize() {
	for _, n := range []*int{
		&s.LikesSinceLastRetrain,
		&s.TotalRetrains,
		&s.TotalLikesProcessed,
		&s.TotalBatches,
		&s.TotalGenerations,
	} {
		if *n < 0 {
			*n = 0
		}
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
