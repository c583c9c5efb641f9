// Package state holds the single mutable process state shared by every
// request handler and workflow: like counter, retrain guard, cached optimizer
// scores and run bookkeeping. Persisted fields are written through to a
// storage.SnapshotStore on every mutation.
package state

import (
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anatomie/orchestrator/internal/storage"
)

// DefaultScoreMaxAge is how long cached optimizer scores count as fresh.
const DefaultScoreMaxAge = 24 * time.Hour

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// State is the process-wide orchestrator state. Construct it once at startup
// and pass it to whatever needs it. All methods are safe for concurrent use.
type State struct {
	store  storage.SnapshotStore
	clock  Clock
	logger *slog.Logger

	mu        sync.Mutex
	snap      storage.Snapshot
	lastError string

	retraining atomic.Bool
}

// New loads the persisted snapshot from store and returns the state.
func New(store storage.SnapshotStore) *State {
	return NewWithClock(store, realClock{})
}

// NewWithClock is New with a custom clock (for testing).
func NewWithClock(store storage.SnapshotStore, clock Clock) *State {
	return &State{
		store:  store,
		clock:  clock,
		logger: slog.Default(),
		snap:   store.Load(),
	}
}

func (s *State) now() *time.Time {
	t := s.clock.Now().UTC()
	return &t
}

// persistLocked writes the full snapshot. Failures are logged and swallowed:
// the in-memory state stays authoritative for the process lifetime.
// Callers must hold s.mu, which also serializes writers.
func (s *State) persistLocked() {
	if err := s.store.Save(s.snap.Clone()); err != nil {
		s.logger.Error("could not save state", "error", err)
	}
}

// --- Learning cycle ---

// IncrementLikes records one like event and returns the new count since the
// last retrain.
func (s *State) IncrementLikes() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.LikesSinceLastRetrain++
	s.snap.TotalLikesProcessed++
	s.snap.LastLikeAt = s.now()
	s.persistLocked()
	return s.snap.LikesSinceLastRetrain
}

// ResetLikes marks a completed retrain: the like counter goes to zero and
// TotalRetrains grows by one.
func (s *State) ResetLikes() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.LikesSinceLastRetrain = 0
	s.snap.LastRetrainAt = s.now()
	s.snap.TotalRetrains++
	s.persistLocked()
}

// ResetCounter zeroes the like counter without recording a retrain.
func (s *State) ResetCounter() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.LikesSinceLastRetrain = 0
	s.persistLocked()
}

// LikesSinceLastRetrain returns the current like count.
func (s *State) LikesSinceLastRetrain() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.LikesSinceLastRetrain
}

// BeginRetrain claims the retrain guard. It returns false if a learning cycle
// is already in flight. A successful claim clears the last error.
func (s *State) BeginRetrain() bool {
	if !s.retraining.CompareAndSwap(false, true) {
		return false
	}
	s.SetError("")
	return true
}

// EndRetrain releases the retrain guard.
func (s *State) EndRetrain() {
	s.retraining.Store(false)
}

// IsRetraining reports whether a learning cycle is in flight.
func (s *State) IsRetraining() bool {
	return s.retraining.Load()
}

// SetError records the last workflow failure; "" clears it. Not persisted.
func (s *State) SetError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = msg
}

// LastError returns the last workflow failure message, or "".
func (s *State) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// --- Cached scores ---

// CacheScores replaces the cached structure scores and stamps the cache time.
func (s *State) CacheScores(scores map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.CachedStructureScores = maps.Clone(scores)
	if s.snap.CachedStructureScores == nil {
		s.snap.CachedStructureScores = map[string]float64{}
	}
	s.snap.ScoresCachedAt = s.now()
	s.persistLocked()
}

// CachedScores returns a copy of the cached structure scores (never nil).
func (s *State) CachedScores() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]float64, len(s.snap.CachedStructureScores))
	maps.Copy(out, s.snap.CachedStructureScores)
	return out
}

// ScoresCachedAt returns when scores were last cached, or nil.
func (s *State) ScoresCachedAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.ScoresCachedAt == nil {
		return nil
	}
	t := *s.snap.ScoresCachedAt
	return &t
}

// HasFreshScores reports whether scores were cached less than maxAge ago.
func (s *State) HasFreshScores(maxAge time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap.ScoresCachedAt == nil {
		return false
	}
	return s.clock.Now().Sub(*s.snap.ScoresCachedAt) < maxAge
}

// --- Batch and generation bookkeeping ---

// RecordBatch stores the summary of a completed daily batch.
func (s *State) RecordBatch(summary storage.BatchSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.LastBatchAt = s.now()
	s.snap.TotalBatches++
	s.snap.LastBatchResult = &summary
	s.persistLocked()
}

// RecordGeneration stores the summary of a completed prompt generation.
func (s *State) RecordGeneration(summary storage.GenerationSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.LastGenerationAt = s.now()
	s.snap.TotalGenerations++
	s.snap.LastGenerationResult = &summary
	s.persistLocked()
}

// Snapshot returns a deep copy of the persisted fields.
func (s *State) Snapshot() storage.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Clone()
}
