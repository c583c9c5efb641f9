package state

import (
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anatomie/orchestrator/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memStore is an in-memory SnapshotStore that counts saves.
type memStore struct {
	mu      sync.Mutex
	snap    storage.Snapshot
	saves   int
	saveErr error
}

func (m *memStore) Load() storage.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.Clone()
}

func (m *memStore) Save(s storage.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.snap = s.Clone()
	return nil
}

func (m *memStore) Close() error { return nil }

func newTestState(t *testing.T) (*State, *memStore, *fakeClock) {
	t.Helper()
	store := &memStore{}
	clock := newFakeClock()
	return NewWithClock(store, clock), store, clock
}

func TestIncrementAndResetLikes(t *testing.T) {
	s, store, clock := newTestState(t)

	if got := s.LikesSinceLastRetrain(); got != 0 {
		t.Fatalf("initial likes = %d, want 0", got)
	}
	if got := s.IncrementLikes(); got != 1 {
		t.Errorf("first IncrementLikes = %d, want 1", got)
	}
	if got := s.IncrementLikes(); got != 2 {
		t.Errorf("second IncrementLikes = %d, want 2", got)
	}

	snap := s.Snapshot()
	if snap.TotalLikesProcessed != 2 {
		t.Errorf("TotalLikesProcessed = %d, want 2", snap.TotalLikesProcessed)
	}
	if snap.LastLikeAt == nil || !snap.LastLikeAt.Equal(clock.Now()) {
		t.Errorf("LastLikeAt = %v, want %v", snap.LastLikeAt, clock.Now())
	}

	clock.Advance(time.Minute)
	s.ResetLikes()
	snap = s.Snapshot()
	if snap.LikesSinceLastRetrain != 0 {
		t.Errorf("likes after reset = %d, want 0", snap.LikesSinceLastRetrain)
	}
	if snap.TotalRetrains != 1 {
		t.Errorf("TotalRetrains = %d, want 1", snap.TotalRetrains)
	}
	if snap.TotalLikesProcessed != 2 {
		t.Errorf("TotalLikesProcessed changed on reset: %d", snap.TotalLikesProcessed)
	}
	if snap.LastRetrainAt == nil || !snap.LastRetrainAt.Equal(clock.Now()) {
		t.Errorf("LastRetrainAt = %v, want %v", snap.LastRetrainAt, clock.Now())
	}

	// Every mutation writes through.
	if store.saves != 3 {
		t.Errorf("saves = %d, want 3", store.saves)
	}
	if store.snap.TotalRetrains != 1 {
		t.Errorf("persisted TotalRetrains = %d, want 1", store.snap.TotalRetrains)
	}
}

func TestResetLikes_AlwaysIncrementsRetrainsByOne(t *testing.T) {
	for _, prior := range []int{0, 1, 24, 25, 1000} {
		s, _, _ := newTestState(t)
		for range prior {
			s.IncrementLikes()
		}
		before := s.Snapshot().TotalRetrains

		s.ResetLikes()

		snap := s.Snapshot()
		if snap.LikesSinceLastRetrain != 0 {
			t.Errorf("prior=%d: likes = %d, want 0", prior, snap.LikesSinceLastRetrain)
		}
		if snap.TotalRetrains != before+1 {
			t.Errorf("prior=%d: TotalRetrains = %d, want %d", prior, snap.TotalRetrains, before+1)
		}
	}
}

func TestResetCounter_KeepsRetrainCount(t *testing.T) {
	s, _, _ := newTestState(t)
	s.IncrementLikes()
	s.IncrementLikes()

	s.ResetCounter()

	snap := s.Snapshot()
	if snap.LikesSinceLastRetrain != 0 || snap.TotalRetrains != 0 || snap.LastRetrainAt != nil {
		t.Errorf("ResetCounter snapshot = %+v", snap)
	}
}

func TestHasFreshScores(t *testing.T) {
	s, _, clock := newTestState(t)

	if s.HasFreshScores(DefaultScoreMaxAge) {
		t.Error("HasFreshScores = true on fresh state, want false")
	}

	s.CacheScores(map[string]float64{"s1": 0.8})
	if !s.HasFreshScores(DefaultScoreMaxAge) {
		t.Error("HasFreshScores = false right after CacheScores, want true")
	}

	clock.Advance(23*time.Hour + 59*time.Minute)
	if !s.HasFreshScores(DefaultScoreMaxAge) {
		t.Error("HasFreshScores = false just under 24h, want true")
	}

	clock.Advance(2 * time.Minute)
	if s.HasFreshScores(DefaultScoreMaxAge) {
		t.Error("HasFreshScores = true past 24h, want false")
	}
}

func TestCacheScores_CopiesInput(t *testing.T) {
	s, _, clock := newTestState(t)
	in := map[string]float64{"s1": 0.8, "s2": 0.6}

	s.CacheScores(in)
	in["s1"] = 0.0

	got := s.CachedScores()
	if got["s1"] != 0.8 || got["s2"] != 0.6 {
		t.Errorf("CachedScores = %v", got)
	}
	got["s2"] = 0.0
	if s.CachedScores()["s2"] != 0.6 {
		t.Error("CachedScores returned the internal map")
	}
	if at := s.ScoresCachedAt(); at == nil || !at.Equal(clock.Now()) {
		t.Errorf("ScoresCachedAt = %v", at)
	}

	s.CacheScores(nil)
	if got := s.CachedScores(); got == nil || len(got) != 0 {
		t.Errorf("CachedScores after nil cache = %v, want empty map", got)
	}
}

func TestRecordBatchAndGeneration(t *testing.T) {
	s, _, clock := newTestState(t)

	s.RecordBatch(storage.BatchSummary{Ideas: 3, Prompts: 30})
	s.RecordBatch(storage.BatchSummary{Ideas: 5, Prompts: 12, RetrainTriggered: true})
	s.RecordGeneration(storage.GenerationSummary{Prompts: 4, Renderer: "Midjourney", Manual: true})

	snap := s.Snapshot()
	if snap.TotalBatches != 2 {
		t.Errorf("TotalBatches = %d, want 2", snap.TotalBatches)
	}
	if snap.LastBatchResult == nil || snap.LastBatchResult.Ideas != 5 || !snap.LastBatchResult.RetrainTriggered {
		t.Errorf("LastBatchResult = %+v", snap.LastBatchResult)
	}
	if snap.TotalGenerations != 1 || snap.LastGenerationResult.Renderer != "Midjourney" {
		t.Errorf("generation fields = %d %+v", snap.TotalGenerations, snap.LastGenerationResult)
	}
	if !snap.LastBatchAt.Equal(clock.Now()) || !snap.LastGenerationAt.Equal(clock.Now()) {
		t.Error("timestamps not stamped from clock")
	}
}

func TestBeginRetrain_OnlyOneWinner(t *testing.T) {
	s, _, _ := newTestState(t)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.BeginRetrain() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("BeginRetrain winners = %d, want 1", wins.Load())
	}
	if !s.IsRetraining() {
		t.Error("IsRetraining = false while claimed")
	}

	s.EndRetrain()
	if s.IsRetraining() {
		t.Error("IsRetraining = true after EndRetrain")
	}
	if !s.BeginRetrain() {
		t.Error("BeginRetrain failed after release")
	}
}

func TestBeginRetrain_ClearsLastError(t *testing.T) {
	s, _, _ := newTestState(t)
	s.SetError("boom")

	if !s.BeginRetrain() {
		t.Fatal("BeginRetrain = false")
	}
	if got := s.LastError(); got != "" {
		t.Errorf("LastError = %q, want empty", got)
	}
}

func TestConcurrentLikesAreNotLost(t *testing.T) {
	s, _, _ := newTestState(t)

	const n = 200
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.IncrementLikes()
		}()
	}
	wg.Wait()

	if got := s.LikesSinceLastRetrain(); got != n {
		t.Errorf("likes = %d, want %d", got, n)
	}
}

func TestSaveFailureKeepsMemoryState(t *testing.T) {
	s, store, _ := newTestState(t)
	store.saveErr = errors.New("disk full")

	if got := s.IncrementLikes(); got != 1 {
		t.Errorf("IncrementLikes = %d, want 1", got)
	}
	if got := s.LikesSinceLastRetrain(); got != 1 {
		t.Errorf("likes = %d, want 1", got)
	}
}

func TestPersistedFieldsSurviveRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), storage.StateFileName)

	s1 := New(storage.NewFileStore(path))
	s1.IncrementLikes()
	s1.IncrementLikes()
	s1.CacheScores(map[string]float64{"s1": 0.9})
	s1.RecordBatch(storage.BatchSummary{Ideas: 1, Prompts: 2})
	s1.BeginRetrain()
	s1.SetError("left over")

	s2 := New(storage.NewFileStore(path))
	if got := s2.LikesSinceLastRetrain(); got != 2 {
		t.Errorf("likes after restart = %d, want 2", got)
	}
	if got := s2.CachedScores()["s1"]; got != 0.9 {
		t.Errorf("cached score after restart = %v, want 0.9", got)
	}
	if got := s2.Snapshot().TotalBatches; got != 1 {
		t.Errorf("TotalBatches after restart = %d, want 1", got)
	}
	// Transient fields reset.
	if s2.IsRetraining() {
		t.Error("IsRetraining survived restart")
	}
	if s2.LastError() != "" {
		t.Error("LastError survived restart")
	}
}

func TestStatus(t *testing.T) {
	s, _, _ := newTestState(t)
	s.IncrementLikes()
	s.CacheScores(map[string]float64{"a": 1, "b": 0.5})

	st := s.Status()
	if st.LikesSinceLastRetrain != 1 || st.CachedScoresCount != 2 {
		t.Errorf("Status = %+v", st)
	}
	if st.LastError != nil {
		t.Errorf("LastError = %q, want nil", *st.LastError)
	}

	s.SetError("oom")
	s.BeginRetrain()
	st = s.Status()
	if !st.IsRetraining {
		t.Error("IsRetraining = false")
	}
	// BeginRetrain cleared the error.
	if st.LastError != nil {
		t.Errorf("LastError = %q, want nil", *st.LastError)
	}
	s.SetError("oom")
	if st := s.Status(); st.LastError == nil || *st.LastError != "oom" {
		t.Errorf("LastError = %v, want oom", st.LastError)
	}
}
