// Package coordinator runs the orchestrator workflows: the learning cycle,
// the daily batch and manual prompt generation, plus like-event handling
// that triggers learning cycles in the background.
//
// Workflow methods never return Go errors. Failures are captured in the
// returned result and in the process state's last error.
package coordinator

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/anatomie/orchestrator/internal/airtable"
	"github.com/anatomie/orchestrator/internal/generator"
	"github.com/anatomie/orchestrator/internal/observability"
	"github.com/anatomie/orchestrator/internal/optimizer"
	"github.com/anatomie/orchestrator/internal/state"
	"github.com/anatomie/orchestrator/internal/strategist"
)

// Optimizer trains the scoring model and scores structures.
type Optimizer interface {
	Train(ctx context.Context) (*optimizer.TrainResponse, error)
	ScoreStructures(ctx context.Context) (*optimizer.ScoreResponse, error)
	StructureInsights(ctx context.Context) (optimizer.Insights, error)
}

// Generator produces prompts and accepts preference updates.
type Generator interface {
	UpdatePreferences(ctx context.Context, u generator.PreferenceUpdate) (json.RawMessage, error)
	GeneratePrompts(ctx context.Context, n int, renderer string) ([]json.RawMessage, error)
	Warm(ctx context.Context) error
}

// Strategist invents new structure ideas.
type Strategist interface {
	RunBatch(ctx context.Context, req strategist.RunRequest) (*strategist.RunResponse, error)
	Warm(ctx context.Context) error
}

// RecordStore is the tabular store holding structures, settings, prompts
// and history.
type RecordStore interface {
	Configured() bool
	ListRecords(ctx context.Context, table string, maxRecords int) ([]airtable.Record, error)
	UpdateRecord(ctx context.Context, table, id string, fields map[string]any) (*airtable.Record, error)
	CreateRecords(ctx context.Context, table string, records []airtable.Record) ([]airtable.Record, error)
}

// Tables names the record store tables the workflows touch.
type Tables struct {
	Structures    string
	BatchSettings string
	Prompts       string
	History       string
}

// Settings are the static workflow parameters.
type Settings struct {
	LikeThreshold      int
	ExplorationRate    float64
	FallbackNumPrompts int
	FallbackRenderer   string
	ScoreMaxAge        time.Duration
	Tables             Tables
}

const (
	defaultLikeThreshold      = 25
	defaultFallbackNumPrompts = 30
	defaultFallbackRenderer   = "ImageFX"
)

// Deps are the collaborators a Coordinator drives. Recorder, Spans and
// Logger are optional.
type Deps struct {
	State      *state.State
	Optimizer  Optimizer
	Generator  Generator
	Strategist Strategist
	Store      RecordStore
	Recorder   observability.Recorder
	Spans      observability.SpanManager
	Logger     *slog.Logger
}

// Coordinator runs workflows against shared process state.
type Coordinator struct {
	state      *state.State
	optimizer  Optimizer
	generator  Generator
	strategist Strategist
	store      RecordStore
	recorder   observability.Recorder
	spans      observability.SpanManager
	logger     *slog.Logger
	settings   Settings

	scores   singleflight.Group
	bg       sync.WaitGroup
	newRunID func() string
}

// New creates a Coordinator. Zero settings fall back to the service defaults.
func New(d Deps, s Settings) *Coordinator {
	if s.LikeThreshold <= 0 {
		s.LikeThreshold = defaultLikeThreshold
	}
	if s.FallbackNumPrompts <= 0 {
		s.FallbackNumPrompts = defaultFallbackNumPrompts
	}
	if s.FallbackRenderer == "" {
		s.FallbackRenderer = defaultFallbackRenderer
	}
	if s.ScoreMaxAge <= 0 {
		s.ScoreMaxAge = state.DefaultScoreMaxAge
	}
	if d.Recorder == nil {
		d.Recorder = observability.NoopRecorder{}
	}
	if d.Spans == nil {
		d.Spans = observability.NoopSpanManager{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	return &Coordinator{
		state:      d.State,
		optimizer:  d.Optimizer,
		generator:  d.Generator,
		strategist: d.Strategist,
		store:      d.Store,
		recorder:   d.Recorder,
		spans:      d.Spans,
		logger:     d.Logger,
		settings:   s,
		newRunID:   uuid.NewString,
	}
}

// Settings returns the effective workflow settings.
func (c *Coordinator) Settings() Settings { return c.settings }

// State returns the shared process state.
func (c *Coordinator) State() *state.State { return c.state }

func (c *Coordinator) storeConfigured() bool {
	return c.store != nil && c.store.Configured()
}

// Wait blocks until every background learning cycle has finished or ctx is
// done.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
