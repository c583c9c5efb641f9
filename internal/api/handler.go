package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/anatomie/orchestrator/internal/coordinator"
	"github.com/anatomie/orchestrator/internal/observability"
	"github.com/anatomie/orchestrator/internal/state"
)

const (
	maxRequestBodySize = 64 << 10 // 64KB
	serviceName        = "anatomie-orchestrator"
)

// Workflows is the coordinator surface exposed over HTTP and MCP.
type Workflows interface {
	RecordLike(ctx context.Context, ev coordinator.LikeEvent) coordinator.LikeOutcome
	RunDailyBatch(ctx context.Context, opts coordinator.DailyBatchOptions) coordinator.DailyBatchResult
	RunManualGeneration(ctx context.Context, opts coordinator.ManualGenerationOptions) coordinator.ManualGenerationResult
	StartLearningCycle(ctx context.Context) bool
}

// MetricsCollector reads the current metric values.
type MetricsCollector interface {
	Collect(ctx context.Context) ([]observability.MetricPoint, error)
}

type Deps struct {
	Workflows Workflows
	State     *state.State
	Settings  coordinator.Settings
	Metrics   MetricsCollector // optional; if nil, /metrics returns 404
	Token     string           // empty disables auth on admin routes
	Version   string
}

// NewHandler returns the orchestrator HTTP API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", handleRoot(deps))
	r.Get("/health", handleHealth(deps))
	r.Get("/status", handleStatus(deps))
	r.Get("/scores", handleScores(deps))

	r.Post("/events/like", handleLike(deps))
	r.Post("/like_event", handleLike(deps))
	r.Post("/events/daily_batch", handleDailyBatch(deps))
	r.Post("/events/manual_generate", handleManualGenerate(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/trigger_retrain", handleTriggerRetrain(deps))
		r.Post("/reset_counter", handleResetCounter(deps))
		r.Get("/metrics", handleMetrics(deps))
	})

	return r
}

// decodeOptional decodes a JSON body into v. An empty body leaves v untouched.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func handleRoot(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{
			"service": serviceName,
			"version": deps.Version,
			"status":  "running",
		})
	}
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := deps.State.Snapshot()
		writeJSON(w, map[string]any{
			"status":                   "healthy",
			"likes_since_last_retrain": snap.LikesSinceLastRetrain,
			"threshold":                deps.Settings.LikeThreshold,
			"is_retraining":            deps.State.IsRetraining(),
			"total_batches":            snap.TotalBatches,
			"total_generations":        snap.TotalGenerations,
		})
	}
}

type statusResponse struct {
	Service         string  `json:"service"`
	Version         string  `json:"version"`
	Threshold       int     `json:"threshold"`
	ExplorationRate float64 `json:"exploration_rate"`
	state.Status
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, statusResponse{
			Service:         serviceName,
			Version:         deps.Version,
			Threshold:       deps.Settings.LikeThreshold,
			ExplorationRate: deps.Settings.ExplorationRate,
			Status:          deps.State.Status(),
		})
	}
}

type scoresResponse struct {
	Scores   map[string]float64 `json:"scores"`
	CachedAt *time.Time         `json:"cached_at"`
	IsFresh  bool               `json:"is_fresh"`
	Count    int                `json:"count"`
}

func handleScores(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scores := deps.State.CachedScores()
		if scores == nil {
			scores = map[string]float64{}
		}
		writeJSON(w, scoresResponse{
			Scores:   scores,
			CachedAt: deps.State.ScoresCachedAt(),
			IsFresh:  deps.State.HasFreshScores(deps.Settings.ScoreMaxAge),
			Count:    len(scores),
		})
	}
}

func handleLike(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev coordinator.LikeEvent
		if err := decodeOptional(w, r, &ev); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		writeJSON(w, deps.Workflows.RecordLike(r.Context(), ev))
	}
}

type dailyBatchResponse struct {
	coordinator.DailyBatchResult
	Summary string `json:"summary"`
}

func handleDailyBatch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var opts coordinator.DailyBatchOptions
		if err := decodeOptional(w, r, &opts); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		res := deps.Workflows.RunDailyBatch(r.Context(), opts)
		writeJSON(w, dailyBatchResponse{DailyBatchResult: res, Summary: res.Summary()})
	}
}

type manualGenerateRequest struct {
	NumPrompts   *int   `json:"num_prompts"`
	Renderer     string `json:"renderer"`
	ForceRetrain bool   `json:"force_retrain"`
}

func handleManualGenerate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req manualGenerateRequest
		if err := decodeOptional(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		n := coordinator.DefaultManualNumPrompts
		if req.NumPrompts != nil {
			n = *req.NumPrompts
		}
		if n <= 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "num_prompts must be positive, got %d", n)
			return
		}
		writeJSON(w, deps.Workflows.RunManualGeneration(r.Context(), coordinator.ManualGenerationOptions{
			NumPrompts:   n,
			Renderer:     req.Renderer,
			ForceRetrain: req.ForceRetrain,
		}))
	}
}

func handleTriggerRetrain(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !deps.Workflows.StartLearningCycle(r.Context()) {
			httpError(w, http.StatusConflict, "conflict", "Retrain already in progress")
			return
		}
		writeJSON(w, map[string]string{
			"status":  "triggered",
			"message": "Learning cycle started in background",
		})
	}
}

func handleResetCounter(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prev := deps.State.LikesSinceLastRetrain()
		deps.State.ResetCounter()
		writeJSON(w, map[string]any{
			"status":                   "reset",
			"previous_count":           prev,
			"likes_since_last_retrain": 0,
		})
	}
}

func handleMetrics(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Metrics == nil {
			httpError(w, http.StatusNotFound, "not_found", "metrics not enabled")
			return
		}
		points, err := deps.Metrics.Collect(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "collecting metrics: %v", err)
			return
		}
		if points == nil {
			points = []observability.MetricPoint{}
		}
		writeJSON(w, points)
	}
}
