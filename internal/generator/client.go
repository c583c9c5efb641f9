// Package generator is the client for the prompt generation service.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/anatomie/orchestrator/internal/upstream"
)

// ServiceName identifies the generator in errors, logs and spans.
const ServiceName = "generator"

const (
	// DefaultBatchSize is the largest prompt count sent in one request.
	DefaultBatchSize = 10
	// DefaultBatchPause separates consecutive sub-requests.
	DefaultBatchPause = 2 * time.Second

	healthPath = "/health"
)

// Timeouts bounds each generator call.
type Timeouts struct {
	Update   time.Duration
	Generate time.Duration
	Warmup   time.Duration
}

// Client talks to the generator service.
type Client struct {
	http      *upstream.Client
	timeouts  Timeouts
	batchSize int
	pause     time.Duration
	sleep     func(context.Context, time.Duration) error
	logger    *slog.Logger
}

// NewClient creates a generator client for baseURL.
func NewClient(baseURL string, timeouts Timeouts, opts ...upstream.Option) *Client {
	return &Client{
		http:      upstream.New(ServiceName, baseURL, opts...),
		timeouts:  timeouts,
		batchSize: DefaultBatchSize,
		pause:     DefaultBatchPause,
		sleep:     sleepCtx,
		logger:    slog.Default(),
	}
}

// SetBatchPause changes the pause between sub-requests.
func (c *Client) SetBatchPause(d time.Duration) { c.pause = d }

// PreferenceUpdate is the body of POST /update_preferences.
type PreferenceUpdate struct {
	GlobalPreferenceVector  json.RawMessage    `json:"global_preference_vector"`
	ExplorationRate         float64            `json:"exploration_rate"`
	StructureScores         map[string]float64 `json:"structure_scores"`
	StructurePromptInsights map[string]any     `json:"structure_prompt_insights"`
}

// UpdatePreferences pushes fresh scores and insights to the generator and
// returns its raw acknowledgement.
func (c *Client) UpdatePreferences(ctx context.Context, u PreferenceUpdate) (json.RawMessage, error) {
	if len(u.GlobalPreferenceVector) == 0 {
		u.GlobalPreferenceVector = json.RawMessage("{}")
	}
	if u.StructureScores == nil {
		u.StructureScores = map[string]float64{}
	}
	if u.StructurePromptInsights == nil {
		u.StructurePromptInsights = map[string]any{}
	}

	var ack json.RawMessage
	if err := c.http.Do(ctx, http.MethodPost, "/update_preferences", nil, u, &ack, c.timeouts.Update); err != nil {
		return nil, err
	}
	return ack, nil
}

type generateRequest struct {
	NumPrompts int    `json:"num_prompts"`
	Renderer   string `json:"renderer"`
}

type generateResponse struct {
	Prompts []json.RawMessage `json:"prompts"`
}

// GeneratePrompts requests n prompts for renderer. Requests larger than the
// batch size are split into sequential sub-requests with a pause between
// them; results keep request order. Any failed sub-request fails the call.
func (c *Client) GeneratePrompts(ctx context.Context, n int, renderer string) ([]json.RawMessage, error) {
	var all []json.RawMessage
	remaining := n
	batch := 0

	for remaining > 0 {
		batch++
		size := min(remaining, c.batchSize)
		c.logger.Debug("generator batch", "batch", batch, "requested", size)

		var resp generateResponse
		err := c.http.Do(ctx, http.MethodPost, "/generate-prompts", nil,
			generateRequest{NumPrompts: size, Renderer: renderer}, &resp, c.timeouts.Generate)
		if err != nil {
			return nil, fmt.Errorf("generator batch %d: %w", batch, err)
		}
		all = append(all, resp.Prompts...)

		remaining -= size
		if remaining > 0 {
			if err := c.sleep(ctx, c.pause); err != nil {
				return nil, err
			}
		}
	}

	c.logger.Info("generator complete", "prompts", len(all), "batches", batch)
	return all, nil
}

// Warm pings the generator health endpoint.
func (c *Client) Warm(ctx context.Context) error {
	return c.http.Ping(ctx, healthPath, c.timeouts.Warmup)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
