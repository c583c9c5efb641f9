// Package strategist is the client for the service that invents new
// structure ideas from optimizer feedback.
package strategist

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/anatomie/orchestrator/internal/upstream"
)

// ServiceName identifies the strategist in errors, logs and spans.
const ServiceName = "strategist"

const healthPath = "/api/health"

// Timeouts bounds each strategist call.
type Timeouts struct {
	Run    time.Duration
	Warmup time.Duration
}

// Client talks to the strategist service.
type Client struct {
	http     *upstream.Client
	timeouts Timeouts
}

// NewClient creates a strategist client for baseURL.
func NewClient(baseURL string, timeouts Timeouts, opts ...upstream.Option) *Client {
	return &Client{
		http:     upstream.New(ServiceName, baseURL, opts...),
		timeouts: timeouts,
	}
}

// RunRequest is the body of POST /api/batch/run.
type RunRequest struct {
	ExplorationRate float64            `json:"exploration_rate"`
	OptimizerScores map[string]float64 `json:"optimizer_scores"`
}

// RunResponse is the strategist's batch answer.
type RunResponse struct {
	TotalGenerated int             `json:"totalGenerated"`
	Raw            json.RawMessage `json:"-"`
}

// RunBatch asks the strategist for a new batch of structure ideas.
func (c *Client) RunBatch(ctx context.Context, req RunRequest) (*RunResponse, error) {
	if req.OptimizerScores == nil {
		req.OptimizerScores = map[string]float64{}
	}

	var raw json.RawMessage
	if err := c.http.Do(ctx, http.MethodPost, "/api/batch/run", nil, req, &raw, c.timeouts.Run); err != nil {
		return nil, err
	}
	resp := &RunResponse{Raw: raw}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, resp); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// Warm pings the strategist health endpoint.
func (c *Client) Warm(ctx context.Context) error {
	return c.http.Ping(ctx, healthPath, c.timeouts.Warmup)
}
