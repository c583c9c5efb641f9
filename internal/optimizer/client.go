// Package optimizer is the client for the scoring service that trains on
// liked images and predicts per-structure success scores.
package optimizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/anatomie/orchestrator/internal/upstream"
)

// ServiceName identifies the optimizer in errors, logs and spans.
const ServiceName = "optimizer"

// TrainingFailed prefixes every error returned by Train.
const TrainingFailed = "Training failed"

// Timeouts bounds each optimizer call. Training is by far the slowest.
type Timeouts struct {
	Train time.Duration
	Score time.Duration
}

// Client talks to the optimizer service.
type Client struct {
	http     *upstream.Client
	timeouts Timeouts
}

// NewClient creates an optimizer client for baseURL.
func NewClient(baseURL string, timeouts Timeouts, opts ...upstream.Option) *Client {
	return &Client{
		http:     upstream.New(ServiceName, baseURL, opts...),
		timeouts: timeouts,
	}
}

// TrainResponse is the optimizer's answer to POST /train. Only the status and
// error are interpreted; the rest is passed through.
type TrainResponse struct {
	Status string          `json:"status"`
	Error  any             `json:"error,omitempty"`
	Raw    json.RawMessage `json:"-"`
}

// Failed returns a non-nil error when the payload reports status "error".
func (r *TrainResponse) Failed() error {
	if r.Status != "error" {
		return nil
	}
	msg := errorText(r.Error)
	if msg == "" {
		msg = "optimizer reported status error"
	}
	return fmt.Errorf("%s: %s", TrainingFailed, msg)
}

// Train retrains the optimizer model. A 2xx answer whose status is "error"
// is returned as an error alongside the decoded response.
func (c *Client) Train(ctx context.Context) (*TrainResponse, error) {
	var raw json.RawMessage
	if err := c.http.Do(ctx, http.MethodPost, "/train", nil, struct{}{}, &raw, c.timeouts.Train); err != nil {
		return nil, fmt.Errorf("%s: %w", TrainingFailed, err)
	}
	resp := &TrainResponse{Raw: raw}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, resp); err != nil {
			return nil, fmt.Errorf("%s: decoding response: %w", TrainingFailed, err)
		}
	}
	return resp, resp.Failed()
}

// StructureID accepts both string and numeric identifiers.
type StructureID string

func (id *StructureID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = StructureID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("structure_id: %w", err)
	}
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		*id = StructureID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = StructureID(n.String())
	return nil
}

// Structure is one scored blueprint.
type Structure struct {
	StructureID           StructureID `json:"structure_id"`
	PredictedSuccessScore *float64    `json:"predicted_success_score"`
}

// ScoreResponse is the optimizer's answer to POST /score_structures.
type ScoreResponse struct {
	Structures             []Structure     `json:"structures"`
	GlobalPreferenceVector json.RawMessage `json:"global_preference_vector,omitempty"`
	Error                  any             `json:"error,omitempty"`
}

// Err returns a non-nil error when the payload carries an error field.
func (r *ScoreResponse) Err() error {
	if r.Error == nil {
		return nil
	}
	msg := errorText(r.Error)
	if msg == "" {
		return nil
	}
	return fmt.Errorf("scoring failed: %s", msg)
}

// Scores maps each structure that has both an id and a score to its score.
func (r *ScoreResponse) Scores() map[string]float64 {
	out := make(map[string]float64, len(r.Structures))
	for _, s := range r.Structures {
		if s.StructureID == "" || s.PredictedSuccessScore == nil {
			continue
		}
		out[string(s.StructureID)] = *s.PredictedSuccessScore
	}
	return out
}

// PreferenceScores maps every identified structure to its score, using def
// where the score is missing.
func (r *ScoreResponse) PreferenceScores(def float64) map[string]float64 {
	out := make(map[string]float64, len(r.Structures))
	for _, s := range r.Structures {
		if s.StructureID == "" {
			continue
		}
		if s.PredictedSuccessScore == nil {
			out[string(s.StructureID)] = def
			continue
		}
		out[string(s.StructureID)] = *s.PredictedSuccessScore
	}
	return out
}

// PreferenceVector returns the global preference vector, or {} if absent.
func (r *ScoreResponse) PreferenceVector() json.RawMessage {
	if len(r.GlobalPreferenceVector) == 0 || string(r.GlobalPreferenceVector) == "null" {
		return json.RawMessage("{}")
	}
	return r.GlobalPreferenceVector
}

// ScoreStructures asks the optimizer to score every known structure.
func (c *Client) ScoreStructures(ctx context.Context) (*ScoreResponse, error) {
	var resp ScoreResponse
	if err := c.http.Do(ctx, http.MethodPost, "/score_structures", nil, struct{}{}, &resp, c.timeouts.Score); err != nil {
		return nil, fmt.Errorf("scoring failed: %w", err)
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Insights is the per-structure prompt insight document.
type Insights struct {
	Status   string         `json:"status,omitempty"`
	Insights map[string]any `json:"insights"`
}

// NotAvailable is substituted when insights cannot be fetched.
func NotAvailable() Insights {
	return Insights{Status: "not_available", Insights: map[string]any{}}
}

// StructureInsights fetches prompt insights per structure.
func (c *Client) StructureInsights(ctx context.Context) (Insights, error) {
	var resp Insights
	if err := c.http.Do(ctx, http.MethodGet, "/structure_prompt_insights", nil, nil, &resp, c.timeouts.Score); err != nil {
		return Insights{}, err
	}
	if resp.Insights == nil {
		resp.Insights = map[string]any{}
	}
	return resp, nil
}

func errorText(v any) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return e
	default:
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Sprint(e)
		}
		return string(b)
	}
}
