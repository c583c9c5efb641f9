package coordinator

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/anatomie/orchestrator/internal/storage"
)

// DefaultManualNumPrompts is used by callers that omit a prompt count.
const DefaultManualNumPrompts = 12

var errNoPrompts = errors.New("num_prompts must be positive")

// ManualGenerationOptions parameterize RunManualGeneration. An empty
// Renderer uses the fallback renderer.
type ManualGenerationOptions struct {
	NumPrompts   int    `json:"num_prompts"`
	Renderer     string `json:"renderer,omitempty"`
	ForceRetrain bool   `json:"force_retrain"`
}

// ManualGenerationResult is the outcome of one manual generation.
type ManualGenerationResult struct {
	RunID            string               `json:"run_id,omitempty"`
	Success          bool                 `json:"success"`
	InProgress       bool                 `json:"in_progress,omitempty"`
	RetrainTriggered bool                 `json:"retrain_triggered"`
	Retrain          *LearningCycleResult `json:"retrain_result,omitempty"`
	PromptsGenerated int                  `json:"prompts_generated"`
	PromptsWritten   int                  `json:"prompts_written"`
	Write            *WriteResult         `json:"write_result,omitempty"`
	Renderer         string               `json:"renderer"`
	Error            string               `json:"error,omitempty"`
}

// RunManualGeneration optionally retrains, then requests prompts from the
// generator and writes them to the record store. Like RunDailyBatch it
// ignores cancellation of ctx once started.
func (c *Coordinator) RunManualGeneration(ctx context.Context, opts ManualGenerationOptions) ManualGenerationResult {
	ctx = context.WithoutCancel(ctx)
	renderer := opts.Renderer
	if renderer == "" {
		renderer = c.settings.FallbackRenderer
	}
	if c.state.IsRetraining() {
		return ManualGenerationResult{InProgress: true, Renderer: renderer, Error: ErrRetrainInProgress}
	}

	r := c.startRun(ctx, WorkflowManualGeneration)
	res := ManualGenerationResult{RunID: r.id, Renderer: renderer}

	err := c.manualSteps(r, opts.NumPrompts, renderer, opts.ForceRetrain, &res)
	r.finish(err)
	if err != nil {
		res.Error = err.Error()
		c.state.SetError(res.Error)
		return res
	}
	res.Success = true
	return res
}

func (c *Coordinator) manualSteps(r *run, n int, renderer string, forceRetrain bool, res *ManualGenerationResult) error {
	if n <= 0 {
		return errNoPrompts
	}

	if forceRetrain && !c.state.IsRetraining() {
		r.logger.Info("force retrain requested")
		lc := c.RunLearningCycle(r.ctx)
		if !lc.InProgress {
			res.RetrainTriggered = true
			res.Retrain = &lc
		}
	}

	r.bestEffort("warm_generator", c.generator.Warm)

	var prompts []json.RawMessage
	if err := r.step("generate", func(ctx context.Context) error {
		var err error
		prompts, err = c.generator.GeneratePrompts(ctx, n, renderer)
		return err
	}); err != nil {
		return err
	}
	res.PromptsGenerated = len(prompts)

	if len(prompts) > 0 {
		if err := r.step("write_prompts", func(ctx context.Context) error {
			w := c.writePrompts(ctx, r.logger, prompts)
			res.Write = &w
			res.PromptsWritten = w.Written
			return nil
		}); err != nil {
			return err
		}
	}

	c.state.RecordGeneration(storage.GenerationSummary{
		Prompts:  res.PromptsGenerated,
		Renderer: renderer,
		Manual:   true,
	})
	return nil
}
