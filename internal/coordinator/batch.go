package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anatomie/orchestrator/internal/storage"
	"github.com/anatomie/orchestrator/internal/strategist"
)

// DailyBatchOptions parameterize RunDailyBatch.
type DailyBatchOptions struct {
	ForceRetrain bool `json:"force_retrain"`
}

// Notification tells the caller whether and where to mail the summary.
type Notification struct {
	Enabled bool   `json:"enabled"`
	Email   string `json:"email,omitempty"`
}

// DailyBatchResult is the outcome of one daily batch.
type DailyBatchResult struct {
	RunID            string               `json:"run_id,omitempty"`
	Success          bool                 `json:"success"`
	Skipped          bool                 `json:"skipped,omitempty"`
	InProgress       bool                 `json:"in_progress,omitempty"`
	RetrainTriggered bool                 `json:"retrain_triggered"`
	Retrain          *LearningCycleResult `json:"retrain_result,omitempty"`
	IdeasGenerated   int                  `json:"ideas_generated"`
	PromptsGenerated int                  `json:"prompts_generated"`
	PromptsWritten   int                  `json:"prompts_written"`
	Write            *WriteResult         `json:"write_result,omitempty"`
	Settings         *BatchSettings       `json:"settings,omitempty"`
	Notification     Notification         `json:"notification"`
	Error            string               `json:"error,omitempty"`
}

// Summary is the human-readable line mailed after a batch.
func (r DailyBatchResult) Summary() string {
	switch {
	case r.InProgress:
		return "Retrain in progress. Try again later."
	case r.Skipped:
		return "Daily batch disabled in settings."
	}
	var parts []string
	if r.RetrainTriggered {
		parts = append(parts, "Learning cycle completed")
	}
	parts = append(parts,
		fmt.Sprintf("%d new structure ideas generated", r.IdeasGenerated),
		fmt.Sprintf("%d prompts created", r.PromptsGenerated),
	)
	return strings.Join(parts, ". ") + "."
}

// RunDailyBatch optionally retrains, then asks the strategist for new ideas
// and the generator for the configured number of prompts, and writes the
// prompts to the record store. A started batch runs to completion even if
// ctx is cancelled; per-call timeouts bound each step.
func (c *Coordinator) RunDailyBatch(ctx context.Context, opts DailyBatchOptions) DailyBatchResult {
	ctx = context.WithoutCancel(ctx)
	if c.state.IsRetraining() {
		return DailyBatchResult{InProgress: true, Error: ErrRetrainInProgress}
	}

	r := c.startRun(ctx, WorkflowDailyBatch)
	res := DailyBatchResult{RunID: r.id}

	err := c.batchSteps(r, opts, &res)
	r.finish(err)
	if err != nil {
		res.Error = err.Error()
		c.state.SetError(res.Error)
		return res
	}
	res.Success = true
	return res
}

func (c *Coordinator) batchSteps(r *run, opts DailyBatchOptions, res *DailyBatchResult) error {
	settings := c.fallbackBatchSettings()
	r.bestEffort("fetch_settings", func(ctx context.Context) error {
		var err error
		settings, err = c.FetchBatchSettings(ctx)
		return err
	})
	res.Settings = &settings
	res.Notification = Notification{Enabled: settings.EmailNotifications, Email: settings.NotificationEmail}
	r.logger.Info("batch settings",
		"num_prompts", settings.NumPrompts, "renderer", settings.Renderer, "source", settings.Source)

	if !settings.BatchEnabled {
		r.logger.Info("daily batch disabled, skipping")
		res.Skipped = true
		return nil
	}

	shouldRetrain := opts.ForceRetrain || c.state.LikesSinceLastRetrain() >= c.settings.LikeThreshold
	if shouldRetrain && !c.state.IsRetraining() {
		r.logger.Info("running learning cycle before batch", "forced", opts.ForceRetrain)
		lc := c.RunLearningCycle(r.ctx)
		if !lc.InProgress {
			res.RetrainTriggered = true
			res.Retrain = &lc
		}
	}

	r.bestEffort("warm_strategist", c.strategist.Warm)

	var scores map[string]float64
	if err := r.step("optimizer_scores", func(ctx context.Context) error {
		scores = c.optimizerScores(ctx, r.logger)
		return nil
	}); err != nil {
		return err
	}

	if err := r.step("strategist", func(ctx context.Context) error {
		resp, err := c.strategist.RunBatch(ctx, strategist.RunRequest{
			ExplorationRate: c.settings.ExplorationRate,
			OptimizerScores: scores,
		})
		if err != nil {
			return err
		}
		res.IdeasGenerated = resp.TotalGenerated
		return nil
	}); err != nil {
		return err
	}

	r.bestEffort("warm_generator", c.generator.Warm)

	var prompts []json.RawMessage
	if err := r.step("generate", func(ctx context.Context) error {
		var err error
		prompts, err = c.generator.GeneratePrompts(ctx, settings.NumPrompts, settings.Renderer)
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

	c.state.RecordBatch(storage.BatchSummary{
		Ideas:            res.IdeasGenerated,
		Prompts:          res.PromptsGenerated,
		RetrainTriggered: res.RetrainTriggered,
	})
	r.logger.Info("daily batch complete",
		"ideas", res.IdeasGenerated, "prompts", res.PromptsGenerated, "written", res.PromptsWritten)
	return nil
}
