package coordinator

import (
	"context"
	"encoding/json"

	"github.com/anatomie/orchestrator/internal/generator"
	"github.com/anatomie/orchestrator/internal/optimizer"
)

// ErrRetrainInProgress is the error string returned by workflows that refuse
// to start while a learning cycle runs.
const ErrRetrainInProgress = "retrain_in_progress"

// defaultStructureScore is sent to the generator for structures the
// optimizer returned without a score.
const defaultStructureScore = 0.5

// LearningCycleResult is the outcome of one learning cycle.
type LearningCycleResult struct {
	RunID            string              `json:"run_id,omitempty"`
	Success          bool                `json:"success"`
	InProgress       bool                `json:"in_progress,omitempty"`
	Error            string              `json:"error,omitempty"`
	Train            json.RawMessage     `json:"train,omitempty"`
	StructuresScored int                 `json:"structures_scored"`
	Insights         *optimizer.Insights `json:"insights,omitempty"`
	GeneratorUpdate  json.RawMessage     `json:"generator_update,omitempty"`
	StoreUpdate      *ScoreUpdateResult  `json:"store_update,omitempty"`
}

// RunLearningCycle trains the optimizer, scores structures, pushes the
// scores to the generator and the record store, caches them and resets the
// like counter. It returns immediately with InProgress set when another
// cycle is running. Cancelling ctx does not stop a started cycle.
func (c *Coordinator) RunLearningCycle(ctx context.Context) LearningCycleResult {
	if !c.state.BeginRetrain() {
		return LearningCycleResult{InProgress: true, Error: ErrRetrainInProgress}
	}
	return c.runClaimedLearningCycle(context.WithoutCancel(ctx))
}

// StartLearningCycle claims the retrain guard and runs a learning cycle in
// the background. The cycle outlives ctx cancellation; use Wait to drain.
// It reports false when a cycle is already running.
func (c *Coordinator) StartLearningCycle(ctx context.Context) bool {
	if !c.state.BeginRetrain() {
		return false
	}
	bgCtx := context.WithoutCancel(ctx)
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		c.runClaimedLearningCycle(bgCtx)
	}()
	return true
}

// runClaimedLearningCycle expects the caller to hold the retrain guard and
// always releases it.
func (c *Coordinator) runClaimedLearningCycle(ctx context.Context) (res LearningCycleResult) {
	defer c.state.EndRetrain()

	r := c.startRun(ctx, WorkflowLearningCycle)
	res.RunID = r.id

	err := c.learningSteps(r, &res)
	r.finish(err)
	if err != nil {
		res.Error = err.Error()
		c.state.SetError(res.Error)
		return res
	}
	res.Success = true
	return res
}

func (c *Coordinator) learningSteps(r *run, res *LearningCycleResult) error {
	err := r.step("train", func(ctx context.Context) error {
		tr, err := c.optimizer.Train(ctx)
		if tr != nil {
			res.Train = tr.Raw
		}
		return err
	})
	if err != nil {
		return err
	}

	var scores *optimizer.ScoreResponse
	err = r.step("score", func(ctx context.Context) error {
		var err error
		scores, err = c.optimizer.ScoreStructures(ctx)
		return err
	})
	if err != nil {
		return err
	}
	res.StructuresScored = len(scores.Structures)

	insights := optimizer.NotAvailable()
	r.bestEffort("insights", func(ctx context.Context) error {
		got, err := c.optimizer.StructureInsights(ctx)
		if err != nil {
			return err
		}
		insights = got
		return nil
	})
	res.Insights = &insights

	err = r.step("update_generator", func(ctx context.Context) error {
		ack, err := c.generator.UpdatePreferences(ctx, generator.PreferenceUpdate{
			GlobalPreferenceVector:  scores.PreferenceVector(),
			ExplorationRate:         c.settings.ExplorationRate,
			StructureScores:         scores.PreferenceScores(defaultStructureScore),
			StructurePromptInsights: insights.Insights,
		})
		res.GeneratorUpdate = ack
		return err
	})
	if err != nil {
		return err
	}

	err = r.step("update_store", func(ctx context.Context) error {
		u := c.updateStoreScores(ctx, r, scores)
		res.StoreUpdate = &u
		return nil
	})
	if err != nil {
		return err
	}

	cached := scores.Scores()
	c.state.CacheScores(cached)
	r.logger.Info("cached structure scores", "count", len(cached))

	c.state.ResetLikes()
	return nil
}
