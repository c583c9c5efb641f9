package coordinator

import (
	"context"
	"log/slog"
)

// OptimizerScores returns cached structure scores when fresh. Otherwise it
// fetches and caches new ones, falling back to the (possibly stale or empty)
// cache when the fetch fails. Concurrent refreshes share one request.
func (c *Coordinator) OptimizerScores(ctx context.Context) map[string]float64 {
	return c.optimizerScores(ctx, c.logger)
}

func (c *Coordinator) optimizerScores(ctx context.Context, logger *slog.Logger) map[string]float64 {
	if c.state.HasFreshScores(c.settings.ScoreMaxAge) {
		logger.Info("using cached optimizer scores")
		return c.state.CachedScores()
	}

	logger.Info("fetching fresh optimizer scores")
	_, err, shared := c.scores.Do("scores", func() (any, error) {
		resp, err := c.optimizer.ScoreStructures(ctx)
		if err != nil {
			return nil, err
		}
		c.state.CacheScores(resp.Scores())
		return nil, nil
	})
	if err != nil {
		logger.Warn("could not fetch fresh scores, using cached", "error", err)
	} else if shared {
		logger.Debug("joined in-flight score refresh")
	}
	return c.state.CachedScores()
}
