package coordinator

import (
	"context"
	"fmt"
)

// Like outcome statuses.
const (
	LikeRecorded         = "recorded"
	LikeThresholdReached = "threshold_reached"
	LikeQueued           = "queued"
)

// LikeEvent identifies the liked image. All fields are informational.
type LikeEvent struct {
	RecordID    string `json:"record_id,omitempty"`
	StructureID string `json:"structure_id,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

// LikeOutcome reports what a like event did.
type LikeOutcome struct {
	Status                string `json:"status"`
	LikesSinceLastRetrain int    `json:"likes_since_last_retrain"`
	Threshold             int    `json:"threshold"`
	ThresholdReached      bool   `json:"threshold_reached"`
	RetrainTriggered      bool   `json:"retrain_triggered"`
	Message               string `json:"message"`
}

// RecordLike counts a like and starts a background learning cycle once the
// threshold is reached. Likes arriving during a learning cycle are not
// counted.
func (c *Coordinator) RecordLike(ctx context.Context, ev LikeEvent) LikeOutcome {
	threshold := c.settings.LikeThreshold
	out := c.recordLike(ctx, threshold)
	c.recorder.RecordLike(ctx, out.Status)
	c.logger.Info("like event",
		"status", out.Status,
		"likes_since_last_retrain", out.LikesSinceLastRetrain,
		"threshold", threshold,
		"record_id", ev.RecordID,
		"structure_id", ev.StructureID,
	)
	return out
}

func (c *Coordinator) recordLike(ctx context.Context, threshold int) LikeOutcome {
	if c.state.IsRetraining() {
		return LikeOutcome{
			Status:                LikeQueued,
			LikesSinceLastRetrain: c.state.LikesSinceLastRetrain(),
			Threshold:             threshold,
			Message:               "Retrain in progress",
		}
	}

	count := c.state.IncrementLikes()
	if count < threshold {
		return LikeOutcome{
			Status:                LikeRecorded,
			LikesSinceLastRetrain: count,
			Threshold:             threshold,
			Message:               fmt.Sprintf("Like recorded. %d until next learning cycle.", threshold-count),
		}
	}

	out := LikeOutcome{
		Status:                LikeThresholdReached,
		LikesSinceLastRetrain: count,
		Threshold:             threshold,
		ThresholdReached:      true,
	}
	if c.StartLearningCycle(ctx) {
		out.RetrainTriggered = true
		out.Message = "Threshold reached. Learning cycle triggered."
	} else {
		out.Message = "Threshold reached. Learning cycle already running."
	}
	return out
}
