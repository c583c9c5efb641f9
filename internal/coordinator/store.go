package coordinator

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"

	"github.com/anatomie/orchestrator/internal/airtable"
	"github.com/anatomie/orchestrator/internal/generator"
	"github.com/anatomie/orchestrator/internal/optimizer"
)

// Record store field names.
const (
	fieldOptimizerScore  = "optimizer_score"
	fieldNewPrompt       = "New Prompt"
	fieldPrompt          = "Prompt"
	fieldRenderer        = "Renderer"
	fieldDesigner        = "Designer"
	fieldGarment         = "Garment"
	fieldPromptStructure = "Prompt Structure"
	fieldPromptID        = "Prompt ID"

	settingBatchEnabled       = "batchEnabled"
	settingNumPrompts         = "numPrompts"
	settingRenderer           = "renderer"
	settingEmailNotifications = "emailNotifications"
	settingNotificationEmail  = "notificationEmail"
)

// Batch settings sources.
const (
	SettingsFromStore    = "store"
	SettingsFromFallback = "fallback"
)

// BatchSettings parameterize one daily batch.
type BatchSettings struct {
	BatchEnabled       bool   `json:"batch_enabled"`
	NumPrompts         int    `json:"num_prompts"`
	Renderer           string `json:"renderer"`
	EmailNotifications bool   `json:"email_notifications"`
	NotificationEmail  string `json:"notification_email,omitempty"`
	Source             string `json:"source"`
}

func (c *Coordinator) fallbackBatchSettings() BatchSettings {
	return BatchSettings{
		BatchEnabled:       true,
		NumPrompts:         c.settings.FallbackNumPrompts,
		Renderer:           c.settings.FallbackRenderer,
		EmailNotifications: true,
		Source:             SettingsFromFallback,
	}
}

// FetchBatchSettings reads the first batch settings record. It always
// returns usable settings; the error reports why the fallback was used.
func (c *Coordinator) FetchBatchSettings(ctx context.Context) (BatchSettings, error) {
	fallback := c.fallbackBatchSettings()
	if !c.storeConfigured() {
		return fallback, nil
	}

	recs, err := c.store.ListRecords(ctx, c.settings.Tables.BatchSettings, 1)
	if err != nil {
		return fallback, err
	}
	if len(recs) == 0 {
		c.logger.Warn("no batch settings record found, using fallbacks")
		return fallback, nil
	}

	f := recs[0].Fields
	s := BatchSettings{
		BatchEnabled:       boolField(f, settingBatchEnabled, true),
		NumPrompts:         intField(f, settingNumPrompts, fallback.NumPrompts),
		Renderer:           stringField(f, settingRenderer, fallback.Renderer),
		EmailNotifications: boolField(f, settingEmailNotifications, true),
		NotificationEmail:  stringField(f, settingNotificationEmail, ""),
		Source:             SettingsFromStore,
	}
	if s.NumPrompts <= 0 {
		s.NumPrompts = fallback.NumPrompts
	}
	return s, nil
}

func boolField(f map[string]any, key string, def bool) bool {
	if v, ok := f[key].(bool); ok {
		return v
	}
	return def
}

func intField(f map[string]any, key string, def int) int {
	switch v := f[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}

func stringField(f map[string]any, key, def string) string {
	if v, ok := f[key].(string); ok && v != "" {
		return v
	}
	return def
}

// ScoreUpdateResult counts structure score writes to the record store.
type ScoreUpdateResult struct {
	Status  string `json:"status"`
	Updated int    `json:"updated"`
	Failed  int    `json:"failed"`
	Total   int    `json:"total"`
}

// updateStoreScores patches the optimizer score of every structure that has
// both an id and a score. Individual failures are counted, never returned.
func (c *Coordinator) updateStoreScores(ctx context.Context, r *run, scores *optimizer.ScoreResponse) ScoreUpdateResult {
	res := ScoreUpdateResult{Total: len(scores.Structures)}
	if !c.storeConfigured() {
		res.Status = "skipped"
		return res
	}

	for _, s := range scores.Structures {
		if s.StructureID == "" || s.PredictedSuccessScore == nil {
			continue
		}
		fields := map[string]any{fieldOptimizerScore: *s.PredictedSuccessScore}
		if _, err := c.store.UpdateRecord(ctx, c.settings.Tables.Structures, string(s.StructureID), fields); err != nil {
			r.logger.Debug("structure score update failed", "structure_id", s.StructureID, "error", err)
			res.Failed++
			continue
		}
		res.Updated++
	}
	res.Status = "completed"
	c.recorder.RecordStoreWrites(ctx, c.settings.Tables.Structures, res.Updated, res.Failed)
	return res
}

// WriteResult counts prompt and history records written to the store.
type WriteResult struct {
	Written        int  `json:"written"`
	Failed         int  `json:"failed"`
	HistoryWritten int  `json:"history_written"`
	HistoryFailed  int  `json:"history_failed"`
	Skipped        bool `json:"skipped"`
}

// writePrompts creates prompt records in batches, then one history record
// per created prompt. A failed batch is counted and the next batch still
// runs.
func (c *Coordinator) writePrompts(ctx context.Context, logger *slog.Logger, prompts []json.RawMessage) WriteResult {
	if !c.storeConfigured() {
		logger.Warn("no record store credential, skipping prompt writes")
		return WriteResult{Skipped: true}
	}

	var res WriteResult
	var created []airtable.Record

	for batch := range slices.Chunk(prompts, airtable.MaxBatchSize) {
		recs := make([]airtable.Record, len(batch))
		for i, raw := range batch {
			recs[i] = airtable.Record{Fields: promptFields(generator.DecodePrompt(raw))}
		}
		out, err := c.store.CreateRecords(ctx, c.settings.Tables.Prompts, recs)
		if err != nil {
			logger.Error("failed to write prompt batch", "size", len(batch), "error", err)
			res.Failed += len(batch)
			continue
		}
		res.Written += len(out)
		created = append(created, out...)
	}

	for batch := range slices.Chunk(created, airtable.MaxBatchSize) {
		recs := make([]airtable.Record, len(batch))
		for i, rec := range batch {
			recs[i] = airtable.Record{Fields: historyFields(rec)}
		}
		out, err := c.store.CreateRecords(ctx, c.settings.Tables.History, recs)
		if err != nil {
			logger.Error("failed to write history batch", "size", len(batch), "error", err)
			res.HistoryFailed += len(batch)
			continue
		}
		res.HistoryWritten += len(out)
	}

	c.recorder.RecordStoreWrites(ctx, c.settings.Tables.Prompts, res.Written, res.Failed)
	c.recorder.RecordStoreWrites(ctx, c.settings.Tables.History, res.HistoryWritten, res.HistoryFailed)
	logger.Info("record store write complete",
		"written", res.Written, "failed", res.Failed, "history_written", res.HistoryWritten)
	return res
}

func promptFields(p generator.Prompt) map[string]any {
	f := map[string]any{
		fieldNewPrompt: p.PromptText,
		fieldRenderer:  p.Renderer,
	}
	if p.DesignerID != "" {
		f[fieldDesigner] = []string{p.DesignerID}
	}
	if p.GarmentID != "" {
		f[fieldGarment] = []string{p.GarmentID}
	}
	if p.PromptStructureID != "" {
		f[fieldPromptStructure] = []string{p.PromptStructureID}
	}
	return f
}

func historyFields(created airtable.Record) map[string]any {
	f := map[string]any{
		fieldPromptID: created.ID,
		fieldPrompt:   stringField(created.Fields, fieldNewPrompt, ""),
		fieldRenderer: stringField(created.Fields, fieldRenderer, ""),
	}
	for _, k := range []string{fieldDesigner, fieldGarment, fieldPromptStructure} {
		if v, ok := created.Fields[k]; ok && v != nil {
			f[k] = v
		}
	}
	return f
}
