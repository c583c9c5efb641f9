package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/anatomie/orchestrator/internal/config"
)

// --- like ---

var likeCmd = &cobra.Command{
	Use:   "like",
	Short: "Record a like event",
	Long: `Record a like event. Reaching the like threshold starts a
learning cycle in the background.

Examples:
  orchestrator like --record-id recA1 --structure-id recS9`,
	RunE: func(cmd *cobra.Command, args []string) error {
		recordID, _ := cmd.Flags().GetString("record-id")
		structureID, _ := cmd.Flags().GetString("structure-id")
		imageURL, _ := cmd.Flags().GetString("image-url")

		req := map[string]any{}
		if recordID != "" {
			req["record_id"] = recordID
		}
		if structureID != "" {
			req["structure_id"] = structureID
		}
		if imageURL != "" {
			req["image_url"] = imageURL
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return sendLike(cmd.Context(), client, req)
	},
}

func sendLike(ctx context.Context, client *apiClient, req map[string]any) error {
	resp, err := client.post(ctx, "/events/like", req)
	if err != nil {
		return err
	}
	var result struct {
		Status                string `json:"status"`
		LikesSinceLastRetrain int    `json:"likes_since_last_retrain"`
		Threshold             int    `json:"threshold"`
		RetrainTriggered      bool   `json:"retrain_triggered"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}

	switch {
	case result.RetrainTriggered:
		printSuccess("Like recorded, learning cycle started")
	case result.Status == "queued":
		printWarning("Like queued, a learning cycle is already running")
	default:
		printSuccess("Like recorded (%d/%d)", result.LikesSinceLastRetrain, result.Threshold)
	}
	return nil
}

// --- batch ---

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run the daily batch now",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force-retrain")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Running daily batch (this can take several minutes)")
		return runBatch(cmd.Context(), client, cmd.OutOrStdout(), force, asJSON)
	},
}

type batchOutcome struct {
	Success          bool   `json:"success"`
	Skipped          bool   `json:"skipped"`
	InProgress       bool   `json:"in_progress"`
	RetrainTriggered bool   `json:"retrain_triggered"`
	IdeasGenerated   int    `json:"ideas_generated"`
	PromptsGenerated int    `json:"prompts_generated"`
	PromptsWritten   int    `json:"prompts_written"`
	Summary          string `json:"summary"`
	Error            string `json:"error"`
}

func runBatch(ctx context.Context, client *apiClient, w io.Writer, force, asJSON bool) error {
	resp, err := client.post(ctx, "/events/daily_batch", map[string]any{"force_retrain": force})
	if err != nil {
		return err
	}
	var raw map[string]any
	if asJSON {
		if err := decodeJSON(resp, &raw); err != nil {
			return err
		}
		return printJSON(w, raw)
	}

	var res batchOutcome
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}
	switch {
	case res.InProgress:
		printWarning("%s", res.Summary)
		return nil
	case !res.Success:
		printError("daily batch failed: %s", res.Error)
		return fmt.Errorf("daily batch failed")
	}

	fmt.Fprintln(w, res.Summary)
	if !res.Skipped {
		printStatus("Ideas", "%d", res.IdeasGenerated)
		printStatus("Prompts", "%d generated, %d written", res.PromptsGenerated, res.PromptsWritten)
	}
	return nil
}

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate prompts on demand",
	Long: `Generate prompts on demand and write them to the record store.

Examples:
  orchestrator generate --num 20 --renderer Midjourney
  orchestrator generate --force-retrain`,
	RunE: func(cmd *cobra.Command, args []string) error {
		num, _ := cmd.Flags().GetInt("num")
		renderer, _ := cmd.Flags().GetString("renderer")
		force, _ := cmd.Flags().GetBool("force-retrain")
		if num <= 0 {
			return fmt.Errorf("--num must be positive")
		}

		req := map[string]any{
			"num_prompts":   num,
			"force_retrain": force,
		}
		if renderer != "" {
			req["renderer"] = renderer
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Generating %d prompts", num)
		return runGenerate(cmd.Context(), client, req)
	},
}

func runGenerate(ctx context.Context, client *apiClient, req map[string]any) error {
	resp, err := client.post(ctx, "/events/manual_generate", req)
	if err != nil {
		return err
	}
	var res struct {
		Success          bool   `json:"success"`
		InProgress       bool   `json:"in_progress"`
		RetrainTriggered bool   `json:"retrain_triggered"`
		PromptsGenerated int    `json:"prompts_generated"`
		PromptsWritten   int    `json:"prompts_written"`
		Renderer         string `json:"renderer"`
		Error            string `json:"error"`
	}
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}
	switch {
	case res.InProgress:
		printWarning("Retrain in progress. Try again later.")
		return nil
	case !res.Success:
		printError("generation failed: %s", res.Error)
		return fmt.Errorf("generation failed")
	}

	if res.RetrainTriggered {
		printSuccess("Learning cycle completed")
	}
	printSuccess("%d prompts generated for %s, %d written", res.PromptsGenerated, res.Renderer, res.PromptsWritten)
	return nil
}

// --- retrain ---

var retrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Start a learning cycle in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return triggerRetrain(cmd.Context(), client)
	},
}

func triggerRetrain(ctx context.Context, client *apiClient) error {
	resp, err := client.post(ctx, "/trigger_retrain", nil)
	if err != nil {
		return err
	}
	var res struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}
	printSuccess("%s", res.Message)
	return nil
}

// --- scores ---

var scoresCmd = &cobra.Command{
	Use:   "scores",
	Short: "Show cached optimizer scores",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return showScores(cmd.Context(), client, cmd.OutOrStdout())
	},
}

func showScores(ctx context.Context, client *apiClient, w io.Writer) error {
	resp, err := client.get(ctx, "/scores")
	if err != nil {
		return err
	}
	var res struct {
		Scores  map[string]float64 `json:"scores"`
		IsFresh bool               `json:"is_fresh"`
		Count   int                `json:"count"`
	}
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}
	if res.Count == 0 {
		printWarning("No cached scores")
		return nil
	}
	if !res.IsFresh {
		printWarning("Cached scores are stale; the next batch refreshes them")
	}

	ids := make([]string, 0, len(res.Scores))
	for id := range res.Scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if res.Scores[ids[i]] != res.Scores[ids[j]] {
			return res.Scores[ids[i]] > res.Scores[ids[j]]
		}
		return ids[i] < ids[j]
	})

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STRUCTURE\tSCORE")
	for _, id := range ids {
		fmt.Fprintf(tw, "%s\t%.3f\n", id, res.Scores[id])
	}
	return tw.Flush()
}

// --- reset-counter ---

var resetCounterCmd = &cobra.Command{
	Use:   "reset-counter",
	Short: "Reset the likes-since-retrain counter",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return resetCounter(cmd.Context(), client)
	},
}

func resetCounter(ctx context.Context, client *apiClient) error {
	resp, err := client.post(ctx, "/reset_counter", nil)
	if err != nil {
		return err
	}
	var res struct {
		PreviousCount int `json:"previous_count"`
	}
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}
	printSuccess("Counter reset (was %d)", res.PreviousCount)
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", k.Key, k.Value, k.EnvVar)
		}
		return tw.Flush()
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			printError("%v", err)
			fmt.Fprintf(os.Stderr, "valid keys: %v\n", config.ValidKeys())
			return err
		}
		printSuccess("%s updated; restart the server to apply", args[0])
		return nil
	},
}

func init() {
	likeCmd.Flags().String("record-id", "", "liked image record ID")
	likeCmd.Flags().String("structure-id", "", "prompt structure record ID")
	likeCmd.Flags().String("image-url", "", "liked image URL")

	batchCmd.Flags().Bool("force-retrain", false, "run a learning cycle first regardless of the like count")
	batchCmd.Flags().Bool("json", false, "print the full result as JSON")

	generateCmd.Flags().Int("num", 12, "number of prompts to generate")
	generateCmd.Flags().String("renderer", "", "renderer name (defaults to the fallback renderer)")
	generateCmd.Flags().Bool("force-retrain", false, "run a learning cycle first")

	configCmd.AddCommand(configShowCmd, configSetCmd)
}
