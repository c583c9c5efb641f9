package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/anatomie/orchestrator/internal/coordinator"
	"github.com/anatomie/orchestrator/internal/state"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Workflows Workflows
	State     *state.State
	Settings  coordinator.Settings
	Version   string
}

// NewMCPServer creates an MCP server exposing the orchestrator workflows as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		serviceName,
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithInstructions("Anatomie orchestrator: record likes, run the daily batch, generate prompts and trigger learning cycles."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("status",
			mcp.WithDescription("Return the orchestrator state: like counter, retrain status, batch and generation history."),
		),
		mcpStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("record_like",
			mcp.WithDescription("Record a liked image. Starts a learning cycle when the like threshold is reached."),
			mcp.WithString("record_id", mcp.Description("Record store id of the liked image")),
			mcp.WithString("structure_id", mcp.Description("Prompt structure the image was generated from")),
			mcp.WithString("image_url", mcp.Description("URL of the liked image")),
		),
		mcpRecordLike(deps),
	)

	s.AddTool(
		mcp.NewTool("run_daily_batch",
			mcp.WithDescription("Run the daily batch: optional retrain, new structure ideas, prompt generation and store writes."),
			mcp.WithBoolean("force_retrain", mcp.Description("Run a learning cycle first regardless of the like counter")),
		),
		mcpDailyBatch(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_prompts",
			mcp.WithDescription("Generate prompts on demand and write them to the record store."),
			mcp.WithNumber("num_prompts", mcp.Description(fmt.Sprintf("Number of prompts (default %d)", coordinator.DefaultManualNumPrompts))),
			mcp.WithString("renderer", mcp.Description("Target renderer; defaults to the configured fallback")),
			mcp.WithBoolean("force_retrain", mcp.Description("Run a learning cycle first")),
		),
		mcpGeneratePrompts(deps),
	)

	s.AddTool(
		mcp.NewTool("trigger_learning_cycle",
			mcp.WithDescription("Start a learning cycle in the background."),
		),
		mcpTriggerLearningCycle(deps),
	)

	return s
}

func mcpStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpJSON(statusResponse{
			Service:         serviceName,
			Version:         deps.Version,
			Threshold:       deps.Settings.LikeThreshold,
			ExplorationRate: deps.Settings.ExplorationRate,
			Status:          deps.State.Status(),
		}, false), nil
	}
}

func mcpRecordLike(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out := deps.Workflows.RecordLike(ctx, coordinator.LikeEvent{
			RecordID:    req.GetString("record_id", ""),
			StructureID: req.GetString("structure_id", ""),
			ImageURL:    req.GetString("image_url", ""),
		})
		return mcpJSON(out, false), nil
	}
}

func mcpDailyBatch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res := deps.Workflows.RunDailyBatch(ctx, coordinator.DailyBatchOptions{
			ForceRetrain: req.GetBool("force_retrain", false),
		})
		return mcpJSON(dailyBatchResponse{DailyBatchResult: res, Summary: res.Summary()}, !res.Success), nil
	}
}

func mcpGeneratePrompts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		n := req.GetInt("num_prompts", coordinator.DefaultManualNumPrompts)
		if n <= 0 {
			return mcpError("num_prompts must be positive"), nil
		}
		res := deps.Workflows.RunManualGeneration(ctx, coordinator.ManualGenerationOptions{
			NumPrompts:   n,
			Renderer:     req.GetString("renderer", ""),
			ForceRetrain: req.GetBool("force_retrain", false),
		})
		return mcpJSON(res, !res.Success), nil
	}
}

func mcpTriggerLearningCycle(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !deps.Workflows.StartLearningCycle(ctx) {
			return mcpError("Retrain already in progress"), nil
		}
		return mcpText("Learning cycle started in background"), nil
	}
}

func mcpJSON(v any, isError bool) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	res := mcpText(string(b))
	res.IsError = isError
	return res
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
