package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/anatomie/orchestrator/internal/airtable"
	"github.com/anatomie/orchestrator/internal/api"
	"github.com/anatomie/orchestrator/internal/config"
	"github.com/anatomie/orchestrator/internal/coordinator"
	"github.com/anatomie/orchestrator/internal/generator"
	"github.com/anatomie/orchestrator/internal/observability"
	"github.com/anatomie/orchestrator/internal/optimizer"
	"github.com/anatomie/orchestrator/internal/scheduler"
	"github.com/anatomie/orchestrator/internal/state"
	"github.com/anatomie/orchestrator/internal/storage"
	"github.com/anatomie/orchestrator/internal/strategist"
)

var serveOpts struct {
	host            string
	mcpStdio        bool
	shutdownTimeout time.Duration
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestrator server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveOpts.host, "host", "127.0.0.1", "interface to listen on")
	serveCmd.Flags().BoolVar(&serveOpts.mcpStdio, "mcp-stdio", false, "also serve MCP tools on stdin/stdout")
	serveCmd.Flags().DurationVar(&serveOpts.shutdownTimeout, "shutdown-timeout", 30*time.Second, "how long to wait for running learning cycles on shutdown")
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running orchestrator server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show orchestrator status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "orchestrator.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "orchestrator version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)})))

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("orchestrator is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("orchestrator is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	snapshots, err := storage.Open(cfg.Storage.Backend, cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := snapshots.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()
	st := state.New(snapshots)
	slog.Info("state loaded",
		"backend", cfg.Storage.Backend,
		"data_dir", cfg.Storage.DataDir,
		"likes_since_last_retrain", st.LikesSinceLastRetrain(),
	)

	telemetry := observability.Setup()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	store := airtable.NewClient(airtable.Config{
		BaseURL: cfg.Store.BaseURL,
		BaseID:  cfg.Store.BaseID,
		APIKey:  cfg.Store.APIKey,
		Timeout: cfg.Timeouts.Store,
	})
	if !store.Configured() {
		slog.Warn("no record store API key configured; settings use fallbacks and store writes are skipped")
	}

	coord := coordinator.New(coordinator.Deps{
		State: st,
		Optimizer: optimizer.NewClient(cfg.Services.OptimizerURL, optimizer.Timeouts{
			Train: cfg.Timeouts.Train,
			Score: cfg.Timeouts.Score,
		}),
		Generator: generator.NewClient(cfg.Services.GeneratorURL, generator.Timeouts{
			Update:   cfg.Timeouts.Update,
			Generate: cfg.Timeouts.Generator,
			Warmup:   cfg.Timeouts.Warmup,
		}),
		Strategist: strategist.NewClient(cfg.Services.StrategistURL, strategist.Timeouts{
			Run:    cfg.Timeouts.Strategist,
			Warmup: cfg.Timeouts.Warmup,
		}),
		Store:    store,
		Recorder: observability.NewRecorder(),
		Spans:    observability.NewSpanManager(),
		Logger:   slog.Default(),
	}, coordinator.Settings{
		LikeThreshold:      cfg.Learning.LikeThreshold,
		ExplorationRate:    cfg.Learning.ExplorationRate,
		FallbackNumPrompts: cfg.Batch.FallbackNumPrompts,
		FallbackRenderer:   cfg.Batch.FallbackRenderer,
		Tables: coordinator.Tables{
			Structures:    cfg.Store.StructuresTable,
			BatchSettings: cfg.Store.BatchSettingsTable,
			Prompts:       cfg.Store.PromptsTable,
			History:       cfg.Store.HistoryTable,
		},
	})

	// Scheduled daily batch.
	var sched *scheduler.Scheduler
	if cfg.Batch.Schedule != "" {
		sched, err = scheduler.New(cfg.Batch.Schedule, nil, slog.Default(), func(jobCtx context.Context) {
			res := coord.RunDailyBatch(jobCtx, coordinator.DailyBatchOptions{})
			slog.Info("scheduled daily batch finished", "run_id", res.RunID, "success", res.Success, "summary", res.Summary())
		})
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
	}

	handler := api.NewHandler(api.Deps{
		Workflows: coord,
		State:     st,
		Settings:  coord.Settings(),
		Metrics:   telemetry,
		Token:     cfg.API.Token,
		Version:   version,
	})
	if cfg.API.Token == "" {
		slog.Warn("no API token configured; admin routes are unauthenticated")
	}

	addr := net.JoinHostPort(serveOpts.host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if serveOpts.mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Workflows: coord,
			State:     st,
			Settings:  coord.Settings(),
			Version:   version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("orchestrator listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown: stop accepting requests and scheduled runs, then
	// drain background learning cycles.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serveOpts.shutdownTimeout)
	defer cancel()

	shutdownErr := srv.Shutdown(shutdownCtx)
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			slog.Warn("scheduled batch still running at shutdown", "error", err)
		}
	}
	if err := coord.Wait(shutdownCtx); err != nil {
		slog.Warn("learning cycle still running at shutdown", "error", err)
	}
	return shutdownErr
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("orchestrator is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop orchestrator (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to orchestrator (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	client.httpClient.Timeout = 2 * time.Second

	var st map[string]any
	resp, err := client.get(ctx, "/status")
	if err != nil {
		printStatus("Server", "stopped")
	} else if err := decodeJSON(resp, &st); err != nil {
		printStatus("Server", "error (%v)", err)
	} else {
		printStatus("Server", "running on port %d", cfg.Server.Port)
		printStatus("Likes", "%v / %v", st["likes_since_last_retrain"], st["threshold"])
		printStatus("Retraining", "%v", st["is_retraining"])
		printStatus("Retrains", "%v", st["total_retrains"])
		printStatus("Batches", "%v", st["total_batches"])
		printStatus("Generations", "%v", st["total_generations"])
		printStatus("Cached scores", "%v", st["cached_scores_count"])
		if e, ok := st["last_error"].(string); ok && e != "" {
			printStatus("Last error", "%s", colorize(colorRed, e))
		}
	}

	printStatus("Optimizer", "%s", cfg.Services.OptimizerURL)
	printStatus("Generator", "%s", cfg.Services.GeneratorURL)
	printStatus("Strategist", "%s", cfg.Services.StrategistURL)
	if cfg.Store.APIKey == "" {
		printStatus("Record store", "%s", colorize(colorYellow, "not configured"))
	} else {
		printStatus("Record store", "base %s", cfg.Store.BaseID)
	}
	if cfg.Batch.Schedule != "" {
		printStatus("Daily batch", "%s", cfg.Batch.Schedule)
	}
	printStatus("Data dir", "%s (%s)", cfg.Storage.DataDir, cfg.Storage.Backend)
	return nil
}
