package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// AppName names the config, data and secrets directories.
const AppName = "anatomie-orchestrator"

type Config struct {
	Server   ServerConfig
	Services ServicesConfig
	Store    StoreConfig
	Learning LearningConfig
	Batch    BatchConfig
	Timeouts TimeoutsConfig
	Storage  StorageConfig
	Log      LogConfig
	API      APIConfig
}

type ServerConfig struct {
	Port int
}

// ServicesConfig holds the base URLs of the collaborating services.
type ServicesConfig struct {
	OptimizerURL  string
	GeneratorURL  string
	StrategistURL string
}

// StoreConfig locates the record store base and tables. An empty APIKey
// disables every store read and write.
type StoreConfig struct {
	BaseURL            string
	BaseID             string
	StructuresTable    string
	BatchSettingsTable string
	PromptsTable       string
	HistoryTable       string
	APIKey             string
}

type LearningConfig struct {
	LikeThreshold   int
	ExplorationRate float64
}

type BatchConfig struct {
	FallbackNumPrompts int
	FallbackRenderer   string
	// Schedule is a cron expression for the daily batch. Empty disables it.
	Schedule string
}

type TimeoutsConfig struct {
	Train      time.Duration
	Score      time.Duration
	Update     time.Duration
	Strategist time.Duration
	Generator  time.Duration
	Store      time.Duration
	Warmup     time.Duration
}

type StorageConfig struct {
	Backend string
	DataDir string
}

type LogConfig struct {
	Level string
}

// APIConfig protects admin routes. An empty Token disables auth.
type APIConfig struct {
	Token string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8000,
		},
		Services: ServicesConfig{
			OptimizerURL:  "https://optimizer-2ym2.onrender.com",
			GeneratorURL:  "https://anatomie-prompt-generator.onrender.com",
			StrategistURL: "https://anatomie-prompt-strategist.onrender.com",
		},
		Store: StoreConfig{
			BaseURL:            "https://api.airtable.com/v0",
			BaseID:             "appW8hvRj3lUrqEH2",
			StructuresTable:    "tblPPDf9vlTBv2kyl",
			BatchSettingsTable: "Daily Batch Settings",
			PromptsTable:       "Prompts",
			HistoryTable:       "History",
		},
		Learning: LearningConfig{
			LikeThreshold:   25,
			ExplorationRate: 0.2,
		},
		Batch: BatchConfig{
			FallbackNumPrompts: 30,
			FallbackRenderer:   "ImageFX",
		},
		Timeouts: TimeoutsConfig{
			Train:      600 * time.Second,
			Score:      120 * time.Second,
			Update:     30 * time.Second,
			Strategist: 120 * time.Second,
			Generator:  60 * time.Second,
			Store:      30 * time.Second,
			Warmup:     30 * time.Second,
		},
		Storage: StorageConfig{
			Backend: "file",
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the TOML config file, environment
// variables, and the secrets file.
//
// The config file lives at $XDG_CONFIG_HOME/anatomie-orchestrator/config.toml.
// Environment variables (ORCH_*) override file values. Secrets are read
// from the environment first, then from secrets.toml in the data directory.
func Load() (Config, error) {
	return loadWith(newFileBackend(FilePath()), secretsFile{path: secretsFilePath()})
}

// secretReader abstracts secret lookup for testing.
type secretReader interface {
	Get(key string) (string, error)
}

func loadFromPath(path string, sr secretReader) (Config, error) {
	return loadWith(newFileBackend(path), sr)
}

func loadWith(b ConfigBackend, sr secretReader) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, sr)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Learning.LikeThreshold < 1 {
		errs = append(errs, fmt.Errorf("learning.like_threshold must be at least 1, got %d", c.Learning.LikeThreshold))
	}
	if c.Learning.ExplorationRate < 0 || c.Learning.ExplorationRate > 1 {
		errs = append(errs, fmt.Errorf("learning.exploration_rate must be within [0,1], got %v", c.Learning.ExplorationRate))
	}
	if c.Batch.FallbackNumPrompts < 1 {
		errs = append(errs, fmt.Errorf("batch.fallback_num_prompts must be positive, got %d", c.Batch.FallbackNumPrompts))
	}
	switch c.Storage.Backend {
	case "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be file or sqlite, got %q", c.Storage.Backend))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	return errors.Join(errs...)
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "data"
		}
	}
	return filepath.Join(dir, AppName)
}

// FilePath returns the location of the TOML config file.
func FilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, AppName, "config.toml")
}
