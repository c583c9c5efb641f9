package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

func stringKey(key, env string, field func(*Config) *string) keySpec {
	return keySpec{
		key: key, typ: kString, env: env,
		apply:   func(cfg *Config, v any) { *field(cfg) = v.(string) },
		extract: func(cfg Config) any { return *field(&cfg) },
	}
}

func intKey(key, env string, field func(*Config) *int) keySpec {
	return keySpec{
		key: key, typ: kInt, env: env,
		apply:   func(cfg *Config, v any) { *field(cfg) = v.(int) },
		extract: func(cfg Config) any { return *field(&cfg) },
	}
}

func durationKey(key, env string, field func(*Config) *time.Duration) keySpec {
	return keySpec{
		key: key, typ: kDuration, env: env,
		apply:   func(cfg *Config, v any) { *field(cfg) = v.(time.Duration) },
		extract: func(cfg Config) any { return *field(&cfg) },
	}
}

var specs = []keySpec{
	intKey("server.port", "ORCH_SERVER_PORT", func(c *Config) *int { return &c.Server.Port }),

	stringKey("services.optimizer_url", "ORCH_OPTIMIZER_URL", func(c *Config) *string { return &c.Services.OptimizerURL }),
	stringKey("services.generator_url", "ORCH_GENERATOR_URL", func(c *Config) *string { return &c.Services.GeneratorURL }),
	stringKey("services.strategist_url", "ORCH_STRATEGIST_URL", func(c *Config) *string { return &c.Services.StrategistURL }),

	stringKey("store.base_url", "ORCH_STORE_BASE_URL", func(c *Config) *string { return &c.Store.BaseURL }),
	stringKey("store.base_id", "ORCH_STORE_BASE_ID", func(c *Config) *string { return &c.Store.BaseID }),
	stringKey("store.structures_table", "ORCH_STORE_STRUCTURES_TABLE", func(c *Config) *string { return &c.Store.StructuresTable }),
	stringKey("store.batch_settings_table", "ORCH_STORE_BATCH_SETTINGS_TABLE", func(c *Config) *string { return &c.Store.BatchSettingsTable }),
	stringKey("store.prompts_table", "ORCH_STORE_PROMPTS_TABLE", func(c *Config) *string { return &c.Store.PromptsTable }),
	stringKey("store.history_table", "ORCH_STORE_HISTORY_TABLE", func(c *Config) *string { return &c.Store.HistoryTable }),
	{
		key: "store.api_key", typ: kString, env: "ORCH_STORE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Store.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.APIKey },
	},

	intKey("learning.like_threshold", "ORCH_LIKE_THRESHOLD", func(c *Config) *int { return &c.Learning.LikeThreshold }),
	{
		key: "learning.exploration_rate", typ: kFloat, env: "ORCH_EXPLORATION_RATE",
		apply:   func(cfg *Config, v any) { cfg.Learning.ExplorationRate = v.(float64) },
		extract: func(cfg Config) any { return cfg.Learning.ExplorationRate },
	},

	intKey("batch.fallback_num_prompts", "ORCH_FALLBACK_NUM_PROMPTS", func(c *Config) *int { return &c.Batch.FallbackNumPrompts }),
	stringKey("batch.fallback_renderer", "ORCH_FALLBACK_RENDERER", func(c *Config) *string { return &c.Batch.FallbackRenderer }),
	stringKey("batch.schedule", "ORCH_BATCH_SCHEDULE", func(c *Config) *string { return &c.Batch.Schedule }),

	durationKey("timeouts.train", "ORCH_TIMEOUT_TRAIN", func(c *Config) *time.Duration { return &c.Timeouts.Train }),
	durationKey("timeouts.score", "ORCH_TIMEOUT_SCORE", func(c *Config) *time.Duration { return &c.Timeouts.Score }),
	durationKey("timeouts.update", "ORCH_TIMEOUT_UPDATE", func(c *Config) *time.Duration { return &c.Timeouts.Update }),
	durationKey("timeouts.strategist", "ORCH_TIMEOUT_STRATEGIST", func(c *Config) *time.Duration { return &c.Timeouts.Strategist }),
	durationKey("timeouts.generator", "ORCH_TIMEOUT_GENERATOR", func(c *Config) *time.Duration { return &c.Timeouts.Generator }),
	durationKey("timeouts.store", "ORCH_TIMEOUT_STORE", func(c *Config) *time.Duration { return &c.Timeouts.Store }),
	durationKey("timeouts.warmup", "ORCH_TIMEOUT_WARMUP", func(c *Config) *time.Duration { return &c.Timeouts.Warmup }),

	stringKey("storage.backend", "ORCH_STORAGE_BACKEND", func(c *Config) *string { return &c.Storage.Backend }),
	stringKey("storage.data_dir", "ORCH_DATA_DIR", func(c *Config) *string { return &c.Storage.DataDir }),
	stringKey("log.level", "ORCH_LOG_LEVEL", func(c *Config) *string { return &c.Log.Level }),
	{
		key: "api.token", typ: kString, env: "ORCH_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
	},
}

func lookup(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

func isSecret(key string) bool {
	s, ok := lookup(key)
	return ok && s.secret
}

// coerce converts a TOML or string value to the Go type of the key.
func coerce(typ keyType, v any) (any, error) {
	switch typ {
	case kString:
		switch val := v.(type) {
		case string:
			return val, nil
		default:
			return fmt.Sprintf("%v", val), nil
		}
	case kInt:
		switch val := v.(type) {
		case int64:
			return int(val), nil
		case int:
			return val, nil
		case float64:
			if val < math.MinInt || val > math.MaxInt || val != math.Trunc(val) {
				return nil, fmt.Errorf("value %v is not a valid integer or is out of range", val)
			}
			return int(val), nil
		case string:
			return strconv.Atoi(val)
		}
	case kBool:
		switch val := v.(type) {
		case bool:
			return val, nil
		case string:
			return strconv.ParseBool(val)
		}
	case kFloat:
		switch val := v.(type) {
		case float64:
			return val, nil
		case int64:
			return float64(val), nil
		case string:
			return strconv.ParseFloat(val, 64)
		}
	case kDuration:
		switch val := v.(type) {
		case int64:
			return time.Duration(val) * time.Second, nil
		case string:
			if secs, err := strconv.Atoi(val); err == nil {
				return time.Duration(secs) * time.Second, nil
			}
			return time.ParseDuration(val)
		}
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok := b.Get(s.key)
		if !ok {
			continue
		}
		v, err := coerce(s.typ, raw)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := coerce(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

// applySecrets fills secrets not already set from the environment.
func applySecrets(cfg *Config, sr secretReader) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		if v, err := sr.Get(s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}
