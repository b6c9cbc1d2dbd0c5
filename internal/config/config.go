package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tidwall/jsonc"
)

// Config holds the tunables of the reconciliation core's components:
// the dedup cache bound (B), the ordering buffer's timeout/queue bound
// (C), the coalescer's batch window/queue bound (D), and the
// correlation window (F). Zero values mean "use the component default".
type Config struct {
	Dedup      DedupConfig      `json:"dedup,omitempty"`
	Ordering   OrderingConfig   `json:"ordering,omitempty"`
	Coalescer  CoalescerConfig  `json:"coalescer,omitempty"`
	Correlation CorrelationConfig `json:"correlation,omitempty"`
}

type DedupConfig struct {
	MaxSize int `json:"maxSize,omitempty"`
}

type OrderingConfig struct {
	TimeoutMs    int `json:"timeoutMs,omitempty"`
	MaxQueueSize int `json:"maxQueueSize,omitempty"`
}

type CoalescerConfig struct {
	BatchWindowMs int `json:"batchWindowMs,omitempty"`
	MaxQueueSize  int `json:"maxQueueSize,omitempty"`
}

type CorrelationConfig struct {
	WindowMs int64 `json:"windowMs,omitempty"`
}

// Load loads configuration from multiple sources (priority order):
//  1. Global config (~/.config/opencode-core/)
//  2. Project config (<directory>/.opencode-core/)
//  3. Environment variables
func Load(directory string) (*Config, error) {
	config := &Config{}

	globalPath := GetPaths().Config
	loadConfigFile(filepath.Join(globalPath, "core.json"), config)
	loadConfigFile(filepath.Join(globalPath, "core.jsonc"), config)

	if directory != "" {
		loadConfigFile(filepath.Join(directory, ".opencode-core", "core.json"), config)
		loadConfigFile(filepath.Join(directory, ".opencode-core", "core.jsonc"), config)
	}

	applyEnvOverrides(config)

	return config, nil
}

// loadConfigFile loads a single JSONC config file, merging it into config.
// A missing or unreadable file returns the read error; Load ignores
// that error, so every source is optional.
func loadConfigFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data = jsonc.ToJSON(data)

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

func mergeConfig(target, source *Config) {
	if source.Dedup.MaxSize != 0 {
		target.Dedup.MaxSize = source.Dedup.MaxSize
	}
	if source.Ordering.TimeoutMs != 0 {
		target.Ordering.TimeoutMs = source.Ordering.TimeoutMs
	}
	if source.Ordering.MaxQueueSize != 0 {
		target.Ordering.MaxQueueSize = source.Ordering.MaxQueueSize
	}
	if source.Coalescer.BatchWindowMs != 0 {
		target.Coalescer.BatchWindowMs = source.Coalescer.BatchWindowMs
	}
	if source.Coalescer.MaxQueueSize != 0 {
		target.Coalescer.MaxQueueSize = source.Coalescer.MaxQueueSize
	}
	if source.Correlation.WindowMs != 0 {
		target.Correlation.WindowMs = source.Correlation.WindowMs
	}
}

// applyEnvOverrides applies environment variable overrides, taking
// priority over file-sourced config.
func applyEnvOverrides(config *Config) {
	if v := envInt("OPENCODE_CORE_DEDUP_MAX_SIZE"); v != 0 {
		config.Dedup.MaxSize = v
	}
	if v := envInt("OPENCODE_CORE_ORDERING_TIMEOUT_MS"); v != 0 {
		config.Ordering.TimeoutMs = v
	}
	if v := envInt("OPENCODE_CORE_ORDERING_MAX_QUEUE_SIZE"); v != 0 {
		config.Ordering.MaxQueueSize = v
	}
	if v := envInt("OPENCODE_CORE_COALESCER_BATCH_WINDOW_MS"); v != 0 {
		config.Coalescer.BatchWindowMs = v
	}
	if v := envInt("OPENCODE_CORE_COALESCER_MAX_QUEUE_SIZE"); v != 0 {
		config.Coalescer.MaxQueueSize = v
	}
	if v := envInt("OPENCODE_CORE_CORRELATION_WINDOW_MS"); v != 0 {
		config.Correlation.WindowMs = int64(v)
	}
}

func envInt(key string) int {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return v
}

// Save writes the configuration to path as indented JSON.
func Save(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
