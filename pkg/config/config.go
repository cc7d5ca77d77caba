// Package config provides configuration loading and management for the
// engine. A single global Config instance is maintained in memory behind a
// mutex; GetConfig returns it by value so callers cannot mutate shared state.
// Per-workspace stack declarations live in a separate YAML file (see
// stacks.go); secrets are stored encrypted at rest (see secrets.go).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"workbench/pkg/pathsafe"
)

// ConfigDirName is the dot-directory holding engine files within a project.
const ConfigDirName = ".workbench"

const configFileName = "config.json"

//nolint:gochecknoglobals // Intentional singleton pattern for config management
var (
	config     *Config
	projectDir string // Immutable after LoadConfig
	mu         sync.RWMutex
)

// Config is the engine-wide configuration.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Engine  EngineConfig  `json:"engine"`
	Storage StorageConfig `json:"storage"`
	Metrics MetricsConfig `json:"metrics"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port          int    `json:"port"`
	BasicAuthUser string `json:"basic_auth_user"`
}

// EngineConfig configures plan execution and policy enforcement.
type EngineConfig struct {
	// CommandTimeoutSeconds bounds each plan/check command.
	CommandTimeoutSeconds int `json:"command_timeout_seconds"`

	// ServerProcessTimeoutSeconds is the ceiling for "run" checks that
	// start long-lived dev servers.
	ServerProcessTimeoutSeconds int `json:"server_process_timeout_seconds"`

	// CommandAllowlist restricts what the executor may spawn. Empty
	// list with AllowlistEnabled=true blocks everything.
	CommandAllowlist []string `json:"command_allowlist"`
	AllowlistEnabled bool     `json:"allowlist_enabled"`

	// SafeEditMode requires explicit confirmation before editing
	// protected paths or applying flagged over-edits.
	SafeEditMode bool `json:"safe_edit_mode"`

	// ProtectedPatterns overrides the built-in protected path set when
	// non-empty.
	ProtectedPatterns []string `json:"protected_patterns"`

	// PromoteOnCheckFailure keeps the source behavior of promoting a
	// sandbox whose lint/tests failed (with conflicts attached for
	// review). A failed "run" check always blocks promotion regardless.
	PromoteOnCheckFailure bool `json:"promote_on_check_failure"`

	// RepairEnabled allows the single bounded self-repair attempt after
	// a failed test command.
	RepairEnabled bool `json:"repair_enabled"`

	// MaxUndoDepth caps the per-workspace undo stack.
	MaxUndoDepth int `json:"max_undo_depth"`
}

// StorageConfig configures the persistent project store.
type StorageConfig struct {
	DBPath string `json:"db_path"`
}

// MetricsConfig configures the optional Prometheus query service used by the
// analytics endpoint.
type MetricsConfig struct {
	PrometheusURL string `json:"prometheus_url"`
}

// DefaultConfig returns the configuration used when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          8180,
			BasicAuthUser: "workbench",
		},
		Engine: EngineConfig{
			CommandTimeoutSeconds:       60,
			ServerProcessTimeoutSeconds: 3600,
			CommandAllowlist: []string{
				"npm", "npx", "node", "yarn", "pnpm",
				"python", "python3", "pip", "pip3", "pytest",
				"go", "cargo", "make", "sh", "bash",
				"eslint", "tsc", "jest", "vitest",
			},
			AllowlistEnabled:      true,
			SafeEditMode:          true,
			ProtectedPatterns:     nil, // nil means pathsafe defaults
			PromoteOnCheckFailure: true,
			RepairEnabled:         true,
			MaxUndoDepth:          20,
		},
		Storage: StorageConfig{
			DBPath: filepath.Join(ConfigDirName, "workbench.db"),
		},
	}
}

// LoadConfig reads config from dir/.workbench/config.json, applying defaults
// for missing fields, and installs it as the global instance. Missing file
// is not an error; defaults are used.
func LoadConfig(dir string) error {
	mu.Lock()
	defer mu.Unlock()

	cfg := DefaultConfig()

	path := filepath.Join(dir, ConfigDirName, configFileName)
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults apply.
	case err != nil:
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	config = cfg
	projectDir = dir
	return nil
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", cfg.Server.Port)
	}
	if cfg.Engine.CommandTimeoutSeconds <= 0 {
		return fmt.Errorf("command timeout must be positive")
	}
	if cfg.Engine.MaxUndoDepth <= 0 {
		return fmt.Errorf("max undo depth must be positive")
	}
	return nil
}

// GetConfig returns the current configuration by value.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Config{}, fmt.Errorf("config not loaded: call LoadConfig first")
	}
	return *config, nil
}

// ProjectDir returns the directory LoadConfig was pointed at.
func ProjectDir() string {
	mu.RLock()
	defer mu.RUnlock()
	return projectDir
}

// ProtectedPatterns resolves the effective protected-path set.
func (c *Config) ProtectedPatterns() []string {
	if len(c.Engine.ProtectedPatterns) > 0 {
		return c.Engine.ProtectedPatterns
	}
	return pathsafe.DefaultProtectedPatterns()
}

// Reset clears the singleton. Tests only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	config = nil
	projectDir = ""
}
