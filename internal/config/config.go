package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// StateDirName is the per-project directory holding logs, config and
// persisted command history.
const StateDirName = ".buildmender"

// Config represents engine configuration for one project
type Config struct {
	ProjectRoot string `json:"-"`

	// ImageTag overrides the deterministic image tag derived from the
	// project directory name.
	ImageTag string `json:"image_tag,omitempty"`

	MaxIterations      int `json:"max_iterations"`
	MaxStuckIterations int `json:"max_stuck_iterations"`

	BuildTimeoutSeconds   int `json:"build_timeout_seconds"`
	RuntimeTimeoutSeconds int `json:"runtime_timeout_seconds"`
	TestTimeoutSeconds    int `json:"test_timeout_seconds"`

	// TokenThreshold triggers command-history compaction when exceeded.
	TokenThreshold int `json:"token_threshold"`

	// EnableRuntimePhase inserts a sandboxed entry-point run between the
	// build and test phases.
	EnableRuntimePhase bool `json:"enable_runtime_phase"`

	// EnableCouplingCheck re-validates dependents of fixed files between
	// iterations.
	EnableCouplingCheck bool `json:"enable_coupling_check"`

	LogLevel string `json:"log_level"`
	LogPath  string `json:"-"`
}

// DefaultConfig returns configuration with default values for a project root
func DefaultConfig(projectRoot string) *Config {
	return &Config{
		ProjectRoot:           projectRoot,
		MaxIterations:         10,
		MaxStuckIterations:    10,
		BuildTimeoutSeconds:   600,
		RuntimeTimeoutSeconds: 300,
		TestTimeoutSeconds:    600,
		TokenThreshold:        10_000,
		EnableRuntimePhase:    false,
		EnableCouplingCheck:   true,
		LogLevel:              "info",
		LogPath:               filepath.Join(projectRoot, StateDirName, "buildmender.log"),
	}
}

// Load reads configuration from <projectRoot>/.buildmender/config.json,
// falling back to defaults when the file is absent.
func Load(projectRoot string) (*Config, error) {
	cfg := DefaultConfig(projectRoot)

	path := filepath.Join(projectRoot, StateDirName, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.normalize()
	return cfg, nil
}

// Save writes configuration to <projectRoot>/.buildmender/config.json
func (c *Config) Save() error {
	dir := filepath.Join(c.ProjectRoot, StateDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

func (c *Config) normalize() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10
	}
	if c.MaxStuckIterations <= 0 {
		c.MaxStuckIterations = 10
	}
	if c.BuildTimeoutSeconds <= 0 {
		c.BuildTimeoutSeconds = 600
	}
	if c.RuntimeTimeoutSeconds <= 0 {
		c.RuntimeTimeoutSeconds = 300
	}
	if c.TestTimeoutSeconds <= 0 {
		c.TestTimeoutSeconds = 600
	}
	if c.TokenThreshold <= 0 {
		c.TokenThreshold = 10_000
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// BuildTimeout returns the build phase timeout as a duration
func (c *Config) BuildTimeout() time.Duration {
	return time.Duration(c.BuildTimeoutSeconds) * time.Second
}

// RuntimeTimeout returns the runtime phase timeout as a duration
func (c *Config) RuntimeTimeout() time.Duration {
	return time.Duration(c.RuntimeTimeoutSeconds) * time.Second
}

// TestTimeout returns the test phase timeout as a duration
func (c *Config) TestTimeout() time.Duration {
	return time.Duration(c.TestTimeoutSeconds) * time.Second
}

var imageTagSanitizer = regexp.MustCompile(`[^a-z0-9_.-]+`)

// ResolvedImageTag returns the container image tag for the project. The tag
// is derived deterministically from the project directory name so runs on
// different projects never collide on a shared tag.
func (c *Config) ResolvedImageTag() string {
	if c.ImageTag != "" {
		return c.ImageTag
	}

	base := strings.ToLower(filepath.Base(c.ProjectRoot))
	base = imageTagSanitizer.ReplaceAllString(base, "-")
	base = strings.Trim(base, "-.")
	if base == "" {
		base = "project"
	}
	return "buildmender-" + base
}
