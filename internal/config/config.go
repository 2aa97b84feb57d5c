package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	WorkDir string `toml:"work_dir"`
	LogDir  string `toml:"log_dir"`
	DataDir string `toml:"data_dir"`
	APIBind string `toml:"api_bind"`
}

// Storage contains object-store connection settings.
type Storage struct {
	Endpoint             string `toml:"endpoint"`
	AccessKey            string `toml:"access_key"`
	SecretKey            string `toml:"secret_key"`
	Bucket               string `toml:"bucket"`
	RootPrefix           string `toml:"root_prefix"`
	Region               string `toml:"region"`
	UseSSL               bool   `toml:"use_ssl"`
	PresignExpirySeconds int    `toml:"presign_expiry_seconds"`
}

// Engine contains settings for the external world-generation engine.
type Engine struct {
	Binary           string `toml:"binary"`
	GPUSlots         int    `toml:"gpu_slots"`
	DefaultSeed      int64  `toml:"default_seed"`
	FP8Attention     bool   `toml:"fp8_attention"`
	FP8GEMM          bool   `toml:"fp8_gemm"`
	DeepCache        bool   `toml:"deep_cache"`
	ExportDraco      bool   `toml:"export_draco"`
	PanoramaTimeout  int    `toml:"panorama_timeout"`
	DecomposeTimeout int    `toml:"decompose_timeout"`
	ComposeTimeout   int    `toml:"compose_timeout"`
}

// Workflow contains workflow-engine retry, polling, and housekeeping settings.
type Workflow struct {
	RetryMaxAttempts     int     `toml:"retry_max_attempts"`
	RetryIntervalSeconds int     `toml:"retry_interval_seconds"`
	RetryBackoffRate     float64 `toml:"retry_backoff_rate"`
	PollIntervalSeconds  int     `toml:"poll_interval_seconds"`
	PollMaxWaitSeconds   int     `toml:"poll_max_wait_seconds"`
	ComputeImage         string  `toml:"compute_image"`
	StaleWorkMaxAgeHours int     `toml:"stale_work_max_age_hours"`
}

// LLM contains settings for the text-completion endpoint used to derive
// themes and expanded prompts. When APIKey is empty the front-end falls back
// to deterministic slugification.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for worldsmith.
//
// Configuration sections by subsystem:
//   - Paths: working areas, data directory, and API bind address
//   - Storage: object-store endpoint, bucket, and presign expiry
//   - Engine: external engine binary, GPU slots, optimization flags, budgets
//   - Workflow: retry policy, status polling, stale-work sweeping
//   - LLM: text-completion settings for theme derivation
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Storage       Storage       `toml:"storage"`
	Engine        Engine        `toml:"engine"`
	Workflow      Workflow      `toml:"workflow"`
	LLM           LLM           `toml:"llm"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/worldsmith/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/worldsmith/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("worldsmith.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.LogDir, c.Paths.DataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RunDBPath returns the SQLite database path for the run store.
func (c *Config) RunDBPath() string {
	return filepath.Join(c.Paths.DataDir, "runs.db")
}

// RegistryDBPath returns the SQLite database path for the world registry.
func (c *Config) RegistryDBPath() string {
	return filepath.Join(c.Paths.DataDir, "registry.db")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	sample := sampleConfig

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
