package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
)

// Config holds all application configuration.
type Config struct {
	Comfy   ComfyConfig
	Input   InputConfig
	Capture CaptureConfig
	Output  OutputConfig
	Preview PreviewConfig
	Logging LogConfig
}

// ComfyConfig holds the two endpoint bases of the generation backend.
type ComfyConfig struct {
	HTTPBase string        `envconfig:"COMFY_HTTP" default:"http://127.0.0.1:8188"`
	WSBase   string        `envconfig:"COMFY_WS" default:"ws://127.0.0.1:8188/ws"`
	Timeout  time.Duration `envconfig:"COMFY_TIMEOUT" default:"30s"`
}

// InputConfig holds submission pacing and the workflow template source.
type InputConfig struct {
	ThrottleDelay time.Duration `envconfig:"THROTTLE_DELAY" default:"1s"`
	DebounceDelay time.Duration `envconfig:"DEBOUNCE_DELAY" default:"1s"`
	WorkflowPath  string        `envconfig:"WORKFLOW_PATH"`
}

// CaptureConfig holds the continuous input settings: an external speech
// recognizer, or a transcript file read on every capture start.
type CaptureConfig struct {
	Command  string `envconfig:"CAPTURE_CMD"`
	File     string `envconfig:"CAPTURE_FILE"`
	Language string `envconfig:"CAPTURE_LANG" default:"it-IT"`
}

// OutputConfig controls where received images live while displayed.
type OutputConfig struct {
	ImageDir string `envconfig:"IMAGE_DIR"`
}

// PreviewConfig holds the local preview server configuration.
type PreviewConfig struct {
	Enabled           bool   `envconfig:"PREVIEW_ENABLED" default:"true"`
	Addr              string `envconfig:"PREVIEW_ADDR" default:"127.0.0.1:8090"`
	RequestsPerSecond int    `envconfig:"PREVIEW_RATE_LIMIT_RPS" default:"20"`
	Burst             int    `envconfig:"PREVIEW_RATE_LIMIT_BURST" default:"40"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Comfy: ComfyConfig{
			HTTPBase: "http://127.0.0.1:8188",
			WSBase:   "ws://127.0.0.1:8188/ws",
			Timeout:  30 * time.Second,
		},
		Input: InputConfig{
			ThrottleDelay: time.Second,
			DebounceDelay: time.Second,
		},
		Capture: CaptureConfig{
			Language: "it-IT",
		},
		Preview: PreviewConfig{
			Enabled:           true,
			Addr:              "127.0.0.1:8090",
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// Validate checks the values the core cannot run without. Endpoint
// addresses are otherwise used as-is.
func (c *Config) Validate() error {
	var errs []error
	if c.Comfy.HTTPBase == "" {
		errs = append(errs, errors.New("COMFY_HTTP must not be empty"))
	}
	if c.Comfy.WSBase == "" {
		errs = append(errs, errors.New("COMFY_WS must not be empty"))
	}
	if c.Input.ThrottleDelay < 0 {
		errs = append(errs, fmt.Errorf("THROTTLE_DELAY must not be negative, got %s", c.Input.ThrottleDelay))
	}
	if c.Input.DebounceDelay < 0 {
		errs = append(errs, fmt.Errorf("DEBOUNCE_DELAY must not be negative, got %s", c.Input.DebounceDelay))
	}
	if c.Capture.Command != "" && c.Capture.File != "" {
		errs = append(errs, errors.New("CAPTURE_CMD and CAPTURE_FILE are mutually exclusive"))
	}
	if c.Preview.Enabled && c.Preview.Addr == "" {
		errs = append(errs, errors.New("PREVIEW_ADDR must be set when the preview is enabled"))
	}
	return multierr.Combine(errs...)
}
