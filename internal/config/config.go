// Package config holds the typed runtime configuration for tokenlens. The
// cmd layer binds these fields to flags, environment variables and an
// optional config file; everything rate- or retry-shaped lives here rather
// than as hidden constants.
package config

import (
	"fmt"
	"time"
)

// Config is the full set of runtime knobs.
type Config struct {
	// Endpoint.
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey         string        `mapstructure:"api_key" yaml:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// Probe request shaping.
	Prompt      string  `mapstructure:"prompt" yaml:"prompt"`
	LogitBias   float64 `mapstructure:"logit_bias" yaml:"logit_bias"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`

	// Sweep pacing and durability.
	Concurrency        int           `mapstructure:"concurrency" yaml:"concurrency"`
	MinRequestInterval time.Duration `mapstructure:"min_request_interval" yaml:"min_request_interval"`
	BatchSize          int           `mapstructure:"batch_size" yaml:"batch_size"`
	MaxRetries         int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBackoffBase   time.Duration `mapstructure:"retry_backoff_base" yaml:"retry_backoff_base"`
	RetryBackoffMax    time.Duration `mapstructure:"retry_backoff_max" yaml:"retry_backoff_max"`

	// OutputDir holds one checkpoint mapping file per model.
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
}

// Default returns working settings for a local OpenAI-compatible server.
func Default() Config {
	return Config{
		BaseURL:            "http://localhost:1234/v1",
		RequestTimeout:     10 * time.Second,
		Prompt:             " ",
		LogitBias:          100,
		Temperature:        0.1,
		Concurrency:        1,
		MinRequestInterval: 0,
		BatchSize:          100,
		MaxRetries:         5,
		RetryBackoffBase:   500 * time.Millisecond,
		RetryBackoffMax:    30 * time.Second,
		OutputDir:          "token_mappings",
	}
}

// Validate rejects configurations no sweep could run under.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url must not be empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be >= 1, got %d", c.BatchSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.MinRequestInterval < 0 {
		return fmt.Errorf("min_request_interval must be >= 0, got %s", c.MinRequestInterval)
	}
	if c.RetryBackoffBase <= 0 || c.RetryBackoffMax < c.RetryBackoffBase {
		return fmt.Errorf("retry backoff bounds invalid: base=%s max=%s", c.RetryBackoffBase, c.RetryBackoffMax)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir must not be empty")
	}
	return nil
}
