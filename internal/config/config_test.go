package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	mutations := map[string]func(*Config){
		"empty base_url":         func(c *Config) { c.BaseURL = "" },
		"zero timeout":           func(c *Config) { c.RequestTimeout = 0 },
		"zero concurrency":       func(c *Config) { c.Concurrency = 0 },
		"zero batch size":        func(c *Config) { c.BatchSize = 0 },
		"negative retries":       func(c *Config) { c.MaxRetries = -1 },
		"negative interval":      func(c *Config) { c.MinRequestInterval = -time.Second },
		"backoff max below base": func(c *Config) { c.RetryBackoffMax = c.RetryBackoffBase / 2 },
		"empty output dir":       func(c *Config) { c.OutputDir = "" },
	}

	for name, mutate := range mutations {
		cfg := Default()
		mutate(&cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}
