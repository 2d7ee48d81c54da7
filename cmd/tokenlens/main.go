// tokenlens extracts a language model's token-ID-to-text vocabulary by
// brute-force probing an OpenAI-compatible inference endpoint, then analyzes
// the harvested vocabulary for presence and case variants of curated term
// categories.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tokenlens/internal/config"
	"tokenlens/internal/sweep"
)

// Exit codes for the CLI surface.
const (
	exitOK        = 0
	exitFatal     = 1 // config, validation or checkpoint I/O failure
	exitResumable = 2 // sweep interrupted; checkpoint is resumable
)

var (
	cfgFile string
	verbose bool

	logger *zap.Logger
	cfg    config.Config
)

var rootCmd = &cobra.Command{
	Use:   "tokenlens",
	Short: "Harvest and analyze an LLM's token vocabulary",
	Long: `tokenlens sweeps a model's token ID space through an OpenAI-compatible
completions endpoint, forcing one token at a time via logit bias to recover
its decoded text. Results checkpoint to disk continuously, so a sweep can be
interrupted and resumed at any point without losing or duplicating work.

Once a vocabulary is harvested, the analyze command reports which terms from
curated categories exist as whole tokens, including their case variants.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return loadConfig()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default .tokenlens.yaml in cwd or $HOME)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	pf.String("base-url", config.Default().BaseURL, "OpenAI-compatible API base URL")
	pf.String("api-key", "", "bearer token for the endpoint (optional)")
	pf.String("output-dir", config.Default().OutputDir, "directory for checkpoint mapping files")
	pf.Duration("request-timeout", config.Default().RequestTimeout, "timeout for a single probe request")

	must(viper.BindPFlag("base_url", pf.Lookup("base-url")))
	must(viper.BindPFlag("api_key", pf.Lookup("api-key")))
	must(viper.BindPFlag("output_dir", pf.Lookup("output-dir")))
	must(viper.BindPFlag("request_timeout", pf.Lookup("request-timeout")))

	rootCmd.AddCommand(sweepCmd, analyzeCmd, statusCmd, resetCmd)
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// loadConfig resolves precedence flag > env > config file > defaults.
func loadConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".tokenlens")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
	}

	viper.SetEnvPrefix("TOKENLENS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	defaults := config.Default()
	viper.SetDefault("base_url", defaults.BaseURL)
	viper.SetDefault("request_timeout", defaults.RequestTimeout)
	viper.SetDefault("prompt", defaults.Prompt)
	viper.SetDefault("logit_bias", defaults.LogitBias)
	viper.SetDefault("temperature", defaults.Temperature)
	viper.SetDefault("concurrency", defaults.Concurrency)
	viper.SetDefault("min_request_interval", defaults.MinRequestInterval)
	viper.SetDefault("batch_size", defaults.BatchSize)
	viper.SetDefault("max_retries", defaults.MaxRetries)
	viper.SetDefault("retry_backoff_base", defaults.RetryBackoffBase)
	viper.SetDefault("retry_backoff_max", defaults.RetryBackoffMax)
	viper.SetDefault("output_dir", defaults.OutputDir)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		logger.Debug("config file loaded", zap.String("path", viper.ConfigFileUsed()))
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		os.Exit(exitOK)
	}

	fmt.Fprintf(os.Stderr, "tokenlens: %v\n", err)
	if errors.Is(err, sweep.ErrInterrupted) {
		os.Exit(exitResumable)
	}
	os.Exit(exitFatal)
}
