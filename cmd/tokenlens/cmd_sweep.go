package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"tokenlens/internal/checkpoint"
	"tokenlens/internal/probe"
	"tokenlens/internal/sweep"
)

var (
	sweepStartID int
	sweepEndID   int
)

var sweepCmd = &cobra.Command{
	Use:   "sweep [model]",
	Short: "Harvest the token vocabulary for a model",
	Long: `Probes every token ID in [--start, --end] against the configured endpoint
and records the decoded text for each. Progress checkpoints to one mapping
file per model; an interrupted sweep (Ctrl+C, crash, server outage) resumes
from the last flushed batch on the next invocation.

Exit status: 0 when the range completed, 2 when interrupted with a
resumable checkpoint, 1 on configuration or checkpoint I/O failure.`,
	Args: cobra.ExactArgs(1),
	RunE: runSweep,
}

func init() {
	f := sweepCmd.Flags()
	f.IntVar(&sweepStartID, "start", 1, "first token ID to probe")
	f.IntVar(&sweepEndID, "end", 300000, "last token ID to probe (inclusive)")
	f.Int("concurrency", 1, "outstanding probe requests")
	f.Duration("min-interval", 0, "minimum gap between requests")
	f.Int("batch-size", 100, "ids per checkpoint flush")
	f.Int("max-retries", 5, "transient-failure retries per id")

	must(viper.BindPFlag("concurrency", f.Lookup("concurrency")))
	must(viper.BindPFlag("min_request_interval", f.Lookup("min-interval")))
	must(viper.BindPFlag("batch_size", f.Lookup("batch-size")))
	must(viper.BindPFlag("max_retries", f.Lookup("max-retries")))
}

func runSweep(cmd *cobra.Command, args []string) error {
	model := args[0]

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := checkpoint.Open(cfg.OutputDir, model, logger)
	if err != nil {
		return err
	}

	probeCfg := probe.Config{
		BaseURL:            cfg.BaseURL,
		Model:              model,
		APIKey:             cfg.APIKey,
		Timeout:            cfg.RequestTimeout,
		MinRequestInterval: cfg.MinRequestInterval,
		Prompt:             cfg.Prompt,
		LogitBias:          cfg.LogitBias,
		Temperature:        cfg.Temperature,
	}
	client := probe.NewClient(probeCfg, logger)

	sweepCfg := sweep.Config{
		StartID:     sweepStartID,
		EndID:       sweepEndID,
		Concurrency: cfg.Concurrency,
		BatchSize:   cfg.BatchSize,
		MaxRetries:  cfg.MaxRetries,
		BackoffBase: cfg.RetryBackoffBase,
		BackoffMax:  cfg.RetryBackoffMax,
	}
	engine, err := sweep.New(client, store, sweepCfg, logger)
	if err != nil {
		return err
	}

	stats, runErr := engine.Run(ctx)

	path := checkpoint.Path(cfg.OutputDir, model)
	logger.Info("sweep finished",
		zap.String("state", engine.State().String()),
		zap.String("checkpoint", path))

	fmt.Printf("State:       %s\n", engine.State())
	fmt.Printf("Processed:   %d (%.2f tokens/sec)\n", stats.Processed, stats.TokensPerSecond())
	fmt.Printf("Resolved:    %d\n", stats.Resolved)
	fmt.Printf("Empty:       %d\n", stats.Empty)
	fmt.Printf("Failed:      %d\n", stats.Failed)
	fmt.Printf("Skipped:     %d\n", stats.Skipped)
	fmt.Printf("Checkpoint:  %s\n", path)

	return runErr
}
