package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tokenlens/internal/analysis"
	"tokenlens/internal/category"
	"tokenlens/internal/checkpoint"
	"tokenlens/internal/export"
)

var (
	analyzeCategories string
	analyzeFormat     string
	analyzeOut        string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [model]",
	Short: "Analyze a harvested vocabulary against term categories",
	Long: `Loads the checkpoint mapping for a model and reports, per category and
term, whether the term exists as a whole token in the vocabulary, which
literal case variants were found, and how many distinct token IDs decode to
it. Without --categories the built-in philosophical demo registry is used.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVar(&analyzeCategories, "categories", "", "category registry file (.json, .yaml or .yml)")
	f.StringVar(&analyzeFormat, "format", "table", "output format: json, csv or table")
	f.StringVarP(&analyzeOut, "out", "o", "", "write output to file instead of stdout")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	model := args[0]

	format, err := export.ParseFormat(analyzeFormat)
	if err != nil {
		return err
	}

	registry := category.Default()
	if analyzeCategories != "" {
		registry, err = category.Load(analyzeCategories)
		if err != nil {
			return err
		}
	}

	store, err := checkpoint.Open(cfg.OutputDir, model, logger)
	if err != nil {
		return err
	}
	if !store.Loaded() {
		return fmt.Errorf("no checkpoint found for model %q in %s (run a sweep first)", model, cfg.OutputDir)
	}

	mapping := store.Mapping()
	progress := store.Progress()
	logger.Info("analyzing vocabulary",
		zap.String("model", model),
		zap.Int("records", len(mapping)),
		zap.Int("categories", registry.Len()),
		zap.Int("last_completed_id", progress.LastCompletedID))

	report := analysis.Analyze(model, mapping, registry)

	data, err := export.Export(report, format)
	if err != nil {
		return err
	}

	if analyzeOut == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(analyzeOut, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	logger.Info("report written", zap.String("path", analyzeOut), zap.String("format", string(format)))
	return nil
}
