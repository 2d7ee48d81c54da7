package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tokenlens/internal/checkpoint"
)

var statusCmd = &cobra.Command{
	Use:   "status [model]",
	Short: "Show checkpoint progress for a model",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	model := args[0]

	store, err := checkpoint.Open(cfg.OutputDir, model, logger)
	if err != nil {
		return err
	}
	if !store.Loaded() {
		fmt.Printf("No checkpoint for model %q in %s\n", model, cfg.OutputDir)
		return nil
	}

	progress := store.Progress()
	mapping := store.Mapping()

	var resolved, empty, failed int
	for _, rec := range mapping {
		switch rec.Status {
		case checkpoint.StatusResolved:
			resolved++
		case checkpoint.StatusEmpty:
			empty++
		case checkpoint.StatusFailed:
			failed++
		}
	}

	total := progress.EndID - progress.StartID + 1
	done := progress.LastCompletedID - progress.StartID + 1
	if done < 0 {
		done = 0
	}

	fmt.Printf("Model:              %s\n", progress.ModelName)
	fmt.Printf("Checkpoint:         %s\n", checkpoint.Path(cfg.OutputDir, model))
	fmt.Printf("Range:              %d..%d\n", progress.StartID, progress.EndID)
	fmt.Printf("Last completed ID:  %d (%d/%d)\n", progress.LastCompletedID, done, total)
	fmt.Printf("Records:            %d (resolved %d, empty %d, failed %d)\n",
		len(mapping), resolved, empty, failed)
	fmt.Printf("Last run:           %s (updated %s)\n", progress.RunID, progress.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
	return nil
}
