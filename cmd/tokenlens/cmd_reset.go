package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tokenlens/internal/checkpoint"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset [model]",
	Short: "Delete the checkpoint for a model",
	Long: `Removes the checkpoint mapping file for a model so the next sweep starts
from scratch. Requires --force; a checkpoint can represent hours of probing.`,
	Args: cobra.ExactArgs(1),
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "actually delete the checkpoint")
}

func runReset(cmd *cobra.Command, args []string) error {
	model := args[0]
	path := checkpoint.Path(cfg.OutputDir, model)

	store, err := checkpoint.Open(cfg.OutputDir, model, logger)
	if err != nil {
		return err
	}
	if !store.Loaded() {
		fmt.Printf("No checkpoint for model %q in %s\n", model, cfg.OutputDir)
		return nil
	}
	if !resetForce {
		return fmt.Errorf("refusing to delete %s without --force (%d records)", path, len(store.Mapping()))
	}

	if err := store.Reset(); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", path)
	return nil
}
