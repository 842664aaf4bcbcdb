package cli

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/disco"
	"github.com/happyhackingspace/disco/internal/config"
	"github.com/happyhackingspace/disco/internal/dataset"
)

func (c *CLI) newTrainCommand() *cobra.Command {
	var dedup bool

	cmd := &cobra.Command{
		Use:   "train <config> <vectors> <modelfile>",
		Short: "Train a model on labelled feature vectors",
		Args:  cobra.ExactArgs(3),
		Example: `  disco train disco.yaml train.vec relations.model
  disco train disco.yaml train.vec relations.model --dedup -v`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			samples, err := dataset.Load(args[1], dataset.Options{DropDuplicates: dedup})
			if err != nil {
				return err
			}
			modelPath := args[2]
			slog.Info("Training classifier", "model", cfg.Model, "samples", len(samples), "output", modelPath)

			start := time.Now()
			e, err := disco.Train(cfg, disco.Examples(samples), disco.Options{})
			if err != nil {
				return err
			}
			slog.Debug("Training completed", "duration", time.Since(start))
			if m, ok := e.Classifier.(*disco.MaxEnt); ok {
				rep := m.Report()
				slog.Info("MaxEnt training", "mode", rep.Mode, "iterations", rep.Iterations,
					"converged", rep.Converged, "features", rep.Features, "held-out", rep.HeldOutEvents)
			}
			return e.Save(modelPath)
		},
	}

	cmd.Flags().BoolVar(&dedup, "dedup", false, "Drop duplicate samples")
	return cmd
}
