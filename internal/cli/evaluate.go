package cli

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/disco"
	"github.com/happyhackingspace/disco/internal/config"
	"github.com/happyhackingspace/disco/internal/dataset"
)

func (c *CLI) newEvaluateCommand() *cobra.Command {
	var cvFolds int
	var dedup bool

	cmd := &cobra.Command{
		Use:     "evaluate <config> <vectors>",
		Short:   "Evaluate model accuracy via grouped cross-validation",
		Args:    cobra.ExactArgs(2),
		Example: `  disco evaluate disco.yaml train.vec --cv 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			samples, err := dataset.Load(args[1], dataset.Options{DropDuplicates: dedup})
			if err != nil {
				return err
			}
			slog.Info("Evaluating", "model", cfg.Model, "folds", cvFolds, "samples", len(samples))

			start := time.Now()
			result, err := disco.Evaluate(cfg, disco.Examples(samples), cvFolds, disco.Options{})
			if err != nil {
				return err
			}
			slog.Debug("Evaluation completed", "duration", time.Since(start))

			out := cmd.OutOrStdout()
			s := result.Scores
			fmt.Fprintf(out, "Accuracy: %.1f%% (%.0f/%.0f, %d folds)\n",
				result.Accuracy*100, s.Right, s.Events, result.Folds)
			fmt.Fprintf(out, "Precision: %.1f%%  Recall: %.1f%%  F1: %.1f%%\n",
				result.Precision*100, result.Recall*100, result.F1*100)
			fmt.Fprintf(out, "Correct: %.0f  Spurious: %.0f  Missed: %.0f  Wrong type: %.0f\n",
				s.Correct, s.Spurious, s.Missed, s.WrongType)
			printConfusionMatrix(out, result.Confusion, result.Labels)
			return nil
		},
	}

	cmd.Flags().IntVar(&cvFolds, "cv", 10, "Number of cross-validation folds")
	cmd.Flags().BoolVar(&dedup, "dedup", false, "Drop duplicate samples")
	return cmd
}

func printConfusionMatrix(w io.Writer, confusion map[string]map[string]int, classes []string) {
	if len(confusion) == 0 {
		return
	}

	sort.SliceStable(classes, func(i, j int) bool {
		ti, tj := 0, 0
		for _, v := range confusion[classes[i]] {
			ti += v
		}
		for _, v := range confusion[classes[j]] {
			tj += v
		}
		return ti > tj
	})

	fmt.Fprintf(w, "\nConfusion matrix (rows=gold, cols=predicted):\n")
	fmt.Fprintf(w, "%8s", "")
	for _, c := range classes {
		fmt.Fprintf(w, " %5s", c)
	}
	fmt.Fprintf(w, "  total  acc%%\n")

	for _, gold := range classes {
		fmt.Fprintf(w, "%8s", gold)
		total := 0
		correct := 0
		for _, pred := range classes {
			count := confusion[gold][pred]
			total += count
			if gold == pred {
				correct = count
			}
			if count == 0 {
				fmt.Fprintf(w, "   %5s", ".")
			} else {
				fmt.Fprintf(w, "   %3d", count)
			}
		}
		acc := 0.0
		if total > 0 {
			acc = float64(correct) / float64(total) * 100
		}
		fmt.Fprintf(w, "  %5d %5.1f\n", total, acc)
	}
}
