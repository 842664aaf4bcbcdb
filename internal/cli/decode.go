package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/disco"
	"github.com/happyhackingspace/disco/internal/config"
	"github.com/happyhackingspace/disco/internal/dataset"
)

// decodeResult is one decoded sample.
type decodeResult struct {
	Line  int                `json:"line"`
	Gold  string             `json:"gold,omitempty"`
	Label string             `json:"label"`
	Score float64            `json:"score"`
	Proba map[string]float64 `json:"proba,omitempty"`
}

func (c *CLI) newDecodeCommand() *cobra.Command {
	var threshold float64
	var proba, asJSON bool

	cmd := &cobra.Command{
		Use:   "decode <config> <modelfile> [vectors]",
		Short: "Decode feature vectors from a file or stdin",
		Args:  cobra.RangeArgs(2, 3),
		Example: `  # Decode a vector file
  disco decode disco.yaml relations.model test.vec

  # Read vectors from stdin
  cat test.vec | disco decode disco.yaml relations.model

  # Show posteriors above 0.1 as JSON (maxent models)
  disco decode disco.yaml relations.model test.vec --proba --threshold 0.1 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}

			var samples []*dataset.Sample
			if len(args) == 2 {
				if isStdinTerminal() {
					return cmd.Help()
				}
				slog.Debug("Reading from stdin")
				samples, err = dataset.Read(os.Stdin, dataset.DefaultOptions())
			} else {
				samples, err = dataset.Load(args[2], dataset.DefaultOptions())
			}
			if err != nil {
				return err
			}

			start := time.Now()
			e, err := disco.Load(cfg, args[1], disco.Options{})
			if err != nil {
				return err
			}
			slog.Debug("Model loaded", "duration", time.Since(start))

			start = time.Now()
			results := make([]decodeResult, 0, len(samples))
			correct := 0
			for _, s := range samples {
				r := decodeResult{Line: s.Line, Gold: s.Label}
				if r.Label, r.Score, err = e.Decode(s); err != nil {
					return err
				}
				if proba {
					dist, err := e.Distribution(s)
					if err != nil {
						return err
					}
					r.Proba = make(map[string]float64)
					for k, p := range dist {
						if p >= threshold {
							r.Proba[k] = p
						}
					}
				}
				if r.Label == r.Gold {
					correct++
				}
				results = append(results, r)
			}
			slog.Debug("Decoding completed", "samples", len(samples), "duration", time.Since(start))
			if len(samples) > 0 {
				slog.Info("Decoded", "samples", len(samples),
					"accuracy", fmt.Sprintf("%.1f%%", 100*float64(correct)/float64(len(samples))))
			}

			if asJSON {
				output, err := json.MarshalIndent(results, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(output))
				return err
			}
			return printResults(cmd.OutOrStdout(), results)
		},
	}

	cmd.Flags().Float64Var(&threshold, "threshold", 0.05, "Minimum probability shown with --proba")
	cmd.Flags().BoolVar(&proba, "proba", false, "Show label probabilities")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func printResults(w io.Writer, results []decodeResult) error {
	for _, r := range results {
		if _, err := fmt.Fprintf(w, "%d\t%s\t%g", r.Line, r.Label, r.Score); err != nil {
			return err
		}
		for _, k := range slices.Sorted(maps.Keys(r.Proba)) {
			fmt.Fprintf(w, "\t%s=%.4f", k, r.Proba[k])
		}
		fmt.Fprintln(w)
	}
	return nil
}

func isStdinTerminal() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
