package cli

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/disco"
	"github.com/happyhackingspace/disco/feature"
	"github.com/happyhackingspace/disco/internal/config"
)

type weighted struct {
	f feature.Feature
	v float64
}

func (c *CLI) newInspectCommand() *cobra.Command {
	var top int
	var label string

	cmd := &cobra.Command{
		Use:   "inspect <config> <modelfile>",
		Short: "Show a model's header and its strongest features",
		Args:  cobra.ExactArgs(2),
		Example: `  disco inspect disco.yaml relations.model --top 20
  disco inspect disco.yaml relations.model --label LOCATED`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			e, err := disco.Load(cfg, args[1], disco.Options{})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			h := e.Header
			if h.ID != "" {
				fmt.Fprintf(out, "Model: %s\n", h.ID)
			}
			if !h.Created.IsZero() {
				fmt.Fprintf(out, "Created: %s\n", h.Created.Format(time.RFC3339))
			}
			for _, p := range h.Params {
				mark := " "
				if p.Checked {
					mark = "*"
				}
				fmt.Fprintf(out, "%s %-22s %s\n", mark, p.Key, p.Value)
			}

			perLabel := make(map[string]int)
			var ws []weighted
			for f, cell := range e.Classifier.Weights().All() {
				perLabel[f.Label]++
				if label == "" || f.Label == label {
					ws = append(ws, weighted{f, cell.Value})
				}
			}
			fmt.Fprintf(out, "\nFeatures: %d\n", e.Classifier.Weights().Len())
			for _, sym := range e.Tags.Symbols() {
				if n := perLabel[sym]; n > 0 {
					fmt.Fprintf(out, "%8s %d\n", sym, n)
				}
			}

			slices.SortStableFunc(ws, func(a, b weighted) int {
				return cmp.Compare(math.Abs(b.v), math.Abs(a.v))
			})
			if top > 0 && len(ws) > top {
				ws = ws[:top]
			}
			fmt.Fprintf(out, "\nStrongest features:\n")
			for _, w := range ws {
				fmt.Fprintf(out, "%12.6g  %s\n", w.v, w.f)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&top, "top", 20, "Number of features to show (0 for all)")
	cmd.Flags().StringVar(&label, "label", "", "Only show features of this label")
	return cmd
}
