package disco

import (
	"fmt"
	"slices"

	"github.com/happyhackingspace/disco/errkind"
	"github.com/happyhackingspace/disco/feature"
	"github.com/happyhackingspace/disco/internal/config"
	"github.com/happyhackingspace/disco/internal/dataset"
	"github.com/happyhackingspace/disco/maxent"
	"github.com/happyhackingspace/disco/tagset"
)

// Example is a labelled observation.
type Example struct {
	Observation feature.Observation
	Label       string
	// Group keeps examples of one source in the same evaluation fold.
	Group int
}

// Examples converts dataset samples, grouping them by source domain.
func Examples(samples []*dataset.Sample) []Example {
	groups := dataset.Groups(samples)
	out := make([]Example, len(samples))
	for i, s := range samples {
		out[i] = Example{Observation: s, Label: s.Label, Group: groups[i]}
	}
	return out
}

// EvalResult holds cross-validation results.
type EvalResult struct {
	Folds     int
	Scores    maxent.Tally
	Accuracy  float64
	Precision float64
	Recall    float64
	F1        float64
	// Confusion counts decisions as Confusion[gold][predicted].
	Confusion map[string]map[string]int
	Labels    []string
}

// Train builds an engine from cfg and trains it on examples: p1 runs the
// configured number of epochs; maxent collects every example once and
// derives the model.
func Train(cfg *config.Config, examples []Example, opts Options) (*Engine, error) {
	if len(examples) == 0 {
		return nil, fmt.Errorf("disco: no training examples: %w", errkind.ErrPrecondition)
	}
	e, err := New(cfg, opts)
	if err != nil {
		return nil, err
	}
	defer e.Close()

	gold, err := e.resolve(examples)
	if err != nil {
		return nil, err
	}
	epochs := 1
	if cfg.Model == config.P1 {
		epochs = cfg.P1.Epochs
	}
	for epoch := range epochs {
		for i, ex := range examples {
			if err := e.Classifier.Learn(ex.Observation, gold[i]); err != nil {
				return nil, fmt.Errorf("disco: example %d: %w", i, err)
			}
		}
		e.log.Debug("Training epoch done", "epoch", epoch+1, "examples", len(examples))
	}
	if err := e.Classifier.Finish(); err != nil {
		return nil, fmt.Errorf("disco: %w", err)
	}
	e.log.Info("Model trained", "model", cfg.Model, "examples", len(examples),
		"features", e.Classifier.Weights().Len())
	return e, nil
}

// resolve maps example labels to registry indices.
func (e *Engine) resolve(examples []Example) ([]int, error) {
	gold := make([]int, len(examples))
	for i, ex := range examples {
		idx, ok := e.Tags.IndexOf(ex.Label)
		if !ok {
			return nil, fmt.Errorf("disco: example %d: unknown label %q: %w", i, ex.Label, errkind.ErrPrecondition)
		}
		gold[i] = idx
	}
	return gold, nil
}

// Evaluate runs grouped k-fold cross-validation: each fold is decoded by a
// model trained on the other folds.
func Evaluate(cfg *config.Config, examples []Example, folds int, opts Options) (*EvalResult, error) {
	if len(examples) == 0 {
		return nil, fmt.Errorf("disco: no examples: %w", errkind.ErrPrecondition)
	}
	if folds <= 0 {
		folds = 10
	}
	groups := make([]int, len(examples))
	for i, ex := range examples {
		groups[i] = ex.Group
	}
	split := groupKFold(groups, folds)
	if len(split) < 2 {
		return nil, fmt.Errorf("disco: cross-validation needs at least two groups: %w", errkind.ErrPrecondition)
	}

	result := &EvalResult{Folds: len(split), Confusion: make(map[string]map[string]int)}
	for k, testIdx := range split {
		testSet := makeTestSet(len(examples), testIdx)
		var train []Example
		for i, ex := range examples {
			if !testSet[i] {
				train = append(train, ex)
			}
		}
		e, err := Train(cfg, train, opts)
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", k+1, err)
		}
		var fold maxent.Tally
		for _, i := range testIdx {
			gold, ok := e.Tags.IndexOf(examples[i].Label)
			if !ok {
				return nil, fmt.Errorf("disco: example %d: unknown label %q: %w",
					i, examples[i].Label, errkind.ErrPrecondition)
			}
			pred, _, err := e.Classifier.Decode(examples[i].Observation)
			if err != nil {
				return nil, fmt.Errorf("disco: %w", err)
			}
			fold.Observe(gold, pred, 1, e.Tags.IsNone)
			result.count(examples[i].Label, e.Tags, pred)
		}
		e.log.Debug("Fold evaluated", "fold", k+1, "examples", len(testIdx),
			"accuracy", fold.Accuracy(), "f1", fold.F1())
		result.Scores.Merge(fold)
	}

	for gold := range result.Confusion {
		result.Labels = append(result.Labels, gold)
	}
	slices.Sort(result.Labels)
	result.Accuracy = result.Scores.Accuracy() / 100
	result.Precision = result.Scores.Precision()
	result.Recall = result.Scores.Recall()
	result.F1 = result.Scores.F1()
	return result, nil
}

func (r *EvalResult) count(gold string, tags *tagset.Registry, pred int) {
	sym, _ := tags.Label(pred)
	row := r.Confusion[gold]
	if row == nil {
		row = make(map[string]int)
		r.Confusion[gold] = row
	}
	row[sym]++
}

// groupKFold assigns whole groups to folds round-robin in group order.
func groupKFold(groups []int, nFolds int) [][]int {
	unique := slices.Clone(groups)
	slices.Sort(unique)
	unique = slices.Compact(unique)

	if nFolds > len(unique) {
		nFolds = len(unique)
	}

	groupToFold := make(map[int]int, len(unique))
	for i, g := range unique {
		groupToFold[g] = i % nFolds
	}

	folds := make([][]int, nFolds)
	for i, g := range groups {
		fold := groupToFold[g]
		folds[fold] = append(folds[fold], i)
	}
	return folds
}

func makeTestSet(n int, testIdx []int) []bool {
	set := make([]bool, n)
	for _, i := range testIdx {
		set[i] = true
	}
	return set
}
