package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/happyhackingspace/disco/errkind"
	"github.com/happyhackingspace/disco/maxent"
	"github.com/happyhackingspace/disco/weights"
)

const minimal = `
labels:
  file: labels.txt
features:
  catalog: features/main.txt
`

func TestLoadResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disco.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal+`
  per_label:
    NONE: features/none.txt
maxent:
  training_vector_dump: /tmp/train.vec
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Dir)
	assert.Equal(t, filepath.Join(dir, "labels.txt"), cfg.Labels.File)
	assert.Equal(t, filepath.Join(dir, "features", "main.txt"), cfg.Features.Catalog)
	assert.Equal(t, filepath.Join(dir, "features", "none.txt"), cfg.Features.PerLabel["NONE"])
	assert.Equal(t, "/tmp/train.vec", cfg.MaxEnt.TrainingVectorDump)
}

func TestDefaultsSurviveOverlay(t *testing.T) {
	cfg, err := Parse([]byte(minimal+"maxent:\n  train_mode: gis\n"), "")
	require.NoError(t, err)

	assert.Equal(t, MaxEnt, cfg.Model)
	assert.Equal(t, maxent.GIS, cfg.Mode())
	assert.Equal(t, 100, cfg.MaxEnt.MaxIterations)
	assert.Equal(t, 1, cfg.MaxEnt.StopCheckFrequency)
	assert.Equal(t, 5, cfg.P1.Epochs)
	assert.True(t, cfg.P1.RealAveraged)
	assert.Equal(t, 1000, cfg.Features.Capacity)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown model", "model: svm\n"},
		{"conflicting thresholds", "p1:\n  overgen_threshold: 0.5\n  undergen_threshold: 0.5\n"},
		{"held out too large", "maxent:\n  percent_held_out: 60\n"},
		{"bad train mode", "maxent:\n  train_mode: lbfgs\n"},
		{"zero iterations", "maxent:\n  max_iterations: 0\n"},
		{"zero check frequency", "maxent:\n  stop_check_frequency: 0\n"},
		{"negative variance", "maxent:\n  gaussian_variance: -1\n"},
		{"zero capacity", "features:\n  catalog: f.txt\n  capacity: 0\nlabels:\n  file: l.txt\n"},
		{"nested without suffixes", "labels:\n  file: l.txt\n  nested_names: true\nfeatures:\n  catalog: f.txt\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := minimal + tt.yaml
			if tt.yaml[0] == 'f' || tt.yaml[0] == 'l' {
				doc = tt.yaml
			}
			_, err := Parse([]byte(doc), "")
			assert.ErrorIs(t, err, errkind.ErrConfiguration)
		})
	}

	_, err := Parse([]byte("model: p1\n"), "")
	assert.ErrorIs(t, err, errkind.ErrConfiguration)
	_, err = Parse([]byte("labels: [\n"), "")
	assert.ErrorIs(t, err, errkind.ErrConfiguration)
}

func TestModelNameIsNormalized(t *testing.T) {
	cfg, err := Parse([]byte(minimal+"model: \" P1 \"\n"), "")
	require.NoError(t, err)
	assert.Equal(t, P1, cfg.Model)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("DISCO_MODEL", "p1")
	t.Setenv("DISCO_EPOCHS", "9")
	cfg, err := Parse([]byte(minimal), "")
	require.NoError(t, err)
	assert.Equal(t, P1, cfg.Model)
	assert.Equal(t, 9, cfg.P1.Epochs)
}

func TestMalformedEnvironmentOverride(t *testing.T) {
	for _, name := range []string{"DISCO_MAX_ITERATIONS", "DISCO_EPOCHS"} {
		t.Run(name, func(t *testing.T) {
			t.Setenv(name, "ten")
			_, err := Parse([]byte(minimal), "")
			require.ErrorIs(t, err, errkind.ErrConfiguration)
			assert.Contains(t, err.Error(), name)
		})
	}
}

func TestParams(t *testing.T) {
	cfg, err := Parse([]byte(minimal), "/data")
	require.NoError(t, err)

	params := cfg.Params()
	h := weights.Header{Params: params}
	assert.Empty(t, h.Check(params))

	v, ok := h.Get("features")
	require.True(t, ok)
	assert.Equal(t, "main.txt", v)
	v, _ = h.Get("train_mode")
	assert.Equal(t, "SCGIS", v)

	other := *cfg
	other.Labels.Suffixes = true
	mismatches := h.Check(other.Params())
	require.Len(t, mismatches, 1)
	assert.Equal(t, "suffixes", mismatches[0].Key)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, errkind.ErrConfiguration)
}
