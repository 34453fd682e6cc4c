package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/localagg/lagerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.01, cfg.Optimizer.LR)
	assert.Equal(t, 0.9, cfg.Optimizer.Momentum)
	assert.Equal(t, 15, cfg.Optimizer.StepSize)
	assert.Equal(t, 0.1, cfg.Optimizer.Gamma)
	assert.Equal(t, "mean", cfg.Encoder.Merger)
	assert.Equal(t, "model_in_training", cfg.SaveTmpName)
	assert.True(t, cfg.ShowBatchProgress)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	yml := `
run_label: fungi
epochs: 4
batch_size: 8
optimizer:
  lr: 0.05
loss:
  k: 5
  centroids: 4
  refresh_policy: batches:10
data:
  source: images
  raw_csv_toc: toc.csv
  selector:
    species: [amanita, boletus]
checkpoint:
  backend: memory
  compression: lz4
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "fungi", cfg.RunLabel)
	assert.Equal(t, 4, cfg.Epochs)
	assert.Equal(t, 8, cfg.BatchSize)
	assert.Equal(t, 0.05, cfg.Optimizer.LR)
	assert.Equal(t, 0.9, cfg.Optimizer.Momentum, "unset fields keep their defaults")
	assert.Equal(t, 5, cfg.Loss.K)
	assert.Equal(t, 3, cfg.Loss.Repeats)
	assert.Equal(t, "batches:10", cfg.Loss.RefreshPolicy)
	assert.Equal(t, []string{"amanita", "boletus"}, cfg.Data.Selector["species"])
	assert.Equal(t, "lz4", cfg.Checkpoint.Compression)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("epochs: [1, 2"), 0o644))
	_, err = Load(path)
	assert.ErrorIs(t, err, lagerr.ErrConfig)
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestMarshal_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Loss.K = 7
	data, err := cfg.Marshal()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestApplyLookup(t *testing.T) {
	env := map[string]string{
		"LALEARN_EPOCHS":              "12",
		"LALEARN_LR":                  "0.2",
		"LALEARN_MEMORY_MIXING":       "0.25",
		"LALEARN_SHOW_BATCH_PROGRESS": "off",
		"LALEARN_CHECKPOINT_BACKEND":  "minio",
		"LALEARN_SEED":                "99",
		"LALEARN_K":                   "  ",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.ApplyLookup(lookup))
	assert.Equal(t, 12, cfg.Epochs)
	assert.Equal(t, 0.2, cfg.Optimizer.LR)
	assert.Equal(t, float32(0.25), cfg.Loss.MixingRate)
	assert.False(t, cfg.ShowBatchProgress)
	assert.Equal(t, "minio", cfg.Checkpoint.Backend)
	assert.Equal(t, int64(99), cfg.Seed)
	assert.Equal(t, 10, cfg.Loss.K, "blank values are ignored")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("LALEARN_CENTROIDS", "6")
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, 6, cfg.Loss.Centroids)
}

func TestApplyLookup_Invalid(t *testing.T) {
	lookup := func(k string) (string, bool) {
		switch k {
		case "LALEARN_BATCH_SIZE":
			return "many", true
		case "LALEARN_SHOW_BATCH_PROGRESS":
			return "perhaps", true
		}
		return "", false
	}
	cfg := Default()
	err := cfg.ApplyLookup(lookup)
	require.ErrorIs(t, err, lagerr.ErrConfig)
	assert.Contains(t, err.Error(), "LALEARN_BATCH_SIZE")
	assert.Contains(t, err.Error(), "LALEARN_SHOW_BATCH_PROGRESS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"batch size", func(c *Config) { c.BatchSize = 0 }},
		{"lr", func(c *Config) { c.Optimizer.LR = 0 }},
		{"momentum", func(c *Config) { c.Optimizer.Momentum = 1 }},
		{"step size", func(c *Config) { c.Optimizer.StepSize = 0 }},
		{"k", func(c *Config) { c.Loss.K = 0 }},
		{"temperature", func(c *Config) { c.Loss.Temperature = -1 }},
		{"mixing", func(c *Config) { c.Loss.MixingRate = 1.5 }},
		{"policy", func(c *Config) { c.Loss.RefreshPolicy = "hourly" }},
		{"merger", func(c *Config) { c.Encoder.Merger = "sum" }},
		{"source", func(c *Config) { c.Data.Source = "video" }},
		{"toc", func(c *Config) { c.Data.Source = "images" }},
		{"backend", func(c *Config) { c.Checkpoint.Backend = "ftp" }},
		{"bucket", func(c *Config) { c.Checkpoint.Backend = "s3" }},
		{"minio endpoint", func(c *Config) {
			c.Checkpoint.Backend = "minio"
			c.Checkpoint.Bucket = "b"
		}},
		{"pointer table", func(c *Config) { c.Checkpoint.PointerTable = "runs" }},
		{"compression", func(c *Config) { c.Checkpoint.Compression = "gzip" }},
		{"codec", func(c *Config) { c.Checkpoint.Codec = "xml" }},
		{"log level", func(c *Config) { c.Log.Level = "trace" }},
		{"log format", func(c *Config) { c.Log.Format = "logfmt" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), lagerr.ErrConfig)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LogConfig{Level: "DEBUG"}.SlogLevel())
	assert.Equal(t, slog.LevelWarn, LogConfig{Level: "warn"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, LogConfig{Level: ""}.SlogLevel())
}
