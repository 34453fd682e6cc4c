// Package config loads the lalearn run configuration.
//
// Configuration is resolved in three layers, later layers winning:
//   - Programmatic defaults (Default)
//   - A YAML file (Load)
//   - LALEARN_* environment variables (ApplyEnv)
//
// Command-line flags are applied on top by cmd/lalearn.
//
// Environment Variables:
//
//	LALEARN_RUN_LABEL            - Label attached to checkpoints and logs
//	LALEARN_SEED                 - Random seed
//	LALEARN_EPOCHS               - Number of training epochs
//	LALEARN_BATCH_SIZE           - Loader batch size (default: 16)
//	LALEARN_SHOW_BATCH_PROGRESS  - Log every batch (default: true)
//	LALEARN_SAVE_TMP_NAME        - Checkpoint written after every epoch
//	LALEARN_LR                   - Initial learning rate (default: 0.01)
//	LALEARN_MOMENTUM             - SGD momentum (default: 0.9)
//	LALEARN_SCHEDULER_STEP_SIZE  - Epochs between learning rate decays (default: 15)
//	LALEARN_SCHEDULER_GAMMA      - Learning rate decay factor (default: 0.1)
//	LALEARN_K                    - Background neighbours (default: 10)
//	LALEARN_REPEATS              - Clustering repeats (default: 3)
//	LALEARN_CENTROIDS            - Clusters per repeat (default: 10)
//	LALEARN_TEMPERATURE          - Softmax temperature (default: 0.07)
//	LALEARN_MEMORY_MIXING        - Memory bank mixing rate (default: 0.5)
//	LALEARN_N_SAMPLES            - Memory bank size, 0 for the dataset size
//	LALEARN_REFRESH_POLICY       - epoch, never or batches:N (default: epoch)
//	LALEARN_CODE_MERGER          - mean or max (default: mean)
//	LALEARN_CHECKPOINT_BACKEND   - local, memory, s3 or minio (default: local)
//	LALEARN_CHECKPOINT_DIR       - Directory of the local backend
//	LALEARN_CHECKPOINT_BUCKET    - Bucket of the s3 and minio backends
//	LALEARN_IO_LIMIT             - Checkpoint transfer limit in bytes/s, 0 for none
//	LALEARN_LOG_LEVEL            - debug, info, warn or error (default: info)
//	LALEARN_LOG_FORMAT           - text or json (default: text)
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/localagg/checkpoint"
	"github.com/hupe1980/localagg/cluster"
	"github.com/hupe1980/localagg/codec"
	"github.com/hupe1980/localagg/lagerr"
	"github.com/hupe1980/localagg/nn"
)

// Config is the complete run configuration.
type Config struct {
	RunLabel          string `yaml:"run_label"`
	Seed              int64  `yaml:"seed"`
	Epochs            int    `yaml:"epochs"`
	BatchSize         int    `yaml:"batch_size"`
	ShowBatchProgress bool   `yaml:"show_batch_progress"`
	SaveTmpName       string `yaml:"save_tmp_name"`

	Optimizer  OptimizerConfig  `yaml:"optimizer"`
	Loss       LossConfig       `yaml:"loss"`
	Encoder    EncoderConfig    `yaml:"encoder"`
	Data       DataConfig       `yaml:"data"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Log        LogConfig        `yaml:"log"`

	// MetricsAddr serves Prometheus metrics when set, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr"`
}

// OptimizerConfig holds the SGD and step scheduler settings.
type OptimizerConfig struct {
	LR          float64 `yaml:"lr"`
	Momentum    float64 `yaml:"momentum"`
	WeightDecay float64 `yaml:"weight_decay"`
	StepSize    int     `yaml:"scheduler_step_size"`
	Gamma       float64 `yaml:"scheduler_gamma"`
}

// LossConfig holds the Local Aggregation hyperparameters.
type LossConfig struct {
	K           int     `yaml:"k"`
	Repeats     int     `yaml:"repeats"`
	Centroids   int     `yaml:"centroids"`
	Temperature float64 `yaml:"temperature"`
	MixingRate  float32 `yaml:"memory_mixing"`
	// NSamples is the memory bank size. 0 uses the dataset size.
	NSamples int `yaml:"n_samples"`
	// RefreshPolicy is "epoch", "never" or "batches:N".
	RefreshPolicy string `yaml:"refresh_policy"`
	// AsyncRefresh reclusters in the background while training continues.
	AsyncRefresh bool `yaml:"async_refresh"`
}

// EncoderConfig describes the linear encoder.
type EncoderConfig struct {
	Dim     int    `yaml:"dim"`
	Patches int    `yaml:"patches"`
	Merger  string `yaml:"code_merger"`
}

// DataConfig selects and parametrizes the dataset.
type DataConfig struct {
	// Source is "synthetic" or "images".
	Source  string `yaml:"source"`
	Shuffle bool   `yaml:"shuffle"`

	// Synthetic blobs.
	Samples  int     `yaml:"samples"`
	Dim      int     `yaml:"dim"`
	Clusters int     `yaml:"clusters"`
	Spread   float32 `yaml:"spread"`

	// Image folder.
	TOC         string              `yaml:"raw_csv_toc"`
	Root        string              `yaml:"raw_csv_root"`
	PathColumn  string              `yaml:"path_column"`
	LabelColumn string              `yaml:"label_column"`
	Selector    map[string][]string `yaml:"selector,omitempty"`
	ISelector   []int               `yaml:"iselector,omitempty"`
	Width       int                 `yaml:"width"`
	Height      int                 `yaml:"height"`
}

// CheckpointConfig selects where checkpoints are stored.
type CheckpointConfig struct {
	// Backend is "local", "memory", "s3" or "minio".
	Backend     string `yaml:"backend"`
	Dir         string `yaml:"dir"`
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	Secure      bool   `yaml:"secure"`
	Compression string `yaml:"compression"`
	Codec       string `yaml:"codec"`
	// PointerTable names a DynamoDB table recording the latest checkpoint (s3 only).
	PointerTable string `yaml:"pointer_table"`
	// IOLimit caps checkpoint transfers in bytes per second. 0 disables it.
	IOLimit int64 `yaml:"io_limit"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		RunLabel:          "localagg",
		Seed:              1,
		Epochs:            1,
		BatchSize:         16,
		ShowBatchProgress: true,
		SaveTmpName:       "model_in_training",
		Optimizer: OptimizerConfig{
			LR:       0.01,
			Momentum: 0.9,
			StepSize: 15,
			Gamma:    0.1,
		},
		Loss: LossConfig{
			K:             10,
			Repeats:       3,
			Centroids:     10,
			Temperature:   0.07,
			MixingRate:    0.5,
			RefreshPolicy: "epoch",
		},
		Encoder: EncoderConfig{
			Dim:     32,
			Patches: 1,
			Merger:  "mean",
		},
		Data: DataConfig{
			Source:     "synthetic",
			Shuffle:    true,
			Samples:    256,
			Dim:        64,
			Clusters:   8,
			Spread:     0.1,
			PathColumn: "path",
			Width:      32,
			Height:     32,
		},
		Checkpoint: CheckpointConfig{
			Backend:     "local",
			Dir:         "checkpoints",
			Secure:      true,
			Compression: "zstd",
			Codec:       "go-json",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", lagerr.ErrConfig, path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path, or returns the defaults when path is empty.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks every field that can be checked without the dataset.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Epochs >= 0, "epochs must be non-negative, got %d", c.Epochs)
	check(c.BatchSize > 0, "batch_size must be positive, got %d", c.BatchSize)
	check(c.SaveTmpName != "", "save_tmp_name must not be empty")

	check(c.Optimizer.LR > 0, "lr must be positive, got %v", c.Optimizer.LR)
	check(c.Optimizer.Momentum >= 0 && c.Optimizer.Momentum < 1, "momentum must be in [0, 1), got %v", c.Optimizer.Momentum)
	check(c.Optimizer.WeightDecay >= 0, "weight_decay must be non-negative, got %v", c.Optimizer.WeightDecay)
	check(c.Optimizer.StepSize > 0, "scheduler_step_size must be positive, got %d", c.Optimizer.StepSize)
	check(c.Optimizer.Gamma > 0 && c.Optimizer.Gamma <= 1, "scheduler_gamma must be in (0, 1], got %v", c.Optimizer.Gamma)

	check(c.Loss.K > 0, "k must be positive, got %d", c.Loss.K)
	check(c.Loss.Repeats > 0, "repeats must be positive, got %d", c.Loss.Repeats)
	check(c.Loss.Centroids > 0, "centroids must be positive, got %d", c.Loss.Centroids)
	check(c.Loss.Temperature > 0, "temperature must be positive, got %v", c.Loss.Temperature)
	check(c.Loss.MixingRate >= 0 && c.Loss.MixingRate <= 1, "memory_mixing must be in [0, 1], got %v", c.Loss.MixingRate)
	check(c.Loss.NSamples >= 0, "n_samples must be non-negative, got %d", c.Loss.NSamples)
	if _, err := cluster.ParsePolicy(c.Loss.RefreshPolicy); err != nil {
		errs = append(errs, err)
	}

	check(c.Encoder.Dim > 0, "encoder dim must be positive, got %d", c.Encoder.Dim)
	check(c.Encoder.Patches > 0, "patches must be positive, got %d", c.Encoder.Patches)
	if _, err := nn.ParseMerger(c.Encoder.Merger); err != nil {
		errs = append(errs, err)
	}

	switch c.Data.Source {
	case "synthetic":
		check(c.Data.Samples > 0, "samples must be positive, got %d", c.Data.Samples)
		check(c.Data.Dim > 0, "data dim must be positive, got %d", c.Data.Dim)
		check(c.Data.Clusters > 0 && c.Data.Clusters <= c.Data.Samples, "clusters must be in [1, samples], got %d", c.Data.Clusters)
	case "images":
		check(c.Data.TOC != "", "raw_csv_toc is required for image data")
		check(c.Data.Width > 0 && c.Data.Height > 0, "image size must be positive, got %dx%d", c.Data.Width, c.Data.Height)
	default:
		errs = append(errs, fmt.Errorf("unknown data source %q", c.Data.Source))
	}

	switch c.Checkpoint.Backend {
	case "local":
		check(c.Checkpoint.Dir != "", "checkpoint dir is required for the local backend")
	case "memory":
	case "s3", "minio":
		check(c.Checkpoint.Bucket != "", "checkpoint bucket is required for the %s backend", c.Checkpoint.Backend)
		check(c.Checkpoint.Backend != "minio" || c.Checkpoint.Endpoint != "", "checkpoint endpoint is required for the minio backend")
	default:
		errs = append(errs, fmt.Errorf("unknown checkpoint backend %q", c.Checkpoint.Backend))
	}
	check(c.Checkpoint.PointerTable == "" || c.Checkpoint.Backend == "s3", "pointer_table requires the s3 backend")
	check(c.Checkpoint.IOLimit >= 0, "io_limit must be non-negative, got %d", c.Checkpoint.IOLimit)
	if _, err := checkpoint.ParseCompression(c.Checkpoint.Compression); err != nil {
		errs = append(errs, err)
	}
	if _, err := codec.Parse(c.Checkpoint.Codec); err != nil {
		errs = append(errs, err)
	}

	check(slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Log.Level)), "unknown log level %q", c.Log.Level)
	check(slices.Contains([]string{"text", "json"}, strings.ToLower(c.Log.Format)), "unknown log format %q", c.Log.Format)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", lagerr.ErrConfig, errors.Join(errs...))
}

