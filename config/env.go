package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/hupe1980/localagg/lagerr"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LALEARN_"

type envVar struct {
	key string
	set func(c *Config, val string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func integer(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func float(dst func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst(c) = f
		return nil
	}
}

func boolean(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, ok := parseBool(v)
		if !ok {
			return fmt.Errorf("invalid boolean %q", v)
		}
		*dst(c) = b
		return nil
	}
}

var envVars = []envVar{
	{"RUN_LABEL", str(func(c *Config) *string { return &c.RunLabel })},
	{"SEED", func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		c.Seed = n
		return nil
	}},
	{"EPOCHS", integer(func(c *Config) *int { return &c.Epochs })},
	{"BATCH_SIZE", integer(func(c *Config) *int { return &c.BatchSize })},
	{"SHOW_BATCH_PROGRESS", boolean(func(c *Config) *bool { return &c.ShowBatchProgress })},
	{"SAVE_TMP_NAME", str(func(c *Config) *string { return &c.SaveTmpName })},
	{"LR", float(func(c *Config) *float64 { return &c.Optimizer.LR })},
	{"MOMENTUM", float(func(c *Config) *float64 { return &c.Optimizer.Momentum })},
	{"SCHEDULER_STEP_SIZE", integer(func(c *Config) *int { return &c.Optimizer.StepSize })},
	{"SCHEDULER_GAMMA", float(func(c *Config) *float64 { return &c.Optimizer.Gamma })},
	{"K", integer(func(c *Config) *int { return &c.Loss.K })},
	{"REPEATS", integer(func(c *Config) *int { return &c.Loss.Repeats })},
	{"CENTROIDS", integer(func(c *Config) *int { return &c.Loss.Centroids })},
	{"TEMPERATURE", float(func(c *Config) *float64 { return &c.Loss.Temperature })},
	{"MEMORY_MIXING", func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return err
		}
		c.Loss.MixingRate = float32(f)
		return nil
	}},
	{"N_SAMPLES", integer(func(c *Config) *int { return &c.Loss.NSamples })},
	{"REFRESH_POLICY", str(func(c *Config) *string { return &c.Loss.RefreshPolicy })},
	{"CODE_MERGER", str(func(c *Config) *string { return &c.Encoder.Merger })},
	{"CHECKPOINT_BACKEND", str(func(c *Config) *string { return &c.Checkpoint.Backend })},
	{"CHECKPOINT_DIR", str(func(c *Config) *string { return &c.Checkpoint.Dir })},
	{"CHECKPOINT_BUCKET", str(func(c *Config) *string { return &c.Checkpoint.Bucket })},
	{"CHECKPOINT_PREFIX", str(func(c *Config) *string { return &c.Checkpoint.Prefix })},
	{"CHECKPOINT_ENDPOINT", str(func(c *Config) *string { return &c.Checkpoint.Endpoint })},
	{"CHECKPOINT_ACCESS_KEY", str(func(c *Config) *string { return &c.Checkpoint.AccessKey })},
	{"CHECKPOINT_SECRET_KEY", str(func(c *Config) *string { return &c.Checkpoint.SecretKey })},
	{"IO_LIMIT", func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		c.Checkpoint.IOLimit = n
		return nil
	}},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_FORMAT", str(func(c *Config) *string { return &c.Log.Format })},
	{"METRICS_ADDR", str(func(c *Config) *string { return &c.MetricsAddr })},
}

// ApplyEnv overrides fields from LALEARN_* environment variables.
func (c *Config) ApplyEnv() error {
	return c.ApplyLookup(os.LookupEnv)
}

// ApplyLookup overrides fields from the variables lookup reports.
// Empty values are ignored.
func (c *Config) ApplyLookup(lookup func(string) (string, bool)) error {
	var errs []error
	for _, ev := range envVars {
		key := EnvPrefix + ev.key
		val, ok := lookup(key)
		if !ok || strings.TrimSpace(val) == "" {
			continue
		}
		if err := ev.set(c, strings.TrimSpace(val)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", lagerr.ErrConfig, errors.Join(errs...))
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	default:
		return false, false
	}
}

// SlogLevel returns the configured log level.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
