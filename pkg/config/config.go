// Package config loads media engine settings from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/channel-io/go-jitter/pkg/jitter"
	"github.com/channel-io/go-jitter/pkg/patch"
	"github.com/channel-io/go-jitter/pkg/stream"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Jitter JitterConfig `yaml:"jitter"`
	Patch  PatchConfig  `yaml:"patch"`
	Stream StreamConfig `yaml:"stream"`
	Log    LogConfig    `yaml:"log"`
}

// JitterConfig mirrors jitter.Params in milliseconds.
type JitterConfig struct {
	MinDelayMS               int `yaml:"min_delay_ms"`
	MaxDelayMS               int `yaml:"max_delay_ms"`
	InitialDelayMS           int `yaml:"initial_delay_ms"`
	GrowIncrementMS          int `yaml:"grow_increment_ms"`
	ShrinkPeriodMS           int `yaml:"shrink_period_ms"`
	ShrinkDecrementMS        int `yaml:"shrink_decrement_ms"`
	SilenceShrinkPeriodMS    int `yaml:"silence_shrink_period_ms"`
	SilenceShrinkDecrementMS int `yaml:"silence_shrink_decrement_ms"`
	DriftPeriodMS            int `yaml:"drift_period_ms"`
	DriftLateThreshold       int `yaml:"drift_late_threshold"`
	MaxConsecutiveMarkerBits int `yaml:"max_consecutive_marker_bits"`
	MaxConsecutiveOverruns   int `yaml:"max_consecutive_overruns"`
}

type PatchConfig struct {
	IdleBackoffMS int `yaml:"idle_backoff_ms"`
}

type StreamConfig struct {
	ReadTimeoutMS int `yaml:"read_timeout_ms"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Default returns the built-in settings.
func Default() *Config {
	p := jitter.DefaultParams()
	return &Config{
		Jitter: JitterConfig{
			MinDelayMS:               ms(p.MinDelay),
			MaxDelayMS:               ms(p.MaxDelay),
			InitialDelayMS:           ms(p.CurrentDelay),
			GrowIncrementMS:          ms(p.GrowIncrement),
			ShrinkPeriodMS:           ms(p.ShrinkPeriod),
			ShrinkDecrementMS:        ms(p.ShrinkDecrement),
			SilenceShrinkPeriodMS:    ms(p.SilenceShrinkPeriod),
			SilenceShrinkDecrementMS: ms(p.SilenceShrinkDecrement),
			DriftPeriodMS:            ms(p.DriftPeriod),
			DriftLateThreshold:       p.DriftLateThreshold,
			MaxConsecutiveMarkerBits: p.MaxConsecutiveMarkerBits,
			MaxConsecutiveOverruns:   p.MaxConsecutiveOverruns,
		},
		Patch:  PatchConfig{IdleBackoffMS: ms(patch.DefaultIdleBackoff)},
		Stream: StreamConfig{ReadTimeoutMS: ms(stream.DefaultReadTimeout)},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from environment variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	ints := map[string]*int{
		"JITTER_MIN_DELAY_MS":                &c.Jitter.MinDelayMS,
		"JITTER_MAX_DELAY_MS":                &c.Jitter.MaxDelayMS,
		"JITTER_INITIAL_DELAY_MS":            &c.Jitter.InitialDelayMS,
		"JITTER_GROW_INCREMENT_MS":           &c.Jitter.GrowIncrementMS,
		"JITTER_SHRINK_PERIOD_MS":            &c.Jitter.ShrinkPeriodMS,
		"JITTER_SHRINK_DECREMENT_MS":         &c.Jitter.ShrinkDecrementMS,
		"JITTER_SILENCE_SHRINK_PERIOD_MS":    &c.Jitter.SilenceShrinkPeriodMS,
		"JITTER_SILENCE_SHRINK_DECREMENT_MS": &c.Jitter.SilenceShrinkDecrementMS,
		"JITTER_DRIFT_PERIOD_MS":             &c.Jitter.DriftPeriodMS,
		"JITTER_DRIFT_LATE_THRESHOLD":        &c.Jitter.DriftLateThreshold,
		"JITTER_MAX_CONSECUTIVE_MARKER_BITS": &c.Jitter.MaxConsecutiveMarkerBits,
		"JITTER_MAX_CONSECUTIVE_OVERRUNS":    &c.Jitter.MaxConsecutiveOverruns,
		"PATCH_IDLE_BACKOFF_MS":              &c.Patch.IdleBackoffMS,
		"STREAM_READ_TIMEOUT_MS":             &c.Stream.ReadTimeoutMS,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, key, v, err)
		}
		*dst = n
	}

	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok && v != "" {
		c.Log.Format = v
	}
	return nil
}

func (c *Config) Validate() error {
	if err := c.Params(8000).Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Patch.IdleBackoffMS <= 0 {
		return fmt.Errorf("%w: idle_backoff_ms must be positive", ErrInvalid)
	}
	if c.Stream.ReadTimeoutMS <= 0 {
		return fmt.Errorf("%w: read_timeout_ms must be positive", ErrInvalid)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalid, c.Log.Format)
	}
	return nil
}

// Params converts the jitter settings for a stream clocked at clockRate.
func (c *Config) Params(clockRate uint32) jitter.Params {
	j := c.Jitter
	return jitter.Params{
		MinDelay:                 dur(j.MinDelayMS),
		MaxDelay:                 dur(j.MaxDelayMS),
		CurrentDelay:             dur(j.InitialDelayMS),
		GrowIncrement:            dur(j.GrowIncrementMS),
		ShrinkPeriod:             dur(j.ShrinkPeriodMS),
		ShrinkDecrement:          dur(j.ShrinkDecrementMS),
		SilenceShrinkPeriod:      dur(j.SilenceShrinkPeriodMS),
		SilenceShrinkDecrement:   dur(j.SilenceShrinkDecrementMS),
		DriftPeriod:              dur(j.DriftPeriodMS),
		DriftLateThreshold:       j.DriftLateThreshold,
		MaxConsecutiveMarkerBits: j.MaxConsecutiveMarkerBits,
		MaxConsecutiveOverruns:   j.MaxConsecutiveOverruns,
		ClockRate:                clockRate,
	}
}

func (c *Config) ReadTimeout() time.Duration {
	return dur(c.Stream.ReadTimeoutMS)
}

// PatchOptions returns the patch options these settings imply.
func (c *Config) PatchOptions(log *logrus.Entry) []patch.Option {
	opts := []patch.Option{patch.WithIdleBackoff(dur(c.Patch.IdleBackoffMS))}
	if log != nil {
		opts = append(opts, patch.WithLogger(log))
	}
	return opts
}

// NewLogger builds a logger for the configured level and format.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	if c.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}

func ms(d time.Duration) int {
	return int(d / time.Millisecond)
}

func dur(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
