package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"example.com/uploadcore/internal/common"
	"example.com/uploadcore/internal/records"
	"example.com/uploadcore/internal/sequence"
	"example.com/uploadcore/internal/tzoffset"
)

var ErrInvalidConfig = errors.New("invalid pipeline config")

const (
	UnknownSkip = "skip"
	UnknownFail = "fail"
)

// Config is everything a pipeline needs. It is read once and never changed
// by the pipeline.
type Config struct {
	Family   string `yaml:"family"`
	DeviceID string `yaml:"deviceId"`
	// Table overrides the family's built-in packet table.
	Table string `yaml:"table"`
	// Strict fails the run on the first skipped page, packet or record.
	Strict         bool             `yaml:"strict"`
	UnknownPackets string           `yaml:"unknownPackets"`
	Dedup          string           `yaml:"dedup"`
	Timezone       TimezoneConfig   `yaml:"timezone"`
	Ledger         string           `yaml:"ledger"`
	Logs           common.LogConfig `yaml:"logs"`
}

type TimezoneConfig struct {
	// BaseOffset applies before the first transition. When DeriveFromData is
	// set it is instead the offset in force at the newest record.
	BaseOffset          int                `yaml:"baseOffset"`
	Transitions         []TransitionConfig `yaml:"transitions"`
	DeriveFromData      bool               `yaml:"deriveFromData"`
	RejectExtrapolation bool               `yaml:"rejectExtrapolation"`
	ValidFrom           string             `yaml:"validFrom"`
	ValidUntil          string             `yaml:"validUntil"`
}

type TransitionConfig struct {
	Effective  string `yaml:"effective"`
	Offset     int    `yaml:"offset"`
	ClockDrift int64  `yaml:"clockDrift"`
	Conversion int64  `yaml:"conversion"`
}

// LoadConfig reads a YAML config. Relative paths are taken from the config
// file's directory when the file exists there.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}
	baseDir := filepath.Dir(path)
	resolvePath := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" {
			return ""
		}
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		candidate := filepath.Clean(filepath.Join(baseDir, p))
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		return filepath.Clean(p)
	}
	cfg.Table = resolvePath(cfg.Table)
	cfg.Ledger = resolvePath(cfg.Ledger)
	cfg.Logs.Directory = resolvePath(cfg.Logs.Directory)
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// WithDefaults fills unset policies.
func (c Config) WithDefaults() Config {
	if c.Family == "" {
		c.Family = "podlog"
	}
	if c.UnknownPackets == "" {
		c.UnknownPackets = UnknownSkip
	}
	if c.Dedup == "" {
		c.Dedup = string(sequence.FirstWins)
	}
	c.Logs = c.Logs.WithDefaults()
	return c
}

func (c Config) Validate() error {
	if c.UnknownPackets != UnknownSkip && c.UnknownPackets != UnknownFail {
		return fmt.Errorf("%w: unknownPackets %q", ErrInvalidConfig, c.UnknownPackets)
	}
	if _, err := sequence.ParsePolicy(c.Dedup); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Timezone.BaseOffset < tzoffset.MinOffset || c.Timezone.BaseOffset > tzoffset.MaxOffset {
		return fmt.Errorf("%w: baseOffset %d outside [%d, %d]", ErrInvalidConfig,
			c.Timezone.BaseOffset, tzoffset.MinOffset, tzoffset.MaxOffset)
	}
	if c.Timezone.DeriveFromData && len(c.Timezone.Transitions) > 0 {
		return fmt.Errorf("%w: timezone transitions and deriveFromData are exclusive", ErrInvalidConfig)
	}
	if _, err := c.Timezone.transitions(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := c.Timezone.options(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (tz TimezoneConfig) transitions() ([]tzoffset.Transition, error) {
	out := make([]tzoffset.Transition, 0, len(tz.Transitions))
	for i, tc := range tz.Transitions {
		eff, err := records.ParseLocalTime(tc.Effective)
		if err != nil {
			return nil, fmt.Errorf("transition %d: %w", i, err)
		}
		out = append(out, tzoffset.Transition{
			Effective: eff.Time(),
			Offsets: tzoffset.Offsets{
				Timezone:   tc.Offset,
				ClockDrift: tc.ClockDrift,
				Conversion: tc.Conversion,
			},
		})
	}
	return out, nil
}

func (tz TimezoneConfig) options() (tzoffset.Options, error) {
	opts := tzoffset.Options{RejectExtrapolation: tz.RejectExtrapolation}
	parse := func(name, s string) (time.Time, error) {
		if s == "" {
			return time.Time{}, nil
		}
		ts, err := records.ParseLocalTime(s)
		if err != nil {
			return time.Time{}, fmt.Errorf("%s: %w", name, err)
		}
		return ts.Time(), nil
	}
	var err error
	if opts.From, err = parse("validFrom", tz.ValidFrom); err != nil {
		return opts, err
	}
	if opts.Until, err = parse("validUntil", tz.ValidUntil); err != nil {
		return opts, err
	}
	if !opts.From.IsZero() && !opts.Until.IsZero() && opts.Until.Before(opts.From) {
		return opts, fmt.Errorf("validUntil %s before validFrom %s", tz.ValidUntil, tz.ValidFrom)
	}
	return opts, nil
}
