package analysis

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when thresholds or the window are rejected
// before any computation runs.
var ErrInvalidConfig = errors.New("invalid analysis config")

// MinComparativeCases is the smallest baseline population the comparative
// engine may be configured to deviate against. Configs may raise it only.
const MinComparativeCases = 500

// Config holds the thresholds used by the analysis engines. The zero value is
// not useful; start from DefaultConfig.
type Config struct {
	// WindowDays bounds how far apart two claim rows may be to be compared.
	WindowDays int `yaml:"window_days" json:"window_days"`
	// PainDeltaThreshold is the smallest difference on the 0-10 scale that
	// is strictly exceeded before two pain ratings conflict.
	PainDeltaThreshold float64 `yaml:"pain_delta_threshold" json:"pain_delta_threshold"`
	StrongSupport      float64 `yaml:"strong_support" json:"strong_support"`
	LowSupport         float64 `yaml:"low_support" json:"low_support"`
	GapThresholdDays   int     `yaml:"gap_threshold_days" json:"gap_threshold_days"`
	RequiredMinCases   int     `yaml:"required_min_cases" json:"required_min_cases"`
	ComparativeVersion string  `yaml:"comparative_version" json:"comparative_version"`
	// DeviationZScore is the absolute z-score above which a case feature is
	// flagged once enough baselines exist.
	DeviationZScore float64 `yaml:"deviation_z_score" json:"deviation_z_score"`
}

// DefaultConfig returns the thresholds used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		WindowDays:         30,
		PainDeltaThreshold: 3,
		StrongSupport:      0.70,
		LowSupport:         0.40,
		GapThresholdDays:   45,
		RequiredMinCases:   MinComparativeCases,
		ComparativeVersion: "1.0",
		DeviationZScore:    2.0,
	}
}

// LoadConfig reads a YAML thresholds file and layers it over DefaultConfig.
// An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read analysis config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML thresholds over DefaultConfig and validates them.
// Keys that are absent keep their default.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects thresholds that cannot produce meaningful results.
func (c Config) Validate() error {
	switch {
	case c.WindowDays < 0:
		return fmt.Errorf("%w: window_days must not be negative, got %d", ErrInvalidConfig, c.WindowDays)
	case c.PainDeltaThreshold < 0 || c.PainDeltaThreshold > 10:
		return fmt.Errorf("%w: pain_delta_threshold must be within 0-10, got %g", ErrInvalidConfig, c.PainDeltaThreshold)
	case c.LowSupport < 0 || c.StrongSupport > 1 || c.LowSupport > c.StrongSupport:
		return fmt.Errorf("%w: support thresholds must satisfy 0 <= low_support <= strong_support <= 1", ErrInvalidConfig)
	case c.GapThresholdDays <= 0:
		return fmt.Errorf("%w: gap_threshold_days must be positive, got %d", ErrInvalidConfig, c.GapThresholdDays)
	case c.RequiredMinCases < MinComparativeCases:
		return fmt.Errorf("%w: required_min_cases must be at least %d, got %d", ErrInvalidConfig, MinComparativeCases, c.RequiredMinCases)
	case c.DeviationZScore <= 0:
		return fmt.Errorf("%w: deviation_z_score must be positive, got %g", ErrInvalidConfig, c.DeviationZScore)
	}
	return nil
}

// ValidateWindow rejects a caller-supplied window before any comparison runs.
func ValidateWindow(windowDays int) error {
	if windowDays < 0 {
		return fmt.Errorf("%w: window_days must not be negative, got %d", ErrInvalidConfig, windowDays)
	}
	return nil
}
