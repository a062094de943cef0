// Package config provides configuration management for kith.
// It loads settings from environment variables with the KITH_ prefix and
// provides sensible defaults for all options. Analytics thresholds (scoring
// weights, discovery minimums, anomaly limits) can additionally be overlaid
// from a YAML file, since those are the values operators actually tune.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/kithlabs/kith/pkg/types"
)

// Config holds all configuration settings for the kith engine.
type Config struct {
	Storage   StorageConfig
	Scoring   ScoringConfig
	Discovery DiscoveryConfig
	Anomaly   AnomalyConfig
	Resolver  ResolverConfig
}

// StorageConfig contains database and snapshot configuration.
type StorageConfig struct {
	Engine      string // Storage engine: sqlite, postgres (default: sqlite)
	DataPath    string // Directory for the SQLite file, registry snapshot, and forward map (default: ./data)
	PostgresDSN string // Connection string when Engine is postgres
}

// ScoringConfig parameterizes the relationship-strength function.
type ScoringConfig struct {
	RecencyWindowDays int     `yaml:"recency_window_days"` // Days until the recency component reaches zero
	FrequencyTarget   float64 `yaml:"frequency_target"`    // Weighted interaction count that saturates frequency at 1.0
	RollingWindowDays int     `yaml:"rolling_window_days"` // Window the frequency counts are drawn from

	// Component weights; must sum to 1.
	RecencyWeight   float64 `yaml:"recency_weight"`
	FrequencyWeight float64 `yaml:"frequency_weight"`
	DiversityWeight float64 `yaml:"diversity_weight"`

	// SourceWeights reflect channel intimacy: direct messaging counts for
	// more than broadcast email.
	SourceWeights map[types.SourceType]float64 `yaml:"source_weights"`

	// CacheTTL bounds how stale a cached strength value may be before an
	// unforced Score call recomputes it.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// DiscoveryConfig parameterizes relationship discovery.
type DiscoveryConfig struct {
	WindowDays int `yaml:"window_days"` // Lookback window for co-occurrence grouping

	// MaxGroupSize skips co-occurrence groups larger than this, avoiding the
	// pair explosion of a companywide calendar invite.
	MaxGroupSize int `yaml:"max_group_size"`

	// MinEvidence is the per-channel evidence floor before an edge is
	// created or updated; signal strength differs by channel.
	MinEvidence map[types.SourceType]int `yaml:"min_evidence"`
}

// GapConfig parameterizes the communication-gap analyzer.
type GapConfig struct {
	LookbackDays    int     `yaml:"lookback_days"`    // Window the gap history is drawn from
	MinInteractions int     `yaml:"min_interactions"` // Minimum history before a cadence is trusted
	Multiplier      float64 `yaml:"multiplier"`       // Flag when days_since > typical_gap * multiplier

	// MinGapDays floors the typical gap per category: closer tiers expect
	// shorter cadence even with sparse history.
	MinGapDays map[types.PersonCategory]float64 `yaml:"min_gap_days"`

	// ExcludedIDs are self/hidden/peripheral people skipped by the analyzer.
	ExcludedIDs []string `yaml:"excluded_ids"`
}

// DriftConfig parameterizes the sentiment-drift analyzer.
type DriftConfig struct {
	WindowDays       int     `yaml:"window_days"`       // Window the sentiment history is drawn from
	MinCount         int     `yaml:"min_count"`         // Minimum scores before a trend is trusted
	DeclineThreshold float64 `yaml:"decline_threshold"` // Flag declining trends with delta <= this (negative)
}

// MeetingConfig parameterizes the meeting-overload analyzer.
type MeetingConfig struct {
	ThresholdHours float64 `yaml:"threshold_hours"` // Flag days with at least this many meeting hours
}

// AnomalyConfig bundles the three analyzer configurations.
type AnomalyConfig struct {
	Gap      GapConfig     `yaml:"gap"`
	Drift    DriftConfig   `yaml:"drift"`
	Meetings MeetingConfig `yaml:"meetings"`
}

// ResolverConfig guards calls to the external identity resolver.
type ResolverConfig struct {
	BaseURL        string        // Resolver endpoint (empty disables the client)
	MaxFailures    uint32        // Consecutive failures before the breaker opens (default: 3)
	BreakerTimeout time.Duration // How long the breaker stays open (default: 30s)
	RatePerSecond  float64       // Request rate limit (default: 10)
	Burst          int           // Rate limiter burst (default: 5)
}

// LoadConfig loads configuration from environment variables with defaults.
// All environment variables use the KITH_ prefix.
func LoadConfig() (*Config, error) {
	cfg := Default()

	cfg.Storage.Engine = getEnv("KITH_STORAGE_ENGINE", cfg.Storage.Engine)
	cfg.Storage.DataPath = getEnv("KITH_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresDSN = getEnv("KITH_POSTGRES_DSN", cfg.Storage.PostgresDSN)

	cfg.Resolver.BaseURL = getEnv("KITH_RESOLVER_URL", cfg.Resolver.BaseURL)
	cfg.Resolver.MaxFailures = uint32(getEnvInt("KITH_RESOLVER_MAX_FAILURES", int(cfg.Resolver.MaxFailures)))
	cfg.Resolver.RatePerSecond = getEnvFloat("KITH_RESOLVER_RATE", cfg.Resolver.RatePerSecond)

	if path := os.Getenv("KITH_THRESHOLDS_FILE"); path != "" {
		if err := cfg.LoadThresholds(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine:   "sqlite",
			DataPath: "./data",
		},
		Scoring: ScoringConfig{
			RecencyWindowDays: 90,
			FrequencyTarget:   30,
			RollingWindowDays: 90,
			RecencyWeight:     0.45,
			FrequencyWeight:   0.35,
			DiversityWeight:   0.2,
			SourceWeights: map[types.SourceType]float64{
				types.SourceMessage:  1.5,
				types.SourceCalendar: 1.2,
				types.SourceEmail:    1.0,
				types.SourceNote:     0.8,
				types.SourceSocial:   0.5,
			},
			CacheTTL: 24 * time.Hour,
		},
		Discovery: DiscoveryConfig{
			WindowDays:   180,
			MaxGroupSize: 20,
			MinEvidence: map[types.SourceType]int{
				types.SourceCalendar: 2,
				types.SourceEmail:    3,
				types.SourceNote:     2,
				types.SourceMessage:  3,
				types.SourceSocial:   1,
			},
		},
		Anomaly: AnomalyConfig{
			Gap: GapConfig{
				LookbackDays:    180,
				MinInteractions: 4,
				Multiplier:      2.0,
				MinGapDays: map[types.PersonCategory]float64{
					types.CategoryFamily:   3,
					types.CategoryWork:     5,
					types.CategoryPersonal: 7,
					types.CategoryUnknown:  14,
				},
			},
			Drift: DriftConfig{
				WindowDays:       60,
				MinCount:         6,
				DeclineThreshold: -0.2,
			},
			Meetings: MeetingConfig{
				ThresholdHours: 6.0,
			},
		},
		Resolver: ResolverConfig{
			MaxFailures:    3,
			BreakerTimeout: 30 * time.Second,
			RatePerSecond:  10,
			Burst:          5,
		},
	}
}

// thresholdsFile is the YAML shape of the tunable-analytics overlay.
type thresholdsFile struct {
	Scoring   *ScoringConfig   `yaml:"scoring"`
	Discovery *DiscoveryConfig `yaml:"discovery"`
	Anomaly   *AnomalyConfig   `yaml:"anomaly"`
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.Engine)
	}
	if c.Storage.Engine == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("config: postgres engine requires KITH_POSTGRES_DSN")
	}

	sum := c.Scoring.RecencyWeight + c.Scoring.FrequencyWeight + c.Scoring.DiversityWeight
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("config: scoring weights must sum to 1, got %v", sum)
	}
	if c.Scoring.RecencyWindowDays <= 0 || c.Scoring.FrequencyTarget <= 0 {
		return fmt.Errorf("config: scoring window and target must be positive")
	}
	if c.Discovery.MaxGroupSize < 2 {
		return fmt.Errorf("config: discovery max_group_size must be at least 2")
	}
	if c.Anomaly.Gap.Multiplier <= 0 {
		return fmt.Errorf("config: gap multiplier must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
