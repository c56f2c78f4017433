// Package config defines all configuration for the decision core. Config is
// loaded from a YAML file (default: configs/config.yaml) with overrides via
// DECISIONCORE_* environment variables — same viper/mapstructure/Load/Validate
// pattern, covering the four statistical subsystems and the pair/ledger
// models.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Model      ModelConfig      `mapstructure:"model"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Bocpd      BocpdConfig      `mapstructure:"bocpd"`
	Kelly      KellyConfig      `mapstructure:"kelly"`
	Throughput ThroughputConfig `mapstructure:"throughput"`
	Survival   SurvivalConfig   `mapstructure:"survival"`
	Store      StoreConfig      `mapstructure:"store"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ModelConfig holds the pair state machine's tunables; it maps onto
// pairmodel.ModelConfig
// dataclass defaults. See internal/pairmodel.DefaultModelConfig for the
// hard-coded fallback used when no file is present; this struct is what
// viper unmarshals a YAML/env override into.
type ModelConfig struct {
	EntryPct             float64 `mapstructure:"entry_pct"`
	ProfitPct            float64 `mapstructure:"profit_pct"`
	RefreshPct           float64 `mapstructure:"refresh_pct"`
	DirectionalAsymmetry float64 `mapstructure:"directional_asymmetry"`
	FeeMargin            float64 `mapstructure:"fee_margin"`
	MakerFeePct          float64 `mapstructure:"maker_fee_pct"`
	PriceDecimals        int     `mapstructure:"price_decimals"`
	VolumeDecimals       int     `mapstructure:"volume_decimals"`
	OrderSizeUSD         float64 `mapstructure:"order_size_usd"`
	MinVolume            float64 `mapstructure:"min_volume"`

	BackoffEnabled       bool    `mapstructure:"backoff_enabled"`
	BackoffFactor        float64 `mapstructure:"backoff_factor"`
	BackoffMaxMultiplier float64 `mapstructure:"backoff_max_multiplier"`

	MinCyclesForTiming  int     `mapstructure:"min_cycles_for_timing"`
	RecoveryFallbackSec float64 `mapstructure:"recovery_fallback_sec"`
	ExitRepriceMult     float64 `mapstructure:"exit_reprice_mult"`
	ExitOrphanMult      float64 `mapstructure:"exit_orphan_mult"`
	RepriceCooldownSec  float64 `mapstructure:"reprice_cooldown_sec"`
	MaxRecoverySlots    int     `mapstructure:"max_recovery_slots"`

	MaxConsecutiveRefreshes int     `mapstructure:"max_consecutive_refreshes"`
	RefreshCooldownSec      float64 `mapstructure:"refresh_cooldown_sec"`

	S2MaxSpreadPct      float64 `mapstructure:"s2_max_spread_pct"`
	S2FallbackSec       float64 `mapstructure:"s2_fallback_sec"`
	S2CooldownSec       float64 `mapstructure:"s2_cooldown_sec"`
	PriceStalenessLimit float64 `mapstructure:"price_staleness_limit"`

	LongOnly bool `mapstructure:"long_only"`
}

// LedgerConfig tunes the position/journal ledger.
type LedgerConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	JournalLocalLimit int  `mapstructure:"journal_local_limit"`
}

// BocpdConfig holds the change-point detector's prior and hazard tunables.
type BocpdConfig struct {
	ExpectedRunLength int     `mapstructure:"expected_run_length"`
	MaxRunLength      int     `mapstructure:"max_run_length"`
	AlertThreshold    float64 `mapstructure:"alert_threshold"`
	UrgentThreshold   float64 `mapstructure:"urgent_threshold"`
	PriorMu           float64 `mapstructure:"prior_mu"`
	PriorKappa        float64 `mapstructure:"prior_kappa"`
	PriorAlpha        float64 `mapstructure:"prior_alpha"`
	PriorBeta         float64 `mapstructure:"prior_beta"`
}

// KellyConfig holds the Kelly sizer's tunables.
type KellyConfig struct {
	KellyFraction        float64 `mapstructure:"kelly_fraction"`
	MinSamplesTotal      int     `mapstructure:"min_samples_total"`
	MinSamplesPerRegime  int     `mapstructure:"min_samples_per_regime"`
	LookbackCycles       int     `mapstructure:"lookback_cycles"`
	KellyFloorMult       float64 `mapstructure:"kelly_floor_mult"`
	KellyCeilingMult     float64 `mapstructure:"kelly_ceiling_mult"`
	NegativeEdgeMult     float64 `mapstructure:"negative_edge_mult"`
	UseRecencyWeighting  bool    `mapstructure:"use_recency_weighting"`
	RecencyHalflifeCycle int     `mapstructure:"recency_halflife_cycles"`
	LogKellyUpdates      bool    `mapstructure:"log_kelly_updates"`
}

// ThroughputConfig holds the throughput sizer's
// ThroughputConfig dataclass.
type ThroughputConfig struct {
	Enabled                bool    `mapstructure:"enabled"`
	LookbackCycles         int     `mapstructure:"lookback_cycles"`
	MinSamples             int     `mapstructure:"min_samples"`
	MinSamplesPerBucket    int     `mapstructure:"min_samples_per_bucket"`
	FullConfidenceSamples  int     `mapstructure:"full_confidence_samples"`
	FloorMult              float64 `mapstructure:"floor_mult"`
	CeilingMult            float64 `mapstructure:"ceiling_mult"`
	CensoredWeight         float64 `mapstructure:"censored_weight"`
	AgePressureTrigger     float64 `mapstructure:"age_pressure_trigger"`
	AgePressureSensitivity float64 `mapstructure:"age_pressure_sensitivity"`
	AgePressureFloor       float64 `mapstructure:"age_pressure_floor"`
	UtilThreshold          float64 `mapstructure:"util_threshold"`
	UtilSensitivity        float64 `mapstructure:"util_sensitivity"`
	UtilFloor              float64 `mapstructure:"util_floor"`
	RecencyHalflife        int     `mapstructure:"recency_halflife"`
	LogUpdates             bool    `mapstructure:"log_updates"`
}

// SurvivalConfig holds the survival model's tunables, including the
// ModelTier selector for the optional Cox PH tier.
type SurvivalConfig struct {
	MinObservations int     `mapstructure:"min_observations"`
	MinPerStratum   int     `mapstructure:"min_per_stratum"`
	SyntheticWeight float64 `mapstructure:"synthetic_weight"`
	Horizons        []int   `mapstructure:"horizons"`
	ModelTier       string  `mapstructure:"model_tier"` // "kaplan_meier" | "cox"
}

// StoreConfig sets where ledger/model snapshots are persisted.
type StoreConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the documented defaults for every subsystem, matching
// each package's own DefaultConfig.
func Default() Config {
	return Config{
		Model: ModelConfig{
			EntryPct:             0.5,
			ProfitPct:            1.0,
			RefreshPct:           0.5,
			DirectionalAsymmetry: 0.5,
			FeeMargin:            0.001,
			MakerFeePct:          0.1,
			PriceDecimals:        4,
			VolumeDecimals:       2,
			OrderSizeUSD:         50,
			MinVolume:            1,

			BackoffEnabled:       true,
			BackoffFactor:        0.5,
			BackoffMaxMultiplier: 3.0,

			MinCyclesForTiming:  5,
			RecoveryFallbackSec: 300,
			ExitRepriceMult:     1.5,
			ExitOrphanMult:      5.0,
			RepriceCooldownSec:  60,
			MaxRecoverySlots:    5,

			MaxConsecutiveRefreshes: 3,
			RefreshCooldownSec:      300,

			S2MaxSpreadPct:      0.5,
			S2FallbackSec:       120,
			S2CooldownSec:       30,
			PriceStalenessLimit: 120,
		},
		Ledger: LedgerConfig{
			Enabled:           true,
			JournalLocalLimit: 200,
		},
		Bocpd: BocpdConfig{
			ExpectedRunLength: 200,
			MaxRunLength:      500,
			AlertThreshold:    0.30,
			UrgentThreshold:   0.50,
			PriorMu:           0.0,
			PriorKappa:        1.0,
			PriorAlpha:        1.0,
			PriorBeta:         1.0,
		},
		Kelly: KellyConfig{
			KellyFraction:        0.25,
			MinSamplesTotal:      30,
			MinSamplesPerRegime:  15,
			LookbackCycles:       500,
			KellyFloorMult:       0.5,
			KellyCeilingMult:     2.0,
			NegativeEdgeMult:     0.5,
			UseRecencyWeighting:  true,
			RecencyHalflifeCycle: 100,
			LogKellyUpdates:      true,
		},
		Throughput: ThroughputConfig{
			Enabled:                false,
			LookbackCycles:         500,
			MinSamples:             20,
			MinSamplesPerBucket:    10,
			FullConfidenceSamples:  50,
			FloorMult:              0.5,
			CeilingMult:            2.0,
			CensoredWeight:         0.5,
			AgePressureTrigger:     1.5,
			AgePressureSensitivity: 0.5,
			AgePressureFloor:       0.3,
			UtilThreshold:          0.7,
			UtilSensitivity:        0.8,
			UtilFloor:              0.4,
			RecencyHalflife:        100,
			LogUpdates:             true,
		},
		Survival: SurvivalConfig{
			MinObservations: 50,
			MinPerStratum:   10,
			SyntheticWeight: 0.3,
			Horizons:        []int{1800, 3600, 14400},
			ModelTier:       "kaplan_meier",
		},
		Store: StoreConfig{
			DataDir:    "data",
			SQLitePath: "data/decisioncore.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads config from a YAML file with env var overrides, seeded with
// Default() so a partial file only needs to name the fields it overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("DECISIONCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges, returning the first
// failing check.
func (c *Config) Validate() error {
	if c.Model.EntryPct <= 0 {
		return fmt.Errorf("model.entry_pct must be > 0")
	}
	if c.Model.ProfitPct <= 0 {
		return fmt.Errorf("model.profit_pct must be > 0")
	}
	if c.Model.OrderSizeUSD <= 0 {
		return fmt.Errorf("model.order_size_usd must be > 0")
	}
	if c.Model.MaxRecoverySlots <= 0 {
		return fmt.Errorf("model.max_recovery_slots must be > 0")
	}
	if c.Ledger.JournalLocalLimit < 50 {
		return fmt.Errorf("ledger.journal_local_limit must be >= 50")
	}
	if c.Bocpd.ExpectedRunLength < 2 {
		return fmt.Errorf("bocpd.expected_run_length must be >= 2")
	}
	if c.Bocpd.MaxRunLength < 10 {
		return fmt.Errorf("bocpd.max_run_length must be >= 10")
	}
	if c.Kelly.KellyFraction <= 0 || c.Kelly.KellyFraction > 1 {
		return fmt.Errorf("kelly.kelly_fraction must be in (0, 1]")
	}
	if c.Survival.ModelTier != "kaplan_meier" && c.Survival.ModelTier != "cox" {
		return fmt.Errorf("survival.model_tier must be \"kaplan_meier\" or \"cox\"")
	}
	return nil
}

// ParseLogLevel resolves the configured level string, defaulting to
// Info. Library-side so both cmd/decisioncore and tests can share it.
func ParseLogLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "warn", "error":
		return strings.ToLower(level)
	default:
		return "info"
	}
}

// SnapshotInterval is a retrain/flush period for the statistical models.
// cmd/decisioncore does not read it: it refits the models after every
// exploration chunk and writes each slot's snapshot once, at slot shutdown.
const SnapshotInterval = 30 * time.Second
