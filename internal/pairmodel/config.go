// Package pairmodel implements the paired-order state machine and exit
// lifecycle controller: a pure, synchronous transition function over an
// immutable PairState. This package performs no I/O, never reads the
// wall clock, and never blocks — every timestamp and price arrives as an
// argument.
package pairmodel

// ModelConfig carries every tunable the transition function consults.
// Zero values are not usable; start from DefaultModelConfig.
type ModelConfig struct {
	// Pricing
	EntryPct              float64 // % distance of entries from market
	ProfitPct             float64 // % profit target for exits
	RefreshPct            float64 // % drift before an entry is refreshed
	DirectionalAsymmetry  float64 // alpha: trend-skewed entry distance split
	FeeMargin             float64 // minimum margin above breakeven a reprice must clear
	MakerFeePct           float64 // % fee applied per leg of a round trip
	PriceDecimals         int
	VolumeDecimals        int
	OrderSizeUSD          float64
	MinVolume             float64

	// Loss backoff
	BackoffEnabled        bool
	BackoffFactor         float64
	BackoffMaxMultiplier  float64

	// Stale-exit / orphan timing
	MinCyclesForTiming   int
	RecoveryFallbackSec  float64
	ExitRepriceMult      float64 // reprice_after = median * this
	ExitOrphanMult       float64 // orphan_after = median * this
	RepriceCooldownSec   float64
	MaxRecoverySlots     int

	// Anti-chase
	MaxConsecutiveRefreshes int
	RefreshCooldownSec      float64

	// S2 break-glass
	S2MaxSpreadPct      float64
	S2FallbackSec       float64
	S2CooldownSec       float64
	PriceStalenessLimit float64

	// Mode
	LongOnly bool
}

// DefaultModelConfig returns the production defaults.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
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

		LongOnly: false,
	}
}
