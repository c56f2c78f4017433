package pairmodel

import (
	"math"

	"github.com/robjohncolson/decisioncore/pkg/pairtypes"
)

// round rounds v to n decimal places, half away from zero.
func round(v float64, n int) float64 {
	mult := math.Pow(10, float64(n))
	if v >= 0 {
		return math.Floor(v*mult+0.5) / mult
	}
	return math.Ceil(v*mult-0.5) / mult
}

// entryDistances computes (a_pct, b_pct) — the sell-leg and buy-leg entry
// distances — given the current trend hint. No trend: symmetric. A trend
// skews the distances by directional_asymmetry so the leg opposing the
// trend sits closer to market (cheaper to refill) and the leg riding the
// trend sits farther (slower to refill, avoiding chasing).
func entryDistances(cfg ModelConfig, trend pairtypes.Trend) (aPct, bPct float64) {
	base := cfg.EntryPct
	alpha := cfg.DirectionalAsymmetry
	switch trend {
	case pairtypes.TrendDown:
		return base * alpha, base * (2 - alpha)
	case pairtypes.TrendUp:
		return base * (2 - alpha), base * alpha
	default:
		return base, base
	}
}

// backoffMultiplier scales an entry distance by the configured loss
// backoff, capped at backoff_max_multiplier.
func backoffMultiplier(cfg ModelConfig, consecutiveLosses int) float64 {
	if !cfg.BackoffEnabled || consecutiveLosses <= 0 {
		return 1.0
	}
	m := 1.0 + cfg.BackoffFactor*float64(consecutiveLosses)
	if m > cfg.BackoffMaxMultiplier {
		return cfg.BackoffMaxMultiplier
	}
	return m
}

// computeVolume converts a USD order size into a token volume at the
// given price and entry multiplier, clamped to the configured minimum.
func computeVolume(cfg ModelConfig, price float64, nextEntryMultiplier float64) float64 {
	if price <= 0 {
		return cfg.MinVolume
	}
	mult := nextEntryMultiplier
	if mult <= 0 {
		mult = 1.0
	}
	vol := round((cfg.OrderSizeUSD/price)*mult, cfg.VolumeDecimals)
	if vol < cfg.MinVolume {
		return cfg.MinVolume
	}
	return vol
}

// sellExitPrice computes the target price for a sell exit (closing a buy
// entry at e) given current market m: never worse than the fresh-entry
// floor, honoring the profit target otherwise.
func sellExitPrice(cfg ModelConfig, e, m float64) float64 {
	target := e * (1 + cfg.ProfitPct/100)
	floor := m * (1 + cfg.EntryPct/100)
	return round(math.Max(target, floor), cfg.PriceDecimals)
}

// buyExitPrice mirrors sellExitPrice for a buy exit (closing a sell entry).
func buyExitPrice(cfg ModelConfig, e, m float64) float64 {
	target := e * (1 - cfg.ProfitPct/100)
	floor := m * (1 - cfg.EntryPct/100)
	return round(math.Min(target, floor), cfg.PriceDecimals)
}

// repricedSellExitTarget computes the stale-exit reprice target for a
// sell exit: first reprice is the midpoint of the
// original profit target and breakeven-plus-margin; later reprices use
// breakeven-plus only. The result is never below the market-relative
// fresh-entry floor (the same max sellExitPrice applies).
func repricedSellExitTarget(cfg ModelConfig, e, m float64, repriceCount int) float64 {
	breakevenPlus := e * (1 + cfg.FeeMargin)
	var target float64
	if repriceCount == 0 {
		original := e * (1 + cfg.ProfitPct/100)
		target = (original + breakevenPlus) / 2
	} else {
		target = breakevenPlus
	}
	floor := m * (1 + cfg.EntryPct/100)
	return round(math.Max(target, floor), cfg.PriceDecimals)
}

// repricedBuyExitTarget mirrors repricedSellExitTarget for a buy exit.
func repricedBuyExitTarget(cfg ModelConfig, e, m float64, repriceCount int) float64 {
	breakevenPlus := e * (1 - cfg.FeeMargin)
	var target float64
	if repriceCount == 0 {
		original := e * (1 - cfg.ProfitPct/100)
		target = (original + breakevenPlus) / 2
	} else {
		target = breakevenPlus
	}
	floor := m * (1 - cfg.EntryPct/100)
	return round(math.Min(target, floor), cfg.PriceDecimals)
}

// computeThresholds derives the stale-exit reprice/orphan ages from the
// pair's timing statistics, falling back to recovery_fallback_sec when too
// few cycles have completed to trust the median.
func computeThresholds(cfg ModelConfig, completedCycles int, medianDuration float64) (repriceAfter, orphanAfter float64) {
	if completedCycles < cfg.MinCyclesForTiming || medianDuration <= 0 {
		return cfg.RecoveryFallbackSec, cfg.RecoveryFallbackSec
	}
	return medianDuration * cfg.ExitRepriceMult, medianDuration * cfg.ExitOrphanMult
}

// s2Timeout derives the break-glass timeout the same way.
func s2Timeout(cfg ModelConfig, completedCycles int, medianDuration float64) float64 {
	if completedCycles < cfg.MinCyclesForTiming || medianDuration <= 0 {
		return cfg.S2FallbackSec
	}
	return medianDuration * cfg.ExitRepriceMult
}

// trendExpirySec bounds how long a detected trend stays active before it
// reverts to "none" — modeled on the orphan_after timescale so a trend
// signal doesn't outlive the timing regime that produced it.
func trendExpirySec(cfg ModelConfig, completedCycles int, medianDuration float64) float64 {
	_, orphanAfter := computeThresholds(cfg, completedCycles, medianDuration)
	return orphanAfter
}
