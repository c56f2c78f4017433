package kelly

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func makeCycles(n int, winRatio float64, win, loss float64, regime string) []Cycle {
	out := make([]Cycle, 0, n)
	for i := 0; i < n; i++ {
		profit := -loss
		if float64(i)/float64(n) < winRatio {
			profit = win
		}
		out = append(out, Cycle{ProfitUSD: profit, ExitTime: float64(i), RegimeLabel: regime})
	}
	return out
}

func TestUpdateInsufficientSamples(t *testing.T) {
	s := New(DefaultConfig())
	s.Update(makeCycles(5, 0.6, 1.0, 1.0, "ranging"))
	_, reason := s.SizeForSlot(50, "ranging")
	require.Equal(t, "kelly_inactive", reason)
}

func TestUpdatePositiveEdgeIncreasesSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSamplesTotal = 10
	cfg.MinSamplesPerRegime = 5
	s := New(cfg)
	s.Update(makeCycles(40, 0.7, 2.0, 1.0, "bullish"))
	size, reason := s.SizeForSlot(50, "bullish")
	require.Contains(t, reason, "kelly_")
	require.GreaterOrEqual(t, size, 50.0)
}

func TestAllWinsSpecialCase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSamplesTotal = 5
	res := computeKellyFraction(makeCycles(10, 1.0, 1.0, 1.0, ""), nil,
		make([]float64, 10), nil, cfg.KellyFraction, cfg.KellyFloorMult, cfg.KellyCeilingMult, cfg.NegativeEdgeMult)
	require.Equal(t, "all_wins", res.Status)
	require.Greater(t, res.Multiplier, 1.0)
}

func TestNegativeEdgeClampsDown(t *testing.T) {
	cfg := DefaultConfig()
	wins, losses, winW, lossW := splitWinsLossesWeighted(
		makeCycles(40, 0.2, 1.0, 3.0, ""), make([]float64, 40))
	for i := range winW {
		winW[i] = 1.0
	}
	for i := range lossW {
		lossW[i] = 1.0
	}
	res := computeKellyFraction(wins, losses, winW, lossW,
		cfg.KellyFraction, cfg.KellyFloorMult, cfg.KellyCeilingMult, cfg.NegativeEdgeMult)
	require.Equal(t, "no_edge", res.Status)
	require.InDelta(t, cfg.NegativeEdgeMult, res.Multiplier, 1e-9)
}

func TestRegimeFallsBackToAggregateWhenInsufficient(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSamplesTotal = 20
	cfg.MinSamplesPerRegime = 50
	s := New(cfg)
	cycles := makeCycles(30, 0.65, 1.5, 1.0, "bearish")
	s.Update(cycles)
	_, reason := s.SizeForSlot(50, "bearish")
	require.Contains(t, reason, "aggregate")
}

func TestLookbackTrimsToMostRecent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LookbackCycles = 10
	cfg.MinSamplesTotal = 5
	s := New(cfg)
	s.Update(makeCycles(100, 0.5, 1.0, 1.0, "ranging"))
	require.Equal(t, 10, s.lastN)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := New(DefaultConfig())
	s.Update(makeCycles(40, 0.6, 1.2, 1.0, "ranging"))
	snap := s.Snapshot()

	s2 := New(DefaultConfig())
	s2.Restore(snap)
	require.Equal(t, s.lastN, s2.lastN)
	require.Equal(t, s.lastStatus, s2.lastStatus)
}
