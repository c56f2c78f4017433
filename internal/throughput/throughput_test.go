package throughput

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func makeCompleted(n int, fillSec float64, regime, side string) []CompletedCycle {
	out := make([]CompletedCycle, 0, n)
	for i := 0; i < n; i++ {
		entry := float64(i * 100)
		out = append(out, CompletedCycle{
			EntryTime:   entry,
			ExitTime:    entry + fillSec,
			ProfitUSD:   1.0,
			RegimeLabel: regime,
			Side:        side,
		})
	}
	return out
}

func TestDisabledByDefault(t *testing.T) {
	s := New(DefaultConfig())
	s.Update(makeCompleted(50, 100, "ranging", "A"), nil, 10000)
	size, res := s.SizeForSlot(50, "ranging", "A", 0, 100, 0)
	require.Equal(t, 50.0, size)
	require.Equal(t, "tp_disabled", res.Reason)
}

func TestInsufficientDataBelowMinSamples(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	s := New(cfg)
	s.Update(makeCompleted(5, 100, "ranging", "A"), nil, 10000)
	_, res := s.SizeForSlot(50, "ranging", "A", 0, 100, 0)
	require.Equal(t, "tp_insufficient_data", res.Reason)
}

func TestFastBucketIncreasesMultiplier(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.MinSamples = 10
	cfg.MinSamplesPerBucket = 10
	s := New(cfg)
	slow := makeCompleted(30, 500, "bearish", "B")
	fast := makeCompleted(30, 50, "bullish", "A")
	all := append(append([]CompletedCycle{}, slow...), fast...)
	s.Update(all, nil, 100000)

	size, res := s.SizeForSlot(50, "bullish", "A", 0, 100, 0)
	require.True(t, res.SufficientData)
	require.GreaterOrEqual(t, size, 50.0)
}

func TestAgePressureReducesSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.MinSamples = 10
	cfg.MinSamplesPerBucket = 10
	s := New(cfg)
	cycles := makeCompleted(30, 100, "ranging", "A")
	s.Update(cycles, nil, 100000)

	_, resNoPressure := s.SizeForSlot(50, "ranging", "A", 0, 100, 50)
	_, resPressure := s.SizeForSlot(50, "ranging", "A", 0, 100, 1000)
	require.LessOrEqual(t, resPressure.AgePressure, resNoPressure.AgePressure)
}

func TestReferenceAgeIgnoresSingleStaleOutlier(t *testing.T) {
	ages := make([]float64, 0, 11)
	for i := 0; i < 10; i++ {
		ages = append(ages, 10)
	}
	ages = append(ages, 1000)
	require.Equal(t, 10.0, ReferenceAge(ages))
	require.Equal(t, 0.0, ReferenceAge(nil))
}

func TestFinalMultStaysWithinClamp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.MinSamples = 10
	cfg.MinSamplesPerBucket = 10
	s := New(cfg)
	s.Update(makeCompleted(30, 100, "ranging", "A"), nil, 100000)

	// Heavy age pressure and full utilization together would push the
	// raw product below the floor; the final multiplier must not follow.
	_, res := s.SizeForSlot(50, "ranging", "A", 99, 1, 100000)
	require.GreaterOrEqual(t, res.FinalMult, cfg.FloorMult)
	require.LessOrEqual(t, res.FinalMult, cfg.CeilingMult)
}

func TestUtilPenaltyReducesSizeWhenLockedHigh(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.MinSamples = 10
	cfg.MinSamplesPerBucket = 10
	s := New(cfg)
	s.Update(makeCompleted(30, 100, "ranging", "A"), nil, 100000)

	_, resLowUtil := s.SizeForSlot(50, "ranging", "A", 10, 90, 0)
	_, resHighUtil := s.SizeForSlot(50, "ranging", "A", 95, 5, 0)
	require.LessOrEqual(t, resHighUtil.UtilPenalty, resLowUtil.UtilPenalty)
}

func TestCensoredObservationsContributeAboveCutoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	s := New(cfg)
	completed := makeCompleted(30, 100, "ranging", "A")
	open := []OpenExit{
		{EntryFilledAt: 0, AgeSec: 1000, RegimeLabel: "ranging", Side: "A", LockedDOGE: 10},
	}
	s.Update(completed, open, 2000)
	stats := s.StatusPayload()["ranging_A"]
	require.Equal(t, 1, stats.NCensored)
}

func TestSnapshotRestoreReconcilesBucketSet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	s := New(cfg)
	s.Update(makeCompleted(30, 100, "ranging", "A"), nil, 10000)
	snap := s.Snapshot()
	snap.Buckets["unknown_bucket"] = BucketStats{NCompleted: 5}
	delete(snap.Buckets, "bullish_B")

	s2 := New(cfg)
	s2.Restore(snap)
	_, hasUnknown := s2.buckets["unknown_bucket"]
	require.False(t, hasUnknown)
	_, hasBullishB := s2.buckets["bullish_B"]
	require.True(t, hasBullishB)
}
