package survival

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func makeObs(duration float64, censored bool, regime, side string) Observation {
	return Observation{
		DurationSec:   duration,
		Censored:      censored,
		RegimeAtEntry: regime,
		RegimeAtExit:  regime,
		Side:          side,
		DistancePct:   0.5,
		Posterior1m:   [3]float64{0.2, 0.6, 0.2},
		Posterior15m:  [3]float64{0.2, 0.6, 0.2},
		Posterior1h:   [3]float64{0.2, 0.6, 0.2},
		Weight:        1.0,
	}
}

func TestUnfitModelReturnsDefaultPrediction(t *testing.T) {
	m := New(DefaultConfig())
	p := m.Predict(makeObs(100, false, "ranging", "A"))
	require.Equal(t, "unfit", p.ModelTier)
	require.Equal(t, 0.0, p.Confidence)
}

func TestKaplanMeierFitProducesMonotoneSurvival(t *testing.T) {
	m := New(DefaultConfig())
	var obs []Observation
	for i := 0; i < 60; i++ {
		obs = append(obs, makeObs(float64(100+i*10), i%5 == 0, "ranging", "A"))
	}
	m.Fit(obs, nil)
	require.Equal(t, "kaplan_meier", m.activeTier)

	curve := m.km.curves["ranging_A"]
	for i := 1; i < len(curve.Survival); i++ {
		require.LessOrEqual(t, curve.Survival[i], curve.Survival[i-1]+1e-9)
	}
}

func TestPredictFallsBackToAggregateForSparseStratum(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinPerStratum = 20
	m := New(cfg)
	var obs []Observation
	for i := 0; i < 60; i++ {
		obs = append(obs, makeObs(float64(200+i*5), false, "ranging", "A"))
	}
	obs = append(obs, makeObs(150, false, "bearish", "B"))
	m.Fit(obs, nil)

	p := m.Predict(makeObs(0, false, "bearish", "B"))
	require.Equal(t, "kaplan_meier", p.ModelTier)
	require.GreaterOrEqual(t, p.PFill30m, 0.0)
	require.LessOrEqual(t, p.PFill30m, 1.0)
}

func TestFitsFromSyntheticObservationsAlone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SyntheticWeight = 0.3
	m := New(cfg)
	synthetic := GenerateSyntheticObservations(60, 1.0, func() float64 { return 0.5 })
	m.Fit(nil, synthetic)
	require.Equal(t, "kaplan_meier", m.activeTier)
	require.True(t, m.fitted)
}

func TestCoxFallsBackToKaplanMeierWhenInsufficientSamples(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelTier = "cox"
	cfg.MinObservations = 1000
	m := New(cfg)
	var obs []Observation
	for i := 0; i < 40; i++ {
		obs = append(obs, makeObs(float64(100+i*10), false, "ranging", "A"))
	}
	m.Fit(obs, nil)
	require.Equal(t, "kaplan_meier", m.activeTier)
}

func TestCoxFitWhenEnoughSamples(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelTier = "cox"
	cfg.MinObservations = 20
	m := New(cfg)
	var obs []Observation
	for i := 0; i < 60; i++ {
		o := makeObs(float64(100+i*10), i%7 == 0, "ranging", "A")
		o.DistancePct = float64(i) / 60.0
		obs = append(obs, o)
	}
	m.Fit(obs, nil)
	require.Contains(t, []string{"cox", "kaplan_meier"}, m.activeTier)

	p := m.Predict(makeObs(0, false, "ranging", "A"))
	require.False(t, math.IsNaN(p.HazardRatio))
	require.Greater(t, p.HazardRatio, 0.0)
}

func TestNormalizedDefendsMalformedPosterior(t *testing.T) {
	o := Observation{Posterior1m: [3]float64{math.NaN(), -1, 0}}
	out := o.normalized()
	require.Equal(t, [3]float64{0, 1, 0}, out.Posterior1m)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	m := New(DefaultConfig())
	var obs []Observation
	for i := 0; i < 60; i++ {
		obs = append(obs, makeObs(float64(100+i*10), i%5 == 0, "bullish", "B"))
	}
	m.Fit(obs, nil)
	snap := m.Snapshot()

	m2 := New(DefaultConfig())
	m2.Restore(snap)
	require.Equal(t, m.activeTier, m2.activeTier)
	require.True(t, m2.fitted)

	p1 := m.Predict(makeObs(0, false, "bullish", "B"))
	p2 := m2.Predict(makeObs(0, false, "bullish", "B"))
	require.InDelta(t, p1.PFill1h, p2.PFill1h, 1e-9)
}
