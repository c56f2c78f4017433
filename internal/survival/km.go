package survival

import (
	"math"
	"sort"
)

// kmCurve is a weighted Kaplan-Meier product-limit survival curve.
type kmCurve struct {
	EventTimes           []float64
	Survival             []float64
	NObservations        int
	NEvents              int
	NCensored            int
	WeightedObservations float64
}

// survivalAt returns S(t) via a step-function lookup: the last survival
// value at or before t, or 1.0 if t precedes the first event time.
func (c kmCurve) survivalAt(t float64) float64 {
	if len(c.EventTimes) == 0 {
		return 1.0
	}
	idx := sort.SearchFloat64s(c.EventTimes, t)
	if idx == 0 {
		if t < c.EventTimes[0] {
			return 1.0
		}
		return c.Survival[0]
	}
	if idx >= len(c.EventTimes) {
		return c.Survival[len(c.Survival)-1]
	}
	if c.EventTimes[idx] == t {
		return c.Survival[idx]
	}
	return c.Survival[idx-1]
}

// medianTime returns the first event time at which survival drops to or
// below 0.5, or +Inf if the curve never crosses that threshold.
func (c kmCurve) medianTime() float64 {
	for i, s := range c.Survival {
		if s <= 0.5 {
			return c.EventTimes[i]
		}
	}
	return math.Inf(1)
}

type kaplanMeier struct {
	curves map[string]kmCurve
}

func fitKaplanMeier(observations []Observation, minPerStratum int) *kaplanMeier {
	groups := make(map[string][]Observation)
	for _, o := range observations {
		key := stratumKey(o.RegimeAtEntry, o.Side)
		groups[key] = append(groups[key], o)
		groups["aggregate"] = append(groups["aggregate"], o)
	}
	m := &kaplanMeier{curves: make(map[string]kmCurve, len(groups))}
	for key, rows := range groups {
		m.curves[key] = fitCurve(rows)
	}
	return m
}

func fitCurve(rows []Observation) kmCurve {
	distinct := make(map[float64]struct{})
	for _, o := range rows {
		distinct[o.DurationSec] = struct{}{}
	}
	times := make([]float64, 0, len(distinct))
	for t := range distinct {
		times = append(times, t)
	}
	sort.Float64s(times)

	weightedN := 0.0
	nEvents, nCensored := 0, 0
	for _, o := range rows {
		weightedN += o.Weight
		if o.Censored {
			nCensored++
		} else {
			nEvents++
		}
	}

	survival := make([]float64, len(times))
	s := 1.0
	for i, t := range times {
		atRisk, deaths := 0.0, 0.0
		for _, o := range rows {
			if o.DurationSec >= t {
				atRisk += o.Weight
			}
			if o.DurationSec == t && !o.Censored {
				deaths += o.Weight
			}
		}
		if atRisk > 0 {
			s *= 1.0 - deaths/atRisk
		}
		survival[i] = s
	}

	return kmCurve{
		EventTimes:           times,
		Survival:             survival,
		NObservations:        len(rows),
		NEvents:              nEvents,
		NCensored:            nCensored,
		WeightedObservations: weightedN,
	}
}

func (m *kaplanMeier) predict(regimeAtEntry, side string, horizons []int, minPerStratum int) Prediction {
	key := stratumKey(regimeAtEntry, side)
	curve, ok := m.curves[key]
	confidence := 1.0
	if !ok || curve.NObservations < minPerStratum {
		agg, aggOK := m.curves["aggregate"]
		if aggOK {
			curve = agg
		}
		confidence = clampSurv(curve.WeightedObservations/float64(maxInt(minPerStratum, 1)), 0, 1)
	} else {
		confidence = clampSurv(curve.WeightedObservations/float64(maxInt(minPerStratum, 1)), 0, 1)
	}

	pFill := make([]float64, len(horizons))
	for i, h := range horizons {
		pFill[i] = 1.0 - curve.survivalAt(float64(h))
	}
	p30, p1h, p4h := 0.5, 0.5, 0.5
	if len(pFill) > 0 {
		p30 = pFill[0]
	}
	if len(pFill) > 1 {
		p1h = pFill[1]
	}
	if len(pFill) > 2 {
		p4h = pFill[2]
	}

	return Prediction{
		PFill30m:        p30,
		PFill1h:         p1h,
		PFill4h:         p4h,
		MedianRemaining: curve.medianTime(),
		HazardRatio:     1.0,
		ModelTier:       "kaplan_meier",
		Confidence:      confidence,
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

type kmSnapshot struct {
	Curves map[string]kmCurve
}

func (m *kaplanMeier) snapshot() kmSnapshot {
	curves := make(map[string]kmCurve, len(m.curves))
	for k, v := range m.curves {
		curves[k] = v
	}
	return kmSnapshot{Curves: curves}
}

func restoreKaplanMeier(snap kmSnapshot) *kaplanMeier {
	m := &kaplanMeier{curves: make(map[string]kmCurve, len(snap.Curves))}
	for k, c := range snap.Curves {
		n := len(c.EventTimes)
		if len(c.Survival) < n {
			n = len(c.Survival)
		}
		c.EventTimes = c.EventTimes[:n]
		c.Survival = c.Survival[:n]
		m.curves[k] = c
	}
	return m
}
