// Package throughput implements the fill-time throughput sizer. It
// tracks how long entries take
// to round-trip by regime x side bucket, blends in right-censored
// observations from orders still open, and derives a size multiplier that
// rewards fast-filling buckets, penalizes stale open exits ("age
// pressure"), and backs off as locked capital utilization climbs.
package throughput

import (
	"math"
	"sort"
)

// bucketOrder enumerates every (aggregate + regime x side) bucket key in
// reporting order.
var bucketOrder = []string{
	"aggregate",
	"bearish_A", "bearish_B",
	"ranging_A", "ranging_B",
	"bullish_A", "bullish_B",
}

// Config carries the sizer's bucketing, confidence, and penalty tunables.
type Config struct {
	Enabled                bool
	LookbackCycles         int
	MinSamples             int
	MinSamplesPerBucket    int
	FullConfidenceSamples  int
	FloorMult              float64
	CeilingMult            float64
	CensoredWeight         float64
	AgePressureTrigger     float64
	AgePressureSensitivity float64
	AgePressureFloor       float64
	UtilThreshold          float64
	UtilSensitivity        float64
	UtilFloor              float64
	RecencyHalflife        int
	LogUpdates             bool
}

// DefaultConfig returns the production defaults. Enabled is false by
// default — this sizer is opt-in.
func DefaultConfig() Config {
	return Config{
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
	}
}

// CompletedCycle is a finished round trip contributing an uncensored
// fill-time observation.
type CompletedCycle struct {
	EntryTime   float64
	ExitTime    float64
	ProfitUSD   float64
	RegimeLabel string
	Side        string // "A" or "B"
}

// OpenExit is a still-resting exit order, contributing a right-censored
// observation and locking capital.
type OpenExit struct {
	EntryFilledAt float64
	AgeSec        float64 // if zero, computed from EntryFilledAt by the caller's "now"
	LockedDOGE    float64
	RegimeLabel   string
	Side          string
}

func bucketKeyFor(regimeLabel, side string) string {
	if regimeLabel == "" {
		regimeLabel = "ranging"
	}
	if side != "A" && side != "B" {
		side = "A"
	}
	return regimeLabel + "_" + side
}

// BucketStats summarizes one bucket's fill-time distribution.
type BucketStats struct {
	MedianFillSec    float64
	P75FillSec       float64
	P95FillSec       float64
	MeanProfitPerSec float64
	NCompleted       int
	NCensored        int
}

// Result is the per-slot sizing outcome.
type Result struct {
	ThroughputMult float64
	AgePressure    float64
	UtilPenalty    float64
	FinalMult      float64
	BucketKey      string
	Reason         string
	SufficientData bool
}

// Sizer holds the fitted bucket statistics and the sample count of the
// last Update.
type Sizer struct {
	cfg     Config
	buckets map[string]BucketStats
	nTotal  int
}

// New constructs a Sizer with no fitted buckets.
func New(cfg Config) *Sizer {
	return &Sizer{cfg: cfg, buckets: make(map[string]BucketStats)}
}

type weighted struct {
	value  float64
	weight float64
}

// weightedPercentile finds the value at which the cumulative weight first
// crosses pct * totalWeight, after sorting by value ascending.
func weightedPercentile(rows []weighted, pct float64) float64 {
	if len(rows) == 0 {
		return 0
	}
	sorted := append([]weighted(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].value < sorted[j].value })
	total := 0.0
	for _, r := range sorted {
		total += r.weight
	}
	if total <= 0 {
		return sorted[len(sorted)-1].value
	}
	threshold := total * pct
	cum := 0.0
	for _, r := range sorted {
		cum += r.weight
		if cum >= threshold {
			return r.value
		}
	}
	return sorted[len(sorted)-1].value
}

func recencyWeight(rank, halflife int) float64 {
	if halflife <= 0 {
		return 1.0
	}
	decay := math.Ln2 / float64(halflife)
	return math.Exp(-decay * float64(rank))
}

// Update refits every bucket from the most recent LookbackCycles completed
// cycles plus the currently open exits (right-censored).
func (s *Sizer) Update(completed []CompletedCycle, open []OpenExit, nowForAge float64) {
	cycles := completed
	if len(cycles) > s.cfg.LookbackCycles {
		cycles = cycles[len(cycles)-s.cfg.LookbackCycles:]
	}
	s.nTotal = len(cycles)

	completedByBucket := make(map[string][]CompletedCycle)
	for _, c := range cycles {
		d := c.ExitTime - c.EntryTime
		if d <= 0 {
			continue
		}
		key := bucketKeyFor(c.RegimeLabel, c.Side)
		completedByBucket[key] = append(completedByBucket[key], c)
		completedByBucket["aggregate"] = append(completedByBucket["aggregate"], c)
	}

	censoredByBucket := make(map[string][]OpenExit)
	for _, o := range open {
		age := o.AgeSec
		if age <= 0 {
			age = nowForAge - o.EntryFilledAt
		}
		if age <= 0 {
			continue
		}
		oo := o
		oo.AgeSec = age
		key := bucketKeyFor(o.RegimeLabel, o.Side)
		censoredByBucket[key] = append(censoredByBucket[key], oo)
		censoredByBucket["aggregate"] = append(censoredByBucket["aggregate"], oo)
	}

	s.buckets = make(map[string]BucketStats, len(bucketOrder))
	for _, key := range bucketOrder {
		s.buckets[key] = s.computeBucketStats(completedByBucket[key], censoredByBucket[key])
	}
}

func (s *Sizer) computeBucketStats(completed []CompletedCycle, censored []OpenExit) BucketStats {
	if len(completed) == 0 && len(censored) == 0 {
		return BucketStats{}
	}

	ranked := make([]int, len(completed))
	for i := range ranked {
		ranked[i] = i
	}
	sort.Slice(ranked, func(a, b int) bool {
		return completed[ranked[a]].ExitTime > completed[ranked[b]].ExitTime
	})
	rowsBase := make([]weighted, len(completed))
	for rank, idx := range ranked {
		c := completed[idx]
		rowsBase[idx] = weighted{value: c.ExitTime - c.EntryTime, weight: recencyWeight(rank, s.cfg.RecencyHalflife)}
	}

	baseMedian := weightedPercentile(rowsBase, 0.5)
	cutoff := baseMedian * 0.5

	rows := append([]weighted(nil), rowsBase...)
	var profitNumer, profitDenom float64
	for i, c := range completed {
		d := c.ExitTime - c.EntryTime
		w := rowsBase[i].weight
		profitNumer += w * c.ProfitUSD
		profitDenom += w * d
	}
	nCensored := 0
	for _, o := range censored {
		if o.AgeSec > cutoff {
			rows = append(rows, weighted{value: o.AgeSec, weight: s.cfg.CensoredWeight})
			nCensored++
		}
	}

	return BucketStats{
		MedianFillSec:    weightedPercentile(rows, 0.5),
		P75FillSec:       weightedPercentile(rows, 0.75),
		P95FillSec:       weightedPercentile(rows, 0.95),
		MeanProfitPerSec: safeDivT(profitNumer, profitDenom),
		NCompleted:       len(completed),
		NCensored:        nCensored,
	}
}

func safeDivT(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func clampT(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ReferenceAge reduces a set of open-exit ages to the age-pressure
// reference: the 90th percentile, so a single stale outlier cannot drag
// the whole slot into pressure by itself.
func ReferenceAge(openAgesSec []float64) float64 {
	if len(openAgesSec) == 0 {
		return 0
	}
	sorted := append([]float64(nil), openAgesSec...)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)-1) * 0.9)
	return math.Max(0, sorted[idx])
}

// SizeForSlot returns the sized order amount and a reason string.
// referenceAgeSec is the caller's ReferenceAge over its open exits.
func (s *Sizer) SizeForSlot(baseOrderUSD float64, regimeLabel, side string, lockedDOGE, freeDOGE float64, referenceAgeSec float64) (float64, Result) {
	if !s.cfg.Enabled {
		return baseOrderUSD, Result{FinalMult: 1.0, Reason: "tp_disabled"}
	}
	if s.nTotal < s.cfg.MinSamples {
		return baseOrderUSD, Result{FinalMult: 1.0, Reason: "tp_insufficient_data"}
	}

	key := bucketKeyFor(regimeLabel, side)
	bucket := s.buckets[key]
	aggregate := s.buckets["aggregate"]

	if bucket.NCompleted < s.cfg.MinSamplesPerBucket || bucket.MedianFillSec <= 0 || aggregate.MedianFillSec <= 0 {
		return baseOrderUSD, Result{BucketKey: key, FinalMult: 1.0, Reason: "tp_insufficient_data"}
	}

	rawMult := clampT(aggregate.MedianFillSec/bucket.MedianFillSec, s.cfg.FloorMult, s.cfg.CeilingMult)
	confidence := clampT(float64(bucket.NCompleted)/float64(s.cfg.FullConfidenceSamples), 0, 1)
	throughputMult := 1.0 + confidence*(rawMult-1.0)

	agePressure := 1.0
	if aggregate.P75FillSec > 0 && referenceAgeSec > aggregate.P75FillSec*s.cfg.AgePressureTrigger {
		excess := (referenceAgeSec - aggregate.P75FillSec*s.cfg.AgePressureTrigger) / (aggregate.P75FillSec * s.cfg.AgePressureTrigger)
		agePressure = clampT(1.0-excess*s.cfg.AgePressureSensitivity, s.cfg.AgePressureFloor, 1.0)
	}

	utilPenalty := 1.0
	utilRatio := safeDivT(lockedDOGE, lockedDOGE+freeDOGE)
	if utilRatio > s.cfg.UtilThreshold {
		excess := (utilRatio - s.cfg.UtilThreshold) / (1.0 - s.cfg.UtilThreshold)
		utilPenalty = clampT(1.0-excess*s.cfg.UtilSensitivity, s.cfg.UtilFloor, 1.0)
	}

	finalMult := clampT(throughputMult*agePressure*utilPenalty, s.cfg.FloorMult, s.cfg.CeilingMult)
	res := Result{
		ThroughputMult: throughputMult,
		AgePressure:    agePressure,
		UtilPenalty:    utilPenalty,
		FinalMult:      finalMult,
		BucketKey:      key,
		Reason:         "tp_" + key,
		SufficientData: true,
	}
	return baseOrderUSD * finalMult, res
}

// StatusPayload exposes the fitted bucket stats for dashboards.
func (s *Sizer) StatusPayload() map[string]BucketStats {
	out := make(map[string]BucketStats, len(s.buckets))
	for k, v := range s.buckets {
		out[k] = v
	}
	return out
}

// Snapshot is the persisted bucket state.
type Snapshot struct {
	Buckets map[string]BucketStats
	NTotal  int
}

// Snapshot serializes the sizer for persistence.
func (s *Sizer) Snapshot() Snapshot {
	buckets := make(map[string]BucketStats, len(s.buckets))
	for k, v := range s.buckets {
		buckets[k] = v
	}
	return Snapshot{Buckets: buckets, NTotal: s.nTotal}
}

// Restore reconciles the snapshot against the known bucket set, dropping
// any key not in bucketOrder and defaulting any missing bucket to zero.
func (s *Sizer) Restore(snap Snapshot) {
	s.nTotal = snap.NTotal
	s.buckets = make(map[string]BucketStats, len(bucketOrder))
	for _, key := range bucketOrder {
		if bs, ok := snap.Buckets[key]; ok {
			s.buckets[key] = bs
		} else {
			s.buckets[key] = BucketStats{}
		}
	}
}
