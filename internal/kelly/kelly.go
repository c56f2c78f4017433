// Package kelly implements a regime-conditional fractional Kelly sizer.
// Sizing is computed from the
// realized win/loss distribution of recently completed cycles, partitioned
// by market regime, with exponential recency weighting favoring the most
// recently closed cycles within each partition.
package kelly

import "math"

// Config carries the sizer's sampling and clamping tunables.
type Config struct {
	KellyFraction         float64
	MinSamplesTotal       int
	MinSamplesPerRegime   int
	LookbackCycles        int
	KellyFloorMult        float64
	KellyCeilingMult      float64
	NegativeEdgeMult      float64
	UseRecencyWeighting   bool
	RecencyHalflifeCycles int
	LogKellyUpdates       bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		KellyFraction:         0.25,
		MinSamplesTotal:       30,
		MinSamplesPerRegime:   15,
		LookbackCycles:        500,
		KellyFloorMult:        0.5,
		KellyCeilingMult:      2.0,
		NegativeEdgeMult:      0.5,
		UseRecencyWeighting:   true,
		RecencyHalflifeCycles: 100,
		LogKellyUpdates:       true,
	}
}

// Cycle is the minimal view of a completed round trip the sizer needs.
// ProfitUSD is positive for a win, negative or zero for a loss.
type Cycle struct {
	ProfitUSD  float64
	ExitTime   float64
	RegimeLabel string
}

// Result is the outcome of fitting one bucket (aggregate or one regime).
type Result struct {
	Status       string // "no_data", "no_edge", "all_wins", "ok", "insufficient_samples"
	N            int
	WinRate      float64
	AvgWin       float64
	AvgLoss      float64
	PayoffRatio  float64
	EdgeFraction float64
	Multiplier   float64
}

// Sizer holds the most recently fit per-regime and aggregate results.
type Sizer struct {
	cfg Config

	aggregate Result
	byRegime  map[string]Result

	lastN int
	lastStatus string
}

// New constructs a Sizer in its "inactive" (never-fit) state.
func New(cfg Config) *Sizer {
	return &Sizer{
		cfg:        cfg,
		byRegime:   make(map[string]Result),
		lastStatus: "insufficient_samples",
	}
}

// splitWinsLossesWeighted partitions cycles into wins/losses along with
// their parallel recency weights, keeping both in lockstep by index.
func splitWinsLossesWeighted(cycles []Cycle, weights []float64) (wins, losses []Cycle, winW, lossW []float64) {
	for i, c := range cycles {
		if c.ProfitUSD > 0 {
			wins = append(wins, c)
			winW = append(winW, weights[i])
		} else {
			losses = append(losses, c)
			lossW = append(lossW, weights[i])
		}
	}
	return
}

// recencyWeights assigns exponential-decay weights by exit-time-descending
// rank: the most recently exited cycle in the slice gets weight 1.
func recencyWeights(cycles []Cycle, halflife int, enabled bool) []float64 {
	w := make([]float64, len(cycles))
	if !enabled || halflife <= 0 {
		for i := range w {
			w[i] = 1.0
		}
		return w
	}
	ranked := make([]int, len(cycles))
	for i := range ranked {
		ranked[i] = i
	}
	// insertion sort by ExitTime descending — lists here are small (<=lookback)
	for i := 1; i < len(ranked); i++ {
		j := i
		for j > 0 && cycles[ranked[j]].ExitTime > cycles[ranked[j-1]].ExitTime {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
			j--
		}
	}
	decay := math.Ln2 / float64(halflife)
	for rank, idx := range ranked {
		w[idx] = math.Exp(-decay * float64(rank))
	}
	return w
}

// computeKellyFraction mirrors compute_kelly_fraction(): given wins/losses
// (each with parallel weights), returns the fitted Result.
func computeKellyFraction(wins, losses []Cycle, winW, lossW []float64, fraction, floor, ceiling, negEdgeMult float64) Result {
	n := len(wins) + len(losses)
	if n == 0 {
		return Result{Status: "no_data", Multiplier: 1.0}
	}

	sumW, sumWinW, sumLossW := 0.0, 0.0, 0.0
	sumWinAmt, sumLossAmt := 0.0, 0.0
	for i, c := range wins {
		sumWinW += winW[i]
		sumWinAmt += winW[i] * c.ProfitUSD
	}
	for i, c := range losses {
		sumLossW += lossW[i]
		sumLossAmt += lossW[i] * (-c.ProfitUSD)
	}
	sumW = sumWinW + sumLossW

	winRate := sumWinW / math.Max(sumW, 1e-12)

	if len(losses) == 0 {
		multiplier := 1.0 + fraction
		return Result{
			Status:      "all_wins",
			N:           n,
			WinRate:     winRate,
			AvgWin:      safeDiv(sumWinAmt, sumWinW),
			AvgLoss:     0,
			PayoffRatio: math.Inf(1),
			Multiplier:  clampF(multiplier, floor, ceiling),
		}
	}

	avgWin := safeDiv(sumWinAmt, sumWinW)
	avgLoss := safeDiv(sumLossAmt, sumLossW)
	if avgLoss <= 0 {
		return Result{Status: "no_data", N: n, Multiplier: 1.0}
	}

	b := avgWin / avgLoss
	p := winRate
	q := 1.0 - p
	edge := b*p - q

	if edge <= 0 {
		return Result{
			Status:       "no_edge",
			N:            n,
			WinRate:      winRate,
			AvgWin:       avgWin,
			AvgLoss:      avgLoss,
			PayoffRatio:  b,
			EdgeFraction: edge,
			Multiplier:   clampF(negEdgeMult, floor, ceiling),
		}
	}

	fStar := edge / math.Max(b, 1e-12)
	fFrac := fStar * fraction
	multiplier := 1.0 + fFrac
	return Result{
		Status:       "ok",
		N:            n,
		WinRate:      winRate,
		AvgWin:       avgWin,
		AvgLoss:      avgLoss,
		PayoffRatio:  b,
		EdgeFraction: edge,
		Multiplier:   clampF(multiplier, floor, ceiling),
	}
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Update refits the aggregate and per-regime Kelly buckets from the most
// recent LookbackCycles completed cycles.
func (s *Sizer) Update(completed []Cycle) {
	cycles := completed
	if len(cycles) > s.cfg.LookbackCycles {
		cycles = cycles[len(cycles)-s.cfg.LookbackCycles:]
	}
	s.lastN = len(cycles)

	if len(cycles) < s.cfg.MinSamplesTotal {
		s.lastStatus = "insufficient_samples"
		s.aggregate = Result{Status: "insufficient_samples", N: len(cycles)}
		s.byRegime = make(map[string]Result)
		return
	}
	s.lastStatus = "ok"

	weights := recencyWeights(cycles, s.cfg.RecencyHalflifeCycles, s.cfg.UseRecencyWeighting)
	wins, losses, winW, lossW := splitWinsLossesWeighted(cycles, weights)
	s.aggregate = computeKellyFraction(wins, losses, winW, lossW,
		s.cfg.KellyFraction, s.cfg.KellyFloorMult, s.cfg.KellyCeilingMult, s.cfg.NegativeEdgeMult)

	byRegime := make(map[string][]Cycle)
	for _, c := range cycles {
		label := c.RegimeLabel
		if label == "" {
			label = "unknown"
		}
		byRegime[label] = append(byRegime[label], c)
	}
	s.byRegime = make(map[string]Result, len(byRegime))
	for label, rows := range byRegime {
		rw := recencyWeights(rows, s.cfg.RecencyHalflifeCycles, s.cfg.UseRecencyWeighting)
		w, l, wW, lW := splitWinsLossesWeighted(rows, rw)
		res := computeKellyFraction(w, l, wW, lW,
			s.cfg.KellyFraction, s.cfg.KellyFloorMult, s.cfg.KellyCeilingMult, s.cfg.NegativeEdgeMult)
		if len(rows) < s.cfg.MinSamplesPerRegime {
			res.Status = "insufficient_samples"
		}
		s.byRegime[label] = res
	}
}

// SizeForSlot returns the sized order amount and the reason string, trying
// the regime-specific bucket first, falling back to the aggregate bucket,
// and leaving the base size untouched ("kelly_inactive") if neither has
// enough samples.
func (s *Sizer) SizeForSlot(baseOrderUSD float64, regimeLabel string) (float64, string) {
	if regimeLabel == "" {
		regimeLabel = "unknown"
	}
	if res, ok := s.byRegime[regimeLabel]; ok && res.Status != "insufficient_samples" && res.Status != "" {
		return baseOrderUSD * res.Multiplier, "kelly_" + regimeLabel + "_" + res.Status
	}
	if s.aggregate.Status != "" && s.aggregate.Status != "insufficient_samples" {
		return baseOrderUSD * s.aggregate.Multiplier, "kelly_aggregate_" + s.aggregate.Status
	}
	return baseOrderUSD, "kelly_inactive"
}

// StatusPayload exposes the aggregate/regime fit results for dashboards.
func (s *Sizer) StatusPayload() map[string]Result {
	out := make(map[string]Result, len(s.byRegime)+1)
	out["aggregate"] = s.aggregate
	for k, v := range s.byRegime {
		out[k] = v
	}
	return out
}

// Snapshot is the persisted state. Fit results are not persisted — they
// are cheap to recompute from the next Update call, matching the Python
// restart-continuity snapshot pair.
type Snapshot struct {
	LastN      int
	LastStatus string
}

// Snapshot serializes the sizer for persistence.
func (s *Sizer) Snapshot() Snapshot {
	return Snapshot{LastN: s.lastN, LastStatus: s.lastStatus}
}

// Restore reinstates bookkeeping fields only; callers must call Update
// again with the current cycle history to repopulate fit results.
func (s *Sizer) Restore(snap Snapshot) {
	s.lastN = snap.LastN
	s.lastStatus = snap.LastStatus
}
