// Package bocpd implements Bayesian online change-point detection with a
// Normal-Inverse-Gamma (NIG) conjugate observation model. All joint
// computations run as log-sums with max-shift before exponentiation;
// denominators are floored; a degenerate total resets the posterior to the
// single-run prior. Pure stdlib math, plain loops over raw slices.
package bocpd

import "math"

// Config carries the detector's prior and hazard tunables.
type Config struct {
	ExpectedRunLength int
	MaxRunLength      int
	AlertThreshold    float64
	UrgentThreshold   float64
	PriorMu           float64
	PriorKappa        float64
	PriorAlpha        float64
	PriorBeta         float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ExpectedRunLength: 200,
		MaxRunLength:      500,
		AlertThreshold:    0.30,
		UrgentThreshold:   0.50,
		PriorMu:           0.0,
		PriorKappa:        1.0,
		PriorAlpha:        1.0,
		PriorBeta:         1.0,
	}
}

// State is the latest published snapshot of detector output.
type State struct {
	ChangeProb        float64
	RunLengthMode     int
	RunLengthModeProb float64
	LastUpdateTS      float64
	ObservationCount  int
	AlertActive       bool
	AlertTriggeredAt  float64
	RunLengthMap      map[int]float64 // run length -> probability, capped at 32 entries
}

// Detector is the online BOCPD state machine. Not safe for concurrent
// use — it is owned by a single orchestrator, same as every other
// stateful component in this tree.
type Detector struct {
	cfg    Config
	hazard float64
	prior  [4]float64 // mu, kappa, alpha, beta

	runProbs []float64
	mu       []float64
	kappa    []float64
	alpha    []float64
	beta     []float64

	state State
}

// New constructs a Detector with the run-length posterior initialized to a
// single run of length zero under the prior.
func New(cfg Config) *Detector {
	if cfg.ExpectedRunLength < 2 {
		cfg.ExpectedRunLength = 2
	}
	if cfg.MaxRunLength < 10 {
		cfg.MaxRunLength = 10
	}
	cfg.AlertThreshold = clamp(cfg.AlertThreshold, 0, 1)
	cfg.UrgentThreshold = clamp(cfg.UrgentThreshold, cfg.AlertThreshold, 1)

	d := &Detector{
		cfg:    cfg,
		hazard: 1.0 / float64(cfg.ExpectedRunLength),
		prior: [4]float64{
			cfg.PriorMu,
			math.Max(1e-9, cfg.PriorKappa),
			math.Max(1e-9, cfg.PriorAlpha),
			math.Max(1e-9, cfg.PriorBeta),
		},
	}
	d.runProbs = []float64{1.0}
	d.mu = []float64{d.prior[0]}
	d.kappa = []float64{d.prior[1]}
	d.alpha = []float64{d.prior[2]}
	d.beta = []float64{d.prior[3]}
	return d
}

// studentTLogPDF is the predictive log-density under the NIG posterior's
// Student-t marginal.
func studentTLogPDF(x, mu, kappa, alpha, beta float64) float64 {
	dof := math.Max(1e-9, 2.0*alpha)
	scale2 := math.Max(1e-12, (beta*(kappa+1.0))/math.Max(1e-9, alpha*kappa))
	z := (x - mu) * (x - mu) / (dof * scale2)
	return lgamma((dof+1.0)/2.0) - lgamma(dof/2.0) -
		0.5*(math.Log(dof)+math.Log(math.Pi)+math.Log(scale2)) -
		((dof+1.0)/2.0)*math.Log1p(z)
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}

// nigUpdate applies the standard conjugate NIG update for observation x
// against every parallel (mu, kappa, alpha, beta) entry.
func nigUpdate(x float64, mu, kappa, alpha, beta []float64) (newMu, newKappa, newAlpha, newBeta []float64) {
	n := len(mu)
	newMu = make([]float64, n)
	newKappa = make([]float64, n)
	newAlpha = make([]float64, n)
	newBeta = make([]float64, n)
	for i := range mu {
		k := kappa[i]
		kNew := k + 1.0
		newKappa[i] = kNew
		newMu[i] = (k*mu[i] + x) / math.Max(kNew, 1e-12)
		newAlpha[i] = alpha[i] + 0.5
		d := x - mu[i]
		newBeta[i] = beta[i] + (k*d*d)/math.Max(2.0*kNew, 1e-12)
	}
	return
}

// safeScalarObservation reduces a vector observation by mean, dropping
// non-finite entries; returns 0 for an empty or entirely non-finite input.
func safeScalarObservation(observation []float64) float64 {
	sum, n := 0.0, 0
	for _, v := range observation {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0.0
	}
	return sum / float64(n)
}

// Update ingests one scalar observation (or a vector, reduced by mean) and
// returns the new published state. now is the caller-supplied timestamp;
// the package never reads the wall clock.
func (d *Detector) Update(observation []float64, now float64) State {
	x := safeScalarObservation(observation)

	logPred := make([]float64, len(d.runProbs))
	for i := range d.runProbs {
		logPred[i] = studentTLogPDF(x, d.mu[i], d.kappa[i], d.alpha[i], d.beta[i])
	}

	runLog := make([]float64, len(d.runProbs))
	for i, p := range d.runProbs {
		runLog[i] = math.Log(math.Max(p, 1e-300))
	}
	logH := math.Log(clamp(d.hazard, 1e-12, 1-1e-12))
	log1mH := math.Log(math.Max(1e-12, 1.0-d.hazard))

	logGrowth := make([]float64, len(runLog))
	logCP := make([]float64, len(runLog))
	for i := range runLog {
		logGrowth[i] = runLog[i] + logPred[i] + log1mH
		logCP[i] = runLog[i] + logPred[i] + logH
	}
	cpMass := stableSumExp(logCP)

	newLen := d.cfg.MaxRunLength + 1
	if len(d.runProbs)+1 < newLen {
		newLen = len(d.runProbs) + 1
	}
	newJoint := make([]float64, newLen)
	newJoint[0] = cpMass
	maxGrowth := maxOf(logGrowth)
	growthKeep := newLen - 1
	if growthKeep > len(logGrowth) {
		growthKeep = len(logGrowth)
	}
	for i := 0; i < growthKeep; i++ {
		newJoint[1+i] = math.Exp(logGrowth[i]-maxGrowth) * math.Exp(maxGrowth)
	}

	total := 0.0
	for _, v := range newJoint {
		total += v
	}
	if total <= 1e-300 {
		newJoint = []float64{1.0}
		total = 1.0
	}
	newProbs := make([]float64, len(newJoint))
	for i, v := range newJoint {
		newProbs[i] = v / total
	}

	updMu, updKappa, updAlpha, updBeta := nigUpdate(x, d.mu, d.kappa, d.alpha, d.beta)

	n := len(newProbs)
	newMu := fillWith(n, d.prior[0])
	newKappa := fillWith(n, d.prior[1])
	newAlpha := fillWith(n, d.prior[2])
	newBeta := fillWith(n, d.prior[3])
	carry := n - 1
	if carry > len(updMu) {
		carry = len(updMu)
	}
	for i := 0; i < carry; i++ {
		newMu[1+i] = updMu[i]
		newKappa[1+i] = updKappa[i]
		newAlpha[1+i] = updAlpha[i]
		newBeta[1+i] = updBeta[i]
	}

	d.runProbs = newProbs
	d.mu = newMu
	d.kappa = newKappa
	d.alpha = newAlpha
	d.beta = newBeta

	mode, modeProb := argmax(d.runProbs)

	// Mass on "young" run lengths captures "a change happened recently"
	// rather than P(r=0) alone, which converges to the hazard rate.
	youngWindow := d.cfg.ExpectedRunLength / 20
	if youngWindow < 3 {
		youngWindow = 3
	}
	youngEnd := youngWindow
	if youngEnd > len(d.runProbs) {
		youngEnd = len(d.runProbs)
	}
	changeProb := 0.0
	for i := 0; i < youngEnd; i++ {
		changeProb += d.runProbs[i]
	}

	obsCount := d.state.ObservationCount + 1
	alertActive := changeProb >= d.cfg.AlertThreshold
	alertTS := d.state.AlertTriggeredAt
	if alertActive && alertTS <= 0 {
		alertTS = now
	}
	if !alertActive {
		alertTS = 0
	}

	runMap := make(map[int]float64)
	cap := 32
	if cap > len(d.runProbs) {
		cap = len(d.runProbs)
	}
	for i := 0; i < cap; i++ {
		if d.runProbs[i] > 1e-9 {
			runMap[i] = d.runProbs[i]
		}
	}

	d.state = State{
		ChangeProb:        clamp(changeProb, 0, 1),
		RunLengthMode:     mode,
		RunLengthModeProb: clamp(modeProb, 0, 1),
		LastUpdateTS:      now,
		ObservationCount:  obsCount,
		AlertActive:       alertActive,
		AlertTriggeredAt:  alertTS,
		RunLengthMap:      runMap,
	}
	return d.state
}

// State returns the latest published state without performing an update.
func (d *Detector) State() State { return d.state }

// Snapshot is the serializable persisted representation, matching
// restart continuity.
type Snapshot struct {
	ExpectedRunLength int
	MaxRunLength      int
	AlertThreshold    float64
	UrgentThreshold   float64
	Hazard            float64
	PriorMu           float64
	PriorKappa        float64
	PriorAlpha        float64
	PriorBeta         float64
	RunProbs          []float64
	Mu                []float64
	Kappa             []float64
	Alpha             []float64
	Beta              []float64
	State             State
}

// Snapshot serializes the detector for persistence.
func (d *Detector) Snapshot() Snapshot {
	return Snapshot{
		ExpectedRunLength: d.cfg.ExpectedRunLength,
		MaxRunLength:      d.cfg.MaxRunLength,
		AlertThreshold:    d.cfg.AlertThreshold,
		UrgentThreshold:   d.cfg.UrgentThreshold,
		Hazard:            d.hazard,
		PriorMu:           d.prior[0],
		PriorKappa:        d.prior[1],
		PriorAlpha:        d.prior[2],
		PriorBeta:         d.prior[3],
		RunProbs:          append([]float64(nil), d.runProbs...),
		Mu:                append([]float64(nil), d.mu...),
		Kappa:             append([]float64(nil), d.kappa...),
		Alpha:             append([]float64(nil), d.alpha...),
		Beta:              append([]float64(nil), d.beta...),
		State:             d.state,
	}
}

// Restore reconciles a (possibly stale or malformed) snapshot: array
// lengths are trimmed to their shared minimum, run_probs is renormalized,
// and a degenerate payload falls back to the single-run prior.
func (d *Detector) Restore(snap Snapshot) {
	d.state = snap.State
	d.state.ChangeProb = clamp(d.state.ChangeProb, 0, 1)
	d.state.RunLengthModeProb = clamp(d.state.RunLengthModeProb, 0, 1)
	if d.state.ObservationCount < 0 {
		d.state.ObservationCount = 0
	}
	if d.state.LastUpdateTS < 0 {
		d.state.LastUpdateTS = 0
	}
	if d.state.AlertTriggeredAt < 0 {
		d.state.AlertTriggeredAt = 0
	}

	runProbs := finiteOrDefault(snap.RunProbs, []float64{1.0})
	total := 0.0
	for _, p := range runProbs {
		total += p
	}
	if total <= 0 {
		total = 1e-12
	}
	for i := range runProbs {
		runProbs[i] /= total
	}

	n := len(runProbs)
	muArr := finiteOrDefault(snap.Mu, fillWith(n, d.prior[0]))
	kappaArr := finiteOrDefault(snap.Kappa, fillWith(n, d.prior[1]))
	alphaArr := finiteOrDefault(snap.Alpha, fillWith(n, d.prior[2]))
	betaArr := finiteOrDefault(snap.Beta, fillWith(n, d.prior[3]))

	n = minInt(len(runProbs), len(muArr), len(kappaArr), len(alphaArr), len(betaArr))
	if n == 0 {
		d.runProbs = []float64{1.0}
		d.mu = []float64{d.prior[0]}
		d.kappa = []float64{d.prior[1]}
		d.alpha = []float64{d.prior[2]}
		d.beta = []float64{d.prior[3]}
		return
	}
	d.runProbs = runProbs[:n]
	d.mu = muArr[:n]
	d.kappa = kappaArr[:n]
	d.alpha = alphaArr[:n]
	d.beta = betaArr[:n]
}

func finiteOrDefault(raw []float64, def []float64) []float64 {
	if len(raw) == 0 {
		return append([]float64(nil), def...)
	}
	out := make([]float64, 0, len(raw))
	for _, v := range raw {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return append([]float64(nil), def...)
	}
	return out
}

func fillWith(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func argmax(xs []float64) (int, float64) {
	if len(xs) == 0 {
		return 0, 1.0
	}
	best, bestVal := 0, xs[0]
	for i, v := range xs {
		if v > bestVal {
			best, bestVal = i, v
		}
	}
	return best, bestVal
}

// stableSumExp computes sum(exp(xs)) with a max-shift, avoiding overflow
// when the log-values are large in magnitude.
func stableSumExp(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := maxOf(xs)
	sum := 0.0
	for _, v := range xs {
		sum += math.Exp(v - m)
	}
	return sum * math.Exp(m)
}

func maxOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := xs[0]
	for _, v := range xs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minInt(xs ...int) int {
	m := xs[0]
	for _, v := range xs[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func clamp(v, lo, hi float64) float64 {
	if lo > hi {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
