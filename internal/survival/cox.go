package survival

import "math"

const coxFeatureDim = 15

// coxFeatures extracts the 15-dimensional feature vector:
// three regime-posterior triplets (1m/15m/1h), side, distance, entropy,
// switch probability, fill imbalance, and congestion ratio.
func coxFeatures(o Observation) [coxFeatureDim]float64 {
	var f [coxFeatureDim]float64
	f[0], f[1], f[2] = o.Posterior1m[0], o.Posterior1m[1], o.Posterior1m[2]
	f[3], f[4], f[5] = o.Posterior15m[0], o.Posterior15m[1], o.Posterior15m[2]
	f[6], f[7], f[8] = o.Posterior1h[0], o.Posterior1h[1], o.Posterior1h[2]
	if o.Side == "B" {
		f[9] = 1.0
	}
	f[10] = o.DistancePct
	f[11] = o.EntropyAtEntry
	f[12] = o.PSwitchAtEntry
	f[13] = o.FillImbalance
	f[14] = o.CongestionRatio
	return f
}

type coxPH struct {
	mean         [coxFeatureDim]float64
	std          [coxFeatureDim]float64
	beta         [coxFeatureDim]float64
	baseTimes    []float64
	baseCumHaz   []float64
	fitted       bool
}

type coxObs struct {
	t        float64
	event    bool
	weight   float64
	features [coxFeatureDim]float64
}

// fitCoxPH standardizes features, runs penalized Newton-Raphson on the
// Cox partial likelihood, and computes the Breslow baseline cumulative
// hazard. Returns ok=false if the data can't support a fit (e.g. no
// events at all).
func fitCoxPH(observations []Observation) (*coxPH, bool) {
	rows := make([]coxObs, 0, len(observations))
	for _, o := range observations {
		rows = append(rows, coxObs{t: o.DurationSec, event: !o.Censored, weight: o.Weight, features: coxFeatures(o)})
	}
	if len(rows) == 0 {
		return nil, false
	}
	nEvents := 0
	for _, r := range rows {
		if r.event {
			nEvents++
		}
	}
	if nEvents == 0 {
		return nil, false
	}

	var mean, std [coxFeatureDim]float64
	totalW := 0.0
	for _, r := range rows {
		for j := 0; j < coxFeatureDim; j++ {
			mean[j] += r.weight * r.features[j]
		}
		totalW += r.weight
	}
	if totalW <= 0 {
		return nil, false
	}
	for j := range mean {
		mean[j] /= totalW
	}
	for _, r := range rows {
		for j := 0; j < coxFeatureDim; j++ {
			d := r.features[j] - mean[j]
			std[j] += r.weight * d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(math.Max(std[j]/totalW, 1e-12))
		if std[j] < 1e-9 {
			std[j] = 1.0
		}
	}

	z := make([][coxFeatureDim]float64, len(rows))
	for i, r := range rows {
		for j := 0; j < coxFeatureDim; j++ {
			z[i][j] = (r.features[j] - mean[j]) / std[j]
		}
	}

	const l2 = 1e-3
	const maxIter = 25
	var beta [coxFeatureDim]float64

	distinctTimes := distinctEventTimes(rows)

	for iter := 0; iter < maxIter; iter++ {
		grad, hess := coxGradHess(rows, z, beta, distinctTimes, l2)
		step, ok := solveLinear(hess, grad)
		if !ok {
			step, ok = solvePseudoInverse(hess, grad)
			if !ok {
				break
			}
		}
		stepNorm := 0.0
		for j := 0; j < coxFeatureDim; j++ {
			if math.IsNaN(step[j]) || math.IsInf(step[j], 0) {
				return nil, false
			}
			beta[j] -= step[j]
			stepNorm += step[j] * step[j]
		}
		if math.Sqrt(stepNorm) < 1e-5 {
			break
		}
	}

	model := &coxPH{mean: mean, std: std, beta: beta, fitted: true}
	model.baseTimes, model.baseCumHaz = breslowBaseline(rows, z, beta, distinctTimes)
	return model, true
}

func distinctEventTimes(rows []coxObs) []float64 {
	seen := make(map[float64]struct{})
	for _, r := range rows {
		if r.event {
			seen[r.t] = struct{}{}
		}
	}
	out := make([]float64, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sortFloats(out)
	return out
}

func sortFloats(xs []float64) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j] < xs[j-1]; j-- {
			xs[j], xs[j-1] = xs[j-1], xs[j]
		}
	}
}

// coxGradHess computes the negative-log-partial-likelihood gradient and
// Hessian (so Newton's step is beta -= H^-1 g), with an L2 ridge penalty.
func coxGradHess(rows []coxObs, z [][coxFeatureDim]float64, beta [coxFeatureDim]float64, eventTimes []float64, l2 float64) ([coxFeatureDim]float64, [coxFeatureDim][coxFeatureDim]float64) {
	var grad [coxFeatureDim]float64
	var hess [coxFeatureDim][coxFeatureDim]float64

	linpred := make([]float64, len(rows))
	for i := range rows {
		lp := 0.0
		for j := 0; j < coxFeatureDim; j++ {
			lp += z[i][j] * beta[j]
		}
		linpred[i] = clampSurv(lp, -50, 50)
	}

	for _, t := range eventTimes {
		var riskSumW, eventSumW float64
		var riskZ, eventZ [coxFeatureDim]float64
		var riskZZ [coxFeatureDim][coxFeatureDim]float64

		for i, row := range rows {
			if row.t < t {
				continue
			}
			w := row.weight * math.Exp(linpred[i])
			riskSumW += w
			for j := 0; j < coxFeatureDim; j++ {
				riskZ[j] += w * z[i][j]
				for k := 0; k < coxFeatureDim; k++ {
					riskZZ[j][k] += w * z[i][j] * z[i][k]
				}
			}
			if row.t == t && row.event {
				eventSumW += row.weight
				for j := 0; j < coxFeatureDim; j++ {
					eventZ[j] += row.weight * z[i][j]
				}
			}
		}
		if riskSumW <= 1e-12 || eventSumW <= 0 {
			continue
		}
		meanZ := [coxFeatureDim]float64{}
		for j := 0; j < coxFeatureDim; j++ {
			meanZ[j] = riskZ[j] / riskSumW
			grad[j] += eventSumW*meanZ[j] - eventZ[j]
		}
		for j := 0; j < coxFeatureDim; j++ {
			for k := 0; k < coxFeatureDim; k++ {
				hess[j][k] += eventSumW * (riskZZ[j][k]/riskSumW - meanZ[j]*meanZ[k])
			}
		}
	}

	for j := 0; j < coxFeatureDim; j++ {
		grad[j] += l2 * beta[j]
		hess[j][j] += l2
	}
	return grad, hess
}

// breslowBaseline computes the cumulative baseline hazard H0(t) at every
// distinct event time via the Breslow estimator.
func breslowBaseline(rows []coxObs, z [][coxFeatureDim]float64, beta [coxFeatureDim]float64, eventTimes []float64) ([]float64, []float64) {
	linpred := make([]float64, len(rows))
	for i := range rows {
		lp := 0.0
		for j := 0; j < coxFeatureDim; j++ {
			lp += z[i][j] * beta[j]
		}
		linpred[i] = clampSurv(lp, -50, 50)
	}

	times := make([]float64, 0, len(eventTimes))
	cumHaz := make([]float64, 0, len(eventTimes))
	h := 0.0
	for _, t := range eventTimes {
		riskSumW, eventSumW := 0.0, 0.0
		for i, row := range rows {
			if row.t < t {
				continue
			}
			riskSumW += row.weight * math.Exp(linpred[i])
			if row.t == t && row.event {
				eventSumW += row.weight
			}
		}
		if riskSumW > 1e-12 {
			h += eventSumW / riskSumW
		}
		times = append(times, t)
		cumHaz = append(cumHaz, h)
	}
	return times, cumHaz
}

func (m *coxPH) baselineCumHazAt(t float64) float64 {
	if len(m.baseTimes) == 0 {
		return 0
	}
	idx := searchSorted(m.baseTimes, t)
	if idx == 0 {
		if t < m.baseTimes[0] {
			return 0
		}
		return m.baseCumHaz[0]
	}
	if idx >= len(m.baseTimes) {
		return m.baseCumHaz[len(m.baseCumHaz)-1]
	}
	if m.baseTimes[idx] == t {
		return m.baseCumHaz[idx]
	}
	return m.baseCumHaz[idx-1]
}

func searchSorted(xs []float64, v float64) int {
	lo, hi := 0, len(xs)
	for lo < hi {
		mid := (lo + hi) / 2
		if xs[mid] < v {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (m *coxPH) predict(o Observation, horizons []int) Prediction {
	f := coxFeatures(o)
	var z [coxFeatureDim]float64
	lp := 0.0
	for j := 0; j < coxFeatureDim; j++ {
		z[j] = (f[j] - m.mean[j]) / m.std[j]
		lp += z[j] * m.beta[j]
	}
	hazardRatio := math.Exp(clampSurv(lp, -50, 50))

	pFill := make([]float64, len(horizons))
	for i, h := range horizons {
		H := m.baselineCumHazAt(float64(h)) * hazardRatio
		pFill[i] = 1.0 - math.Exp(-H)
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

	median := math.Inf(1)
	for i, h := range m.baseCumHaz {
		if math.Exp(-h*hazardRatio) <= 0.5 {
			median = m.baseTimes[i]
			break
		}
	}

	return Prediction{
		PFill30m:        p30,
		PFill1h:         p1h,
		PFill4h:         p4h,
		MedianRemaining: median,
		HazardRatio:     hazardRatio,
		ModelTier:       "cox",
		Confidence:      1.0,
	}
}

type coxSnapshot struct {
	Mean       [coxFeatureDim]float64
	Std        [coxFeatureDim]float64
	Beta       [coxFeatureDim]float64
	BaseTimes  []float64
	BaseCumHaz []float64
}

func (m *coxPH) snapshot() coxSnapshot {
	return coxSnapshot{
		Mean:       m.mean,
		Std:        m.std,
		Beta:       m.beta,
		BaseTimes:  append([]float64(nil), m.baseTimes...),
		BaseCumHaz: append([]float64(nil), m.baseCumHaz...),
	}
}

func restoreCoxPH(snap coxSnapshot) *coxPH {
	n := len(snap.BaseTimes)
	if len(snap.BaseCumHaz) < n {
		n = len(snap.BaseCumHaz)
	}
	return &coxPH{
		mean:       snap.Mean,
		std:        snap.Std,
		beta:       snap.Beta,
		baseTimes:  snap.BaseTimes[:n],
		baseCumHaz: snap.BaseCumHaz[:n],
		fitted:     true,
	}
}

// solveLinear solves Hx = g via Gaussian elimination with partial
// pivoting. Returns ok=false on a singular (or near-singular) matrix.
func solveLinear(h [coxFeatureDim][coxFeatureDim]float64, g [coxFeatureDim]float64) ([coxFeatureDim]float64, bool) {
	var a [coxFeatureDim][coxFeatureDim + 1]float64
	for i := 0; i < coxFeatureDim; i++ {
		for j := 0; j < coxFeatureDim; j++ {
			a[i][j] = h[i][j]
		}
		a[i][coxFeatureDim] = g[i]
	}
	for col := 0; col < coxFeatureDim; col++ {
		pivot := col
		best := math.Abs(a[col][col])
		for r := col + 1; r < coxFeatureDim; r++ {
			if math.Abs(a[r][col]) > best {
				pivot, best = r, math.Abs(a[r][col])
			}
		}
		if best < 1e-12 {
			return [coxFeatureDim]float64{}, false
		}
		a[col], a[pivot] = a[pivot], a[col]
		for r := col + 1; r < coxFeatureDim; r++ {
			factor := a[r][col] / a[col][col]
			for c := col; c <= coxFeatureDim; c++ {
				a[r][c] -= factor * a[col][c]
			}
		}
	}
	var x [coxFeatureDim]float64
	for i := coxFeatureDim - 1; i >= 0; i-- {
		sum := a[i][coxFeatureDim]
		for j := i + 1; j < coxFeatureDim; j++ {
			sum -= a[i][j] * x[j]
		}
		if math.Abs(a[i][i]) < 1e-12 {
			return [coxFeatureDim]float64{}, false
		}
		x[i] = sum / a[i][i]
	}
	return x, true
}

// solvePseudoInverse falls back to a heavily ridge-regularized solve
// when the Hessian is singular.
func solvePseudoInverse(h [coxFeatureDim][coxFeatureDim]float64, g [coxFeatureDim]float64) ([coxFeatureDim]float64, bool) {
	reg := h
	for i := 0; i < coxFeatureDim; i++ {
		reg[i][i] += 1e-2
	}
	return solveLinear(reg, g)
}
