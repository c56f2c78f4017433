package pairmodel

import (
	"math/rand"

	"github.com/robjohncolson/decisioncore/pkg/pairtypes"
)

// ExploreRandom drives a weighted random event stream through Transition,
// checking invariants after every step. The caller owns the *rand.Rand
// so results are reproducible across runs.
//
// Event mix: 40% PriceTick, 30% TimeAdvance, 15% BuyFill, 10% SellFill,
// 5% recovery events (split evenly between fill and cancel).
//
// Every action emitted along the way is collected and returned in order,
// since Transition itself never performs side effects — callers that want
// a fed ledger (rather than just the final state) must replay these.
func ExploreRandom(rng *rand.Rand, state PairState, cfg ModelConfig, steps int) (PairState, []string, []Action) {
	st := state
	var violations []string
	var allActions []Action

	for i := 0; i < steps; i++ {
		event := randomEvent(rng, st)
		if event == nil {
			continue
		}
		var acts []Action
		st, acts = Transition(st, event, cfg)
		allActions = append(allActions, acts...)
		if v := CheckInvariants(st, cfg); len(v) > 0 {
			violations = append(violations, v...)
		}
	}
	return st, violations, allActions
}

func randomEvent(rng *rand.Rand, st PairState) Event {
	roll := rng.Float64()
	switch {
	case roll < 0.40:
		m := st.MarketPrice.Float64()
		if m <= 0 {
			m = 0.10
		}
		drift := (rng.Float64() - 0.5) * 0.01 * m
		return PriceTick{Price: m + drift, Now: st.Now + 1 + rng.Float64()*5}
	case roll < 0.70:
		return TimeAdvance{Now: st.Now + 1 + rng.Float64()*120}
	case roll < 0.85:
		return fillEventFor(rng, st, pairtypes.Buy)
	case roll < 0.95:
		return fillEventFor(rng, st, pairtypes.Sell)
	default:
		return recoveryEventFor(rng, st)
	}
}

// fillEventFor fills a resting order at its exact price — fills are
// dispatched by (side, price), so a jittered price would silently turn an
// exit fill into an entry fill.
func fillEventFor(rng *rand.Rand, st PairState, side pairtypes.Side) Event {
	idx := findOrderIndex(st.Orders, func(o OrderState) bool { return o.Side == side })
	if idx < 0 {
		return nil
	}
	o := st.Orders[idx]
	now := st.Now + 1 + rng.Float64()*10
	if side == pairtypes.Buy {
		return BuyFill{Price: o.Price.Float64(), Volume: o.Volume.Float64(), Now: now}
	}
	return SellFill{Price: o.Price.Float64(), Volume: o.Volume.Float64(), Now: now}
}

func recoveryEventFor(rng *rand.Rand, st PairState) Event {
	if len(st.Recovery) == 0 {
		return nil
	}
	idx := rng.Intn(len(st.Recovery))
	r := st.Recovery[idx]
	now := st.Now + 1 + rng.Float64()*10
	if rng.Float64() < 0.5 {
		jitter := 1 + (rng.Float64()-0.5)*0.002
		return RecoveryFill{Index: idx, Price: r.Price.Float64() * jitter, Now: now}
	}
	return RecoveryCancel{Index: idx, Now: now}
}
