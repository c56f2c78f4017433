package pairmodel

import (
	"github.com/robjohncolson/decisioncore/pkg/money"
	"github.com/robjohncolson/decisioncore/pkg/pairtypes"
)

// expireTrend clears a stale detected_trend hint once it has outlived the
// pair's own timing regime.
func expireTrend(st PairState, cfg ModelConfig) PairState {
	if st.DetectedTrend == pairtypes.TrendNone {
		return st
	}
	expiry := trendExpirySec(cfg, len(st.CompletedCycles), st.MedianCycleDuration)
	if st.Now-st.TrendDetectedAt >= expiry {
		st.DetectedTrend = pairtypes.TrendNone
	}
	return st
}

// staleExitCheck walks every open exit: orphan it if
// it has aged past orphan_after, else attempt a cooldown-gated reprice.
func staleExitCheck(st PairState, cfg ModelConfig) (PairState, []Action) {
	var actions []Action
	repriceAfter, orphanAfter := computeThresholds(cfg, len(st.CompletedCycles), st.MedianCycleDuration)

	// Orphaning mutates st.Orders mid-loop, so the scan restarts after each orphan.
	for i := 0; i < len(st.Orders); i++ {
		order := st.Orders[i]
		if order.Role != pairtypes.RoleExit {
			continue
		}
		age := st.Now - order.EntryFilledAt
		leg := legPtr(&st, order.TradeID)

		if age >= orphanAfter {
			var acts []Action
			st, acts = orphanExit(st, cfg, order, pairtypes.ReasonTimeout)
			actions = append(actions, acts...)
			i = -1 // Orders mutated; restart the scan (bounded: at most 2 exits).
			continue
		}

		if age >= repriceAfter && st.Now-leg.LastRepriceAt >= cfg.RepriceCooldownSec {
			newPrice, ok := repriceCandidate(cfg, order, st.MarketPrice.Float64(), leg.ExitRepriceCount)
			if ok {
				st.Orders[i].Price = money.New(newPrice)
				leg.ExitRepriceCount++
				leg.LastRepriceAt = st.Now
				st.DetectedTrend, st.TrendDetectedAt = trendHintForExitSide(order.Side), st.Now
				actions = append(actions,
					RepriceExit{TradeID: order.TradeID, OldPrice: order.Price.Float64(), NewPrice: newPrice, Reason: pairtypes.RepriceTighten},
					DetectTrend{Trend: st.DetectedTrend},
				)
			}
		}
	}
	return st, actions
}

// repriceCandidate computes the 4.2.1 target and checks the three
// acceptance criteria: monotone ratchet, still profitable after fees, and
// a minimum 0.1% move. repriceCount is the leg's exit_reprice_count so far
// (0 selects the first-reprice midpoint formula, >0 selects breakeven-plus).
func repriceCandidate(cfg ModelConfig, order OrderState, market float64, repriceCount int) (float64, bool) {
	e := order.MatchedEntryPrice.Float64()
	old := order.Price.Float64()
	var target float64
	if order.Side == pairtypes.Sell {
		target = repricedSellExitTarget(cfg, e, market, repriceCount)
	} else {
		target = repricedBuyExitTarget(cfg, e, market, repriceCount)
	}
	if !ratchetOK(order.Side, old, target) {
		return 0, false
	}
	if !stillProfitable(cfg, order, target) {
		return 0, false
	}
	if absf(target-old)/old < 0.001 {
		return 0, false
	}
	return target, true
}

func ratchetOK(side pairtypes.Side, old, target float64) bool {
	if side == pairtypes.Sell {
		return target < old
	}
	return target > old
}

func stillProfitable(cfg ModelConfig, order OrderState, target float64) bool {
	e := order.MatchedEntryPrice.Float64()
	vol := order.Volume.Float64()
	var buy, sell float64
	if order.Side == pairtypes.Sell {
		sell, buy = target, e
	} else {
		buy, sell = target, e
	}
	gross := (sell - buy) * vol
	fees := (cfg.MakerFeePct / 100) * (buy*vol + sell*vol)
	return gross-fees > 0
}

func trendHintForExitSide(side pairtypes.Side) pairtypes.Trend {
	if side == pairtypes.Sell {
		return pairtypes.TrendDown
	}
	return pairtypes.TrendUp
}

// orphanExit moves an exit off the live book into the bounded recovery
// list, records the trend hint a stranded exit implies, and places a
// fresh entry for every leg left with no order resting (the orphaned leg
// first, then its partner).
func orphanExit(st PairState, cfg ModelConfig, order OrderState, reason pairtypes.RecoveryReason) (PairState, []Action) {
	idx := findOrderIndex(st.Orders, func(o OrderState) bool {
		return o.TradeID == order.TradeID && o.Role == order.Role
	})
	if idx >= 0 {
		st.Orders = removeOrderAt(st.Orders, idx)
	}

	rec := RecoveryOrder{OrderState: order, OrphanedAt: st.Now, Reason: reason}
	st.Recovery = append(append([]RecoveryOrder(nil), st.Recovery...), rec)
	if len(st.Recovery) > cfg.MaxRecoverySlots {
		evicted := st.Recovery[0]
		st.Recovery = st.Recovery[1:]
		legPtr(&st, evicted.TradeID).ConsecutiveLosses++
	}

	st.DetectedTrend = trendHintForExitSide(order.Side)
	st.TrendDetectedAt = st.Now

	var actions []Action
	actions = append(actions, OrphanExit{Order: order, Reason: reason})

	otherLeg := pairtypes.TradeB
	if order.TradeID == pairtypes.TradeB {
		otherLeg = pairtypes.TradeA
	}
	for _, leg := range []pairtypes.TradeID{order.TradeID, otherLeg} {
		hasOpenOrder := findOrderIndex(st.Orders, func(o OrderState) bool { return o.TradeID == leg }) >= 0
		if hasOpenOrder {
			continue
		}
		fresh, action := freshEntryForLeg(st, cfg, leg)
		if action != nil {
			st.Orders = append(st.Orders, fresh)
			actions = append(actions, action)
		}
	}
	return st, actions
}

// s2BreakGlass resolves the S2 deadlock where price sits between both
// exits: after a continuous bad-spread timeout it reprices the worse exit
// toward market, or closes it outright when the foregone throughput
// exceeds the loss of closing.
func s2BreakGlass(st PairState, cfg ModelConfig) (PairState, []Action) {
	if st.Phase() != pairtypes.PhaseS2 {
		st.S2.S2EnteredAt = 0
		return st, nil
	}
	if st.Now-st.LastPriceUpdateAt > cfg.PriceStalenessLimit {
		return st, nil
	}
	if st.S2.S2LastActionAt > 0 && st.Now-st.S2.S2LastActionAt < cfg.S2CooldownSec {
		return st, nil
	}
	if st.S2.S2EnteredAt == 0 {
		st.S2.S2EnteredAt = st.Now
		return st, nil
	}

	s2Age := st.Now - st.S2.S2EnteredAt
	timeout := s2Timeout(cfg, len(st.CompletedCycles), st.MedianCycleDuration)
	if s2Age < timeout {
		return st, nil
	}

	sellIdx := findOrderIndex(st.Orders, func(o OrderState) bool { return o.Role == pairtypes.RoleExit && o.Side == pairtypes.Sell })
	buyIdx := findOrderIndex(st.Orders, func(o OrderState) bool { return o.Role == pairtypes.RoleExit && o.Side == pairtypes.Buy })
	if sellIdx < 0 || buyIdx < 0 {
		return st, nil
	}
	sellExit, buyExit := st.Orders[sellIdx], st.Orders[buyIdx]

	m := st.MarketPrice.Float64()
	spreadPct := absf(sellExit.Price.Float64()-buyExit.Price.Float64()) / m * 100
	if spreadPct < cfg.S2MaxSpreadPct {
		st.S2.S2EnteredAt = st.Now
		return st, nil
	}

	worse := sellExit
	if absf(buyExit.Price.Float64()-m) > absf(sellExit.Price.Float64()-m) {
		worse = buyExit
	}

	var foregone float64
	if st.MeanDurationSec > 0 {
		foregone = (st.MeanNetProfit / st.MeanDurationSec) * s2Age
	}
	e := worse.MatchedEntryPrice.Float64()
	vol := worse.Volume.Float64()
	lossClose := absf(e-m)*vol + (cfg.MakerFeePct/100)*(vol*(e+m))

	if foregone > lossClose {
		st, acts := orphanExit(st, cfg, worse, pairtypes.ReasonS2Break)
		st.S2.S2EnteredAt = 0
		st.S2.S2LastActionAt = st.Now
		return st, acts
	}

	if newPrice, ok := repriceCandidate(cfg, worse, m, legPtr(&st, worse.TradeID).ExitRepriceCount); ok {
		idx := sellIdx
		other := buyExit
		if worse.TradeID == buyExit.TradeID {
			idx = buyIdx
			other = sellExit
		}
		st.Orders[idx].Price = money.New(newPrice)
		legPtr(&st, worse.TradeID).ExitRepriceCount++
		legPtr(&st, worse.TradeID).LastRepriceAt = st.Now

		newSpreadPct := absf(newPrice-other.Price.Float64()) / m * 100
		if newSpreadPct < cfg.S2MaxSpreadPct {
			st.S2.S2LastActionAt = st.Now
			return st, []Action{RepriceExit{TradeID: worse.TradeID, OldPrice: worse.Price.Float64(), NewPrice: newPrice, Reason: pairtypes.RepriceTighten}}
		}
	}

	st, acts := orphanExit(st, cfg, worse, pairtypes.ReasonS2Break)
	st.S2.S2EnteredAt = 0
	st.S2.S2LastActionAt = st.Now
	return st, acts
}
