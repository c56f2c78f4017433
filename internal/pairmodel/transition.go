package pairmodel

import (
	"sort"

	"github.com/robjohncolson/decisioncore/pkg/money"
	"github.com/robjohncolson/decisioncore/pkg/pairtypes"
)

// Transition is the single entry point: transition(state, event, cfg) ->
// (state', actions). Pure: no I/O, no clock reads — every timestamp
// arrives on the event.
func Transition(state PairState, event Event, cfg ModelConfig) (PairState, []Action) {
	st := state.clone()
	var actions []Action

	switch e := event.(type) {
	case BuyFill:
		st, actions = applyFill(st, cfg, pairtypes.Buy, e.Price, e.Volume, e.Now)
	case SellFill:
		st, actions = applyFill(st, cfg, pairtypes.Sell, e.Price, e.Volume, e.Now)
	case PriceTick:
		st.MarketPrice = money.New(e.Price)
		st.Now = e.Now
		st.LastPriceUpdateAt = e.Now
		st, actions = entryRefreshCheck(st, cfg)
	case TimeAdvance:
		st.Now = e.Now
		st = expireTrend(st, cfg)
		var a1, a2 []Action
		st, a1 = staleExitCheck(st, cfg)
		st, a2 = s2BreakGlass(st, cfg)
		actions = append(a1, a2...)
	case RecoveryFill:
		st, actions = applyRecoveryFill(st, cfg, e)
	case RecoveryCancel:
		st, actions = applyRecoveryCancel(st, cfg, e)
	}

	return st, actions
}

func legPtr(st *PairState, tid pairtypes.TradeID) *LegState {
	if tid == pairtypes.TradeA {
		return &st.LegA
	}
	return &st.LegB
}

func findOrderIndex(orders []OrderState, pred func(OrderState) bool) int {
	for i, o := range orders {
		if pred(o) {
			return i
		}
	}
	return -1
}

func removeOrderAt(orders []OrderState, idx int) []OrderState {
	out := make([]OrderState, 0, len(orders)-1)
	out = append(out, orders[:idx]...)
	out = append(out, orders[idx+1:]...)
	return out
}

// applyFill handles a single-side fill report. Fill reports carry no
// order identity, so dispatch is by (side, matching price): a fill at the
// open exit's price completes that round trip; anything else is the
// resting entry on that side filling, which places the matching exit.
func applyFill(st PairState, cfg ModelConfig, side pairtypes.Side, price, volume, now float64) (PairState, []Action) {
	if idx := findOrderIndex(st.Orders, func(o OrderState) bool {
		return o.Side == side && o.Role == pairtypes.RoleExit && absf(o.Price.Float64()-price) < 1e-8
	}); idx >= 0 {
		exit := st.Orders[idx]
		st.Orders = removeOrderAt(st.Orders, idx)
		return completeRoundTrip(st, cfg, exit, price, volume, now)
	}

	idx := findOrderIndex(st.Orders, func(o OrderState) bool {
		return o.Side == side && o.Role == pairtypes.RoleEntry
	})
	if idx < 0 {
		return st, nil
	}
	entry := st.Orders[idx]
	st.Orders = removeOrderAt(st.Orders, idx)
	return placeExitForFilledEntry(st, cfg, entry, price, now)
}

func placeExitForFilledEntry(st PairState, cfg ModelConfig, entry OrderState, fillPrice, now float64) (PairState, []Action) {
	var exitSide pairtypes.Side
	var exitPrice float64
	m := st.MarketPrice.Float64()
	if entry.TradeID == pairtypes.TradeA {
		exitSide = pairtypes.Buy
		exitPrice = buyExitPrice(cfg, fillPrice, m)
	} else {
		exitSide = pairtypes.Sell
		exitPrice = sellExitPrice(cfg, fillPrice, m)
	}
	exit := OrderState{
		Side: exitSide, Role: pairtypes.RoleExit,
		Price: money.New(exitPrice), Volume: entry.Volume,
		TradeID: entry.TradeID, Cycle: entry.Cycle,
		EntryFilledAt: now, MatchedEntryPrice: money.New(fillPrice),
	}
	st.Orders = append(st.Orders, exit)
	return st, []Action{PlaceOrder{Order: exit}}
}

// completeRoundTrip books the profit of a filled exit, appends the cycle
// record, re-places the companion entry at fresh distance, and resets the
// leg's reprice and backoff bookkeeping.
func completeRoundTrip(st PairState, cfg ModelConfig, exit OrderState, fillPrice, volume, now float64) (PairState, []Action) {
	var buy, sell float64
	if exit.TradeID == pairtypes.TradeA {
		sell = exit.MatchedEntryPrice.Float64()
		buy = fillPrice
	} else {
		buy = exit.MatchedEntryPrice.Float64()
		sell = fillPrice
	}
	gross := (sell - buy) * volume
	fees := (cfg.MakerFeePct / 100) * (buy*volume + sell*volume)
	net := gross - fees

	cycle := CycleRecord{
		TradeID:    exit.TradeID,
		Cycle:      exit.Cycle,
		EntryPrice: exit.MatchedEntryPrice,
		ExitPrice:  money.New(fillPrice),
		Volume:     money.New(volume),
		Gross:      money.New(gross),
		Fees:       money.New(fees),
		Net:        money.New(net),
		EntryTime:  exit.EntryFilledAt,
		ExitTime:   now,
		Regime:     pairtypes.RegimeRanging,
	}
	st.CompletedCycles = append(append([]CycleRecord(nil), st.CompletedCycles...), cycle)

	leg := legPtr(&st, exit.TradeID)
	leg.Cycle++
	leg.ExitRepriceCount = 0
	if net >= 0 {
		leg.ConsecutiveLosses = 0
	} else {
		leg.ConsecutiveLosses++
	}
	if leg.NextEntryMultiplier > 1.0 {
		leg.NextEntryMultiplier = 1.0
	}

	st.S2.S2EnteredAt = 0
	st = recomputeStats(st)

	actions := []Action{BookProfit{Cycle: cycle}}

	if exit.TradeID == pairtypes.TradeA && st.LongOnly {
		return st, actions
	}
	freshEntry, placeAction := freshEntryForLeg(st, cfg, exit.TradeID)
	if placeAction != nil {
		st.Orders = append(st.Orders, freshEntry)
		actions = append(actions, placeAction)
	}
	return st, actions
}

// freshEntryForLeg builds a brand-new entry order for the given leg at the
// current market price and distance (trend-skewed, backoff-multiplied).
func freshEntryForLeg(st PairState, cfg ModelConfig, tid pairtypes.TradeID) (OrderState, Action) {
	leg := legPtr(&st, tid)
	aPct, bPct := entryDistances(cfg, st.DetectedTrend)
	m := st.MarketPrice.Float64()
	var order OrderState
	if tid == pairtypes.TradeA {
		if st.LongOnly {
			return OrderState{}, nil
		}
		dist := aPct * backoffMultiplier(cfg, leg.ConsecutiveLosses)
		price := round(m*(1+dist/100), cfg.PriceDecimals)
		vol := computeVolume(cfg, price, leg.NextEntryMultiplier)
		order = OrderState{
			Side: pairtypes.Sell, Role: pairtypes.RoleEntry,
			Price: money.New(price), Volume: money.New(vol),
			TradeID: tid, Cycle: leg.Cycle,
		}
	} else {
		dist := bPct * backoffMultiplier(cfg, leg.ConsecutiveLosses)
		price := round(m*(1-dist/100), cfg.PriceDecimals)
		vol := computeVolume(cfg, price, leg.NextEntryMultiplier)
		order = OrderState{
			Side: pairtypes.Buy, Role: pairtypes.RoleEntry,
			Price: money.New(price), Volume: money.New(vol),
			TradeID: tid, Cycle: leg.Cycle,
		}
	}
	return order, PlaceOrder{Order: order}
}

// recomputeStats derives median_cycle_duration, mean_net_profit, and
// mean_duration_sec from the full completed-cycle history.
func recomputeStats(st PairState) PairState {
	n := len(st.CompletedCycles)
	if n == 0 {
		return st
	}
	durations := make([]float64, n)
	var sumNet, sumDur float64
	for i, c := range st.CompletedCycles {
		d := c.DurationSec()
		durations[i] = d
		sumNet += c.Net.Float64()
		sumDur += d
	}
	sort.Float64s(durations)
	mid := n / 2
	if n%2 == 1 {
		st.MedianCycleDuration = durations[mid]
	} else {
		st.MedianCycleDuration = (durations[mid-1] + durations[mid]) / 2
	}
	st.MeanNetProfit = sumNet / float64(n)
	st.MeanDurationSec = sumDur / float64(n)
	return st
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// entryRefreshCheck reprices entries that drifted too far from market,
// behind the anti-chase guard.
func entryRefreshCheck(st PairState, cfg ModelConfig) (PairState, []Action) {
	var actions []Action
	m := st.MarketPrice.Float64()

	for i := 0; i < len(st.Orders); i++ {
		order := st.Orders[i]
		if order.Role != pairtypes.RoleEntry {
			continue
		}
		price := order.Price.Float64()
		distPct := absf(m-price) / price * 100
		if distPct <= cfg.RefreshPct {
			continue
		}

		leg := legPtr(&st, order.TradeID)
		if leg.RefreshCooldownUntil > 0 && st.Now >= leg.RefreshCooldownUntil {
			leg.ConsecutiveRefreshes = 0
			leg.RefreshCooldownUntil = 0
		}
		if leg.RefreshCooldownUntil > 0 && st.Now < leg.RefreshCooldownUntil {
			continue
		}

		direction := sign(m - price)
		if direction == leg.LastRefreshDirection && leg.LastRefreshDirection != 0 {
			leg.ConsecutiveRefreshes++
		} else {
			leg.ConsecutiveRefreshes = 1
			leg.LastRefreshDirection = direction
		}
		if leg.ConsecutiveRefreshes >= cfg.MaxConsecutiveRefreshes {
			leg.RefreshCooldownUntil = st.Now + cfg.RefreshCooldownSec
			continue
		}

		fresh, action := freshEntryForLeg(st, cfg, order.TradeID)
		if action == nil {
			continue
		}
		st.Orders[i] = fresh
		actions = append(actions, CancelOrder{TradeID: order.TradeID, Role: pairtypes.RoleEntry}, action)
	}
	return st, actions
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// applyRecoveryFill addresses the recovery list by slice index. Index
// addressing is required over trade id because MaxRecoverySlots lets
// more than one orphaned order per leg coexist, which a trade-id lookup
// cannot disambiguate.
func applyRecoveryFill(st PairState, cfg ModelConfig, e RecoveryFill) (PairState, []Action) {
	if e.Index < 0 || e.Index >= len(st.Recovery) {
		return st, nil
	}
	rec := st.Recovery[e.Index]
	st.Recovery = append(append([]RecoveryOrder(nil), st.Recovery[:e.Index]...), st.Recovery[e.Index+1:]...)

	// Book directly off the recovery record: the orphaned exit's leg may
	// already hold a fresh live order, so no companion entry is placed and
	// the cycle list is left alone — recovery cycles must not skew the
	// stale-exit timing medians.
	vol := rec.Volume.Float64()
	entry := rec.MatchedEntryPrice.Float64()
	var gross float64
	if rec.Side == pairtypes.Sell {
		gross = (e.Price - entry) * vol
	} else {
		gross = (entry - e.Price) * vol
	}
	fees := (entry*vol + e.Price*vol) * cfg.MakerFeePct / 100
	net := gross - fees

	if net >= 0 {
		legPtr(&st, rec.TradeID).ConsecutiveLosses = 0
	}

	cycle := CycleRecord{
		TradeID:    rec.TradeID,
		Cycle:      rec.Cycle,
		EntryPrice: rec.MatchedEntryPrice,
		ExitPrice:  money.New(e.Price),
		Volume:     rec.Volume,
		Gross:      money.New(gross),
		Fees:       money.New(fees),
		Net:        money.New(net),
		EntryTime:  rec.EntryFilledAt,
		ExitTime:   e.Now,
		Regime:     pairtypes.RegimeRanging,
	}
	return st, []Action{BookProfit{Cycle: cycle}}
}

func applyRecoveryCancel(st PairState, cfg ModelConfig, e RecoveryCancel) (PairState, []Action) {
	if e.Index < 0 || e.Index >= len(st.Recovery) {
		return st, nil
	}
	st.Recovery = append(append([]RecoveryOrder(nil), st.Recovery[:e.Index]...), st.Recovery[e.Index+1:]...)
	return st, nil
}
