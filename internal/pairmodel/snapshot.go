package pairmodel

import (
	"math"

	"github.com/robjohncolson/decisioncore/pkg/money"
	"github.com/robjohncolson/decisioncore/pkg/pairtypes"
)

// OrderSnapshot is one live order in plain serializable form.
type OrderSnapshot struct {
	Side              string  `json:"side"`
	Role              string  `json:"role"`
	Price             float64 `json:"price"`
	Volume            float64 `json:"volume"`
	TradeID           string  `json:"trade_id"`
	Cycle             int     `json:"cycle"`
	EntryFilledAt     float64 `json:"entry_filled_at"`
	MatchedEntryPrice float64 `json:"matched_entry_price"`
}

// RecoverySnapshot is one orphaned order in plain serializable form.
type RecoverySnapshot struct {
	OrderSnapshot
	OrphanedAt float64 `json:"orphaned_at"`
	Reason     string  `json:"reason"`
}

// CycleSnapshot is one completed round trip in plain serializable form.
type CycleSnapshot struct {
	TradeID    string  `json:"trade_id"`
	Cycle      int     `json:"cycle"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	Volume     float64 `json:"volume"`
	Gross      float64 `json:"gross_profit"`
	Fees       float64 `json:"fees"`
	Net        float64 `json:"net_profit"`
	EntryTime  float64 `json:"entry_time"`
	ExitTime   float64 `json:"exit_time"`
	Regime     int     `json:"regime_at_entry"`
}

// StateSnapshot is the pair state's full persisted block: orders, recovery
// orders, completed cycles, counters, timers, trend, anti-chase state,
// next-entry multiplier and the long-only flag. Field names mirror the
// production state.json layout so snapshots written by either side load
// on the other.
type StateSnapshot struct {
	MarketPrice       float64 `json:"market_price"`
	Now               float64 `json:"now"`
	LastPriceUpdateAt float64 `json:"last_price_update_at"`

	Orders          []OrderSnapshot    `json:"open_orders"`
	Recovery        []RecoverySnapshot `json:"recovery_orders"`
	CompletedCycles []CycleSnapshot    `json:"completed_cycles"`

	CycleA            int `json:"cycle_a"`
	CycleB            int `json:"cycle_b"`
	ExitRepriceCountA int `json:"exit_reprice_count_a"`
	ExitRepriceCountB int `json:"exit_reprice_count_b"`

	ConsecutiveLossesA int `json:"consecutive_losses_a"`
	ConsecutiveLossesB int `json:"consecutive_losses_b"`

	LastRepriceA float64 `json:"last_reprice_a"`
	LastRepriceB float64 `json:"last_reprice_b"`

	DetectedTrend   string  `json:"detected_trend"`
	TrendDetectedAt float64 `json:"trend_detected_at"`

	S2EnteredAt    float64 `json:"s2_entered_at"`
	S2LastActionAt float64 `json:"s2_last_action_at"`

	ConsecutiveRefreshesA int     `json:"consecutive_refreshes_a"`
	ConsecutiveRefreshesB int     `json:"consecutive_refreshes_b"`
	LastRefreshDirectionA int     `json:"last_refresh_direction_a"`
	LastRefreshDirectionB int     `json:"last_refresh_direction_b"`
	RefreshCooldownUntilA float64 `json:"refresh_cooldown_until_a"`
	RefreshCooldownUntilB float64 `json:"refresh_cooldown_until_b"`

	NextEntryMultiplierA float64 `json:"next_entry_multiplier_a"`
	NextEntryMultiplierB float64 `json:"next_entry_multiplier_b"`

	LongOnly bool `json:"long_only"`
}

// SnapshotState projects a PairState into its plain persisted form.
// Derived statistics (median duration, mean net, mean duration) are not
// persisted — RestoreState recomputes them from the cycle list.
func SnapshotState(st PairState) StateSnapshot {
	snap := StateSnapshot{
		MarketPrice:       st.MarketPrice.Float64(),
		Now:               st.Now,
		LastPriceUpdateAt: st.LastPriceUpdateAt,

		CycleA:            st.LegA.Cycle,
		CycleB:            st.LegB.Cycle,
		ExitRepriceCountA: st.LegA.ExitRepriceCount,
		ExitRepriceCountB: st.LegB.ExitRepriceCount,

		ConsecutiveLossesA: st.LegA.ConsecutiveLosses,
		ConsecutiveLossesB: st.LegB.ConsecutiveLosses,

		LastRepriceA: st.LegA.LastRepriceAt,
		LastRepriceB: st.LegB.LastRepriceAt,

		DetectedTrend:   string(st.DetectedTrend),
		TrendDetectedAt: st.TrendDetectedAt,

		S2EnteredAt:    st.S2.S2EnteredAt,
		S2LastActionAt: st.S2.S2LastActionAt,

		ConsecutiveRefreshesA: st.LegA.ConsecutiveRefreshes,
		ConsecutiveRefreshesB: st.LegB.ConsecutiveRefreshes,
		LastRefreshDirectionA: st.LegA.LastRefreshDirection,
		LastRefreshDirectionB: st.LegB.LastRefreshDirection,
		RefreshCooldownUntilA: st.LegA.RefreshCooldownUntil,
		RefreshCooldownUntilB: st.LegB.RefreshCooldownUntil,

		NextEntryMultiplierA: st.LegA.NextEntryMultiplier,
		NextEntryMultiplierB: st.LegB.NextEntryMultiplier,

		LongOnly: st.LongOnly,
	}
	for _, o := range st.Orders {
		snap.Orders = append(snap.Orders, orderSnapshot(o))
	}
	for _, r := range st.Recovery {
		snap.Recovery = append(snap.Recovery, RecoverySnapshot{
			OrderSnapshot: orderSnapshot(r.OrderState),
			OrphanedAt:    r.OrphanedAt,
			Reason:        string(r.Reason),
		})
	}
	for _, c := range st.CompletedCycles {
		snap.CompletedCycles = append(snap.CompletedCycles, CycleSnapshot{
			TradeID:    string(c.TradeID),
			Cycle:      c.Cycle,
			EntryPrice: c.EntryPrice.Float64(),
			ExitPrice:  c.ExitPrice.Float64(),
			Volume:     c.Volume.Float64(),
			Gross:      c.Gross.Float64(),
			Fees:       c.Fees.Float64(),
			Net:        c.Net.Float64(),
			EntryTime:  c.EntryTime,
			ExitTime:   c.ExitTime,
			Regime:     int(c.Regime),
		})
	}
	return snap
}

func orderSnapshot(o OrderState) OrderSnapshot {
	return OrderSnapshot{
		Side:              string(o.Side),
		Role:              string(o.Role),
		Price:             o.Price.Float64(),
		Volume:            o.Volume.Float64(),
		TradeID:           string(o.TradeID),
		Cycle:             o.Cycle,
		EntryFilledAt:     o.EntryFilledAt,
		MatchedEntryPrice: o.MatchedEntryPrice.Float64(),
	}
}

// RestoreState rebuilds a PairState from a snapshot, coercing every field
// defensively: non-finite numbers become zero, cycle counters floor at 1,
// entry multipliers floor at 1, unknown enum strings fall back to their
// defaults, the order set truncates at the structural bounds, and the
// recovery list truncates at max_recovery_slots. Derived statistics are
// recomputed from the restored cycle list. Unknown fields in the payload
// are ignored by the decoder before this function ever sees them.
func RestoreState(snap StateSnapshot, cfg ModelConfig) PairState {
	st := PairState{
		MarketPrice:       money.New(fin(snap.MarketPrice)),
		Now:               fin(snap.Now),
		LastPriceUpdateAt: fin(snap.LastPriceUpdateAt),
		DetectedTrend:     restoreTrend(snap.DetectedTrend),
		TrendDetectedAt:   fin(snap.TrendDetectedAt),
		S2: RecoveryState{
			S2EnteredAt:    fin(snap.S2EnteredAt),
			S2LastActionAt: fin(snap.S2LastActionAt),
		},
		LongOnly: snap.LongOnly,
	}

	st.LegA = LegState{
		Cycle:                maxInt1(snap.CycleA),
		ExitRepriceCount:     maxInt0(snap.ExitRepriceCountA),
		ConsecutiveLosses:    maxInt0(snap.ConsecutiveLossesA),
		LastRepriceAt:        fin(snap.LastRepriceA),
		ConsecutiveRefreshes: maxInt0(snap.ConsecutiveRefreshesA),
		LastRefreshDirection: sign(float64(snap.LastRefreshDirectionA)),
		RefreshCooldownUntil: fin(snap.RefreshCooldownUntilA),
		NextEntryMultiplier:  multiplierOrOne(snap.NextEntryMultiplierA),
	}
	st.LegB = LegState{
		Cycle:                maxInt1(snap.CycleB),
		ExitRepriceCount:     maxInt0(snap.ExitRepriceCountB),
		ConsecutiveLosses:    maxInt0(snap.ConsecutiveLossesB),
		LastRepriceAt:        fin(snap.LastRepriceB),
		ConsecutiveRefreshes: maxInt0(snap.ConsecutiveRefreshesB),
		LastRefreshDirection: sign(float64(snap.LastRefreshDirectionB)),
		RefreshCooldownUntil: fin(snap.RefreshCooldownUntilB),
		NextEntryMultiplier:  multiplierOrOne(snap.NextEntryMultiplierB),
	}

	maxOrders := 2
	if st.LongOnly {
		maxOrders = 1
	}
	for _, o := range snap.Orders {
		if len(st.Orders) >= maxOrders {
			break
		}
		order, ok := restoreOrder(o)
		if !ok {
			continue
		}
		if dup := findOrderIndex(st.Orders, func(existing OrderState) bool {
			return existing.Side == order.Side && existing.Role == order.Role
		}); dup >= 0 {
			continue
		}
		st.Orders = append(st.Orders, order)
	}

	maxRecovery := cfg.MaxRecoverySlots
	if maxRecovery < 1 {
		maxRecovery = 1
	}
	for _, r := range snap.Recovery {
		if len(st.Recovery) >= maxRecovery {
			break
		}
		order, ok := restoreOrder(r.OrderSnapshot)
		if !ok {
			continue
		}
		st.Recovery = append(st.Recovery, RecoveryOrder{
			OrderState: order,
			OrphanedAt: fin(r.OrphanedAt),
			Reason:     restoreRecoveryReason(r.Reason),
		})
	}

	for _, c := range snap.CompletedCycles {
		st.CompletedCycles = append(st.CompletedCycles, CycleRecord{
			TradeID:    pairtypes.NormalizeTradeID(c.TradeID),
			Cycle:      maxInt0(c.Cycle),
			EntryPrice: money.New(fin(c.EntryPrice)),
			ExitPrice:  money.New(fin(c.ExitPrice)),
			Volume:     money.New(fin(c.Volume)),
			Gross:      money.New(fin(c.Gross)),
			Fees:       money.New(fin(c.Fees)),
			Net:        money.New(fin(c.Net)),
			EntryTime:  fin(c.EntryTime),
			ExitTime:   fin(c.ExitTime),
			Regime:     restoreRegime(c.Regime),
		})
	}

	return recomputeStats(st)
}

func restoreOrder(o OrderSnapshot) (OrderState, bool) {
	price := fin(o.Price)
	volume := fin(o.Volume)
	if price <= 0 || volume <= 0 {
		return OrderState{}, false
	}
	side := pairtypes.Sell
	if o.Side == string(pairtypes.Buy) {
		side = pairtypes.Buy
	}
	role := pairtypes.RoleEntry
	if o.Role == string(pairtypes.RoleExit) {
		role = pairtypes.RoleExit
	}
	return OrderState{
		Side:              side,
		Role:              role,
		Price:             money.New(price),
		Volume:            money.New(volume),
		TradeID:           pairtypes.NormalizeTradeID(o.TradeID),
		Cycle:             maxInt1(o.Cycle),
		EntryFilledAt:     fin(o.EntryFilledAt),
		MatchedEntryPrice: money.New(fin(o.MatchedEntryPrice)),
	}, true
}

func restoreTrend(raw string) pairtypes.Trend {
	switch pairtypes.Trend(raw) {
	case pairtypes.TrendUp, pairtypes.TrendDown:
		return pairtypes.Trend(raw)
	default:
		return pairtypes.TrendNone
	}
}

func restoreRecoveryReason(raw string) pairtypes.RecoveryReason {
	switch pairtypes.RecoveryReason(raw) {
	case pairtypes.ReasonTimeout, pairtypes.ReasonS2Break, pairtypes.ReasonRepricedOut:
		return pairtypes.RecoveryReason(raw)
	default:
		return pairtypes.ReasonTimeout
	}
}

func restoreRegime(raw int) pairtypes.Regime {
	switch pairtypes.Regime(raw) {
	case pairtypes.RegimeBearish, pairtypes.RegimeBullish:
		return pairtypes.Regime(raw)
	default:
		return pairtypes.RegimeRanging
	}
}

func fin(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func multiplierOrOne(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 1
	}
	return v
}

func maxInt0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func maxInt1(v int) int {
	if v < 1 {
		return 1
	}
	return v
}
