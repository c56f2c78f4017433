package pairmodel

import (
	"github.com/robjohncolson/decisioncore/pkg/money"
	"github.com/robjohncolson/decisioncore/pkg/pairtypes"
)

// OrderState is a single live order: an entry or an exit on one leg.
type OrderState struct {
	Side              pairtypes.Side
	Role              pairtypes.Role
	Price             money.Amount
	Volume            money.Amount
	TradeID           pairtypes.TradeID
	Cycle             int
	EntryFilledAt     float64
	MatchedEntryPrice money.Amount // only meaningful for exits
}

// RecoveryOrder is a former exit that has been orphaned off the book into
// the bounded recovery list.
type RecoveryOrder struct {
	OrderState
	OrphanedAt float64
	Reason     pairtypes.RecoveryReason
}

// CycleRecord is one completed round trip.
type CycleRecord struct {
	TradeID    pairtypes.TradeID
	Cycle      int
	EntryPrice money.Amount
	ExitPrice  money.Amount
	Volume     money.Amount
	Gross      money.Amount
	Fees       money.Amount
	Net        money.Amount
	EntryTime  float64
	ExitTime   float64
	Regime     pairtypes.Regime
}

// DurationSec is exit_time - entry_time, used by the sizers.
func (c CycleRecord) DurationSec() float64 { return c.ExitTime - c.EntryTime }

// RecoveryState is the S2 break-glass deadlock resolver's bookkeeping.
type RecoveryState struct {
	S2EnteredAt    float64 // 0 means unset
	S2LastActionAt float64
}

// LegState is the per-leg counters and anti-chase state that PairState
// keeps separately for leg A (sell) and leg B (buy).
type LegState struct {
	Cycle                int
	ExitRepriceCount     int
	ConsecutiveLosses    int
	LastRepriceAt        float64
	ConsecutiveRefreshes int
	LastRefreshDirection int // -1, 0, +1
	RefreshCooldownUntil float64
	NextEntryMultiplier  float64
}

// PairState is the immutable snapshot the transition function consumes
// and produces. Every transition returns a new value; nothing here is
// mutated in place by callers.
type PairState struct {
	MarketPrice       money.Amount
	Now               float64
	LastPriceUpdateAt float64

	Orders         []OrderState
	Recovery       []RecoveryOrder
	CompletedCycles []CycleRecord

	LegA LegState // sell leg
	LegB LegState // buy leg

	DetectedTrend   pairtypes.Trend
	TrendDetectedAt float64

	S2 RecoveryState

	MedianCycleDuration float64
	MeanNetProfit       float64
	MeanDurationSec     float64

	LongOnly bool
}

// Phase derives the current phase from the live order set. It is never
// stored: deriving keeps the order set as the single source of truth.
func (s PairState) Phase() pairtypes.Phase {
	var buyExit, sellExit bool
	for _, o := range s.Orders {
		if o.Role != pairtypes.RoleExit {
			continue
		}
		if o.Side == pairtypes.Buy {
			buyExit = true
		} else {
			sellExit = true
		}
	}
	switch {
	case buyExit && sellExit:
		return pairtypes.PhaseS2
	case buyExit:
		return pairtypes.PhaseS1a
	case sellExit:
		return pairtypes.PhaseS1b
	default:
		return pairtypes.PhaseS0
	}
}

// clone performs the copy-on-write snapshot every transition needs:
// orders/recovery/cycles are small and bounded (orders <= 2,
// recovery <= MaxRecoverySlots) so a full slice copy is cheap; completed
// cycles grow over the life of the pair but append-only sharing is safe
// since we never mutate an existing entry.
func (s PairState) clone() PairState {
	next := s
	next.Orders = append([]OrderState(nil), s.Orders...)
	next.Recovery = append([]RecoveryOrder(nil), s.Recovery...)
	next.CompletedCycles = s.CompletedCycles // append-only, safe to share
	return next
}

// MakeInitialState builds the S0 starting state: one sell entry and one
// buy entry placed symmetrically around market (only the buy entry in
// long-only mode).
func MakeInitialState(cfg ModelConfig, marketPrice float64, now float64) (PairState, []Action) {
	st := PairState{
		MarketPrice:       money.New(marketPrice),
		Now:               now,
		LastPriceUpdateAt: now,
		LegA:              LegState{Cycle: 1, NextEntryMultiplier: 1.0},
		LegB:              LegState{Cycle: 1, NextEntryMultiplier: 1.0},
		DetectedTrend:     pairtypes.TrendNone,
		LongOnly:          cfg.LongOnly,
	}

	aPct, bPct := entryDistances(cfg, st.DetectedTrend)
	var actions []Action

	if !cfg.LongOnly {
		sellEntryPrice := marketPrice * (1 + aPct/100)
		vol := computeVolume(cfg, sellEntryPrice, st.LegA.NextEntryMultiplier)
		order := OrderState{
			Side: pairtypes.Sell, Role: pairtypes.RoleEntry,
			Price: money.New(round(sellEntryPrice, cfg.PriceDecimals)), Volume: money.New(vol),
			TradeID: pairtypes.TradeA, Cycle: st.LegA.Cycle,
		}
		st.Orders = append(st.Orders, order)
		actions = append(actions, PlaceOrder{Order: order})
	}

	buyEntryPrice := marketPrice * (1 - bPct/100)
	vol := computeVolume(cfg, buyEntryPrice, st.LegB.NextEntryMultiplier)
	order := OrderState{
		Side: pairtypes.Buy, Role: pairtypes.RoleEntry,
		Price: money.New(round(buyEntryPrice, cfg.PriceDecimals)), Volume: money.New(vol),
		TradeID: pairtypes.TradeB, Cycle: st.LegB.Cycle,
	}
	st.Orders = append(st.Orders, order)
	actions = append(actions, PlaceOrder{Order: order})

	return st, actions
}
