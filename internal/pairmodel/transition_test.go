package pairmodel

import (
	"math/rand"
	"testing"

	"github.com/robjohncolson/decisioncore/pkg/money"
	"github.com/robjohncolson/decisioncore/pkg/pairtypes"
)

func testConfig() ModelConfig {
	return DefaultModelConfig()
}

func requireNoViolations(t *testing.T, st PairState, cfg ModelConfig) {
	t.Helper()
	if v := CheckInvariants(st, cfg); len(v) > 0 {
		t.Fatalf("invariant violations: %v", v)
	}
}

func TestNormalOscillation(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.EntryPct = 0.5
	cfg.ProfitPct = 1.0

	st, _ := MakeInitialState(cfg, 0.10, 1_000_000)
	requireNoViolations(t, st, cfg)

	buyEntry := mustFindOrder(t, st, pairtypes.TradeB, pairtypes.RoleEntry)
	st, _ = Transition(st, BuyFill{Price: buyEntry.Price.Float64(), Volume: buyEntry.Volume.Float64(), Now: 1_000_000}, cfg)
	requireNoViolations(t, st, cfg)

	st, _ = Transition(st, TimeAdvance{Now: 1_000_030}, cfg)

	sellExit := mustFindOrder(t, st, pairtypes.TradeB, pairtypes.RoleExit)
	st, acts := Transition(st, SellFill{Price: sellExit.Price.Float64(), Volume: sellExit.Volume.Float64(), Now: 1_000_060}, cfg)
	requireNoViolations(t, st, cfg)
	if !hasBookProfit(acts) {
		t.Fatalf("expected BookProfit action on first round trip")
	}

	st, _ = Transition(st, TimeAdvance{Now: 1_000_090}, cfg)

	sellEntry := mustFindOrder(t, st, pairtypes.TradeA, pairtypes.RoleEntry)
	st, _ = Transition(st, SellFill{Price: sellEntry.Price.Float64(), Volume: sellEntry.Volume.Float64(), Now: 1_000_120}, cfg)
	requireNoViolations(t, st, cfg)

	st, _ = Transition(st, TimeAdvance{Now: 1_000_150}, cfg)

	buyExit := mustFindOrder(t, st, pairtypes.TradeA, pairtypes.RoleExit)
	st, acts = Transition(st, BuyFill{Price: buyExit.Price.Float64(), Volume: buyExit.Volume.Float64(), Now: 1_000_180}, cfg)
	requireNoViolations(t, st, cfg)
	if !hasBookProfit(acts) {
		t.Fatalf("expected BookProfit action on second round trip")
	}

	if len(st.CompletedCycles) != 2 {
		t.Fatalf("expected 2 completed cycles, got %d", len(st.CompletedCycles))
	}
	if st.Phase() != pairtypes.PhaseS0 {
		t.Fatalf("expected phase S0 after both round trips, got %s", st.Phase())
	}
}

func TestTrendingMarketOrphansStaleExit(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.MinCyclesForTiming = 2
	cfg.EntryPct = 2.0 // wide enough that the market-relative floor leaves room for a >0.1% reprice move

	st, _ := MakeInitialState(cfg, 0.10, 0)
	st.MedianCycleDuration = 120
	st.CompletedCycles = []CycleRecord{{Net: money.Zero}, {Net: money.Zero}}

	buyEntry := mustFindOrder(t, st, pairtypes.TradeB, pairtypes.RoleEntry)
	st, _ = Transition(st, BuyFill{Price: buyEntry.Price.Float64(), Volume: buyEntry.Volume.Float64(), Now: 0}, cfg)

	now := 0.0
	price := 0.10
	var repriced, orphaned bool
	for i := 0; i < 10; i++ {
		now += 70
		price -= 0.002
		var acts []Action
		st, acts = Transition(st, PriceTick{Price: price, Now: now}, cfg)
		st, acts2 := Transition(st, TimeAdvance{Now: now}, cfg)
		acts = append(acts, acts2...)
		for _, a := range acts {
			switch act := a.(type) {
			case RepriceExit:
				repriced = true
				// One-way ratchet: a repriced sell exit only ever moves down,
				// and never through the fee-inclusive breakeven.
				if act.NewPrice >= act.OldPrice {
					t.Fatalf("sell-exit reprice moved away from market: %v -> %v", act.OldPrice, act.NewPrice)
				}
				breakeven := 0.098 * (1 + 2*cfg.MakerFeePct/100)
				if act.NewPrice <= breakeven {
					t.Fatalf("reprice %v not strictly profitable past breakeven %v", act.NewPrice, breakeven)
				}
			case OrphanExit:
				orphaned = true
			}
		}
		requireNoViolations(t, st, cfg)
	}
	now += 600
	var acts []Action
	st, acts = Transition(st, TimeAdvance{Now: now}, cfg)
	for _, a := range acts {
		if _, ok := a.(OrphanExit); ok {
			orphaned = true
		}
	}
	requireNoViolations(t, st, cfg)

	if !repriced {
		t.Fatalf("expected at least one RepriceExit")
	}
	if !orphaned {
		t.Fatalf("expected the stranded exit to be orphaned eventually")
	}
	if len(st.Recovery) != 1 {
		t.Fatalf("expected recovery list length 1, got %d", len(st.Recovery))
	}
	if st.DetectedTrend != pairtypes.TrendDown {
		t.Fatalf("expected detected_trend=down, got %s", st.DetectedTrend)
	}
}

func TestS2BreakGlassResolvesDeadlock(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.S2FallbackSec = 120
	cfg.S2MaxSpreadPct = 0.5

	st := PairState{
		MarketPrice:       money.New(0.10),
		Now:               0,
		LastPriceUpdateAt: 200, // keep price "fresh" relative to every TimeAdvance below
		LegA:              LegState{Cycle: 1, NextEntryMultiplier: 1},
		LegB:              LegState{Cycle: 1, NextEntryMultiplier: 1},
	}
	st.Orders = []OrderState{
		{Side: pairtypes.Sell, Role: pairtypes.RoleExit, Price: money.New(0.1005), Volume: money.New(35), TradeID: pairtypes.TradeB, Cycle: 1, MatchedEntryPrice: money.New(0.0995), EntryFilledAt: 0},
		{Side: pairtypes.Buy, Role: pairtypes.RoleExit, Price: money.New(0.0995), Volume: money.New(35), TradeID: pairtypes.TradeA, Cycle: 1, MatchedEntryPrice: money.New(0.1005), EntryFilledAt: 0},
	}
	requireNoViolations(t, st, cfg)

	st, _ = Transition(st, TimeAdvance{Now: 10}, cfg)
	if st.S2.S2EnteredAt != 10 {
		t.Fatalf("expected s2_entered_at set on first S2 tick, got %v", st.S2.S2EnteredAt)
	}

	st, _ = Transition(st, TimeAdvance{Now: 50}, cfg)

	st, acts := Transition(st, TimeAdvance{Now: 220}, cfg)
	requireNoViolations(t, st, cfg)
	if !hasOrphan(acts) {
		t.Fatalf("expected an OrphanExit once s2_fallback_sec elapsed")
	}
	if st.S2.S2EnteredAt != 0 {
		t.Fatalf("expected s2_entered_at cleared after break-glass close")
	}
	if st.Phase() == pairtypes.PhaseS2 {
		t.Fatalf("expected phase to leave S2 after break-glass close")
	}
}

func TestS2BreakGlassSuppressedWhenPriceStale(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.S2FallbackSec = 120
	cfg.PriceStalenessLimit = 60

	st := PairState{
		MarketPrice:       money.New(0.10),
		Now:               0,
		LastPriceUpdateAt: 0, // never refreshed below, so staleness grows with now
		LegA:              LegState{Cycle: 1, NextEntryMultiplier: 1},
		LegB:              LegState{Cycle: 1, NextEntryMultiplier: 1},
	}
	st.Orders = []OrderState{
		{Side: pairtypes.Sell, Role: pairtypes.RoleExit, Price: money.New(0.1005), Volume: money.New(35), TradeID: pairtypes.TradeB, Cycle: 1, MatchedEntryPrice: money.New(0.0995), EntryFilledAt: 450},
		{Side: pairtypes.Buy, Role: pairtypes.RoleExit, Price: money.New(0.0995), Volume: money.New(35), TradeID: pairtypes.TradeA, Cycle: 1, MatchedEntryPrice: money.New(0.1005), EntryFilledAt: 450},
	}

	var acts []Action
	st, acts = Transition(st, TimeAdvance{Now: 500}, cfg)
	if hasOrphan(acts) {
		t.Fatalf("break-glass acted on stale price data")
	}
	if st.S2.S2EnteredAt != 0 {
		t.Fatalf("expected the break-glass timer untouched while price is stale, got %v", st.S2.S2EnteredAt)
	}
	if st.Phase() != pairtypes.PhaseS2 {
		t.Fatalf("expected the pair to stay parked in S2 while price is stale, got %s", st.Phase())
	}
}

func TestRecoveryFillBooksProfit(t *testing.T) {
	t.Parallel()
	cfg := testConfig()

	st := PairState{
		MarketPrice: money.New(0.10),
		LegA:        LegState{Cycle: 1, NextEntryMultiplier: 1},
		LegB:        LegState{Cycle: 1, ConsecutiveLosses: 2, NextEntryMultiplier: 1},
	}
	st.Recovery = []RecoveryOrder{
		{
			OrderState: OrderState{Side: pairtypes.Sell, Role: pairtypes.RoleExit, Price: money.New(0.101), Volume: money.New(35), TradeID: pairtypes.TradeB, Cycle: 1, MatchedEntryPrice: money.New(0.099), EntryFilledAt: 0},
			OrphanedAt: 500,
			Reason:     pairtypes.ReasonTimeout,
		},
	}

	st, acts := Transition(st, RecoveryFill{Index: 0, Price: 0.101, Now: 1000}, cfg)
	if !hasBookProfit(acts) {
		t.Fatalf("expected BookProfit on recovery fill")
	}
	if len(st.Recovery) != 0 {
		t.Fatalf("expected recovery list emptied, got %d", len(st.Recovery))
	}
	if st.LegB.ConsecutiveLosses != 0 {
		t.Fatalf("expected leg B loss counter reset after profitable recovery fill")
	}
}

func TestAntiChaseCoolsDownAfterMaxRefreshes(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.EntryPct = 0.2
	cfg.RefreshPct = 0.5
	cfg.MaxConsecutiveRefreshes = 3

	st, _ := MakeInitialState(cfg, 0.10, 0)

	price := 0.10
	now := 0.0
	for i := 0; i < 5; i++ {
		now += 10
		price -= 0.001
		st, _ = Transition(st, PriceTick{Price: price, Now: now}, cfg)
		requireNoViolations(t, st, cfg)
	}

	if st.LegB.RefreshCooldownUntil <= now {
		t.Fatalf("expected refresh_cooldown_until_b > now after repeated downward refreshes, got %v (now=%v)", st.LegB.RefreshCooldownUntil, now)
	}
	if st.LegB.ConsecutiveRefreshes < cfg.MaxConsecutiveRefreshes {
		t.Fatalf("expected consecutive refreshes to reach the cap, got %d", st.LegB.ConsecutiveRefreshes)
	}
}

func TestLongOnlyNeverProducesSellEntry(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.LongOnly = true

	st, _ := MakeInitialState(cfg, 0.10, 0)
	if len(st.Orders) != 1 {
		t.Fatalf("expected exactly one order in long-only S0, got %d", len(st.Orders))
	}
	requireNoViolations(t, st, cfg)

	buyEntry := mustFindOrder(t, st, pairtypes.TradeB, pairtypes.RoleEntry)
	st, _ = Transition(st, BuyFill{Price: buyEntry.Price.Float64(), Volume: buyEntry.Volume.Float64(), Now: 0}, cfg)
	requireNoViolations(t, st, cfg)
	assertNoSellEntry(t, st)

	st, _ = Transition(st, TimeAdvance{Now: 30}, cfg)
	assertNoSellEntry(t, st)

	sellExit := mustFindOrder(t, st, pairtypes.TradeB, pairtypes.RoleExit)
	st, _ = Transition(st, SellFill{Price: sellExit.Price.Float64(), Volume: sellExit.Volume.Float64(), Now: 60}, cfg)
	requireNoViolations(t, st, cfg)
	assertNoSellEntry(t, st)
}

func TestInvariantsHoldUnderRandomWalk(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	rng := rand.New(rand.NewSource(42))
	st, _ := MakeInitialState(cfg, 0.10, 0)

	_, violations, _ := ExploreRandom(rng, st, cfg, 10_000)
	if len(violations) != 0 {
		t.Fatalf("expected zero invariant violations over 10,000 random steps, got %d: %v", len(violations), violations[0])
	}
}

func mustFindOrder(t *testing.T, st PairState, tid pairtypes.TradeID, role pairtypes.Role) OrderState {
	t.Helper()
	for _, o := range st.Orders {
		if o.TradeID == tid && o.Role == role {
			return o
		}
	}
	t.Fatalf("no order found for trade_id=%s role=%s", tid, role)
	return OrderState{}
}

func assertNoSellEntry(t *testing.T, st PairState) {
	t.Helper()
	for _, o := range st.Orders {
		if o.Side == pairtypes.Sell && o.Role == pairtypes.RoleEntry {
			t.Fatalf("long-only pair must never hold a sell entry")
		}
	}
}

func hasBookProfit(acts []Action) bool {
	for _, a := range acts {
		if _, ok := a.(BookProfit); ok {
			return true
		}
	}
	return false
}

func hasOrphan(acts []Action) bool {
	for _, a := range acts {
		if _, ok := a.(OrphanExit); ok {
			return true
		}
	}
	return false
}
