package pairmodel

import (
	"math"
	"math/rand"
	"testing"

	"github.com/robjohncolson/decisioncore/pkg/pairtypes"
)

func TestStateSnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	rng := rand.New(rand.NewSource(7))
	st, _ := MakeInitialState(cfg, 0.10, 0)
	st, violations, _ := ExploreRandom(rng, st, cfg, 500)
	if len(violations) != 0 {
		t.Fatalf("fixture walk produced invariant violations: %v", violations[0])
	}

	restored := RestoreState(SnapshotState(st), cfg)
	requireNoViolations(t, restored, cfg)

	if restored.Phase() != st.Phase() {
		t.Fatalf("phase changed across snapshot/restore: got %s want %s", restored.Phase(), st.Phase())
	}
	if len(restored.Orders) != len(st.Orders) {
		t.Fatalf("order count changed: got %d want %d", len(restored.Orders), len(st.Orders))
	}
	if len(restored.Recovery) != len(st.Recovery) {
		t.Fatalf("recovery count changed: got %d want %d", len(restored.Recovery), len(st.Recovery))
	}
	if len(restored.CompletedCycles) != len(st.CompletedCycles) {
		t.Fatalf("cycle count changed: got %d want %d", len(restored.CompletedCycles), len(st.CompletedCycles))
	}
	if restored.LegA.Cycle != st.LegA.Cycle || restored.LegB.Cycle != st.LegB.Cycle {
		t.Fatalf("cycle counters changed: got (%d,%d) want (%d,%d)",
			restored.LegA.Cycle, restored.LegB.Cycle, st.LegA.Cycle, st.LegB.Cycle)
	}
	if restored.DetectedTrend != st.DetectedTrend {
		t.Fatalf("trend changed: got %s want %s", restored.DetectedTrend, st.DetectedTrend)
	}
	if restored.S2.S2EnteredAt != st.S2.S2EnteredAt {
		t.Fatalf("s2_entered_at changed: got %v want %v", restored.S2.S2EnteredAt, st.S2.S2EnteredAt)
	}
	if restored.MedianCycleDuration != st.MedianCycleDuration {
		t.Fatalf("median duration not recomputed to the same value: got %v want %v",
			restored.MedianCycleDuration, st.MedianCycleDuration)
	}
}

// A restored state must drive the transition function identically to the
// state it was snapshotted from.
func TestRestoredStateTransitionsIdentically(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	st, _ := MakeInitialState(cfg, 0.10, 0)

	buyEntry := mustFindOrder(t, st, pairtypes.TradeB, pairtypes.RoleEntry)
	st, _ = Transition(st, BuyFill{Price: buyEntry.Price.Float64(), Volume: buyEntry.Volume.Float64(), Now: 10}, cfg)

	restored := RestoreState(SnapshotState(st), cfg)

	a, actsA := Transition(st, PriceTick{Price: 0.099, Now: 20}, cfg)
	b, actsB := Transition(restored, PriceTick{Price: 0.099, Now: 20}, cfg)

	if a.Phase() != b.Phase() || len(actsA) != len(actsB) {
		t.Fatalf("restored state diverged: phase %s vs %s, %d vs %d actions",
			a.Phase(), b.Phase(), len(actsA), len(actsB))
	}
}

func TestRestoreStateCoercesDefectivePayload(t *testing.T) {
	t.Parallel()
	cfg := testConfig()

	snap := StateSnapshot{
		MarketPrice:          math.NaN(),
		CycleA:               -3,
		CycleB:               0,
		NextEntryMultiplierA: math.Inf(1),
		NextEntryMultiplierB: -2,
		DetectedTrend:        "sideways",
		Orders: []OrderSnapshot{
			{Side: "buy", Role: "entry", Price: 0.10, Volume: 35, TradeID: "B", Cycle: 1},
			{Side: "buy", Role: "entry", Price: 0.11, Volume: 35, TradeID: "B", Cycle: 1}, // duplicate (side, role)
			{Side: "sell", Role: "entry", Price: -1, Volume: 35, TradeID: "A", Cycle: 1}, // bad price
		},
		Recovery: []RecoverySnapshot{
			{OrderSnapshot: OrderSnapshot{Side: "sell", Role: "exit", Price: 0.12, Volume: 10, TradeID: "A", Cycle: 2}, Reason: "volcano"},
		},
	}
	st := RestoreState(snap, cfg)

	if st.MarketPrice.Float64() != 0 {
		t.Fatalf("expected NaN market price coerced to zero, got %v", st.MarketPrice.Float64())
	}
	if st.LegA.Cycle != 1 || st.LegB.Cycle != 1 {
		t.Fatalf("expected cycle counters floored at 1, got (%d,%d)", st.LegA.Cycle, st.LegB.Cycle)
	}
	if st.LegA.NextEntryMultiplier != 1 || st.LegB.NextEntryMultiplier != 1 {
		t.Fatalf("expected defective multipliers reset to 1, got (%v,%v)",
			st.LegA.NextEntryMultiplier, st.LegB.NextEntryMultiplier)
	}
	if st.DetectedTrend != pairtypes.TrendNone {
		t.Fatalf("expected unknown trend coerced to none, got %s", st.DetectedTrend)
	}
	if len(st.Orders) != 1 {
		t.Fatalf("expected duplicate and malformed orders dropped, got %d orders", len(st.Orders))
	}
	if len(st.Recovery) != 1 || st.Recovery[0].Reason != pairtypes.ReasonTimeout {
		t.Fatalf("expected unknown recovery reason coerced to timeout, got %v", st.Recovery)
	}
}

func TestRestoreStateTruncatesRecoveryToMaxSlots(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.MaxRecoverySlots = 2

	var snap StateSnapshot
	snap.CycleA, snap.CycleB = 1, 1
	// A legal S0 order set, so the recovery list is the only thing under test.
	snap.Orders = []OrderSnapshot{
		{Side: "sell", Role: "entry", Price: 0.1005, Volume: 35, TradeID: "A", Cycle: 1},
		{Side: "buy", Role: "entry", Price: 0.0995, Volume: 35, TradeID: "B", Cycle: 1},
	}
	for i := 0; i < 5; i++ {
		snap.Recovery = append(snap.Recovery, RecoverySnapshot{
			OrderSnapshot: OrderSnapshot{Side: "sell", Role: "exit", Price: 0.12, Volume: 10, TradeID: "A", Cycle: 1},
			OrphanedAt:    float64(i),
			Reason:        "timeout",
		})
	}
	st := RestoreState(snap, cfg)
	if len(st.Recovery) != 2 {
		t.Fatalf("expected recovery list truncated to max_recovery_slots, got %d", len(st.Recovery))
	}
	requireNoViolations(t, st, cfg)
}
