package pairmodel

import "github.com/robjohncolson/decisioncore/pkg/pairtypes"

// Snapshot is a read-only projection of a PairState for status reporting
// and for feeding the sizers/ledger without exposing mutable internals.
type Snapshot struct {
	Phase               pairtypes.Phase
	MarketPrice         float64
	OpenOrders          []OrderState
	RecoveryCount       int
	CompletedCycleCount int
	MedianCycleDuration float64
	DetectedTrend       pairtypes.Trend
	LegACycle           int
	LegBCycle           int
	LongOnly            bool
}

// Predict is a pure introspection of the current state — it never mutates
// and never reads the clock, matching the transition function's own
// purity contract.
func Predict(st PairState) Snapshot {
	return Snapshot{
		Phase:               st.Phase(),
		MarketPrice:         st.MarketPrice.Float64(),
		OpenOrders:          append([]OrderState(nil), st.Orders...),
		RecoveryCount:       len(st.Recovery),
		CompletedCycleCount: len(st.CompletedCycles),
		MedianCycleDuration: st.MedianCycleDuration,
		DetectedTrend:       st.DetectedTrend,
		LegACycle:           st.LegA.Cycle,
		LegBCycle:           st.LegB.Cycle,
		LongOnly:            st.LongOnly,
	}
}
