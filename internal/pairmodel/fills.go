package pairmodel

import "github.com/robjohncolson/decisioncore/pkg/pairtypes"

// GenerateFills derives the fill events a price move to newPrice would
// trigger against the book's resting orders, without mutating state.
// A buy-side order (entry or
// exit) fills when the new price is at or below its resting price; a
// sell-side order fills when the new price is at or above it.
//
// This is a simulation-only helper — PriceTick itself never manufactures
// a fill, so callers that want price-path-driven fills (rather than the
// arbitrary fills ExploreRandom's fuzzer generates) run GenerateFills
// after each price move and feed its output back through Transition.
func GenerateFills(st PairState, newPrice, now float64) []Event {
	var fills []Event
	for _, o := range st.Orders {
		switch o.Side {
		case pairtypes.Buy:
			if newPrice <= o.Price.Float64() {
				fills = append(fills, BuyFill{Price: o.Price.Float64(), Volume: o.Volume.Float64(), Now: now})
			}
		case pairtypes.Sell:
			if newPrice >= o.Price.Float64() {
				fills = append(fills, SellFill{Price: o.Price.Float64(), Volume: o.Volume.Float64(), Now: now})
			}
		}
	}
	return fills
}
