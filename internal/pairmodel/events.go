package pairmodel

// Event is the sum type of inputs the transition function consumes.
type Event interface {
	isEvent()
}

// PriceTick updates the market price and drives the entry-refresh check.
type PriceTick struct {
	Price float64
	Now   float64
}

// TimeAdvance moves the clock forward without a price change; it drives
// trend expiry, stale-exit handling, and S2 break-glass, in that fixed
// order — later steps observe state mutated by earlier ones.
type TimeAdvance struct {
	Now float64
}

// BuyFill reports a filled buy order. Venue fill reports carry only
// side/price/volume, so dispatch is by price: a fill at the open buy
// exit's price completes the leg-A round trip; any other buy fill is the
// resting buy entry filling, which places the matching sell exit.
type BuyFill struct {
	Price  float64
	Volume float64
	Now    float64
}

// SellFill mirrors BuyFill for the sell side.
type SellFill struct {
	Price  float64
	Volume float64
	Now    float64
}

// RecoveryFill reports a fill on an order sitting in the recovery list,
// addressed by its slice index. Index addressing (rather than trade id)
// is required because MaxRecoverySlots allows more than one orphaned
// order per leg to coexist.
type RecoveryFill struct {
	Index int
	Price float64
	Now   float64
}

// RecoveryCancel reports an operator- or system-initiated cancel of a
// recovery-list order, freeing its slot. Addressed by index for the same
// reason as RecoveryFill.
type RecoveryCancel struct {
	Index int
	Now   float64
}

func (PriceTick) isEvent()      {}
func (TimeAdvance) isEvent()    {}
func (BuyFill) isEvent()        {}
func (SellFill) isEvent()       {}
func (RecoveryFill) isEvent()   {}
func (RecoveryCancel) isEvent() {}
