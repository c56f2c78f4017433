package pairmodel

import "github.com/robjohncolson/decisioncore/pkg/pairtypes"

// Action is the sum type of side effects a transition can emit. The
// transition function never performs these itself — it only describes
// them, leaving execution to the caller (the simulated order feed in
// cmd/decisioncore, or a venue adapter in a future build).
type Action interface {
	isAction()
}

// PlaceOrder asks the caller to submit a new resting order.
type PlaceOrder struct {
	Order OrderState
}

// CancelOrder asks the caller to cancel a resting order identified by
// trade id and role (a pair is never holding two orders with the same
// trade id and role at once, so this is unambiguous).
type CancelOrder struct {
	TradeID pairtypes.TradeID
	Role    pairtypes.Role
}

// BookProfit records a completed round trip; the caller is expected to
// forward this to the ledger/journal.
type BookProfit struct {
	Cycle CycleRecord
}

// OrphanExit asks the caller to pull a stale exit off the book and park
// it in the bounded recovery list.
type OrphanExit struct {
	Order  OrderState
	Reason pairtypes.RecoveryReason
}

// RepriceExit asks the caller to cancel-and-replace a resting exit at a
// new target price.
type RepriceExit struct {
	TradeID  pairtypes.TradeID
	OldPrice float64
	NewPrice float64
	Reason   pairtypes.RepriceReason
}

// DetectTrend reports a trend-direction change derived from recent fill
// behavior. NOTE: the action's Trend field mirrors PairState.DetectedTrend
// at the moment the transition fires; callers that need the *current*
// trend after this action should read PairState.DetectedTrend rather than
// this action, since a later transition in the same batch may supersede it.
type DetectTrend struct {
	Trend pairtypes.Trend
}

func (PlaceOrder) isAction()  {}
func (CancelOrder) isAction() {}
func (BookProfit) isAction()  {}
func (OrphanExit) isAction()  {}
func (RepriceExit) isAction() {}
func (DetectTrend) isAction() {}
