// Package pairtypes holds the small shared vocabulary used across the
// decision core: phases, sides, trade legs and market regimes. Grounded on
// pkg/types/types.go's style of typed-string enums with methods, narrowed
// from CLOB wire types to the decision core's own domain.
package pairtypes

// Phase is derived from the live order set, never stored directly (see
// PairState.Phase in the pairmodel package).
type Phase string

const (
	PhaseS0  Phase = "S0"  // two entries (or one, in long-only mode)
	PhaseS1a Phase = "S1a" // one buy exit live
	PhaseS1b Phase = "S1b" // one sell exit live
	PhaseS2  Phase = "S2"  // both exits live
)

// Side is the order side.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Role distinguishes an entry order from an exit order.
type Role string

const (
	RoleEntry Role = "entry"
	RoleExit  Role = "exit"
)

// TradeID identifies which leg of the pair an order belongs to.
// Leg A is the sell side, leg B is the buy side.
type TradeID string

const (
	TradeA TradeID = "A"
	TradeB TradeID = "B"
)

// NormalizeTradeID coerces an arbitrary string to a valid TradeID,
// defaulting to TradeA.
func NormalizeTradeID(raw string) TradeID {
	switch TradeID(raw) {
	case TradeA, TradeB:
		return TradeID(raw)
	default:
		return TradeA
	}
}

// RecoveryReason explains why an order was moved to the recovery list.
type RecoveryReason string

const (
	ReasonTimeout     RecoveryReason = "timeout"
	ReasonS2Break     RecoveryReason = "s2_break"
	ReasonRepricedOut RecoveryReason = "repriced_out"
)

// Trend is the detector's directional hint.
type Trend string

const (
	TrendNone Trend = "none"
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
)

// Regime is the market regime label used by the statistical sizers,
// a 0/1/2 id space.
type Regime int

const (
	RegimeBearish Regime = 0
	RegimeRanging Regime = 1
	RegimeBullish Regime = 2
)

// Label returns the canonical lower-case bucket name for the regime.
func (r Regime) Label() string {
	switch r {
	case RegimeBearish:
		return "bearish"
	case RegimeBullish:
		return "bullish"
	default:
		return "ranging"
	}
}

// NormalizeRegimeLabel maps a free-form regime label/id string onto one of
// the three canonical buckets, returning ok=false when it can't.
func NormalizeRegimeLabel(raw string) (string, bool) {
	switch raw {
	case "bearish", "ranging", "bullish":
		return raw, true
	case "BEARISH":
		return "bearish", true
	case "RANGING":
		return "ranging", true
	case "BULLISH":
		return "bullish", true
	case "0":
		return "bearish", true
	case "1":
		return "ranging", true
	case "2":
		return "bullish", true
	default:
		return "", false
	}
}

// SlotMode is the ledger's position-management style for a slot.
type SlotMode string

const (
	SlotLegacy  SlotMode = "legacy"
	SlotSticky  SlotMode = "sticky"
	SlotChurner SlotMode = "churner"
)

// RepriceReason explains why a position's exit was repriced.
type RepriceReason string

const (
	RepriceTighten  RepriceReason = "tighten"
	RepriceSubsidy  RepriceReason = "subsidy"
	RepriceOperator RepriceReason = "operator"
)

// PositionStatus is the ledger's lifecycle state for a position.
type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"
	StatusClosed PositionStatus = "closed"
)
