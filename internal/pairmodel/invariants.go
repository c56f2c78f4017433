package pairmodel

import (
	"fmt"

	"github.com/robjohncolson/decisioncore/pkg/pairtypes"
)

// CheckInvariants runs I1-I12 against a state and returns a human-readable
// violation for each failure (nil/empty slice means the state is legal).
// Callers in test mode should treat any non-empty result as fatal; in
// production this feeds an observer hook rather than panicking.
func CheckInvariants(st PairState, cfg ModelConfig) []string {
	var violations []string

	phase := st.Phase()

	maxOrders := 2
	if st.LongOnly {
		maxOrders = 1
	}
	if len(st.Orders) > maxOrders {
		violations = append(violations, fmt.Sprintf("I2: %d open orders exceeds max %d", len(st.Orders), maxOrders))
	}

	seen := map[string]bool{}
	for _, o := range st.Orders {
		key := string(o.Side) + "/" + string(o.Role)
		if seen[key] {
			violations = append(violations, "I3: duplicate (side, role) in open orders: "+key)
		}
		seen[key] = true
	}

	if len(st.Recovery) > cfg.MaxRecoverySlots {
		violations = append(violations, fmt.Sprintf("I4: recovery list length %d exceeds max %d", len(st.Recovery), cfg.MaxRecoverySlots))
	}

	var buyEntries, sellEntries, buyExits, sellExits int
	for _, o := range st.Orders {
		switch {
		case o.Role == pairtypes.RoleEntry && o.Side == pairtypes.Buy:
			buyEntries++
		case o.Role == pairtypes.RoleEntry && o.Side == pairtypes.Sell:
			sellEntries++
		case o.Role == pairtypes.RoleExit && o.Side == pairtypes.Buy:
			buyExits++
		case o.Role == pairtypes.RoleExit && o.Side == pairtypes.Sell:
			sellExits++
		}
	}
	switch phase {
	case pairtypes.PhaseS0:
		if st.LongOnly {
			if buyEntries != 1 || sellEntries != 0 {
				violations = append(violations, "I5-8: long-only S0 must hold exactly one buy entry")
			}
		} else if buyEntries != 1 || sellEntries != 1 {
			violations = append(violations, "I5-8: S0 must hold one buy entry and one sell entry")
		}
	case pairtypes.PhaseS1a:
		if buyExits != 1 {
			violations = append(violations, "I5-8: S1a must hold exactly one buy exit")
		}
	case pairtypes.PhaseS1b:
		if sellExits != 1 {
			violations = append(violations, "I5-8: S1b must hold exactly one sell exit")
		}
	case pairtypes.PhaseS2:
		if buyExits != 1 || sellExits != 1 || buyEntries != 0 || sellEntries != 0 {
			violations = append(violations, "I5-8: S2 must hold exactly one buy exit and one sell exit, no entries")
		}
	}

	const tol = 1e-9
	for _, o := range st.Orders {
		if o.Role != pairtypes.RoleExit {
			continue
		}
		e := o.MatchedEntryPrice.Float64()
		p := o.Price.Float64()
		if o.Side == pairtypes.Sell && p < e-tol {
			violations = append(violations, "I9: sell exit price below matched entry")
		}
		if o.Side == pairtypes.Buy && p > e+tol {
			violations = append(violations, "I9: buy exit price above matched entry")
		}
	}

	if st.LegA.Cycle < 1 || st.LegB.Cycle < 1 {
		violations = append(violations, "I10: leg cycle counters must be >= 1")
	}
	for _, o := range st.Orders {
		if o.Cycle < 1 {
			violations = append(violations, "I10: order cycle must be >= 1")
		}
	}

	if phase == pairtypes.PhaseS2 && st.S2.S2EnteredAt == 0 {
		// Permitted only on the very first tick after entering S2; the
		// break-glass routine itself sets this on its first visit, so a
		// caller that never ran TimeAdvance after entering S2 is not yet
		// in violation. Left as advisory rather than hard failure.
		_ = 0
	}
	if phase != pairtypes.PhaseS2 && st.S2.S2EnteredAt != 0 {
		violations = append(violations, "I11: s2_entered_at set while phase != S2")
	}

	for _, r := range st.Recovery {
		switch r.Reason {
		case pairtypes.ReasonTimeout, pairtypes.ReasonS2Break, pairtypes.ReasonRepricedOut:
		default:
			violations = append(violations, "I12: recovery order has invalid reason: "+string(r.Reason))
		}
	}

	return violations
}
