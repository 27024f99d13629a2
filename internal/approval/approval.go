// Package approval decides whether an order needs administrative
// sign-off before it may leave CONFIRMED.
package approval

// Settings holds the configurable margin thresholds. They live in
// company settings and are evaluated once, at order creation.
type Settings struct {
	AnyNegativeLineMargin     bool
	MarginBelowPercent        bool
	MarginPercentThreshold    float64
	OrderTotalMarginNegative  bool
	BlockWorkflowUntilCleared bool
}

// Line carries the snapshotted unit price and cost of one order line.
type Line struct {
	Quantity    int
	PriceAtTime float64
	CostAtTime  float64
}

// Requires reports whether the order's margin profile trips any of the
// enabled thresholds. The result is persisted on the order as
// requires_admin_approval.
func Requires(lines []Line, s Settings) bool {
	if len(lines) == 0 {
		return false
	}

	if s.AnyNegativeLineMargin {
		for _, l := range lines {
			if l.PriceAtTime < l.CostAtTime {
				return true
			}
		}
	}

	var revenue, cost float64
	for _, l := range lines {
		qty := float64(l.Quantity)
		revenue += l.PriceAtTime * qty
		cost += l.CostAtTime * qty
	}

	if s.OrderTotalMarginNegative && revenue-cost < 0 {
		return true
	}

	if s.MarginBelowPercent && revenue > 0 {
		marginPct := (revenue - cost) / revenue * 100
		if marginPct < s.MarginPercentThreshold {
			return true
		}
	}

	return false
}
