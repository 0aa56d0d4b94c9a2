package risk

import "math"

// PlannedRisk is the loss in quote currency if the stop is hit.
func PlannedRisk(qty, entry, stop float64) float64 {
	return qty * math.Abs(entry-stop)
}

func RiskPct(plannedRisk, equity float64) float64 {
	if equity <= 0 {
		return math.Inf(1)
	}
	return plannedRisk / equity
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
