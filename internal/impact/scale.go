package impact

import (
	"math"
	"slices"

	"foodrescue/internal/domain"
)

// Scale returns the share of r attributed to ratio of the stock. Batch totals
// are rounded with the same precision Compute uses; per-portion figures and
// breakdowns describe one portion and are carried over unchanged. The input is
// never modified.
func Scale(r domain.ImpactResult, ratio float64) domain.ImpactResult {
	if ratio < 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		ratio = 0
	}
	out := r
	out.CO2Breakdown = slices.Clone(r.CO2Breakdown)
	out.SocialBreakdown = slices.Clone(r.SocialBreakdown)

	out.TotalPoints = int(math.Round(float64(r.TotalPoints) * ratio))
	out.CO2Saved = round2(r.CO2Saved * ratio)
	out.WaterSaved = math.Round(r.WaterSaved * ratio)
	out.LandSaved = round1(r.LandSaved * ratio)
	out.WasteReduction = round2(r.WasteReduction * ratio)
	out.PortionCount = int(math.Round(float64(r.PortionCount) * ratio))
	out.Level = LevelFor(out.TotalPoints)
	return out
}

// Sum adds batch totals of several results, e.g. all completed claims of one
// receiver. Breakdowns and per-portion figures are left empty.
func Sum(rs ...domain.ImpactResult) domain.ImpactResult {
	var out domain.ImpactResult
	for _, r := range rs {
		out.TotalPoints += r.TotalPoints
		out.CO2Saved += r.CO2Saved
		out.WaterSaved += r.WaterSaved
		out.LandSaved += r.LandSaved
		out.WasteReduction += r.WasteReduction
		out.PortionCount += r.PortionCount
	}
	out.CO2Saved = round2(out.CO2Saved)
	out.LandSaved = round1(out.LandSaved)
	out.WasteReduction = round2(out.WasteReduction)
	out.Level = LevelFor(out.TotalPoints)
	return out
}
