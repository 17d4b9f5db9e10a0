// Package impact converts detected ingredients into an environmental and
// social impact score using fixed life-cycle-assessment factors.
//
// Every function here is pure and deterministic. The rounding order is part of
// the contract: stored scores are compared field-for-field, so changing where
// a value is rounded changes historical results.
package impact

import (
	"math"

	"foodrescue/internal/domain"
)

// Compute builds the per-portion and batch impact of a donation.
func Compute(items []domain.DetectedItem, totalWeightGram float64, packaging domain.Packaging, portionCount int) domain.ImpactResult {
	if portionCount < 1 {
		portionCount = 1
	}
	if totalWeightGram < 0 {
		totalWeightGram = 0
	}
	totalKg := totalWeightGram / 1000
	perPortionKg := totalKg / float64(portionCount)

	var totalRatio float64
	for _, it := range items {
		totalRatio += FactorFor(it.Category.Normalize()).Ratio
	}

	res := domain.ImpactResult{
		PortionCount:    portionCount,
		CO2Breakdown:    make([]domain.ImpactBreakdownItem, 0, len(items)),
		SocialBreakdown: make([]domain.ImpactBreakdownItem, 0, len(items)),
	}

	var co2PerPortion float64
	var rawPoints float64
	for _, it := range items {
		cat := it.Category.Normalize()
		f := FactorFor(cat)
		weight := round3(f.Ratio / totalRatio * perPortionKg)

		co2 := round2(weight * f.CO2)
		co2PerPortion += co2
		res.CO2Breakdown = append(res.CO2Breakdown, domain.ImpactBreakdownItem{
			Name: it.Name, Category: cat, WeightKg: weight, Factor: f.CO2, Result: co2,
		})

		pts := math.Round(weight * f.Social * 10)
		rawPoints += pts
		res.SocialBreakdown = append(res.SocialBreakdown, domain.ImpactBreakdownItem{
			Name: it.Name, Category: cat, WeightKg: weight, Factor: f.Social, Result: pts,
		})
	}

	res.CO2PerPortion = round2(co2PerPortion)
	res.PointsPerPortion = int(math.Round(rawPoints * PackagingMultiplier(packaging)))

	res.TotalPoints = res.PointsPerPortion * portionCount
	res.CO2Saved = round2(res.CO2PerPortion * float64(portionCount))
	res.WaterSaved = math.Round(res.CO2Saved * waterPerKgCO2)
	res.LandSaved = round1(res.CO2Saved * landPerKgCO2)
	res.WasteReduction = round2(totalKg)
	res.Level = LevelFor(res.TotalPoints)
	return res
}

func round1(f float64) float64 { return math.Round(f*10) / 10 }
func round2(f float64) float64 { return math.Round(f*100) / 100 }
func round3(f float64) float64 { return math.Round(f*1000) / 1000 }
