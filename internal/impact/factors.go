package impact

import "foodrescue/internal/domain"

// Factor is the static LCA data for one ingredient category.
type Factor struct {
	// CO2 is kg CO2e avoided per kg of food rescued.
	CO2 float64
	// Social is the social-value weight per kg; points are Social × kg × 10.
	Social float64
	// Ratio is the typical share of a portion's weight this category takes.
	Ratio float64
}

var factors = map[domain.IngredientCategory]Factor{
	domain.CategoryRedMeat:        {CO2: 27.0, Social: 100, Ratio: 3},
	domain.CategoryPoultryEgg:     {CO2: 6.0, Social: 90, Ratio: 3},
	domain.CategoryFishSeafood:    {CO2: 5.4, Social: 85, Ratio: 3},
	domain.CategoryDairy:          {CO2: 3.2, Social: 60, Ratio: 2},
	domain.CategoryCarbohydrate:   {CO2: 2.7, Social: 50, Ratio: 4},
	domain.CategoryVegetableFruit: {CO2: 0.9, Social: 40, Ratio: 2},
	domain.CategoryOther:          {CO2: 1.5, Social: 30, Ratio: 1},
}

// FactorFor never fails: unknown categories get the Other row.
func FactorFor(c domain.IngredientCategory) Factor {
	if f, ok := factors[c]; ok {
		return f
	}
	return factors[domain.CategoryOther]
}

// PackagingMultiplier scales social points only.
func PackagingMultiplier(p domain.Packaging) float64 {
	switch p {
	case domain.PackagingNoPlastic:
		return 1.2
	case domain.PackagingRecycled:
		return 1.1
	case domain.PackagingPlastic:
		return 0.9
	default:
		return 1.0
	}
}

const (
	waterPerKgCO2 = 200
	landPerKgCO2  = 0.5
)

// Level thresholds on total points, highest first.
var levels = []struct {
	above int
	name  string
}{
	{500, "Expert"},
	{200, "Champion"},
	{50, "Contributor"},
}

// LevelFor derives the impact level from total points alone.
func LevelFor(points int) string {
	for _, l := range levels {
		if points > l.above {
			return l.name
		}
	}
	return "Starter"
}
