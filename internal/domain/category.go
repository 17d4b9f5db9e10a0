package domain

import "strings"

// IngredientCategory is the closed set of LCA food groups. Anything the
// classifier reports outside the set is treated as Other.
type IngredientCategory string

const (
	CategoryRedMeat        IngredientCategory = "RedMeat"
	CategoryPoultryEgg     IngredientCategory = "PoultryEgg"
	CategoryFishSeafood    IngredientCategory = "FishSeafood"
	CategoryDairy          IngredientCategory = "Dairy"
	CategoryCarbohydrate   IngredientCategory = "Carbohydrate"
	CategoryVegetableFruit IngredientCategory = "VegetableFruit"
	CategoryOther          IngredientCategory = "Other"
)

// Categories lists every category in a stable order.
var Categories = []IngredientCategory{
	CategoryRedMeat,
	CategoryPoultryEgg,
	CategoryFishSeafood,
	CategoryDairy,
	CategoryCarbohydrate,
	CategoryVegetableFruit,
	CategoryOther,
}

var categoryAliases = map[string]IngredientCategory{
	"redmeat":        CategoryRedMeat,
	"meat":           CategoryRedMeat,
	"beef":           CategoryRedMeat,
	"poultryegg":     CategoryPoultryEgg,
	"poultry":        CategoryPoultryEgg,
	"egg":            CategoryPoultryEgg,
	"chicken":        CategoryPoultryEgg,
	"fishseafood":    CategoryFishSeafood,
	"fish":           CategoryFishSeafood,
	"seafood":        CategoryFishSeafood,
	"dairy":          CategoryDairy,
	"milk":           CategoryDairy,
	"carbohydrate":   CategoryCarbohydrate,
	"carbs":          CategoryCarbohydrate,
	"grain":          CategoryCarbohydrate,
	"vegetablefruit": CategoryVegetableFruit,
	"vegetable":      CategoryVegetableFruit,
	"fruit":          CategoryVegetableFruit,
	"other":          CategoryOther,
}

// ParseCategory maps free-form category text onto the closed set.
func ParseCategory(s string) IngredientCategory {
	if c, ok := categoryAliases[squash(s)]; ok {
		return c
	}
	return CategoryOther
}

// Normalize returns c itself when it is a known category and Other otherwise.
func (c IngredientCategory) Normalize() IngredientCategory {
	return ParseCategory(string(c))
}

// Packaging affects the social score multiplier only.
type Packaging string

const (
	PackagingNoPlastic Packaging = "no_plastic"
	PackagingRecycled  Packaging = "recycled"
	PackagingPlastic   Packaging = "plastic"
	PackagingDefault   Packaging = "default"
)

// ParsePackaging accepts the donor form values ("no-plastic", "Recycled", ...).
func ParsePackaging(s string) Packaging {
	switch squash(s) {
	case "noplastic", "plasticfree", "none", "reusable":
		return PackagingNoPlastic
	case "recycled", "recyclable":
		return PackagingRecycled
	case "plastic":
		return PackagingPlastic
	default:
		return PackagingDefault
	}
}

func squash(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "_", "", "-", "", "&", "", "/", "").Replace(s)
}
