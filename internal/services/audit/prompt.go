package audit

import (
	"fmt"
	"strings"
	"time"

	"foodrescue/internal/domain"
)

const schemaInstructions = `Respond with a single JSON object and nothing else, using exactly these fields:
{
  "isSafe": boolean,
  "isHalal": boolean,
  "halalScore": number 0-100,
  "hygieneScore": number 0-100,
  "qualityPercentage": number 0-100,
  "detectedItems": [{"name": string, "category": one of %s}],
  "shelfLifePrediction": string,
  "storageTips": [string]
}`

// BuildPrompt renders the donor's declaration into the classifier prompt.
func BuildPrompt(c domain.AuditContext) string {
	cats := make([]string, 0, len(domain.Categories))
	for _, cat := range domain.Categories {
		cats = append(cats, string(cat))
	}

	var b strings.Builder
	b.WriteString("You are a food safety auditor for a surplus food donation platform. ")
	b.WriteString("Inspect the photo (if any) and the declaration below, judge whether the food is safe to redistribute, ")
	b.WriteString("whether it is halal, how hygienic and fresh it looks, list every visible ingredient with its food group, ")
	b.WriteString("estimate the remaining shelf life and give short storage tips.\n\n")
	b.WriteString("Declaration:\n")
	fmt.Fprintf(&b, "- Food name: %s\n", c.FoodName)
	fmt.Fprintf(&b, "- Ingredients: %s\n", orUnknown(c.Ingredients))
	fmt.Fprintf(&b, "- Made at: %s\n", formatTime(c.MadeTime))
	fmt.Fprintf(&b, "- Stored in: %s\n", orUnknown(c.StorageLocation))
	fmt.Fprintf(&b, "- Total weight: %g g\n", c.WeightGram)
	fmt.Fprintf(&b, "- Packaging: %s\n", orUnknown(c.PackagingType))
	fmt.Fprintf(&b, "- Distribution starts: %s\n", formatTime(c.DistributionStart))
	fmt.Fprintf(&b, "- Portions: %d\n\n", c.QuantityCount)
	fmt.Fprintf(&b, schemaInstructions, strings.Join(cats, ", "))
	return b.String()
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format(time.RFC3339)
}
