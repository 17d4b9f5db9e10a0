package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"foodrescue/internal/domain"
	"foodrescue/internal/validation"
)

// Verdict is a classifier response that passed schema validation.
type Verdict struct {
	IsSafe              bool
	IsHalal             bool
	HalalScore          int
	HygieneScore        int
	QualityPercentage   int
	ShelfLifePrediction string
	DetectedItems       []domain.DetectedItem
	StorageTips         []string
}

// SchemaError reports why a classifier response was refused.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return "classifier schema: " + e.Reason
	}
	return fmt.Sprintf("classifier schema: %s: %s", e.Field, e.Reason)
}

type wireItem struct {
	Name     string  `json:"name" validate:"required"`
	Category *string `json:"category" validate:"required"`
}

type wireVerdict struct {
	IsSafe              *bool      `json:"isSafe" validate:"required"`
	IsHalal             *bool      `json:"isHalal" validate:"required"`
	HalalScore          *float64   `json:"halalScore" validate:"required,min=0,max=100"`
	HygieneScore        *float64   `json:"hygieneScore" validate:"required,min=0,max=100"`
	QualityPercentage   *float64   `json:"qualityPercentage" validate:"required,min=0,max=100"`
	ShelfLifePrediction *string    `json:"shelfLifePrediction" validate:"required"`
	DetectedItems       []wireItem `json:"detectedItems" validate:"required,dive"`
	StorageTips         []string   `json:"storageTips"`
}

// ParseVerdict validates raw classifier output. Unknown fields, missing
// required fields, scores outside 0..100 and trailing data are all refused
// with a *SchemaError. A surrounding markdown code fence is tolerated.
// Fractional scores are truncated so a 69.9 quality never reaches 70.
func ParseVerdict(raw []byte) (Verdict, error) {
	body := stripFence(raw)
	if len(body) == 0 {
		return Verdict{}, &SchemaError{Reason: "empty response"}
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	var w wireVerdict
	if err := dec.Decode(&w); err != nil {
		return Verdict{}, &SchemaError{Reason: err.Error()}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Verdict{}, &SchemaError{Reason: "trailing data after verdict object"}
	}
	if err := validation.Struct(w); err != nil {
		return Verdict{}, schemaError(err)
	}

	v := Verdict{
		IsSafe:              *w.IsSafe,
		IsHalal:             *w.IsHalal,
		HalalScore:          int(math.Floor(*w.HalalScore)),
		HygieneScore:        int(math.Floor(*w.HygieneScore)),
		QualityPercentage:   int(math.Floor(*w.QualityPercentage)),
		ShelfLifePrediction: strings.TrimSpace(*w.ShelfLifePrediction),
		DetectedItems:       make([]domain.DetectedItem, 0, len(w.DetectedItems)),
		StorageTips:         make([]string, 0, len(w.StorageTips)),
	}
	for i, it := range w.DetectedItems {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			return Verdict{}, &SchemaError{Field: fmt.Sprintf("detectedItems[%d].name", i), Reason: "blank"}
		}
		v.DetectedItems = append(v.DetectedItems, domain.DetectedItem{
			Name:     name,
			Category: domain.ParseCategory(*it.Category),
		})
	}
	for _, tip := range w.StorageTips {
		if tip = strings.TrimSpace(tip); tip != "" {
			v.StorageTips = append(v.StorageTips, tip)
		}
	}
	return v, nil
}

func schemaError(err error) *SchemaError {
	fe, ok := validation.First(err)
	if !ok {
		return &SchemaError{Reason: err.Error()}
	}
	switch fe.Tag() {
	case "min", "max":
		return &SchemaError{Field: validation.Path(fe), Reason: fmt.Sprintf("%v outside 0..100", fe.Value())}
	default:
		return &SchemaError{Field: validation.Path(fe), Reason: fe.Tag()}
	}
}

func stripFence(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return []byte(strings.TrimSpace(s))
}
