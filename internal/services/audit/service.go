// Package audit runs the food safety audit of a donation and attaches its
// impact score.
//
// The external classifier is called once per submission. There is no retry
// and no caching: when the call or its response fails, a conservative local
// verdict is returned instead so donors are never blocked by an outage.
package audit

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"foodrescue/internal/domain"
	"foodrescue/internal/impact"
	"foodrescue/internal/ports"
)

var ErrNoClassifier = errors.New("no classifier configured")

// ClassificationFailure wraps any reason the classifier verdict could not be
// used. It is logged and recovered from, never returned to callers.
type ClassificationFailure struct {
	Err error
}

func (e *ClassificationFailure) Error() string {
	return fmt.Sprintf("classification failure: %v", e.Err)
}

func (e *ClassificationFailure) Unwrap() error { return e.Err }

// Fallback verdict values.
const (
	FallbackQuality   = 80
	FallbackHygiene   = 80
	FallbackHalal     = 50
	FallbackShelfLife = "Consume within 24 hours"
)

var fallbackTips = []string{
	"Keep refrigerated below 5°C until handover",
	"Keep covered and away from raw food",
}

type Service struct {
	classifier ports.Classifier
	log        *zap.Logger
}

func New(classifier ports.Classifier, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{classifier: classifier, log: log}
}

// Audit classifies the donation and computes its impact. The error is non-nil
// only when ctx ends before the classifier answers; no partial result is
// returned in that case.
func (s *Service) Audit(ctx context.Context, image []byte, c domain.AuditContext) (domain.AuditResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.AuditResult{}, err
	}
	if s.classifier == nil {
		return s.fallback(c, &ClassificationFailure{Err: ErrNoClassifier}), nil
	}

	req := ports.ClassificationRequest{Prompt: BuildPrompt(c)}
	if len(image) > 0 {
		req.ImageBase64 = base64.StdEncoding.EncodeToString(image)
	}
	raw, err := s.classifier.Classify(ctx, req)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.AuditResult{}, ctxErr
	}
	if err != nil {
		return s.fallback(c, &ClassificationFailure{Err: err}), nil
	}
	v, err := ParseVerdict(raw)
	if err != nil {
		return s.fallback(c, &ClassificationFailure{Err: err}), nil
	}

	res := domain.AuditResult{
		IsSafe:              v.IsSafe,
		IsHalal:             v.IsHalal,
		HalalScore:          v.HalalScore,
		HygieneScore:        v.HygieneScore,
		QualityPercentage:   v.QualityPercentage,
		ShelfLifePrediction: v.ShelfLifePrediction,
		DetectedItems:       v.DetectedItems,
		DetectedCategory:    domain.CategoryOther,
		StorageTips:         v.StorageTips,
		Source:              domain.SourceClassifier,
	}
	if len(v.DetectedItems) > 0 {
		res.DetectedCategory = v.DetectedItems[0].Category
	}
	res.Impact = computeImpact(res.DetectedItems, c)
	s.log.Info("donation audited",
		zap.String("food", c.FoodName),
		zap.Bool("safe", res.IsSafe),
		zap.Int("quality", res.QualityPercentage),
		zap.Int("items", len(res.DetectedItems)),
		zap.Int("points", res.Impact.TotalPoints),
	)
	return res, nil
}

func (s *Service) fallback(c domain.AuditContext, cause *ClassificationFailure) domain.AuditResult {
	s.log.Warn("classifier unavailable, using fallback verdict",
		zap.String("food", c.FoodName),
		zap.Error(cause),
	)
	items := []domain.DetectedItem{{Name: c.FoodName, Category: domain.CategoryOther}}
	return domain.AuditResult{
		IsSafe:              true,
		IsHalal:             false,
		HalalScore:          FallbackHalal,
		HygieneScore:        FallbackHygiene,
		QualityPercentage:   FallbackQuality,
		ShelfLifePrediction: FallbackShelfLife,
		DetectedItems:       items,
		DetectedCategory:    domain.CategoryOther,
		StorageTips:         append([]string(nil), fallbackTips...),
		Impact:              computeImpact(items, c),
		Source:              domain.SourceFallback,
		Note:                domain.FallbackNote,
	}
}

func computeImpact(items []domain.DetectedItem, c domain.AuditContext) domain.ImpactResult {
	return impact.Compute(items, c.WeightGram, domain.ParsePackaging(c.PackagingType), c.QuantityCount)
}
