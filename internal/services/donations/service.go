package donations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"foodrescue/internal/domain"
	"foodrescue/internal/ports"
)

var ErrAuditRejected = errors.New("donation rejected by audit")

type Service struct {
	store ports.InventoryStore
	log   *zap.Logger
	now   func() time.Time
}

func New(store ports.InventoryStore, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, log: log, now: time.Now}
}

// Publish lists the submission as an available donation. Unsafe food and
// anything below domain.MinPublishQuality never reaches the store.
func (s *Service) Publish(ctx context.Context, sub ports.Submission, audit domain.AuditResult) (domain.Donation, error) {
	if !audit.Publishable() {
		if !audit.IsSafe {
			return domain.Donation{}, fmt.Errorf("%w: marked unsafe", ErrAuditRejected)
		}
		return domain.Donation{}, fmt.Errorf("%w: quality %d%% below %d%%", ErrAuditRejected, audit.QualityPercentage, domain.MinPublishQuality)
	}
	if strings.TrimSpace(sub.ProviderID) == "" {
		return domain.Donation{}, errors.New("provider id is required")
	}

	qty := sub.Context.QuantityCount
	if qty < 1 {
		qty = 1
	}
	methods := sub.DeliveryMethods
	if len(methods) == 0 {
		methods = []domain.DeliveryMethod{domain.DeliveryPickup}
	}
	now := s.now().UTC()
	d := domain.Donation{
		ID:                uuid.NewString(),
		ProviderID:        sub.ProviderID,
		FoodName:          sub.Context.FoodName,
		Description:       sub.Description,
		InitialQuantity:   qty,
		CurrentQuantity:   qty,
		WeightGram:        sub.Context.WeightGram,
		Packaging:         domain.ParsePackaging(sub.Context.PackagingType),
		DeliveryMethods:   methods,
		DistributionStart: sub.Context.DistributionStart,
		DistributionEnd:   sub.DistributionEnd,
		Status:            domain.DonationAvailable,
		Audit: domain.AuditSummary{
			IsHalal:             audit.IsHalal,
			HalalScore:          audit.HalalScore,
			HygieneScore:        audit.HygieneScore,
			QualityPercentage:   audit.QualityPercentage,
			ShelfLifePrediction: audit.ShelfLifePrediction,
			DetectedCategory:    audit.DetectedCategory,
			StorageTips:         audit.StorageTips,
			Source:              audit.Source,
		},
		Impact:    audit.Impact,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.PublishDonation(ctx, d); err != nil {
		return domain.Donation{}, fmt.Errorf("publish donation: %w", err)
	}
	s.log.Info("donation published",
		zap.String("donation_id", d.ID),
		zap.String("provider_id", d.ProviderID),
		zap.Int("quantity", d.InitialQuantity),
		zap.Int("points", d.Impact.TotalPoints),
	)
	return d, nil
}

func (s *Service) List(ctx context.Context, filter ports.InventoryFilter) ([]domain.Donation, error) {
	return s.store.GetInventory(ctx, filter)
}

func (s *Service) Get(ctx context.Context, id string) (domain.Donation, error) {
	return s.store.GetDonation(ctx, id)
}
