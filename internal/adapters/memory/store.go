// Package memory is an in-process implementation of the store and queue
// ports. A single mutex serialises every write, which gives the claim
// transaction the same all-or-nothing behaviour as the database adapters.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"foodrescue/internal/domain"
	"foodrescue/internal/ports"
)

type Store struct {
	mu        sync.RWMutex
	donations map[string]domain.Donation
	claims    map[string]domain.ClaimRecord
	now       func() time.Time
}

func NewStore() *Store {
	return &Store{
		donations: make(map[string]domain.Donation),
		claims:    make(map[string]domain.ClaimRecord),
		now:       time.Now,
	}
}

func (s *Store) GetInventory(ctx context.Context, filter ports.InventoryFilter) ([]domain.Donation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Donation, 0, len(s.donations))
	for _, d := range s.donations {
		if filter.ProviderID != "" && d.ProviderID != filter.ProviderID {
			continue
		}
		if filter.OnlyClaimable && !d.Claimable() {
			continue
		}
		out = append(out, cloneDonation(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetDonation(ctx context.Context, id string) (domain.Donation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.donations[id]
	if !ok {
		return domain.Donation{}, ports.ErrNotFound
	}
	return cloneDonation(d), nil
}

func (s *Store) PublishDonation(ctx context.Context, d domain.Donation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.donations[d.ID] = cloneDonation(d)
	return nil
}

func (s *Store) GetClaims(ctx context.Context, filter ports.ClaimFilter) ([]domain.ClaimRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ClaimRecord, 0)
	for _, c := range s.claims {
		if filter.DonationID != "" && c.DonationID != filter.DonationID {
			continue
		}
		if filter.RequesterID != "" && c.RequesterID != filter.RequesterID {
			continue
		}
		if filter.ProviderID != "" && c.ProviderID != filter.ProviderID {
			continue
		}
		if filter.Code != "" && c.UniqueCode != filter.Code {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		out = append(out, cloneClaim(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetClaim(ctx context.Context, id string) (domain.ClaimRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.claims[id]
	if !ok {
		return domain.ClaimRecord{}, ports.ErrNotFound
	}
	return cloneClaim(c), nil
}

func (s *Store) ProcessClaimTransaction(ctx context.Context, donationID string, quantity int, claim domain.ClaimRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.donations[donationID]
	if !ok {
		return ports.ErrNotFound
	}
	if err := s.activeConflict(claim); err != nil {
		return err
	}
	if quantity < 1 || d.Status != domain.DonationAvailable || d.CurrentQuantity < quantity {
		return ports.ErrInsufficientStock
	}
	d.CurrentQuantity -= quantity
	if d.CurrentQuantity == 0 {
		d.Status = domain.DonationOutOfStock
	}
	d.UpdatedAt = s.now().UTC()
	s.donations[donationID] = d
	s.claims[claim.ID] = cloneClaim(claim)
	return nil
}

// activeConflict reports an active claim that would collide with claim.
// Callers hold s.mu.
func (s *Store) activeConflict(claim domain.ClaimRecord) error {
	for _, c := range s.claims {
		if c.Status != domain.ClaimActive {
			continue
		}
		if c.RequesterID == claim.RequesterID && c.ProviderID == claim.ProviderID && c.FoodName == claim.FoodName {
			return ports.ErrDuplicateClaim
		}
		if c.UniqueCode == claim.UniqueCode {
			return ports.ErrCodeTaken
		}
	}
	return nil
}

func (s *Store) UpdateClaimStatus(ctx context.Context, claimID string, status domain.ClaimStatus, extra ports.ClaimUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[claimID]
	if !ok {
		return ports.ErrNotFound
	}
	if extra.From != "" && c.Status != extra.From {
		return ports.ErrStaleStatus
	}
	if extra.FromCourier != nil && c.CourierStatus != *extra.FromCourier {
		return ports.ErrStaleStatus
	}
	c.Status = status
	if extra.CourierID != "" {
		c.CourierID = extra.CourierID
	}
	if extra.CourierStatus != nil {
		c.CourierStatus = *extra.CourierStatus
	}
	at := extra.At
	if at.IsZero() {
		at = s.now().UTC()
	}
	switch status {
	case domain.ClaimCompleted:
		c.CompletedAt = &at
	case domain.ClaimCancelled:
		c.CancelledAt = &at
	}
	s.claims[claimID] = c
	return nil
}

func cloneImpact(r domain.ImpactResult) domain.ImpactResult {
	r.CO2Breakdown = slices.Clone(r.CO2Breakdown)
	r.SocialBreakdown = slices.Clone(r.SocialBreakdown)
	return r
}

func cloneDonation(d domain.Donation) domain.Donation {
	d.DeliveryMethods = slices.Clone(d.DeliveryMethods)
	d.Audit.StorageTips = slices.Clone(d.Audit.StorageTips)
	d.Impact = cloneImpact(d.Impact)
	return d
}

func cloneClaim(c domain.ClaimRecord) domain.ClaimRecord {
	c.ProportionalImpact = cloneImpact(c.ProportionalImpact)
	return c
}
