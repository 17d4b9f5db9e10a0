// Package storetest holds the behaviour every ports.InventoryStore adapter
// must share. Adapter packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"foodrescue/internal/domain"
	"foodrescue/internal/impact"
	"foodrescue/internal/ports"
)

// Factory returns an empty store. Cleanup is the caller's concern.
type Factory func(t *testing.T) ports.InventoryStore

func Run(t *testing.T, newStore Factory) {
	t.Run("PublishAndRead", func(t *testing.T) { testPublishAndRead(t, newStore(t)) })
	t.Run("ClaimDecrementsStock", func(t *testing.T) { testClaimDecrements(t, newStore(t)) })
	t.Run("ClaimBeyondStockAppliesNothing", func(t *testing.T) { testClaimBeyondStock(t, newStore(t)) })
	t.Run("ConcurrentClaimsOnLastUnit", func(t *testing.T) { testConcurrentLastUnit(t, newStore(t)) })
	t.Run("ConcurrentClaimsNeverOversell", func(t *testing.T) { testNeverOversell(t, newStore(t)) })
	t.Run("UpdateClaimStatus", func(t *testing.T) { testUpdateClaimStatus(t, newStore(t)) })
	t.Run("ClaimFilters", func(t *testing.T) { testClaimFilters(t, newStore(t)) })
	t.Run("DuplicateActiveClaim", func(t *testing.T) { testDuplicateActiveClaim(t, newStore(t)) })
	t.Run("ConcurrentDuplicateClaims", func(t *testing.T) { testConcurrentDuplicate(t, newStore(t)) })
	t.Run("CodeHeldByActiveClaim", func(t *testing.T) { testCodeTaken(t, newStore(t)) })
}

// Donation builds a publishable donation with qty units.
func Donation(qty int) domain.Donation {
	now := time.Now().UTC().Truncate(time.Millisecond)
	items := []domain.DetectedItem{{Name: "Nasi", Category: domain.CategoryCarbohydrate}, {Name: "Ayam", Category: domain.CategoryPoultryEgg}}
	return domain.Donation{
		ID:                uuid.NewString(),
		ProviderID:        "provider-" + uuid.NewString()[:8],
		FoodName:          "Nasi ayam",
		InitialQuantity:   qty,
		CurrentQuantity:   qty,
		WeightGram:        float64(qty) * 350,
		Packaging:         domain.PackagingRecycled,
		DeliveryMethods:   []domain.DeliveryMethod{domain.DeliveryPickup, domain.DeliveryCourier},
		DistributionStart: now,
		Status:            domain.DonationAvailable,
		Audit:             domain.AuditSummary{QualityPercentage: 90, HygieneScore: 85, DetectedCategory: domain.CategoryCarbohydrate, Source: domain.SourceClassifier, StorageTips: []string{"Keep cold"}},
		Impact:            impact.Compute(items, float64(qty)*350, domain.PackagingRecycled, qty),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

var codeSeq atomic.Uint32

// Claim builds an active claim record against d with a code no other Claim
// call in this process has handed out.
func Claim(d domain.Donation, requester string, qty int) domain.ClaimRecord {
	return domain.ClaimRecord{
		ID:                 uuid.NewString(),
		DonationID:         d.ID,
		ProviderID:         d.ProviderID,
		FoodName:           d.FoodName,
		RequesterID:        requester,
		ClaimedQuantity:    qty,
		ProportionalImpact: impact.Scale(d.Impact, float64(qty)/float64(d.InitialQuantity)),
		UniqueCode:         fmt.Sprintf("FAR-%04d", 1000+codeSeq.Add(1)%9000),
		Status:             domain.ClaimActive,
		DeliveryMethod:     domain.DeliveryPickup,
		CreatedAt:          time.Now().UTC().Truncate(time.Millisecond),
	}
}

func testPublishAndRead(t *testing.T, s ports.InventoryStore) {
	ctx := context.Background()
	d := Donation(4)
	require.NoError(t, s.PublishDonation(ctx, d))

	got, err := s.GetDonation(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, 4, got.CurrentQuantity)
	assert.Equal(t, d.Impact.TotalPoints, got.Impact.TotalPoints)
	assert.Equal(t, d.Impact.CO2Breakdown, got.Impact.CO2Breakdown)
	assert.Equal(t, d.DeliveryMethods, got.DeliveryMethods)

	_, err = s.GetDonation(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ports.ErrNotFound)

	list, err := s.GetInventory(ctx, ports.InventoryFilter{ProviderID: d.ProviderID})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func testClaimDecrements(t *testing.T, s ports.InventoryStore) {
	ctx := context.Background()
	d := Donation(3)
	require.NoError(t, s.PublishDonation(ctx, d))

	require.NoError(t, s.ProcessClaimTransaction(ctx, d.ID, 2, Claim(d, "r1", 2)))
	got, err := s.GetDonation(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentQuantity)
	assert.Equal(t, domain.DonationAvailable, got.Status)

	require.NoError(t, s.ProcessClaimTransaction(ctx, d.ID, 1, Claim(d, "r2", 1)))
	got, err = s.GetDonation(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentQuantity)
	assert.Equal(t, domain.DonationOutOfStock, got.Status)
	assert.False(t, got.Claimable())

	claimable, err := s.GetInventory(ctx, ports.InventoryFilter{ProviderID: d.ProviderID, OnlyClaimable: true})
	require.NoError(t, err)
	assert.Empty(t, claimable)
}

func testClaimBeyondStock(t *testing.T, s ports.InventoryStore) {
	ctx := context.Background()
	d := Donation(2)
	require.NoError(t, s.PublishDonation(ctx, d))

	rec := Claim(d, "r1", 3)
	err := s.ProcessClaimTransaction(ctx, d.ID, 3, rec)
	assert.ErrorIs(t, err, ports.ErrInsufficientStock)

	got, err := s.GetDonation(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentQuantity)
	_, err = s.GetClaim(ctx, rec.ID)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func testConcurrentLastUnit(t *testing.T, s ports.InventoryStore) {
	ctx := context.Background()
	d := Donation(1)
	require.NoError(t, s.PublishDonation(ctx, d))

	var ok, rejected atomic.Int32
	var g errgroup.Group
	for _, requester := range []string{"alice", "bob"} {
		rec := Claim(d, requester, 1)
		g.Go(func() error {
			err := s.ProcessClaimTransaction(ctx, d.ID, 1, rec)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ports.ErrInsufficientStock):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, 1, rejected.Load())
	claims, err := s.GetClaims(ctx, ports.ClaimFilter{DonationID: d.ID})
	require.NoError(t, err)
	assert.Len(t, claims, 1)
}

func testNeverOversell(t *testing.T, s ports.InventoryStore) {
	ctx := context.Background()
	const stock = 10
	d := Donation(stock)
	require.NoError(t, s.PublishDonation(ctx, d))

	var g errgroup.Group
	for i := 0; i < 25; i++ {
		rec := Claim(d, fmt.Sprintf("r%02d", i), 1+i%3)
		g.Go(func() error {
			err := s.ProcessClaimTransaction(ctx, d.ID, rec.ClaimedQuantity, rec)
			if err != nil && !errors.Is(err, ports.ErrInsufficientStock) {
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	claims, err := s.GetClaims(ctx, ports.ClaimFilter{DonationID: d.ID})
	require.NoError(t, err)
	claimed := 0
	for _, c := range claims {
		claimed += c.ClaimedQuantity
	}
	got, err := s.GetDonation(ctx, d.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, claimed, stock)
	assert.Equal(t, stock-claimed, got.CurrentQuantity)
	assert.GreaterOrEqual(t, got.CurrentQuantity, 0)
}

func testUpdateClaimStatus(t *testing.T, s ports.InventoryStore) {
	ctx := context.Background()
	d := Donation(2)
	require.NoError(t, s.PublishDonation(ctx, d))
	rec := Claim(d, "r1", 1)
	rec.DeliveryMethod = domain.DeliveryCourier
	require.NoError(t, s.ProcessClaimTransaction(ctx, d.ID, 1, rec))

	picking := domain.CourierPickingUp
	none := domain.CourierNone
	require.NoError(t, s.UpdateClaimStatus(ctx, rec.ID, domain.ClaimActive, ports.ClaimUpdate{
		From: domain.ClaimActive, FromCourier: &none, CourierID: "courier-1", CourierStatus: &picking,
	}))
	got, err := s.GetClaim(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CourierPickingUp, got.CourierStatus)
	assert.Equal(t, "courier-1", got.CourierID)

	// a second courier observed the old state
	err = s.UpdateClaimStatus(ctx, rec.ID, domain.ClaimActive, ports.ClaimUpdate{
		From: domain.ClaimActive, FromCourier: &none, CourierID: "courier-2", CourierStatus: &picking,
	})
	assert.ErrorIs(t, err, ports.ErrStaleStatus)

	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.UpdateClaimStatus(ctx, rec.ID, domain.ClaimCancelled, ports.ClaimUpdate{From: domain.ClaimActive, At: at}))
	got, err = s.GetClaim(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimCancelled, got.Status)
	require.NotNil(t, got.CancelledAt)
	assert.True(t, at.Equal(*got.CancelledAt))

	err = s.UpdateClaimStatus(ctx, rec.ID, domain.ClaimCompleted, ports.ClaimUpdate{From: domain.ClaimActive})
	assert.ErrorIs(t, err, ports.ErrStaleStatus)

	err = s.UpdateClaimStatus(ctx, uuid.NewString(), domain.ClaimCompleted, ports.ClaimUpdate{})
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func testClaimFilters(t *testing.T, s ports.InventoryStore) {
	ctx := context.Background()
	d := Donation(5)
	require.NoError(t, s.PublishDonation(ctx, d))
	a := Claim(d, "alice", 1)
	a.UniqueCode = "FAR-1111"
	b := Claim(d, "bob", 1)
	b.UniqueCode = "FAR-2222"
	require.NoError(t, s.ProcessClaimTransaction(ctx, d.ID, 1, a))
	require.NoError(t, s.ProcessClaimTransaction(ctx, d.ID, 1, b))

	got, err := s.GetClaims(ctx, ports.ClaimFilter{RequesterID: "alice", Status: domain.ClaimActive})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Equal(t, a.ProportionalImpact.TotalPoints, got[0].ProportionalImpact.TotalPoints)

	got, err = s.GetClaims(ctx, ports.ClaimFilter{Code: "FAR-2222", Status: domain.ClaimActive})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].ID)

	got, err = s.GetClaims(ctx, ports.ClaimFilter{DonationID: d.ID, Status: domain.ClaimCompleted})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testDuplicateActiveClaim(t *testing.T, s ports.InventoryStore) {
	ctx := context.Background()
	d := Donation(5)
	twin := Donation(5)
	twin.ProviderID = d.ProviderID
	require.NoError(t, s.PublishDonation(ctx, d))
	require.NoError(t, s.PublishDonation(ctx, twin))

	first := Claim(d, "alice", 1)
	require.NoError(t, s.ProcessClaimTransaction(ctx, d.ID, 1, first))

	again := Claim(d, "alice", 1)
	assert.ErrorIs(t, s.ProcessClaimTransaction(ctx, d.ID, 1, again), ports.ErrDuplicateClaim)
	// same provider and food under another listing
	assert.ErrorIs(t, s.ProcessClaimTransaction(ctx, twin.ID, 1, Claim(twin, "alice", 1)), ports.ErrDuplicateClaim)

	got, err := s.GetDonation(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.CurrentQuantity)
	got, err = s.GetDonation(ctx, twin.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.CurrentQuantity)
	_, err = s.GetClaim(ctx, again.ID)
	assert.ErrorIs(t, err, ports.ErrNotFound)

	require.NoError(t, s.UpdateClaimStatus(ctx, first.ID, domain.ClaimCompleted, ports.ClaimUpdate{From: domain.ClaimActive}))
	assert.NoError(t, s.ProcessClaimTransaction(ctx, d.ID, 1, Claim(d, "alice", 1)))
}

func testConcurrentDuplicate(t *testing.T, s ports.InventoryStore) {
	ctx := context.Background()
	d := Donation(5)
	require.NoError(t, s.PublishDonation(ctx, d))

	var ok, dup atomic.Int32
	var g errgroup.Group
	for range 4 {
		rec := Claim(d, "alice", 1)
		g.Go(func() error {
			err := s.ProcessClaimTransaction(ctx, d.ID, 1, rec)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ports.ErrDuplicateClaim):
				dup.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, 3, dup.Load())
	active, err := s.GetClaims(ctx, ports.ClaimFilter{RequesterID: "alice", Status: domain.ClaimActive})
	require.NoError(t, err)
	assert.Len(t, active, 1)
	got, err := s.GetDonation(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.CurrentQuantity)
}

func testCodeTaken(t *testing.T, s ports.InventoryStore) {
	ctx := context.Background()
	d := Donation(5)
	require.NoError(t, s.PublishDonation(ctx, d))

	a := Claim(d, "alice", 1)
	require.NoError(t, s.ProcessClaimTransaction(ctx, d.ID, 1, a))

	b := Claim(d, "bob", 1)
	b.UniqueCode = a.UniqueCode
	assert.ErrorIs(t, s.ProcessClaimTransaction(ctx, d.ID, 1, b), ports.ErrCodeTaken)
	got, err := s.GetDonation(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.CurrentQuantity)

	require.NoError(t, s.UpdateClaimStatus(ctx, a.ID, domain.ClaimCancelled, ports.ClaimUpdate{From: domain.ClaimActive}))
	assert.NoError(t, s.ProcessClaimTransaction(ctx, d.ID, 1, b))
}
