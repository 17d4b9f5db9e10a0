package claims_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"foodrescue/internal/adapters/memory"
	"foodrescue/internal/adapters/storetest"
	"foodrescue/internal/domain"
	"foodrescue/internal/impact"
	"foodrescue/internal/ports"
	"foodrescue/internal/services/claims"
)

func setup(t *testing.T, qty int, opts claims.Options) (*claims.Service, *memory.Store, domain.Donation) {
	t.Helper()
	store := memory.NewStore()
	d := storetest.Donation(qty)
	require.NoError(t, store.PublishDonation(context.Background(), d))
	return claims.New(store, zap.NewNop(), opts), store, d
}

func TestClaim_ProportionalImpact(t *testing.T) {
	svc, store, d := setup(t, 10, claims.Options{})
	d.Impact = domain.ImpactResult{TotalPoints: 1000, CO2Saved: 20, WaterSaved: 4000, LandSaved: 10, WasteReduction: 3.5, PortionCount: 10, Level: "Expert"}
	require.NoError(t, store.PublishDonation(context.Background(), d))

	rec, err := svc.Claim(context.Background(), ports.ClaimRequest{DonationID: d.ID, RequesterID: "alice", Quantity: 3})
	require.NoError(t, err)

	assert.Equal(t, 300, rec.ProportionalImpact.TotalPoints)
	assert.Equal(t, 6.0, rec.ProportionalImpact.CO2Saved)
	assert.Equal(t, 3, rec.ClaimedQuantity)
	assert.Equal(t, domain.ClaimActive, rec.Status)
	assert.Equal(t, domain.DeliveryPickup, rec.DeliveryMethod)
	assert.Regexp(t, `^FAR-\d{4}$`, rec.UniqueCode)

	after, err := store.GetDonation(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, after.CurrentQuantity)
	assert.Equal(t, 1000, after.Impact.TotalPoints, "donation impact is never rescaled")

	stored, err := store.GetClaim(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ProportionalImpact, stored.ProportionalImpact)
}

func TestClaim_FullQuantityConservesImpact(t *testing.T) {
	svc, _, d := setup(t, 6, claims.Options{})

	rec, err := svc.Claim(context.Background(), ports.ClaimRequest{DonationID: d.ID, RequesterID: "alice", Quantity: 6})
	require.NoError(t, err)

	assert.Equal(t, d.Impact, rec.ProportionalImpact)
}

func TestClaim_ProportionalityWithinRounding(t *testing.T) {
	for k := 1; k <= 7; k++ {
		svc, _, d := setup(t, 7, claims.Options{})
		rec, err := svc.Claim(context.Background(), ports.ClaimRequest{DonationID: d.ID, RequesterID: "alice", Quantity: k})
		require.NoError(t, err)
		want := float64(d.Impact.TotalPoints) * float64(k) / 7
		assert.InDelta(t, want, float64(rec.ProportionalImpact.TotalPoints), 1, "k=%d", k)
	}
}

func TestClaim_DuplicateActiveClaim(t *testing.T) {
	svc, store, d := setup(t, 5, claims.Options{})
	ctx := context.Background()

	_, err := svc.Claim(ctx, ports.ClaimRequest{DonationID: d.ID, RequesterID: "alice", Quantity: 1})
	require.NoError(t, err)

	_, err = svc.Claim(ctx, ports.ClaimRequest{DonationID: d.ID, RequesterID: "alice", Quantity: 1})
	assert.ErrorIs(t, err, claims.ErrDuplicateActiveClaim)

	// same provider and food name under a new listing still counts
	relisted := storetest.Donation(5)
	relisted.ProviderID, relisted.FoodName = d.ProviderID, d.FoodName
	require.NoError(t, store.PublishDonation(ctx, relisted))
	_, err = svc.Claim(ctx, ports.ClaimRequest{DonationID: relisted.ID, RequesterID: "alice", Quantity: 1})
	assert.ErrorIs(t, err, claims.ErrDuplicateActiveClaim)

	_, err = svc.Claim(ctx, ports.ClaimRequest{DonationID: d.ID, RequesterID: "bob", Quantity: 1})
	assert.NoError(t, err)
}

func TestClaim_DuplicateCheckedBeforeStock(t *testing.T) {
	svc, _, d := setup(t, 1, claims.Options{})
	ctx := context.Background()
	_, err := svc.Claim(ctx, ports.ClaimRequest{DonationID: d.ID, RequesterID: "alice", Quantity: 1})
	require.NoError(t, err)

	_, err = svc.Claim(ctx, ports.ClaimRequest{DonationID: d.ID, RequesterID: "alice", Quantity: 0})
	assert.ErrorIs(t, err, claims.ErrDuplicateActiveClaim)
}

func TestClaim_CompletedClaimAllowsNewOne(t *testing.T) {
	svc, _, d := setup(t, 5, claims.Options{})
	ctx := context.Background()
	first, err := svc.Claim(ctx, ports.ClaimRequest{DonationID: d.ID, RequesterID: "alice", Quantity: 1})
	require.NoError(t, err)
	_, err = svc.Verify(ctx, first.ID, first.UniqueCode)
	require.NoError(t, err)

	_, err = svc.Claim(ctx, ports.ClaimRequest{DonationID: d.ID, RequesterID: "alice", Quantity: 1})
	assert.NoError(t, err)
}

func TestClaim_QuantityCoercedToOne(t *testing.T) {
	svc, _, d := setup(t, 5, claims.Options{})

	rec, err := svc.Claim(context.Background(), ports.ClaimRequest{DonationID: d.ID, RequesterID: "alice", Quantity: -4})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ClaimedQuantity)
}

func TestClaim_StrictQuantity(t *testing.T) {
	svc, _, d := setup(t, 5, claims.Options{StrictQuantity: true})

	_, err := svc.Claim(context.Background(), ports.ClaimRequest{DonationID: d.ID, RequesterID: "alice", Quantity: 0})
	assert.ErrorIs(t, err, claims.ErrInvalidQuantity)
}

func TestClaim_InsufficientStock(t *testing.T) {
	svc, _, d := setup(t, 2, claims.Options{})
	ctx := context.Background()

	_, err := svc.Claim(ctx, ports.ClaimRequest{DonationID: d.ID, RequesterID: "alice", Quantity: 3})
	assert.ErrorIs(t, err, ports.ErrInsufficientStock)

	_, err = svc.Claim(ctx, ports.ClaimRequest{DonationID: d.ID, RequesterID: "bob", Quantity: 2})
	require.NoError(t, err)
	_, err = svc.Claim(ctx, ports.ClaimRequest{DonationID: d.ID, RequesterID: "carol", Quantity: 1})
	assert.ErrorIs(t, err, ports.ErrInsufficientStock)
}

func TestClaim_UnknownDonationAndRequester(t *testing.T) {
	svc, _, d := setup(t, 2, claims.Options{})
	ctx := context.Background()

	_, err := svc.Claim(ctx, ports.ClaimRequest{DonationID: "missing", RequesterID: "alice", Quantity: 1})
	assert.ErrorIs(t, err, ports.ErrNotFound)

	_, err = svc.Claim(ctx, ports.ClaimRequest{DonationID: d.ID, Quantity: 1})
	assert.ErrorIs(t, err, claims.ErrMissingRequester)
}

func TestClaim_ConcurrentLastUnit(t *testing.T) {
	svc, store, d := setup(t, 1, claims.Options{})
	ctx := context.Background()

	var ok, rejected atomic.Int32
	var g errgroup.Group
	for _, who := range []string{"alice", "bob"} {
		g.Go(func() error {
			_, err := svc.Claim(ctx, ports.ClaimRequest{DonationID: d.ID, RequesterID: who, Quantity: 1})
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
	recs, err := store.GetClaims(ctx, ports.ClaimFilter{DonationID: d.ID})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

// slowStore widens the window between the service's reads and the claim
// transaction.
type slowStore struct {
	*memory.Store
	delay time.Duration
}

func (s slowStore) ProcessClaimTransaction(ctx context.Context, donationID string, qty int, c domain.ClaimRecord) error {
	time.Sleep(s.delay)
	return s.Store.ProcessClaimTransaction(ctx, donationID, qty, c)
}

func TestClaim_ConcurrentSameRequester(t *testing.T) {
	store := memory.NewStore()
	d := storetest.Donation(5)
	ctx := context.Background()
	require.NoError(t, store.PublishDonation(ctx, d))
	svc := claims.New(slowStore{Store: store, delay: 5 * time.Millisecond}, zap.NewNop(), claims.Options{})

	var ok, dup atomic.Int32
	var g errgroup.Group
	for range 2 {
		g.Go(func() error {
			_, err := svc.Claim(ctx, ports.ClaimRequest{DonationID: d.ID, RequesterID: "alice", Quantity: 1})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, claims.ErrDuplicateActiveClaim):
				dup.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, 1, dup.Load())
	active, err := store.GetClaims(ctx, ports.ClaimFilter{RequesterID: "alice", Status: domain.ClaimActive})
	require.NoError(t, err)
	assert.Len(t, active, 1)
	after, err := store.GetDonation(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, after.CurrentQuantity)
}

// rivalStore lets another requester take the drawn code just before the
// first claim transaction commits.
type rivalStore struct {
	*memory.Store
	d    domain.Donation
	done bool
}

func (s *rivalStore) ProcessClaimTransaction(ctx context.Context, donationID string, qty int, c domain.ClaimRecord) error {
	if !s.done {
		s.done = true
		rival := storetest.Claim(s.d, "rival", 1)
		rival.UniqueCode = c.UniqueCode
		if err := s.Store.ProcessClaimTransaction(ctx, donationID, 1, rival); err != nil {
			return err
		}
	}
	return s.Store.ProcessClaimTransaction(ctx, donationID, qty, c)
}

func TestClaim_CodeTakenAtCommitIsRedrawn(t *testing.T) {
	store := memory.NewStore()
	d := storetest.Donation(5)
	ctx := context.Background()
	require.NoError(t, store.PublishDonation(ctx, d))
	svc := claims.New(&rivalStore{Store: store, d: d}, zap.NewNop(), claims.Options{})
	draws := []int{1111, 2222}
	var i int
	svc.SetDigits(func() int { v := draws[i]; i++; return v })

	rec, err := svc.Claim(ctx, ports.ClaimRequest{DonationID: d.ID, RequesterID: "alice", Quantity: 1})
	require.NoError(t, err)

	assert.Equal(t, "FAR-2222", rec.UniqueCode)
	after, err := store.GetDonation(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, after.CurrentQuantity, "rival and alice each hold one unit")
}

func TestClaim_RegeneratesTakenCode(t *testing.T) {
	svc, _, d := setup(t, 5, claims.Options{})
	ctx := context.Background()
	draws := []int{4321, 4321, 4321, 9876}
	var i int
	svc.SetDigits(func() int { v := draws[i]; i++; return v })

	first, err := svc.Claim(ctx, ports.ClaimRequest{DonationID: d.ID, RequesterID: "alice", Quantity: 1})
	require.NoError(t, err)
	second, err := svc.Claim(ctx, ports.ClaimRequest{DonationID: d.ID, RequesterID: "bob", Quantity: 1})
	require.NoError(t, err)

	assert.Equal(t, "FAR-4321", first.UniqueCode)
	assert.Equal(t, "FAR-9876", second.UniqueCode)
}

func TestClaim_CodeExhausted(t *testing.T) {
	svc, _, d := setup(t, 5, claims.Options{CodeAttempts: 3})
	ctx := context.Background()
	svc.SetDigits(func() int { return 1234 })

	_, err := svc.Claim(ctx, ports.ClaimRequest{DonationID: d.ID, RequesterID: "alice", Quantity: 1})
	require.NoError(t, err)
	_, err = svc.Claim(ctx, ports.ClaimRequest{DonationID: d.ID, RequesterID: "bob", Quantity: 1})
	assert.ErrorIs(t, err, claims.ErrCodeExhausted)
}

func TestVerify_PickupClaim(t *testing.T) {
	svc, _, d := setup(t, 5, claims.Options{})
	ctx := context.Background()
	rec, err := svc.Claim(ctx, ports.ClaimRequest{DonationID: d.ID, RequesterID: "alice", Quantity: 2})
	require.NoError(t, err)

	_, err = svc.Verify(ctx, rec.ID, "FAR-0000")
	assert.ErrorIs(t, err, claims.ErrCodeMismatch)

	done, err := svc.Verify(ctx, rec.ID, " "+rec.UniqueCode+" ")
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)

	_, err = svc.Verify(ctx, rec.ID, rec.UniqueCode)
	assert.ErrorIs(t, err, claims.ErrInvalidTransition)
	_, err = svc.Cancel(ctx, rec.ID, "alice")
	assert.ErrorIs(t, err, claims.ErrInvalidTransition)
}

func TestDeliveryClaimLifecycle(t *testing.T) {
	svc, _, d := setup(t, 5, claims.Options{})
	ctx := context.Background()
	rec, err := svc.Claim(ctx, ports.ClaimRequest{DonationID: d.ID, RequesterID: "alice", Quantity: 1, DeliveryMethod: domain.DeliveryCourier})
	require.NoError(t, err)

	_, err = svc.Verify(ctx, rec.ID, rec.UniqueCode)
	assert.ErrorIs(t, err, claims.ErrInvalidTransition, "cannot complete before delivery")

	c, err := svc.AdvanceCourier(ctx, rec.ID, "courier-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CourierPickingUp, c.CourierStatus)
	assert.Equal(t, "courier-1", c.CourierID)

	_, err = svc.AdvanceCourier(ctx, rec.ID, "courier-2")
	assert.ErrorIs(t, err, claims.ErrNotOwner)

	c, err = svc.AdvanceCourier(ctx, rec.ID, "courier-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CourierDelivering, c.CourierStatus)

	_, err = svc.Cancel(ctx, rec.ID, "alice")
	assert.ErrorIs(t, err, claims.ErrInvalidTransition)
	_, err = svc.AdvanceCourier(ctx, rec.ID, "courier-1")
	assert.ErrorIs(t, err, claims.ErrInvalidTransition)

	c, err = svc.Verify(ctx, rec.ID, rec.UniqueCode)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimCompleted, c.Status)
	assert.Equal(t, domain.CourierCompleted, c.CourierStatus)
}

func TestAdvanceCourier_PickupClaimRefused(t *testing.T) {
	svc, _, d := setup(t, 5, claims.Options{})
	rec, err := svc.Claim(context.Background(), ports.ClaimRequest{DonationID: d.ID, RequesterID: "alice", Quantity: 1})
	require.NoError(t, err)

	_, err = svc.AdvanceCourier(context.Background(), rec.ID, "courier-1")
	assert.ErrorIs(t, err, claims.ErrInvalidTransition)
}

func TestClaim_DeliveryNotOffered(t *testing.T) {
	svc, store, d := setup(t, 5, claims.Options{})
	d.DeliveryMethods = []domain.DeliveryMethod{domain.DeliveryPickup}
	require.NoError(t, store.PublishDonation(context.Background(), d))

	_, err := svc.Claim(context.Background(), ports.ClaimRequest{DonationID: d.ID, RequesterID: "alice", Quantity: 1, DeliveryMethod: domain.DeliveryCourier})
	assert.ErrorIs(t, err, claims.ErrDeliveryUnsupported)
}

func TestCancel(t *testing.T) {
	svc, store, d := setup(t, 5, claims.Options{})
	ctx := context.Background()
	rec, err := svc.Claim(ctx, ports.ClaimRequest{DonationID: d.ID, RequesterID: "alice", Quantity: 2})
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, rec.ID, "bob")
	assert.ErrorIs(t, err, claims.ErrNotOwner)

	c, err := svc.Cancel(ctx, rec.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimCancelled, c.Status)
	assert.NotNil(t, c.CancelledAt)

	after, err := store.GetDonation(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, after.CurrentQuantity, "cancelling does not restock")

	_, err = svc.Verify(ctx, rec.ID, rec.UniqueCode)
	assert.ErrorIs(t, err, claims.ErrInvalidTransition)
}

func TestRequesterImpact(t *testing.T) {
	svc, store, d := setup(t, 10, claims.Options{})
	ctx := context.Background()
	other := storetest.Donation(4)
	require.NoError(t, store.PublishDonation(ctx, other))

	a, err := svc.Claim(ctx, ports.ClaimRequest{DonationID: d.ID, RequesterID: "alice", Quantity: 2})
	require.NoError(t, err)
	b, err := svc.Claim(ctx, ports.ClaimRequest{DonationID: other.ID, RequesterID: "alice", Quantity: 4})
	require.NoError(t, err)
	_, err = svc.Verify(ctx, a.ID, a.UniqueCode)
	require.NoError(t, err)

	got, err := svc.RequesterImpact(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, a.ProportionalImpact.TotalPoints, got.TotalPoints, "active claims do not count")

	_, err = svc.Verify(ctx, b.ID, b.UniqueCode)
	require.NoError(t, err)
	got, err = svc.RequesterImpact(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, impact.Sum(a.ProportionalImpact, b.ProportionalImpact), got)
}
