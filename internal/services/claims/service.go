// Package claims allocates donation stock to receivers.
//
// A claim takes a slice of the donation's impact proportional to the claimed
// quantity. The slice is computed once, at claim time, and stored on the
// claim; it is never recomputed. Stock itself is only ever changed by the
// store's atomic claim transaction.
package claims

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"foodrescue/internal/domain"
	"foodrescue/internal/impact"
	"foodrescue/internal/ports"
)

var (
	ErrDuplicateActiveClaim = errors.New("requester already holds an active claim on this donation")
	ErrInvalidQuantity      = errors.New("quantity must be a positive integer")
	ErrInvalidTransition    = errors.New("claim cannot make this status transition")
	ErrCodeMismatch         = errors.New("redemption code does not match")
	ErrCodeExhausted        = errors.New("no free redemption code found")
	ErrDeliveryUnsupported  = errors.New("donation does not offer this delivery method")
	ErrNotOwner             = errors.New("claim belongs to another requester")
	ErrMissingRequester     = errors.New("requester id is required")
)

const codePrefix = "FAR-"

type Options struct {
	// StrictQuantity rejects quantities below 1 instead of coercing them to 1.
	StrictQuantity bool
	// CodeAttempts bounds the regenerate loop for redemption codes.
	CodeAttempts int
}

type Service struct {
	store  ports.InventoryStore
	log    *zap.Logger
	opts   Options
	now    func() time.Time
	digits func() int
}

func New(store ports.InventoryStore, log *zap.Logger, opts Options) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.CodeAttempts < 1 {
		opts.CodeAttempts = 20
	}
	return &Service{
		store:  store,
		log:    log,
		opts:   opts,
		now:    time.Now,
		digits: func() int { return 1000 + rand.IntN(9000) },
	}
}

// Claim reserves req.Quantity units of a donation for req.RequesterID.
// Guards run in order and the first failure wins: an existing active claim on
// the same donation, the quantity rule, then available stock.
func (s *Service) Claim(ctx context.Context, req ports.ClaimRequest) (domain.ClaimRecord, error) {
	if strings.TrimSpace(req.RequesterID) == "" {
		return domain.ClaimRecord{}, ErrMissingRequester
	}
	d, err := s.store.GetDonation(ctx, req.DonationID)
	if err != nil {
		return domain.ClaimRecord{}, fmt.Errorf("load donation %s: %w", req.DonationID, err)
	}

	active, err := s.store.GetClaims(ctx, ports.ClaimFilter{RequesterID: req.RequesterID, Status: domain.ClaimActive})
	if err != nil {
		return domain.ClaimRecord{}, fmt.Errorf("load active claims: %w", err)
	}
	for _, c := range active {
		if c.DonationID == d.ID || (c.ProviderID == d.ProviderID && c.FoodName == d.FoodName) {
			return domain.ClaimRecord{}, ErrDuplicateActiveClaim
		}
	}

	qty := req.Quantity
	if qty < 1 {
		if s.opts.StrictQuantity {
			return domain.ClaimRecord{}, ErrInvalidQuantity
		}
		qty = 1
	}

	if !d.Claimable() || qty > d.CurrentQuantity {
		return domain.ClaimRecord{}, ports.ErrInsufficientStock
	}

	method := req.DeliveryMethod
	if method == "" {
		method = domain.DeliveryPickup
	}
	if !d.SupportsDelivery(method) {
		return domain.ClaimRecord{}, ErrDeliveryUnsupported
	}

	initial := d.InitialQuantity
	if initial < 1 {
		initial = 1
	}
	rec := domain.ClaimRecord{
		ID:                 uuid.NewString(),
		DonationID:         d.ID,
		ProviderID:         d.ProviderID,
		FoodName:           d.FoodName,
		RequesterID:        req.RequesterID,
		ClaimedQuantity:    qty,
		ProportionalImpact: impact.Scale(d.Impact, float64(qty)/float64(initial)),
		Status:             domain.ClaimActive,
		DeliveryMethod:     method,
		CreatedAt:          s.now().UTC(),
	}
	if err := s.commit(ctx, d.ID, qty, &rec); err != nil {
		return domain.ClaimRecord{}, err
	}
	s.log.Info("donation claimed",
		zap.String("claim_id", rec.ID),
		zap.String("donation_id", d.ID),
		zap.String("requester_id", rec.RequesterID),
		zap.Int("quantity", qty),
		zap.Int("points", rec.ProportionalImpact.TotalPoints),
	)
	return rec, nil
}

// commit runs the store transaction. The store re-checks the duplicate and
// code rules atomically; a code taken since allocateCode looked is redrawn
// within the same attempt budget.
func (s *Service) commit(ctx context.Context, donationID string, qty int, rec *domain.ClaimRecord) error {
	for attempt := 0; attempt < s.opts.CodeAttempts; attempt++ {
		code, err := s.allocateCode(ctx)
		if err != nil {
			return err
		}
		rec.UniqueCode = code
		err = s.store.ProcessClaimTransaction(ctx, donationID, qty, *rec)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ports.ErrCodeTaken):
			s.log.Debug("redemption code taken concurrently", zap.String("code", code))
			continue
		case errors.Is(err, ports.ErrDuplicateClaim):
			return ErrDuplicateActiveClaim
		case errors.Is(err, ports.ErrInsufficientStock), errors.Is(err, ports.ErrNotFound):
			return err
		default:
			return fmt.Errorf("claim transaction: %w", err)
		}
	}
	return ErrCodeExhausted
}

// allocateCode draws FAR-#### codes until one is not held by an active claim.
func (s *Service) allocateCode(ctx context.Context) (string, error) {
	for i := 0; i < s.opts.CodeAttempts; i++ {
		code := fmt.Sprintf("%s%04d", codePrefix, s.digits())
		taken, err := s.store.GetClaims(ctx, ports.ClaimFilter{Code: code, Status: domain.ClaimActive})
		if err != nil {
			return "", fmt.Errorf("check redemption code: %w", err)
		}
		if len(taken) == 0 {
			return code, nil
		}
	}
	return "", ErrCodeExhausted
}

// Verify completes an active claim when the handover code matches. Delivery
// claims must be out for delivery first.
func (s *Service) Verify(ctx context.Context, claimID, code string) (domain.ClaimRecord, error) {
	c, err := s.store.GetClaim(ctx, claimID)
	if err != nil {
		return domain.ClaimRecord{}, err
	}
	if c.Terminal() {
		return domain.ClaimRecord{}, ErrInvalidTransition
	}
	if !strings.EqualFold(strings.TrimSpace(code), c.UniqueCode) {
		return domain.ClaimRecord{}, ErrCodeMismatch
	}
	upd := ports.ClaimUpdate{From: domain.ClaimActive, At: s.now().UTC()}
	if c.DeliveryMethod == domain.DeliveryCourier {
		if c.CourierStatus != domain.CourierDelivering {
			return domain.ClaimRecord{}, ErrInvalidTransition
		}
		from, done := domain.CourierDelivering, domain.CourierCompleted
		upd.FromCourier = &from
		upd.CourierStatus = &done
	}
	return s.transition(ctx, c, domain.ClaimCompleted, upd)
}

// Cancel ends an active claim. Stock is not returned to the donation. An
// empty requesterID skips the ownership check (operator action).
func (s *Service) Cancel(ctx context.Context, claimID, requesterID string) (domain.ClaimRecord, error) {
	c, err := s.store.GetClaim(ctx, claimID)
	if err != nil {
		return domain.ClaimRecord{}, err
	}
	if requesterID != "" && c.RequesterID != requesterID {
		return domain.ClaimRecord{}, ErrNotOwner
	}
	if c.Terminal() || c.CourierStatus == domain.CourierDelivering {
		return domain.ClaimRecord{}, ErrInvalidTransition
	}
	from := c.CourierStatus
	return s.transition(ctx, c, domain.ClaimCancelled, ports.ClaimUpdate{
		From:        domain.ClaimActive,
		FromCourier: &from,
		At:          s.now().UTC(),
	})
}

// AdvanceCourier moves a delivery claim from no courier to picking_up, and
// from picking_up to delivering. Completion happens through Verify.
func (s *Service) AdvanceCourier(ctx context.Context, claimID, courierID string) (domain.ClaimRecord, error) {
	if strings.TrimSpace(courierID) == "" {
		return domain.ClaimRecord{}, errors.New("courier id is required")
	}
	c, err := s.store.GetClaim(ctx, claimID)
	if err != nil {
		return domain.ClaimRecord{}, err
	}
	if c.Status != domain.ClaimActive || c.DeliveryMethod != domain.DeliveryCourier {
		return domain.ClaimRecord{}, ErrInvalidTransition
	}
	var next domain.CourierStatus
	switch c.CourierStatus {
	case domain.CourierNone:
		next = domain.CourierPickingUp
	case domain.CourierPickingUp:
		if c.CourierID != courierID {
			return domain.ClaimRecord{}, ErrNotOwner
		}
		next = domain.CourierDelivering
	default:
		return domain.ClaimRecord{}, ErrInvalidTransition
	}
	from := c.CourierStatus
	return s.transition(ctx, c, domain.ClaimActive, ports.ClaimUpdate{
		From:          domain.ClaimActive,
		FromCourier:   &from,
		CourierID:     courierID,
		CourierStatus: &next,
	})
}

func (s *Service) transition(ctx context.Context, c domain.ClaimRecord, to domain.ClaimStatus, upd ports.ClaimUpdate) (domain.ClaimRecord, error) {
	if err := s.store.UpdateClaimStatus(ctx, c.ID, to, upd); err != nil {
		if errors.Is(err, ports.ErrStaleStatus) {
			return domain.ClaimRecord{}, ErrInvalidTransition
		}
		return domain.ClaimRecord{}, fmt.Errorf("update claim %s: %w", c.ID, err)
	}
	s.log.Info("claim updated",
		zap.String("claim_id", c.ID),
		zap.String("from", string(c.Status)),
		zap.String("to", string(to)),
	)
	return s.store.GetClaim(ctx, c.ID)
}

// List returns claims matching filter.
func (s *Service) List(ctx context.Context, filter ports.ClaimFilter) ([]domain.ClaimRecord, error) {
	return s.store.GetClaims(ctx, filter)
}

// RequesterImpact totals the impact of a receiver's completed claims.
func (s *Service) RequesterImpact(ctx context.Context, requesterID string) (domain.ImpactResult, error) {
	done, err := s.store.GetClaims(ctx, ports.ClaimFilter{RequesterID: requesterID, Status: domain.ClaimCompleted})
	if err != nil {
		return domain.ImpactResult{}, err
	}
	rs := make([]domain.ImpactResult, 0, len(done))
	for _, c := range done {
		rs = append(rs, c.ProportionalImpact)
	}
	return impact.Sum(rs...), nil
}
