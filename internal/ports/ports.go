package ports

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"foodrescue/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStaleStatus is returned when a claim is no longer in the status the
	// caller observed before asking for a transition.
	ErrStaleStatus = errors.New("claim status changed concurrently")
	// ErrDuplicateClaim is returned by ProcessClaimTransaction when the
	// requester already holds an active claim on the same provider's food.
	ErrDuplicateClaim = errors.New("requester already holds an active claim on this food")
	// ErrCodeTaken is returned by ProcessClaimTransaction when another active
	// claim holds the same redemption code.
	ErrCodeTaken = errors.New("redemption code already in use")
)

// ClassificationRequest is what the engine sends to the external food
// classification capability.
type ClassificationRequest struct {
	ImageBase64 string `json:"imageBase64,omitempty"`
	Prompt      string `json:"promptContext"`
}

// Classifier returns the raw structured verdict. Validation is the caller's job.
type Classifier interface {
	Classify(ctx context.Context, req ClassificationRequest) (json.RawMessage, error)
}

// InventoryFilter narrows GetInventory. Zero values match everything.
type InventoryFilter struct {
	ProviderID    string
	OnlyClaimable bool
}

// ClaimFilter narrows GetClaims. Zero values match everything.
type ClaimFilter struct {
	DonationID  string
	RequesterID string
	ProviderID  string
	Code        string
	Status      domain.ClaimStatus
}

// ClaimUpdate carries the optional metadata written with a status change.
type ClaimUpdate struct {
	// From is the status the caller observed; the store refuses the update
	// with ErrStaleStatus if it no longer matches.
	From domain.ClaimStatus
	// FromCourier, when set, must also match the stored courier status.
	FromCourier   *domain.CourierStatus
	CourierID     string
	CourierStatus *domain.CourierStatus
	// At stamps CompletedAt or CancelledAt for terminal transitions.
	At time.Time
}

// InventoryStore is the single writer for donation stock and claim records.
type InventoryStore interface {
	GetInventory(ctx context.Context, filter InventoryFilter) ([]domain.Donation, error)
	GetDonation(ctx context.Context, id string) (domain.Donation, error)
	PublishDonation(ctx context.Context, d domain.Donation) error
	GetClaims(ctx context.Context, filter ClaimFilter) ([]domain.ClaimRecord, error)
	GetClaim(ctx context.Context, id string) (domain.ClaimRecord, error)
	// ProcessClaimTransaction decrements stock by quantity and inserts claim
	// atomically. It fails with ErrInsufficientStock, ErrDuplicateClaim or
	// ErrCodeTaken and applies nothing when the donation cannot cover
	// quantity, the requester already holds an active claim on the same
	// provider and food, or the code is held by another active claim.
	ProcessClaimTransaction(ctx context.Context, donationID string, quantity int, claim domain.ClaimRecord) error
	UpdateClaimStatus(ctx context.Context, claimID string, status domain.ClaimStatus, extra ClaimUpdate) error
}
