package ports

import (
	"context"

	"foodrescue/internal/domain"
)

// Auditor turns a donation photo and metadata into a verdict. It only fails
// when ctx is done.
type Auditor interface {
	Audit(ctx context.Context, image []byte, c domain.AuditContext) (domain.AuditResult, error)
}

// Publisher lists a donation after a passing audit.
type Publisher interface {
	Publish(ctx context.Context, sub Submission, audit domain.AuditResult) (domain.Donation, error)
}

// ClaimRequest is one receiver asking for part of a donation's stock.
type ClaimRequest struct {
	DonationID     string                `json:"donationId"`
	RequesterID    string                `json:"requesterId"`
	Quantity       int                   `json:"quantity"`
	DeliveryMethod domain.DeliveryMethod `json:"deliveryMethod,omitempty"`
}

// Claims allocates stock and drives the claim lifecycle.
type Claims interface {
	Claim(ctx context.Context, req ClaimRequest) (domain.ClaimRecord, error)
	Verify(ctx context.Context, claimID, code string) (domain.ClaimRecord, error)
	Cancel(ctx context.Context, claimID, requesterID string) (domain.ClaimRecord, error)
	AdvanceCourier(ctx context.Context, claimID, courierID string) (domain.ClaimRecord, error)
	RequesterImpact(ctx context.Context, requesterID string) (domain.ImpactResult, error)
	List(ctx context.Context, filter ClaimFilter) ([]domain.ClaimRecord, error)
}

// Donations reads published donations.
type Donations interface {
	List(ctx context.Context, filter InventoryFilter) ([]domain.Donation, error)
	Get(ctx context.Context, id string) (domain.Donation, error)
}

// Submissions queues donor submissions for audit.
type Submissions interface {
	Submit(ctx context.Context, sub Submission) (string, error)
	Status(ctx context.Context, submissionID string) (SubmissionState, error)
}
