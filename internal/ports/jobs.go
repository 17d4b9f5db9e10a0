package ports

import (
	"context"
	"time"

	"foodrescue/internal/domain"
)

// Submission is a donor's request to audit and publish a food item.
type Submission struct {
	ID              string                  `json:"id"`
	ProviderID      string                  `json:"providerId" validate:"required"`
	Description     string                  `json:"description,omitempty"`
	Image           []byte                  `json:"image,omitempty"`
	Context         domain.AuditContext     `json:"context"`
	DeliveryMethods []domain.DeliveryMethod `json:"deliveryMethods,omitempty" validate:"dive,oneof=pickup delivery"`
	DistributionEnd *time.Time              `json:"distributionEnd,omitempty"`
}

type SubmissionStatus string

const (
	SubmissionQueued    SubmissionStatus = "queued"
	SubmissionRunning   SubmissionStatus = "running"
	SubmissionPublished SubmissionStatus = "published"
	SubmissionRejected  SubmissionStatus = "rejected"
	SubmissionFailed    SubmissionStatus = "failed"
)

// SubmissionState is the outcome view of a submission.
type SubmissionState struct {
	ID         string              `json:"id"`
	Status     SubmissionStatus    `json:"status"`
	DonationID string              `json:"donationId,omitempty"`
	Audit      *domain.AuditResult `json:"audit,omitempty"`
	Reason     string              `json:"reason,omitempty"`
}

type AuditJob struct {
	ID           string
	SubmissionID string
}

// SubmissionRepository queues submissions and tracks their audit jobs.
type SubmissionRepository interface {
	Enqueue(ctx context.Context, sub Submission) (submissionID string, err error)
	Get(ctx context.Context, submissionID string) (Submission, error)
	State(ctx context.Context, submissionID string) (SubmissionState, error)
	ClaimNext(ctx context.Context) (job AuditJob, found bool, err error)
	StartJobForSubmission(ctx context.Context, submissionID string) (jobID string, err error)
	MarkPublished(ctx context.Context, jobID, donationID string, audit domain.AuditResult) error
	MarkRejected(ctx context.Context, jobID string, audit domain.AuditResult, reason string) error
	MarkFailed(ctx context.Context, jobID string, reason string) error
	// Requeue returns a running job to the queue untouched, for workers that
	// stop before processing it.
	Requeue(ctx context.Context, jobID string) error
}
