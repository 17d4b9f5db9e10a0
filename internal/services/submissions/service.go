package submissions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"foodrescue/internal/ports"
	"foodrescue/internal/validation"
)

var (
	ErrMissingProvider   = errors.New("provider id is required")
	ErrMissingFoodName   = errors.New("food name is required")
	ErrInvalidSubmission = errors.New("invalid submission")
)

type Service struct {
	repo ports.SubmissionRepository
}

func New(repo ports.SubmissionRepository) *Service {
	return &Service{repo: repo}
}

// Submit validates the donor input and queues it for audit.
func (s *Service) Submit(ctx context.Context, sub ports.Submission) (string, error) {
	sub.ProviderID = strings.TrimSpace(sub.ProviderID)
	sub.Context.FoodName = strings.TrimSpace(sub.Context.FoodName)
	if err := validation.Struct(sub); err != nil {
		return "", invalid(err)
	}
	if sub.Context.QuantityCount < 1 {
		sub.Context.QuantityCount = 1
	}
	return s.repo.Enqueue(ctx, sub)
}

func (s *Service) Status(ctx context.Context, submissionID string) (ports.SubmissionState, error) {
	return s.repo.State(ctx, submissionID)
}

func invalid(err error) error {
	fe, ok := validation.First(err)
	if !ok {
		return err
	}
	switch path := validation.Path(fe); path {
	case "providerId":
		return ErrMissingProvider
	case "context.foodName":
		return ErrMissingFoodName
	default:
		return fmt.Errorf("%w: %s fails %s", ErrInvalidSubmission, path, fe.Tag())
	}
}
