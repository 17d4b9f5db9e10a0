package submissions_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodrescue/internal/adapters/memory"
	"foodrescue/internal/domain"
	"foodrescue/internal/ports"
	"foodrescue/internal/services/submissions"
)

func TestSubmit(t *testing.T) {
	q := memory.NewQueue()
	svc := submissions.New(q)
	ctx := context.Background()

	id, err := svc.Submit(ctx, ports.Submission{ProviderID: " warung-1 ", Context: domain.AuditContext{FoodName: " Soto "}})
	require.NoError(t, err)

	st, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ports.SubmissionQueued, st.Status)

	sub, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "warung-1", sub.ProviderID)
	assert.Equal(t, "Soto", sub.Context.FoodName)
	assert.Equal(t, 1, sub.Context.QuantityCount)
}

func TestSubmit_Validation(t *testing.T) {
	svc := submissions.New(memory.NewQueue())

	_, err := svc.Submit(context.Background(), ports.Submission{Context: domain.AuditContext{FoodName: "Soto"}})
	assert.ErrorIs(t, err, submissions.ErrMissingProvider)

	_, err = svc.Submit(context.Background(), ports.Submission{ProviderID: "p"})
	assert.ErrorIs(t, err, submissions.ErrMissingFoodName)
}

func TestSubmit_BlankAfterTrim(t *testing.T) {
	svc := submissions.New(memory.NewQueue())

	_, err := svc.Submit(context.Background(), ports.Submission{ProviderID: "   ", Context: domain.AuditContext{FoodName: "Soto"}})
	assert.ErrorIs(t, err, submissions.ErrMissingProvider)

	_, err = svc.Submit(context.Background(), ports.Submission{ProviderID: "p", Context: domain.AuditContext{FoodName: "\t"}})
	assert.ErrorIs(t, err, submissions.ErrMissingFoodName)
}

func TestSubmit_UnknownDeliveryMethod(t *testing.T) {
	svc := submissions.New(memory.NewQueue())

	_, err := svc.Submit(context.Background(), ports.Submission{
		ProviderID:      "p",
		Context:         domain.AuditContext{FoodName: "Soto"},
		DeliveryMethods: []domain.DeliveryMethod{domain.DeliveryPickup, "drone"},
	})
	require.ErrorIs(t, err, submissions.ErrInvalidSubmission)
	assert.Contains(t, err.Error(), "deliveryMethods[1]")
}
