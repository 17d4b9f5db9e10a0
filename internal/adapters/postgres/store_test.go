package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodrescue/internal/adapters/postgres"
	"foodrescue/internal/adapters/storetest"
	"foodrescue/internal/domain"
	"foodrescue/internal/ports"
)

// openDB connects to TEST_DATABASE_URL, migrates and empties every table.
func openDB(t *testing.T) *postgres.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := postgres.Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(ctx))
	_, err = db.Pool.Exec(ctx, `TRUNCATE claims, food_items, audit_jobs, submissions`)
	require.NoError(t, err)
	return db
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.InventoryStore { return openDB(t) })
}

func TestSubmissionQueue(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	first, err := db.Enqueue(ctx, ports.Submission{ProviderID: "p1", Image: []byte{0xff, 0xd8}, Context: domain.AuditContext{FoodName: "Roti", QuantityCount: 3}})
	require.NoError(t, err)
	second, err := db.Enqueue(ctx, ports.Submission{ProviderID: "p1", Context: domain.AuditContext{FoodName: "Sop"}})
	require.NoError(t, err)

	sub, err := db.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "Roti", sub.Context.FoodName)
	assert.Equal(t, []byte{0xff, 0xd8}, sub.Image)

	job, found, err := db.ClaimNext(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, first, job.SubmissionID)

	st, err := db.State(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, ports.SubmissionRunning, st.Status)

	audit := domain.AuditResult{IsSafe: true, QualityPercentage: 88}
	require.NoError(t, db.MarkPublished(ctx, job.ID, "donation-1", audit))
	st, err = db.State(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, ports.SubmissionPublished, st.Status)
	assert.Equal(t, "donation-1", st.DonationID)
	require.NotNil(t, st.Audit)
	assert.Equal(t, 88, st.Audit.QualityPercentage)

	jobID, err := db.StartJobForSubmission(ctx, second)
	require.NoError(t, err)
	require.NoError(t, db.MarkFailed(ctx, jobID, "boom"))
	st, err = db.State(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, ports.SubmissionFailed, st.Status)
	assert.Equal(t, "boom", st.Reason)
	assert.Nil(t, st.Audit)

	_, found, err = db.ClaimNext(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = db.State(ctx, "missing")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestSubmissionQueue_Requeue(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	id, err := db.Enqueue(ctx, ports.Submission{ProviderID: "p1", Context: domain.AuditContext{FoodName: "Roti"}})
	require.NoError(t, err)

	job, found, err := db.ClaimNext(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.NoError(t, db.Requeue(ctx, job.ID))

	st, err := db.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ports.SubmissionQueued, st.Status)
	again, found, err := db.ClaimNext(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, job.ID, again.ID)

	require.NoError(t, db.MarkFailed(ctx, again.ID, "boom"))
	require.NoError(t, db.Requeue(ctx, again.ID), "finished jobs stay finished")
	st, err = db.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ports.SubmissionFailed, st.Status)
}
