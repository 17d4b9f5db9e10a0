package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"foodrescue/internal/domain"
	"foodrescue/internal/ports"
)

// Enqueue stores the submission and its audit job in one transaction.
func (db *DB) Enqueue(ctx context.Context, sub ports.Submission) (string, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	image := sub.Image
	sub.Image = nil
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO submissions (id, provider_id, payload, image, status)
			VALUES ($1, $2, $3, $4, 'queued')
		`, sub.ID, sub.ProviderID, sub, image); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO audit_jobs (submission_id) VALUES ($1)`, sub.ID)
		return err
	})
	if err != nil {
		return "", err
	}
	return sub.ID, nil
}

func (db *DB) Get(ctx context.Context, submissionID string) (ports.Submission, error) {
	var sub ports.Submission
	var image []byte
	err := db.Pool.QueryRow(ctx, `SELECT payload, image FROM submissions WHERE id = $1`, submissionID).Scan(&sub, &image)
	if errors.Is(err, pgx.ErrNoRows) {
		return sub, ports.ErrNotFound
	}
	if err != nil {
		return sub, err
	}
	sub.ID = submissionID
	sub.Image = image
	return sub, nil
}

func (db *DB) State(ctx context.Context, submissionID string) (ports.SubmissionState, error) {
	st := ports.SubmissionState{ID: submissionID}
	var status string
	var donationID *string
	err := db.Pool.QueryRow(ctx, `
		SELECT status, donation_id, audit, reason FROM submissions WHERE id = $1
	`, submissionID).Scan(&status, &donationID, &st.Audit, &st.Reason)
	if errors.Is(err, pgx.ErrNoRows) {
		return st, ports.ErrNotFound
	}
	if err != nil {
		return st, err
	}
	st.Status = ports.SubmissionStatus(status)
	if donationID != nil {
		st.DonationID = *donationID
	}
	return st, nil
}

// ClaimNext selects the next queued job using SKIP LOCKED and marks it running.
func (db *DB) ClaimNext(ctx context.Context) (job ports.AuditJob, found bool, err error) {
	err = db.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT id, submission_id FROM audit_jobs
			WHERE status = 'queued'
			ORDER BY queued_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		`).Scan(&job.ID, &job.SubmissionID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return markRunning(ctx, tx, job)
	})
	return job, found, err
}

// StartJobForSubmission takes the queued job of one submission, for callers
// that process it inline instead of waiting for a worker.
func (db *DB) StartJobForSubmission(ctx context.Context, submissionID string) (string, error) {
	job := ports.AuditJob{SubmissionID: submissionID}
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT id FROM audit_jobs
			WHERE submission_id = $1 AND status = 'queued'
			FOR UPDATE SKIP LOCKED
		`, submissionID).Scan(&job.ID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ports.ErrNotFound
		}
		if err != nil {
			return err
		}
		return markRunning(ctx, tx, job)
	})
	return job.ID, err
}

func markRunning(ctx context.Context, tx pgx.Tx, job ports.AuditJob) error {
	if _, err := tx.Exec(ctx, `
		UPDATE audit_jobs SET status = 'running', started_at = now(), attempts = attempts + 1 WHERE id = $1
	`, job.ID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		UPDATE submissions SET status = 'running', started_at = COALESCE(started_at, now()) WHERE id = $1
	`, job.SubmissionID)
	return err
}

func (db *DB) MarkPublished(ctx context.Context, jobID, donationID string, audit domain.AuditResult) error {
	return db.finish(ctx, jobID, "completed", ports.SubmissionPublished, &donationID, &audit, "")
}

func (db *DB) MarkRejected(ctx context.Context, jobID string, audit domain.AuditResult, reason string) error {
	return db.finish(ctx, jobID, "completed", ports.SubmissionRejected, nil, &audit, reason)
}

func (db *DB) MarkFailed(ctx context.Context, jobID string, reason string) error {
	return db.finish(ctx, jobID, "failed", ports.SubmissionFailed, nil, nil, reason)
}

// Requeue puts a running job back in the queue at its original position.
// The attempt counter keeps the aborted run.
func (db *DB) Requeue(ctx context.Context, jobID string) error {
	return db.inTx(ctx, func(tx pgx.Tx) error {
		var submissionID string
		err := tx.QueryRow(ctx, `
			UPDATE audit_jobs SET status = 'queued', started_at = NULL
			WHERE id = $1 AND status = 'running'
			RETURNING submission_id
		`, jobID).Scan(&submissionID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE submissions SET status = 'queued' WHERE id = $1`, submissionID)
		return err
	})
}

// finish closes the job and records the submission outcome atomically.
func (db *DB) finish(ctx context.Context, jobID, jobStatus string, status ports.SubmissionStatus, donationID *string, audit *domain.AuditResult, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.inTx(ctx, func(tx pgx.Tx) error {
		var submissionID string
		err := tx.QueryRow(ctx, `
			UPDATE audit_jobs SET status = $2, finished_at = now() WHERE id = $1 RETURNING submission_id
		`, jobID, jobStatus).Scan(&submissionID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ports.ErrNotFound
		}
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE submissions
			SET status = $2, donation_id = $3, audit = $4, reason = $5, finished_at = now()
			WHERE id = $1
		`, submissionID, string(status), donationID, audit, reason)
		return err
	})
}
