// Package auditrunner drains the submission queue: each job audits one
// submission and, when the verdict passes, publishes it as a donation.
package auditrunner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"foodrescue/internal/ports"
	"foodrescue/internal/services/donations"
)

// Processor performs the work of one audit job and records its outcome.
type Processor interface {
	Process(ctx context.Context, job ports.AuditJob) error
}

// Pipeline is the production Processor.
type Pipeline struct {
	Repo      ports.SubmissionRepository
	Auditor   ports.Auditor
	Publisher ports.Publisher
	Log       *zap.Logger
}

func (p Pipeline) Process(ctx context.Context, job ports.AuditJob) error {
	sub, err := p.Repo.Get(ctx, job.SubmissionID)
	if err != nil {
		return fmt.Errorf("load submission: %w", err)
	}
	audit, err := p.Auditor.Audit(ctx, sub.Image, sub.Context)
	if err != nil {
		return err
	}
	d, err := p.Publisher.Publish(ctx, sub, audit)
	if errors.Is(err, donations.ErrAuditRejected) {
		p.logger().Info("submission rejected",
			zap.String("submission_id", sub.ID),
			zap.Int("quality", audit.QualityPercentage),
			zap.Bool("safe", audit.IsSafe),
		)
		return p.Repo.MarkRejected(context.WithoutCancel(ctx), job.ID, audit, err.Error())
	}
	if err != nil {
		return err
	}
	// the donation is live; its outcome must be recorded even if ctx ends
	if err := p.Repo.MarkPublished(context.WithoutCancel(ctx), job.ID, d.ID, audit); err != nil {
		p.logger().Error("record published submission",
			zap.String("submission_id", sub.ID),
			zap.String("donation_id", d.ID),
			zap.Error(err),
		)
		return &UnrecordedError{DonationID: d.ID, Err: err}
	}
	return nil
}

// UnrecordedError reports a donation that was published but whose
// submission could not be marked published. The job must not be marked
// failed.
type UnrecordedError struct {
	DonationID string
	Err        error
}

func (e *UnrecordedError) Error() string {
	return fmt.Sprintf("donation %s published but not recorded: %v", e.DonationID, e.Err)
}

func (e *UnrecordedError) Unwrap() error { return e.Err }

// fail records a processing error unless the donation already went live.
func fail(ctx context.Context, repo ports.SubmissionRepository, jobID string, err error) error {
	var unrecorded *UnrecordedError
	if errors.As(err, &unrecorded) {
		return nil
	}
	return repo.MarkFailed(context.WithoutCancel(ctx), jobID, err.Error())
}

func (p Pipeline) logger() *zap.Logger {
	if p.Log == nil {
		return zap.NewNop()
	}
	return p.Log
}

// Run starts worker goroutines that claim jobs and process them. It returns
// immediately; workers stop when ctx is done.
func Run(ctx context.Context, repo ports.SubmissionRepository, processor Processor, concurrency int, pollInterval time.Duration, log *zap.Logger) {
	if concurrency < 1 {
		return
	}
	if log == nil {
		log = zap.NewNop()
	}
	jobsCh := make(chan ports.AuditJob, concurrency)

	// dispatcher loop
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		defer close(jobsCh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for ctx.Err() == nil {
					job, found, err := repo.ClaimNext(ctx)
					if err != nil {
						if ctx.Err() == nil {
							log.Error("job claim error", zap.Error(err))
						}
						break
					}
					if !found {
						break
					}
					select {
					case jobsCh <- job:
					case <-ctx.Done():
						requeue(ctx, repo, job, log)
						return
					}
				}
			}
		}
	}()

	for i := 0; i < concurrency; i++ {
		go func(idx int) {
			for job := range jobsCh {
				if ctx.Err() != nil {
					requeue(ctx, repo, job, log)
					continue
				}
				if err := processor.Process(ctx, job); err != nil {
					if ctx.Err() != nil && errors.Is(err, context.Canceled) {
						requeue(ctx, repo, job, log)
						continue
					}
					if merr := fail(ctx, repo, job.ID, err); merr != nil {
						log.Error("mark failed", zap.String("job_id", job.ID), zap.Error(merr))
					}
					log.Warn("audit job failed", zap.Int("worker", idx), zap.String("job_id", job.ID), zap.Error(err))
				}
			}
		}(i)
	}
}

// requeue hands back a job this worker claimed but will not process.
func requeue(ctx context.Context, repo ports.SubmissionRepository, job ports.AuditJob, log *zap.Logger) {
	if err := repo.Requeue(context.WithoutCancel(ctx), job.ID); err != nil {
		log.Error("requeue job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// ProcessInline runs the job of one submission synchronously with the same
// processor the background workers use.
func ProcessInline(ctx context.Context, repo ports.SubmissionRepository, processor Processor, submissionID string) error {
	jobID, err := repo.StartJobForSubmission(ctx, submissionID)
	if err != nil {
		return err
	}
	if err := processor.Process(ctx, ports.AuditJob{ID: jobID, SubmissionID: submissionID}); err != nil {
		_ = fail(ctx, repo, jobID, err)
		return err
	}
	return nil
}
