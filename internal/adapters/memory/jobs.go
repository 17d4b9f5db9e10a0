package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"foodrescue/internal/domain"
	"foodrescue/internal/ports"
)

type submissionEntry struct {
	sub   ports.Submission
	state ports.SubmissionState
	jobID string
}

// Queue is an in-process audit job queue with FIFO claiming.
type Queue struct {
	mu      sync.Mutex
	entries map[string]*submissionEntry
	jobs    map[string]string // job id -> submission id
	order   []string          // queued job ids
}

func NewQueue() *Queue {
	return &Queue{
		entries: make(map[string]*submissionEntry),
		jobs:    make(map[string]string),
	}
}

func (q *Queue) Enqueue(ctx context.Context, sub ports.Submission) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	sub.Image = slices.Clone(sub.Image)
	jobID := uuid.NewString()
	q.entries[sub.ID] = &submissionEntry{
		sub:   sub,
		state: ports.SubmissionState{ID: sub.ID, Status: ports.SubmissionQueued},
		jobID: jobID,
	}
	q.jobs[jobID] = sub.ID
	q.order = append(q.order, jobID)
	return sub.ID, nil
}

func (q *Queue) Get(ctx context.Context, submissionID string) (ports.Submission, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[submissionID]
	if !ok {
		return ports.Submission{}, ports.ErrNotFound
	}
	sub := e.sub
	sub.Image = slices.Clone(sub.Image)
	return sub, nil
}

func (q *Queue) State(ctx context.Context, submissionID string) (ports.SubmissionState, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[submissionID]
	if !ok {
		return ports.SubmissionState{}, ports.ErrNotFound
	}
	return e.state, nil
}

func (q *Queue) ClaimNext(ctx context.Context) (ports.AuditJob, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.order) == 0 {
		return ports.AuditJob{}, false, nil
	}
	jobID := q.order[0]
	q.order = q.order[1:]
	subID := q.jobs[jobID]
	q.entries[subID].state.Status = ports.SubmissionRunning
	return ports.AuditJob{ID: jobID, SubmissionID: subID}, true, nil
}

func (q *Queue) StartJobForSubmission(ctx context.Context, submissionID string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[submissionID]
	if !ok || e.state.Status != ports.SubmissionQueued {
		return "", ports.ErrNotFound
	}
	q.order = slices.DeleteFunc(q.order, func(id string) bool { return id == e.jobID })
	e.state.Status = ports.SubmissionRunning
	return e.jobID, nil
}

func (q *Queue) MarkPublished(ctx context.Context, jobID, donationID string, audit domain.AuditResult) error {
	return q.finish(jobID, func(st *ports.SubmissionState) {
		st.Status = ports.SubmissionPublished
		st.DonationID = donationID
		st.Audit = &audit
	})
}

func (q *Queue) MarkRejected(ctx context.Context, jobID string, audit domain.AuditResult, reason string) error {
	return q.finish(jobID, func(st *ports.SubmissionState) {
		st.Status = ports.SubmissionRejected
		st.Audit = &audit
		st.Reason = reason
	})
}

func (q *Queue) MarkFailed(ctx context.Context, jobID string, reason string) error {
	return q.finish(jobID, func(st *ports.SubmissionState) {
		st.Status = ports.SubmissionFailed
		st.Reason = reason
	})
}

func (q *Queue) Requeue(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	subID, ok := q.jobs[jobID]
	if !ok {
		return ports.ErrNotFound
	}
	e := q.entries[subID]
	if e.state.Status != ports.SubmissionRunning {
		return nil
	}
	e.state.Status = ports.SubmissionQueued
	q.order = append([]string{jobID}, q.order...)
	return nil
}

func (q *Queue) finish(jobID string, apply func(*ports.SubmissionState)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	subID, ok := q.jobs[jobID]
	if !ok {
		return ports.ErrNotFound
	}
	apply(&q.entries[subID].state)
	return nil
}
