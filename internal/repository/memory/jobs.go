// Package memory holds in-process stores mirroring the Postgres repositories'
// semantics. They back unit tests and single-process tooling and are safe for
// concurrent use.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"photorestore/internal/models"
	"photorestore/internal/repository"
)

// Ledger is the balance a charged job draws from. *Credits satisfies it.
type Ledger interface {
	Deduct(ctx context.Context, userID string, amount int) (int, error)
	Add(ctx context.Context, userID string, amount int) (int, error)
}

var errNoLedger = errors.New("memory jobs: no credit ledger")

type Jobs struct {
	mu     sync.Mutex
	jobs   map[string]models.Job
	ledger Ledger
}

// NewJobs returns a job store charging against ledger. A nil ledger rejects
// charged creates and refunds.
func NewJobs(ledger Ledger) *Jobs {
	return &Jobs{jobs: make(map[string]models.Job), ledger: ledger}
}

func (s *Jobs) Create(_ context.Context, job models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *Jobs) CreateCharged(ctx context.Context, job models.Job) (int, error) {
	if s.ledger == nil {
		return 0, errNoLedger
	}
	if job.ChargedCredits <= 0 {
		return 0, fmt.Errorf("charge for job %s must be positive", job.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	balance, err := s.ledger.Deduct(ctx, job.UserID, job.ChargedCredits)
	if err != nil {
		return 0, err
	}
	s.jobs[job.ID] = job
	return balance, nil
}

func (s *Jobs) GetByID(_ context.Context, id string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return models.Job{}, repository.ErrJobNotFound
	}
	return job, nil
}

func (s *Jobs) GetByPredictionID(_ context.Context, predictionID string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if predictionID == "" {
		return models.Job{}, repository.ErrJobNotFound
	}
	for _, job := range s.jobs {
		if job.PredictionID == predictionID {
			return job, nil
		}
	}
	return models.Job{}, repository.ErrJobNotFound
}

func (s *Jobs) ListByUser(_ context.Context, userID string, limit int) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Job
	for _, job := range s.jobs {
		if job.UserID == userID {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Jobs) SetPredictionID(_ context.Context, id string, predictionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return repository.ErrJobNotFound
	}
	if job.Status.Terminal() {
		return repository.ErrJobTerminal
	}
	job.PredictionID = predictionID
	s.jobs[id] = job
	return nil
}

func (s *Jobs) Transition(_ context.Context, id string, t repository.JobTransition) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return models.Job{}, repository.ErrJobNotFound
	}
	if job.Status.Terminal() {
		return models.Job{}, repository.ErrJobTerminal
	}
	job.Status = t.Status
	if t.ResultURL != nil {
		job.ResultURL = t.ResultURL
	}
	if t.ErrorMessage != nil {
		job.ErrorMessage = t.ErrorMessage
	}
	at := t.At
	job.CompletedAt = &at
	s.jobs[id] = job
	return job, nil
}

func (s *Jobs) FailExpired(_ context.Context, now time.Time, staleBefore time.Time, message string) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var failed []models.Job
	for id, job := range s.jobs {
		if !job.Status.Active() {
			continue
		}
		expired := false
		switch {
		case job.TimeoutAt != nil:
			expired = job.TimeoutAt.Before(now)
		case job.StartedAt != nil:
			expired = job.StartedAt.Before(staleBefore)
		}
		if !expired {
			continue
		}
		msg := message
		at := now
		job.Status = models.JobStatusFailed
		job.ErrorMessage = &msg
		job.CompletedAt = &at
		s.jobs[id] = job
		failed = append(failed, job)
	}
	return failed, nil
}

// RefundCharge stamps the refund only once the ledger has taken the credit
// back, so a failed Add leaves the job refundable.
func (s *Jobs) RefundCharge(ctx context.Context, id string, userID string, at time.Time) (models.Job, int, error) {
	if s.ledger == nil {
		return models.Job{}, 0, errNoLedger
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.UserID != userID {
		return models.Job{}, 0, repository.ErrJobNotFound
	}
	if job.RefundedAt != nil || job.ChargedCredits <= 0 ||
		(job.Status != models.JobStatusCancelled && job.Status != models.JobStatusFailed) {
		return models.Job{}, 0, repository.ErrJobNotRefundable
	}
	balance, err := s.ledger.Add(ctx, userID, job.ChargedCredits)
	if err != nil {
		return models.Job{}, 0, fmt.Errorf("credit refund: %w", err)
	}
	job.RefundedAt = &at
	s.jobs[id] = job
	return job, balance, nil
}
