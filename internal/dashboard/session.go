package dashboard

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const DefaultMinCancelAge = 10 * time.Second

var (
	ErrInvalidImagePath = errors.New("image path must name one of your uploads")
	ErrUnknownJob       = errors.New("unknown job")
	ErrJobTooYoung      = errors.New("job is too new to cancel")
	ErrJobNotActive     = errors.New("job is not running")
)

// API is the slice of the restoration API a session drives.
type API interface {
	ListJobs(ctx context.Context) ([]Job, error)
	StartRestoration(ctx context.Context, imagePath string) (StartResult, error)
	CancelRestoration(ctx context.Context, jobID string) error
	Credits(ctx context.Context) (int, error)
	RefundCredits(ctx context.Context, jobID string) (int, error)
}

type SessionOptions struct {
	UserID       string
	Cost         int
	MinCancelAge time.Duration
	Now          func() time.Time
}

// Session pairs the optimistic balance with the job watcher for one user.
type Session struct {
	api     API
	watcher *Watcher
	balance *OptimisticBalance
	opts    SessionOptions
	log     zerolog.Logger
}

func NewSession(api API, watcher *Watcher, opts SessionOptions, log zerolog.Logger) *Session {
	if opts.Cost <= 0 {
		opts.Cost = 1
	}
	if opts.MinCancelAge <= 0 {
		opts.MinCancelAge = DefaultMinCancelAge
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{
		api:     api,
		watcher: watcher,
		balance: NewOptimisticBalance(0),
		opts:    opts,
		log:     log,
	}
}

func (s *Session) Balance() *OptimisticBalance { return s.balance }

// Load reads the authoritative balance.
func (s *Session) Load(ctx context.Context) error {
	credits, err := s.api.Credits(ctx)
	if err != nil {
		return fmt.Errorf("load credits: %w", err)
	}
	return s.balance.Sync(ctx, credits)
}

// StartRestoration projects the restoration cost and starts the job; the
// server charges the cost as part of the start. A start that fails after the
// job was recorded is refunded against that job.
func (s *Session) StartRestoration(ctx context.Context, imagePath string) (StartResult, error) {
	clean := path.Clean(strings.TrimPrefix(imagePath, "/"))
	if imagePath == "" || strings.Contains(imagePath, "..") || !strings.HasPrefix(clean, s.opts.UserID+"/") {
		return StartResult{}, ErrInvalidImagePath
	}

	var res StartResult
	_, err := s.balance.Deduct(ctx, s.opts.Cost, func(ctx context.Context) (int, error) {
		var err error
		res, err = s.api.StartRestoration(ctx, clean)
		return res.Credits, err
	})
	if err != nil {
		s.rollbackStart(ctx, err)
		return StartResult{}, err
	}

	if s.watcher != nil {
		s.watcher.Arm()
	}
	s.log.Info().Str("job_id", res.JobID).Int("credits", res.Credits).Msg("restoration started")
	return res, nil
}

func (s *Session) rollbackStart(ctx context.Context, cause error) {
	var apiErr *APIError
	if !errors.As(cause, &apiErr) || apiErr.JobID == "" {
		s.log.Debug().Err(cause).Msg("start failed before a job was recorded; nothing was charged")
		return
	}
	if _, err := s.refund(ctx, apiErr.JobID); err != nil {
		s.log.Error().Err(err).Str("job_id", apiErr.JobID).Msg("refund after failed start")
	}
}

// CancelJob cancels a running job once it is old enough and then requests
// the refund the cancellation earns.
func (s *Session) CancelJob(ctx context.Context, jobID string) (int, error) {
	job, ok := s.lookup(ctx, jobID)
	if !ok {
		return 0, ErrUnknownJob
	}
	if !job.Status.Active() {
		return 0, ErrJobNotActive
	}
	if age := s.opts.Now().Sub(job.CreatedAt); age < s.opts.MinCancelAge {
		return 0, fmt.Errorf("%w: wait %s", ErrJobTooYoung, (s.opts.MinCancelAge - age).Round(time.Second))
	}

	if err := s.api.CancelRestoration(ctx, jobID); err != nil {
		return 0, err
	}
	if s.watcher != nil {
		s.watcher.Nudge()
	}
	return s.refund(ctx, jobID)
}

func (s *Session) refund(ctx context.Context, jobID string) (int, error) {
	return s.balance.Refund(ctx, s.opts.Cost, func(ctx context.Context) (int, error) {
		return s.api.RefundCredits(ctx, jobID)
	})
}

func (s *Session) lookup(ctx context.Context, jobID string) (Job, bool) {
	if s.watcher != nil {
		if job, ok := s.watcher.Job(jobID); ok {
			return job, true
		}
	}
	jobs, err := s.api.ListJobs(ctx)
	if err != nil {
		return Job{}, false
	}
	for _, job := range jobs {
		if job.ID == jobID {
			return job, true
		}
	}
	return Job{}, false
}
