package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"photorestore/internal/config"
	"photorestore/internal/events"
	"photorestore/internal/ids"
	"photorestore/internal/metrics"
	"photorestore/internal/models"
	"photorestore/internal/prediction"
	"photorestore/internal/queue"
	"photorestore/internal/repository"
	"photorestore/internal/storage"
)

const (
	listJobsLimit      = 50
	restorationPrompt  = "Photo restoration"
	signedSourceURLTTL = time.Hour
)

type JobServiceDeps struct {
	Jobs      JobStore
	Images    ImageStore
	Storage   ObjectStorage
	Predictor Predictor
	Tasks     TaskQueue
	Events    events.Publisher
}

type JobService struct {
	jobs      JobStore
	images    ImageStore
	storage   ObjectStorage
	predictor Predictor
	tasks     TaskQueue
	events    events.Publisher
	cfg       config.JobsConfig
	log       zerolog.Logger
	now       func() time.Time
}

func NewJobService(deps JobServiceDeps, cfg config.JobsConfig, log zerolog.Logger) *JobService {
	publisher := deps.Events
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &JobService{
		jobs:      deps.Jobs,
		images:    deps.Images,
		storage:   deps.Storage,
		predictor: deps.Predictor,
		tasks:     deps.Tasks,
		events:    events.Logged{Next: publisher, Log: log},
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// Start charges the restoration cost, creates a processing job for an
// uploaded image and submits it to the prediction service. The charge and
// the job row commit together; an upstream failure leaves the job failed and
// refundable, never stuck. The returned balance is the one after the charge.
func (s *JobService) Start(ctx context.Context, userID, imagePath string) (models.Job, int, error) {
	imagePath = strings.TrimSpace(imagePath)
	if userID == "" || imagePath == "" {
		return models.Job{}, 0, fmt.Errorf("%w: user_id and image_path are required", ErrInvalidInput)
	}
	if !OwnsObject(userID, imagePath) {
		return models.Job{}, 0, ErrNotFound
	}

	now := s.now().UTC()
	timeoutAt := now.Add(s.cfg.Timeout)
	job := models.Job{
		ID:             ids.New(),
		UserID:         userID,
		ImagePath:      imagePath,
		Status:         models.JobStatusProcessing,
		CreatedAt:      now,
		StartedAt:      &now,
		TimeoutAt:      &timeoutAt,
		ChargedCredits: s.cfg.RestorationCost,
	}
	balance, err := s.createJob(ctx, job)
	if err != nil {
		return models.Job{}, 0, err
	}
	s.publish(ctx, events.TypeJobStarted, job)

	sourceURL, err := s.storage.SignedURL(ctx, storage.BucketOriginals, imagePath, signedSourceURLTTL)
	if err != nil {
		failed, err := s.failStart(ctx, job, fmt.Errorf("sign source: %w", err))
		return failed, balance, err
	}

	pred, err := s.predictor.Create(ctx, job.ID, sourceURL)
	if err != nil {
		failed, err := s.failStart(ctx, job, err)
		return failed, balance, err
	}

	if err := s.jobs.SetPredictionID(ctx, job.ID, pred.ID); err != nil {
		if !errors.Is(err, repository.ErrJobTerminal) {
			s.enqueueCancel(ctx, job.ID, pred.ID)
			return models.Job{}, 0, fmt.Errorf("store prediction id: %w", err)
		}
		// The job went terminal while the prediction was being created. A
		// webhook that already settled it through the job_id fallback owns
		// the prediction; anything else left it running upstream.
		current, err := s.jobs.GetByID(ctx, job.ID)
		if err != nil {
			s.enqueueCancel(ctx, job.ID, pred.ID)
			return models.Job{}, 0, err
		}
		if current.PredictionID != pred.ID {
			s.enqueueCancel(ctx, job.ID, pred.ID)
		}
		return current, balance, nil
	}
	job.PredictionID = pred.ID

	s.log.Info().
		Str("job_id", job.ID).
		Str("user_id", userID).
		Str("prediction_id", pred.ID).
		Int("balance", balance).
		Msg("restoration started")
	return job, balance, nil
}

// createJob inserts the job and takes its charge in one step. A zero cost
// creates a free job that is never refundable.
func (s *JobService) createJob(ctx context.Context, job models.Job) (int, error) {
	if job.ChargedCredits <= 0 {
		job.ChargedCredits = 0
		if err := s.jobs.Create(ctx, job); err != nil {
			return 0, fmt.Errorf("create job: %w", err)
		}
		return 0, nil
	}
	balance, err := s.jobs.CreateCharged(ctx, job)
	metrics.RecordCreditMutation("deduct", err)
	if errors.Is(err, repository.ErrInsufficientCredits) {
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("create job: %w", err)
	}
	return balance, nil
}

func (s *JobService) failStart(ctx context.Context, job models.Job, cause error) (models.Job, error) {
	s.log.Error().Err(cause).Str("job_id", job.ID).Msg("start restoration failed")

	msg := models.JobMessageStartFailed
	failed, err := s.jobs.Transition(ctx, job.ID, repository.JobTransition{
		Status:       models.JobStatusFailed,
		ErrorMessage: &msg,
		At:           s.now().UTC(),
	})
	if err != nil {
		s.log.Error().Err(err).Str("job_id", job.ID).Msg("mark start failure")
		return job, fmt.Errorf("%w: %v", ErrStartFailed, cause)
	}
	s.recordTerminal(ctx, events.TypeJobFailed, failed)
	return failed, fmt.Errorf("%w: %v", ErrStartFailed, cause)
}

// HandleWebhook applies a prediction callback. Unknown prediction ids return
// repository.ErrJobNotFound without side effects; redelivery to a terminal
// job is acknowledged and ignored. A callback can beat Start to storing the
// prediction id, so the job_id carried on the webhook URL is tried next.
func (s *JobService) HandleWebhook(ctx context.Context, hook prediction.Webhook) (models.Job, error) {
	job, err := s.jobs.GetByPredictionID(ctx, hook.ID)
	if errors.Is(err, repository.ErrJobNotFound) && hook.JobID != "" {
		job, err = s.adoptPrediction(ctx, hook)
	}
	if err != nil {
		return models.Job{}, err
	}
	if job.Status.Terminal() || !hook.Status.Final() {
		return job, nil
	}

	transition := repository.JobTransition{At: s.now().UTC()}
	eventType := events.TypeJobFailed
	if hook.Succeeded() && hook.Output != "" {
		output := hook.Output
		transition.Status = models.JobStatusCompleted
		transition.ResultURL = &output
		eventType = events.TypeJobCompleted
	} else {
		msg := hook.Error
		switch {
		case msg != "":
		case hook.Succeeded():
			msg = models.JobMessageNoOutput
		default:
			msg = fmt.Sprintf("Prediction %s", hook.Status)
		}
		transition.Status = models.JobStatusFailed
		transition.ErrorMessage = &msg
	}

	updated, err := s.jobs.Transition(ctx, job.ID, transition)
	if errors.Is(err, repository.ErrJobTerminal) {
		return s.jobs.GetByID(ctx, job.ID)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("apply webhook: %w", err)
	}
	s.recordTerminal(ctx, eventType, updated)

	if updated.Status == models.JobStatusCompleted {
		s.saveResult(ctx, updated)
	}
	return updated, nil
}

// adoptPrediction resolves a callback through its job_id when the prediction id
// is not stored yet. Only a job with no prediction of its own can adopt one.
func (s *JobService) adoptPrediction(ctx context.Context, hook prediction.Webhook) (models.Job, error) {
	if !ids.Valid(hook.JobID) {
		return models.Job{}, repository.ErrJobNotFound
	}
	job, err := s.jobs.GetByID(ctx, hook.JobID)
	if err != nil {
		return models.Job{}, err
	}
	if job.PredictionID != "" {
		return models.Job{}, repository.ErrJobNotFound
	}
	if job.Status.Terminal() {
		return job, nil
	}
	if err := s.jobs.SetPredictionID(ctx, job.ID, hook.ID); err != nil {
		if errors.Is(err, repository.ErrJobTerminal) {
			return s.jobs.GetByID(ctx, job.ID)
		}
		return models.Job{}, fmt.Errorf("adopt prediction: %w", err)
	}
	job.PredictionID = hook.ID
	s.log.Debug().Str("job_id", job.ID).Str("prediction_id", hook.ID).Msg("webhook arrived before prediction id was stored")
	return job, nil
}

// saveResult adds the output to the user's gallery and queues a copy into
// the restored bucket, since upstream output URLs expire.
func (s *JobService) saveResult(ctx context.Context, job models.Job) {
	jobID := job.ID
	image := models.SavedImage{
		ID:          ids.New(),
		UserID:      job.UserID,
		JobID:       &jobID,
		OriginalURL: job.ImagePath,
		EditedURL:   *job.ResultURL,
		Prompt:      restorationPrompt,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.images.Create(ctx, image); err != nil {
		s.log.Error().Err(err).Str("job_id", job.ID).Msg("save restored image failed")
		return
	}
	if s.tasks == nil {
		return
	}
	if err := s.tasks.Enqueue(ctx, queue.Task{
		Type:      queue.TaskPersistResult,
		JobID:     job.ID,
		UserID:    job.UserID,
		ImageID:   image.ID,
		SourceURL: image.EditedURL,
	}); err != nil {
		s.log.Warn().Err(err).Str("job_id", job.ID).Msg("enqueue persist result failed")
	}
}

// Cancel moves an owned, active job to cancelled. Upstream cancellation is
// queued after the local transition commits and never fails the call.
func (s *JobService) Cancel(ctx context.Context, userID, jobID string) (models.Job, error) {
	job, err := s.Get(ctx, userID, jobID)
	if err != nil {
		return models.Job{}, err
	}
	if job.Status.Terminal() {
		return job, ErrJobNotCancellable
	}

	msg := models.JobMessageCancelled
	updated, err := s.jobs.Transition(ctx, job.ID, repository.JobTransition{
		Status:       models.JobStatusCancelled,
		ErrorMessage: &msg,
		At:           s.now().UTC(),
	})
	if errors.Is(err, repository.ErrJobTerminal) {
		return job, ErrJobNotCancellable
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("cancel job: %w", err)
	}
	s.recordTerminal(ctx, events.TypeJobCancelled, updated)
	s.enqueueCancel(ctx, updated.ID, updated.PredictionID)
	return updated, nil
}

// Sweep fails every active job past its deadline and returns how many it
// cleaned. Jobs without a timeout use the staleness window from started_at.
func (s *JobService) Sweep(ctx context.Context) (int, error) {
	now := s.now().UTC()
	expired, err := s.jobs.FailExpired(ctx, now, now.Add(-s.cfg.StalenessWindow), models.JobMessageTimedOut)
	if err != nil {
		return 0, fmt.Errorf("fail expired jobs: %w", err)
	}
	for _, job := range expired {
		s.recordTerminal(ctx, events.TypeJobTimedOut, job)
		s.enqueueCancel(ctx, job.ID, job.PredictionID)
	}
	metrics.RecordSweep(len(expired))
	if len(expired) > 0 {
		s.log.Info().Int("cleaned", len(expired)).Msg("timed out jobs swept")
	}
	return len(expired), nil
}

func (s *JobService) List(ctx context.Context, userID string) ([]models.Job, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.jobs.ListByUser(ctx, userID, listJobsLimit)
}

// Get returns an owned job; other users' jobs read as not found.
func (s *JobService) Get(ctx context.Context, userID, jobID string) (models.Job, error) {
	if jobID == "" {
		return models.Job{}, fmt.Errorf("%w: job_id is required", ErrInvalidInput)
	}
	if !ids.Valid(jobID) {
		return models.Job{}, repository.ErrJobNotFound
	}
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}
	if job.UserID != userID {
		return models.Job{}, repository.ErrJobNotFound
	}
	return job, nil
}

// RefundJob returns what a cancelled or failed job was charged, once. The
// refund stamp and the credit increment commit together.
func (s *JobService) RefundJob(ctx context.Context, userID, jobID string) (int, error) {
	if _, err := s.Get(ctx, userID, jobID); err != nil {
		return 0, err
	}
	job, balance, err := s.jobs.RefundCharge(ctx, jobID, userID, s.now().UTC())
	if errors.Is(err, repository.ErrJobNotFound) || errors.Is(err, repository.ErrJobNotRefundable) {
		return 0, err
	}
	metrics.RecordCreditMutation("refund", err)
	if err != nil {
		return 0, fmt.Errorf("refund job %s: %w", jobID, err)
	}
	s.log.Info().
		Str("job_id", jobID).
		Str("user_id", userID).
		Int("amount", job.ChargedCredits).
		Int("balance", balance).
		Msg("job refunded")
	return balance, nil
}

func (s *JobService) enqueueCancel(ctx context.Context, jobID, predictionID string) {
	if predictionID == "" || s.tasks == nil {
		return
	}
	err := s.tasks.Enqueue(ctx, queue.Task{
		Type:         queue.TaskCancelPrediction,
		JobID:        jobID,
		PredictionID: predictionID,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("job_id", jobID).Str("prediction_id", predictionID).Msg("enqueue upstream cancel failed")
	}
}

// CancelUpstream asks the prediction service to stop work. Errors are logged only.
func (s *JobService) CancelUpstream(ctx context.Context, predictionID string) {
	if err := s.predictor.Cancel(ctx, predictionID); err != nil {
		s.log.Warn().Err(err).Str("prediction_id", predictionID).Msg("upstream cancel failed")
	}
}

func (s *JobService) recordTerminal(ctx context.Context, t events.Type, job models.Job) {
	var elapsed time.Duration
	if job.StartedAt != nil && job.CompletedAt != nil {
		elapsed = job.CompletedAt.Sub(*job.StartedAt)
	}
	metrics.RecordJobTransition(string(job.Status), elapsed)
	s.publish(ctx, t, job)
}

func (s *JobService) publish(ctx context.Context, t events.Type, job models.Job) {
	_ = s.events.Publish(ctx, events.FromJob(t, job, s.now().UTC()))
}

// OwnsObject reports whether key sits in the user's storage folder.
func OwnsObject(userID, key string) bool {
	if userID == "" || key == "" || strings.Contains(key, "..") {
		return false
	}
	clean := path.Clean(strings.TrimPrefix(key, "/"))
	return strings.HasPrefix(clean, userID+"/") && len(clean) > len(userID)+1
}
