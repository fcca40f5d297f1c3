package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"photorestore/internal/events"
	"photorestore/internal/models"
)

const DefaultPollInterval = 2 * time.Second

type JobLister interface {
	ListJobs(ctx context.Context) ([]Job, error)
}

// Notifier surfaces finished jobs to the user.
type Notifier interface {
	JobCompleted(job Job, elapsed time.Duration)
	JobFailed(job Job, message string)
}

type WatcherOptions struct {
	UserID    string
	Interval  time.Duration
	Analytics events.Publisher
}

// Watcher polls the job list while at least one job is active. The ticker
// exists only while armed and never outlives Run.
type Watcher struct {
	lister    JobLister
	notifier  Notifier
	analytics events.Publisher
	userID    string
	interval  time.Duration
	log       zerolog.Logger

	arm   chan struct{}
	nudge chan struct{}

	mu     sync.Mutex
	jobs   []Job
	armed  bool
	loaded bool
}

func NewWatcher(lister JobLister, notifier Notifier, opts WatcherOptions, log zerolog.Logger) *Watcher {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	analytics := opts.Analytics
	if analytics == nil {
		analytics = events.Nop{}
	}
	return &Watcher{
		lister:    lister,
		notifier:  notifier,
		analytics: events.Logged{Next: analytics, Log: log},
		userID:    opts.UserID,
		interval:  interval,
		log:       log,
		arm:       make(chan struct{}, 1),
		nudge:     make(chan struct{}, 1),
	}
}

// Jobs returns the last fetched job list.
func (w *Watcher) Jobs() []Job {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Job, len(w.jobs))
	copy(out, w.jobs)
	return out
}

// Job looks up a job from the last fetch.
func (w *Watcher) Job(id string) (Job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, job := range w.jobs {
		if job.ID == id {
			return job, true
		}
	}
	return Job{}, false
}

// Loaded reports whether the first fetch has succeeded.
func (w *Watcher) Loaded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loaded
}

func (w *Watcher) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed
}

// Arm refetches and resumes polling. Call it after starting a job.
func (w *Watcher) Arm() {
	select {
	case w.arm <- struct{}{}:
	default:
	}
}

// Nudge requests an immediate refetch, e.g. when a push event arrives.
func (w *Watcher) Nudge() {
	select {
	case w.nudge <- struct{}{}:
	default:
	}
}

// Run loads the job list and polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	var (
		ticker *time.Ticker
		tick   <-chan time.Time
	)
	disarm := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
	}
	defer func() {
		disarm()
		w.setArmed(false)
	}()

	w.refresh(ctx)
	for {
		if HasActiveJobs(w.Jobs()) {
			if ticker == nil {
				ticker = time.NewTicker(w.interval)
				tick = ticker.C
			}
		} else {
			disarm()
		}
		w.setArmed(ticker != nil)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
		case <-w.nudge:
		case <-w.arm:
		}
		w.refresh(ctx)
	}
}

func (w *Watcher) setArmed(v bool) {
	w.mu.Lock()
	w.armed = v
	w.mu.Unlock()
}

// refresh replaces the job list and reports transitions. A failed fetch keeps
// the previous list.
func (w *Watcher) refresh(ctx context.Context) {
	next, err := w.lister.ListJobs(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Warn().Err(err).Msg("refresh jobs failed")
		}
		return
	}

	w.mu.Lock()
	prev := w.jobs
	first := !w.loaded
	w.jobs = next
	w.loaded = true
	w.mu.Unlock()

	if first {
		return
	}
	for _, t := range DiffJobs(prev, next) {
		w.report(ctx, t)
	}
}

func (w *Watcher) report(ctx context.Context, t Transition) {
	job := t.Job
	elapsed := job.Elapsed()
	ev := events.JobEvent{
		JobID:     job.ID,
		UserID:    w.userID,
		Status:    job.Status,
		ElapsedMS: elapsed.Milliseconds(),
		At:        time.Now().UTC(),
	}
	if job.ResultURL != nil {
		ev.ResultURL = *job.ResultURL
	}

	switch job.Status {
	case models.JobStatusCompleted:
		ev.Type = events.TypeJobCompleted
		if w.notifier != nil {
			w.notifier.JobCompleted(job, elapsed)
		}
	case models.JobStatusFailed:
		ev.Type = events.TypeJobFailed
		msg := "Restoration failed"
		if job.ErrorMessage != nil && *job.ErrorMessage != "" {
			msg = *job.ErrorMessage
		}
		ev.ErrorMessage = msg
		if w.notifier != nil {
			w.notifier.JobFailed(job, msg)
		}
	}
	_ = w.analytics.Publish(ctx, ev)
}
