package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"photorestore/internal/queue"
)

type TaskQueue interface {
	Enqueue(ctx context.Context, task queue.Task) error
}

// TickLocker elects one replica per tick.
type TickLocker interface {
	Acquire(ctx context.Context, name string, tick time.Time, ttl time.Duration) (bool, error)
}

// Scheduler enqueues the timeout sweep on a cron schedule with a seconds field.
type Scheduler struct {
	cron     *cron.Cron
	queue    TaskQueue
	lock     TickLocker
	schedule string
	log      zerolog.Logger
}

func NewScheduler(q TaskQueue, schedule string, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		queue:    q,
		schedule: schedule,
		log:      log,
	}
}

// WithLock makes replicas sharing lock enqueue each sweep once.
func (s *Scheduler) WithLock(lock TickLocker) *Scheduler {
	s.lock = lock
	return s
}

func (s *Scheduler) Start() error {
	if s.queue == nil {
		return nil
	}
	if _, err := s.cron.AddFunc(s.schedule, s.enqueueSweep); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", s.schedule, err)
	}
	s.cron.Start()
	return nil
}

// Stop waits up to five seconds for a running enqueue to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
	}
}

func (s *Scheduler) enqueueSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.lock != nil {
		tick := time.Now().Truncate(time.Second)
		held, err := s.lock.Acquire(ctx, "sweep", tick, time.Minute)
		switch {
		case err != nil:
			// Sweeps are idempotent; run without the lock.
			s.log.Warn().Err(err).Msg("sweep lock unavailable")
		case !held:
			return
		}
	}

	if err := s.queue.Enqueue(ctx, queue.Task{Type: queue.TaskSweep}); err != nil {
		s.log.Error().Err(err).Msg("enqueue sweep failed")
	}
}
