package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/egorkrivoshey335-create/bot-posts/internal/config"
)

// PublishRunner executes one scheduled publication. Implemented by Publisher.
type PublishRunner interface {
	PublishScheduled(ctx context.Context, postID uint)
}

type job struct {
	postID uint
	at     time.Time
	timer  *time.Timer
}

// Scheduler holds one pending timer per scheduled post, keyed by a
// deterministic job id. Timer state lives in process memory only and is
// rebuilt from the store on startup.
type Scheduler struct {
	config *config.SchedulerConfig
	logger *zap.Logger
	store  *Store
	runner PublishRunner
	grace  time.Duration

	mu      sync.Mutex
	jobs    map[string]*job
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(cfg *config.SchedulerConfig, store *Store, runner PublishRunner, logger *zap.Logger) *Scheduler {
	grace, err := time.ParseDuration(cfg.MisfireGrace)
	if err != nil || grace <= 0 {
		grace = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		config: cfg,
		logger: logger,
		store:  store,
		runner: runner,
		grace:  grace,
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// JobID derives the deterministic job id for a post, so re-scheduling the
// same post replaces its pending job instead of duplicating it.
func JobID(postID uint) string {
	return fmt.Sprintf("publish_post_%d", postID)
}

// Schedule registers (or replaces) the pending job for a post and returns the
// job handle. An instant already in the past fires immediately.
func (s *Scheduler) Schedule(postID uint, at time.Time) string {
	jobID := JobID(postID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		s.logger.Warn("Schedule called on stopped scheduler", zap.String("job_id", jobID))
		return jobID
	}

	if existing, ok := s.jobs[jobID]; ok {
		existing.timer.Stop()
		delete(s.jobs, jobID)
	}

	j := &job{postID: postID, at: at}
	j.timer = time.AfterFunc(time.Until(at), func() { s.fire(jobID) })
	s.jobs[jobID] = j

	s.logger.Info("Post scheduled",
		zap.String("job_id", jobID),
		zap.Time("at", at))
	return jobID
}

// Cancel removes a pending job if present. A missing job is a normal outcome
// (already fired or already cancelled), never an error.
func (s *Scheduler) Cancel(jobID string) bool {
	s.mu.Lock()
	j, ok := s.jobs[jobID]
	if ok {
		j.timer.Stop()
		delete(s.jobs, jobID)
	}
	s.mu.Unlock()

	if ok {
		s.logger.Info("Cancelled scheduled job", zap.String("job_id", jobID))
	} else {
		s.logger.Warn("Cancel requested for unknown job", zap.String("job_id", jobID))
	}
	return ok
}

// PendingJobs returns the ids of all registered pending jobs.
func (s *Scheduler) PendingJobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}

// RestoreOnStartup rebuilds the timer table from durable state: every post in
// status scheduled gets its job re-registered at the stored instant. Overdue
// posts fire immediately (misfire handling happens at fire time).
func (s *Scheduler) RestoreOnStartup(ctx context.Context) error {
	posts, err := s.store.ListScheduled(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore scheduled jobs: %w", err)
	}

	for _, post := range posts {
		if post.ScheduledAt == nil {
			s.logger.Error("Scheduled post has no scheduled_at, skipping",
				zap.Uint("post_id", post.ID))
			continue
		}
		s.Schedule(post.ID, *post.ScheduledAt)
	}

	s.logger.Info("Restored scheduled jobs from store", zap.Int("count", len(posts)))
	return nil
}

// Stop cancels all pending timers. In-flight fires finish on their own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, j := range s.jobs {
		j.timer.Stop()
		delete(s.jobs, id)
	}
	s.mu.Unlock()

	s.cancel()
	s.logger.Info("Scheduler shutdown completed")
}

// fire runs when a timer elapses. Removing the job from the table under the
// lock before running makes execution at-most-once per job id even if the
// timer mechanism delivers duplicate signals.
func (s *Scheduler) fire(jobID string) {
	s.mu.Lock()
	j, ok := s.jobs[jobID]
	if ok {
		delete(s.jobs, jobID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	// Firing slightly late is normal. Beyond the grace period the window was
	// missed: mark the post failed rather than publish at a wrong time or
	// leave it claiming to be scheduled with no timer.
	if late := time.Since(j.at); late > s.grace {
		s.logger.Warn("Job missed its window, marking post failed",
			zap.String("job_id", jobID),
			zap.Duration("late", late))
		if err := s.store.MarkFailed(s.ctx, j.postID); err != nil {
			s.logger.Error("Failed to mark misfired post",
				zap.Uint("post_id", j.postID),
				zap.Error(err))
		}
		return
	}

	s.runner.PublishScheduled(s.ctx, j.postID)
}
