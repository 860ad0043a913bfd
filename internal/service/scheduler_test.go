package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/egorkrivoshey335-create/bot-posts/internal/config"
	"github.com/egorkrivoshey335-create/bot-posts/internal/models"
)

type fakeRunner struct {
	mu    sync.Mutex
	fired []uint
	ch    chan uint
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{ch: make(chan uint, 16)}
}

func (r *fakeRunner) PublishScheduled(ctx context.Context, postID uint) {
	r.mu.Lock()
	r.fired = append(r.fired, postID)
	r.mu.Unlock()
	r.ch <- postID
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fired)
}

func newTestScheduler(t *testing.T, store *Store, runner PublishRunner) *Scheduler {
	t.Helper()
	s := NewScheduler(&config.SchedulerConfig{MisfireGrace: "5m"}, store, runner, zap.NewNop())
	t.Cleanup(s.Stop)
	return s
}

func TestSchedulerFires(t *testing.T) {
	runner := newFakeRunner()
	s := newTestScheduler(t, newTestStore(t), runner)

	s.Schedule(42, time.Now().Add(20*time.Millisecond))

	select {
	case id := <-runner.ch:
		if id != 42 {
			t.Fatalf("fired wrong post: %d", id)
		}
	case <-time.After(time.Second):
		t.Fatalf("job never fired")
	}

	if jobs := s.PendingJobs(); len(jobs) != 0 {
		t.Fatalf("fired job still pending: %v", jobs)
	}
}

func TestSchedulerCancelPreventsFire(t *testing.T) {
	runner := newFakeRunner()
	s := newTestScheduler(t, newTestStore(t), runner)

	jobID := s.Schedule(7, time.Now().Add(50*time.Millisecond))
	if !s.Cancel(jobID) {
		t.Fatalf("expected cancel to find the job")
	}

	time.Sleep(150 * time.Millisecond)
	if runner.count() != 0 {
		t.Fatalf("cancelled job fired anyway")
	}

	// Cancelling again is benign.
	if s.Cancel(jobID) {
		t.Fatalf("second cancel must report missing job")
	}
}

func TestSchedulerReplaceOnReschedule(t *testing.T) {
	runner := newFakeRunner()
	s := newTestScheduler(t, newTestStore(t), runner)

	s.Schedule(9, time.Now().Add(30*time.Millisecond))
	s.Schedule(9, time.Now().Add(60*time.Millisecond))

	if jobs := s.PendingJobs(); len(jobs) != 1 {
		t.Fatalf("expected a single pending job, got %v", jobs)
	}

	<-runner.ch
	time.Sleep(100 * time.Millisecond)
	if got := runner.count(); got != 1 {
		t.Fatalf("rescheduled job fired %d times", got)
	}
}

func TestSchedulerJobIDDeterministic(t *testing.T) {
	if JobID(12) != "publish_post_12" {
		t.Fatalf("unexpected job id: %q", JobID(12))
	}
	if JobID(12) != JobID(12) {
		t.Fatalf("job id not deterministic")
	}
}

func TestSchedulerRestoreOnStartup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		post := makePost(int64(400+i), "restore me")
		if err := store.CreatePost(ctx, post); err != nil {
			t.Fatalf("CreatePost failed: %v", err)
		}
		at := time.Now().Add(time.Duration(i+1) * time.Hour)
		if err := store.Schedule(ctx, post.ID, at, JobID(post.ID)); err != nil {
			t.Fatalf("Schedule failed: %v", err)
		}
	}
	// A draft must not get a timer.
	if err := store.CreatePost(ctx, makePost(500, "just a draft")); err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}

	runner := newFakeRunner()
	s := newTestScheduler(t, store, runner)

	if err := s.RestoreOnStartup(ctx); err != nil {
		t.Fatalf("RestoreOnStartup failed: %v", err)
	}
	if jobs := s.PendingJobs(); len(jobs) != 3 {
		t.Fatalf("expected 3 restored jobs, got %v", jobs)
	}
}

func TestSchedulerMisfireMarksFailed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	post := makePost(600, "missed")
	if err := store.CreatePost(ctx, post); err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}
	// Way past the grace period.
	at := time.Now().Add(-time.Hour)
	if err := store.Schedule(ctx, post.ID, at, JobID(post.ID)); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	runner := newFakeRunner()
	s := NewScheduler(&config.SchedulerConfig{MisfireGrace: "1s"}, store, runner, zap.NewNop())
	defer s.Stop()

	s.Schedule(post.ID, at)
	time.Sleep(100 * time.Millisecond)

	if runner.count() != 0 {
		t.Fatalf("misfired job must not publish")
	}
	got, err := store.GetPost(ctx, post.ID)
	if err != nil {
		t.Fatalf("GetPost failed: %v", err)
	}
	if got.Status != models.StatusFailed {
		t.Fatalf("expected failed after misfire, got %s", got.Status)
	}
}

func TestStrayFireAfterUnschedule(t *testing.T) {
	store := newTestStore(t)
	tg := newFakeSender()
	p := NewPublisher(tg, store, -100123, zap.NewNop())
	s := newTestScheduler(t, store, p)
	ctx := context.Background()

	post := makePost(800, "cancelled in store only")
	if err := store.CreatePost(ctx, post); err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}
	at := time.Now().Add(50 * time.Millisecond)
	if err := store.Schedule(ctx, post.ID, at, JobID(post.ID)); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	s.Schedule(post.ID, at)

	// The store is updated first; the still-armed timer fires into a post
	// that is no longer scheduled and must do nothing.
	if err := store.Unschedule(ctx, post.ID); err != nil {
		t.Fatalf("Unschedule failed: %v", err)
	}

	time.Sleep(150 * time.Millisecond)

	if total := len(tg.texts) + len(tg.medias) + len(tg.groups); total != 0 {
		t.Fatalf("unscheduled post reached the channel: %d sends", total)
	}
	got, _ := store.GetPost(ctx, post.ID)
	if got.Status != models.StatusDraft {
		t.Fatalf("expected draft, got %s", got.Status)
	}
}

func TestSchedulerStopPreventsFire(t *testing.T) {
	runner := newFakeRunner()
	s := NewScheduler(&config.SchedulerConfig{MisfireGrace: "5m"}, newTestStore(t), runner, zap.NewNop())

	s.Schedule(1, time.Now().Add(50*time.Millisecond))
	s.Stop()

	time.Sleep(150 * time.Millisecond)
	if runner.count() != 0 {
		t.Fatalf("job fired after Stop")
	}
}
