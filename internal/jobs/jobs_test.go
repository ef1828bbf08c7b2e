package jobs_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	dbfs "github.com/garnizeh/timesheets/db"
	"github.com/garnizeh/timesheets/internal/db"
	"github.com/garnizeh/timesheets/internal/jobs"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func setupRepo(t *testing.T) (*db.DB, *jobs.Repository) {
	t.Helper()
	ctx := context.Background()

	d, err := db.New(ctx, ":memory:", slog.Default())
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	if err := db.Migrate(ctx, d, dbfs.Migrations); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return d, jobs.NewRepository(d)
}

func TestEnqueueAndProcess(t *testing.T) {
	ctx := context.Background()
	_, repo := setupRepo(t)

	handled := make(chan map[string]string, 1)
	pool := jobs.NewWorkerPool(repo, nil, slog.Default(), 1)
	pool.Register("test", func(ctx context.Context, j *jobs.Job) error {
		var p map[string]string
		if err := j.Decode(&p); err != nil {
			return err
		}
		handled <- p
		return nil
	})

	id, err := pool.Enqueue(ctx, "test", map[string]string{"foo": "bar"}, 10, 3)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	pool.Start(ctx)
	defer pool.Stop()

	select {
	case p := <-handled:
		if p["foo"] != "bar" {
			t.Fatalf("unexpected payload %v", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("handler was not called")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		j, err := repo.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if j != nil && j.Status == jobs.StatusDone {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job not marked done: %#v", j)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestFailedJobIsDeadLettered(t *testing.T) {
	ctx := context.Background()
	_, repo := setupRepo(t)

	pool := jobs.NewWorkerPool(repo, map[string]jobs.Handler{
		"boom": func(ctx context.Context, j *jobs.Job) error { return errors.New("smtp down") },
	}, nil, 1)

	id, err := pool.Enqueue(ctx, "boom", map[string]int{"n": 1}, 1, 1)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := pool.Enqueue(ctx, "unknown", nil, 1, 1); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	pool.Start(ctx)
	defer pool.Stop()

	deadline := time.Now().Add(3 * time.Second)
	var dead []jobs.DeadLetter
	for time.Now().Before(deadline) {
		dead, err = repo.ListDeadLetters(ctx)
		if err != nil {
			t.Fatalf("ListDeadLetters: %v", err)
		}
		if len(dead) == 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(dead) != 2 {
		t.Fatalf("expected 2 dead letters, got %#v", dead)
	}

	var boom *jobs.DeadLetter
	for i := range dead {
		if dead[i].JobID == id {
			boom = &dead[i]
		}
	}
	if boom == nil || !strings.Contains(boom.LastError, "smtp down") || !strings.Contains(boom.LastError, jobs.ErrMaxAttempts.Error()) {
		t.Fatalf("unexpected dead letter: %#v", boom)
	}

	if j, _ := repo.Get(ctx, id); j != nil {
		t.Fatalf("dead-lettered job must leave the queue")
	}
}

func TestClaimRespectsPriority(t *testing.T) {
	ctx := context.Background()
	_, repo := setupRepo(t)

	low, _ := repo.Enqueue(ctx, &jobs.Job{Type: "a", Payload: []byte(`{}`), Priority: 100})
	high, _ := repo.Enqueue(ctx, &jobs.Job{Type: "b", Payload: []byte(`{}`), Priority: 10})
	later, _ := repo.Enqueue(ctx, &jobs.Job{Type: "c", Payload: []byte(`{}`), Priority: 1, ScheduledAt: time.Now().Add(time.Hour)})

	j, err := repo.Claim(ctx)
	if err != nil || j == nil || j.ID != high {
		t.Fatalf("expected job %d first, got %#v (%v)", high, j, err)
	}
	if j.Status != jobs.StatusRunning || j.MaxAttempts != 5 {
		t.Fatalf("unexpected claimed job %#v", j)
	}

	j, _ = repo.Claim(ctx)
	if j == nil || j.ID != low {
		t.Fatalf("expected job %d second, got %#v", low, j)
	}

	if j, _ := repo.Claim(ctx); j != nil {
		t.Fatalf("job %d is scheduled in the future and must not be claimed, got %d", later, j.ID)
	}
}

func TestInterruptedJobIsRescheduled(t *testing.T) {
	_, repo := setupRepo(t)

	started := make(chan struct{})
	pool := jobs.NewWorkerPool(repo, map[string]jobs.Handler{
		"slow": func(ctx context.Context, j *jobs.Job) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	}, nil, 1)

	id, err := pool.Enqueue(context.Background(), "slow", map[string]int{"n": 1}, 1, 3)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		cancel()
		pool.Stop()
		t.Fatalf("handler was not called")
	}
	cancel()
	pool.Stop()

	j, err := repo.Get(context.Background(), id)
	if err != nil || j == nil {
		t.Fatalf("Get: %#v (%v)", j, err)
	}
	if j.Status != jobs.StatusRetry || j.Attempts != 1 || j.NextTryAt == nil {
		t.Fatalf("interrupted job must be scheduled for retry, got status=%s attempts=%d", j.Status, j.Attempts)
	}
}

func TestClaimReclaimsStaleRunningJob(t *testing.T) {
	ctx := context.Background()
	_, repo := setupRepo(t)

	id, err := repo.Enqueue(ctx, &jobs.Job{Type: "mail", Payload: []byte(`{}`), Priority: 1})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if j, err := repo.Claim(ctx); err != nil || j == nil || j.ID != id {
		t.Fatalf("first claim: %#v (%v)", j, err)
	}

	// the claiming worker died; within the lease nobody may take the job
	if j, _ := repo.Claim(ctx); j != nil {
		t.Fatalf("running job %d claimed again inside its lease", j.ID)
	}

	repo.WithLease(time.Nanosecond)
	j, err := repo.Claim(ctx)
	if err != nil || j == nil || j.ID != id || j.Status != jobs.StatusRunning {
		t.Fatalf("stale running job must be reclaimed, got %#v (%v)", j, err)
	}
}

func TestBackoffDuration(t *testing.T) {
	cases := map[int]time.Duration{
		0:  time.Second,
		1:  2 * time.Second,
		3:  8 * time.Second,
		10: 5 * time.Minute,
		64: 5 * time.Minute,
	}
	for attempt, want := range cases {
		if got := jobs.BackoffDuration(attempt); got != want {
			t.Errorf("BackoffDuration(%d) = %v, want %v", attempt, got, want)
		}
	}
}
