package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	jobqueue "github.com/UmairAbideen/cron-job-with-queue"
	"github.com/UmairAbideen/cron-job-with-queue/backoff"
	"github.com/UmairAbideen/cron-job-with-queue/id"
	"github.com/UmairAbideen/cron-job-with-queue/job"
)

func newStore(t *testing.T, opts ...Option) *Store {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "jobs.db"), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func newJob(kind string) *job.Job {
	// Eligible immediately.
	return job.New(kind, map[string]string{"test": "true"},
		job.WithAvailableAt(time.Now().UTC().Add(-time.Second)))
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	// Running migrations again must not fail.
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestEnqueueAndGet(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	payload := map[string]string{
		"to":      "user@example.com",
		"subject": "Weekly digest",
		"body":    "Hello,\nhere is your digest.",
	}
	j := job.New("email", payload)
	if err := s.Enqueue(ctx, j); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Duplicate ID is rejected.
	if err := s.Enqueue(ctx, j); !errors.Is(err, jobqueue.ErrJobAlreadyExists) {
		t.Fatalf("duplicate enqueue: got %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Kind != "email" || got.Status != job.StatusPending {
		t.Fatalf("got kind=%q status=%q", got.Kind, got.Status)
	}
	if got.MaxAttempts != 3 {
		t.Fatalf("max_attempts = %d, want 3", got.MaxAttempts)
	}
	for k, want := range payload {
		if got.Payload[k] != want {
			t.Errorf("payload[%q] = %q, want %q", k, got.Payload[k], want)
		}
	}
	if !got.CreatedAt.Equal(j.CreatedAt) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, j.CreatedAt)
	}

	_, err = s.Get(ctx, id.NewJobID())
	if !errors.Is(err, jobqueue.ErrNotFound) {
		t.Fatalf("missing Get: got %v, want ErrNotFound", err)
	}
}

func TestLease_FIFO(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	first := job.New("email", nil, job.WithAvailableAt(now.Add(-3*time.Second)))
	second := job.New("email", nil, job.WithAvailableAt(now.Add(-2*time.Second)))
	future := job.New("email", nil, job.WithDelay(time.Hour))

	for _, j := range []*job.Job{second, future, first} {
		if err := s.Enqueue(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	w := id.NewWorkerID()
	for i, want := range []id.JobID{first.ID, second.ID} {
		got, err := s.Lease(ctx, w, time.Minute)
		if err != nil {
			t.Fatalf("Lease %d: %v", i, err)
		}
		if !got.ID.Equal(want) {
			t.Fatalf("Lease %d: got %s, want %s", i, got.ID, want)
		}
		if got.Status != job.StatusLeased || !got.LeasedBy.Equal(w) || got.LeaseExpiresAt == nil {
			t.Fatalf("Lease %d: bad lease fields: %+v", i, got)
		}
	}

	// Only the delayed job remains; it is not yet eligible.
	_, err := s.Lease(ctx, w, time.Minute)
	if !errors.Is(err, jobqueue.ErrNoJobAvailable) {
		t.Fatalf("expected ErrNoJobAvailable, got %v", err)
	}
}

func TestLease_Exclusive(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	if err := s.Enqueue(ctx, newJob("email")); err != nil {
		t.Fatal(err)
	}

	const workers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Lease(ctx, id.NewWorkerID(), time.Minute); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly 1 successful lease, got %d", wins)
	}
}

func TestLease_ReclaimsExpired(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	j := newJob("email")
	if err := s.Enqueue(ctx, j); err != nil {
		t.Fatal(err)
	}

	crashed := id.NewWorkerID()
	leased, err := s.Lease(ctx, crashed, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	// Live lease is invisible to other workers.
	if _, err := s.Lease(ctx, id.NewWorkerID(), time.Minute); !errors.Is(err, jobqueue.ErrNoJobAvailable) {
		t.Fatalf("expected ErrNoJobAvailable before expiry, got %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	w2 := id.NewWorkerID()
	got, err := s.Lease(ctx, w2, time.Minute)
	if err != nil {
		t.Fatalf("Lease after expiry: %v", err)
	}
	if !got.ID.Equal(j.ID) {
		t.Fatalf("reclaimed wrong job: %s", got.ID)
	}
	if got.Attempts != leased.Attempts {
		t.Fatalf("reclamation changed attempts: %d -> %d", leased.Attempts, got.Attempts)
	}

	// Stale worker can no longer complete.
	if err := s.Complete(ctx, j.ID, crashed); !errors.Is(err, jobqueue.ErrNotFound) {
		t.Fatalf("stale Complete: got %v, want ErrNotFound", err)
	}
}

func TestComplete(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	j := newJob("email")
	if err := s.Enqueue(ctx, j); err != nil {
		t.Fatal(err)
	}
	w := id.NewWorkerID()
	if _, err := s.Lease(ctx, w, time.Minute); err != nil {
		t.Fatal(err)
	}

	if err := s.Complete(ctx, j.ID, w); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.StatusSucceeded {
		t.Fatalf("status = %q, want %q", got.Status, job.StatusSucceeded)
	}
	if !got.LeasedBy.IsNil() || got.LeaseExpiresAt != nil {
		t.Fatal("lease fields not cleared on completion")
	}

	// Second Complete for the same attempt fails.
	if err := s.Complete(ctx, j.ID, w); !errors.Is(err, jobqueue.ErrNotFound) {
		t.Fatalf("second Complete: got %v, want ErrNotFound", err)
	}
	// Non-owner fails.
	if err := s.Complete(ctx, j.ID, id.NewWorkerID()); !errors.Is(err, jobqueue.ErrNotFound) {
		t.Fatalf("non-owner Complete: got %v, want ErrNotFound", err)
	}
}

func TestFail_RetryThenTerminal(t *testing.T) {
	t.Parallel()
	s := newStore(t, WithBackoff(backoff.NewConstant(0)))
	ctx := context.Background()

	j := job.New("email", nil,
		job.WithAvailableAt(time.Now().UTC().Add(-time.Second)),
		job.WithMaxAttempts(3),
	)
	if err := s.Enqueue(ctx, j); err != nil {
		t.Fatal(err)
	}

	w := id.NewWorkerID()
	for attempt := 1; attempt <= 3; attempt++ {
		if _, err := s.Lease(ctx, w, time.Minute); err != nil {
			t.Fatalf("Lease attempt %d: %v", attempt, err)
		}
		got, err := s.Fail(ctx, j.ID, w, true, errors.New("transient"))
		if err != nil {
			t.Fatalf("Fail attempt %d: %v", attempt, err)
		}
		if got.Attempts != attempt {
			t.Fatalf("attempt %d: attempts = %d", attempt, got.Attempts)
		}
		wantStatus := job.StatusPending
		if attempt == 3 {
			wantStatus = job.StatusFailed
		}
		if got.Status != wantStatus {
			t.Fatalf("attempt %d: status = %q, want %q", attempt, got.Status, wantStatus)
		}
		if got.LastError != "transient" {
			t.Fatalf("attempt %d: last_error = %q", attempt, got.LastError)
		}
	}

	// Terminal: never leased again.
	if _, err := s.Lease(ctx, w, time.Minute); !errors.Is(err, jobqueue.ErrNoJobAvailable) {
		t.Fatalf("expected ErrNoJobAvailable after terminal failure, got %v", err)
	}
}

func TestFail_BackoffDelaysAvailability(t *testing.T) {
	t.Parallel()
	s := newStore(t, WithBackoff(backoff.NewConstant(time.Minute)))
	ctx := context.Background()

	j := newJob("email")
	if err := s.Enqueue(ctx, j); err != nil {
		t.Fatal(err)
	}
	w := id.NewWorkerID()
	if _, err := s.Lease(ctx, w, time.Minute); err != nil {
		t.Fatal(err)
	}

	before := time.Now().UTC()
	got, err := s.Fail(ctx, j.ID, w, true, errors.New("smtp timeout"))
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.StatusPending {
		t.Fatalf("status = %q, want pending", got.Status)
	}
	if got.AvailableAt.Before(before.Add(50 * time.Second)) {
		t.Fatalf("available_at %v not pushed out by backoff", got.AvailableAt)
	}

	// Not leasable during backoff.
	if _, err := s.Lease(ctx, w, time.Minute); !errors.Is(err, jobqueue.ErrNoJobAvailable) {
		t.Fatalf("expected ErrNoJobAvailable during backoff, got %v", err)
	}
}

func TestFail_NoRetryIsTerminal(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	j := newJob("email")
	if err := s.Enqueue(ctx, j); err != nil {
		t.Fatal(err)
	}
	w := id.NewWorkerID()
	if _, err := s.Lease(ctx, w, time.Minute); err != nil {
		t.Fatal(err)
	}

	got, err := s.Fail(ctx, j.ID, w, false, errors.New("invalid recipient"))
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.StatusFailed || got.Attempts != 1 {
		t.Fatalf("got status=%q attempts=%d, want failed/1", got.Status, got.Attempts)
	}

	// Guards.
	if _, err := s.Fail(ctx, j.ID, w, true, nil); !errors.Is(err, jobqueue.ErrNotFound) {
		t.Fatalf("fail on terminal job: got %v, want ErrNotFound", err)
	}
}

func TestExtendLease(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	j := newJob("email")
	if err := s.Enqueue(ctx, j); err != nil {
		t.Fatal(err)
	}
	w := id.NewWorkerID()
	leased, err := s.Lease(ctx, w, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.ExtendLease(ctx, j.ID, w, time.Hour); err != nil {
		t.Fatalf("ExtendLease: %v", err)
	}
	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LeaseExpiresAt == nil || !got.LeaseExpiresAt.After(*leased.LeaseExpiresAt) {
		t.Fatalf("lease not extended: %v -> %v", leased.LeaseExpiresAt, got.LeaseExpiresAt)
	}

	if err := s.ExtendLease(ctx, j.ID, id.NewWorkerID(), time.Hour); !errors.Is(err, jobqueue.ErrNotFound) {
		t.Fatalf("non-owner extend: got %v, want ErrNotFound", err)
	}
}

func TestReapExpired(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	expired := newJob("email")
	live := newJob("email")
	for _, j := range []*job.Job{expired, live} {
		if err := s.Enqueue(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	w := id.NewWorkerID()
	first, err := s.Lease(ctx, w, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Lease(ctx, w, time.Hour); err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)

	n, err := s.ReapExpired(ctx)
	if err != nil {
		t.Fatalf("ReapExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("reaped %d jobs, want 1", n)
	}

	got, err := s.Get(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.StatusPending || !got.LeasedBy.IsNil() || got.LeaseExpiresAt != nil {
		t.Fatalf("reaped job not reset: %+v", got)
	}
}

func TestListAndCount(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	for _, kind := range []string{"email", "email", "report"} {
		if err := s.Enqueue(ctx, newJob(kind)); err != nil {
			t.Fatal(err)
		}
	}
	w := id.NewWorkerID()
	if _, err := s.Lease(ctx, w, time.Minute); err != nil {
		t.Fatal(err)
	}

	listTests := []struct {
		name      string
		opts      job.ListOpts
		wantCount int
	}{
		{"all", job.ListOpts{}, 3},
		{"by kind", job.ListOpts{Kind: "email"}, 2},
		{"by status", job.ListOpts{Status: job.StatusLeased}, 1},
		{"with limit", job.ListOpts{Limit: 2}, 2},
		{"with offset", job.ListOpts{Offset: 2}, 1},
	}
	for _, tt := range listTests {
		t.Run("list/"+tt.name, func(t *testing.T) {
			jobs, err := s.List(ctx, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if len(jobs) != tt.wantCount {
				t.Fatalf("got %d, want %d", len(jobs), tt.wantCount)
			}
		})
	}

	countTests := []struct {
		name string
		opts job.CountOpts
		want int64
	}{
		{"all", job.CountOpts{}, 3},
		{"email kind", job.CountOpts{Kind: "email"}, 2},
		{"leased", job.CountOpts{Status: job.StatusLeased}, 1},
	}
	for _, tt := range countTests {
		t.Run("count/"+tt.name, func(t *testing.T) {
			got, err := s.Count(ctx, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRequeueAndDelete(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	j := newJob("email")
	if err := s.Enqueue(ctx, j); err != nil {
		t.Fatal(err)
	}

	// Requeue only applies to failed jobs.
	if err := s.Requeue(ctx, j.ID); !errors.Is(err, jobqueue.ErrNotFound) {
		t.Fatalf("requeue pending: got %v, want ErrNotFound", err)
	}

	w := id.NewWorkerID()
	if _, err := s.Lease(ctx, w, time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Fail(ctx, j.ID, w, false, errors.New("bad address")); err != nil {
		t.Fatal(err)
	}

	if err := s.Requeue(ctx, j.ID); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.StatusPending || got.Attempts != 0 {
		t.Fatalf("requeued: status=%q attempts=%d", got.Status, got.Attempts)
	}

	if err := s.Delete(ctx, j.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, j.ID); !errors.Is(err, jobqueue.ErrNotFound) {
		t.Fatalf("get after delete: got %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, j.ID); !errors.Is(err, jobqueue.ErrNotFound) {
		t.Fatalf("double delete: got %v, want ErrNotFound", err)
	}
}
