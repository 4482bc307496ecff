package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	jobqueue "github.com/UmairAbideen/cron-job-with-queue"
	"github.com/UmairAbideen/cron-job-with-queue/backoff"
	"github.com/UmairAbideen/cron-job-with-queue/engine"
	"github.com/UmairAbideen/cron-job-with-queue/id"
	"github.com/UmairAbideen/cron-job-with-queue/job"
	"github.com/UmairAbideen/cron-job-with-queue/scheduler"
	"github.com/UmairAbideen/cron-job-with-queue/store/memory"
)

// fastConfig keeps the lease loops snappy for tests.
func fastConfig() jobqueue.Config {
	return jobqueue.Config{
		Concurrency:     2,
		PollInterval:    5 * time.Millisecond,
		LeaseDuration:   time.Second,
		ExtendInterval:  250 * time.Millisecond,
		ReapInterval:    50 * time.Millisecond,
		JobTimeout:      5 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

func newTestEngine(t *testing.T, opts ...engine.Option) *engine.Engine {
	t.Helper()
	opts = append(opts, engine.WithBackoff(backoff.NewConstant(time.Millisecond)))
	eng, err := engine.New(memory.New(), fastConfig(), opts...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return eng
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func stopEngine(t *testing.T, eng *engine.Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Test payloads
// ──────────────────────────────────────────────────

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

// ──────────────────────────────────────────────────
// End-to-end: Register → Enqueue → Process
// ──────────────────────────────────────────────────

func TestEngine_EndToEnd_RegisterEnqueueProcess(t *testing.T) {
	eng := newTestEngine(t)

	var processed atomic.Bool
	var gotPayload atomic.Pointer[emailPayload]
	def := job.NewDefinition("send-email", func(_ context.Context, p emailPayload) error {
		gotPayload.Store(&p)
		processed.Store(true)
		return nil
	})
	if err := engine.RegisterDefinition(eng, def); err != nil {
		t.Fatalf("RegisterDefinition: %v", err)
	}

	j, err := engine.Enqueue(context.Background(), eng, "send-email", emailPayload{
		To:      "alice@example.com",
		Subject: "Welcome aboard",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if j.Kind != "send-email" {
		t.Errorf("job.Kind = %q, want %q", j.Kind, "send-email")
	}
	if j.Status != job.StatusPending {
		t.Errorf("job.Status = %q, want %q", j.Status, job.StatusPending)
	}

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopEngine(t, eng)

	waitFor(t, 5*time.Second, processed.Load)

	p := gotPayload.Load()
	if p.To != "alice@example.com" {
		t.Errorf("payload.To = %q, want %q", p.To, "alice@example.com")
	}
	if p.Subject != "Welcome aboard" {
		t.Errorf("payload.Subject = %q, want %q", p.Subject, "Welcome aboard")
	}

	// The record lands in succeeded with the lease cleared.
	waitFor(t, 5*time.Second, func() bool {
		got, err := eng.Get(context.Background(), j.ID)
		return err == nil && got.Status == job.StatusSucceeded
	})
	got, err := eng.Get(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", got.Attempts)
	}
	if !got.LeasedBy.IsNil() {
		t.Errorf("LeasedBy = %q, want cleared", got.LeasedBy)
	}
}

// ──────────────────────────────────────────────────
// Extension lifecycle events
// ──────────────────────────────────────────────────

type lifecycleTracker struct {
	enqueued  atomic.Bool
	started   atomic.Bool
	succeeded atomic.Bool
	failed    atomic.Bool
	retrying  atomic.Bool
	shutdown  atomic.Bool
	fired     atomic.Bool
}

func (e *lifecycleTracker) Name() string { return "lifecycle-tracker" }

func (e *lifecycleTracker) OnJobEnqueued(_ context.Context, _ *job.Job) error {
	e.enqueued.Store(true)
	return nil
}

func (e *lifecycleTracker) OnJobStarted(_ context.Context, _ *job.Job) error {
	e.started.Store(true)
	return nil
}

func (e *lifecycleTracker) OnJobSucceeded(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.succeeded.Store(true)
	return nil
}

func (e *lifecycleTracker) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	e.failed.Store(true)
	return nil
}

func (e *lifecycleTracker) OnJobRetrying(_ context.Context, _ *job.Job, _ int, _ time.Time) error {
	e.retrying.Store(true)
	return nil
}

func (e *lifecycleTracker) OnScheduleFired(_ context.Context, _ string, _ id.JobID) error {
	e.fired.Store(true)
	return nil
}

func (e *lifecycleTracker) OnShutdown(_ context.Context) error {
	e.shutdown.Store(true)
	return nil
}

func TestEngine_ExtensionLifecycleEvents(t *testing.T) {
	tracker := &lifecycleTracker{}
	eng := newTestEngine(t, engine.WithExtension(tracker))

	var processed atomic.Bool
	if err := eng.Register("tracked-job", func(_ context.Context, _ map[string]string) error {
		processed.Store(true)
		return nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Enqueue fires OnJobEnqueued.
	if _, err := eng.Enqueue(context.Background(), "tracked-job", nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !tracker.enqueued.Load() {
		t.Error("expected OnJobEnqueued to fire on enqueue")
	}

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, 5*time.Second, processed.Load)
	waitFor(t, 5*time.Second, tracker.succeeded.Load)

	if !tracker.started.Load() {
		t.Error("expected OnJobStarted to fire")
	}

	// Stop fires OnShutdown.
	stopEngine(t, eng)
	if !tracker.shutdown.Load() {
		t.Error("expected OnShutdown to fire on stop")
	}
}

func TestEngine_FailedJobExtension(t *testing.T) {
	tracker := &lifecycleTracker{}
	eng := newTestEngine(t, engine.WithExtension(tracker))

	if err := eng.Register("failing-job", func(_ context.Context, _ map[string]string) error {
		return fmt.Errorf("%w: bad input", jobqueue.ErrPermanent)
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	j, err := eng.Enqueue(context.Background(), "failing-job", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopEngine(t, eng)

	waitFor(t, 5*time.Second, tracker.failed.Load)

	got, err := eng.Get(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != job.StatusFailed {
		t.Errorf("Status = %q, want %q", got.Status, job.StatusFailed)
	}
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 (permanent error must not retry)", got.Attempts)
	}
	if tracker.retrying.Load() {
		t.Error("OnJobRetrying must not fire for a permanent failure")
	}
}

// ──────────────────────────────────────────────────
// Retry path
// ──────────────────────────────────────────────────

func TestEngine_RetryThenSucceed(t *testing.T) {
	tracker := &lifecycleTracker{}
	eng := newTestEngine(t, engine.WithExtension(tracker))

	var calls atomic.Int32
	if err := eng.Register("flaky", func(_ context.Context, _ map[string]string) error {
		if calls.Add(1) < 3 {
			return errors.New("transient hiccup")
		}
		return nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	j, err := eng.Enqueue(context.Background(), "flaky", nil, job.WithMaxAttempts(5))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopEngine(t, eng)

	waitFor(t, 10*time.Second, func() bool {
		got, err := eng.Get(context.Background(), j.ID)
		return err == nil && got.Status == job.StatusSucceeded
	})

	if got := calls.Load(); got != 3 {
		t.Errorf("handler calls = %d, want 3", got)
	}
	if !tracker.retrying.Load() {
		t.Error("expected OnJobRetrying to fire for transient failures")
	}

	got, err := eng.Get(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", got.Attempts)
	}
}

// ──────────────────────────────────────────────────
// Enqueue semantics
// ──────────────────────────────────────────────────

func TestEngine_EnqueueWithDelay(t *testing.T) {
	eng := newTestEngine(t)

	before := time.Now().UTC()
	j, err := eng.Enqueue(context.Background(), "delayed", nil, job.WithDelay(time.Hour))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if j.Status != job.StatusPending {
		t.Errorf("Status = %q, want %q", j.Status, job.StatusPending)
	}
	if j.AvailableAt.Before(before.Add(59 * time.Minute)) {
		t.Errorf("AvailableAt = %v, want ~1h in the future", j.AvailableAt)
	}
}

func TestEngine_EnqueueEmptyKindRejected(t *testing.T) {
	eng := newTestEngine(t)
	if _, err := eng.Enqueue(context.Background(), "", nil); err == nil {
		t.Fatal("expected error for empty kind")
	}
}

func TestEngine_DefinitionDefaultsApplied(t *testing.T) {
	eng := newTestEngine(t)

	def := job.NewDefinition("bulk-import", func(_ context.Context, _ struct{}) error {
		return nil
	}, job.WithMaxAttempts(7))
	if err := engine.RegisterDefinition(eng, def); err != nil {
		t.Fatalf("RegisterDefinition: %v", err)
	}

	// No explicit options: the definition's budget applies.
	j, err := eng.Enqueue(context.Background(), "bulk-import", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if j.MaxAttempts != 7 {
		t.Errorf("MaxAttempts = %d, want 7 (definition default)", j.MaxAttempts)
	}

	// Explicit caller options still win.
	j, err = eng.Enqueue(context.Background(), "bulk-import", nil, job.WithMaxAttempts(2))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if j.MaxAttempts != 2 {
		t.Errorf("MaxAttempts = %d, want 2 (caller override)", j.MaxAttempts)
	}
}

// ──────────────────────────────────────────────────
// Construction errors
// ──────────────────────────────────────────────────

func TestEngine_NewNilStore(t *testing.T) {
	_, err := engine.New(nil, jobqueue.DefaultConfig())
	if !errors.Is(err, jobqueue.ErrNoStore) {
		t.Fatalf("err = %v, want ErrNoStore", err)
	}
}

func TestEngine_NewInvalidScheduleEntry(t *testing.T) {
	_, err := engine.New(memory.New(), fastConfig(),
		engine.WithSchedulerEntries(scheduler.Entry{
			Name:     "broken",
			Schedule: "not a cron expression",
			Kind:     "noop",
		}),
	)
	if err == nil {
		t.Fatal("expected construction error for invalid schedule")
	}
}

func TestEngine_NewNormalizesConfig(t *testing.T) {
	eng, err := engine.New(memory.New(), jobqueue.Config{})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	cfg := eng.Config()
	def := jobqueue.DefaultConfig()
	if cfg.Concurrency != def.Concurrency {
		t.Errorf("Concurrency = %d, want default %d", cfg.Concurrency, def.Concurrency)
	}
	if cfg.LeaseDuration != def.LeaseDuration {
		t.Errorf("LeaseDuration = %v, want default %v", cfg.LeaseDuration, def.LeaseDuration)
	}
	if cfg.ShutdownTimeout != def.ShutdownTimeout {
		t.Errorf("ShutdownTimeout = %v, want default %v", cfg.ShutdownTimeout, def.ShutdownTimeout)
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestEngine_StartStopIdempotent(t *testing.T) {
	eng := newTestEngine(t)

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := eng.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := eng.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestEngine_GracefulShutdownDrainsInFlight(t *testing.T) {
	eng := newTestEngine(t)

	var finished atomic.Bool
	release := make(chan struct{})
	if err := eng.Register("slow", func(ctx context.Context, _ map[string]string) error {
		select {
		case <-release:
			finished.Store(true)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := eng.Enqueue(context.Background(), "slow", nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Let the worker pick the job up, then release it mid-shutdown.
	time.Sleep(50 * time.Millisecond)
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()

	stopEngine(t, eng)

	if !finished.Load() {
		t.Error("expected in-flight job to finish during graceful shutdown")
	}
}

// ──────────────────────────────────────────────────
// Scheduler integration
// ──────────────────────────────────────────────────

func TestEngine_SchedulerEnqueuesAndProcesses(t *testing.T) {
	tracker := &lifecycleTracker{}
	eng := newTestEngine(t,
		engine.WithExtension(tracker),
		engine.WithSchedulerEntries(scheduler.Entry{
			Name:     "heartbeat",
			Schedule: "@every 10ms",
			Kind:     "tick",
			Payload:  map[string]string{"source": "heartbeat"},
		}),
		engine.WithSchedulerTick(10*time.Millisecond),
	)

	var processed atomic.Int32
	var gotSource atomic.Pointer[string]
	if err := eng.Register("tick", func(_ context.Context, payload map[string]string) error {
		s := payload["source"]
		gotSource.Store(&s)
		processed.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if eng.Scheduler() == nil {
		t.Fatal("expected scheduler to be configured")
	}

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopEngine(t, eng)

	waitFor(t, 5*time.Second, func() bool { return processed.Load() >= 2 })

	if !tracker.fired.Load() {
		t.Error("expected OnScheduleFired to fire")
	}
	if s := gotSource.Load(); s == nil || *s != "heartbeat" {
		t.Errorf("payload source = %v, want %q", s, "heartbeat")
	}
}

// ──────────────────────────────────────────────────
// Admin surface: Stats / Requeue / Delete
// ──────────────────────────────────────────────────

func TestEngine_Stats(t *testing.T) {
	eng := newTestEngine(t)

	if err := eng.Register("work", func(_ context.Context, _ map[string]string) error {
		return nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := eng.Enqueue(ctx, "work", nil); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	// One job parked far in the future stays pending.
	if _, err := eng.Enqueue(ctx, "work", nil, job.WithDelay(time.Hour)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	stats, err := eng.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Pending != 4 || stats.Total != 4 {
		t.Fatalf("before start: pending=%d total=%d, want 4/4", stats.Pending, stats.Total)
	}

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopEngine(t, eng)

	waitFor(t, 5*time.Second, func() bool {
		stats, err := eng.Stats(ctx)
		return err == nil && stats.Succeeded == 3
	})

	stats, err = eng.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Pending != 1 {
		t.Errorf("Pending = %d, want 1 (the delayed job)", stats.Pending)
	}
	if stats.Total != 4 {
		t.Errorf("Total = %d, want 4", stats.Total)
	}
}

func TestEngine_RequeueFailedJob(t *testing.T) {
	eng := newTestEngine(t)

	var fail atomic.Bool
	fail.Store(true)
	if err := eng.Register("recoverable", func(_ context.Context, _ map[string]string) error {
		if fail.Load() {
			return fmt.Errorf("%w: dependency down", jobqueue.ErrPermanent)
		}
		return nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx := context.Background()
	j, err := eng.Enqueue(ctx, "recoverable", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopEngine(t, eng)

	waitFor(t, 5*time.Second, func() bool {
		got, err := eng.Get(ctx, j.ID)
		return err == nil && got.Status == job.StatusFailed
	})

	// Operator fixes the dependency and requeues.
	fail.Store(false)
	if err := eng.Requeue(ctx, j.ID); err != nil {
		t.Fatalf("Requeue: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		got, err := eng.Get(ctx, j.ID)
		return err == nil && got.Status == job.StatusSucceeded
	})
}

func TestEngine_DeleteJob(t *testing.T) {
	eng := newTestEngine(t)

	ctx := context.Background()
	j, err := eng.Enqueue(ctx, "orphan", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := eng.Delete(ctx, j.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := eng.Get(ctx, j.ID); !errors.Is(err, jobqueue.ErrNotFound) {
		t.Fatalf("Get after delete: err = %v, want ErrNotFound", err)
	}
}

func TestEngine_ListFiltersByStatusAndKind(t *testing.T) {
	eng := newTestEngine(t)

	ctx := context.Background()
	if _, err := eng.Enqueue(ctx, "alpha", nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := eng.Enqueue(ctx, "beta", nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	jobs, err := eng.List(ctx, job.ListOpts{Kind: "alpha"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Kind != "alpha" {
		t.Fatalf("List(kind=alpha) = %d jobs, want exactly the alpha job", len(jobs))
	}

	jobs, err = eng.List(ctx, job.ListOpts{Status: job.StatusPending})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("List(status=pending) = %d jobs, want 2", len(jobs))
	}
}

// ──────────────────────────────────────────────────
// Backoff wiring
// ──────────────────────────────────────────────────

func TestEngine_WithBackoffShapesRetryDelay(t *testing.T) {
	// A large constant backoff keeps the retried job ineligible, which is
	// observable as it staying pending with a far-future available_at.
	eng, err := engine.New(memory.New(), fastConfig(),
		engine.WithBackoff(backoff.NewConstant(time.Hour)),
	)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	if err := eng.Register("flaky", func(_ context.Context, _ map[string]string) error {
		return errors.New("transient")
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx := context.Background()
	j, err := eng.Enqueue(ctx, "flaky", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopEngine(t, eng)

	waitFor(t, 5*time.Second, func() bool {
		got, err := eng.Get(ctx, j.ID)
		return err == nil && got.Attempts == 1 && got.Status == job.StatusPending
	})

	got, err := eng.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if until := time.Until(got.AvailableAt); until < 30*time.Minute {
		t.Errorf("AvailableAt only %v away, want ~1h from constant backoff", until)
	}
}
