package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/UmairAbideen/cron-job-with-queue/id"
	"github.com/UmairAbideen/cron-job-with-queue/job"
)

// EnqueueFunc is the callback the scheduler uses to enqueue jobs.
// This breaks the import cycle: the engine provides the implementation.
type EnqueueFunc func(ctx context.Context, kind string, payload map[string]string, opts ...job.Option) (id.JobID, error)

// Emitter emits schedule lifecycle events.
// ext.Registry satisfies this interface via EmitScheduleFired.
type Emitter interface {
	EmitScheduleFired(ctx context.Context, entryName string, jobID id.JobID)
}

// Entry is a recurring enqueue rule, fixed at construction time.
type Entry struct {
	// Name uniquely identifies the entry in logs and hooks.
	Name string

	// Schedule is a 5-field cron expression (e.g. "0 9 * * 1-5") or a
	// descriptor like "@every 30s" or "@hourly".
	Schedule string

	// Kind is the job kind to enqueue on each fire.
	Kind string

	// Payload is the static payload every fired job carries.
	Payload map[string]string

	// CatchUp makes the entry fire once per occurrence missed while the
	// scheduler was not running, draining one per tick. When false
	// (the default) missed occurrences are skipped and the entry resumes
	// at the next wall-clock occurrence.
	CatchUp bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithEmitter sets the lifecycle event emitter.
func WithEmitter(e Emitter) Option {
	return func(s *Scheduler) { s.emitter = e }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// entryState pairs an entry with its parsed schedule and run bookkeeping.
type entryState struct {
	entry   Entry
	sched   cronlib.Schedule
	nextRun time.Time
	lastRun time.Time
}

// Scheduler enqueues jobs for its entries on a tick loop. It never
// executes jobs itself; firing an entry only inserts a pending record via
// the enqueue callback.
type Scheduler struct {
	enqueue EnqueueFunc
	emitter Emitter
	logger  *slog.Logger

	tickInterval time.Duration

	mu      sync.Mutex
	entries []*entryState
}

// New creates a Scheduler. Every entry schedule is parsed up front, so a
// bad expression is a construction error rather than a silent no-op at
// runtime.
func New(enqueue EnqueueFunc, entries []Entry, opts ...Option) (*Scheduler, error) {
	if enqueue == nil {
		return nil, errors.New("jobqueue/scheduler: enqueue func is required")
	}
	if len(entries) == 0 {
		return nil, errors.New("jobqueue/scheduler: at least one entry is required")
	}

	s := &Scheduler{
		enqueue:      enqueue,
		logger:       slog.Default(),
		tickInterval: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	now := time.Now().UTC()
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.Name == "" {
			return nil, errors.New("jobqueue/scheduler: entry name is required")
		}
		if e.Kind == "" {
			return nil, fmt.Errorf("jobqueue/scheduler: entry %q: kind is required", e.Name)
		}
		if _, dup := seen[e.Name]; dup {
			return nil, fmt.Errorf("jobqueue/scheduler: duplicate entry name %q", e.Name)
		}
		seen[e.Name] = struct{}{}

		sched, err := ParseSchedule(e.Schedule)
		if err != nil {
			return nil, fmt.Errorf("jobqueue/scheduler: entry %q: invalid schedule %q: %w", e.Name, e.Schedule, err)
		}
		s.entries = append(s.entries, &entryState{
			entry:   e,
			sched:   sched,
			nextRun: sched.Next(now),
		})
	}
	return s, nil
}

// Run ticks until ctx is cancelled, then returns nil. Each tick fires
// every entry whose next-run instant has passed and advances it.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		slog.Int("entries", len(s.entries)),
		slog.Duration("tick_interval", s.tickInterval),
	)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.entries {
		if st.nextRun.After(now) {
			continue
		}
		s.fire(ctx, st, now)
	}
}

// fire enqueues one job for a due entry and advances its next run. An
// enqueue failure leaves the entry due, so the next tick retries it.
func (s *Scheduler) fire(ctx context.Context, st *entryState, now time.Time) {
	jobID, err := s.enqueue(ctx, st.entry.Kind, st.entry.Payload)
	if err != nil {
		s.logger.Error("schedule enqueue failed",
			slog.String("entry", st.entry.Name),
			slog.String("kind", st.entry.Kind),
			slog.String("error", err.Error()),
		)
		return
	}

	st.lastRun = now
	if st.entry.CatchUp {
		// One fire per missed occurrence; a backlog drains across ticks.
		st.nextRun = st.sched.Next(st.nextRun)
	} else {
		// Skip anything missed and resume the wall-clock cadence.
		st.nextRun = st.sched.Next(now)
	}

	if s.emitter != nil {
		s.emitter.EmitScheduleFired(ctx, st.entry.Name, jobID)
	}
	s.logger.Info("schedule fired",
		slog.String("entry", st.entry.Name),
		slog.String("kind", st.entry.Kind),
		slog.String("job_id", jobID.String()),
		slog.Time("next_run", st.nextRun),
	)
}

// EntryStatus describes one entry and its run bookkeeping.
type EntryStatus struct {
	Name     string
	Schedule string
	Kind     string
	CatchUp  bool
	LastRun  time.Time // zero until the first fire
	NextRun  time.Time
}

// Entries returns a snapshot of every entry's schedule state.
func (s *Scheduler) Entries() []EntryStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]EntryStatus, 0, len(s.entries))
	for _, st := range s.entries {
		out = append(out, EntryStatus{
			Name:     st.entry.Name,
			Schedule: st.entry.Schedule,
			Kind:     st.entry.Kind,
			CatchUp:  st.entry.CatchUp,
			LastRun:  st.lastRun,
			NextRun:  st.nextRun,
		})
	}
	return out
}
