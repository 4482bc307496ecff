package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	jobqueue "github.com/UmairAbideen/cron-job-with-queue"
	"github.com/UmairAbideen/cron-job-with-queue/ext"
	"github.com/UmairAbideen/cron-job-with-queue/id"
	"github.com/UmairAbideen/cron-job-with-queue/job"
)

// Throttle controls per-kind rate limiting and concurrency. The pool calls
// Acquire after leasing a job and Release once the attempt finishes.
// throttle.Manager satisfies this interface.
type Throttle interface {
	// Acquire checks rate limits and concurrency for the kind. Returns
	// true if the job is allowed to proceed.
	Acquire(kind string) bool
	// Release decrements the active count for the kind.
	Release(kind string)
}

// throttleRetryInterval is how long a poller waits between Acquire
// attempts while its leased job is over the kind's limit. The lease
// extension loop keeps the job claimed during the wait.
const throttleRetryInterval = 50 * time.Millisecond

// Pool manages a set of concurrent worker goroutines that lease jobs from
// the store and execute them through the Executor. All goroutines share
// one WorkerID: the pool is the lease-holding unit, so a lease taken by
// any poller can be extended or settled by any other.
type Pool struct {
	store      job.Store
	executor   *Executor
	extensions *ext.Registry
	workerID   id.WorkerID
	logger     *slog.Logger

	concurrency    int
	pollInterval   time.Duration
	leaseDuration  time.Duration
	extendInterval time.Duration
	reapInterval   time.Duration

	// Throttle (optional).
	throttle Throttle

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	activeMu sync.Mutex
	active   map[string]activeJob
}

// activeJob tracks one in-flight execution for lease extension and
// shutdown cancellation.
type activeJob struct {
	id     id.JobID
	cancel context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent poller goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how long a poller sleeps when no job is eligible.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithLeaseDuration sets the exclusive claim window requested on every
// lease. A zero value keeps the default of 30 seconds.
func WithLeaseDuration(d time.Duration) PoolOption {
	return func(p *Pool) { p.leaseDuration = d }
}

// WithExtendInterval sets how often in-flight leases are pushed forward.
// A zero value disables lease extension; jobs must then finish within
// the original lease window.
func WithExtendInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.extendInterval = d }
}

// WithReapInterval sets how often expired leases are swept back to
// pending. A zero value disables the sweep on this pool; eligibility is
// still restored lazily because Lease reclaims expired leases inline.
func WithReapInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.reapInterval = d }
}

// WithThrottle sets the per-kind throttle for rate limiting and
// concurrency control.
func WithThrottle(t Throttle) PoolOption {
	return func(p *Pool) { p.throttle = t }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:          store,
		executor:       executor,
		extensions:     extensions,
		workerID:       id.NewWorkerID(),
		logger:         logger,
		concurrency:    10,
		pollInterval:   time.Second,
		leaseDuration:  30 * time.Second,
		extendInterval: 10 * time.Second,
		reapInterval:   15 * time.Second,
		stopCh:         make(chan struct{}),
		active:         make(map[string]activeJob),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique lease-holder identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the poller goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Duration("lease_duration", p.leaseDuration),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.leaseLoop()
	}

	if p.extendInterval > 0 {
		p.wg.Add(1)
		go p.extendLoop()
	}

	if p.reapInterval > 0 {
		p.wg.Add(1)
		go p.reapLoop()
	}

	return nil
}

// Stop signals all pollers to stop and waits for in-flight jobs to finish.
// If the context expires first, active job contexts are cancelled; their
// leases lapse and another worker reclaims them later.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	// No new leases after this point.
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	return nil
}

// leaseLoop is run by each poller goroutine.
func (p *Pool) leaseLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		j, err := p.store.Lease(context.Background(), p.workerID, p.leaseDuration)
		if err != nil {
			if !errors.Is(err, jobqueue.ErrNoJobAvailable) {
				// Store trouble is transient by contract; keep polling.
				p.logger.Error("lease error", slog.String("error", err.Error()))
			}
			p.sleep()
			continue
		}

		p.process(j)
	}
}

// process runs one leased job through the executor, holding a throttle
// slot for its kind when a throttle is configured.
func (p *Pool) process(j *job.Job) {
	if p.throttle != nil {
		if !p.awaitCapacity(j) {
			// Shutdown raced the throttle wait. The untouched lease
			// expires on its own and the job goes back to pending.
			return
		}
		defer p.throttle.Release(j.Kind)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.trackJob(j, cancel)
	defer func() {
		p.untrackJob(j)
		cancel()
	}()

	if err := p.executor.Execute(ctx, p.workerID, j); err != nil {
		p.logger.Debug("job attempt failed",
			slog.String("job_id", j.ID.String()),
			slog.String("kind", j.Kind),
			slog.String("error", err.Error()),
		)
	}
}

// awaitCapacity blocks until the throttle admits the job's kind. The job
// stays tracked during the wait so the extension loop keeps its lease
// alive. Returns false when the pool is stopping.
func (p *Pool) awaitCapacity(j *job.Job) bool {
	if p.throttle.Acquire(j.Kind) {
		return true
	}

	p.trackJob(j, func() {})
	defer p.untrackJob(j)

	ticker := time.NewTicker(throttleRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return false
		case <-ticker.C:
			if p.throttle.Acquire(j.Kind) {
				return true
			}
		}
	}
}

// extendLoop periodically pushes the lease expiry forward for every
// in-flight job so slow handlers are not reclaimed mid-execution.
func (p *Pool) extendLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.extendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.extendActiveLeases()
		}
	}
}

func (p *Pool) extendActiveLeases() {
	p.activeMu.Lock()
	ids := make([]id.JobID, 0, len(p.active))
	for _, a := range p.active {
		ids = append(ids, a.id)
	}
	p.activeMu.Unlock()

	for _, jobID := range ids {
		err := p.store.ExtendLease(context.Background(), jobID, p.workerID, p.leaseDuration)
		if err == nil {
			continue
		}
		if errors.Is(err, jobqueue.ErrNotFound) {
			// The lease already lapsed and was reclaimed; the executor
			// will discover this when it reports the outcome.
			p.logger.Warn("lease extension lost", slog.String("job_id", jobID.String()))
			continue
		}
		p.logger.Error("lease extension failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// reapLoop periodically returns expired leases to pending — the recovery
// path for workers that crashed mid-execution.
func (p *Pool) reapLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapExpired()
		}
	}
}

func (p *Pool) reapExpired() {
	n, err := p.store.ReapExpired(context.Background())
	if err != nil {
		p.logger.Error("reap expired leases error", slog.String("error", err.Error()))
		return
	}
	if n == 0 {
		return
	}

	p.extensions.EmitLeasesReaped(context.Background(), n)
	p.logger.Info("reclaimed expired leases", slog.Int("count", n))
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(j *job.Job, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[j.ID.String()] = activeJob{id: j.ID, cancel: cancel}
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(j *job.Job) {
	p.activeMu.Lock()
	delete(p.active, j.ID.String())
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, a := range p.active {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		a.cancel()
	}
}
