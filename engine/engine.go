package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	jobqueue "github.com/UmairAbideen/cron-job-with-queue"
	"github.com/UmairAbideen/cron-job-with-queue/backoff"
	"github.com/UmairAbideen/cron-job-with-queue/ext"
	"github.com/UmairAbideen/cron-job-with-queue/id"
	"github.com/UmairAbideen/cron-job-with-queue/job"
	mw "github.com/UmairAbideen/cron-job-with-queue/middleware"
	"github.com/UmairAbideen/cron-job-with-queue/observability"
	"github.com/UmairAbideen/cron-job-with-queue/scheduler"
	"github.com/UmairAbideen/cron-job-with-queue/store"
	"github.com/UmairAbideen/cron-job-with-queue/throttle"
	"github.com/UmairAbideen/cron-job-with-queue/worker"
)

// instrumentationName is the OTel scope used for engine-built middleware.
const instrumentationName = "github.com/UmairAbideen/cron-job-with-queue"

// backoffConfigurable is implemented by stores whose retry backoff can be
// replaced after construction. All bundled backends satisfy it.
type backoffConfigurable interface {
	SetBackoff(backoff.Strategy)
}

// Engine wires the store, registry, extension registry, worker pool, and
// (optionally) the scheduler into one lifecycle. It is the primary
// application-level API: register handlers, enqueue jobs, Start, Stop.
type Engine struct {
	store      store.Store
	cfg        jobqueue.Config
	registry   *job.Registry
	extensions *ext.Registry
	pool       *worker.Pool
	sched      *scheduler.Scheduler
	logger     *slog.Logger

	// Construction-time accumulation, consumed by New.
	mws             []mw.Middleware
	bo              backoff.Strategy
	throttleConfigs []throttle.Config
	entries         []scheduler.Entry
	schedTick       time.Duration
	pendingExts     []ext.Extension
	tracerProvider  trace.TracerProvider
	meterProvider   metric.MeterProvider

	// Per-kind enqueue defaults recorded by RegisterDefinition.
	defaultsMu   sync.RWMutex
	kindDefaults map[string]job.Options

	mu          sync.Mutex
	started     bool
	schedWG     sync.WaitGroup
	schedCancel context.CancelFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used by the engine and every component it
// builds. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithExtension registers a lifecycle extension with the engine.
func WithExtension(x ext.Extension) Option {
	return func(e *Engine) { e.pendingExts = append(e.pendingExts, x) }
}

// WithMiddleware appends middleware to the execution chain, inside the
// default stack (recover, tracing, metrics, logging, timeout).
func WithMiddleware(m mw.Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, m) }
}

// WithBackoff sets the retry backoff strategy the store applies on Fail.
// The store must support reconfiguration (all bundled backends do).
func WithBackoff(b backoff.Strategy) Option {
	return func(e *Engine) { e.bo = b }
}

// WithThrottle configures per-kind rate limits and concurrency caps
// enforced by the worker pool.
func WithThrottle(configs ...throttle.Config) Option {
	return func(e *Engine) { e.throttleConfigs = append(e.throttleConfigs, configs...) }
}

// WithSchedulerEntries configures the periodic enqueuer. When at least one
// entry is given, Start also runs the scheduler; entries are validated by
// New so a bad schedule expression fails construction.
func WithSchedulerEntries(entries ...scheduler.Entry) Option {
	return func(e *Engine) { e.entries = append(e.entries, entries...) }
}

// WithSchedulerTick overrides how often the scheduler checks for due
// entries. Defaults to one second.
func WithSchedulerTick(d time.Duration) Option {
	return func(e *Engine) { e.schedTick = d }
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware and the lifecycle metrics extension. Defaults to the global
// provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// New assembles an Engine on top of st. Zero-valued Config fields fall
// back to the corresponding DefaultConfig values.
func New(st store.Store, cfg jobqueue.Config, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, jobqueue.ErrNoStore
	}

	eng := &Engine{
		store:        st,
		cfg:          normalize(cfg),
		registry:     job.NewRegistry(),
		logger:       slog.Default(),
		kindDefaults: make(map[string]job.Options),
	}
	for _, opt := range opts {
		opt(eng)
	}

	// The extension registry is built after options so it carries the
	// final logger.
	eng.extensions = ext.NewRegistry(eng.logger)
	for _, x := range eng.pendingExts {
		eng.extensions.Register(x)
	}

	if eng.bo != nil {
		bc, ok := st.(backoffConfigurable)
		if !ok {
			return nil, fmt.Errorf("jobqueue/engine: store %T does not support backoff reconfiguration", st)
		}
		bc.SetBackoff(eng.bo)
	}

	// Tracing middleware, on the engine's provider or the global one.
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	// Metrics middleware and lifecycle metrics extension.
	var metricsMw mw.Middleware
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter(instrumentationName)
		metricsMw = mw.MetricsWithMeter(meter)
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default middleware stack; user middleware runs inside it.
	allMws := append([]mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Timeout(eng.cfg.JobTimeout),
	}, eng.mws...)

	executor := worker.NewExecutor(eng.registry, eng.extensions, eng.store, eng.logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(eng.cfg.Concurrency),
		worker.WithPollInterval(eng.cfg.PollInterval),
		worker.WithLeaseDuration(eng.cfg.LeaseDuration),
		worker.WithExtendInterval(eng.cfg.ExtendInterval),
		worker.WithReapInterval(eng.cfg.ReapInterval),
	}
	if len(eng.throttleConfigs) > 0 {
		poolOpts = append(poolOpts, worker.WithThrottle(throttle.NewManager(eng.throttleConfigs...)))
	}
	eng.pool = worker.NewPool(eng.store, executor, eng.extensions, eng.logger, poolOpts...)

	if len(eng.entries) > 0 {
		enqueue := func(ctx context.Context, kind string, payload map[string]string, opts ...job.Option) (id.JobID, error) {
			j, err := eng.Enqueue(ctx, kind, payload, opts...)
			if err != nil {
				return id.Nil, err
			}
			return j.ID, nil
		}
		schedOpts := []scheduler.Option{
			scheduler.WithLogger(eng.logger),
			scheduler.WithEmitter(eng.extensions),
		}
		if eng.schedTick > 0 {
			schedOpts = append(schedOpts, scheduler.WithTickInterval(eng.schedTick))
		}
		sched, err := scheduler.New(enqueue, eng.entries, schedOpts...)
		if err != nil {
			return nil, err
		}
		eng.sched = sched
	}

	return eng, nil
}

// normalize fills zero-valued config fields with defaults.
func normalize(cfg jobqueue.Config) jobqueue.Config {
	def := jobqueue.DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = def.LeaseDuration
	}
	if cfg.ExtendInterval <= 0 {
		cfg.ExtendInterval = def.ExtendInterval
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = def.ReapInterval
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	return cfg
}

// Register binds a type-erased handler to a kind. All registration happens
// before Start; the kind set is fixed for the process lifetime.
func (e *Engine) Register(kind string, fn job.HandlerFunc) error {
	return e.registry.Register(kind, fn)
}

// RegisterDefinition registers a typed job definition and records its
// enqueue defaults (retry budget, delay) for jobs of that kind.
func RegisterDefinition[T any](e *Engine, def *job.Definition[T]) error {
	if err := job.RegisterDefinition(e.registry, def); err != nil {
		return err
	}
	e.defaultsMu.Lock()
	e.kindDefaults[def.Kind] = def.Opts
	e.defaultsMu.Unlock()
	return nil
}

// Enqueue builds a pending job record and persists it. The record becomes
// eligible immediately unless a delay or available-at option defers it.
// Enqueue never waits on job execution.
func (e *Engine) Enqueue(ctx context.Context, kind string, payload map[string]string, opts ...job.Option) (*job.Job, error) {
	if kind == "" {
		return nil, fmt.Errorf("jobqueue/engine: enqueue: empty kind")
	}

	e.defaultsMu.RLock()
	defaults, hasDefaults := e.kindDefaults[kind]
	e.defaultsMu.RUnlock()
	if hasDefaults {
		pre := make([]job.Option, 0, 3)
		if defaults.MaxAttempts > 0 {
			pre = append(pre, job.WithMaxAttempts(defaults.MaxAttempts))
		}
		if defaults.Delay > 0 {
			pre = append(pre, job.WithDelay(defaults.Delay))
		}
		if !defaults.AvailableAt.IsZero() {
			pre = append(pre, job.WithAvailableAt(defaults.AvailableAt))
		}
		opts = append(pre, opts...)
	}

	j := job.New(kind, payload, opts...)
	if err := e.store.Enqueue(ctx, j); err != nil {
		return nil, err
	}

	e.extensions.EmitJobEnqueued(ctx, j)
	return j, nil
}

// Enqueue encodes a typed payload and enqueues it under kind.
func Enqueue[T any](ctx context.Context, e *Engine, kind string, payload T, opts ...job.Option) (*job.Job, error) {
	m, err := job.EncodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("jobqueue/engine: enqueue %q: %w", kind, err)
	}
	return e.Enqueue(ctx, kind, m, opts...)
}

// Start launches the worker pool and, when entries are configured, the
// scheduler. It returns immediately; processing happens on background
// goroutines until Stop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return nil
	}

	if err := e.pool.Start(ctx); err != nil {
		return fmt.Errorf("jobqueue/engine: start pool: %w", err)
	}

	if e.sched != nil {
		schedCtx, cancel := context.WithCancel(context.Background())
		e.schedCancel = cancel
		e.schedWG.Add(1)
		go func() {
			defer e.schedWG.Done()
			if err := e.sched.Run(schedCtx); err != nil {
				e.logger.Error("scheduler exited", slog.String("error", err.Error()))
			}
		}()
	}

	e.started = true
	e.logger.Info("engine started",
		slog.Int("concurrency", e.cfg.Concurrency),
		slog.Bool("scheduler", e.sched != nil),
	)
	return nil
}

// Stop shuts the engine down: the scheduler stops enqueuing, the pool
// stops leasing and drains in-flight work within ctx's deadline, the
// shutdown hook fires, and the store is closed. In-flight jobs that do not
// finish in time are reclaimed later through lease expiry.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return nil
	}
	e.started = false

	if e.schedCancel != nil {
		e.schedCancel()
		e.schedWG.Wait()
		e.schedCancel = nil
	}

	if err := e.pool.Stop(ctx); err != nil {
		e.logger.Error("pool stop error", slog.String("error", err.Error()))
	}

	e.extensions.EmitShutdown(ctx)

	if err := e.store.Close(); err != nil {
		e.logger.Error("store close error", slog.String("error", err.Error()))
	}

	e.logger.Info("engine stopped")
	return nil
}

// Stats summarizes the queue by status.
type Stats struct {
	Pending   int64 `json:"pending"`
	Leased    int64 `json:"leased"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Total     int64 `json:"total"`
}

// Stats counts jobs per status.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	for _, c := range []struct {
		status job.Status
		dst    *int64
	}{
		{job.StatusPending, &stats.Pending},
		{job.StatusLeased, &stats.Leased},
		{job.StatusSucceeded, &stats.Succeeded},
		{job.StatusFailed, &stats.Failed},
	} {
		n, err := e.store.Count(ctx, job.CountOpts{Status: c.status})
		if err != nil {
			return nil, fmt.Errorf("jobqueue/engine: stats: %w", err)
		}
		*c.dst = n
		stats.Total += n
	}
	return &stats, nil
}

// Get retrieves a job by ID.
func (e *Engine) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return e.store.Get(ctx, jobID)
}

// List returns jobs matching opts, newest first.
func (e *Engine) List(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	return e.store.List(ctx, opts)
}

// Requeue returns a terminally failed job to pending with a fresh attempt
// budget — the operator's recovery path for exhausted or permanent
// failures.
func (e *Engine) Requeue(ctx context.Context, jobID id.JobID) error {
	return e.store.Requeue(ctx, jobID)
}

// Delete removes a job record.
func (e *Engine) Delete(ctx context.Context, jobID id.JobID) error {
	return e.store.Delete(ctx, jobID)
}

// Ping checks store connectivity.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// Registry returns the job registry.
func (e *Engine) Registry() *job.Registry { return e.registry }

// Extensions returns the extension registry.
func (e *Engine) Extensions() *ext.Registry { return e.extensions }

// Scheduler returns the scheduler, or nil when no entries are configured.
func (e *Engine) Scheduler() *scheduler.Scheduler { return e.sched }

// WorkerID returns the pool's lease-holder identity.
func (e *Engine) WorkerID() id.WorkerID { return e.pool.WorkerID() }

// Config returns the engine's normalized configuration.
func (e *Engine) Config() jobqueue.Config { return e.cfg }

// ShutdownTimeout returns the configured graceful-drain window, for
// callers building the Stop context.
func (e *Engine) ShutdownTimeout() time.Duration { return e.cfg.ShutdownTimeout }
