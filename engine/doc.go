// Package engine wires the store, handler registry, worker pool,
// scheduler, and extension registry into one lifecycle, and provides the
// primary application-level API for registering and enqueuing work.
//
// # Building an Engine
//
//	st := memory.New()
//	eng, err := engine.New(st, jobqueue.DefaultConfig(),
//	    engine.WithLogger(logger),
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(myMiddleware),
//	    engine.WithBackoff(backoff.NewExponential(time.Second, time.Minute)),
//	    engine.WithThrottle(throttle.Config{Kind: "email", RatePerSecond: 10}),
//	)
//
// # Registering Work
//
//	// Type-erased handlers
//	eng.Register("email", sendEmail)
//
//	// Typed definitions
//	engine.RegisterDefinition(eng, job.NewDefinition("email", handleEmail,
//	    job.WithMaxAttempts(5),
//	))
//
// # Enqueuing Jobs
//
//	eng.Enqueue(ctx, "email", payload)
//
//	// Typed, with options
//	engine.Enqueue(ctx, eng, "email", EmailPayload{To: "user@example.com"},
//	    job.WithMaxAttempts(5),
//	    job.WithDelay(time.Minute),
//	)
//
// # Running
//
//	if err := eng.Start(ctx); err != nil { ... }
//	defer func() {
//	    stopCtx, cancel := context.WithTimeout(context.Background(), eng.ShutdownTimeout())
//	    defer cancel()
//	    eng.Stop(stopCtx)
//	}()
//
// Start returns immediately; workers lease and execute jobs on background
// goroutines. Stop stops the scheduler, drains in-flight work within the
// context deadline, and closes the store. Jobs that do not finish in time
// are reclaimed later through lease expiry.
//
// # Options
//
//   - [WithLogger] — set the logger for the engine and its components
//   - [WithExtension] — register a lifecycle extension
//   - [WithMiddleware] — add middleware to the execution chain
//   - [WithBackoff] — set the retry backoff strategy applied by the store
//   - [WithThrottle] — configure per-kind rate limits and concurrency caps
//   - [WithSchedulerEntries] — run the periodic enqueuer alongside workers
//   - [WithSchedulerTick] — override the scheduler's due-entry check cadence
//   - [WithTracerProvider] — set the OpenTelemetry tracer provider
//   - [WithMeterProvider] — set the OpenTelemetry meter provider
package engine
