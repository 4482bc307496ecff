// Package throttle enforces per-kind rate limits and concurrency caps
// on job execution.
//
// Jobs carry a Kind field that names their handler. When some kinds call
// expensive or rate-limited downstreams (an email provider, a third-party
// API), the pool-wide concurrency setting is too blunt: a [Config] caps a
// single kind without starving the others.
//
//	throttle.Config{
//	    Kind:          "email",
//	    MaxConcurrent: 5,      // max 5 concurrent email jobs
//	    RatePerSecond: 10,     // max 10 email jobs/s started
//	    Burst:         20,     // allow bursts up to 20
//	}
//
// Pass configs when building the engine:
//
//	engine.New(st, cfg,
//	    engine.WithThrottle(
//	        throttle.Config{Kind: "email", RatePerSecond: 10, Burst: 20},
//	        throttle.Config{Kind: "report", MaxConcurrent: 1},
//	    ),
//	)
//
// # Manager
//
// [Manager] enforces the limits after a job is leased and before its
// handler runs. It uses a token-bucket rate limiter (golang.org/x/time/rate)
// and an active-count gate for concurrency limits.
//
//	m := throttle.NewManager(configs...)
//	if m.Acquire(j.Kind) {
//	    defer m.Release(j.Kind)
//	    // execute the job
//	}
//
// A throttled job keeps its lease; the pool retries Acquire until capacity
// frees up, extending the lease as needed. Kinds without a [Config] have no
// limits beyond the pool-wide concurrency.
package throttle
