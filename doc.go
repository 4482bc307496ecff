// Package jobqueue provides a durable job queue with scheduled dispatch and
// lease-based workers. It offers library-first background jobs: a producer
// enqueues a job record, a scheduler enqueues records on a cadence, and a
// worker pool leases records one at a time, executes the registered handler
// for the record's kind, and reports the outcome back to the store.
//
// Jobqueue is designed as a library, not a service. Import it, configure a
// store, register handlers as ordinary Go functions, and start the engine.
//
// # Quick Start
//
//	st := memory.New()
//	eng, err := engine.New(st, jobqueue.DefaultConfig())
//	if err != nil { ... }
//	eng.Register(mailer.Kind, mailer.Handler(sender))
//	eng.Start(ctx)
//
// # Delivery semantics
//
// Jobs are delivered at least once. A lease is a time-bounded exclusive
// claim: exactly one worker holds an active lease on a record, and a record
// whose lease expires without completion becomes eligible again. Handlers
// must therefore tolerate re-execution; idempotency is the handler's
// responsibility.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package jobqueue
