// Package job defines the job record, its status machine, typed
// definitions, and the store interface.
//
// # Job Record
//
// A [Job] represents a unit of work. It carries an opaque string-map
// payload and progresses through a status machine:
//
//	pending → leased → succeeded
//	pending → leased → pending    (failure with retry budget left, or lease expiry)
//	pending → leased → failed     (budget exhausted or permanent failure)
//
// Fields of note:
//   - MaxAttempts / Attempts: controls the retry budget
//   - AvailableAt: earliest time the job may be leased (delay and backoff)
//   - LeasedBy / LeaseExpiresAt: the active lease, if any
//
// # Defining a Job
//
// Use [Definition] with a typed handler. The payload map is decoded into
// the typed value before the handler runs:
//
//	var SendEmail = job.NewDefinition("email",
//	    func(ctx context.Context, input EmailInput) error {
//	        return sender.Send(ctx, input.To, input.Subject, input.Body)
//	    },
//	)
//
// # Registry
//
// [Registry] maps job kinds to type-erased [HandlerFunc] values. Register
// definitions at startup via [RegisterDefinition]; the set of kinds is
// fixed for the lifetime of the process:
//
//	job.RegisterDefinition(registry, SendEmail)
//
// The engine package provides higher-level engine.Register and
// engine.Enqueue wrappers.
package job
