// Package scheduler provides periodic job dispatch: a fixed set of
// entries, each pairing a cron schedule with a job kind and payload, fired
// by a single tick loop.
//
// The scheduler is a producer only. Firing an entry enqueues a pending
// record through the engine; execution happens in the worker pool,
// possibly in another process.
//
// # Entries
//
// Entries are fixed at construction:
//
//	sched, err := scheduler.New(enqueue, []scheduler.Entry{{
//	    Name:     "daily-digest",
//	    Schedule: "0 9 * * *",
//	    Kind:     "email",
//	    Payload:  mailer.NewMessagePayload(mailer.Message{To: "team@example.com", Subject: "Daily digest"}),
//	}})
//
// Schedules accept standard 5-field cron expressions and descriptors such
// as "@every 30s" or "@hourly". Invalid expressions fail construction.
//
// # Missed occurrences
//
// A stopped scheduler does not remember ticks. By default an entry whose
// occurrences passed while the process was down resumes at its next
// wall-clock occurrence; nothing is backfilled. Setting Entry.CatchUp
// fires once per missed occurrence instead, draining one per tick.
//
// Run the scheduler in exactly one process. Two processes with the same
// entries fire every entry twice; the queue does not deduplicate them.
package scheduler
