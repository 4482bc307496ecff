// Package mailer is the email transport for the queue: a Sender interface
// with a Postmark implementation for production and a file-writing
// DevSender for local development, plus the job handler that turns "email"
// jobs into sends.
//
// Wire it up by registering the handler and enqueuing message payloads:
//
//	sender, err := mailer.NewPostmark(cfg)
//	eng.Register(mailer.Kind, mailer.Handler(sender))
//
//	eng.Enqueue(ctx, mailer.Kind, mailer.NewMessagePayload(mailer.Message{
//	    To:      "user@example.com",
//	    Subject: "Daily digest",
//	    Body:    "Nothing happened today.",
//	}))
//
// Failure classification: malformed messages and Postmark API rejections
// are permanent (the queue fails the job immediately); connectivity errors
// stay transient and are retried with backoff.
package mailer
