// Package mailqueue provides a persistent outbound email queue with retries,
// a circuit breaker and self re-arming dispatch.
//
// Callers never wait on the transport. A message is stored as pending and an
// immediate wake is fired for it; delivery happens later in a dispatcher pass.
//
// The package is organised around a few small components:
//
//   - Repository: the queue store (MemoryStorage here, SQL stores in subpackages)
//   - StateStore: short-lived shared flags: dispatch lease, pause flag, cached counts
//   - Dispatcher: single-message and lease-protected batch delivery passes
//   - RetryPolicy: ordered retry delays; attempts allowed is len(Intervals)+1
//   - CircuitBreaker: pauses the queue once too many messages failed for good
//   - Waker: immediate wakes through the trigger plus timer fallbacks
//   - Trigger: authenticated wake endpoint answering 202 before dispatch
//   - Admin: operator commands: resend, clear, resume, status
//   - Janitor: retention cleanup of old sent and failed messages
//   - SubmitHandler: bearer-token HTTP submission for other services
//
// # Architecture
//
// Delivery is at-least-once. A message moves pending → sent, or pending →
// failed once RetryPolicy is exhausted; only operator resend moves it back
// to pending. Batch passes hold a lease so at most one sweep runs at a time,
// and stop early when their time budget is spent or the breaker trips. Every
// pass that leaves retries behind arms a single fallback sweep for the
// soonest of them, so work is never stranded when wakes are lost.
//
// Sends made by the dispatcher carry email.WithQueueOrigin, which lets
// QueueingSender pass them straight to the transport instead of queueing
// them again.
//
// # Usage
//
//	q, err := mailqueue.New(cfg, store, mailqueue.NewMemoryState(nil), transport,
//	    mailqueue.WithLogger(log),
//	)
//	if err != nil {
//	    return err
//	}
//
//	r := chi.NewRouter()
//	r.Handle("/mailqueue/trigger", q.Trigger())
//	r.Mount("/mailqueue/admin", mailqueue.NewAdminHandler(q.Admin(), token, log).Routes())
//
//	go q.Start(ctx)
//
//	id, err := q.Enqueue(ctx, email.SendEmailParams{
//	    To:      []string{"user@example.com"},
//	    Subject: "Welcome",
//	    Body:    "Hello!",
//	})
//
// # Error Handling
//
// Lease contention, a paused queue and wakes for messages that are already
// processed are logged and swallowed. Delivery failures never surface to
// the caller that enqueued the message; they are recorded on the message.
package mailqueue
