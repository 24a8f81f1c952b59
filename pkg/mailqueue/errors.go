package mailqueue

import "errors"

var (
	// ErrRepositoryNil is returned when a nil repository is provided
	ErrRepositoryNil = errors.New("repository cannot be nil")

	// ErrMailerNil is returned when a nil mailer is provided
	ErrMailerNil = errors.New("mailer cannot be nil")

	// ErrStateNil is returned when a nil state store is provided
	ErrStateNil = errors.New("state store cannot be nil")

	// ErrMessageNotFound is returned when a message id does not exist
	ErrMessageNotFound = errors.New("message not found")

	// ErrStaleUpdate is returned when a conditional update finds the message already changed
	ErrStaleUpdate = errors.New("message changed by a concurrent dispatch")

	// ErrNothingDue is returned when a requested message is missing, not pending or not due yet
	ErrNothingDue = errors.New("message missing or already processed")

	// ErrQueuePaused is returned when dispatch is halted by the circuit breaker
	ErrQueuePaused = errors.New("queue paused due to repeated failures")

	// ErrLeaseHeld is returned when another sweep holds the dispatch lease
	ErrLeaseHeld = errors.New("dispatch lease held by another sweep")

	// ErrLeaseTTLTooShort is returned when the lease could expire before a sweep's budget runs out
	ErrLeaseTTLTooShort = errors.New("lease ttl must exceed the batch budget")

	// ErrLeaseLost is returned when releasing a lease owned by someone else
	ErrLeaseLost = errors.New("dispatch lease no longer owned")

	// ErrTriggerUnreachable is returned when the wake trigger could not be invoked
	ErrTriggerUnreachable = errors.New("wake trigger unreachable")

	// ErrStateNotFound is returned by state stores for missing or expired keys
	ErrStateNotFound = errors.New("state key not found")

	// ErrInvalidStatus is returned for unknown status values
	ErrInvalidStatus = errors.New("invalid message status")

	// ErrNoRecipients is returned when enqueuing a message without recipients
	ErrNoRecipients = errors.New("message has no recipients")

	// ErrUnauthorized is returned when a trigger request carries a bad secret
	ErrUnauthorized = errors.New("invalid trigger secret")

	// ErrInvalidTrigger is returned for malformed trigger requests
	ErrInvalidTrigger = errors.New("invalid trigger request")

	// ErrInvalidRetryPolicy is returned for unusable retry intervals
	ErrInvalidRetryPolicy = errors.New("retry intervals must be positive")
)
