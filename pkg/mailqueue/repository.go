package mailqueue

import (
	"context"
	"time"
)

// Repository is the queue store. Single-record operations must be atomic;
// no multi-record transaction is assumed.
type Repository interface {
	// Insert stores a new message and returns its assigned id.
	Insert(ctx context.Context, msg *Message) (int64, error)

	// Get returns the message with the given id or ErrMessageNotFound.
	Get(ctx context.Context, id int64) (*Message, error)

	// ListDue returns messages matching opts ordered by next_attempt ascending.
	ListDue(ctx context.Context, opts ListOptions) ([]*Message, error)

	// Update applies a partial update to one message.
	Update(ctx context.Context, id int64, upd MessageUpdate) error

	// Delete removes one message.
	Delete(ctx context.Context, id int64) error

	// Count returns the number of messages in the given status.
	Count(ctx context.Context, status Status) (int, error)

	// ResetStatus moves every message in status from back to pending,
	// due at now, with attempts and error cleared.
	ResetStatus(ctx context.Context, from Status, now time.Time) (int64, error)

	// ResetIDs resets the given messages the same way regardless of status.
	ResetIDs(ctx context.Context, ids []int64, now time.Time) (int64, error)

	// DeleteByStatus removes every message in status.
	DeleteByStatus(ctx context.Context, status Status) (int64, error)

	// DeleteTerminalBefore removes sent and failed messages created before t.
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)

	// List returns messages newest first for operators.
	List(ctx context.Context, opts ListOptions) ([]*Message, error)
}
