package mailqueue

import (
	"context"

	"github.com/andrewklimek/mnml-smtp/pkg/email"
)

// QueueingSender is an email.EmailSender that enqueues every message.
// Sends made by the dispatcher itself carry the queue-origin tag and go
// straight to the underlying transport, so queued mail is never queued twice.
type QueueingSender struct {
	enqueuer *Enqueuer
	direct   email.EmailSender
}

// NewQueueingSender wraps direct with queueing.
func NewQueueingSender(enqueuer *Enqueuer, direct email.EmailSender) *QueueingSender {
	return &QueueingSender{enqueuer: enqueuer, direct: direct}
}

// SendEmail implements email.EmailSender.
func (s *QueueingSender) SendEmail(ctx context.Context, params email.SendEmailParams) error {
	if email.IsQueueOrigin(ctx) {
		return s.direct.SendEmail(ctx, params)
	}
	_, err := s.enqueuer.Enqueue(ctx, params)
	return err
}

var _ email.EmailSender = (*QueueingSender)(nil)
