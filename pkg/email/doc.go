// Package email provides the outbound mail transports used by the queue.
//
// All transports implement EmailSender:
//
//	type EmailSender interface {
//	    SendEmail(ctx context.Context, params SendEmailParams) error
//	}
//
// Available implementations:
//   - SMTPSender: net/smtp delivery with STARTTLS or implicit TLS, PLAIN auth
//     and optional DKIM signing
//   - Postmark client: delivery through Postmark's transactional API
//   - SendmailSender: hands messages to a local sendmail-compatible binary
//   - DevSender: writes .eml and JSON files to a directory
//
// Router combines a network transport with a local one. Single-recipient
// messages for a configured local domain are delivered locally; everything
// else goes over the network.
//
// # Configuration
//
// Config is loaded from the environment:
//
//	cfg := config.MustLoad[email.Config]()
//	sender, err := email.NewSenderFromConfig(cfg, logger)
//
// EMAIL_TRANSPORT selects smtp, ses, google, brevo, postmark, dev or sendmail.
// The ses, google and brevo presets only supply a default SMTP_HOST.
//
// # Headers
//
// Headers is an ordered list of name/value pairs. It round-trips through
// JSON so queued messages keep their headers exactly:
//
//	var h email.Headers
//	h.Add("Reply-To", "support@example.com")
//	data, _ := h.Encode() // [{"name":"Reply-To","value":"support@example.com"}]
//
// A From header overrides the configured sender identity. Cc and Bcc headers
// add envelope recipients; Bcc is never written to the message.
//
// # Queue origin
//
// WithQueueOrigin tags a context as belonging to a queue delivery attempt.
// Senders that enqueue instead of sending check IsQueueOrigin so a message
// being delivered by the queue is not queued a second time.
//
// # Error Handling
//
// The package provides sentinel errors for common failure scenarios:
//   - ErrInvalidConfig: Configuration validation failed
//   - ErrInvalidParams: Email parameters validation failed
//   - ErrFailedToSendEmail: Email delivery failed
//
// All errors can be checked using errors.Is().
package email
