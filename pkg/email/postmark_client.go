package email

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mrz1836/postmark"
)

type postmarkClient struct {
	client *postmark.Client
	config Config
}

// PostmarkOption configures the Postmark sender.
type PostmarkOption func(*postmarkClient)

// WithPostmarkBaseURL points the client at a different API endpoint.
func WithPostmarkBaseURL(url string) PostmarkOption {
	return func(c *postmarkClient) {
		if url != "" {
			c.client.BaseURL = url
		}
	}
}

// NewPostmarkClient creates a Postmark-backed email sender.
// Both tokens are required for runtime operation - this enforces
// explicit configuration rather than silent failures in production.
func NewPostmarkClient(cfg Config, opts ...PostmarkOption) (EmailSender, error) {
	if cfg.PostmarkServerToken == "" {
		return nil, fmt.Errorf("%w: PostmarkServerToken is required", ErrInvalidConfig)
	}
	if cfg.PostmarkAccountToken == "" {
		return nil, fmt.Errorf("%w: PostmarkAccountToken is required", ErrInvalidConfig)
	}
	if cfg.FromEmail == "" {
		return nil, fmt.Errorf("%w: FromEmail is required", ErrInvalidConfig)
	}
	if err := cfg.validateSender(); err != nil {
		return nil, err
	}

	c := &postmarkClient{
		client: postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		config: cfg,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// MustNewPostmarkClient creates a Postmark client that panics on invalid config.
func MustNewPostmarkClient(cfg Config, opts ...PostmarkOption) EmailSender {
	client, err := NewPostmarkClient(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return client
}

// SendEmail implements EmailSender using Postmark's transactional API.
// A From header set by the caller wins over the configured identity.
func (c *postmarkClient) SendEmail(ctx context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	from := params.Headers.Get("From")
	if from == "" {
		from = c.config.FromAddress()
	}

	msg := postmark.Email{
		From:    from,
		To:      strings.Join(params.To, ","),
		Cc:      strings.Join(params.Headers.Values("Cc"), ","),
		Bcc:     strings.Join(params.Headers.Values("Bcc"), ","),
		ReplyTo: params.Headers.Get("Reply-To"),
		Subject: params.Subject,
		Tag:     params.Tag,
	}
	if isHTML(params.Headers) {
		msg.HTMLBody = params.Body
	} else {
		msg.TextBody = params.Body
	}
	for _, h := range params.Headers.Without("From", "To", "Cc", "Bcc", "Reply-To", "Subject", "Content-Type", "Mime-Version") {
		msg.Headers = append(msg.Headers, postmark.Header{Name: h.Name, Value: h.Value})
	}

	resp, err := c.client.SendEmail(ctx, msg)
	if err != nil {
		return errors.Join(ErrFailedToSendEmail, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(
			ErrFailedToSendEmail,
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message),
		)
	}
	return nil
}

func isHTML(h Headers) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(h.Get("Content-Type"))), "text/html")
}
