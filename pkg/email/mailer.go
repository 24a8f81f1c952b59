package email

import (
	"context"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

// EmailSender represents an interface for sending emails.
type EmailSender interface {
	SendEmail(ctx context.Context, params SendEmailParams) error
}

// SenderFunc adapts a plain function to EmailSender.
type SenderFunc func(ctx context.Context, params SendEmailParams) error

func (f SenderFunc) SendEmail(ctx context.Context, params SendEmailParams) error {
	return f(ctx, params)
}

// SendEmailParams represents the parameters for sending an email.
type SendEmailParams struct {
	To      []string `json:"to"`                // Recipient addresses, in order
	Subject string   `json:"subject"`           // Subject of the email
	Body    string   `json:"body"`              // Message body, passed through untouched
	Headers Headers  `json:"headers,omitempty"` // Extra headers, e.g. From, Reply-To, Content-Type
	Tag     string   `json:"tag,omitempty"`     // Optional
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Validate checks that the message has at least one well-formed recipient.
// Recipients may be bare addresses or "Name <addr>" forms.
func (p SendEmailParams) Validate() error {
	if len(p.To) == 0 {
		return fmt.Errorf("%w: To is required", ErrInvalidParams)
	}
	for _, rcpt := range p.To {
		if strings.TrimSpace(rcpt) == "" {
			return fmt.Errorf("%w: To is required", ErrInvalidParams)
		}
		if _, err := ParseAddress(rcpt); err != nil {
			return fmt.Errorf("%w: To must be a valid email address: %q", ErrInvalidParams, rcpt)
		}
	}
	for _, h := range p.Headers {
		if strings.ContainsAny(h.Name, ": \r\n") {
			return fmt.Errorf("%w: header name %q", ErrInvalidHeaders, h.Name)
		}
	}
	return nil
}

// ParseAddress extracts the bare address from a recipient string.
func ParseAddress(value string) (string, error) {
	value = strings.TrimSpace(value)
	if emailRegex.MatchString(value) {
		return value, nil
	}
	addr, err := mail.ParseAddress(value)
	if err != nil {
		return "", err
	}
	if !emailRegex.MatchString(addr.Address) {
		return "", fmt.Errorf("%w: %q", ErrInvalidParams, value)
	}
	return addr.Address, nil
}

// ValidAddress reports whether value is a bare, well-formed email address.
func ValidAddress(value string) bool {
	return emailRegex.MatchString(strings.TrimSpace(value))
}

// SplitRecipients splits a comma-delimited recipient list, dropping blanks.
func SplitRecipients(list string) []string {
	parts := strings.Split(list, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Domain returns the lowercased domain part of an address.
func Domain(addr string) string {
	bare, err := ParseAddress(addr)
	if err != nil {
		return ""
	}
	at := strings.LastIndex(bare, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(bare[at+1:])
}
