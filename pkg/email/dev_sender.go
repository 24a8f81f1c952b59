package email

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DevSender implements EmailSender for local development.
// It saves each message as an .eml file plus a JSON metadata file
// instead of handing it to a transport.
type DevSender struct {
	dir      string
	composer composer
}

// NewDevSender creates a development email sender that saves emails to disk.
// The directory will be created if it doesn't exist. from is used when the
// message carries no From header.
func NewDevSender(dir, from string) *DevSender {
	if from == "" {
		from = "dev@localhost.localdomain"
	}
	return &DevSender{dir: dir, composer: composer{from: from}}
}

// emailMetadata contains the email data saved to JSON (excluding the body).
type emailMetadata struct {
	Timestamp  string   `json:"timestamp"`
	From       string   `json:"from"`
	To         []string `json:"to"`
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Headers    Headers  `json:"headers,omitempty"`
	Tag        string   `json:"tag,omitempty"`
}

// SendEmail saves the rendered message and its metadata to the configured directory.
func (d *DevSender) SendEmail(ctx context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	msg, env, err := d.composer.compose(params)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return fmt.Errorf("%w: failed to create directory: %v", ErrFailedToSendEmail, err)
	}

	now := time.Now()
	identifier := params.Tag
	if identifier == "" {
		identifier = params.Subject
	}
	baseFilename := fmt.Sprintf("%s_%s_%s",
		now.Format("2006_01_02_150405"),
		sanitizeFilename(identifier),
		uuid.NewString()[:8],
	)

	emlPath := filepath.Join(d.dir, baseFilename+".eml")
	if err := os.WriteFile(emlPath, msg, 0644); err != nil {
		return fmt.Errorf("%w: failed to write message file: %v", ErrFailedToSendEmail, err)
	}

	jsonData, err := json.MarshalIndent(emailMetadata{
		Timestamp:  now.Format(time.RFC3339),
		From:       env.From,
		To:         params.To,
		Recipients: env.Recipients,
		Subject:    params.Subject,
		Headers:    params.Headers,
		Tag:        params.Tag,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to marshal metadata: %v", ErrFailedToSendEmail, err)
	}

	jsonPath := filepath.Join(d.dir, baseFilename+".json")
	if err := os.WriteFile(jsonPath, jsonData, 0644); err != nil {
		return fmt.Errorf("%w: failed to write JSON file: %v", ErrFailedToSendEmail, err)
	}

	return nil
}

var sanitizeRegex = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)

// sanitizeFilename converts a string into a safe, lowercased filename.
func sanitizeFilename(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = sanitizeRegex.ReplaceAllString(s, "")

	const maxLength = 100
	if len(s) > maxLength {
		s = s[:maxLength]
	}
	if s == "" {
		s = "email"
	}
	return strings.ToLower(s)
}
