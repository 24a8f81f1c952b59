package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// SendmailSender hands messages to the local MTA through a
// sendmail-compatible binary. It is the local transport used by Router.
type SendmailSender struct {
	path     string
	composer composer
}

// NewSendmailSender creates a sender invoking the binary at path.
func NewSendmailSender(cfg Config) (*SendmailSender, error) {
	if strings.TrimSpace(cfg.SendmailPath) == "" {
		return nil, fmt.Errorf("%w: SendmailPath is required", ErrInvalidConfig)
	}
	if err := cfg.validateSender(); err != nil {
		return nil, err
	}
	return &SendmailSender{path: cfg.SendmailPath, composer: composer{from: cfg.FromAddress()}}, nil
}

// SendEmail pipes the rendered message to `sendmail -i -f <from> -- <rcpts>`.
func (s *SendmailSender) SendEmail(ctx context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	msg, env, err := s.composer.compose(params)
	if err != nil {
		return err
	}

	args := append([]string{"-i", "-f", env.From, "--"}, env.Recipients...)
	cmd := exec.CommandContext(ctx, s.path, args...)
	cmd.Stdin = bytes.NewReader(msg)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if out := strings.TrimSpace(stderr.String()); out != "" {
			err = fmt.Errorf("%w: %s", err, out)
		}
		return errors.Join(ErrFailedToSendEmail, err)
	}
	return nil
}
