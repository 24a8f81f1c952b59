package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"time"
)

// Dialer opens network connections to the SMTP server.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// SMTPSender delivers messages to a relay over SMTP.
type SMTPSender struct {
	addr       string
	host       string
	encryption string
	username   string
	password   string
	helo       string
	timeout    time.Duration

	dialer    Dialer
	tlsConfig *tls.Config
	composer  composer
	signer    *DKIMSigner
	logger    *slog.Logger
}

// SMTPOption configures an SMTPSender.
type SMTPOption func(*SMTPSender)

// WithSMTPDialer overrides the network dialer.
func WithSMTPDialer(d Dialer) SMTPOption {
	return func(s *SMTPSender) {
		if d != nil {
			s.dialer = d
		}
	}
}

// WithSMTPTLSConfig sets the TLS config used for STARTTLS and implicit TLS.
func WithSMTPTLSConfig(cfg *tls.Config) SMTPOption {
	return func(s *SMTPSender) {
		s.tlsConfig = cfg
	}
}

// WithSMTPClock overrides the clock used for the Date header.
func WithSMTPClock(now func() time.Time) SMTPOption {
	return func(s *SMTPSender) {
		if now != nil {
			s.composer.now = now
		}
	}
}

// WithDKIM signs every outgoing message with signer.
func WithDKIM(signer *DKIMSigner) SMTPOption {
	return func(s *SMTPSender) {
		s.signer = signer
	}
}

// WithSMTPLogger sets the logger.
func WithSMTPLogger(logger *slog.Logger) SMTPOption {
	return func(s *SMTPSender) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSMTPSender creates an SMTP-backed email sender.
func NewSMTPSender(cfg Config, opts ...SMTPOption) (*SMTPSender, error) {
	if err := cfg.validateSender(); err != nil {
		return nil, err
	}
	addr := cfg.SMTPAddr()
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return nil, fmt.Errorf("%w: SMTP host is required", ErrInvalidConfig)
	}

	timeout := cfg.SMTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	helo := cfg.SMTPHelo
	if helo == "" {
		helo = "localhost"
	}

	s := &SMTPSender{
		addr:       addr,
		host:       host,
		encryption: cfg.Encryption(),
		username:   cfg.SMTPUsername,
		password:   cfg.SMTPPassword,
		helo:       helo,
		timeout:    timeout,
		dialer:     &net.Dialer{Timeout: timeout},
		composer:   composer{from: cfg.FromAddress()},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SendEmail implements EmailSender.
func (s *SMTPSender) SendEmail(ctx context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	msg, env, err := s.composer.compose(params)
	if err != nil {
		return err
	}
	if msg, err = s.signer.Sign(msg, env.From); err != nil {
		return errors.Join(ErrFailedToSendEmail, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.deliver(ctx, env, msg); err != nil {
		return errors.Join(ErrFailedToSendEmail, err)
	}

	s.logger.DebugContext(ctx, "smtp message accepted",
		slog.String("addr", s.addr),
		slog.Int("recipients", len(env.Recipients)),
	)
	return nil
}

func (s *SMTPSender) deliver(ctx context.Context, env Envelope, message []byte) error {
	conn, err := s.dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	defer conn.Close()

	if s.encryption == EncryptionSSL {
		tlsConn := tls.Client(conn, s.sessionTLSConfig())
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return fmt.Errorf("smtp tls handshake: %w", err)
		}
		conn = tlsConn
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer client.Close()

	if err := client.Hello(s.helo); err != nil {
		return fmt.Errorf("smtp hello: %w", err)
	}

	if s.encryption == EncryptionTLS {
		ok, _ := client.Extension("STARTTLS")
		if !ok {
			return errors.New("smtp starttls: not supported by server")
		}
		if err := client.StartTLS(s.sessionTLSConfig()); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}

	if s.username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(smtp.PlainAuth("", s.username, s.password, s.host)); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := client.Mail(env.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range env.Recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt to %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(message); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp data write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}

	if err := client.Quit(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("smtp quit: %w", err)
	}
	return ctx.Err()
}

func (s *SMTPSender) sessionTLSConfig() *tls.Config {
	if s.tlsConfig == nil {
		return &tls.Config{ServerName: s.host, MinVersion: tls.VersionTLS12}
	}
	cfg := s.tlsConfig.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = s.host
	}
	return cfg
}
