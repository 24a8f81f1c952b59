package email

import (
	"fmt"
	"net"
	"net/mail"
	"strconv"
	"strings"
	"time"
)

// Transport names accepted by Config.Transport.
const (
	TransportSMTP     = "smtp"
	TransportSES      = "ses"
	TransportGoogle   = "google"
	TransportBrevo    = "brevo"
	TransportPostmark = "postmark"
	TransportDev      = "dev"
	TransportSendmail = "sendmail"
)

// SMTP encryption modes.
const (
	EncryptionNone = "none"
	EncryptionTLS  = "tls" // STARTTLS upgrade
	EncryptionSSL  = "ssl" // implicit TLS
)

var presetHosts = map[string]string{
	TransportSMTP:   "smtp.gmail.com",
	TransportGoogle: "smtp.gmail.com",
	TransportSES:    "email-smtp.us-east-1.amazonaws.com",
	TransportBrevo:  "smtp-relay.brevo.com",
}

// Config holds email service configuration.
// Postmark tokens are only required when Transport is "postmark".
// SMTPPassword is read from the environment only so that secrets never
// live next to the rest of the persisted settings.
type Config struct {
	Transport string `env:"EMAIL_TRANSPORT" envDefault:"smtp"`
	FromEmail string `env:"EMAIL_FROM_EMAIL"`
	FromName  string `env:"EMAIL_FROM_NAME"`

	SMTPHost       string        `env:"SMTP_HOST"`
	SMTPPort       int           `env:"SMTP_PORT" envDefault:"587"`
	SMTPEncryption string        `env:"SMTP_ENCRYPTION" envDefault:"tls"`
	SMTPUsername   string        `env:"SMTP_USERNAME"`
	SMTPPassword   string        `env:"SMTP_PASSWORD"`
	SMTPHelo       string        `env:"SMTP_HELO"`
	SMTPTimeout    time.Duration `env:"SMTP_TIMEOUT" envDefault:"30s"`

	DKIMDomain         string `env:"DKIM_DOMAIN"`
	DKIMSelector       string `env:"DKIM_SELECTOR"`
	DKIMPrivateKey     string `env:"DKIM_PRIVATE_KEY"`
	DKIMPrivateKeyPath string `env:"DKIM_PRIVATE_KEY_PATH"`

	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`

	DevOutputDir string `env:"EMAIL_DEV_DIR" envDefault:"./tmp/emails"`

	// LocalDomains lists domains delivered through the local transport
	// instead of the network one.
	LocalDomains []string `env:"EMAIL_LOCAL_DOMAINS" envSeparator:","`
	SendmailPath string   `env:"SENDMAIL_PATH" envDefault:"/usr/sbin/sendmail"`
}

// IsSMTP reports whether the transport is SMTP or one of its presets.
func (c Config) IsSMTP() bool {
	_, ok := presetHosts[c.transport()]
	return ok
}

// SMTPAddr returns host:port, falling back to the preset host for the
// configured transport when SMTPHost is empty.
func (c Config) SMTPAddr() string {
	host := strings.TrimSpace(c.SMTPHost)
	if host == "" {
		host = presetHosts[c.transport()]
	}
	port := c.SMTPPort
	if port <= 0 {
		port = 587
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Encryption returns the normalized encryption mode.
func (c Config) Encryption() string {
	switch strings.ToLower(strings.TrimSpace(c.SMTPEncryption)) {
	case EncryptionNone, "":
		if c.SMTPEncryption == "" {
			return EncryptionTLS
		}
		return EncryptionNone
	case EncryptionSSL:
		return EncryptionSSL
	default:
		return EncryptionTLS
	}
}

// FromAddress formats the configured sender identity.
func (c Config) FromAddress() string {
	if c.FromEmail == "" {
		return ""
	}
	if c.FromName == "" {
		return c.FromEmail
	}
	return (&mail.Address{Name: c.FromName, Address: c.FromEmail}).String()
}

func (c Config) transport() string {
	t := strings.ToLower(strings.TrimSpace(c.Transport))
	if t == "" {
		return TransportSMTP
	}
	return t
}

func (c Config) validateSender() error {
	if c.FromEmail != "" && !emailRegex.MatchString(c.FromEmail) {
		return fmt.Errorf("%w: FromEmail must be a valid email address", ErrInvalidConfig)
	}
	return nil
}
