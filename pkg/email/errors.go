package email

import "errors"

var (
	ErrFailedToSendEmail = errors.New("mailer.errors.failed_to_send_email")
	ErrInvalidConfig     = errors.New("mailer.errors.invalid_config")
	ErrInvalidParams     = errors.New("mailer.errors.invalid_params")
	ErrInvalidHeaders    = errors.New("mailer.errors.invalid_headers")
	ErrUnknownTransport  = errors.New("mailer.errors.unknown_transport")
	ErrDKIMKey           = errors.New("mailer.errors.invalid_dkim_key")
)
