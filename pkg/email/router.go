package email

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Router picks a transport per message. A message addressed to exactly one
// recipient whose domain is listed as local goes to the local transport;
// everything else, including any multi-recipient message, goes to the
// network transport.
type Router struct {
	network EmailSender
	local   EmailSender
	domains map[string]struct{}
	logger  *slog.Logger
}

// NewRouter creates a Router. local may be nil, in which case every
// message is sent over the network transport.
func NewRouter(network, local EmailSender, localDomains []string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	domains := make(map[string]struct{}, len(localDomains))
	for _, d := range localDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			domains[d] = struct{}{}
		}
	}
	return &Router{network: network, local: local, domains: domains, logger: logger}
}

// IsLocal reports whether params would be delivered locally.
func (r *Router) IsLocal(params SendEmailParams) bool {
	if r.local == nil || len(r.domains) == 0 || len(params.To) != 1 {
		return false
	}
	if params.Headers.Has("Cc") || params.Headers.Has("Bcc") {
		return false
	}
	_, ok := r.domains[Domain(params.To[0])]
	return ok
}

// SendEmail implements EmailSender.
func (r *Router) SendEmail(ctx context.Context, params SendEmailParams) error {
	if r.IsLocal(params) {
		r.logger.DebugContext(ctx, "routing message to local transport", slog.String("to", params.To[0]))
		return r.local.SendEmail(ctx, params)
	}
	return r.network.SendEmail(ctx, params)
}

// NewSenderFromConfig builds the network transport selected by cfg.Transport
// and wraps it in a Router when local domains are configured.
func NewSenderFromConfig(cfg Config, logger *slog.Logger) (EmailSender, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var network EmailSender
	switch t := cfg.transport(); {
	case cfg.IsSMTP():
		signer, err := NewDKIMSigner(cfg)
		if err != nil {
			return nil, err
		}
		network, err = NewSMTPSender(cfg, WithDKIM(signer), WithSMTPLogger(logger))
		if err != nil {
			return nil, err
		}
	case t == TransportPostmark:
		var err error
		if network, err = NewPostmarkClient(cfg); err != nil {
			return nil, err
		}
	case t == TransportDev:
		network = NewDevSender(cfg.DevOutputDir, cfg.FromAddress())
	case t == TransportSendmail:
		var err error
		if network, err = NewSendmailSender(cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Transport)
	}

	if len(cfg.LocalDomains) == 0 {
		return network, nil
	}
	local, err := NewSendmailSender(cfg)
	if err != nil {
		return nil, err
	}
	return NewRouter(network, local, cfg.LocalDomains, logger), nil
}
