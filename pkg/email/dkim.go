package email

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	msgauthdkim "github.com/emersion/go-msgauth/dkim"
)

var dkimHeaderKeys = []string{
	"from",
	"to",
	"subject",
	"date",
	"mime-version",
	"content-type",
	"message-id",
}

// DKIMSigner adds a DKIM-Signature header to outgoing messages.
// A nil signer passes messages through unchanged.
type DKIMSigner struct {
	domain   string
	selector string
	key      crypto.Signer
}

// NewDKIMSigner builds a signer from config. It returns nil, nil when DKIM
// is not configured at all.
func NewDKIMSigner(cfg Config) (*DKIMSigner, error) {
	selector := strings.TrimSpace(cfg.DKIMSelector)
	inline := strings.TrimSpace(cfg.DKIMPrivateKey)
	path := strings.TrimSpace(cfg.DKIMPrivateKeyPath)

	if selector == "" && inline == "" && path == "" && cfg.DKIMDomain == "" {
		return nil, nil
	}
	if selector == "" {
		return nil, fmt.Errorf("%w: DKIMSelector is required when DKIM is enabled", ErrInvalidConfig)
	}

	var pemData []byte
	switch {
	case inline != "":
		pemData = []byte(inline)
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Join(ErrDKIMKey, err)
		}
		pemData = data
	default:
		return nil, fmt.Errorf("%w: DKIMPrivateKey or DKIMPrivateKeyPath is required", ErrInvalidConfig)
	}

	key, err := parsePrivateKey(pemData)
	if err != nil {
		return nil, errors.Join(ErrDKIMKey, err)
	}

	return &DKIMSigner{
		domain:   strings.ToLower(strings.TrimSpace(cfg.DKIMDomain)),
		selector: selector,
		key:      key,
	}, nil
}

// Sign signs message on behalf of the sender domain unless an explicit
// domain was configured. Messages already carrying a signature are left as is.
func (s *DKIMSigner) Sign(message []byte, from string) ([]byte, error) {
	if s == nil || s.key == nil || hasDKIMSignature(message) {
		return message, nil
	}

	domain := s.domain
	if domain == "" {
		domain = Domain(from)
	}
	if domain == "" {
		return nil, fmt.Errorf("%w: unable to determine signing domain", ErrDKIMKey)
	}

	var signed bytes.Buffer
	err := msgauthdkim.Sign(&signed, bytes.NewReader(message), &msgauthdkim.SignOptions{
		Domain:                 domain,
		Selector:               s.selector,
		Signer:                 s.key,
		HeaderCanonicalization: msgauthdkim.CanonicalizationRelaxed,
		BodyCanonicalization:   msgauthdkim.CanonicalizationRelaxed,
		HeaderKeys:             dkimHeaderKeys,
	})
	if err != nil {
		return nil, fmt.Errorf("dkim sign: %w", err)
	}
	return signed.Bytes(), nil
}

func parsePrivateKey(pemData []byte) (crypto.Signer, error) {
	for {
		block, rest := pem.Decode(pemData)
		if block == nil {
			break
		}
		switch block.Type {
		case "RSA PRIVATE KEY":
			key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			return key, nil
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			if signer, ok := key.(crypto.Signer); ok {
				return signer, nil
			}
			return nil, errors.New("unsupported private key type in PKCS#8 container")
		}
		pemData = rest
	}
	return nil, errors.New("no private key found in PEM data")
}

func hasDKIMSignature(message []byte) bool {
	upper := bytes.ToUpper(message)
	return bytes.HasPrefix(upper, []byte("DKIM-SIGNATURE:")) || bytes.Contains(upper, []byte("\nDKIM-SIGNATURE:"))
}
