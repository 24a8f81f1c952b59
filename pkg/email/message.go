package email

import (
	"bytes"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Envelope is the SMTP-level sender and recipient set of a message.
type Envelope struct {
	From       string
	Recipients []string
}

// composer renders SendEmailParams into an RFC 5322 message.
type composer struct {
	from string // default From header
	now  func() time.Time
}

// compose returns the wire message plus its envelope. Caller headers are
// written in the order given; Bcc is stripped from the output but kept in
// the envelope.
func (c composer) compose(params SendEmailParams) ([]byte, Envelope, error) {
	from := params.Headers.Get("From")
	if from == "" {
		from = c.from
	}
	if from == "" {
		return nil, Envelope{}, fmt.Errorf("%w: no sender address", ErrInvalidParams)
	}
	envFrom, err := ParseAddress(from)
	if err != nil {
		return nil, Envelope{}, fmt.Errorf("%w: invalid From %q", ErrInvalidParams, from)
	}

	rcpts, err := envelopeRecipients(params)
	if err != nil {
		return nil, Envelope{}, err
	}

	now := time.Now
	if c.now != nil {
		now = c.now
	}

	var buf bytes.Buffer
	writeHeader(&buf, "From", from)
	writeHeader(&buf, "To", strings.Join(params.To, ", "))
	writeHeader(&buf, "Subject", encodeHeaderWord(params.Subject))
	if !params.Headers.Has("Date") {
		writeHeader(&buf, "Date", now().UTC().Format(time.RFC1123Z))
	}
	if !params.Headers.Has("Message-Id") {
		writeHeader(&buf, "Message-Id", fmt.Sprintf("<%s@%s>", uuid.NewString(), Domain(envFrom)))
	}
	if !params.Headers.Has("Mime-Version") {
		writeHeader(&buf, "MIME-Version", "1.0")
	}
	if !params.Headers.Has("Content-Type") {
		writeHeader(&buf, "Content-Type", "text/plain; charset=UTF-8")
	}
	for _, h := range params.Headers.Without("From", "To", "Subject", "Bcc") {
		writeHeader(&buf, h.Name, h.Value)
	}
	buf.WriteString("\r\n")
	buf.WriteString(normalizeBody(params.Body))

	return buf.Bytes(), Envelope{From: envFrom, Recipients: rcpts}, nil
}

func envelopeRecipients(params SendEmailParams) ([]string, error) {
	var list []string
	list = append(list, params.To...)
	for _, name := range []string{"Cc", "Bcc"} {
		for _, v := range params.Headers.Values(name) {
			list = append(list, SplitRecipients(v)...)
		}
	}

	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, raw := range list {
		addr, err := ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid recipient %q", ErrInvalidParams, raw)
		}
		key := strings.ToLower(addr)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, addr)
	}
	return out, nil
}

func writeHeader(buf *bytes.Buffer, name, value string) {
	value = sanitizeHeaderValue(value)
	if value == "" {
		return
	}
	buf.WriteString(name)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

func encodeHeaderWord(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.QEncoding.Encode("utf-8", s)
		}
	}
	return s
}

func normalizeBody(body string) string {
	if body == "" {
		return ""
	}
	normalized := strings.ReplaceAll(body, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	return strings.ReplaceAll(normalized, "\n", "\r\n")
}
