package email

import (
	"encoding/json"
	"fmt"
	"net/textproto"
	"strings"
)

// Header is a single message header. Order is preserved end to end so the
// transport writes headers exactly as the caller supplied them.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Headers is an ordered list of message headers.
// Names are compared case-insensitively.
type Headers []Header

// Get returns the value of the first header with the given name.
func (h Headers) Get(name string) string {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value
		}
	}
	return ""
}

// Values returns every value recorded under the given name.
func (h Headers) Values(name string) []string {
	var out []string
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			out = append(out, hdr.Value)
		}
	}
	return out
}

// Has reports whether a header with the given name is present.
func (h Headers) Has(name string) bool {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			return true
		}
	}
	return false
}

// Add appends a header. Empty names are ignored.
func (h *Headers) Add(name, value string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	*h = append(*h, Header{Name: textproto.CanonicalMIMEHeaderKey(name), Value: sanitizeHeaderValue(value)})
}

// Without returns a copy with every header matching one of names removed.
func (h Headers) Without(names ...string) Headers {
	out := make(Headers, 0, len(h))
next:
	for _, hdr := range h {
		for _, n := range names {
			if strings.EqualFold(hdr.Name, n) {
				continue next
			}
		}
		out = append(out, hdr)
	}
	return out
}

// Encode serializes headers as a JSON array of {name, value} objects.
// A nil list encodes as an empty array.
func (h Headers) Encode() ([]byte, error) {
	if h == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Header(h))
}

// DecodeHeaders parses the output of Headers.Encode.
// Empty input yields nil headers.
func DecodeHeaders(data []byte) (Headers, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var h []Header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHeaders, err)
	}
	if len(h) == 0 {
		return nil, nil
	}
	return Headers(h), nil
}

// ParseHeaderLines converts raw "Name: value" lines into Headers.
func ParseHeaderLines(lines []string) (Headers, error) {
	var h Headers
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: malformed header line %q", ErrInvalidHeaders, line)
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return h, nil
}

func sanitizeHeaderValue(value string) string {
	clean := strings.ReplaceAll(value, "\r", " ")
	clean = strings.ReplaceAll(clean, "\n", " ")
	return strings.TrimSpace(clean)
}
