package mailqueue

import (
	"strings"
	"time"

	"github.com/andrewklimek/mnml-smtp/pkg/email"
)

// Status represents the delivery state of a queued message.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a final state the dispatcher never leaves.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// Message is a queued outbound email.
type Message struct {
	ID          int64         `json:"id"`
	Recipients  []string      `json:"recipients"`
	Subject     string        `json:"subject"`
	Body        string        `json:"body"`
	Headers     email.Headers `json:"headers,omitempty"`
	Status      Status        `json:"status"`
	Attempts    int           `json:"attempts"`
	NextAttempt time.Time     `json:"next_attempt"` // zero once terminally failed
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Due reports whether m is pending and may be attempted at now.
func (m *Message) Due(now time.Time) bool {
	return m.Status == StatusPending && !m.NextAttempt.After(now)
}

// Params converts the stored message back into mailer parameters.
func (m *Message) Params() email.SendEmailParams {
	return email.SendEmailParams{
		To:      append([]string(nil), m.Recipients...),
		Subject: m.Subject,
		Body:    m.Body,
		Headers: append(email.Headers(nil), m.Headers...),
	}
}

// RecipientList returns recipients in their persisted comma-delimited form.
func (m *Message) RecipientList() string {
	return strings.Join(m.Recipients, ",")
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Recipients = append([]string(nil), m.Recipients...)
	c.Headers = append(email.Headers(nil), m.Headers...)
	return &c
}

// MessageUpdate is a partial update. Nil fields are left untouched.
//
// IfStatus and IfAttempts make the update conditional: stores apply it only
// while the stored record still matches and report ErrStaleUpdate otherwise.
type MessageUpdate struct {
	Status      *Status
	Attempts    *int
	NextAttempt *time.Time
	Error       *string

	IfStatus   *Status
	IfAttempts *int
}

// Conditional reports whether u carries a guard.
func (u MessageUpdate) Conditional() bool {
	return u.IfStatus != nil || u.IfAttempts != nil
}

// Matches reports whether m satisfies the guards of u.
func (u MessageUpdate) Matches(m *Message) bool {
	if u.IfStatus != nil && m.Status != *u.IfStatus {
		return false
	}
	if u.IfAttempts != nil && m.Attempts != *u.IfAttempts {
		return false
	}
	return true
}

// Apply copies the set fields of u onto m.
func (u MessageUpdate) Apply(m *Message) {
	if u.Status != nil {
		m.Status = *u.Status
	}
	if u.Attempts != nil {
		m.Attempts = *u.Attempts
	}
	if u.NextAttempt != nil {
		m.NextAttempt = *u.NextAttempt
	}
	if u.Error != nil {
		m.Error = *u.Error
	}
}

// ListOptions filters repository listings.
type ListOptions struct {
	Status    Status    // empty matches every status
	DueBefore time.Time // zero disables the next_attempt filter
	Limit     int       // zero means no limit
}

// Outcome is the result of a single delivery attempt.
type Outcome int

const (
	OutcomeSent    Outcome = iota // delivered, record marked sent
	OutcomeRetry                  // transient failure, record stays pending
	OutcomeFailed                 // attempts exhausted, record marked failed
	OutcomeSkipped                // not attempted, or superseded by a concurrent dispatch
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeRetry:
		return "retry"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// BatchResult summarizes one dispatch pass.
type BatchResult struct {
	Selected int
	Sent     int
	Retried  int
	Failed   int
	Skipped  int
	Tripped  bool      // circuit breaker paused the queue during this pass
	NextWake time.Time // fallback wake scheduled by this pass, zero if none
}

// QueueStatus is a snapshot for operators.
type QueueStatus struct {
	Paused      bool `json:"paused"`
	Pending     int  `json:"pending"`
	Sent        int  `json:"sent"`
	Failed      int  `json:"failed"`
	FailedCount int  `json:"failed_count"` // cached count used by the breaker
	Threshold   int  `json:"threshold"`
}
