package mailqueue

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/andrewklimek/mnml-smtp/pkg/logger"
)

// TriggerRequest asks the engine to dispatch one message or run a sweep.
type TriggerRequest struct {
	ID     int64  `json:"id,omitempty"`
	Sweep  bool   `json:"sweep,omitempty"`
	Secret string `json:"secret,omitempty"`
}

// Validate checks that exactly one of ID or Sweep is set.
func (r TriggerRequest) Validate() error {
	switch {
	case r.Sweep && r.ID != 0:
		return fmt.Errorf("%w: id and sweep are mutually exclusive", ErrInvalidTrigger)
	case r.Sweep:
		return nil
	case r.ID > 0:
		return nil
	default:
		return fmt.Errorf("%w: id or sweep is required", ErrInvalidTrigger)
	}
}

// Invoker runs a trigger request. trusted requests skip the secret check.
type Invoker interface {
	Invoke(ctx context.Context, req TriggerRequest, trusted bool) error
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, req TriggerRequest, trusted bool) error

func (f InvokerFunc) Invoke(ctx context.Context, req TriggerRequest, trusted bool) error {
	return f(ctx, req, trusted)
}

// Trigger is the entry point for wakes. Over HTTP it authenticates the shared
// secret, acknowledges with 202 and dispatches detached from the request.
type Trigger struct {
	dispatcher *Dispatcher
	secret     string
	logger     *slog.Logger
	jobs       detached
}

// TriggerOption configures a Trigger.
type TriggerOption func(*Trigger)

// WithTriggerLogger sets the logger.
func WithTriggerLogger(l *slog.Logger) TriggerOption {
	return func(t *Trigger) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTrigger creates a trigger for dispatcher. An empty secret rejects every
// untrusted request.
func NewTrigger(dispatcher *Dispatcher, secret string, opts ...TriggerOption) *Trigger {
	t := &Trigger{
		dispatcher: dispatcher,
		secret:     secret,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(logger.Component("trigger"))
	return t
}

// Authorize checks secret against the configured one in constant time.
func (t *Trigger) Authorize(secret string) error {
	if t.secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(t.secret)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// Invoke runs req synchronously.
func (t *Trigger) Invoke(ctx context.Context, req TriggerRequest, trusted bool) error {
	if !trusted {
		if err := t.Authorize(req.Secret); err != nil {
			return err
		}
	}
	if err := req.Validate(); err != nil {
		return err
	}

	if req.Sweep {
		_, err := t.dispatcher.DispatchBatch(withDefaultOrigin(ctx, OriginSweep))
		return err
	}
	_, err := t.dispatcher.DispatchOne(withDefaultOrigin(ctx, OriginItem), req.ID)
	return err
}

// ServeHTTP handles POST trigger requests encoded as a form or JSON.
func (t *Trigger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	req, err := decodeTriggerRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := t.Authorize(req.Secret); err != nil {
		t.logger.WarnContext(r.Context(), "rejected trigger request", logger.Error(err))
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	started := t.jobs.Go(func() {
		if err := t.Invoke(ctx, req, true); err != nil {
			t.logger.ErrorContext(ctx, "triggered dispatch failed",
				logger.MessageID(req.ID),
				logger.Error(err),
			)
		}
	})
	if !started {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Wait blocks until every detached dispatch has returned.
func (t *Trigger) Wait() {
	t.jobs.Wait()
}

// Stop answers later requests with 503 and waits for detached dispatches.
func (t *Trigger) Stop() {
	t.jobs.Close()
}

func decodeTriggerRequest(r *http.Request) (TriggerRequest, error) {
	var req TriggerRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body struct {
			ID     json.Number `json:"id"`
			Sweep  bool        `json:"sweep"`
			Queue  bool        `json:"queue"`
			Secret string      `json:"secret"`
		}
		dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil {
			return req, fmt.Errorf("%w: %w", ErrInvalidTrigger, err)
		}
		if body.ID != "" {
			id, err := body.ID.Int64()
			if err != nil {
				return req, fmt.Errorf("%w: id must be an integer", ErrInvalidTrigger)
			}
			req.ID = id
		}
		req.Sweep = body.Sweep || body.Queue
		req.Secret = body.Secret
		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return req, fmt.Errorf("%w: %w", ErrInvalidTrigger, err)
	}
	if v := strings.TrimSpace(r.PostForm.Get("id")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return req, fmt.Errorf("%w: id must be an integer", ErrInvalidTrigger)
		}
		req.ID = id
	}
	req.Sweep = formBool(r.PostForm.Get("sweep")) || formBool(r.PostForm.Get("queue"))
	req.Secret = r.PostForm.Get("secret")
	return req, nil
}

func formBool(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

var _ Invoker = (*Trigger)(nil)
var _ http.Handler = (*Trigger)(nil)

