package mailqueue

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/andrewklimek/mnml-smtp/pkg/email"
	"github.com/andrewklimek/mnml-smtp/pkg/logger"
)

// Submitter persists a message for delivery. *Queue and *Enqueuer
// implement it.
type Submitter interface {
	Enqueue(ctx context.Context, params email.SendEmailParams) (int64, error)
}

type submitRequest struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	Headers []string `json:"headers"` // raw "Name: value" lines
}

// SubmitHandler lets other services hand messages to the queue over HTTP.
// Requests must carry token as a bearer token; an empty token rejects
// everything.
type SubmitHandler struct {
	queue  Submitter
	token  string
	logger *slog.Logger
}

// NewSubmitHandler creates the handler.
func NewSubmitHandler(queue Submitter, token string, l *slog.Logger) *SubmitHandler {
	if l == nil {
		l = slog.Default()
	}
	return &SubmitHandler{queue: queue, token: token, logger: l.With(logger.Component("submit_http"))}
}

func (h *SubmitHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, errors.New(http.StatusText(http.StatusMethodNotAllowed)))
		return
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || h.token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) != 1 {
		writeError(w, http.StatusUnauthorized, ErrUnauthorized)
		return
	}

	var req submitRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 10<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	headers, err := email.ParseHeaderLines(req.Headers)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := h.queue.Enqueue(r.Context(), email.SendEmailParams{
		To:      req.To,
		Subject: req.Subject,
		Body:    req.Body,
		Headers: headers,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]int64{"id": id})
	case errors.Is(err, ErrNoRecipients), errors.Is(err, email.ErrInvalidParams), errors.Is(err, email.ErrInvalidHeaders):
		writeError(w, http.StatusBadRequest, err)
	default:
		h.logger.ErrorContext(r.Context(), "submit failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, errors.New(http.StatusText(http.StatusInternalServerError)))
	}
}
