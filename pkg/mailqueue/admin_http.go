package mailqueue

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/andrewklimek/mnml-smtp/pkg/email"
	"github.com/andrewklimek/mnml-smtp/pkg/logger"
)

// AdminHandler exposes Admin as a small JSON API.
type AdminHandler struct {
	admin  *Admin
	token  string
	logger *slog.Logger
}

// NewAdminHandler creates the handler. Requests must carry token as a
// bearer token; an empty token rejects everything.
func NewAdminHandler(admin *Admin, token string, l *slog.Logger) *AdminHandler {
	if l == nil {
		l = slog.Default()
	}
	return &AdminHandler{admin: admin, token: token, logger: l.With(logger.Component("admin_http"))}
}

// Routes returns the admin router, ready to be mounted.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.authenticate)

	r.Get("/status", h.status)
	r.Post("/resume", h.resume)
	r.Post("/test", h.sendTest)

	r.Get("/messages", h.list)
	r.Post("/messages/resend", h.resendChecked)
	r.Get("/messages/{id}", h.view)
	r.Post("/messages/{id}/resend", h.resend)

	r.Post("/failed/resend", h.resendAllFailed)
	r.Delete("/failed", h.clearFailed)
	r.Delete("/sent", h.clearSent)
	return r
}

func (h *AdminHandler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || h.token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) != 1 {
			writeError(w, http.StatusUnauthorized, ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *AdminHandler) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.admin.Status(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *AdminHandler) resume(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.Resume(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paused": false})
}

func (h *AdminHandler) sendTest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		To string `json:"to"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := h.admin.SendTest(r.Context(), body.To)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id})
}

func (h *AdminHandler) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	msgs, err := h.admin.List(r.Context(), Status(r.URL.Query().Get("status")), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (h *AdminHandler) view(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	msg, err := h.admin.View(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *AdminHandler) resend(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.admin.Resend(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"resent": 1})
}

func (h *AdminHandler) resendChecked(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs []int64 `json:"ids"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	n, err := h.admin.ResendChecked(r.Context(), body.IDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"resent": n})
}

func (h *AdminHandler) resendAllFailed(w http.ResponseWriter, r *http.Request) {
	n, err := h.admin.ResendAllFailed(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"resent": n})
}

func (h *AdminHandler) clearFailed(w http.ResponseWriter, r *http.Request) {
	n, err := h.admin.ClearFailed(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func (h *AdminHandler) clearSent(w http.ResponseWriter, r *http.Request) {
	n, err := h.admin.ClearSent(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func (h *AdminHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrMessageNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, email.ErrInvalidParams), errors.Is(err, ErrNoRecipients):
		writeError(w, http.StatusBadRequest, err)
	default:
		h.logger.ErrorContext(r.Context(), "admin command failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, errors.New(http.StatusText(http.StatusInternalServerError)))
	}
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid message id")
	}
	return id, nil
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
