package mailqueue_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewklimek/mnml-smtp/pkg/mailqueue"
)

const adminToken = "admin-token"

func newAdminServer(t *testing.T, h *harness) (*httptest.Server, *recordingSignaler) {
	t.Helper()
	a, wake := newAdmin(t, h)
	srv := httptest.NewServer(mailqueue.NewAdminHandler(a, adminToken, discardLogger()).Routes())
	t.Cleanup(srv.Close)
	return srv, wake
}

func adminDo(t *testing.T, srv *httptest.Server, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestAdminHandler(t *testing.T) {
	t.Parallel()

	t.Run("rejects missing token", func(t *testing.T) {
		t.Parallel()
		srv, _ := newAdminServer(t, newHarness(t, nil))

		resp, err := srv.Client().Get(srv.URL + "/status")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("status", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		srv, _ := newAdminServer(t, h)
		h.insert(t, "a@example.com")
		h.insert(t, "b@example.com", failed)

		resp, body := adminDo(t, srv, http.MethodGet, "/status", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, float64(1), body["pending"])
		assert.Equal(t, float64(1), body["failed"])
		assert.Equal(t, false, body["paused"])
	})

	t.Run("view and resend", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		srv, wake := newAdminServer(t, h)
		id := h.insert(t, "a@example.com", failed)

		resp, body := adminDo(t, srv, http.MethodGet, "/messages/"+itoa(id), "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "failed", body["status"])

		resp, _ = adminDo(t, srv, http.MethodPost, "/messages/"+itoa(id)+"/resend", "")
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Equal(t, mailqueue.StatusPending, h.get(t, id).Status)
		ids, _ := wake.Woken()
		assert.Equal(t, []int64{id}, ids)

		resp, _ = adminDo(t, srv, http.MethodGet, "/messages/999", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		resp, _ = adminDo(t, srv, http.MethodGet, "/messages/abc", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("bulk commands", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		srv, _ := newAdminServer(t, h)
		f1 := h.insert(t, "a@example.com", failed)
		h.insert(t, "b@example.com", failed)
		h.insert(t, "c@example.com", sent)

		resp, body := adminDo(t, srv, http.MethodPost, "/messages/resend", `{"ids":[`+itoa(f1)+`]}`)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Equal(t, float64(1), body["resent"])

		resp, body = adminDo(t, srv, http.MethodPost, "/failed/resend", "")
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Equal(t, float64(1), body["resent"])

		resp, body = adminDo(t, srv, http.MethodDelete, "/sent", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, float64(1), body["deleted"])

		resp, body = adminDo(t, srv, http.MethodDelete, "/failed", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, float64(0), body["deleted"])

		resp, body = adminDo(t, srv, http.MethodGet, "/messages?status=pending&limit=5", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, body["messages"], 2)

		resp, _ = adminDo(t, srv, http.MethodGet, "/messages?status=bogus", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("resume and send test", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		srv, wake := newAdminServer(t, h)

		resp, body := adminDo(t, srv, http.MethodPost, "/resume", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, false, body["paused"])
		_, sweeps := wake.Woken()
		assert.Equal(t, 1, sweeps)

		resp, body = adminDo(t, srv, http.MethodPost, "/test", `{"to":"ops@example.com"}`)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.NotZero(t, body["id"])

		resp, _ = adminDo(t, srv, http.MethodPost, "/test", `{"to":"nope"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
