package workspaceapi

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/forgehost/pkg/provision"
)

func newTestHandler() *Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(logger, nil, &provision.Provisioner{}, nil, nil, nil, nil, nil)
}

func newTestRouter() chi.Router {
	h := newTestHandler()
	router := chi.NewRouter()
	router.Mount("/workspaces", h.Routes())
	return router
}

func TestHandleCreate_Validation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "missing name", body: `{}`, wantStatus: http.StatusUnprocessableEntity},
		{name: "name too long", body: `{"name":"` + strings.Repeat("x", 65) + `"}`, wantStatus: http.StatusUnprocessableEntity},
		{name: "invalid JSON", body: `{bad}`, wantStatus: http.StatusBadRequest},
		{name: "empty body", body: ``, wantStatus: http.StatusBadRequest},
	}

	router := newTestRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/workspaces", strings.NewReader(tt.body))
			r.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d; body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestHandleLifecycle_InvalidID(t *testing.T) {
	router := newTestRouter()

	for _, op := range []string{"start", "stop", "restart"} {
		t.Run(op, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/workspaces/not-a-uuid/"+op, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, r)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestHandleStatus_InvalidID(t *testing.T) {
	router := newTestRouter()

	r := httptest.NewRequest(http.MethodGet, "/workspaces/not-a-uuid/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleVerifySSH_InvalidID(t *testing.T) {
	router := newTestRouter()

	r := httptest.NewRequest(http.MethodPost, "/workspaces/not-a-uuid/verify-ssh", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleLogs_InvalidID(t *testing.T) {
	router := newTestRouter()

	r := httptest.NewRequest(http.MethodGet, "/workspaces/not-a-uuid/logs", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestProgressPercent(t *testing.T) {
	if got := progressPercent(nil); got != 100 {
		t.Errorf("progressPercent(nil) = %d, want 100", got)
	}
}

func TestForwardAuthHandler_NoActorRedirects(t *testing.T) {
	h := newTestHandler()
	handler := h.ForwardAuthHandler("https://app.forgehost.example/login")

	r := httptest.NewRequest(http.MethodGet, "/api/auth/verify", nil)
	r.Header.Set("X-Workspace-Host", "alice-backend.workspaces.forgehost.example")
	w := httptest.NewRecorder()
	handler(w, r)

	if w.Code != http.StatusFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusFound)
	}
	loc := w.Header().Get("Location")
	if !strings.Contains(loc, "app.forgehost.example/login") {
		t.Errorf("Location = %q, want it to point at the login URL", loc)
	}
}

func TestForwardAuthHandler_NoWorkspaceHostRedirects(t *testing.T) {
	h := newTestHandler()
	handler := h.ForwardAuthHandler("https://app.forgehost.example/login")

	r := httptest.NewRequest(http.MethodGet, "/api/auth/verify", nil)
	w := httptest.NewRecorder()
	handler(w, r)

	if w.Code != http.StatusFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusFound)
	}
}
