package billingapi

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/forgehost/pkg/billing"
)

func newTestHandler() *Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	verifier := billing.New(nil, billing.Credentials{
		MerchantID:   "merchant-1",
		MerchantKey:  "test-key",
		MerchantSalt: "test-salt",
	}, logger)
	return NewHandler(logger, verifier, nil, nil)
}

func TestHandleSubscribe_UnknownPlan(t *testing.T) {
	h := newTestHandler()
	router := chi.NewRouter()
	router.Mount("/billing", h.Routes())

	r := httptest.NewRequest(http.MethodPost, "/billing/subscribe/unlimited", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d; body = %s", w.Code, http.StatusBadRequest, w.Body.String())
	}
}

func TestHandleCallback_BadHash(t *testing.T) {
	h := newTestHandler()

	body := strings.NewReader("merchant_oid=YAC123&status=success&total_amount=490000&hash=not-the-right-hash")
	r := httptest.NewRequest(http.MethodPost, "/billing/callback", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.CallbackRoute()(w, r)

	if w.Code == http.StatusOK {
		t.Errorf("expected a non-200 status for a bad hash, got %d", w.Code)
	}
	if got := w.Body.String(); !strings.HasPrefix(got, "FAIL:") {
		t.Errorf("body = %q, want FAIL: prefix", got)
	}
}

func TestHandleCallback_MalformedBody(t *testing.T) {
	h := newTestHandler()

	r := httptest.NewRequest(http.MethodPost, "/billing/callback", strings.NewReader("%zz"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.CallbackRoute()(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
