// Package billingapi implements the billing-facing HTTP surface of spec §6:
// initiating a hosted-payment session and receiving the gateway's signed
// callback.
package billingapi

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wisbric/forgehost/internal/apierr"
	"github.com/wisbric/forgehost/internal/httpserver"
	"github.com/wisbric/forgehost/pkg/billing"
	"github.com/wisbric/forgehost/pkg/store"
)

// planPricesMinor is the catalog the hosted-payment iframe is initialized
// against; amounts are in the smallest currency unit (spec §4.6 "amount_minor").
var planPricesMinor = map[string]int64{
	store.PlanTeam:       4900_00,
	store.PlanEnterprise: 29900_00,
}

const defaultCurrency = "USD"

// Handler provides HTTP handlers for the billing API.
type Handler struct {
	logger   *slog.Logger
	verifier *billing.Verifier
	payments *store.BillingStore
	users    *store.UserStore
}

// NewHandler creates a billing Handler.
func NewHandler(logger *slog.Logger, verifier *billing.Verifier, payments *store.BillingStore, users *store.UserStore) *Handler {
	return &Handler{logger: logger, verifier: verifier, payments: payments, users: users}
}

// Routes returns a chi.Router with the Actor-authenticated subscribe route
// mounted. The callback route is CSRF-exempt and mounted separately by the
// caller on the unauthenticated router (spec §6: "CSRF-exempt").
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/subscribe/{plan}", h.handleSubscribe)
	return r
}

// CallbackRoute returns the standalone CSRF-exempt callback handler.
func (h *Handler) CallbackRoute() http.HandlerFunc {
	return h.handleCallback
}

type subscribeResponse struct {
	IframeURL   string `json:"iframe_url"`
	PaymentID   uuid.UUID `json:"payment_id"`
	MerchantOID string `json:"merchant_oid"`
}

func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpserver.ActorFromContext(r.Context())

	plan := chi.URLParam(r, "plan")
	amount, ok := planPricesMinor[plan]
	if !ok {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_input", "unknown plan "+plan)
		return
	}

	user, err := h.users.Get(r.Context(), actor.UserID)
	if err != nil {
		h.logger.Error("subscribe: loading user", "error", err, "user_id", actor.UserID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load user")
		return
	}

	payment, token, err := h.verifier.InitiatePayment(r.Context(), h.payments, actor.CompanyID, clientIP(r), user.Email, plan, defaultCurrency, amount)
	if err != nil {
		h.logger.Error("subscribe: initiating payment", "error", err, "company_id", actor.CompanyID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to initiate payment")
		return
	}

	httpserver.Respond(w, http.StatusOK, subscribeResponse{
		IframeURL:   "https://www.paytr.com/odeme/guvenli/" + token,
		PaymentID:   payment.ID,
		MerchantOID: payment.MerchantOID,
	})
}

// handleCallback verifies and applies the gateway's inbound webhook (spec
// §6: "returns literal OK on 200 for accepted; 400 on invalid hash; 404
// when unknown merchant_oid").
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "malformed callback body")
		return
	}

	cb := billing.Callback{
		MerchantOID: r.PostForm.Get("merchant_oid"),
		Status:      r.PostForm.Get("status"),
		TotalAmount: r.PostForm.Get("total_amount"),
		Hash:        r.PostForm.Get("hash"),
		FailCode:    r.PostForm.Get("failed_reason_code"),
		FailMessage: r.PostForm.Get("failed_reason_msg"),
	}

	if err := h.verifier.ProcessCallback(r.Context(), cb); err != nil {
		status := apierr.StatusFor(err)
		h.logger.Error("processing payment callback", "error", err, "merchant_oid", cb.MerchantOID)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(fmt.Sprintf("FAIL: %v", err)))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	return r.RemoteAddr
}
