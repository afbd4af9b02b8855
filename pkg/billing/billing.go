// Package billing implements the Payment Callback Verifier (spec §4.6): it
// signs outbound hosted-payment iframe tokens, verifies inbound gateway
// callbacks with constant-time HMAC comparison, and idempotently advances
// Payment, Subscription, Company, and Invoice state in one transaction.
package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/forgehost/internal/apierr"
	"github.com/wisbric/forgehost/internal/dbx"
	"github.com/wisbric/forgehost/internal/telemetry"
	"github.com/wisbric/forgehost/pkg/store"
)

// Credentials holds the hosted-payment gateway's merchant identity (spec §6
// "PAYTR_{MERCHANT_ID,MERCHANT_KEY,MERCHANT_SALT,TEST_MODE,TIMEOUT_LIMIT}").
type Credentials struct {
	MerchantID   string
	MerchantKey  string
	MerchantSalt string
	TestMode     bool
}

// TrialDays and PeriodDays govern subscription period math (spec §4.6:
// "trial → active and set 30-day period").
const (
	TrialDays  = 14
	PeriodDays = 30
)

// Verifier ties the gateway credentials to the repositories it mutates.
type Verifier struct {
	DB          dbx.Beginner
	Credentials Credentials
	Logger      *slog.Logger
}

// New constructs a Verifier.
func New(db dbx.Beginner, creds Credentials, logger *slog.Logger) *Verifier {
	return &Verifier{DB: db, Credentials: creds, Logger: logger}
}

// NewMerchantOID generates a fresh unique payment identifier in the gateway's
// expected shape (spec §4.6: "a fresh unique alphanumeric id, e.g.
// YAC<epoch><company_id>").
func NewMerchantOID(companyID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("YAC%d%s", at.Unix(), compactUUID(companyID))
}

func compactUUID(id uuid.UUID) string {
	b := id[:]
	out := make([]byte, 0, 32)
	const hex = "0123456789abcdef"
	for _, c := range b {
		out = append(out, hex[c>>4], hex[c&0x0f])
	}
	return string(out)
}

// IframeTokenRequest describes the fields the outbound HMAC covers (spec
// §4.6 "Outbound token").
type IframeTokenRequest struct {
	UserIP      string
	MerchantOID string
	Email       string
	AmountMinor int64
	Basket      []byte
	Currency    string
}

// SignIframeToken computes the base64-encoded HMAC-SHA256 token the hosted
// payment iframe is initialized with (spec §4.6).
func (v *Verifier) SignIframeToken(req IframeTokenRequest) string {
	noInstallment, maxInstallment := "0", "0"
	testMode := "0"
	if v.Credentials.TestMode {
		testMode = "1"
	}

	payload := v.Credentials.MerchantID + req.UserIP + req.MerchantOID + req.Email +
		fmt.Sprintf("%d", req.AmountMinor) + base64.StdEncoding.EncodeToString(req.Basket) +
		noInstallment + maxInstallment + req.Currency + testMode + v.Credentials.MerchantSalt

	mac := hmac.New(sha256.New, []byte(v.Credentials.MerchantKey))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// InitiatePayment creates the pending Payment row backing a hosted-payment
// session, and returns the signed iframe token alongside it.
func (v *Verifier) InitiatePayment(ctx context.Context, payments *store.BillingStore, companyID uuid.UUID, userIP, email, plan, currency string, amountMinor int64) (store.Payment, string, error) {
	oid := NewMerchantOID(companyID, time.Now())
	payment, err := payments.CreatePending(ctx, companyID, oid, amountMinor, currency, plan, v.Credentials.TestMode)
	if err != nil {
		return store.Payment{}, "", fmt.Errorf("creating pending payment: %w", err)
	}

	token := v.SignIframeToken(IframeTokenRequest{
		UserIP:      userIP,
		MerchantOID: oid,
		Email:       email,
		AmountMinor: amountMinor,
		Basket:      []byte(fmt.Sprintf(`[["%s",%d,1]]`, plan, amountMinor)),
		Currency:    currency,
	})
	return payment, token, nil
}

// Callback is the gateway's inbound webhook payload (spec §4.6 "Inbound callback").
type Callback struct {
	MerchantOID string
	Status      string // "success" or "failed"
	TotalAmount string
	Hash        string
	FailCode    string
	FailMessage string
}

// VerifyHash reports whether cb's hash matches the gateway's HMAC over
// (merchant_oid || salt || status || total_amount), via constant-time
// comparison (spec §4.6 "Inbound callback").
func (v *Verifier) VerifyHash(cb Callback) bool {
	payload := cb.MerchantOID + v.Credentials.MerchantSalt + cb.Status + cb.TotalAmount
	mac := hmac.New(sha256.New, []byte(v.Credentials.MerchantKey))
	mac.Write([]byte(payload))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(cb.Hash))
}

const (
	callbackOutcomeSuccess    = "success"
	callbackOutcomeFailed     = "failed"
	callbackOutcomeIdempotent = "idempotent"
	callbackOutcomeBadHash    = "bad_hash"
	callbackOutcomeNotFound   = "not_found"
)

// ProcessCallback verifies and applies one inbound gateway callback inside a
// single transaction spanning Payment, Subscription, Company, and Invoice
// (spec §5 "DB transactions"). It is safe to call repeatedly for the same
// merchant_oid (spec §4.6 "Idempotency").
func (v *Verifier) ProcessCallback(ctx context.Context, cb Callback) error {
	if !v.VerifyHash(cb) {
		telemetry.PaymentCallbacksTotal.WithLabelValues(callbackOutcomeBadHash).Inc()
		return apierr.New(apierr.KindPayloadAuthFailed, "callback hash verification failed")
	}

	tx, err := v.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("beginning callback transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	payments := store.NewBillingStore(tx)
	companies := store.NewCompanyStore(tx)
	workspaces := store.NewWorkspaceStore(tx)

	payment, err := payments.GetByMerchantOID(ctx, cb.MerchantOID)
	if err != nil {
		telemetry.PaymentCallbacksTotal.WithLabelValues(callbackOutcomeNotFound).Inc()
		return apierr.Wrap(apierr.KindNotFound, "no payment found for merchant_oid "+cb.MerchantOID, err)
	}

	if payment.IsTerminal() {
		telemetry.PaymentCallbacksTotal.WithLabelValues(callbackOutcomeIdempotent).Inc()
		return nil
	}

	switch cb.Status {
	case callbackOutcomeSuccess:
		if err := v.applySuccess(ctx, payments, companies, workspaces, payment); err != nil {
			return err
		}
		telemetry.PaymentCallbacksTotal.WithLabelValues(callbackOutcomeSuccess).Inc()
	case callbackOutcomeFailed:
		if err := payments.MarkFailed(ctx, payment.ID, cb.FailCode, cb.FailMessage); err != nil {
			return fmt.Errorf("marking payment failed: %w", err)
		}
		telemetry.PaymentCallbacksTotal.WithLabelValues(callbackOutcomeFailed).Inc()
	default:
		return apierr.New(apierr.KindInvalidInput, "unknown callback status "+cb.Status)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing callback transaction: %w", err)
	}
	return nil
}

// applySuccess runs the success branch of spec §4.6: activates or extends
// the subscription, upgrades the company's plan/quota, raises the
// workspace disk quota where the new plan entitles more, and generates an
// invoice with a year-scoped sequence number.
func (v *Verifier) applySuccess(ctx context.Context, payments *store.BillingStore, companies *store.CompanyStore, workspaces *store.WorkspaceStore, payment store.Payment) error {
	now := time.Now()

	sub, err := payments.GetSubscriptionByCompany(ctx, payment.CompanyID)
	if err != nil {
		sub, err = payments.CreateTrial(ctx, payment.CompanyID, payment.Plan, TrialDays)
		if err != nil {
			return fmt.Errorf("creating trial subscription: %w", err)
		}
	}

	switch sub.Status {
	case store.SubTrial:
		sub, err = payments.ActivatePeriod(ctx, sub.ID, payment.Plan, PeriodDays)
	default:
		sub, err = payments.AdvancePeriod(ctx, sub.ID, PeriodDays)
	}
	if err != nil {
		return fmt.Errorf("updating subscription %s: %w", sub.ID, err)
	}

	company, err := companies.ChangePlan(ctx, payment.CompanyID, payment.Plan)
	if err != nil {
		return fmt.Errorf("upgrading company plan: %w", err)
	}

	if err := upgradeWorkspaceQuotas(ctx, workspaces, company); err != nil {
		return err
	}

	if err := payments.MarkSuccess(ctx, payment.ID, sub.ID, now); err != nil {
		return fmt.Errorf("marking payment %s successful: %w", payment.ID, err)
	}

	if _, err := payments.InvoiceByPayment(ctx, payment.ID); err == nil {
		return nil // invoice already generated for this payment — idempotent retry.
	}

	year := now.Year()
	seq, err := payments.NextInvoiceSequence(ctx, year)
	if err != nil {
		return fmt.Errorf("computing invoice sequence: %w", err)
	}
	invoiceNumber := fmt.Sprintf("INV-%d-%05d", year, seq)
	periodStart, periodEnd := now, now.AddDate(0, 0, PeriodDays)
	if sub.CurrentPeriodStart != nil {
		periodStart = *sub.CurrentPeriodStart
	}
	if sub.CurrentPeriodEnd != nil {
		periodEnd = *sub.CurrentPeriodEnd
	}
	if _, err := payments.CreateInvoice(ctx, payment.CompanyID, payment.ID, invoiceNumber, payment.AmountMinor, payment.Currency, periodStart, periodEnd); err != nil {
		return fmt.Errorf("creating invoice: %w", err)
	}
	telemetry.InvoicesGeneratedTotal.Inc()
	return nil
}

// upgradeWorkspaceQuotas raises every one of company's workspaces' disk
// quota to the new plan's per-workspace storage entitlement, never lowering
// an existing quota (spec §4.6, §4.3 ResizeDisk invariant).
func upgradeWorkspaceQuotas(ctx context.Context, workspaces *store.WorkspaceStore, company store.Company) error {
	entitlement := store.PlanStorageGB(company.Plan)
	list, err := workspaces.ListByCompany(ctx, company.ID)
	if err != nil {
		return fmt.Errorf("listing workspaces for company %s: %w", company.ID, err)
	}
	for _, ws := range list {
		if entitlement <= ws.DiskQuotaGB {
			continue
		}
		if err := workspaces.ResizeDisk(ctx, ws.ID, entitlement); err != nil {
			return fmt.Errorf("upgrading disk quota for workspace %s: %w", ws.ID, err)
		}
	}
	return nil
}
