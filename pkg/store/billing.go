package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/forgehost/internal/dbx"
)

// BillingStore provides database operations for subscriptions, payments,
// and invoices — the persistence side of the Payment Callback Verifier.
type BillingStore struct {
	db dbx.DBTX
}

func NewBillingStore(db dbx.DBTX) *BillingStore { return &BillingStore{db: db} }

const subscriptionColumns = `id, company_id, plan, status, trial_starts_at, trial_ends_at,
	current_period_start, current_period_end, cancel_at_period_end, cancelled_at, created_at, updated_at`

func scanSubscription(row pgx.Row) (Subscription, error) {
	var s Subscription
	err := row.Scan(&s.ID, &s.CompanyID, &s.Plan, &s.Status, &s.TrialStartsAt, &s.TrialEndsAt,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.CancelAtPeriodEnd, &s.CancelledAt, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

// GetSubscriptionByCompany returns the company's subscription, if any.
func (s *BillingStore) GetSubscriptionByCompany(ctx context.Context, companyID uuid.UUID) (Subscription, error) {
	row := s.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE company_id = $1`, companyID)
	sub, err := scanSubscription(row)
	if err != nil {
		return Subscription{}, fmt.Errorf("getting subscription for company %s: %w", companyID, err)
	}
	return sub, nil
}

// CreateTrial inserts a brand-new trial subscription for a company.
func (s *BillingStore) CreateTrial(ctx context.Context, companyID uuid.UUID, plan string, trialDays int) (Subscription, error) {
	now := time.Now()
	ends := now.AddDate(0, 0, trialDays)
	row := s.db.QueryRow(ctx, `
		INSERT INTO subscriptions (company_id, plan, status, trial_starts_at, trial_ends_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING `+subscriptionColumns,
		companyID, plan, SubTrial, now, ends,
	)
	sub, err := scanSubscription(row)
	if err != nil {
		return Subscription{}, fmt.Errorf("creating trial subscription: %w", err)
	}
	return sub, nil
}

// ActivatePeriod transitions a subscription to active and sets a fresh
// current_period window starting now (spec §4.6: "trial → active, set
// 30-day period").
func (s *BillingStore) ActivatePeriod(ctx context.Context, id uuid.UUID, plan string, periodDays int) (Subscription, error) {
	now := time.Now()
	end := now.AddDate(0, 0, periodDays)
	row := s.db.QueryRow(ctx, `
		UPDATE subscriptions
		SET plan = $2, status = $3, current_period_start = $4, current_period_end = $5, updated_at = now()
		WHERE id = $1
		RETURNING `+subscriptionColumns,
		id, plan, SubActive, now, end,
	)
	sub, err := scanSubscription(row)
	if err != nil {
		return Subscription{}, fmt.Errorf("activating subscription %s: %w", id, err)
	}
	return sub, nil
}

// AdvancePeriod extends an already-active subscription's current period by
// periodDays from its existing end (spec §4.6: "active → advance period").
func (s *BillingStore) AdvancePeriod(ctx context.Context, id uuid.UUID, periodDays int) (Subscription, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE subscriptions
		SET status = $2,
		    current_period_start = COALESCE(current_period_end, now()),
		    current_period_end = COALESCE(current_period_end, now()) + ($3 || ' days')::interval,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+subscriptionColumns,
		id, SubActive, periodDays,
	)
	sub, err := scanSubscription(row)
	if err != nil {
		return Subscription{}, fmt.Errorf("advancing subscription %s: %w", id, err)
	}
	return sub, nil
}

const paymentColumns = `id, company_id, subscription_id, merchant_oid, amount_minor, currency, plan,
	status, payment_type, failure_reason_code, failure_reason_message, test_mode, completed_at, created_at, updated_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.CompanyID, &p.SubscriptionID, &p.MerchantOID, &p.AmountMinor, &p.Currency, &p.Plan,
		&p.Status, &p.PaymentType, &p.FailureReasonCode, &p.FailureReasonMsg, &p.TestMode, &p.CompletedAt, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// CreatePending inserts a new pending payment attempt, keyed by merchant_oid.
func (s *BillingStore) CreatePending(ctx context.Context, companyID uuid.UUID, merchantOID string, amountMinor int64, currency, plan string, testMode bool) (Payment, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO payments (company_id, merchant_oid, amount_minor, currency, plan, status, payment_type, test_mode)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING `+paymentColumns,
		companyID, merchantOID, amountMinor, currency, plan, PaymentPending, "iframe", testMode,
	)
	p, err := scanPayment(row)
	if err != nil {
		return Payment{}, fmt.Errorf("creating pending payment: %w", err)
	}
	return p, nil
}

// GetByMerchantOID returns a payment by its idempotency key.
func (s *BillingStore) GetByMerchantOID(ctx context.Context, merchantOID string) (Payment, error) {
	row := s.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE merchant_oid = $1`, merchantOID)
	p, err := scanPayment(row)
	if err != nil {
		return Payment{}, fmt.Errorf("getting payment %q: %w", merchantOID, err)
	}
	return p, nil
}

// MarkSuccess finalizes a payment as successful and links it to a subscription.
func (s *BillingStore) MarkSuccess(ctx context.Context, id, subscriptionID uuid.UUID, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE payments SET status = $2, subscription_id = $3, completed_at = $4, updated_at = now()
		WHERE id = $1`, id, PaymentSuccess, subscriptionID, at)
	if err != nil {
		return fmt.Errorf("marking payment %s successful: %w", id, err)
	}
	return nil
}

// MarkFailed records a gateway-reported failure reason.
func (s *BillingStore) MarkFailed(ctx context.Context, id uuid.UUID, code, message string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE payments SET status = $2, failure_reason_code = $3, failure_reason_message = $4, updated_at = now()
		WHERE id = $1`, id, PaymentFailed, code, message)
	if err != nil {
		return fmt.Errorf("marking payment %s failed: %w", id, err)
	}
	return nil
}

const invoiceColumns = `id, company_id, payment_id, invoice_number, amount_minor, currency,
	period_start, period_end, status, created_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.CompanyID, &inv.PaymentID, &inv.InvoiceNumber, &inv.AmountMinor, &inv.Currency,
		&inv.PeriodStart, &inv.PeriodEnd, &inv.Status, &inv.CreatedAt)
	return inv, err
}

// NextInvoiceSequence returns the next monotonic sequence number for the
// given year, used to build `INV-YYYY-NNNNN` (spec §3 Invoice, §8 uniqueness).
// Must be called inside the same transaction that inserts the invoice to
// avoid a race between the count and the insert.
func (s *BillingStore) NextInvoiceSequence(ctx context.Context, year int) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM invoices WHERE invoice_number LIKE $1`, fmt.Sprintf("INV-%d-%%", year)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting invoices for year %d: %w", year, err)
	}
	return count + 1, nil
}

// CreateInvoice inserts a new invoice for a successful payment.
func (s *BillingStore) CreateInvoice(ctx context.Context, companyID, paymentID uuid.UUID, invoiceNumber string, amountMinor int64, currency string, periodStart, periodEnd time.Time) (Invoice, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO invoices (company_id, payment_id, invoice_number, amount_minor, currency, period_start, period_end, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING `+invoiceColumns,
		companyID, paymentID, invoiceNumber, amountMinor, currency, periodStart, periodEnd, InvoiceSent,
	)
	inv, err := scanInvoice(row)
	if err != nil {
		return Invoice{}, fmt.Errorf("creating invoice: %w", err)
	}
	return inv, nil
}

// InvoiceByPayment returns the invoice already generated for a payment, if
// any — used to make invoice generation idempotent on repeated callbacks.
func (s *BillingStore) InvoiceByPayment(ctx context.Context, paymentID uuid.UUID) (Invoice, error) {
	row := s.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE payment_id = $1`, paymentID)
	inv, err := scanInvoice(row)
	if err != nil {
		return Invoice{}, fmt.Errorf("getting invoice for payment %s: %w", paymentID, err)
	}
	return inv, nil
}
