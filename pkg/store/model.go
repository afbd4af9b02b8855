// Package store provides narrow, typed repository access to the control
// plane's relational schema (spec §3). Each repository exposes exactly the
// queries and updates its callers need — no generic CRUD, no ORM.
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Company is a tenant of the platform (spec §3 Company).
type Company struct {
	ID                 uuid.UUID
	Name               string
	Subdomain          string
	Plan               string
	Status             string
	MaxWorkspaces      int
	PreferredCurrency  string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

const (
	PlanStarter    = "starter"
	PlanTeam       = "team"
	PlanEnterprise = "enterprise"

	CompanyActive    = "active"
	CompanySuspended = "suspended"
	CompanyCancelled = "cancelled"
)

// PlanMaxWorkspaces returns the workspace ceiling implied by a plan name.
// It is the single source of truth Company.MaxWorkspaces is derived from
// whenever the plan changes (spec §3: "max_workspaces mutates only through
// plan change").
func PlanMaxWorkspaces(plan string) int {
	switch plan {
	case PlanTeam:
		return 20
	case PlanEnterprise:
		return 200
	default:
		return 3
	}
}

// PlanStorageGB returns the per-workspace disk quota a plan entitles a
// workspace to, used by the billing upgrade path (spec §4.6).
func PlanStorageGB(plan string) int {
	switch plan {
	case PlanTeam:
		return 50
	case PlanEnterprise:
		return 500
	default:
		return 10
	}
}

// LegalAcceptance records a single accept/version/IP tuple (spec §3 User).
type LegalAcceptance struct {
	Accepted   bool      `json:"accepted"`
	AcceptedAt time.Time `json:"accepted_at"`
	AcceptedIP string    `json:"accepted_ip"`
	Version    string    `json:"version"`
}

// User is a human actor belonging to a Company (spec §3 User).
type User struct {
	ID                   uuid.UUID
	Email                string
	PasswordHash         string
	Role                 string
	CompanyID            uuid.UUID
	WorkspaceQuota       int
	FailedLoginAttempts  int
	AccountLockedUntil   *time.Time
	TermsAcceptance      LegalAcceptance
	PrivacyAcceptance    LegalAcceptance
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Workspace is a per-tenant isolated IDE instance (spec §3 Workspace).
type Workspace struct {
	ID                 uuid.UUID
	CompanyID          uuid.UUID
	OwnerUserID         uuid.UUID
	Name               string
	Subdomain          string
	LinuxUsername      string
	Port               int
	CodeServerPassword string
	Status             string
	ProvisioningState  string
	IsRunning          bool
	LastStartedAt      *time.Time
	LastStoppedAt      *time.Time
	LastAccessedAt     *time.Time
	AutoStopHours      int
	CPULimitPercent    int
	MemoryLimitMB      int
	DiskQuotaGB        int
	TemplateID         *uuid.UUID
	AccessToken        string
	SSHPublicKey       string
	ResumeCursor       int
	ExtraData          json.RawMessage
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

const (
	WorkspacePending      = "pending"
	WorkspaceProvisioning = "provisioning"
	WorkspaceActive       = "active"
	WorkspacePaused       = "paused"
	WorkspaceStopped      = "stopped"
	WorkspaceFailed       = "failed"

	ProvStateCreated                  = "created"
	ProvStateProvisioning             = "provisioning"
	ProvStateAwaitingSSHVerification  = "awaiting_ssh_verification"
	ProvStateCompleted                = "completed"
	ProvStateFailed                   = "failed"
)

// ExtraDataGet reads a single key out of Workspace.ExtraData, defaulting to
// false/zero-value semantics when the key or the blob itself is absent.
func (w *Workspace) ExtraValue(key string) (any, bool) {
	if len(w.ExtraData) == 0 {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(w.ExtraData, &m); err != nil {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

// WithExtraValue returns a new ExtraData blob with key set to value, merging
// with whatever was already present.
func (w *Workspace) WithExtraValue(key string, value any) (json.RawMessage, error) {
	m := map[string]any{}
	if len(w.ExtraData) > 0 {
		if err := json.Unmarshal(w.ExtraData, &m); err != nil {
			return nil, err
		}
	}
	m[key] = value
	return json.Marshal(m)
}

// WorkspaceTemplate is the recipe used to initialize a workspace (spec §3).
type WorkspaceTemplate struct {
	ID                    uuid.UUID
	Name                  string
	Visibility            string
	Category              string
	Config                json.RawMessage
	RollbackOnFatalError  bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

const (
	VisibilityOfficial = "official"
	VisibilityCompany  = "company"
	VisibilityUser     = "user"
)

// RetryConfig controls per-action retry/backoff (spec §3 TemplateActionSequence).
type RetryConfig struct {
	MaxAttempts        int  `json:"max_attempts"`
	RetryDelaySeconds  int  `json:"retry_delay_seconds"`
	ExponentialBackoff bool `json:"exponential_backoff"`
}

// Condition is an optional guard expression evaluated before an action runs.
type Condition struct {
	Expression string `json:"expression"`
}

// TemplateActionSequence is one step of a WorkspaceTemplate's DAG (spec §3).
type TemplateActionSequence struct {
	ID           uuid.UUID
	TemplateID   uuid.UUID
	ActionID     string
	ActionType   string
	Order        int
	Parameters   json.RawMessage
	Condition    *Condition
	Dependencies []string
	RetryConfig  RetryConfig
	FatalOnError bool
	Enabled      bool
}

// WorkspaceActionExecution is a single recorded attempt of one action
// against one workspace (spec §3).
type WorkspaceActionExecution struct {
	ID                uuid.UUID
	WorkspaceID       uuid.UUID
	ActionSequenceID  uuid.UUID
	ActionID          string
	ActionType        string
	Status            string
	AttemptNumber     int
	MaxAttempts       int
	StartedAt         *time.Time
	CompletedAt       *time.Time
	DurationSeconds   *float64
	Result            json.RawMessage
	ErrorMessage      string
	StackTrace        string
	RollbackAttempted bool
	RollbackSuccessful bool
	RollbackError     string
	CreatedAt         time.Time
}

const (
	ExecPending    = "pending"
	ExecRunning    = "running"
	ExecCompleted  = "completed"
	ExecFailed     = "failed"
	ExecSkipped    = "skipped"
	ExecRolledBack = "rolled_back"
)

// Subscription tracks a Company's billing state (spec §3).
type Subscription struct {
	ID                 uuid.UUID
	CompanyID          uuid.UUID
	Plan               string
	Status             string
	TrialStartsAt      *time.Time
	TrialEndsAt        *time.Time
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	CancelledAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

const (
	SubTrial     = "trial"
	SubActive    = "active"
	SubPastDue   = "past_due"
	SubCancelled = "cancelled"
	SubSuspended = "suspended"
)

// IsTrialExpired reports whether a trial subscription's window has elapsed.
func (s *Subscription) IsTrialExpired(now time.Time) bool {
	return s.Status == SubTrial && s.TrialEndsAt != nil && now.After(*s.TrialEndsAt)
}

// Payment is one attempt to collect money for a plan (spec §3).
type Payment struct {
	ID                 uuid.UUID
	CompanyID          uuid.UUID
	SubscriptionID     *uuid.UUID
	MerchantOID        string
	AmountMinor        int64
	Currency           string
	Plan               string
	Status             string
	PaymentType        string
	FailureReasonCode  string
	FailureReasonMsg   string
	TestMode           bool
	CompletedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

const (
	PaymentPending  = "pending"
	PaymentSuccess  = "success"
	PaymentFailed   = "failed"
	PaymentRefunded = "refunded"
)

// IsTerminal reports whether the payment has reached a state callbacks
// should no longer mutate (spec §4.6 idempotency, spec §8 exactly-one-transition).
func (p *Payment) IsTerminal() bool {
	switch p.Status {
	case PaymentSuccess, PaymentFailed, PaymentRefunded:
		return true
	default:
		return false
	}
}

// Invoice is generated once a payment succeeds (spec §3).
type Invoice struct {
	ID             uuid.UUID
	CompanyID      uuid.UUID
	PaymentID      uuid.UUID
	InvoiceNumber  string
	AmountMinor    int64
	Currency       string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	Status         string
	CreatedAt      time.Time
}

const (
	InvoiceDraft = "draft"
	InvoiceSent  = "sent"
	InvoicePaid  = "paid"
	InvoiceVoid  = "void"
)

// WorkspaceMetrics is one time-series sample for a running workspace (spec §3).
type WorkspaceMetrics struct {
	WorkspaceID    uuid.UUID
	CollectedAt    time.Time
	CPUPercent     float64
	MemoryMB       float64
	MemoryPercent  float64
	ProcessCount   int
	UptimeSeconds  int64
}

// ExchangeRate is a daily currency conversion rate (spec §3).
type ExchangeRate struct {
	SourceCurrency string
	TargetCurrency string
	EffectiveDate  time.Time
	Rate           float64
}
