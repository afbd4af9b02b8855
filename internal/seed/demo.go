package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/wisbric/forgehost/internal/platform"
	"github.com/wisbric/forgehost/pkg/billing"
	"github.com/wisbric/forgehost/pkg/store"
)

// RunDemo provisions the "acme" company with comprehensive demo data:
// several users, a couple of workspace templates, workspaces spanning every
// lifecycle state, a billing history, and metrics samples. It is
// destructive: it drops and recreates the company if it already exists.
func RunDemo(ctx context.Context, pool *pgxpool.Pool, databaseURL, migrationsDir string, logger *slog.Logger) error {
	if err := platform.RunMigrations(databaseURL, migrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	companies := store.NewCompanyStore(pool)
	users := store.NewUserStore(pool)
	templates := store.NewTemplateStore(pool)
	workspaces := store.NewWorkspaceStore(pool)
	billingStore := store.NewBillingStore(pool)
	metrics := store.NewMetricsStore(pool)

	if existing, err := companies.GetBySubdomain(ctx, "acme"); err == nil {
		logger.Info("seed-demo: dropping existing company 'acme'", "company_id", existing.ID)
		if err := dropCompany(ctx, pool, existing.ID); err != nil {
			return fmt.Errorf("dropping existing demo company: %w", err)
		}
	}

	company, err := companies.Create(ctx, "Acme Corp", "acme", store.PlanTeam, "USD")
	if err != nil {
		return fmt.Errorf("creating demo company: %w", err)
	}
	logger.Info("seed-demo: created company", "company_id", company.ID)

	type userSpec struct {
		email, role string
		quota       int
	}
	userSpecs := []userSpec{
		{"alice@acme.example.com", store.RoleAdmin, 5},
		{"bob@acme.example.com", store.RoleMember, 2},
		{"chandra@acme.example.com", store.RoleMember, 2},
		{"diana@acme.example.com", store.RoleMember, 1},
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(DevPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing demo password: %w", err)
	}

	demoUsers := make([]store.User, len(userSpecs))
	for i, spec := range userSpecs {
		u, err := users.Create(ctx, store.CreateUserParams{
			Email:          spec.email,
			PasswordHash:   string(passwordHash),
			Role:           spec.role,
			CompanyID:      company.ID,
			WorkspaceQuota: spec.quota,
		})
		if err != nil {
			return fmt.Errorf("creating demo user %s: %w", spec.email, err)
		}
		demoUsers[i] = u
		logger.Info("seed-demo: created user", "email", u.Email, "role", u.Role)
	}

	pythonTemplate, err := seedPythonTemplate(ctx, templates)
	if err != nil {
		return fmt.Errorf("seeding python template: %w", err)
	}
	nodeTemplate, err := seedNodeTemplate(ctx, templates)
	if err != nil {
		return fmt.Errorf("seeding node template: %w", err)
	}
	logger.Info("seed-demo: created workspace templates", "python", pythonTemplate.ID, "node", nodeTemplate.ID)

	now := time.Now()

	type workspaceSpec struct {
		owner      store.User
		name       string
		template   uuid.UUID
		status     string
		provState  string
		running    bool
		lastActive time.Duration // ago, used when running
	}
	workspaceSpecs := []workspaceSpec{
		{demoUsers[0], "alice-backend", pythonTemplate.ID, store.WorkspaceActive, store.ProvStateCompleted, true, 5 * time.Minute},
		{demoUsers[1], "bob-frontend", nodeTemplate.ID, store.WorkspaceActive, store.ProvStateCompleted, true, 90 * time.Minute},
		{demoUsers[2], "chandra-scratch", pythonTemplate.ID, store.WorkspaceStopped, store.ProvStateCompleted, false, 0},
		{demoUsers[3], "diana-onboarding", nodeTemplate.ID, store.WorkspaceProvisioning, store.ProvStateAwaitingSSHVerification, false, 0},
	}

	for i, spec := range workspaceSpecs {
		templateID := spec.template
		ws, err := workspaces.Create(ctx, store.CreateWorkspaceParams{
			CompanyID:       company.ID,
			OwnerUserID:     spec.owner.ID,
			Name:            spec.name,
			Subdomain:       fmt.Sprintf("ws-%s-%d", spec.name, i),
			LinuxUsername:   fmt.Sprintf("fh%04d", 1000+i),
			Port:             20000 + i,
			TemplateID:      &templateID,
			AutoStopHours:   2,
			DiskQuotaGB:     store.PlanStorageGB(company.Plan),
			CPULimitPercent: 100,
			MemoryLimitMB:   2048,
		})
		if err != nil {
			return fmt.Errorf("creating demo workspace %q: %w", spec.name, err)
		}

		if err := workspaces.SetStatus(ctx, ws.ID, spec.status, spec.provState); err != nil {
			return fmt.Errorf("setting status for workspace %q: %w", spec.name, err)
		}
		if spec.running {
			if err := workspaces.SetRunning(ctx, ws.ID, true, now.Add(-spec.lastActive)); err != nil {
				return fmt.Errorf("marking workspace %q running: %w", spec.name, err)
			}
			if err := workspaces.TouchAccessed(ctx, ws.ID, now.Add(-spec.lastActive)); err != nil {
				return fmt.Errorf("touching access time for workspace %q: %w", spec.name, err)
			}
			if err := metrics.Insert(ctx, store.WorkspaceMetrics{
				WorkspaceID:   ws.ID,
				CollectedAt:   now.Add(-spec.lastActive),
				CPUPercent:    12.5,
				MemoryMB:      640,
				MemoryPercent: 31.2,
				ProcessCount:  18,
				UptimeSeconds: int64(spec.lastActive.Seconds()),
			}); err != nil {
				return fmt.Errorf("seeding metrics for workspace %q: %w", spec.name, err)
			}
		}
		logger.Info("seed-demo: created workspace", "name", ws.Name, "status", ws.Status)
	}

	if err := seedBillingHistory(ctx, billingStore, company.ID); err != nil {
		return fmt.Errorf("seeding billing history: %w", err)
	}

	logger.Info("seed-demo: completed successfully",
		"company", company.Subdomain,
		"users", len(demoUsers),
		"templates", 2,
		"workspaces", len(workspaceSpecs),
		"dev_password", DevPassword,
	)
	return nil
}

func seedNodeTemplate(ctx context.Context, templates *store.TemplateStore) (store.WorkspaceTemplate, error) {
	template, err := templates.Create(ctx, "Node.js Starter", store.VisibilityOfficial, "language", json.RawMessage(`{"node_version":"20"}`), true)
	if err != nil {
		return store.WorkspaceTemplate{}, err
	}

	steps := []struct {
		actionID   string
		actionType string
		order      int
		parameters json.RawMessage
		deps       []string
		fatal      bool
	}{
		{"generate-ssh-key", "generate_ssh_key", 1, json.RawMessage(`{}`), nil, true},
		{"install-packages", "install_system_packages", 2, json.RawMessage(`{"packages":["nodejs","npm"]}`), nil, true},
		{"clone-starter-repo", "clone_git_repository", 3, json.RawMessage(`{"url":"https://github.com/wisbric/node-starter.git","path":"app"}`), []string{"install-packages"}, false},
		{"install-extensions", "install_vscode_extensions", 4, json.RawMessage(`{"extensions":["dbaeumer.vscode-eslint"]}`), nil, false},
		{"completion-message", "display_completion_message", 5, json.RawMessage(`{"message":"Node workspace ready."}`), []string{"clone-starter-repo", "install-extensions"}, false},
	}

	for _, step := range steps {
		seq := store.TemplateActionSequence{
			TemplateID:   template.ID,
			ActionID:     step.actionID,
			ActionType:   step.actionType,
			Order:        step.order,
			Parameters:   step.parameters,
			Dependencies: step.deps,
			FatalOnError: step.fatal,
			Enabled:      true,
		}
		seq.RetryConfig.MaxAttempts = 3
		seq.RetryConfig.RetryDelaySeconds = 5
		seq.RetryConfig.ExponentialBackoff = true
		if _, err := templates.AddActionSequence(ctx, seq); err != nil {
			return store.WorkspaceTemplate{}, fmt.Errorf("adding action sequence %q: %w", step.actionID, err)
		}
	}
	return template, nil
}

// seedBillingHistory records a completed trial-to-active upgrade: a
// successful payment, its derived subscription, and the resulting invoice,
// mirroring the transition pkg/billing.ProcessCallback performs live.
func seedBillingHistory(ctx context.Context, billingStore *store.BillingStore, companyID uuid.UUID) error {
	oid := billing.NewMerchantOID(companyID, time.Now().Add(-48*time.Hour))
	payment, err := billingStore.CreatePending(ctx, companyID, oid, 4900_00, "USD", store.PlanTeam, false)
	if err != nil {
		return fmt.Errorf("creating demo payment: %w", err)
	}

	sub, err := billingStore.CreateTrial(ctx, companyID, store.PlanTeam, billing.TrialDays)
	if err != nil {
		return fmt.Errorf("creating demo trial subscription: %w", err)
	}
	sub, err = billingStore.ActivatePeriod(ctx, sub.ID, store.PlanTeam, billing.PeriodDays)
	if err != nil {
		return fmt.Errorf("activating demo subscription: %w", err)
	}

	completedAt := time.Now().Add(-47 * time.Hour)
	if err := billingStore.MarkSuccess(ctx, payment.ID, sub.ID, completedAt); err != nil {
		return fmt.Errorf("marking demo payment successful: %w", err)
	}

	seq, err := billingStore.NextInvoiceSequence(ctx, completedAt.Year())
	if err != nil {
		return fmt.Errorf("allocating demo invoice sequence: %w", err)
	}
	invoiceNumber := fmt.Sprintf("INV-%d-%05d", completedAt.Year(), seq)
	if _, err := billingStore.CreateInvoice(ctx, companyID, payment.ID, invoiceNumber, payment.AmountMinor, payment.Currency, *sub.CurrentPeriodStart, *sub.CurrentPeriodEnd); err != nil {
		return fmt.Errorf("creating demo invoice: %w", err)
	}
	return nil
}

// dropCompany removes every row owned by a demo company, in dependency
// order, so RunDemo can be re-run against a clean slate.
func dropCompany(ctx context.Context, pool *pgxpool.Pool, companyID uuid.UUID) error {
	stmts := []string{
		`DELETE FROM workspace_action_executions WHERE workspace_id IN (SELECT id FROM workspaces WHERE company_id = $1)`,
		`DELETE FROM workspace_metrics WHERE workspace_id IN (SELECT id FROM workspaces WHERE company_id = $1)`,
		`DELETE FROM invoices WHERE company_id = $1`,
		`DELETE FROM payments WHERE company_id = $1`,
		`DELETE FROM subscriptions WHERE company_id = $1`,
		`DELETE FROM workspaces WHERE company_id = $1`,
		`DELETE FROM audit_log WHERE company_id = $1`,
		`DELETE FROM users WHERE company_id = $1`,
		`DELETE FROM companies WHERE id = $1`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt, companyID); err != nil {
			return fmt.Errorf("executing %q: %w", stmt, err)
		}
	}
	return nil
}
