package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/wisbric/forgehost/internal/platform"
	"github.com/wisbric/forgehost/pkg/store"
)

// DevPassword is the password seeded for the development admin account. It
// is only ever used by this command and must never reach production.
const DevPassword = "forgehost-dev-seed-do-not-use-in-production"

// Run applies migrations and provisions the "acme" development company with
// an admin user and a starter workspace template. It is idempotent: if the
// company already exists it logs a message and returns nil.
func Run(ctx context.Context, pool *pgxpool.Pool, databaseURL, migrationsDir string, logger *slog.Logger) error {
	if err := platform.RunMigrations(databaseURL, migrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	companies := store.NewCompanyStore(pool)
	users := store.NewUserStore(pool)
	templates := store.NewTemplateStore(pool)

	if existing, err := companies.GetBySubdomain(ctx, "acme"); err == nil {
		logger.Info("seed: company 'acme' already exists, skipping", "company_id", existing.ID)
		return nil
	}

	company, err := companies.Create(ctx, "Acme Corp", "acme", store.PlanTeam, "USD")
	if err != nil {
		return fmt.Errorf("creating seed company: %w", err)
	}
	logger.Info("seed: created company", "company_id", company.ID, "subdomain", company.Subdomain)

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(DevPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing seed password: %w", err)
	}

	admin, err := users.Create(ctx, store.CreateUserParams{
		Email:          "alice@acme.example.com",
		PasswordHash:   string(passwordHash),
		Role:           store.RoleAdmin,
		CompanyID:      company.ID,
		WorkspaceQuota: 5,
	})
	if err != nil {
		return fmt.Errorf("creating seed admin user: %w", err)
	}
	logger.Info("seed: created user", "user_id", admin.ID, "email", admin.Email)

	template, err := seedPythonTemplate(ctx, templates)
	if err != nil {
		return fmt.Errorf("seeding python starter template: %w", err)
	}
	logger.Info("seed: created workspace template", "template_id", template.ID, "name", template.Name)

	logger.Info("seed: completed successfully",
		"company", company.Subdomain,
		"users", 1,
		"templates", 1,
		"dev_password", DevPassword,
	)
	return nil
}

// seedPythonTemplate creates the official "Python Starter" template and its
// ordered action sequence, mirroring the action kinds in spec §4.1.
func seedPythonTemplate(ctx context.Context, templates *store.TemplateStore) (store.WorkspaceTemplate, error) {
	template, err := templates.Create(ctx, "Python Starter", store.VisibilityOfficial, "language", json.RawMessage(`{"python_version":"3.12"}`), true)
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
		{"install-packages", "install_system_packages", 2, json.RawMessage(`{"packages":["python3","python3-venv","build-essential"]}`), nil, true},
		{"create-venv", "create_python_venv", 3, json.RawMessage(`{"path":".venv"}`), []string{"install-packages"}, true},
		{"install-requirements", "install_pip_requirements", 4, json.RawMessage(`{"requirements_file":"requirements.txt"}`), []string{"create-venv"}, false},
		{"install-extensions", "install_vscode_extensions", 5, json.RawMessage(`{"extensions":["ms-python.python"]}`), nil, false},
		{"completion-message", "display_completion_message", 6, json.RawMessage(`{"message":"Python workspace ready."}`), []string{"install-requirements", "install-extensions"}, false},
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
