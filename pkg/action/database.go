package action

import (
	"context"
	"fmt"
	"strings"
)

// CreatePostgreSQLDatabaseHandler provisions a role and database for the
// workspace (spec §4.1 create_postgresql_database). It runs as the postgres
// administrator via `psql`.
type CreatePostgreSQLDatabaseHandler struct{}

func (h *CreatePostgreSQLDatabaseHandler) Metadata() Metadata {
	return Metadata{
		DisplayName:        "Create PostgreSQL Database",
		Category:           "database",
		Description:        "Creates a role and database, granting the role full access.",
		RequiredParameters: []string{"database_name", "role_name"},
		OptionalParameters: []string{"role_password", "encoding", "locale"},
	}
}

func (h *CreatePostgreSQLDatabaseHandler) Validate(params Params) error {
	if _, err := requireString(params, "create_postgresql_database", "database_name"); err != nil {
		return err
	}
	if _, err := requireString(params, "create_postgresql_database", "role_name"); err != nil {
		return err
	}
	return nil
}

func (h *CreatePostgreSQLDatabaseHandler) roleExists(ctx context.Context, role string) (bool, error) {
	out, err := runCommand(ctx, defaultCommandTimeout, "", "postgres", "psql",
		"-tAc", fmt.Sprintf("SELECT 1 FROM pg_roles WHERE rolname='%s'", escapeSQLIdent(role)))
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "1", nil
}

func (h *CreatePostgreSQLDatabaseHandler) dbExists(ctx context.Context, db string) (bool, error) {
	out, err := runCommand(ctx, defaultCommandTimeout, "", "postgres", "psql",
		"-tAc", fmt.Sprintf("SELECT 1 FROM pg_database WHERE datname='%s'", escapeSQLIdent(db)))
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "1", nil
}

func (h *CreatePostgreSQLDatabaseHandler) Execute(ctx context.Context, actx Context, params Params) (Result, error) {
	dbName, _ := requireString(params, "create_postgresql_database", "database_name")
	role, _ := requireString(params, "create_postgresql_database", "role_name")
	password := optString(params, "role_password", "")
	encoding := optString(params, "encoding", "UTF8")
	locale := optString(params, "locale", "en_US.UTF-8")

	roleAlreadyExisted, err := h.roleExists(ctx, role)
	if err != nil {
		return Result{}, fmt.Errorf("checking role %s: %w", role, err)
	}
	if !roleAlreadyExisted {
		createRole := fmt.Sprintf("CREATE ROLE %s LOGIN", quoteSQLIdent(role))
		if password != "" {
			createRole += fmt.Sprintf(" PASSWORD '%s'", escapeSQLLiteral(password))
		}
		if _, err := runCommand(ctx, defaultCommandTimeout, "", "postgres", "psql", "-c", createRole); err != nil {
			return Result{}, fmt.Errorf("creating role %s: %w", role, err)
		}
	}

	dbAlreadyExisted, err := h.dbExists(ctx, dbName)
	if err != nil {
		return Result{}, fmt.Errorf("checking database %s: %w", dbName, err)
	}
	if !dbAlreadyExisted {
		createDB := fmt.Sprintf("CREATE DATABASE %s OWNER %s ENCODING '%s' LC_COLLATE '%s' LC_CTYPE '%s' TEMPLATE template0",
			quoteSQLIdent(dbName), quoteSQLIdent(role), encoding, locale, locale)
		if _, err := runCommand(ctx, 5*defaultCommandTimeout, "", "postgres", "psql", "-c", createDB); err != nil {
			return Result{}, fmt.Errorf("creating database %s: %w", dbName, err)
		}
	}

	grant := fmt.Sprintf("GRANT ALL PRIVILEGES ON DATABASE %s TO %s", quoteSQLIdent(dbName), quoteSQLIdent(role))
	if _, err := runCommand(ctx, defaultCommandTimeout, "", "postgres", "psql", "-c", grant); err != nil {
		return Result{}, fmt.Errorf("granting privileges on %s to %s: %w", dbName, role, err)
	}

	return Result{Data: map[string]any{
		"database_name":        dbName,
		"role_name":             role,
		"role_already_existed":  roleAlreadyExisted,
		"db_already_existed":    dbAlreadyExisted,
	}}, nil
}

func (h *CreatePostgreSQLDatabaseHandler) Rollback(ctx context.Context, actx Context, params Params, result Result) error {
	dbName := optString(params, "database_name", "")
	role := optString(params, "role_name", "")

	dbAlreadyExisted, _ := result.Data["db_already_existed"].(bool)
	if dbName != "" && !dbAlreadyExisted {
		_, _ = runCommand(ctx, defaultCommandTimeout, "", "postgres", "psql", "-c",
			fmt.Sprintf("DROP DATABASE IF EXISTS %s", quoteSQLIdent(dbName)))
	}

	roleAlreadyExisted, _ := result.Data["role_already_existed"].(bool)
	if role != "" && !roleAlreadyExisted {
		_, _ = runCommand(ctx, defaultCommandTimeout, "", "postgres", "psql", "-c",
			fmt.Sprintf("DROP ROLE IF EXISTS %s", quoteSQLIdent(role)))
	}
	return nil
}

// quoteSQLIdent wraps an identifier already validated by escapeSQLIdent in
// double quotes, the form psql expects for case-sensitive/reserved names.
func quoteSQLIdent(s string) string {
	return `"` + escapeSQLIdent(s) + `"`
}

// escapeSQLIdent strips characters that have no business in an identifier
// built from workspace/company names — these are never untrusted end-user
// SQL, but handler params still flow through template substitution.
func escapeSQLIdent(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func escapeSQLLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
