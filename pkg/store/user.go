package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/forgehost/internal/dbx"
)

// UserStore provides database operations for users.
type UserStore struct {
	db dbx.DBTX
}

func NewUserStore(db dbx.DBTX) *UserStore { return &UserStore{db: db} }

const userColumns = `id, email, password_hash, role, company_id, workspace_quota,
	failed_login_attempts, account_locked_until,
	terms_accepted, terms_accepted_at, terms_accepted_ip, terms_version,
	privacy_accepted, privacy_accepted_at, privacy_accepted_ip, privacy_version,
	created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	var termsAt, privacyAt *time.Time
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CompanyID, &u.WorkspaceQuota,
		&u.FailedLoginAttempts, &u.AccountLockedUntil,
		&u.TermsAcceptance.Accepted, &termsAt, &u.TermsAcceptance.AcceptedIP, &u.TermsAcceptance.Version,
		&u.PrivacyAcceptance.Accepted, &privacyAt, &u.PrivacyAcceptance.AcceptedIP, &u.PrivacyAcceptance.Version,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if termsAt != nil {
		u.TermsAcceptance.AcceptedAt = *termsAt
	}
	if privacyAt != nil {
		u.PrivacyAcceptance.AcceptedAt = *privacyAt
	}
	return u, err
}

// Get returns a single user by ID.
func (s *UserStore) Get(ctx context.Context, id uuid.UUID) (User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("getting user %s: %w", id, err)
	}
	return u, nil
}

// GetByEmail returns a single user by its unique email.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	u, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("getting user by email: %w", err)
	}
	return u, nil
}

// CreateParams holds the fields needed to create a user.
type CreateUserParams struct {
	Email          string
	PasswordHash   string
	Role           string
	CompanyID      uuid.UUID
	WorkspaceQuota int
}

// Create inserts a new user row. Legal acceptance is recorded separately via
// AcceptTerms/AcceptPrivacy once the front-end collects it.
func (s *UserStore) Create(ctx context.Context, p CreateUserParams) (User, error) {
	if p.WorkspaceQuota < 1 {
		p.WorkspaceQuota = 1
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, role, company_id, workspace_quota)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns,
		p.Email, p.PasswordHash, p.Role, p.CompanyID, p.WorkspaceQuota,
	)
	u, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("creating user: %w", err)
	}
	return u, nil
}

// RecordFailedLogin increments the failure counter and, once it reaches
// maxAttempts, sets account_locked_until.
func (s *UserStore) RecordFailedLogin(ctx context.Context, id uuid.UUID, maxAttempts int, lockFor time.Duration) error {
	_, err := s.db.Exec(ctx, `
		UPDATE users SET
			failed_login_attempts = failed_login_attempts + 1,
			account_locked_until = CASE
				WHEN failed_login_attempts + 1 >= $2 THEN now() + $3::interval
				ELSE account_locked_until
			END,
			updated_at = now()
		WHERE id = $1`,
		id, maxAttempts, lockFor.String())
	if err != nil {
		return fmt.Errorf("recording failed login for user %s: %w", id, err)
	}
	return nil
}

// ResetFailedLogins clears the failure counter and lock after a successful login.
func (s *UserStore) ResetFailedLogins(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE users SET failed_login_attempts = 0, account_locked_until = NULL, updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("resetting failed logins for user %s: %w", id, err)
	}
	return nil
}

// AcceptLegal records a terms-of-service or privacy-policy acceptance tuple.
func (s *UserStore) AcceptLegal(ctx context.Context, id uuid.UUID, document string, ip, version string, at time.Time) error {
	var col string
	switch document {
	case "terms":
		col = "terms"
	case "privacy":
		col = "privacy"
	default:
		return fmt.Errorf("unknown legal document %q", document)
	}
	query := fmt.Sprintf(`
		UPDATE users SET %s_accepted = true, %s_accepted_at = $2, %s_accepted_ip = $3, %s_version = $4, updated_at = now()
		WHERE id = $1`, col, col, col, col)
	if _, err := s.db.Exec(ctx, query, id, at, ip, version); err != nil {
		return fmt.Errorf("recording %s acceptance for user %s: %w", document, id, err)
	}
	return nil
}
