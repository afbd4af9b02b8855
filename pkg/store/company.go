package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/forgehost/internal/dbx"
)

// CompanyStore provides database operations for companies.
type CompanyStore struct {
	db dbx.DBTX
}

func NewCompanyStore(db dbx.DBTX) *CompanyStore { return &CompanyStore{db: db} }

const companyColumns = `id, name, subdomain, plan, status, max_workspaces, preferred_currency, created_at, updated_at`

func scanCompany(row pgx.Row) (Company, error) {
	var c Company
	err := row.Scan(&c.ID, &c.Name, &c.Subdomain, &c.Plan, &c.Status, &c.MaxWorkspaces, &c.PreferredCurrency, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// Get returns a single company by ID.
func (s *CompanyStore) Get(ctx context.Context, id uuid.UUID) (Company, error) {
	row := s.db.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, id)
	c, err := scanCompany(row)
	if err != nil {
		return Company{}, fmt.Errorf("getting company %s: %w", id, err)
	}
	return c, nil
}

// GetBySubdomain returns a company by its unique subdomain.
func (s *CompanyStore) GetBySubdomain(ctx context.Context, subdomain string) (Company, error) {
	row := s.db.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE subdomain = $1`, subdomain)
	c, err := scanCompany(row)
	if err != nil {
		return Company{}, fmt.Errorf("getting company by subdomain %q: %w", subdomain, err)
	}
	return c, nil
}

// Create inserts a new company with max_workspaces derived from its plan.
func (s *CompanyStore) Create(ctx context.Context, name, subdomain, plan, currency string) (Company, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO companies (name, subdomain, plan, status, max_workspaces, preferred_currency)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+companyColumns,
		name, subdomain, plan, CompanyActive, PlanMaxWorkspaces(plan), currency,
	)
	c, err := scanCompany(row)
	if err != nil {
		return Company{}, fmt.Errorf("creating company: %w", err)
	}
	return c, nil
}

// ChangePlan updates plan and re-derives max_workspaces — the only path by
// which max_workspaces mutates (spec §3 Company invariant).
func (s *CompanyStore) ChangePlan(ctx context.Context, id uuid.UUID, plan string) (Company, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE companies SET plan = $2, max_workspaces = $3, updated_at = now()
		WHERE id = $1
		RETURNING `+companyColumns,
		id, plan, PlanMaxWorkspaces(plan),
	)
	c, err := scanCompany(row)
	if err != nil {
		return Company{}, fmt.Errorf("changing plan for company %s: %w", id, err)
	}
	return c, nil
}

// CountWorkspaces returns how many workspaces currently exist for a
// company, to be compared against max_workspaces (spec §3, §6 "quota
// (user and company)").
func (s *CompanyStore) CountWorkspaces(ctx context.Context, companyID uuid.UUID) (int, error) {
	var total int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM workspaces WHERE company_id = $1`, companyID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("counting workspaces for company %s: %w", companyID, err)
	}
	return total, nil
}
