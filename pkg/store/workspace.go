package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/forgehost/internal/dbx"
)

// WorkspaceStore provides database operations for workspaces.
type WorkspaceStore struct {
	db dbx.DBTX
}

func NewWorkspaceStore(db dbx.DBTX) *WorkspaceStore { return &WorkspaceStore{db: db} }

const workspaceColumns = `id, company_id, owner_user_id, name, subdomain, linux_username, port,
	code_server_password, status, provisioning_state, is_running,
	last_started_at, last_stopped_at, last_accessed_at,
	auto_stop_hours, cpu_limit_percent, memory_limit_mb, disk_quota_gb,
	template_id, access_token, ssh_public_key, resume_cursor, extra_data,
	created_at, updated_at`

func scanWorkspace(row pgx.Row) (Workspace, error) {
	var w Workspace
	var extra []byte
	err := row.Scan(
		&w.ID, &w.CompanyID, &w.OwnerUserID, &w.Name, &w.Subdomain, &w.LinuxUsername, &w.Port,
		&w.CodeServerPassword, &w.Status, &w.ProvisioningState, &w.IsRunning,
		&w.LastStartedAt, &w.LastStoppedAt, &w.LastAccessedAt,
		&w.AutoStopHours, &w.CPULimitPercent, &w.MemoryLimitMB, &w.DiskQuotaGB,
		&w.TemplateID, &w.AccessToken, &w.SSHPublicKey, &w.ResumeCursor, &extra,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if len(extra) > 0 {
		w.ExtraData = json.RawMessage(extra)
	}
	return w, err
}

func scanWorkspaces(rows pgx.Rows) ([]Workspace, error) {
	defer rows.Close()
	var out []Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning workspace row: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating workspace rows: %w", err)
	}
	return out, nil
}

// Get returns a single workspace by ID.
func (s *WorkspaceStore) Get(ctx context.Context, id uuid.UUID) (Workspace, error) {
	row := s.db.QueryRow(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE id = $1`, id)
	w, err := scanWorkspace(row)
	if err != nil {
		return Workspace{}, fmt.Errorf("getting workspace %s: %w", id, err)
	}
	return w, nil
}

// CountByOwner returns how many workspaces a single user owns, to be
// compared against the user's workspace_quota (spec §3, §6 "quota (user and
// company)").
func (s *WorkspaceStore) CountByOwner(ctx context.Context, ownerUserID uuid.UUID) (int, error) {
	var total int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM workspaces WHERE owner_user_id = $1`, ownerUserID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("counting workspaces for owner %s: %w", ownerUserID, err)
	}
	return total, nil
}

// ListByCompany returns every workspace owned by a company.
func (s *WorkspaceStore) ListByCompany(ctx context.Context, companyID uuid.UUID) ([]Workspace, error) {
	rows, err := s.db.Query(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE company_id = $1 ORDER BY created_at`, companyID)
	if err != nil {
		return nil, fmt.Errorf("listing workspaces for company %s: %w", companyID, err)
	}
	return scanWorkspaces(rows)
}

// ReservedPorts returns the set of ports currently held by any workspace row
// (spec §4.3: a failed workspace still reserves its port until deprovision).
func (s *WorkspaceStore) ReservedPorts(ctx context.Context) (map[int]bool, error) {
	rows, err := s.db.Query(ctx, `SELECT port FROM workspaces`)
	if err != nil {
		return nil, fmt.Errorf("listing reserved ports: %w", err)
	}
	defer rows.Close()
	reserved := make(map[int]bool)
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning reserved port: %w", err)
		}
		reserved[p] = true
	}
	return reserved, rows.Err()
}

// CreateParams holds the fields needed to insert a pending workspace row.
type CreateWorkspaceParams struct {
	CompanyID     uuid.UUID
	OwnerUserID   uuid.UUID
	Name          string
	Subdomain     string
	LinuxUsername string
	Port          int
	TemplateID    *uuid.UUID
	AutoStopHours int
	DiskQuotaGB   int
	CPULimitPercent int
	MemoryLimitMB int
}

// Create inserts a new workspace row in the `pending` / `created` state.
// Port and names are expected to already be reserved under a SERIALIZABLE
// transaction by the caller (pkg/provision).
func (s *WorkspaceStore) Create(ctx context.Context, p CreateWorkspaceParams) (Workspace, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO workspaces (
			company_id, owner_user_id, name, subdomain, linux_username, port,
			status, provisioning_state, auto_stop_hours, disk_quota_gb,
			cpu_limit_percent, memory_limit_mb, template_id, access_token
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING `+workspaceColumns,
		p.CompanyID, p.OwnerUserID, p.Name, p.Subdomain, p.LinuxUsername, p.Port,
		WorkspacePending, ProvStateCreated, p.AutoStopHours, p.DiskQuotaGB,
		p.CPULimitPercent, p.MemoryLimitMB, p.TemplateID, uuid.NewString(),
	)
	w, err := scanWorkspace(row)
	if err != nil {
		return Workspace{}, fmt.Errorf("creating workspace: %w", err)
	}
	return w, nil
}

// SetStatus updates status (and, when provided, provisioning_state).
func (s *WorkspaceStore) SetStatus(ctx context.Context, id uuid.UUID, status, provisioningState string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE workspaces SET status = $2, provisioning_state = $3, updated_at = now()
		WHERE id = $1`, id, status, provisioningState)
	if err != nil {
		return fmt.Errorf("setting status for workspace %s: %w", id, err)
	}
	return nil
}

// SetRunning updates is_running and the corresponding timestamp.
func (s *WorkspaceStore) SetRunning(ctx context.Context, id uuid.UUID, running bool, at time.Time) error {
	col := "last_stopped_at"
	if running {
		col = "last_started_at"
	}
	query := fmt.Sprintf(`UPDATE workspaces SET is_running = $2, %s = $3, updated_at = now() WHERE id = $1`, col)
	if _, err := s.db.Exec(ctx, query, id, running, at); err != nil {
		return fmt.Errorf("setting running state for workspace %s: %w", id, err)
	}
	return nil
}

// TouchAccessed sets last_accessed_at, used by the forward-auth verify path.
func (s *WorkspaceStore) TouchAccessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := s.db.Exec(ctx, `UPDATE workspaces SET last_accessed_at = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("touching last_accessed_at for workspace %s: %w", id, err)
	}
	return nil
}

// SetResumeCursor persists the index of the action that paused execution
// (spec §4.2 pause/resume).
func (s *WorkspaceStore) SetResumeCursor(ctx context.Context, id uuid.UUID, cursor int) error {
	if _, err := s.db.Exec(ctx, `UPDATE workspaces SET resume_cursor = $2, updated_at = now() WHERE id = $1`, id, cursor); err != nil {
		return fmt.Errorf("setting resume cursor for workspace %s: %w", id, err)
	}
	return nil
}

// MergeExtraData merges a key into the workspace's free-form extra_data blob.
func (s *WorkspaceStore) MergeExtraData(ctx context.Context, id uuid.UUID, key string, value any) error {
	w, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	merged, err := w.WithExtraValue(key, value)
	if err != nil {
		return fmt.Errorf("merging extra_data for workspace %s: %w", id, err)
	}
	if _, err := s.db.Exec(ctx, `UPDATE workspaces SET extra_data = $2, updated_at = now() WHERE id = $1`, id, merged); err != nil {
		return fmt.Errorf("writing extra_data for workspace %s: %w", id, err)
	}
	return nil
}

// ResizeDisk raises disk_quota_gb; per spec §4.3 it never lowers the quota.
func (s *WorkspaceStore) ResizeDisk(ctx context.Context, id uuid.UUID, newQuotaGB int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE workspaces SET disk_quota_gb = GREATEST(disk_quota_gb, $2), updated_at = now()
		WHERE id = $1`, id, newQuotaGB)
	if err != nil {
		return fmt.Errorf("resizing disk for workspace %s: %w", id, err)
	}
	return nil
}

// Delete removes the workspace row, releasing its port/subdomain/username
// reservation (spec §4.3 invariant, spec §8 round-trip law).
func (s *WorkspaceStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM workspaces WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting workspace %s: %w", id, err)
	}
	return nil
}

// ListAutoStopCandidates returns running workspaces with auto-stop enabled,
// for the lifecycle controller's scheduler (spec §4.5).
func (s *WorkspaceStore) ListAutoStopCandidates(ctx context.Context) ([]Workspace, error) {
	rows, err := s.db.Query(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE is_running = true AND auto_stop_hours > 0`)
	if err != nil {
		return nil, fmt.Errorf("listing auto-stop candidates: %w", err)
	}
	return scanWorkspaces(rows)
}

// ListRunning returns every currently-running workspace, for the metrics collector.
func (s *WorkspaceStore) ListRunning(ctx context.Context) ([]Workspace, error) {
	rows, err := s.db.Query(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE is_running = true`)
	if err != nil {
		return nil, fmt.Errorf("listing running workspaces: %w", err)
	}
	return scanWorkspaces(rows)
}
