package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wisbric/forgehost/internal/apierr"
	"github.com/wisbric/forgehost/internal/telemetry"
	"github.com/wisbric/forgehost/pkg/store"
)

// CreateRequest describes a requested workspace, before port/name allocation.
type CreateRequest struct {
	CompanyID       uuid.UUID
	OwnerUserID     uuid.UUID
	Name            string
	TemplateID      *uuid.UUID
	AutoStopHours   int
	DiskQuotaGB     int
	CPULimitPercent int
	MemoryLimitMB   int
}

// reserveWorkspace allocates a port and derives a unique subdomain/username,
// then inserts the workspace row, all inside one SERIALIZABLE transaction
// (spec §4.3 "port allocation ... must happen before any OS side effect";
// spec §5 "the port allocator reads/writes the workspace table under a
// transaction with SERIALIZABLE or equivalent").
func (p *Provisioner) reserveWorkspace(ctx context.Context, company store.Company, req CreateRequest) (store.Workspace, error) {
	tx, err := p.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return store.Workspace{}, fmt.Errorf("beginning port allocation transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	txWorkspaces := store.NewWorkspaceStore(tx)

	reserved, err := txWorkspaces.ReservedPorts(ctx)
	if err != nil {
		return store.Workspace{}, fmt.Errorf("listing reserved ports: %w", err)
	}

	port := 0
	for candidate := p.Config.PortMin; candidate <= p.Config.PortMax; candidate++ {
		if !reserved[candidate] {
			port = candidate
			break
		}
	}
	if port == 0 {
		return store.Workspace{}, apierr.New(apierr.KindResourceExhausted, "no free port in the configured range")
	}

	subdomain := workspaceSubdomain(company.Subdomain, req.Name)
	linuxUsername := workspaceLinuxUsername(company.Subdomain, req.Name)

	ws, err := txWorkspaces.Create(ctx, store.CreateWorkspaceParams{
		CompanyID:       req.CompanyID,
		OwnerUserID:     req.OwnerUserID,
		Name:            req.Name,
		Subdomain:       subdomain,
		LinuxUsername:   linuxUsername,
		Port:            port,
		TemplateID:      req.TemplateID,
		AutoStopHours:   req.AutoStopHours,
		DiskQuotaGB:     req.DiskQuotaGB,
		CPULimitPercent: req.CPULimitPercent,
		MemoryLimitMB:   req.MemoryLimitMB,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if isUniqueViolation(err, &pgErr) {
			return store.Workspace{}, apierr.Wrap(apierr.KindInvalidInput, "workspace name, subdomain, or linux username already taken", err)
		}
		return store.Workspace{}, fmt.Errorf("creating workspace row: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return store.Workspace{}, fmt.Errorf("committing workspace reservation: %w", err)
	}

	telemetry.PortsAllocatedGauge.Inc()
	return ws, nil
}

func isUniqueViolation(err error, out **pgconn.PgError) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		*out = pgErr
		return true
	}
	return false
}
