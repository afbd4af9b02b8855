package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/forgehost/internal/apierr"
	"github.com/wisbric/forgehost/internal/telemetry"
	"github.com/wisbric/forgehost/pkg/action"
	"github.com/wisbric/forgehost/pkg/store"
)

// completedStep records one infrastructure step for reverse-order rollback
// (spec §4.3: "roll back completed infrastructure steps in reverse order
// (proxy route → systemd unit → Linux user)").
type completedStep int

const (
	stepLinuxUser completedStep = iota
	stepSystemdUnit
	stepProxyRoute
)

// Reserve allocates a port and a unique subdomain/username and persists the
// workspace row in `pending`, under one SERIALIZABLE transaction, without
// touching the OS (spec §4.3 port allocation, §5 "the originating HTTP call
// returns immediately after persisting status=pending"). The caller is
// expected to hand the result to Provision — usually on a worker-pool
// goroutine via a Dispatcher, not inline in the request.
func (p *Provisioner) Reserve(ctx context.Context, req CreateRequest) (store.Workspace, store.Company, error) {
	company, err := p.Companies.Get(ctx, req.CompanyID)
	if err != nil {
		return store.Workspace{}, store.Company{}, fmt.Errorf("loading company %s: %w", req.CompanyID, err)
	}

	ws, err := p.reserveWorkspace(ctx, company, req)
	if err != nil {
		return store.Workspace{}, store.Company{}, err
	}
	return ws, company, nil
}

// Provision brings an already-reserved workspace row fully online: OS
// account, systemd unit, optional disk quota, the Action Executor (if a
// template is attached), and the reverse-proxy route (spec §4.3). Call
// Reserve first to persist the pending row.
func (p *Provisioner) Provision(ctx context.Context, ws store.Workspace, company store.Company) (store.Workspace, error) {
	lock, err := Lock(ctx, p.Redis, ws.ID)
	if err != nil {
		return ws, err
	}
	defer lock.Release(ctx)

	started := time.Now()
	if err := p.runProvisioningSteps(ctx, ws, company); err != nil {
		telemetry.ProvisioningOutcomesTotal.WithLabelValues("failed").Inc()
		return ws, err
	}
	telemetry.ProvisioningDuration.Observe(time.Since(started).Seconds())
	telemetry.ProvisioningOutcomesTotal.WithLabelValues("success").Inc()

	final, err := p.Workspaces.Get(ctx, ws.ID)
	if err != nil {
		return ws, fmt.Errorf("reloading provisioned workspace %s: %w", ws.ID, err)
	}
	return final, nil
}

func (p *Provisioner) runProvisioningSteps(ctx context.Context, ws store.Workspace, company store.Company) error {
	home := p.homeDirectory(ws.LinuxUsername)
	password, err := GeneratePassword(defaultPasswordLength)
	if err != nil {
		return fmt.Errorf("generating code-server password: %w", err)
	}

	var completed []completedStep
	rollback := func(cause error) error {
		for i := len(completed) - 1; i >= 0; i-- {
			switch completed[i] {
			case stepProxyRoute:
				if err := p.Proxy.RemoveWorkspaceRoute(ws.Subdomain); err != nil {
					p.logError(ctx, ws.ID.String(), "rollback:proxy_route", err)
				}
			case stepSystemdUnit:
				_, _ = systemctlUnit(ctx, "stop", ServiceName(ws.LinuxUsername))
				_, _ = systemctlUnit(ctx, "disable", ServiceName(ws.LinuxUsername))
				if err := removeDropin(p.Config.SystemdDropinDir, ws.LinuxUsername); err != nil {
					p.logError(ctx, ws.ID.String(), "rollback:systemd_unit", err)
				}
			case stepLinuxUser:
				if err := deleteLinuxUser(ctx, ws.LinuxUsername); err != nil {
					p.logError(ctx, ws.ID.String(), "rollback:linux_user", err)
				}
			}
		}
		if setErr := p.Workspaces.SetStatus(ctx, ws.ID, store.WorkspaceFailed, store.ProvStateFailed); setErr != nil {
			p.logError(ctx, ws.ID.String(), "mark_failed", setErr)
		}
		p.Notifier.NotifyProvisionFailure(ctx, ws.ID.String(), ws.Name, cause)
		return apierr.Wrap(apierr.KindActionFailed, "provisioning workspace "+ws.ID.String()+" failed", cause)
	}

	if err := p.Workspaces.SetStatus(ctx, ws.ID, store.WorkspaceProvisioning, store.ProvStateProvisioning); err != nil {
		return fmt.Errorf("marking workspace provisioning: %w", err)
	}

	if err := createLinuxUser(ctx, ws.LinuxUsername, home, password); err != nil {
		return rollback(err)
	}
	completed = append(completed, stepLinuxUser)

	if err := writeCodeServerConfig(home, ws.Port); err != nil {
		return rollback(err)
	}
	if err := p.ensureSystemdTemplateUnit(ctx); err != nil {
		return rollback(err)
	}
	if err := p.writeDropin(ws.LinuxUsername, ws.Port); err != nil {
		return rollback(err)
	}
	if _, err := systemctlUnit(ctx, "daemon-reload", ""); err != nil {
		return rollback(err)
	}
	unit := ServiceName(ws.LinuxUsername)
	if _, err := systemctlUnit(ctx, "enable", unit); err != nil {
		return rollback(err)
	}
	if _, err := systemctlUnit(ctx, "start", unit); err != nil {
		return rollback(err)
	}
	completed = append(completed, stepSystemdUnit)

	if ws.DiskQuotaGB > 0 {
		if err := setDiskQuota(ctx, ws.LinuxUsername, ws.DiskQuotaGB); err != nil {
			p.logError(ctx, ws.ID.String(), "set_disk_quota", err)
		}
	}

	if err := p.Workspaces.MergeExtraData(ctx, ws.ID, "code_server_password_set", true); err != nil {
		p.logError(ctx, ws.ID.String(), "record_password_set", err)
	}

	if ws.TemplateID != nil {
		paused, err := p.runExecutor(ctx, ws, company, *ws.TemplateID, -1)
		if err != nil {
			return rollback(err)
		}
		if paused {
			// Executor already persisted the resume cursor and the paused
			// provisioning_state; proxy registration happens on resume.
			return nil
		}
	}

	if err := p.Proxy.AddWorkspaceRoute(ws.Subdomain, ws.Port); err != nil {
		return rollback(err)
	}
	completed = append(completed, stepProxyRoute)

	now := time.Now()
	if err := p.Workspaces.SetStatus(ctx, ws.ID, store.WorkspaceActive, store.ProvStateCompleted); err != nil {
		return fmt.Errorf("marking workspace active: %w", err)
	}
	if err := p.Workspaces.SetRunning(ctx, ws.ID, true, now); err != nil {
		return fmt.Errorf("marking workspace running: %w", err)
	}
	return nil
}

// runExecutor builds the action.Context for ws and runs (or resumes) its
// template. cursor < 0 means "run from the start". It returns whether the
// run paused.
func (p *Provisioner) runExecutor(ctx context.Context, ws store.Workspace, company store.Company, templateID uuid.UUID, cursor int) (bool, error) {
	owner, err := p.Users.Get(ctx, ws.OwnerUserID)
	if err != nil {
		return false, fmt.Errorf("loading workspace owner %s: %w", ws.OwnerUserID, err)
	}
	tmpl, err := p.Templates.Get(ctx, templateID)
	if err != nil {
		return false, fmt.Errorf("loading template %s: %w", templateID, err)
	}
	seqs, err := p.Templates.ListByTemplate(ctx, templateID)
	if err != nil {
		return false, fmt.Errorf("loading action sequences for template %s: %w", templateID, err)
	}

	actx := action.Context{
		WorkspaceID:   ws.ID,
		WorkspaceName: ws.Name,
		LinuxUsername: ws.LinuxUsername,
		Subdomain:     ws.Subdomain,
		UserEmail:     owner.Email,
		UserID:        owner.ID,
		CompanyName:   company.Name,
		HomeDirectory: p.homeDirectory(ws.LinuxUsername),
		Port:          ws.Port,
	}

	var outcome struct {
		Paused bool
	}
	if cursor < 0 {
		o, err := p.Executor.Run(ctx, actx, tmpl, seqs)
		if err != nil {
			return false, err
		}
		outcome.Paused = o.Paused
	} else {
		o, err := p.Executor.Resume(ctx, actx, tmpl, seqs, cursor)
		if err != nil {
			return false, err
		}
		outcome.Paused = o.Paused
	}
	return outcome.Paused, nil
}

// ResumeAfterSSHVerification continues a paused provisioning run once the
// user has confirmed their SSH key is registered with GitHub (spec §4.3,
// §8 scenario 4).
func (p *Provisioner) ResumeAfterSSHVerification(ctx context.Context, workspaceID uuid.UUID) (store.Workspace, error) {
	ws, err := p.Workspaces.Get(ctx, workspaceID)
	if err != nil {
		return store.Workspace{}, fmt.Errorf("loading workspace %s: %w", workspaceID, err)
	}
	if ws.ProvisioningState != store.ProvStateAwaitingSSHVerification {
		return store.Workspace{}, apierr.New(apierr.KindStateTransitionInvalid, "workspace is not awaiting SSH verification")
	}
	if ws.TemplateID == nil {
		return store.Workspace{}, apierr.New(apierr.KindStateTransitionInvalid, "workspace has no template to resume")
	}

	lock, err := Lock(ctx, p.Redis, ws.ID)
	if err != nil {
		return store.Workspace{}, err
	}
	defer lock.Release(ctx)

	if err := p.Workspaces.MergeExtraData(ctx, ws.ID, "ssh_verified", true); err != nil {
		return store.Workspace{}, fmt.Errorf("recording ssh verification: %w", err)
	}

	company, err := p.Companies.Get(ctx, ws.CompanyID)
	if err != nil {
		return store.Workspace{}, fmt.Errorf("loading company %s: %w", ws.CompanyID, err)
	}

	paused, err := p.runExecutor(ctx, ws, company, *ws.TemplateID, ws.ResumeCursor)
	if err != nil {
		_ = p.Workspaces.SetStatus(ctx, ws.ID, store.WorkspaceFailed, store.ProvStateFailed)
		return store.Workspace{}, apierr.Wrap(apierr.KindActionFailed, "resuming workspace "+ws.ID.String(), err)
	}
	if paused {
		return p.Workspaces.Get(ctx, ws.ID)
	}

	if err := p.Proxy.AddWorkspaceRoute(ws.Subdomain, ws.Port); err != nil {
		return store.Workspace{}, fmt.Errorf("registering proxy route after resume: %w", err)
	}
	now := time.Now()
	if err := p.Workspaces.SetStatus(ctx, ws.ID, store.WorkspaceActive, store.ProvStateCompleted); err != nil {
		return store.Workspace{}, fmt.Errorf("marking workspace active: %w", err)
	}
	if err := p.Workspaces.SetRunning(ctx, ws.ID, true, now); err != nil {
		return store.Workspace{}, fmt.Errorf("marking workspace running: %w", err)
	}
	return p.Workspaces.Get(ctx, ws.ID)
}

// Deprovision tears down every infrastructure step and deletes the
// workspace row (spec §4.3, §8 round-trip law).
func (p *Provisioner) Deprovision(ctx context.Context, workspaceID uuid.UUID) error {
	ws, err := p.Workspaces.Get(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("loading workspace %s: %w", workspaceID, err)
	}

	lock, err := Lock(ctx, p.Redis, ws.ID)
	if err != nil {
		return err
	}
	defer lock.Release(ctx)

	if err := p.Proxy.RemoveWorkspaceRoute(ws.Subdomain); err != nil {
		p.logError(ctx, ws.ID.String(), "deprovision:proxy_route", err)
	}

	unit := ServiceName(ws.LinuxUsername)
	_, _ = systemctlUnit(ctx, "stop", unit)
	_, _ = systemctlUnit(ctx, "disable", unit)
	if err := removeDropin(p.Config.SystemdDropinDir, ws.LinuxUsername); err != nil {
		p.logError(ctx, ws.ID.String(), "deprovision:dropin", err)
	}
	_, _ = systemctlUnit(ctx, "daemon-reload", "")

	if err := deleteLinuxUser(ctx, ws.LinuxUsername); err != nil {
		p.logError(ctx, ws.ID.String(), "deprovision:linux_user", err)
	}

	if err := p.Workspaces.Delete(ctx, ws.ID); err != nil {
		return fmt.Errorf("deleting workspace row %s: %w", ws.ID, err)
	}
	return nil
}

// Start brings a stopped workspace's systemd unit up.
func (p *Provisioner) Start(ctx context.Context, workspaceID uuid.UUID) (store.Workspace, error) {
	return p.setRunning(ctx, workspaceID, true)
}

// Stop halts a running workspace's systemd unit.
func (p *Provisioner) Stop(ctx context.Context, workspaceID uuid.UUID) (store.Workspace, error) {
	return p.setRunning(ctx, workspaceID, false)
}

// Restart stops then starts a workspace's systemd unit.
func (p *Provisioner) Restart(ctx context.Context, workspaceID uuid.UUID) (store.Workspace, error) {
	if _, err := p.setRunning(ctx, workspaceID, false); err != nil {
		return store.Workspace{}, err
	}
	return p.setRunning(ctx, workspaceID, true)
}

func (p *Provisioner) setRunning(ctx context.Context, workspaceID uuid.UUID, running bool) (store.Workspace, error) {
	ws, err := p.Workspaces.Get(ctx, workspaceID)
	if err != nil {
		return store.Workspace{}, fmt.Errorf("loading workspace %s: %w", workspaceID, err)
	}

	lock, err := Lock(ctx, p.Redis, ws.ID)
	if err != nil {
		return store.Workspace{}, err
	}
	defer lock.Release(ctx)

	unit := ServiceName(ws.LinuxUsername)
	verb := "stop"
	if running {
		verb = "start"
	}
	if _, err := systemctlUnit(ctx, verb, unit); err != nil {
		return store.Workspace{}, apierr.Wrap(apierr.KindExternalCommandFailed, verb+" "+unit, err)
	}

	now := time.Now()
	if err := p.Workspaces.SetRunning(ctx, ws.ID, running, now); err != nil {
		return store.Workspace{}, fmt.Errorf("updating running state: %w", err)
	}
	status := store.WorkspaceStopped
	if running {
		status = store.WorkspaceActive
	}
	if err := p.Workspaces.SetStatus(ctx, ws.ID, status, ws.ProvisioningState); err != nil {
		return store.Workspace{}, fmt.Errorf("updating status: %w", err)
	}
	return p.Workspaces.Get(ctx, ws.ID)
}

// Logs returns the last `lines` lines of the workspace's systemd journal.
func (p *Provisioner) Logs(ctx context.Context, workspaceID uuid.UUID, lines int, since string) (string, error) {
	ws, err := p.Workspaces.Get(ctx, workspaceID)
	if err != nil {
		return "", fmt.Errorf("loading workspace %s: %w", workspaceID, err)
	}
	if lines <= 0 {
		lines = 100
	}
	out, err := journalTail(ctx, ServiceName(ws.LinuxUsername), lines, since)
	if err != nil {
		return "", apierr.Wrap(apierr.KindExternalCommandFailed, "tailing journal", err)
	}
	return out, nil
}

// ResizeWorkspaceDisk raises a workspace's disk quota; it never lowers it
// (spec §4.3).
func (p *Provisioner) ResizeWorkspaceDisk(ctx context.Context, workspaceID uuid.UUID, newQuotaGB int) (store.Workspace, error) {
	ws, err := p.Workspaces.Get(ctx, workspaceID)
	if err != nil {
		return store.Workspace{}, fmt.Errorf("loading workspace %s: %w", workspaceID, err)
	}
	if err := p.Workspaces.ResizeDisk(ctx, ws.ID, newQuotaGB); err != nil {
		return store.Workspace{}, err
	}
	reloaded, err := p.Workspaces.Get(ctx, ws.ID)
	if err != nil {
		return store.Workspace{}, err
	}
	if err := setDiskQuota(ctx, reloaded.LinuxUsername, reloaded.DiskQuotaGB); err != nil {
		p.logError(ctx, ws.ID.String(), "resize_disk_quota", err)
	}
	return reloaded, nil
}
