// Package provision implements the Provisioner (spec §4.3): it orchestrates
// the OS-level side effects of bringing a workspace into existence
// (port/user allocation, systemd unit, code-server config, disk quota,
// proxy route) around the Template Action Engine, and the start/stop/
// restart/logs/resize operations performed against an already-provisioned
// workspace.
package provision

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/forgehost/pkg/executor"
	"github.com/wisbric/forgehost/pkg/opsnotify"
	"github.com/wisbric/forgehost/pkg/proxyconfig"
	"github.com/wisbric/forgehost/pkg/store"
)

// Config holds the OS-facing knobs a Provisioner needs, mirroring the
// environment variables of spec §6 ("port range, workspace base dir").
type Config struct {
	PortMin          int
	PortMax          int
	BaseDir          string // workspace home tree root, e.g. /home
	CodeServerBin    string
	SystemdUnitDir   string
	SystemdDropinDir string
	WorkspaceDomain  string
	BaseURL          string
}

// Provisioner ties together the repositories, the Action Executor, the
// reverse-proxy config manager, and a Redis-backed per-workspace lock.
type Provisioner struct {
	DB         *pgxpool.Pool
	Redis      *redis.Client
	Workspaces *store.WorkspaceStore
	Companies  *store.CompanyStore
	Users      *store.UserStore
	Templates  *store.TemplateStore
	Executions *store.ExecutionStore
	Executor   *executor.Executor
	Proxy      *proxyconfig.Manager
	Notifier   *opsnotify.Notifier
	Logger     *slog.Logger
	Config     Config
}

// New constructs a Provisioner from its collaborators.
func New(
	db *pgxpool.Pool,
	rdb *redis.Client,
	workspaces *store.WorkspaceStore,
	companies *store.CompanyStore,
	users *store.UserStore,
	templates *store.TemplateStore,
	executions *store.ExecutionStore,
	exec *executor.Executor,
	proxy *proxyconfig.Manager,
	notifier *opsnotify.Notifier,
	logger *slog.Logger,
	cfg Config,
) *Provisioner {
	return &Provisioner{
		DB: db, Redis: rdb, Workspaces: workspaces, Companies: companies, Users: users,
		Templates: templates, Executions: executions, Executor: exec, Proxy: proxy,
		Notifier: notifier, Logger: logger, Config: cfg,
	}
}

// homeDirectory returns the per-workspace home path under the configured
// base directory (spec §4.3 "home `/<base>/<username>`").
func (p *Provisioner) homeDirectory(linuxUsername string) string {
	return fmt.Sprintf("%s/%s", p.Config.BaseDir, linuxUsername)
}

// ServiceName returns the systemd instance name for a workspace's Linux
// account (spec §6 "code-server@.service" template unit).
func ServiceName(linuxUsername string) string {
	return "code-server@" + linuxUsername
}

func (p *Provisioner) logError(ctx context.Context, workspaceID string, step string, err error) {
	p.Logger.Error("provisioning step failed", "workspace_id", workspaceID, "step", step, "error", err)
}
