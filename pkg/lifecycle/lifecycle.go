// Package lifecycle implements the Lifecycle Controller (spec §4.5): the
// auto-stop scheduler that scans idle workspaces and the metrics collector
// that samples CPU/memory/process-count/uptime for running instances.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wisbric/forgehost/internal/telemetry"
	"github.com/wisbric/forgehost/pkg/opsnotify"
	"github.com/wisbric/forgehost/pkg/provision"
	"github.com/wisbric/forgehost/pkg/store"
)

// Controller owns the periodic auto-stop sweep, metrics collection, and
// metrics retention tasks. It delegates actual start/stop operations to a
// Provisioner so there is exactly one place that serializes per-workspace
// systemd operations (spec §5 "keyed mutex ... per workspace_id").
type Controller struct {
	Provisioner   *provision.Provisioner
	Workspaces    *store.WorkspaceStore
	Metrics       *store.MetricsStore
	Notifier      *opsnotify.Notifier
	Logger        *slog.Logger
	RetentionDays int
}

// New constructs a Controller.
func New(p *provision.Provisioner, workspaces *store.WorkspaceStore, metrics *store.MetricsStore, notifier *opsnotify.Notifier, logger *slog.Logger, retentionDays int) *Controller {
	return &Controller{
		Provisioner:   p,
		Workspaces:    workspaces,
		Metrics:       metrics,
		Notifier:      notifier,
		Logger:        logger,
		RetentionDays: retentionDays,
	}
}

// Schedule registers the auto-stop, metrics collection, and retention tasks
// on c using the given cron expressions, and starts the scheduler. The
// caller stops it by cancelling ctx.
func (c *Controller) Schedule(ctx context.Context, autoStopSpec, metricsSpec, retentionSpec string) (*cron.Cron, error) {
	sched := cron.New()

	if _, err := sched.AddFunc(autoStopSpec, func() { c.RunAutoStopSweep(ctx) }); err != nil {
		return nil, err
	}
	if _, err := sched.AddFunc(metricsSpec, func() { c.RunMetricsCollection(ctx) }); err != nil {
		return nil, err
	}
	if _, err := sched.AddFunc(retentionSpec, func() { c.RunMetricsRetention(ctx) }); err != nil {
		return nil, err
	}

	sched.Start()
	go func() {
		<-ctx.Done()
		<-sched.Stop().Done()
	}()
	return sched, nil
}

// SweepSummary reports the outcome of one auto-stop sweep, for logging and
// (optionally) an ops notification.
type SweepSummary struct {
	Scanned int
	Stopped []string
	Errors  map[string]error
}

// RunAutoStopSweep stops every running workspace whose idle time exceeds its
// auto_stop_hours threshold (spec §4.5). Per-workspace errors are isolated —
// one failing workspace never aborts the sweep.
func (c *Controller) RunAutoStopSweep(ctx context.Context) SweepSummary {
	telemetry.AutoStopSweepsTotal.Inc()
	summary := SweepSummary{Errors: map[string]error{}}

	candidates, err := c.Workspaces.ListAutoStopCandidates(ctx)
	if err != nil {
		c.Logger.Error("auto-stop sweep: listing candidates", "error", err)
		return summary
	}
	summary.Scanned = len(candidates)

	now := time.Now()
	for _, ws := range candidates {
		idleSince := ws.LastAccessedAt
		if idleSince == nil {
			idleSince = ws.LastStartedAt
		}
		if idleSince == nil {
			continue
		}
		idleHours := now.Sub(*idleSince).Hours()
		if idleHours < float64(ws.AutoStopHours) {
			continue
		}

		if _, err := c.Provisioner.Stop(ctx, ws.ID); err != nil {
			c.Logger.Error("auto-stop: stopping workspace", "workspace_id", ws.ID, "error", err)
			summary.Errors[ws.ID.String()] = err
			continue
		}
		telemetry.AutoStoppedTotal.Inc()
		summary.Stopped = append(summary.Stopped, ws.ID.String())
		c.Logger.Info("auto-stopped idle workspace", "workspace_id", ws.ID, "idle_hours", idleHours)
	}

	if len(summary.Stopped) > 0 || len(summary.Errors) > 0 {
		c.Notifier.NotifyAutoStopSweep(ctx, len(summary.Stopped), len(summary.Errors))
	}
	return summary
}

// RunMetricsRetention deletes metrics rows older than RetentionDays (spec §4.5).
func (c *Controller) RunMetricsRetention(ctx context.Context) {
	if c.RetentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -c.RetentionDays)
	deleted, err := c.Metrics.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		c.Logger.Error("metrics retention: deleting old rows", "error", err)
		return
	}
	c.Logger.Info("metrics retention swept", "deleted_rows", deleted, "cutoff", cutoff)
}
