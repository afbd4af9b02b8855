package lifecycle

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/wisbric/forgehost/internal/telemetry"
	"github.com/wisbric/forgehost/pkg/provision"
	"github.com/wisbric/forgehost/pkg/store"
)

// RunMetricsCollection samples CPU/memory/process-count for every running
// workspace and derives uptime from the systemd unit's ActiveEnterTimestamp
// (spec §4.5). One failing workspace does not abort the pass.
func (c *Controller) RunMetricsCollection(ctx context.Context) {
	running, err := c.Workspaces.ListRunning(ctx)
	if err != nil {
		c.Logger.Error("metrics collection: listing running workspaces", "error", err)
		telemetry.MetricsCollectionErrorsTotal.Inc()
		return
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		c.Logger.Error("metrics collection: enumerating processes", "error", err)
		telemetry.MetricsCollectionErrorsTotal.Inc()
		return
	}

	now := time.Now()
	for _, ws := range running {
		sample, err := collectWorkspaceSample(ctx, ws, procs)
		if err != nil {
			c.Logger.Error("metrics collection: sampling workspace", "workspace_id", ws.ID, "error", err)
			telemetry.MetricsCollectionErrorsTotal.Inc()
			continue
		}
		sample.CollectedAt = now
		if err := c.Metrics.Insert(ctx, sample); err != nil {
			c.Logger.Error("metrics collection: persisting sample", "workspace_id", ws.ID, "error", err)
			telemetry.MetricsCollectionErrorsTotal.Inc()
		}
	}
}

// collectWorkspaceSample aggregates every process owned by ws's Linux
// account into (cpu%, rss_mb, process_count), and derives uptime from the
// systemd unit's ActiveEnterTimestamp (spec §4.5).
func collectWorkspaceSample(ctx context.Context, ws store.Workspace, procs []*process.Process) (store.WorkspaceMetrics, error) {
	sample := store.WorkspaceMetrics{WorkspaceID: ws.ID}

	var totalCPU float64
	var totalRSS uint64
	var count int
	for _, p := range procs {
		username, err := p.UsernameWithContext(ctx)
		if err != nil || username != ws.LinuxUsername {
			continue
		}
		count++
		if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
			totalCPU += cpu
		}
		if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
			totalRSS += mem.RSS
		}
	}
	sample.ProcessCount = count
	sample.CPUPercent = totalCPU
	sample.MemoryMB = float64(totalRSS) / (1024 * 1024)

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm.Total > 0 {
		totalMB := float64(vm.Total) / (1024 * 1024)
		sample.MemoryPercent = (sample.MemoryMB / totalMB) * 100
	}

	unit := provision.ServiceName(ws.LinuxUsername)
	if active, err := provision.SystemctlShowProperty(ctx, unit, "ActiveEnterTimestamp"); err == nil {
		if enteredAt, err := parseSystemdTimestamp(active); err == nil {
			sample.UptimeSeconds = int64(time.Since(enteredAt).Seconds())
		}
	}

	return sample, nil
}

// parseSystemdTimestamp parses the "ActiveEnterTimestamp" value systemctl
// show reports, e.g. "Tue 2026-08-01 10:15:03 UTC".
func parseSystemdTimestamp(s string) (time.Time, error) {
	return time.Parse("Mon 2006-01-02 15:04:05 MST", s)
}
