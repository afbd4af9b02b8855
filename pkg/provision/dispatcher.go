package provision

import (
	"context"
	"sync"
	"time"

	"github.com/wisbric/forgehost/internal/telemetry"
	"github.com/wisbric/forgehost/pkg/store"
)

// provisionTimeout bounds a single async provisioning run, independent of
// any HTTP request deadline (spec §5 "the originating HTTP call returns
// immediately... bounded by a worker pool").
const provisionTimeout = 15 * time.Minute

type provisionJob struct {
	workspace store.Workspace
	company   store.Company
}

// Dispatcher runs workspace provisioning on a fixed-size pool of background
// goroutines, decoupling the OS side-effect chain (useradd, systemd, the
// Action Executor) from the HTTP request that triggered it. The request
// handler calls Provisioner.Reserve to persist the pending row and return a
// poll URL, then hands the reservation to Dispatcher.Submit.
type Dispatcher struct {
	provisioner *Provisioner
	jobs        chan provisionJob
	wg          sync.WaitGroup
}

const dispatcherQueueSize = 256

// NewDispatcher starts workers goroutines draining the job queue. workers
// must be at least 1.
func NewDispatcher(p *Provisioner, workers int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	d := &Dispatcher{
		provisioner: p,
		jobs:        make(chan provisionJob, dispatcherQueueSize),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.jobs {
		telemetry.ProvisionQueueDepthGauge.Dec()
		ctx, cancel := context.WithTimeout(context.Background(), provisionTimeout)
		if _, err := d.provisioner.Provision(ctx, job.workspace, job.company); err != nil {
			d.provisioner.Logger.Error("async provisioning failed", "workspace_id", job.workspace.ID, "error", err)
		}
		cancel()
	}
}

// Submit enqueues a reserved workspace for provisioning. It blocks if the
// queue is already full — unlike the audit writer's drop-on-full behavior,
// dropping a provisioning job would leave a workspace stuck in "pending"
// forever, so backpressure is preferable to loss here.
func (d *Dispatcher) Submit(ws store.Workspace, company store.Company) {
	telemetry.ProvisionQueueDepthGauge.Inc()
	d.jobs <- provisionJob{workspace: ws, company: company}
}

// Close stops accepting new jobs and waits for in-flight provisioning runs
// to finish.
func (d *Dispatcher) Close() {
	close(d.jobs)
	d.wg.Wait()
}
