// internal/monitoring/controller.go - Cycle controller and probe worker pool
package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hostwatch/internal/config"
	"hostwatch/internal/metrics"
	"hostwatch/internal/notifications"
	"hostwatch/internal/store"
)

const (
	jobQueueSize  = 1000
	stopTimeout   = 10 * time.Second
	notifyTimeout = 30 * time.Second
)

type probeJob struct {
	host    store.Host
	timeout time.Duration
	results chan<- probeResult
}

type probeResult struct {
	host     store.Host
	outcome  Outcome
	duration time.Duration
}

type worker struct {
	id     int
	prober Prober
	jobs   <-chan probeJob
	quit   chan struct{}
}

func (w *worker) start() {
	for {
		select {
		case job := <-w.jobs:
			w.execute(job)
		case <-w.quit:
			return
		}
	}
}

func (w *worker) stop() {
	close(w.quit)
}

func (w *worker) execute(job probeJob) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), job.timeout)
	outcome := w.prober.Probe(ctx, job.host.Address)
	cancel()

	// The per-cycle results channel is sized for every dispatched job, so
	// this send never blocks, even after the cycle has been abandoned.
	job.results <- probeResult{host: job.host, outcome: outcome, duration: time.Since(start)}
}

// Controller runs the monitoring loop: snapshot the store, fan probes out
// over a bounded worker pool, fold the unordered completions through the
// status calculator, and write the surviving changes back in one batch.
// Between cycles it cools for the poll interval, waking early on ForceScan,
// Interrupt or shutdown.
type Controller struct {
	store    *store.Store
	prober   Prober
	notifier notifications.Notifier
	metrics  *metrics.Collector

	mu      sync.RWMutex
	cfg     config.MonitoringConfig
	workers []*worker
	running bool

	jobs      chan probeJob
	forceScan chan struct{}
	interrupt chan struct{}
	stopC     chan struct{}
	loopDone  chan struct{}
	stopOnce  sync.Once
}

func NewController(st *store.Store, prober Prober, notifier notifications.Notifier, mc *metrics.Collector, cfg config.MonitoringConfig) *Controller {
	return &Controller{
		store:     st,
		prober:    prober,
		notifier:  notifier,
		metrics:   mc,
		cfg:       cfg,
		jobs:      make(chan probeJob, jobQueueSize),
		forceScan: make(chan struct{}, 1),
		interrupt: make(chan struct{}, 1),
		stopC:     make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
}

func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.resizeWorkersLocked(c.cfg.MaxWorkers)
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"poll_interval": c.cfg.PollInterval,
		"workers":       c.cfg.MaxWorkers,
	}).Info("Starting monitor loop")

	go c.run(ctx)
	return nil
}

// Stop shuts the loop down, waiting a bounded time for the current cycle to
// finish before abandoning it. Safe to call more than once.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	logrus.Info("Stopping monitor loop")
	c.stopOnce.Do(func() { close(c.stopC) })

	select {
	case <-c.loopDone:
	case <-time.After(stopTimeout):
		logrus.Warn("Timed out waiting for monitor loop, abandoning in-flight probes")
	}

	c.mu.Lock()
	c.stopWorkersLocked()
	c.mu.Unlock()
}

// ForceScan requests an immediate re-scan, skipping the rest of the current
// cooling period. No-op if a scan is already pending.
func (c *Controller) ForceScan() {
	select {
	case c.forceScan <- struct{}{}:
	default:
	}
}

// Interrupt aborts the current cycle's result processing (nothing partial
// is written) and restarts scanning against a fresh snapshot. Raised on
// structural host changes.
func (c *Controller) Interrupt() {
	select {
	case c.interrupt <- struct{}{}:
	default:
	}
}

// HandleStoreEvent watches for structural changes that invalidate the
// current cycle's snapshot. Registered as a store subscriber.
func (c *Controller) HandleStoreEvent(ev store.Event) {
	switch ev.Type {
	case store.EventHostAdded, store.EventHostDeleted:
		c.Interrupt()
	case store.EventHostUpdated:
		if ev.OldHost == nil || ev.Host == nil {
			return
		}
		if ev.OldHost.Address != ev.Host.Address ||
			ev.OldHost.NotificationsEnabled != ev.Host.NotificationsEnabled {
			c.Interrupt()
		}
	}
}

// UpdateConfig replaces the monitoring parameters at runtime. The worker
// pool is resized in place; queued probe jobs carry over to the new
// workers. Timeout changes apply from the next status calculation.
func (c *Controller) UpdateConfig(m config.MonitoringConfig) error {
	if err := config.ValidateMonitoring(&m); err != nil {
		return err
	}

	c.mu.Lock()
	old := c.cfg
	c.cfg = m
	if c.running && m.MaxWorkers != old.MaxWorkers {
		c.resizeWorkersLocked(m.MaxWorkers)
	}
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"poll_interval":   m.PollInterval,
		"waiting_timeout": m.WaitingTimeout,
		"offline_timeout": m.OfflineTimeout,
		"workers":         m.MaxWorkers,
	}).Info("Monitoring configuration updated")
	return nil
}

// Config returns the current monitoring parameters.
func (c *Controller) Config() config.MonitoringConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// resizeWorkersLocked replaces the pool. Old workers finish their current
// probe before exiting; the shared job queue is not drained, so pending
// jobs are picked up by the new workers. Caller holds mu.
func (c *Controller) resizeWorkersLocked(count int) {
	c.stopWorkersLocked()
	c.workers = make([]*worker, count)
	for i := 0; i < count; i++ {
		w := &worker{
			id:     i,
			prober: c.prober,
			jobs:   c.jobs,
			quit:   make(chan struct{}),
		}
		c.workers[i] = w
		go w.start()
	}
	logrus.WithField("workers", count).Debug("Probe worker pool sized")
}

func (c *Controller) stopWorkersLocked() {
	for _, w := range c.workers {
		w.stop()
	}
	c.workers = nil
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.loopDone)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopC:
			return
		default:
		}

		start := time.Now()
		interrupted := c.runCycle(ctx)
		if c.metrics != nil {
			c.metrics.RecordCycle(time.Since(start), interrupted)
		}
		if interrupted {
			logrus.Info("Cycle interrupted, rescanning immediately")
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-c.stopC:
			return
		case <-c.forceScan:
			logrus.Debug("Forced scan requested")
		case <-c.interrupt:
			logrus.Debug("Cooling interrupted by structural change")
		case <-time.After(c.Config().PollInterval):
		}
	}
}

// runCycle executes one snapshot -> probe -> recompute -> write pass.
// Returns true when the cycle was abandoned by Interrupt.
func (c *Controller) runCycle(ctx context.Context) bool {
	hosts := c.store.GetAll()
	if len(hosts) == 0 {
		return false
	}

	cfg := c.Config()
	th := Thresholds{WaitingTimeout: cfg.WaitingTimeout, OfflineTimeout: cfg.OfflineTimeout}

	results := make(chan probeResult, len(hosts))
	dispatched := 0
	for i := range hosts {
		if hosts[i].Status == store.StatusMaintenance {
			continue
		}
		select {
		case c.jobs <- probeJob{host: hosts[i], timeout: cfg.ProbeTimeout, results: results}:
			dispatched++
		case <-ctx.Done():
			return false
		case <-c.stopC:
			return false
		}
	}

	updates := make([]store.StatusUpdate, 0, dispatched)
	var newlyOffline []string

	for received := 0; received < dispatched; received++ {
		select {
		case res := <-results:
			decision := Calculate(res.host, res.outcome, time.Now(), th)
			if c.metrics != nil {
				c.metrics.RecordProbe(res.host.Name, res.outcome.String(), res.duration)
			}
			if decision.Persist {
				updates = append(updates, store.StatusUpdate{
					HostID:         res.host.ID,
					Status:         decision.Status,
					UnhealthySince: decision.UnhealthySince,
				})
			}
			if decision.Status == store.StatusOffline &&
				res.host.Status != store.StatusOffline &&
				res.host.NotificationsEnabled {
				newlyOffline = append(newlyOffline, res.host.Name)
			}
		case <-c.interrupt:
			return true
		case <-ctx.Done():
			return false
		case <-c.stopC:
			return false
		}
	}

	c.finishCycle(hosts, updates, newlyOffline)
	return false
}

func (c *Controller) finishCycle(snapshot []store.Host, updates []store.StatusUpdate, newlyOffline []string) {
	transitions := c.store.BulkUpdateStatus(updates)

	byID := make(map[string]store.Host, len(snapshot))
	for _, h := range snapshot {
		byID[h.ID] = h
	}
	for _, t := range transitions {
		h := byID[t.HostID]
		logrus.WithFields(logrus.Fields{
			"host": h.Name,
			"from": t.OldStatus,
			"to":   t.NewStatus,
		}).Info("Host status changed")
		if c.metrics != nil {
			c.metrics.UpdateHostStatus(h.Name, h.Group, t.NewStatus)
		}
	}

	if len(newlyOffline) == 0 {
		return
	}
	if c.metrics != nil {
		c.metrics.RecordNewlyOffline(len(newlyOffline))
	}
	if c.notifier != nil {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := c.notifier.NotifyOffline(ctx, newlyOffline); err != nil {
			logrus.WithError(err).Error("Failed to deliver offline notification")
		}
	}
}
