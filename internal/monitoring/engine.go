// internal/monitoring/engine.go
package monitoring

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"hostwatch/internal/config"
	"hostwatch/internal/metrics"
	"hostwatch/internal/notifications"
	"hostwatch/internal/store"
)

// Engine wires the prober, cycle controller and notifiers together and owns
// their lifecycle.
type Engine struct {
	config     *config.Config
	store      *store.Store
	metrics    *metrics.Collector
	controller *Controller
	pushover   *notifications.PushoverClient

	mu      sync.RWMutex
	running bool
}

func NewEngine(cfg *config.Config, st *store.Store, metricsCollector *metrics.Collector) (*Engine, error) {
	engine := &Engine{
		config:  cfg,
		store:   st,
		metrics: metricsCollector,
	}

	notifier := notifications.Multi{notifications.LogNotifier{}}
	if cfg.Notifications.Enabled && cfg.Notifications.Pushover.Enabled {
		engine.pushover = notifications.NewPushoverClient(cfg.Notifications.Pushover)
		notifier = append(notifier, engine.pushover)
		logrus.Info("Pushover notifications enabled")
	}

	prober := NewPingProber(cfg.Monitoring.ProbeTimeout, cfg.Monitoring.Privileged)
	engine.controller = NewController(st, prober, notifier, metricsCollector, cfg.Monitoring)

	return engine, nil
}

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.mu.Unlock()

	logrus.Info("Starting monitoring engine")

	if err := e.seedHosts(); err != nil {
		logrus.WithError(err).Error("Failed to seed hosts from config")
		return err
	}

	e.store.Subscribe(e.controller.HandleStoreEvent)
	return e.controller.Start(ctx)
}

func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	logrus.Info("Stopping monitoring engine")
	e.controller.Stop()
}

// ForceScan requests an immediate scan cycle.
func (e *Engine) ForceScan() {
	e.controller.ForceScan()
}

// Interrupt abandons the in-flight cycle and restarts it against a fresh
// host snapshot.
func (e *Engine) Interrupt() {
	e.controller.Interrupt()
}

// UpdateConfig applies new monitoring parameters at runtime.
func (e *Engine) UpdateConfig(m config.MonitoringConfig) error {
	return e.controller.UpdateConfig(m)
}

// MonitoringConfig returns the active monitoring parameters.
func (e *Engine) MonitoringConfig() config.MonitoringConfig {
	return e.controller.Config()
}

// seedHosts merges config-declared hosts into the store. Hosts already
// present (by id, or by address for id-less seeds) keep their runtime state.
func (e *Engine) seedHosts() error {
	existing := e.store.GetAll()
	byID := make(map[string]bool, len(existing))
	byAddress := make(map[string]bool, len(existing))
	for _, h := range existing {
		byID[h.ID] = true
		byAddress[h.Address] = true
	}

	added := 0
	for _, seed := range e.config.Hosts {
		if seed.ID != "" && byID[seed.ID] {
			continue
		}
		if seed.ID == "" && byAddress[seed.Address] {
			continue
		}

		host := store.Host{
			ID:                   seed.ID,
			Name:                 seed.Name,
			Address:              seed.Address,
			Group:                seed.Group,
			Location:             seed.Location,
			NotificationsEnabled: true,
		}
		if seed.NotificationsEnabled != nil {
			host.NotificationsEnabled = *seed.NotificationsEnabled
		}

		if err := e.store.Add(host); err != nil {
			logrus.WithError(err).WithField("host", seed.Name).Error("Failed to add seed host")
			continue
		}
		added++
	}

	if added > 0 {
		logrus.WithField("count", added).Info("Seeded hosts from config")
	}
	return nil
}

// TestPushover sends a test notification to verify credentials.
func (e *Engine) TestPushover(ctx context.Context) error {
	if e.pushover == nil {
		return fmt.Errorf("pushover client not configured")
	}
	return e.pushover.TestConnection(ctx)
}

// NotificationStatus reports which notification channels are active.
func (e *Engine) NotificationStatus() map[string]interface{} {
	return map[string]interface{}{
		"notifications_enabled": e.config.Notifications.Enabled,
		"pushover_enabled":      e.config.Notifications.Pushover.Enabled,
		"pushover_configured":   e.pushover != nil,
	}
}
