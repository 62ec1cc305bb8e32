// internal/metrics/prometheus.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"hostwatch/internal/store"
)

// Prometheus metrics
var (
	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hostwatch_probe_duration_seconds",
			Help:    "Time spent probing hosts",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host", "outcome"},
	)

	ProbeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostwatch_probes_total",
			Help: "Total number of probes executed",
		},
		[]string{"host", "outcome"},
	)

	HostStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hostwatch_host_status",
			Help: "Current status of hosts (0=online, 1=waiting, 2=offline, 3=maintenance)",
		},
		[]string{"host", "group"},
	)

	HostsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hostwatch_hosts_total",
			Help: "Number of monitored hosts by status",
		},
		[]string{"status"},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hostwatch_cycle_duration_seconds",
			Help:    "Duration of one full monitoring cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostwatch_cycles_total",
			Help: "Total number of monitoring cycles by result",
		},
		[]string{"result"}, // completed, interrupted
	)

	NewlyOfflineTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hostwatch_newly_offline_total",
			Help: "Total hosts that transitioned to offline",
		},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hostwatch_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)
)

type Collector struct {
	store *store.Store
}

func NewCollector(st *store.Store) *Collector {
	return &Collector{store: st}
}

func (c *Collector) RecordProbe(host, outcome string, duration time.Duration) {
	ProbeDuration.WithLabelValues(host, outcome).Observe(duration.Seconds())
	ProbeTotal.WithLabelValues(host, outcome).Inc()
}

func (c *Collector) UpdateHostStatus(host, group string, status store.Status) {
	HostStatus.WithLabelValues(host, group).Set(float64(statusValue(status)))
}

func (c *Collector) RecordCycle(duration time.Duration, interrupted bool) {
	result := "completed"
	if interrupted {
		result = "interrupted"
	} else {
		CycleDuration.Observe(duration.Seconds())
	}
	CyclesTotal.WithLabelValues(result).Inc()
}

func (c *Collector) RecordNewlyOffline(count int) {
	NewlyOfflineTotal.Add(float64(count))
}

func (c *Collector) RecordWebSocketConnection(delta int) {
	WebSocketConnections.Add(float64(delta))
}

// UpdateSystemMetrics refreshes the per-status host gauges from the store.
func (c *Collector) UpdateSystemMetrics() {
	stats := c.store.Stats()
	for _, status := range []store.Status{
		store.StatusOnline, store.StatusWaiting, store.StatusOffline, store.StatusMaintenance,
	} {
		HostsTotal.WithLabelValues(statusLabel(status)).Set(float64(stats[status]))
	}
}

func statusValue(status store.Status) int {
	switch status {
	case store.StatusOnline:
		return 0
	case store.StatusWaiting:
		return 1
	case store.StatusOffline:
		return 2
	default:
		return 3
	}
}

func statusLabel(status store.Status) string {
	switch status {
	case store.StatusOnline:
		return "online"
	case store.StatusWaiting:
		return "waiting"
	case store.StatusOffline:
		return "offline"
	default:
		return "maintenance"
	}
}
