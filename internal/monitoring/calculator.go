// internal/monitoring/calculator.go - Status state machine
package monitoring

import (
	"time"

	"hostwatch/internal/store"
)

// Outcome is the result of one probe.
type Outcome int

const (
	OutcomeHealthy Outcome = iota
	OutcomeUnhealthy
	// OutcomeError marks a probe that failed to execute (DNS failure, raw
	// socket permission). The state machine treats it exactly like
	// OutcomeUnhealthy; the distinction exists for logging only.
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHealthy:
		return "healthy"
	case OutcomeUnhealthy:
		return "unhealthy"
	default:
		return "error"
	}
}

// heartbeatThrottle bounds how often a continuously healthy host produces a
// persisted last_seen update.
const heartbeatThrottle = 60 * time.Second

// Thresholds are the staged degradation timeouts. WaitingTimeout must be
// below OfflineTimeout; config validation enforces it.
type Thresholds struct {
	WaitingTimeout time.Duration
	OfflineTimeout time.Duration
}

// Decision is the outcome of one status calculation.
type Decision struct {
	Status         store.Status
	UnhealthySince *time.Time
	Persist        bool
}

// Calculate maps (current host state, probe outcome, now) to the next state.
// Pure: no clocks, no I/O, no mutation of host.
//
// A single failed probe never degrades the host immediately. Degradation is
// staged ONLINE -> WAITING -> OFFLINE strictly by time elapsed since the
// first failure, and one healthy probe clears everything. MAINTENANCE wins
// over any outcome.
func Calculate(host store.Host, outcome Outcome, now time.Time, th Thresholds) Decision {
	if host.Status == store.StatusMaintenance {
		return Decision{Status: host.Status, UnhealthySince: host.UnhealthySince}
	}

	if outcome == OutcomeHealthy {
		if host.Status != store.StatusOnline {
			return Decision{Status: store.StatusOnline, Persist: true}
		}
		// Already online: persist only to refresh a stale last_seen.
		if host.LastSeen == nil || now.Sub(*host.LastSeen) > heartbeatThrottle {
			return Decision{Status: store.StatusOnline, Persist: true}
		}
		return Decision{Status: store.StatusOnline}
	}

	// Unhealthy or probe error.
	since := host.UnhealthySince
	persist := false
	if since == nil || since.IsZero() || since.After(now) {
		// First failure of this episode, or a corrupt persisted timestamp:
		// restart the episode from now.
		t := now
		since = &t
		persist = true
	}

	target := host.Status
	elapsed := now.Sub(*since)
	switch {
	case elapsed >= th.OfflineTimeout:
		target = store.StatusOffline
	case elapsed >= th.WaitingTimeout:
		target = store.StatusWaiting
	}
	if target != host.Status {
		persist = true
	}

	return Decision{Status: target, UnhealthySince: since, Persist: persist}
}
