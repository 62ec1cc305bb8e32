// internal/monitoring/prober.go - ICMP connectivity checks
package monitoring

import (
	"context"
	"time"

	probing "github.com/go-ping/ping"
	"github.com/sirupsen/logrus"
)

// Prober executes one connectivity check against an address. Implementations
// never return errors: every failure mode collapses to OutcomeUnhealthy or
// OutcomeError, both of which the state machine treats as unhealthy.
type Prober interface {
	Probe(ctx context.Context, address string) Outcome
}

// PingProber probes hosts with ICMP echo. Privileged mode uses raw sockets
// (requires CAP_NET_RAW or root); unprivileged falls back to UDP ping,
// which Linux allows for ordinary users via net.ipv4.ping_group_range.
type PingProber struct {
	Timeout    time.Duration
	Privileged bool
}

func NewPingProber(timeout time.Duration, privileged bool) *PingProber {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &PingProber{Timeout: timeout, Privileged: privileged}
}

// timeoutFor resolves the per-probe timeout. The caller's context deadline
// wins when present; it carries the current probe_timeout, so runtime config
// changes take effect immediately. The constructor value is only a fallback
// for deadline-free callers.
func (p *PingProber) timeoutFor(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d
		}
	}
	return p.Timeout
}

func (p *PingProber) Probe(ctx context.Context, address string) Outcome {
	pinger, err := probing.NewPinger(address)
	if err != nil {
		// DNS resolution failure or malformed address.
		logrus.WithError(err).WithField("address", address).Debug("probe setup failed")
		return OutcomeError
	}

	pinger.Count = 1
	pinger.Timeout = p.timeoutFor(ctx)
	pinger.SetPrivileged(p.Privileged)

	done := make(chan error, 1)
	go func() { done <- pinger.Run() }()

	select {
	case <-ctx.Done():
		pinger.Stop()
		<-done
		return OutcomeUnhealthy
	case err := <-done:
		if err != nil {
			// Socket-level failure (permission denied, no route).
			logrus.WithError(err).WithField("address", address).Debug("probe failed to run")
			return OutcomeError
		}
	}

	if pinger.Statistics().PacketsRecv > 0 {
		return OutcomeHealthy
	}
	return OutcomeUnhealthy
}
