// internal/notifications/notifier.go
package notifications

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Notifier receives the names of hosts that transitioned to OFFLINE during
// one monitoring cycle. Called at most once per cycle, only when the list
// is non-empty. Delivery is best effort; the engine makes no assumption
// about success.
type Notifier interface {
	NotifyOffline(ctx context.Context, hostNames []string) error
}

// LogNotifier writes offline notifications to the log. Always available,
// regardless of external notification configuration.
type LogNotifier struct{}

func (LogNotifier) NotifyOffline(ctx context.Context, hostNames []string) error {
	logrus.WithFields(logrus.Fields{
		"count": len(hostNames),
		"hosts": hostNames,
	}).Warn("Hosts went offline")
	return nil
}

// Multi fans one notification out to several notifiers. Errors are logged
// and do not stop delivery to the remaining notifiers.
type Multi []Notifier

func (m Multi) NotifyOffline(ctx context.Context, hostNames []string) error {
	for _, n := range m {
		if err := n.NotifyOffline(ctx, hostNames); err != nil {
			logrus.WithError(err).Error("Notifier failed")
		}
	}
	return nil
}
