// internal/database/persister.go
package database

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"hostwatch/internal/store"
)

// writeTimeout bounds a single persistence write triggered by a store event.
const writeTimeout = 5 * time.Second

// Persister mirrors store changes into durable storage. It subscribes to the
// store's event feed so every mutation path (API, monitoring cycle, seeding)
// reaches disk without the mutators knowing about the database. Write
// failures are logged and swallowed: the in-memory store stays authoritative
// and monitoring must not stall on a bad disk.
type Persister struct {
	store *store.Store
	db    Persistence
}

// NewPersister wires a persister to the given store and backing database.
// Call store.Subscribe(p.HandleStoreEvent) to activate it.
func NewPersister(st *store.Store, db Persistence) *Persister {
	return &Persister{store: st, db: db}
}

// HandleStoreEvent persists the change described by ev. It runs on the
// store's dispatcher goroutine, so writes here serialize naturally in
// mutation order.
func (p *Persister) HandleStoreEvent(ev store.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	switch ev.Type {
	case store.EventHostAdded, store.EventHostUpdated:
		if ev.Host == nil {
			return
		}
		if err := p.db.SaveHost(ctx, *ev.Host); err != nil {
			logrus.WithFields(logrus.Fields{
				"host_id": ev.Host.ID,
				"error":   err,
			}).Error("Failed to persist host")
		}

	case store.EventHostDeleted:
		if ev.Host == nil {
			return
		}
		if err := p.db.DeleteHost(ctx, ev.Host.ID); err != nil {
			logrus.WithFields(logrus.Fields{
				"host_id": ev.Host.ID,
				"error":   err,
			}).Error("Failed to delete persisted host")
		}

	case store.EventStatusChanged:
		if ev.Transition == nil {
			return
		}
		p.saveByIDs(ctx, []string{ev.Transition.HostID})

	case store.EventBatchStatusChanged:
		ids := make([]string, 0, len(ev.Transitions))
		for _, t := range ev.Transitions {
			ids = append(ids, t.HostID)
		}
		p.saveByIDs(ctx, ids)

	case store.EventHostsTouched:
		// Timestamp-only writes: heartbeat last_seen refreshes and the
		// first-failure grace timestamp. No transition, but the row moved.
		ids := make([]string, 0, len(ev.Hosts))
		for _, h := range ev.Hosts {
			ids = append(ids, h.ID)
		}
		p.saveByIDs(ctx, ids)

	case store.EventHostsLoaded:
		// Seeded or replaced wholesale; write the full set in one
		// transaction so config-seeded hosts survive a restart.
		if err := p.db.SaveHosts(ctx, ev.Hosts); err != nil {
			logrus.WithField("error", err).Error("Failed to persist loaded hosts")
		}
	}
}

// saveByIDs rereads the named hosts from the store and writes their current
// records. Status events carry only transitions, and the store is the source
// of truth for the rest of the row.
func (p *Persister) saveByIDs(ctx context.Context, ids []string) {
	hosts := p.store.GetByIDs(ids)
	if len(hosts) == 0 {
		return
	}
	if err := p.db.SaveHosts(ctx, hosts); err != nil {
		logrus.WithFields(logrus.Fields{
			"count": len(hosts),
			"error": err,
		}).Error("Failed to persist status changes")
	}
}
