// internal/store/store.go - In-memory host repository, single source of truth
package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrDuplicateID is returned by Add when the id is already present.
	ErrDuplicateID = errors.New("host id already exists")
	// ErrClosed is returned by mutators after Close.
	ErrClosed = errors.New("store is closed")
)

// StatusUpdate is one entry of a bulk status write.
type StatusUpdate struct {
	HostID         string
	Status         Status
	UnhealthySince *time.Time
}

// Store is a thread-safe map of monitored hosts. All reads return copies,
// so no caller ever observes a half-written record. Mutations are
// serialized by a single lock scoped to the map change; events are queued
// under that lock (so delivery order matches mutation order) and delivered
// by a dedicated dispatcher goroutine, which lets handlers re-enter the
// store without deadlocking.
type Store struct {
	mu     sync.RWMutex
	hosts  map[string]*Host
	closed bool

	qmu      sync.Mutex
	qcond    *sync.Cond
	queue    []Event
	stopping bool
	done     chan struct{}

	handlers []EventHandler
	hmu      sync.RWMutex

	now func() time.Time
}

func New() *Store {
	s := &Store{
		hosts: make(map[string]*Host),
		done:  make(chan struct{}),
		now:   time.Now,
	}
	s.qcond = sync.NewCond(&s.qmu)
	go s.dispatch()
	return s
}

// Subscribe registers a handler for all subsequent events.
func (s *Store) Subscribe(h EventHandler) {
	s.hmu.Lock()
	s.handlers = append(s.handlers, h)
	s.hmu.Unlock()
}

func (s *Store) dispatch() {
	defer close(s.done)
	for {
		s.qmu.Lock()
		for len(s.queue) == 0 && !s.stopping {
			s.qcond.Wait()
		}
		if len(s.queue) == 0 && s.stopping {
			s.qmu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.qmu.Unlock()

		s.hmu.RLock()
		handlers := s.handlers
		s.hmu.RUnlock()
		for _, h := range handlers {
			h(ev)
		}
	}
}

// Close stops event delivery after draining queued events. Mutations after
// Close are rejected.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.qmu.Lock()
	s.stopping = true
	s.qmu.Unlock()
	s.qcond.Signal()
	<-s.done
	logrus.Debug("host store closed")
}

// emit queues an event for the dispatcher. Callers must hold the write
// lock, which is what guarantees FIFO ordering across concurrent mutators.
// The queue is unbounded so a slow subscriber can never stall a mutation
// or deadlock against the map lock.
func (s *Store) emit(ev Event) {
	s.qmu.Lock()
	s.queue = append(s.queue, ev)
	s.qmu.Unlock()
	s.qcond.Signal()
}

// Get returns a copy of the host with the given id.
func (s *Store) Get(id string) (Host, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hosts[id]
	if !ok {
		return Host{}, false
	}
	return *h, true
}

// GetAll returns copies of every host, ordered by status then name.
func (s *Store) GetAll() []Host {
	s.mu.RLock()
	out := make([]Host, 0, len(s.hosts))
	for _, h := range s.hosts {
		out = append(out, *h)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Status != out[j].Status {
			return out[i].Status < out[j].Status
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// GetByIDs returns copies of the hosts that exist, skipping unknown ids.
func (s *Store) GetByIDs(ids []string) []Host {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Host, 0, len(ids))
	for _, id := range ids {
		if h, ok := s.hosts[id]; ok {
			out = append(out, *h)
		}
	}
	return out
}

// Count returns the number of hosts.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hosts)
}

// Stats returns host counts per status.
func (s *Store) Stats() map[Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := make(map[Status]int, 4)
	for _, h := range s.hosts {
		stats[h.Status]++
	}
	return stats
}

// Load seeds the store, replacing any existing content. Meant for startup;
// emits a single HostsLoaded event.
func (s *Store) Load(hosts []Host) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.hosts = make(map[string]*Host, len(hosts))
	for i := range hosts {
		h := hosts[i]
		s.hosts[h.ID] = &h
	}
	loaded := make([]Host, len(hosts))
	copy(loaded, hosts)
	s.emit(Event{Type: EventHostsLoaded, Hosts: loaded})
	s.mu.Unlock()
	return nil
}

// Add inserts a new host. Fails with ErrDuplicateID if the id is taken,
// leaving the existing record untouched.
func (s *Store) Add(h Host) error {
	h.Normalize()
	if err := h.Validate(); err != nil {
		return err
	}
	now := s.now()
	h.CreatedAt = now
	h.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, exists := s.hosts[h.ID]; exists {
		return ErrDuplicateID
	}
	s.hosts[h.ID] = &h
	added := h
	s.emit(Event{Type: EventHostAdded, Host: &added})
	return nil
}

// Update replaces a host's metadata, preserving the state-machine fields
// owned by the engine. Unknown ids are inserted, as an upsert.
func (s *Store) Update(h Host) error {
	h.Normalize()
	if err := h.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	existing, ok := s.hosts[h.ID]
	if !ok {
		now := s.now()
		h.CreatedAt = now
		h.UpdatedAt = now
		s.hosts[h.ID] = &h
		added := h
		s.emit(Event{Type: EventHostAdded, Host: &added})
		return nil
	}

	old := *existing
	h.Status = existing.Status
	h.UnhealthySince = existing.UnhealthySince
	h.LastSeen = existing.LastSeen
	h.CreatedAt = existing.CreatedAt
	h.UpdatedAt = s.now()
	s.hosts[h.ID] = &h
	updated := h
	s.emit(Event{Type: EventHostUpdated, Host: &updated, OldHost: &old})
	return nil
}

// UpdateStatus is the narrow write path used by the monitoring engine.
// An ONLINE write with a nil unhealthySince is a confirmed-healthy write:
// it clears the episode and advances LastSeen. An ONLINE write carrying a
// timestamp keeps it (first failure inside the grace period). A
// StatusChanged event fires only when the status actually changed; an
// applied write that leaves the status alone emits HostsTouched instead,
// so the timestamps still reach persistence. Returns true when a
// transition happened.
func (s *Store) UpdateStatus(id string, status Status, unhealthySince *time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	t, changed, applied := s.applyStatus(id, status, unhealthySince)
	if !applied {
		return false
	}
	if !changed {
		s.emit(Event{Type: EventHostsTouched, Hosts: []Host{*s.hosts[id]}})
		return false
	}
	s.emit(Event{Type: EventStatusChanged, Transition: &t})
	return true
}

// BulkUpdateStatus applies many status writes atomically with respect to
// readers. Real transitions go out in one batch event; applied writes that
// left the status alone go out in one HostsTouched event.
func (s *Store) BulkUpdateStatus(updates []StatusUpdate) []StatusTransition {
	if len(updates) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	var transitions []StatusTransition
	var touched []Host
	for _, u := range updates {
		t, changed, applied := s.applyStatus(u.HostID, u.Status, u.UnhealthySince)
		if !applied {
			continue
		}
		if changed {
			transitions = append(transitions, t)
		} else {
			touched = append(touched, *s.hosts[u.HostID])
		}
	}
	if len(transitions) > 0 {
		s.emit(Event{Type: EventBatchStatusChanged, Transitions: transitions})
	}
	if len(touched) > 0 {
		s.emit(Event{Type: EventHostsTouched, Hosts: touched})
	}
	return transitions
}

// applyStatus writes one status record. Caller holds the write lock.
// Returns the transition, whether the status actually changed, and whether
// the write applied at all (the host exists).
func (s *Store) applyStatus(id string, status Status, unhealthySince *time.Time) (StatusTransition, bool, bool) {
	h, ok := s.hosts[id]
	if !ok {
		return StatusTransition{}, false, false
	}
	old := h.Status
	now := s.now()
	h.UpdatedAt = now
	if status == StatusOnline && unhealthySince == nil {
		// Confirmed-healthy write: clear the episode and advance last_seen.
		// An ONLINE write that carries a timestamp is the grace-period case
		// (first failure, threshold not yet crossed) and must keep it, or
		// the elapsed-time clock would restart every cycle.
		h.UnhealthySince = nil
		seen := now
		h.LastSeen = &seen
	} else {
		h.UnhealthySince = unhealthySince
	}
	if old == status {
		return StatusTransition{}, false, true
	}
	h.Status = status
	return StatusTransition{HostID: id, OldStatus: old, NewStatus: status}, true, true
}

// ReleaseMaintenance moves a MAINTENANCE host back into rotation. The host
// re-enters as ONLINE but LastSeen and UnhealthySince stay where they are:
// the next probe, not the release, decides its real state. Returns false
// when the host is missing or not in maintenance.
func (s *Store) ReleaseMaintenance(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	h, ok := s.hosts[id]
	if !ok || h.Status != StatusMaintenance {
		return false
	}
	h.Status = StatusOnline
	h.UpdatedAt = s.now()
	t := StatusTransition{HostID: id, OldStatus: StatusMaintenance, NewStatus: StatusOnline}
	s.emit(Event{Type: EventStatusChanged, Transition: &t})
	return true
}

// Delete removes a host, returning the removed record.
func (s *Store) Delete(id string) (Host, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Host{}, false
	}
	h, ok := s.hosts[id]
	if !ok {
		return Host{}, false
	}
	removed := *h
	delete(s.hosts, id)
	s.emit(Event{Type: EventHostDeleted, Host: &removed})
	return removed, true
}
