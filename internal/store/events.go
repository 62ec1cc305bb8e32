// internal/store/events.go
package store

// EventType identifies a store change event.
type EventType string

const (
	EventHostAdded          EventType = "host_added"
	EventHostUpdated        EventType = "host_updated"
	EventHostDeleted        EventType = "host_deleted"
	EventStatusChanged      EventType = "status_changed"
	EventBatchStatusChanged EventType = "batch_status_changed"
	EventHostsTouched       EventType = "hosts_touched"
	EventHostsLoaded        EventType = "hosts_loaded"
)

// StatusTransition records one host's status change.
type StatusTransition struct {
	HostID    string `json:"host_id"`
	OldStatus Status `json:"old_status"`
	NewStatus Status `json:"new_status"`
}

// Event is delivered to subscribers in mutation order. Host fields are
// copies; handlers may keep or mutate them freely. HostsTouched carries
// hosts whose timestamps moved without a status transition (heartbeat
// last_seen refreshes, the first-failure grace write) so persistence
// observers still see them.
type Event struct {
	Type        EventType          `json:"type"`
	Host        *Host              `json:"host,omitempty"`
	OldHost     *Host              `json:"old_host,omitempty"`
	Transition  *StatusTransition  `json:"transition,omitempty"`
	Transitions []StatusTransition `json:"transitions,omitempty"`
	Hosts       []Host             `json:"hosts,omitempty"`
}

// EventHandler receives store events on the dispatcher goroutine. Handlers
// may call back into the store; they must not block indefinitely or every
// later subscriber stalls behind them.
type EventHandler func(Event)
