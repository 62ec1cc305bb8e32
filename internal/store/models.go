// internal/store/models.go
package store

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the health state of a monitored host.
type Status string

const (
	StatusOnline      Status = "ONLINE"
	StatusWaiting     Status = "WAITING"
	StatusOffline     Status = "OFFLINE"
	StatusMaintenance Status = "MAINTENANCE"
)

// Valid reports whether s is one of the four known states.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusWaiting, StatusOffline, StatusMaintenance:
		return true
	}
	return false
}

// Host is a monitored endpoint. Status, UnhealthySince and LastSeen are
// written only by the monitoring engine; everything else is metadata owned
// by whoever created the record.
type Host struct {
	ID                   string     `json:"id" yaml:"id"`
	Address              string     `json:"address" yaml:"address"`
	Name                 string     `json:"name" yaml:"name"`
	Group                string     `json:"group" yaml:"group"`
	Location             string     `json:"location" yaml:"location"`
	Status               Status     `json:"status" yaml:"status"`
	UnhealthySince       *time.Time `json:"unhealthy_since,omitempty" yaml:"unhealthy_since,omitempty"`
	LastSeen             *time.Time `json:"last_seen,omitempty" yaml:"last_seen,omitempty"`
	NotificationsEnabled bool       `json:"notifications_enabled" yaml:"notifications_enabled"`
	CreatedAt            time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" yaml:"updated_at"`
}

const (
	maxNameLen     = 100
	maxGroupLen    = 50
	maxLocationLen = 200
)

// Validate checks the host's identity and metadata fields. It does not touch
// the state-machine fields, which belong to the engine.
func (h *Host) Validate() error {
	if h.Name == "" {
		return fmt.Errorf("host name is required")
	}
	if len(h.Name) > maxNameLen {
		return fmt.Errorf("host name too long (max %d characters)", maxNameLen)
	}
	if len(h.Group) > maxGroupLen {
		return fmt.Errorf("group name too long (max %d characters)", maxGroupLen)
	}
	if len(h.Location) > maxLocationLen {
		return fmt.Errorf("location too long (max %d characters)", maxLocationLen)
	}
	if !ValidAddress(h.Address) {
		return fmt.Errorf("invalid IP address or hostname: %q", h.Address)
	}
	if h.Status != "" && !h.Status.Valid() {
		return fmt.Errorf("unknown status: %q", h.Status)
	}
	return nil
}

// Normalize fills generated and defaulted fields on a new record.
func (h *Host) Normalize() {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	if h.Status == "" {
		h.Status = StatusOnline
	}
	h.Address = strings.TrimSpace(h.Address)
}

var hostnameLabel = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

// ValidAddress accepts a dotted-quad IPv4 literal or an RFC-1035 style
// hostname. Stricter than net.ParseIP on purpose: octets with leading
// zeros are rejected rather than reinterpreted.
func ValidAddress(address string) bool {
	address = strings.TrimSpace(address)
	if address == "" || len(address) > 253 {
		return false
	}
	if looksLikeIPv4(address) {
		return validIPv4(address)
	}
	return validHostname(address)
}

func looksLikeIPv4(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return strings.Contains(s, ".")
}

func validIPv4(ip string) bool {
	if len(ip) > 15 {
		return false
	}
	octets := strings.Split(ip, ".")
	if len(octets) != 4 {
		return false
	}
	for _, oct := range octets {
		if oct == "" || len(oct) > 3 {
			return false
		}
		if len(oct) > 1 && oct[0] == '0' {
			return false
		}
		n, err := strconv.Atoi(oct)
		if err != nil || n < 0 || n > 255 {
			return false
		}
	}
	return true
}

func validHostname(name string) bool {
	labels := strings.Split(name, ".")
	if len(labels) < 2 || len(labels) > 127 {
		return false
	}
	for _, label := range labels {
		if label == "" || len(label) > 63 {
			return false
		}
		if !hostnameLabel.MatchString(label) {
			return false
		}
	}
	return true
}

// OfflineDuration returns how long the host has been unhealthy, or zero.
func (h *Host) OfflineDuration(now time.Time) time.Duration {
	if h.UnhealthySince == nil {
		return 0
	}
	d := now.Sub(*h.UnhealthySince)
	if d < 0 {
		return 0
	}
	return d
}

// FormatOfflineTime renders an unhealthy duration for API payloads.
func FormatOfflineTime(d time.Duration) string {
	total := int(d.Seconds())
	if total <= 0 {
		return ""
	}
	hours := total / 3600
	minutes := (total % 3600) / 60
	switch {
	case hours > 0:
		return fmt.Sprintf("%02d:%02d", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	default:
		return "<1m"
	}
}
