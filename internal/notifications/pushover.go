// internal/notifications/pushover.go - Pushover notification delivery
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hostwatch/internal/config"
)

const (
	PushoverAPIURL = "https://api.pushover.net/1/messages.json"
	UserAgent      = "Hostwatch Monitor/1.0"
)

// PushoverMessage is the payload of one Pushover API call.
type PushoverMessage struct {
	Token     string `json:"token"`
	User      string `json:"user"`
	Message   string `json:"message"`
	Title     string `json:"title,omitempty"`
	Priority  int    `json:"priority,omitempty"`
	Retry     int    `json:"retry,omitempty"`
	Expire    int    `json:"expire,omitempty"`
	Sound     string `json:"sound,omitempty"`
	Device    string `json:"device,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type pushoverResponse struct {
	Status int      `json:"status"`
	Errors []string `json:"errors,omitempty"`
}

// PushoverClient delivers offline alerts through the Pushover API, with an
// optional sliding-window rate limit so a flapping network segment cannot
// flood the operator's phone.
type PushoverClient struct {
	cfg        config.PushoverConfig
	httpClient *http.Client

	mu   sync.Mutex
	sent []time.Time // timestamps inside the throttle window

	now func() time.Time
}

func NewPushoverClient(cfg config.PushoverConfig) *PushoverClient {
	return &PushoverClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
}

// NotifyOffline implements Notifier.
func (c *PushoverClient) NotifyOffline(ctx context.Context, hostNames []string) error {
	if len(hostNames) == 0 {
		return nil
	}
	if c.throttled() {
		logrus.WithField("hosts", len(hostNames)).Debug("Pushover notification throttled")
		return nil
	}

	msg := c.buildMessage(hostNames)
	if err := c.send(ctx, msg); err != nil {
		return err
	}
	c.record()
	return nil
}

func (c *PushoverClient) buildMessage(hostNames []string) *PushoverMessage {
	var body string
	if len(hostNames) <= 3 {
		body = "Offline:\n" + strings.Join(hostNames, "\n")
	} else {
		body = fmt.Sprintf("%d hosts went offline, including %s", len(hostNames), strings.Join(hostNames[:3], ", "))
	}

	msg := &PushoverMessage{
		Token:     c.cfg.APIToken,
		User:      c.cfg.UserKey,
		Title:     c.cfg.Title,
		Message:   body,
		Priority:  c.cfg.Priority,
		Sound:     c.cfg.Sound,
		Device:    c.cfg.Device,
		Timestamp: c.now().Unix(),
	}
	if c.cfg.Priority == 2 {
		msg.Retry = c.cfg.Retry
		msg.Expire = c.cfg.Expire
	}
	return msg
}

func (c *PushoverClient) send(ctx context.Context, message *PushoverMessage) error {
	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, PushoverAPIURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var por pushoverResponse
	if err := json.NewDecoder(resp.Body).Decode(&por); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if por.Status != 1 {
		return fmt.Errorf("pushover API error: %v", por.Errors)
	}

	logrus.WithField("title", message.Title).Debug("Pushover notification sent")
	return nil
}

// TestConnection sends a low-priority test message to verify credentials.
func (c *PushoverClient) TestConnection(ctx context.Context) error {
	msg := &PushoverMessage{
		Token:     c.cfg.APIToken,
		User:      c.cfg.UserKey,
		Title:     c.cfg.Title,
		Message:   "Test notification: configuration is working",
		Priority:  -1,
		Timestamp: c.now().Unix(),
	}
	return c.send(ctx, msg)
}

func (c *PushoverClient) throttled() bool {
	if !c.cfg.Throttle.Enabled {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune()
	return len(c.sent) >= c.cfg.Throttle.MaxTotal
}

func (c *PushoverClient) record() {
	if !c.cfg.Throttle.Enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune()
	c.sent = append(c.sent, c.now())
}

// prune drops timestamps older than the window. Caller holds mu.
func (c *PushoverClient) prune() {
	cutoff := c.now().Add(-c.cfg.Throttle.Window)
	kept := c.sent[:0]
	for _, t := range c.sent {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.sent = kept
}
