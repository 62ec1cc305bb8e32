// internal/web/handlers_test.go
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hostwatch/internal/config"
	"hostwatch/internal/database"
	"hostwatch/internal/metrics"
	"hostwatch/internal/monitoring"
	"hostwatch/internal/store"
)

// fakePersistence satisfies database.Persistence for handler tests.
type fakePersistence struct {
	savedConfig *config.MonitoringConfig
	compacted   bool
}

func (f *fakePersistence) LoadAllHosts(ctx context.Context) ([]store.Host, error) { return nil, nil }
func (f *fakePersistence) LoadConfig(ctx context.Context) (*config.MonitoringConfig, error) {
	return nil, nil
}
func (f *fakePersistence) SaveHost(ctx context.Context, h store.Host) error      { return nil }
func (f *fakePersistence) SaveHosts(ctx context.Context, hs []store.Host) error  { return nil }
func (f *fakePersistence) DeleteHost(ctx context.Context, id string) error       { return nil }
func (f *fakePersistence) SaveConfig(ctx context.Context, m config.MonitoringConfig) error {
	f.savedConfig = &m
	return nil
}
func (f *fakePersistence) Stats(ctx context.Context) (*database.Stats, error) {
	return &database.Stats{TotalHosts: 1}, nil
}
func (f *fakePersistence) Compact(ctx context.Context) error {
	f.compacted = true
	return nil
}
func (f *fakePersistence) Close() error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:         ":0",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Monitoring: config.MonitoringConfig{
			PollInterval:   30 * time.Second,
			WaitingTimeout: 5 * time.Second,
			OfflineTimeout: 30 * time.Second,
			MaxWorkers:     2,
			ProbeTimeout:   1 * time.Second,
		},
		Logging: config.LoggingConfig{Level: "info", Format: "text"},
	}
}

func newTestServer(t *testing.T) (*Server, *store.Store, *fakePersistence) {
	t.Helper()

	st := store.New()
	t.Cleanup(st.Close)

	cfg := testConfig()
	collector := metrics.NewCollector(st)
	engine, err := monitoring.NewEngine(cfg, st, collector)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	db := &fakePersistence{}
	return NewServer(cfg, st, db, engine, collector), st, db
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var resp struct {
		Data map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return resp.Data
}

func TestCreateHost(t *testing.T) {
	s, st, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/hosts", HostRequest{
		Name:    "core-router",
		Address: "192.168.1.1",
		Group:   "network",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	data := decodeData(t, w)
	id, _ := data["id"].(string)
	if id == "" {
		t.Fatal("created host has no id")
	}
	if data["status"] != string(store.StatusOnline) {
		t.Errorf("status = %v, want %s", data["status"], store.StatusOnline)
	}

	if _, ok := st.Get(id); !ok {
		t.Error("created host not in store")
	}
}

func TestCreateHostRejectsBadAddress(t *testing.T) {
	s, _, _ := newTestServer(t)

	for _, addr := range []string{"192.168.01.1", "300.1.1.1", "not a host!"} {
		w := doJSON(t, s, http.MethodPost, "/api/hosts", HostRequest{Name: "x", Address: addr})
		if w.Code != http.StatusBadRequest {
			t.Errorf("address %q: status = %d, want 400", addr, w.Code)
		}
	}
}

func TestCreateHostRequiresNameAndAddress(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/hosts", map[string]string{"name": "router"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetHostNotFound(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/hosts/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestUpdateHostKeepsRuntimeState(t *testing.T) {
	s, st, _ := newTestServer(t)

	h := store.Host{ID: "h1", Name: "router", Address: "192.168.1.1"}
	if err := st.Add(h); err != nil {
		t.Fatalf("Add: %v", err)
	}
	since := time.Now().Add(-time.Minute)
	st.UpdateStatus("h1", store.StatusOffline, &since)

	w := doJSON(t, s, http.MethodPut, "/api/hosts/h1", HostRequest{
		Name:    "renamed",
		Address: "192.168.1.1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	updated, _ := st.Get("h1")
	if updated.Name != "renamed" {
		t.Errorf("name = %q, want renamed", updated.Name)
	}
	if updated.Status != store.StatusOffline || updated.UnhealthySince == nil {
		t.Error("metadata update clobbered runtime state")
	}
}

func TestDeleteHost(t *testing.T) {
	s, st, _ := newTestServer(t)

	if err := st.Add(store.Host{ID: "h1", Name: "router", Address: "192.168.1.1"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if w := doJSON(t, s, http.MethodDelete, "/api/hosts/h1", nil); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w := doJSON(t, s, http.MethodDelete, "/api/hosts/h1", nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}

func TestMaintenanceToggle(t *testing.T) {
	s, st, _ := newTestServer(t)

	if err := st.Add(store.Host{ID: "h1", Name: "router", Address: "192.168.1.1"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	on := true
	w := doJSON(t, s, http.MethodPut, "/api/hosts/h1/maintenance", MaintenanceRequest{Enabled: &on})
	if w.Code != http.StatusOK {
		t.Fatalf("enable status = %d, body = %s", w.Code, w.Body.String())
	}
	h, _ := st.Get("h1")
	if h.Status != store.StatusMaintenance {
		t.Fatalf("status = %s, want %s", h.Status, store.StatusMaintenance)
	}

	off := false
	w = doJSON(t, s, http.MethodPut, "/api/hosts/h1/maintenance", MaintenanceRequest{Enabled: &off})
	if w.Code != http.StatusOK {
		t.Fatalf("disable status = %d", w.Code)
	}
	h, _ = st.Get("h1")
	if h.Status != store.StatusOnline {
		t.Errorf("status = %s, want %s", h.Status, store.StatusOnline)
	}
	// The host never answered a probe; release must not fake a sighting.
	if h.LastSeen != nil {
		t.Errorf("last_seen = %v, release is not a probe result", h.LastSeen)
	}
}

func TestMaintenanceReleaseKeepsLastSeen(t *testing.T) {
	s, st, _ := newTestServer(t)

	if err := st.Add(store.Host{ID: "h1", Name: "router", Address: "192.168.1.1"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Establish a real sighting, then park and release the host.
	st.UpdateStatus("h1", store.StatusOnline, nil)
	before, _ := st.Get("h1")
	if before.LastSeen == nil {
		t.Fatal("expected last_seen after confirmed-healthy write")
	}
	st.UpdateStatus("h1", store.StatusMaintenance, nil)

	off := false
	w := doJSON(t, s, http.MethodPut, "/api/hosts/h1/maintenance", MaintenanceRequest{Enabled: &off})
	if w.Code != http.StatusOK {
		t.Fatalf("disable status = %d, body = %s", w.Code, w.Body.String())
	}

	after, _ := st.Get("h1")
	if after.Status != store.StatusOnline {
		t.Errorf("status = %s, want %s", after.Status, store.StatusOnline)
	}
	if after.LastSeen == nil || !after.LastSeen.Equal(*before.LastSeen) {
		t.Errorf("last_seen moved on release: %v, want %v", after.LastSeen, before.LastSeen)
	}
}

func TestMaintenanceReleaseWhenNotInMaintenance(t *testing.T) {
	s, st, _ := newTestServer(t)

	if err := st.Add(store.Host{ID: "h1", Name: "router", Address: "192.168.1.1"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	off := false
	w := doJSON(t, s, http.MethodPut, "/api/hosts/h1/maintenance", MaintenanceRequest{Enabled: &off})
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestGetHostsFilters(t *testing.T) {
	s, st, _ := newTestServer(t)

	for _, h := range []store.Host{
		{ID: "h1", Name: "a", Address: "10.0.0.1", Group: "lab"},
		{ID: "h2", Name: "b", Address: "10.0.0.2", Group: "prod"},
		{ID: "h3", Name: "c", Address: "10.0.0.3", Group: "lab"},
	} {
		if err := st.Add(h); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	w := doJSON(t, s, http.MethodGet, "/api/hosts?group=lab", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("count = %d, want 2", resp.Count)
	}
}

func TestStatsEndpoint(t *testing.T) {
	s, st, _ := newTestServer(t)

	if err := st.Add(store.Host{ID: "h1", Name: "a", Address: "10.0.0.1"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	since := time.Now().Add(-time.Minute)
	st.UpdateStatus("h1", store.StatusOffline, &since)

	w := doJSON(t, s, http.MethodGet, "/api/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	data := decodeData(t, w)
	if data["offline"] != float64(1) {
		t.Errorf("offline = %v, want 1", data["offline"])
	}
	if data["total"] != float64(1) {
		t.Errorf("total = %v, want 1", data["total"])
	}
}

func TestConfigRoundTrip(t *testing.T) {
	s, _, db := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/config", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET status = %d", w.Code)
	}
	data := decodeData(t, w)
	if data["poll_interval"] != "30s" {
		t.Errorf("poll_interval = %v, want 30s", data["poll_interval"])
	}

	workers := 4
	w = doJSON(t, s, http.MethodPut, "/api/config", ConfigRequest{
		PollInterval: "45s",
		MaxWorkers:   &workers,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, body = %s", w.Code, w.Body.String())
	}
	data = decodeData(t, w)
	if data["poll_interval"] != "45s" || data["max_workers"] != float64(4) {
		t.Errorf("applied config = %v", data)
	}
	// Untouched fields keep their values.
	if data["offline_timeout"] != "30s" {
		t.Errorf("offline_timeout = %v, want 30s", data["offline_timeout"])
	}
	if db.savedConfig == nil || db.savedConfig.PollInterval != 45*time.Second {
		t.Error("updated config not persisted")
	}
}

func TestConfigRejectsInvalid(t *testing.T) {
	s, _, _ := newTestServer(t)

	tests := []struct {
		name string
		req  ConfigRequest
	}{
		{"waiting not below offline", ConfigRequest{WaitingTimeout: "1m", OfflineTimeout: "30s"}},
		{"unparseable duration", ConfigRequest{PollInterval: "soon"}},
		{"poll too short", ConfigRequest{PollInterval: "100ms"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, s, http.MethodPut, "/api/config", tt.req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestNotificationTestWithoutPushover(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/notifications/test", nil)
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/api/notifications/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status endpoint = %d", w.Code)
	}
	data := decodeData(t, w)
	if data["pushover_configured"] != false {
		t.Errorf("pushover_configured = %v, want false", data["pushover_configured"])
	}
}

func TestDatabaseEndpoints(t *testing.T) {
	s, _, db := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/database/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d", w.Code)
	}

	w = doJSON(t, s, http.MethodPost, "/api/database/compact", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("compact status = %d", w.Code)
	}
	if !db.compacted {
		t.Error("compact not invoked")
	}
}

func TestHealthCheck(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
}
