// internal/database/boltstore_test.go
package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.etcd.io/bbolt"

	"hostwatch/internal/config"
	"hostwatch/internal/store"
)

func newTestBolt(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hosts.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testHost(id, name string) store.Host {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return store.Host{
		ID:                   id,
		Address:              "192.168.1.10",
		Name:                 name,
		Group:                "lab",
		Status:               store.StatusOnline,
		NotificationsEnabled: true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

func TestSaveAndLoadHosts(t *testing.T) {
	db := newTestBolt(t)
	ctx := context.Background()

	since := time.Now().UTC().Truncate(time.Millisecond)
	h1 := testHost("h1", "router")
	h2 := testHost("h2", "switch")
	h2.Status = store.StatusOffline
	h2.UnhealthySince = &since

	if err := db.SaveHosts(ctx, []store.Host{h1, h2}); err != nil {
		t.Fatalf("SaveHosts: %v", err)
	}

	hosts, err := db.LoadAllHosts(ctx)
	if err != nil {
		t.Fatalf("LoadAllHosts: %v", err)
	}
	if len(hosts) != 2 {
		t.Fatalf("loaded %d hosts, want 2", len(hosts))
	}

	byID := map[string]store.Host{}
	for _, h := range hosts {
		byID[h.ID] = h
	}
	got, ok := byID["h2"]
	if !ok {
		t.Fatal("host h2 not loaded")
	}
	if got.Status != store.StatusOffline {
		t.Errorf("status = %s, want %s", got.Status, store.StatusOffline)
	}
	if got.UnhealthySince == nil || !got.UnhealthySince.Equal(since) {
		t.Errorf("unhealthy_since = %v, want %v", got.UnhealthySince, since)
	}
}

func TestSaveHostOverwrites(t *testing.T) {
	db := newTestBolt(t)
	ctx := context.Background()

	h := testHost("h1", "router")
	if err := db.SaveHost(ctx, h); err != nil {
		t.Fatalf("SaveHost: %v", err)
	}
	h.Name = "core-router"
	h.Status = store.StatusWaiting
	if err := db.SaveHost(ctx, h); err != nil {
		t.Fatalf("SaveHost: %v", err)
	}

	hosts, err := db.LoadAllHosts(ctx)
	if err != nil {
		t.Fatalf("LoadAllHosts: %v", err)
	}
	if len(hosts) != 1 {
		t.Fatalf("loaded %d hosts, want 1", len(hosts))
	}
	if hosts[0].Name != "core-router" || hosts[0].Status != store.StatusWaiting {
		t.Errorf("got %q/%s, want core-router/%s", hosts[0].Name, hosts[0].Status, store.StatusWaiting)
	}
}

func TestDeleteHost(t *testing.T) {
	db := newTestBolt(t)
	ctx := context.Background()

	if err := db.SaveHost(ctx, testHost("h1", "router")); err != nil {
		t.Fatalf("SaveHost: %v", err)
	}
	if err := db.DeleteHost(ctx, "h1"); err != nil {
		t.Fatalf("DeleteHost: %v", err)
	}
	// Deleting an absent id is not an error.
	if err := db.DeleteHost(ctx, "missing"); err != nil {
		t.Fatalf("DeleteHost(missing): %v", err)
	}

	hosts, err := db.LoadAllHosts(ctx)
	if err != nil {
		t.Fatalf("LoadAllHosts: %v", err)
	}
	if len(hosts) != 0 {
		t.Fatalf("loaded %d hosts, want 0", len(hosts))
	}
}

func TestLoadAllHostsSkipsCorruptRecords(t *testing.T) {
	db := newTestBolt(t)
	ctx := context.Background()

	if err := db.SaveHost(ctx, testHost("h1", "router")); err != nil {
		t.Fatalf("SaveHost: %v", err)
	}
	err := db.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(HostsBucket).Put([]byte("bad"), []byte("{not json"))
	})
	if err != nil {
		t.Fatalf("inject corrupt record: %v", err)
	}

	hosts, err := db.LoadAllHosts(ctx)
	if err != nil {
		t.Fatalf("LoadAllHosts: %v", err)
	}
	if len(hosts) != 1 || hosts[0].ID != "h1" {
		t.Fatalf("got %v, want just h1", hosts)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	db := newTestBolt(t)
	ctx := context.Background()

	got, err := db.LoadConfig(ctx)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got != nil {
		t.Fatalf("LoadConfig on empty db = %+v, want nil", got)
	}

	m := config.MonitoringConfig{
		PollInterval:   30 * time.Second,
		WaitingTimeout: 10 * time.Second,
		OfflineTimeout: 60 * time.Second,
		MaxWorkers:     8,
		ProbeTimeout:   2 * time.Second,
	}
	if err := db.SaveConfig(ctx, m); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	got, err = db.LoadConfig(ctx)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got == nil {
		t.Fatal("LoadConfig returned nil after save")
	}
	if got.PollInterval != m.PollInterval || got.MaxWorkers != m.MaxWorkers {
		t.Errorf("got %+v, want %+v", got, m)
	}
}

func TestCompactPreservesData(t *testing.T) {
	db := newTestBolt(t)
	ctx := context.Background()

	if err := db.SaveHosts(ctx, []store.Host{testHost("h1", "a"), testHost("h2", "b")}); err != nil {
		t.Fatalf("SaveHosts: %v", err)
	}
	if err := db.DeleteHost(ctx, "h2"); err != nil {
		t.Fatalf("DeleteHost: %v", err)
	}

	if err := db.Compact(ctx); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	hosts, err := db.LoadAllHosts(ctx)
	if err != nil {
		t.Fatalf("LoadAllHosts after compact: %v", err)
	}
	if len(hosts) != 1 || hosts[0].ID != "h1" {
		t.Fatalf("got %v, want just h1", hosts)
	}

	// The swapped handle keeps accepting writes.
	if err := db.SaveHost(ctx, testHost("h3", "c")); err != nil {
		t.Fatalf("SaveHost after compact: %v", err)
	}
}

func TestStats(t *testing.T) {
	db := newTestBolt(t)
	ctx := context.Background()

	before, err := db.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if before.TotalHosts != 0 {
		t.Errorf("TotalHosts = %d, want 0", before.TotalHosts)
	}

	if err := db.SaveHosts(ctx, []store.Host{testHost("h1", "a"), testHost("h2", "b")}); err != nil {
		t.Fatalf("SaveHosts: %v", err)
	}

	after, err := db.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if after.TotalHosts != 2 {
		t.Errorf("TotalHosts = %d, want 2", after.TotalHosts)
	}
	if after.DatabaseSize <= 0 {
		t.Errorf("DatabaseSize = %d, want > 0", after.DatabaseSize)
	}
	if after.LastWrite.IsZero() {
		t.Error("LastWrite not recorded")
	}
}
