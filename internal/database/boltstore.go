// internal/database/boltstore.go - BoltDB persistence for hosts and config
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"

	"hostwatch/internal/config"
	"hostwatch/internal/store"
)

var (
	HostsBucket  = []byte("hosts")
	ConfigBucket = []byte("config")
	MetaBucket   = []byte("meta")
)

var configKey = []byte("monitoring")

// Persistence is what the rest of the system needs from durable storage:
// a snapshot read at startup and host/config writes. The in-memory store
// remains the source of truth while the process runs.
type Persistence interface {
	LoadAllHosts(ctx context.Context) ([]store.Host, error)
	LoadConfig(ctx context.Context) (*config.MonitoringConfig, error)
	SaveHost(ctx context.Context, host store.Host) error
	SaveHosts(ctx context.Context, hosts []store.Host) error
	DeleteHost(ctx context.Context, id string) error
	SaveConfig(ctx context.Context, m config.MonitoringConfig) error
	Stats(ctx context.Context) (*Stats, error)
	Compact(ctx context.Context) error
	Close() error
}

// Stats describes database size and content.
type Stats struct {
	TotalHosts   int       `json:"total_hosts"`
	DatabaseSize int64     `json:"database_size_bytes"`
	LastWrite    time.Time `json:"last_write"`
}

type BoltStore struct {
	mu   sync.RWMutex // guards db handle swap during Compact
	db   *bbolt.DB
	path string
}

func (s *BoltStore) update(fn func(tx *bbolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Update(fn)
}

func (s *BoltStore) view(fn func(tx *bbolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.View(fn)
}

func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB: %w", err)
	}

	s := &BoltStore{db: db, path: path}
	if err := s.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	return s, nil
}

func (s *BoltStore) initBuckets() error {
	return s.update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{HostsBucket, ConfigBucket, MetaBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) LoadAllHosts(ctx context.Context) ([]store.Host, error) {
	var hosts []store.Host

	err := s.view(func(tx *bbolt.Tx) error {
		b := tx.Bucket(HostsBucket)
		return b.ForEach(func(k, v []byte) error {
			var host store.Host
			if err := json.Unmarshal(v, &host); err != nil {
				// Corrupt entry: skip rather than refuse to start.
				logrus.WithField("key", string(k)).Warn("Skipping unreadable host record")
				return nil
			}
			hosts = append(hosts, host)
			return nil
		})
	})

	return hosts, err
}

func (s *BoltStore) SaveHost(ctx context.Context, host store.Host) error {
	return s.update(func(tx *bbolt.Tx) error {
		if err := putHost(tx, host); err != nil {
			return err
		}
		return s.touchMeta(tx)
	})
}

// SaveHosts writes many records in one transaction.
func (s *BoltStore) SaveHosts(ctx context.Context, hosts []store.Host) error {
	return s.update(func(tx *bbolt.Tx) error {
		for _, host := range hosts {
			if err := putHost(tx, host); err != nil {
				return err
			}
		}
		return s.touchMeta(tx)
	})
}

func putHost(tx *bbolt.Tx, host store.Host) error {
	data, err := json.Marshal(host)
	if err != nil {
		return fmt.Errorf("failed to marshal host %s: %w", host.ID, err)
	}
	return tx.Bucket(HostsBucket).Put([]byte(host.ID), data)
}

func (s *BoltStore) DeleteHost(ctx context.Context, id string) error {
	return s.update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(HostsBucket).Delete([]byte(id)); err != nil {
			return err
		}
		return s.touchMeta(tx)
	})
}

// LoadConfig returns the persisted monitoring parameters, or nil if none
// were ever saved.
func (s *BoltStore) LoadConfig(ctx context.Context) (*config.MonitoringConfig, error) {
	var m *config.MonitoringConfig

	err := s.view(func(tx *bbolt.Tx) error {
		v := tx.Bucket(ConfigBucket).Get(configKey)
		if v == nil {
			return nil
		}
		var cfg config.MonitoringConfig
		if err := json.Unmarshal(v, &cfg); err != nil {
			logrus.WithError(err).Warn("Persisted monitoring config unreadable, ignoring")
			return nil
		}
		m = &cfg
		return nil
	})

	return m, err
}

func (s *BoltStore) SaveConfig(ctx context.Context, m config.MonitoringConfig) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return s.update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(ConfigBucket).Put(configKey, data); err != nil {
			return err
		}
		return s.touchMeta(tx)
	})
}

func (s *BoltStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.view(func(tx *bbolt.Tx) error {
		stats.TotalHosts = tx.Bucket(HostsBucket).Stats().KeyN
		if v := tx.Bucket(MetaBucket).Get([]byte("last_write")); v != nil {
			if t, err := time.Parse(time.RFC3339Nano, string(v)); err == nil {
				stats.LastWrite = t
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get database stats: %w", err)
	}

	if fileInfo, err := os.Stat(s.path); err == nil {
		stats.DatabaseSize = fileInfo.Size()
	}
	return stats, nil
}

// Compact rewrites the database file to reclaim space freed by deletes.
// The store is briefly swapped to the compacted copy; concurrent writers
// block on the closed handle until the swap finishes.
func (s *BoltStore) Compact(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmpPath := s.path + ".compact"
	dst, err := bbolt.Open(tmpPath, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return fmt.Errorf("failed to open compaction target: %w", err)
	}

	if err := bbolt.Compact(dst, s.db, 0); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("compaction failed: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close compaction target: %w", err)
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database for swap: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to swap compacted database: %w", err)
	}

	db, err := bbolt.Open(s.path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return fmt.Errorf("failed to reopen compacted database: %w", err)
	}
	s.db = db
	logrus.WithField("path", s.path).Info("Database compacted")
	return nil
}

// touchMeta records the time of the last successful write.
func (s *BoltStore) touchMeta(tx *bbolt.Tx) error {
	return tx.Bucket(MetaBucket).Put([]byte("last_write"), []byte(time.Now().Format(time.RFC3339Nano)))
}

func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
