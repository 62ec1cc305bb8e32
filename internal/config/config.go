// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Database      DatabaseConfig     `yaml:"database"`
	Prometheus    PrometheusConfig   `yaml:"prometheus"`
	Monitoring    MonitoringConfig   `yaml:"monitoring"`
	Logging       LoggingConfig      `yaml:"logging"`
	Notifications NotificationConfig `yaml:"notifications"`
	Hosts         []HostConfig       `yaml:"hosts"`
}

type ServerConfig struct {
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type PrometheusConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MetricsPath string `yaml:"metrics_path"`
}

// MonitoringConfig is the operator-tunable portion: it can be replaced at
// runtime through the engine's UpdateConfig, which revalidates it and
// resizes the probe worker pool.
type MonitoringConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	WaitingTimeout time.Duration `yaml:"waiting_timeout"`
	OfflineTimeout time.Duration `yaml:"offline_timeout"`
	MaxWorkers     int           `yaml:"max_workers"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	Privileged     bool          `yaml:"privileged"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type NotificationConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Pushover PushoverConfig `yaml:"pushover"`
}

type PushoverConfig struct {
	Enabled  bool           `yaml:"enabled"`
	APIToken string         `yaml:"api_token"`
	UserKey  string         `yaml:"user_key"`
	Priority int            `yaml:"priority"` // -2 (silent) .. 2 (emergency)
	Retry    int            `yaml:"retry"`    // emergency priority only (seconds)
	Expire   int            `yaml:"expire"`   // emergency priority only (seconds)
	Sound    string         `yaml:"sound"`
	Device   string         `yaml:"device"`
	Title    string         `yaml:"title"`
	Throttle ThrottleConfig `yaml:"throttle"`
}

type ThrottleConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Window   time.Duration `yaml:"window"`
	MaxTotal int           `yaml:"max_total"` // max notifications per window
}

// HostConfig declares a seed host merged into the store at startup.
type HostConfig struct {
	ID                   string `yaml:"id"`
	Name                 string `yaml:"name"`
	Address              string `yaml:"address"`
	Group                string `yaml:"group"`
	Location             string `yaml:"location"`
	NotificationsEnabled *bool  `yaml:"notifications_enabled"`
}

func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	setDefaults(&config)

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/hostwatch.db"
	}
	if cfg.Prometheus.MetricsPath == "" {
		cfg.Prometheus.MetricsPath = "/metrics"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Notifications.Pushover.Title == "" {
		cfg.Notifications.Pushover.Title = "Hostwatch"
	}
	if cfg.Notifications.Pushover.Throttle.Window == 0 {
		cfg.Notifications.Pushover.Throttle.Window = 10 * time.Minute
	}
	if cfg.Notifications.Pushover.Throttle.MaxTotal == 0 {
		cfg.Notifications.Pushover.Throttle.MaxTotal = 20
	}
	SetMonitoringDefaults(&cfg.Monitoring)
}

// SetMonitoringDefaults fills zero fields; also used when a runtime config
// update arrives with partial values.
func SetMonitoringDefaults(m *MonitoringConfig) {
	if m.PollInterval == 0 {
		m.PollInterval = 10 * time.Second
	}
	if m.WaitingTimeout == 0 {
		m.WaitingTimeout = 60 * time.Second
	}
	if m.OfflineTimeout == 0 {
		m.OfflineTimeout = 5 * time.Minute
	}
	if m.MaxWorkers == 0 {
		m.MaxWorkers = 20
	}
	if m.ProbeTimeout == 0 {
		m.ProbeTimeout = 2 * time.Second
	}
}

func Validate(cfg *Config) error {
	if err := ValidateMonitoring(&cfg.Monitoring); err != nil {
		return err
	}

	level := cfg.Logging.Level
	switch level {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		return fmt.Errorf("logging.level %q is not a valid level", level)
	}

	if cfg.Notifications.Enabled && cfg.Notifications.Pushover.Enabled {
		po := &cfg.Notifications.Pushover
		if po.APIToken == "" {
			return fmt.Errorf("notifications.pushover.api_token is required when pushover is enabled")
		}
		if po.UserKey == "" {
			return fmt.Errorf("notifications.pushover.user_key is required when pushover is enabled")
		}
		if po.Priority < -2 || po.Priority > 2 {
			return fmt.Errorf("notifications.pushover.priority must be between -2 and 2")
		}
		if po.Priority == 2 {
			if po.Retry < 30 {
				return fmt.Errorf("notifications.pushover.retry must be at least 30 seconds for emergency priority")
			}
			if po.Expire < 60 || po.Expire > 10800 {
				return fmt.Errorf("notifications.pushover.expire must be 60-10800 seconds for emergency priority")
			}
		}
	}

	hostIDs := make(map[string]bool)
	for _, host := range cfg.Hosts {
		if host.ID != "" {
			if hostIDs[host.ID] {
				return fmt.Errorf("duplicate host ID: %s", host.ID)
			}
			hostIDs[host.ID] = true
		}
		if host.Name == "" {
			return fmt.Errorf("host %q has no name", host.Address)
		}
		if host.Address == "" {
			return fmt.Errorf("host %q has no address", host.Name)
		}
	}

	return nil
}

// ValidateMonitoring enforces the tuning bounds. Applied both at startup
// and on every runtime config update.
func ValidateMonitoring(m *MonitoringConfig) error {
	if m.PollInterval < time.Second || m.PollInterval > time.Hour {
		return fmt.Errorf("monitoring.poll_interval must be between 1s and 1h")
	}
	if m.WaitingTimeout < 5*time.Second || m.WaitingTimeout > time.Hour {
		return fmt.Errorf("monitoring.waiting_timeout must be between 5s and 1h")
	}
	if m.OfflineTimeout < 10*time.Second || m.OfflineTimeout > 2*time.Hour {
		return fmt.Errorf("monitoring.offline_timeout must be between 10s and 2h")
	}
	if m.WaitingTimeout >= m.OfflineTimeout {
		return fmt.Errorf("monitoring.waiting_timeout must be less than offline_timeout")
	}
	if m.MaxWorkers < 1 || m.MaxWorkers > 100 {
		return fmt.Errorf("monitoring.max_workers must be between 1 and 100")
	}
	if m.ProbeTimeout < 100*time.Millisecond || m.ProbeTimeout > 30*time.Second {
		return fmt.Errorf("monitoring.probe_timeout must be between 100ms and 30s")
	}
	return nil
}
