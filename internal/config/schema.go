// Package config provides configuration loading and validation for nexbackup.
// It supports TOML configuration files with environment variable expansion,
// default values, and validation.
//
// Configuration structure:
//   - [logging]: Logging level, format, and output
//   - [storage]: Timer and entity state store
//   - [tasks]: Task definition and status record store
//   - [runtime]: Entity runtime and timer scheduler tuning
//   - [coordinator]: Task coordinator reminder settings
//   - [backup]: Backup job source and destination roots
//   - [gateway]: HTTP stream gateway and session queues
//   - [metrics]: Prometheus metrics
//
// Environment variables:
// Environment variables can be referenced using ${VAR} or ${VAR:default} syntax.
// For example: dsn = "${NEXBACKUP_PG_DSN:postgres://localhost/nexbackup}"
package config

import "time"

// Config represents the main application configuration.
type Config struct {
	Logging     LoggingConfig     `toml:"logging"`
	Storage     StorageConfig     `toml:"storage"`
	Tasks       TasksConfig       `toml:"tasks"`
	Runtime     RuntimeConfig     `toml:"runtime"`
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Backup      BackupConfig      `toml:"backup"`
	Gateway     GatewayConfig     `toml:"gateway"`
	Metrics     MetricsConfig     `toml:"metrics"`
}

// LoggingConfig представляет конфигурацию логирования
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
}

// StorageConfig описывает хранилище таймеров и состояния сущностей
type StorageConfig struct {
	Driver string `toml:"driver"` // sqlite, memory
	Path   string `toml:"path"`
}

// TasksConfig описывает хранилище задач и журнала статусов
type TasksConfig struct {
	Driver string `toml:"driver"` // sqlite, jsonl, postgres, memory
	Path   string `toml:"path"`
	DSN    string `toml:"dsn"`
}

// RuntimeConfig tunes the entity runtime.
type RuntimeConfig struct {
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	ClaimTTLSeconds     int    `toml:"claim_ttl_seconds"`
	IdleTimeoutSeconds  int    `toml:"idle_timeout_seconds"`
	RetryDelaySeconds   int    `toml:"retry_delay_seconds"`
	MaxConcurrentFires  int    `toml:"max_concurrent_fires"`
	Owner               string `toml:"owner"`
}

func (c RuntimeConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c RuntimeConfig) ClaimTTL() time.Duration {
	return time.Duration(c.ClaimTTLSeconds) * time.Second
}

func (c RuntimeConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

func (c RuntimeConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// CoordinatorConfig представляет настройки напоминания координатора
type CoordinatorConfig struct {
	DueSeconds       int  `toml:"due_seconds"`
	PeriodSeconds    int  `toml:"period_seconds"`
	RearmAfterExpand bool `toml:"rearm_after_expand"`
}

// BackupConfig представляет настройки копирования
type BackupConfig struct {
	SourceRoot string `toml:"source_root"`
	DestRoot   string `toml:"dest_root"`
	OneShot    bool   `toml:"one_shot"`
}

// GatewayConfig представляет настройки HTTP шлюза и очередей сессий
type GatewayConfig struct {
	Listen                string `toml:"listen"`
	HeartbeatSeconds      int    `toml:"heartbeat_seconds"`
	QueueCapacity         int    `toml:"queue_capacity"`
	Overflow              string `toml:"overflow"` // drop_oldest, drop_newest
	SessionIdleTTLMinutes int    `toml:"session_idle_ttl_minutes"`
	SweepSchedule         string `toml:"sweep_schedule"`
	DeleteOnDisconnect    bool   `toml:"delete_on_disconnect"`
}

func (c GatewayConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

func (c GatewayConfig) SessionIdleTTL() time.Duration {
	return time.Duration(c.SessionIdleTTLMinutes) * time.Minute
}

// MetricsConfig представляет настройки prometheus
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}
