package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate проверяет валидность конфигурации
func (c *Config) Validate() []error {
	var errs []error

	// Проверка logging config
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("invalid logging.level: %s (expected: debug, info, warn, error)", c.Logging.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Errorf("invalid logging.format: %s (expected: json, text)", c.Logging.Format))
	}

	// Хранилища
	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if err := validatePath(c.Storage.Path, "storage.path"); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("invalid storage.driver: %s (expected: sqlite, memory)", c.Storage.Driver))
	}

	switch c.Tasks.Driver {
	case "memory":
	case "sqlite", "jsonl":
		if err := validatePath(c.Tasks.Path, "tasks.path"); err != nil {
			errs = append(errs, err)
		}
	case "postgres":
		if c.Tasks.DSN == "" {
			errs = append(errs, fmt.Errorf("tasks.dsn is required when tasks.driver is 'postgres'"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid tasks.driver: %s (expected: sqlite, jsonl, postgres, memory)", c.Tasks.Driver))
	}

	// Runtime
	positive := []struct {
		name  string
		value int
	}{
		{"runtime.poll_interval_seconds", c.Runtime.PollIntervalSeconds},
		{"runtime.claim_ttl_seconds", c.Runtime.ClaimTTLSeconds},
		{"runtime.idle_timeout_seconds", c.Runtime.IdleTimeoutSeconds},
		{"runtime.retry_delay_seconds", c.Runtime.RetryDelaySeconds},
		{"runtime.max_concurrent_fires", c.Runtime.MaxConcurrentFires},
		{"coordinator.period_seconds", c.Coordinator.PeriodSeconds},
		{"gateway.heartbeat_seconds", c.Gateway.HeartbeatSeconds},
		{"gateway.queue_capacity", c.Gateway.QueueCapacity},
		{"gateway.session_idle_ttl_minutes", c.Gateway.SessionIdleTTLMinutes},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0 (got %d)", p.name, p.value))
		}
	}
	if c.Coordinator.DueSeconds < 0 {
		errs = append(errs, fmt.Errorf("coordinator.due_seconds must be >= 0 (got %d)", c.Coordinator.DueSeconds))
	}
	if c.Runtime.ClaimTTLSeconds > 0 && c.Runtime.ClaimTTLSeconds < c.Runtime.PollIntervalSeconds {
		errs = append(errs, fmt.Errorf("runtime.claim_ttl_seconds must not be shorter than runtime.poll_interval_seconds"))
	}

	// Backup roots
	if err := validatePath(c.Backup.SourceRoot, "backup.source_root"); err != nil {
		errs = append(errs, err)
	}
	if err := validatePath(c.Backup.DestRoot, "backup.dest_root"); err != nil {
		errs = append(errs, err)
	}

	// Gateway
	if c.Gateway.Listen == "" {
		errs = append(errs, fmt.Errorf("gateway.listen is required"))
	}
	switch c.Gateway.Overflow {
	case "drop_oldest", "drop_newest":
	default:
		errs = append(errs, fmt.Errorf("invalid gateway.overflow: %s (expected: drop_oldest, drop_newest)", c.Gateway.Overflow))
	}
	if _, err := cron.ParseStandard(c.Gateway.SweepSchedule); err != nil {
		errs = append(errs, fmt.Errorf("invalid gateway.sweep_schedule %q: %w", c.Gateway.SweepSchedule, err))
	}

	return errs
}

func validatePath(path, fieldName string) error {
	if path == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}

	if strings.HasPrefix(path, "~") {
		return nil
	}

	if strings.Contains(path, "..") {
		return fmt.Errorf("%s contains potentially dangerous path traversal sequence", fieldName)
	}

	return nil
}
