package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load загружает конфигурацию из TOML файла
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse разбирает TOML, применяет значения по умолчанию и переменные окружения
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	expandEnvVars(&cfg)

	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	expandEnvVars(cfg)
	return cfg
}

// applyDefaults применяет значения по умолчанию
func applyDefaults(c *Config) {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "~/.nexbackup/state.db"
	}

	if c.Tasks.Driver == "" {
		c.Tasks.Driver = "sqlite"
	}
	if c.Tasks.Path == "" {
		switch c.Tasks.Driver {
		case "jsonl":
			c.Tasks.Path = "~/.nexbackup/tasks"
		default:
			c.Tasks.Path = c.Storage.Path
		}
	}

	if c.Runtime.PollIntervalSeconds == 0 {
		c.Runtime.PollIntervalSeconds = 1
	}
	if c.Runtime.ClaimTTLSeconds == 0 {
		c.Runtime.ClaimTTLSeconds = 60
	}
	if c.Runtime.IdleTimeoutSeconds == 0 {
		c.Runtime.IdleTimeoutSeconds = 300
	}
	if c.Runtime.RetryDelaySeconds == 0 {
		c.Runtime.RetryDelaySeconds = 30
	}
	if c.Runtime.MaxConcurrentFires == 0 {
		c.Runtime.MaxConcurrentFires = 16
	}
	if c.Runtime.Owner == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "nexbackup"
		}
		c.Runtime.Owner = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	if c.Coordinator.DueSeconds == 0 {
		c.Coordinator.DueSeconds = 5
	}
	if c.Coordinator.PeriodSeconds == 0 {
		c.Coordinator.PeriodSeconds = 5
	}

	if c.Backup.SourceRoot == "" {
		c.Backup.SourceRoot = "~/.nexbackup/source"
	}
	if c.Backup.DestRoot == "" {
		c.Backup.DestRoot = "~/.nexbackup/backups"
	}

	if c.Gateway.Listen == "" {
		c.Gateway.Listen = "127.0.0.1:8000"
	}
	if c.Gateway.HeartbeatSeconds == 0 {
		c.Gateway.HeartbeatSeconds = 5
	}
	if c.Gateway.QueueCapacity == 0 {
		c.Gateway.QueueCapacity = 256
	}
	if c.Gateway.Overflow == "" {
		c.Gateway.Overflow = "drop_oldest"
	}
	if c.Gateway.SessionIdleTTLMinutes == 0 {
		c.Gateway.SessionIdleTTLMinutes = 30
	}
	if c.Gateway.SweepSchedule == "" {
		c.Gateway.SweepSchedule = "@every 1m"
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "nexbackup"
	}
}

// expandEnvVars расширяет переменные окружения и ~ в путях. Неизвестные
// переменные раскрываются в пустую строку или значение по умолчанию.
func expandEnvVars(c *Config) {
	for _, p := range []*string{
		&c.Storage.Path,
		&c.Tasks.Path,
		&c.Tasks.DSN,
		&c.Backup.SourceRoot,
		&c.Backup.DestRoot,
		&c.Gateway.Listen,
		&c.Logging.Output,
	} {
		if strings.HasPrefix(*p, "${") {
			*p = expandEnv(*p)
		}
	}

	c.Storage.Path = expandHome(c.Storage.Path)
	c.Tasks.Path = expandHome(c.Tasks.Path)
	c.Backup.SourceRoot = expandHome(c.Backup.SourceRoot)
	c.Backup.DestRoot = expandHome(c.Backup.DestRoot)
}

// expandEnv расширяет переменную окружения формата ${VAR:default}
func expandEnv(s string) string {
	if !strings.HasPrefix(s, "${") {
		return s
	}

	end := strings.Index(s, "}")
	if end == -1 {
		return s
	}

	content := s[2:end]
	if parts := strings.SplitN(content, ":", 2); len(parts) == 2 {
		key := parts[0]
		defaultVal := parts[1]
		if val := os.Getenv(key); val != "" {
			return val + s[end+1:]
		}
		return defaultVal + s[end+1:]
	}

	// Без значения по умолчанию
	return os.Getenv(content) + s[end+1:]
}

// expandHome расширяет ~ в пути
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
