package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "sqlite", cfg.Tasks.Driver)
	assert.Equal(t, cfg.Storage.Path, cfg.Tasks.Path)
	assert.Equal(t, 5, cfg.Coordinator.DueSeconds)
	assert.Equal(t, 5, cfg.Coordinator.PeriodSeconds)
	assert.False(t, cfg.Coordinator.RearmAfterExpand)
	assert.Equal(t, "drop_oldest", cfg.Gateway.Overflow)
	assert.Equal(t, 256, cfg.Gateway.QueueCapacity)
	assert.Equal(t, "@every 1m", cfg.Gateway.SweepSchedule)
	assert.NotEmpty(t, cfg.Runtime.Owner)
	assert.Equal(t, "nexbackup", cfg.Metrics.Namespace)
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.Empty(t, cfg.Validate())
	assert.False(t, strings.HasPrefix(cfg.Storage.Path, "~"), "home should be expanded")
}

func TestDefault_ExpandsLikeParse(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	def := Default()
	parsed, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".nexbackup", "state.db"), def.Storage.Path)
	assert.Equal(t, filepath.Join(home, ".nexbackup", "source"), def.Backup.SourceRoot)
	assert.Equal(t, filepath.Join(home, ".nexbackup", "backups"), def.Backup.DestRoot)
	assert.Equal(t, parsed.Storage, def.Storage)
	assert.Equal(t, parsed.Tasks, def.Tasks)
	assert.Equal(t, parsed.Backup, def.Backup)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[logging]
level = "debug"
format = "text"

[tasks]
driver = "jsonl"

[runtime]
poll_interval_seconds = 2
max_concurrent_fires = 4

[coordinator]
rearm_after_expand = true

[backup]
source_root = "` + dir + `/src"
dest_root = "` + dir + `/dst"
one_shot = true

[gateway]
listen = ":9000"
overflow = "drop_newest"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "jsonl", cfg.Tasks.Driver)
	assert.True(t, strings.HasSuffix(cfg.Tasks.Path, filepath.Join(".nexbackup", "tasks")))
	assert.Equal(t, 2, cfg.Runtime.PollIntervalSeconds)
	assert.Equal(t, 4, cfg.Runtime.MaxConcurrentFires)
	assert.True(t, cfg.Coordinator.RearmAfterExpand)
	assert.True(t, cfg.Backup.OneShot)
	assert.Equal(t, dir+"/src", cfg.Backup.SourceRoot)
	assert.Equal(t, ":9000", cfg.Gateway.Listen)
	assert.Equal(t, "drop_newest", cfg.Gateway.Overflow)
	assert.Empty(t, cfg.Validate())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = Parse([]byte("[logging\nlevel="))
	assert.Error(t, err)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("NEXBACKUP_TEST_DSN", "postgres://backup:secret@db/backups")

	cfg, err := Parse([]byte(`
[tasks]
driver = "postgres"
dsn = "${NEXBACKUP_TEST_DSN}"

[backup]
dest_root = "${NEXBACKUP_TEST_UNSET:/var/backups}"
`))
	require.NoError(t, err)

	assert.Equal(t, "postgres://backup:secret@db/backups", cfg.Tasks.DSN)
	assert.Equal(t, "/var/backups", cfg.Backup.DestRoot)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "logging.level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "logging.format"},
		{name: "bad storage driver", mutate: func(c *Config) { c.Storage.Driver = "redis" }, wantErr: "storage.driver"},
		{name: "bad tasks driver", mutate: func(c *Config) { c.Tasks.Driver = "mongo" }, wantErr: "tasks.driver"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Tasks.Driver = "postgres" }, wantErr: "tasks.dsn"},
		{name: "zero queue", mutate: func(c *Config) { c.Gateway.QueueCapacity = 0 }, wantErr: "gateway.queue_capacity"},
		{name: "bad overflow", mutate: func(c *Config) { c.Gateway.Overflow = "block" }, wantErr: "gateway.overflow"},
		{name: "bad sweep schedule", mutate: func(c *Config) { c.Gateway.SweepSchedule = "every minute" }, wantErr: "gateway.sweep_schedule"},
		{name: "claim ttl below poll", mutate: func(c *Config) {
			c.Runtime.PollIntervalSeconds = 10
			c.Runtime.ClaimTTLSeconds = 5
		}, wantErr: "claim_ttl_seconds"},
		{name: "traversal", mutate: func(c *Config) { c.Backup.DestRoot = "/srv/../etc" }, wantErr: "backup.dest_root"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if tt.wantErr == "" {
				assert.Empty(t, errs)
				return
			}
			require.NotEmpty(t, errs)
			var joined []string
			for _, e := range errs {
				joined = append(joined, e.Error())
			}
			assert.Contains(t, strings.Join(joined, "; "), tt.wantErr)
		})
	}
}

func TestMaskDSN(t *testing.T) {
	masked := MaskDSN("postgres://backup:supersecretpw@db:5432/backups")
	assert.NotContains(t, masked, "supersecretpw")
	assert.Contains(t, masked, "db:5432")

	kv := MaskDSN("host=db user=backup password=supersecretpw")
	assert.NotContains(t, kv, "supersecretpw")
	assert.Contains(t, kv, "host=db")

	assert.Equal(t, "", MaskDSN(""))
}
