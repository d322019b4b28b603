package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 60, cfg.Monitor.IntervalSeconds)
	assert.False(t, cfg.History.Enabled)
	assert.Equal(t, "auto", cfg.Color)
	assert.Equal(t, 60*time.Second, cfg.Interval())
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
color = "never"

[monitor]
interval_seconds = 30
max_attempts = 5
attempt_delay_seconds = 1
process_name = "custom_server"

[history]
enabled = true
path = "/tmp/q.db"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Monitor.IntervalSeconds)
	assert.Equal(t, 30*time.Second, cfg.Interval())
	assert.Equal(t, 5, cfg.Monitor.MaxAttempts)
	assert.Equal(t, "custom_server", cfg.Monitor.ProcessName)
	assert.Equal(t, "never", cfg.Color)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, "/tmp/q.db", cfg.HistoryPath())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
[history]
enabled = true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Monitor.IntervalSeconds)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, DefaultHistoryPath(), cfg.HistoryPath())
}

func TestLoadRejectsBadValues(t *testing.T) {
	_, err := Load(writeConfig(t, `color = "sometimes"`))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, `[monitor]
interval_seconds = -5`))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, `not toml [[`))
	assert.Error(t, err)
}

func TestIntervalFallsBackWhenUnset(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, 60*time.Second, cfg.Interval())
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[monitor]
interval_seconds = 60`), 0644))

	reloaded := make(chan *Config, 1)
	stop, err := Watch(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte(`[monitor]
interval_seconds = 15`), 0644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 15, cfg.Monitor.IntervalSeconds)
	case <-time.After(5 * time.Second):
		t.Fatal("config change never observed")
	}
}
