package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rugwirobaker/irrigate/internal/flag"
	"github.com/rugwirobaker/irrigate/internal/pointer"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func flagContext(t *testing.T, args ...string) context.Context {
	t.Helper()

	cmd := &cobra.Command{Use: "serve"}
	flag.Add(cmd,
		flag.Int{Name: "port"},
		flag.String{Name: "device-url"},
		flag.Duration{Name: "device-timeout"},
		flag.EventLog(),
		flag.Backend(),
		flag.String{Name: "stream-mode"},
		flag.String{Name: "log-format"},
		flag.String{Name: "log-path"},
		flag.Bool{Name: "debug"},
	)
	require.NoError(t, cmd.ParseFlags(args))
	return flag.NewContext(context.Background(), cmd.Flags())
}

func env(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, BackendFile, cfg.EventLog.Backend)
	assert.Equal(t, "log.json", cfg.EventLog.Path)
}

func TestWriteThenRead(t *testing.T) {
	cfg := Default()
	cfg.Device.URL = "http://192.168.1.40"
	cfg.Device.Timeout = 3 * time.Second
	cfg.Log.Path = pointer.String("/var/log/irrigate.log")

	var buf bytes.Buffer
	require.NoError(t, cfg.Write(&buf))

	path := writeFile(t, "irrigate.yaml", buf.String())
	got, err := FromFile(path)
	require.NoError(t, err)

	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestFromFileYAMLKeepsDefaults(t *testing.T) {
	path := writeFile(t, "irrigate.yaml", "port: 9000\nstream:\n  mode: push\n")

	cfg, err := FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "push", cfg.Stream.Mode)
	assert.Equal(t, time.Second, cfg.Stream.Interval)
	assert.Equal(t, "log.json", cfg.EventLog.Path)
}

func TestFromFileEmptyYAML(t *testing.T) {
	cfg, err := FromFile(writeFile(t, "irrigate.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestFromFileTOML(t *testing.T) {
	path := writeFile(t, "irrigate.toml", `
port = 8181

[device]
url = "192.168.1.50"
timeout = "2s"

[event_log]
backend = "sqlite"
db = "/var/lib/irrigate/events.db"
`)

	cfg, err := FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 8181, cfg.Port)
	assert.Equal(t, "192.168.1.50", cfg.Device.URL)
	assert.Equal(t, 2*time.Second, cfg.Device.Timeout)
	assert.Equal(t, BackendSQLite, cfg.EventLog.Backend)
	assert.Equal(t, "/var/lib/irrigate/events.db", cfg.EventLog.DB)
}

func TestFromFileRejectsUnknownKeys(t *testing.T) {
	_, err := FromFile(writeFile(t, "irrigate.yaml", "prot: 9000\n"))
	assert.Error(t, err)

	_, err = FromFile(writeFile(t, "irrigate.toml", "prot = 9000\n"))
	assert.Error(t, err)
}

func TestFromFileMissing(t *testing.T) {
	_, err := FromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOverrideWithEnv(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.OverrideWithEnv(env(map[string]string{
		"PORT":   "9999",
		"ESP_IP": "192.168.4.1",
	})))
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "192.168.4.1", cfg.Device.URL)

	assert.Error(t, Default().OverrideWithEnv(env(map[string]string{"PORT": "http"})))
}

// TestPrecedence checks defaults < file < env < flags.
func TestPrecedence(t *testing.T) {
	path := writeFile(t, "irrigate.yaml", "port: 7000\ndevice:\n  url: file-host\nlog:\n  format: json\n")

	cfg, err := FromFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.OverrideWithEnv(env(map[string]string{
		"PORT":   "7001",
		"ESP_IP": "env-host",
	})))
	cfg.OverrideWithFlags(flagContext(t, "--device-url", "flag-host"))

	assert.Equal(t, 7001, cfg.Port, "env beats file")
	assert.Equal(t, "flag-host", cfg.Device.URL, "flag beats env")
	assert.Equal(t, "json", cfg.Log.Format, "file beats default")
	assert.Equal(t, time.Second, cfg.Stream.Interval, "default survives")
}

func TestOverrideWithFlagsEventLogFollowsBackend(t *testing.T) {
	cfg := Default()
	cfg.OverrideWithFlags(flagContext(t, "--backend", "sqlite", "--event-log", "events.db", "--log-path", "/tmp/irrigate.log"))

	assert.Equal(t, BackendSQLite, cfg.EventLog.Backend)
	assert.Equal(t, "events.db", cfg.EventLog.DB)
	assert.Equal(t, "log.json", cfg.EventLog.Path)
	require.NotNil(t, cfg.Log.Path)
	assert.Equal(t, "/tmp/irrigate.log", *cfg.Log.Path)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Port = 0 }},
		{"port too large", func(c *Config) { c.Port = 70000 }},
		{"unknown backend", func(c *Config) { c.EventLog.Backend = "redis" }},
		{"empty file path", func(c *Config) { c.EventLog.Path = "" }},
		{"empty db", func(c *Config) { c.EventLog.Backend = BackendSQLite; c.EventLog.DB = "" }},
		{"unknown stream mode", func(c *Config) { c.Stream.Mode = "carrier-pigeon" }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
		{"negative timeout", func(c *Config) { c.Device.Timeout = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
