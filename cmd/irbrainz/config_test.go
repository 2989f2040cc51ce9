package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseConfig_OverlaysDefaults(t *testing.T) {
	cfg, err := parseConfig([]byte(`
input:
  devices:
    - /dev/input/event5
  grab: true
lirc:
  socket: /run/lirc/lircd
sequencer:
  step_delay_ms: 150
keymap:
  59: volume_up
schedules:
  - spec: "0 7 * * *"
    trigger: tv_mode
`))
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}

	if len(cfg.Input.Devices) != 1 || cfg.Input.Devices[0] != "/dev/input/event5" || !cfg.Input.Grab {
		t.Fatalf("input not parsed: %+v", cfg.Input)
	}
	if cfg.Lirc.Socket != "/run/lirc/lircd" {
		t.Fatalf("lirc.socket = %q", cfg.Lirc.Socket)
	}
	// Unset keys keep their defaults.
	if cfg.Lirc.TimeoutMS != defaultLircTimeoutMS || cfg.Input.RetryIntervalMS != defaultRetryIntervalMS {
		t.Fatalf("defaults lost: %+v %+v", cfg.Lirc, cfg.Input)
	}
	if cfg.StepDelay() != 150*time.Millisecond {
		t.Fatalf("StepDelay = %v", cfg.StepDelay())
	}
	if cfg.RetryInterval() != 5*time.Second {
		t.Fatalf("RetryInterval = %v", cfg.RetryInterval())
	}
	if cfg.Keymap[59] != "volume_up" {
		t.Fatalf("keymap = %v", cfg.Keymap)
	}
	if len(cfg.Schedules) != 1 || cfg.Schedules[0].Trigger != "tv_mode" {
		t.Fatalf("schedules = %+v", cfg.Schedules)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParseConfig_RejectsUnknownFields(t *testing.T) {
	_, err := parseConfig([]byte("lirc:\n  sokcet: /tmp/x\n"))
	if err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestParseConfig_RejectsTrailingDocument(t *testing.T) {
	_, err := parseConfig([]byte("ipc:\n  socket_path: /tmp/a.sock\n---\nipc:\n  socket_path: /tmp/b.sock\n"))
	if err == nil || !strings.Contains(err.Error(), "trailing") {
		t.Fatalf("expected trailing document error, got %v", err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "irbrainz.yaml")
	if err := os.WriteFile(path, []byte("status:\n  port: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.Status.Port != 0 {
		t.Fatalf("status.port = %d, want 0", cfg.Status.Port)
	}

	if _, err := LoadConfigFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := LoadConfigFile(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestFlagOverrides_Apply(t *testing.T) {
	cfg := DefaultConfig()
	level := "debug"
	sock := "/tmp/other.sock"

	FlagOverrides{
		Devices:       []string{"/dev/input/event9"},
		LogLevel:      &level,
		IPCSocketPath: &sock,
	}.Apply(&cfg)

	if len(cfg.Input.Devices) != 1 || cfg.Input.Devices[0] != "/dev/input/event9" {
		t.Fatalf("devices = %v", cfg.Input.Devices)
	}
	if cfg.Logging.Level != "debug" || cfg.IPC.SocketPath != sock {
		t.Fatalf("overrides not applied: %+v %+v", cfg.Logging, cfg.IPC)
	}
	if cfg.Lirc.Socket != defaultLircSocket {
		t.Fatalf("unset override changed lirc.socket to %q", cfg.Lirc.Socket)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errHas string
	}{
		{"no devices", func(c *Config) { c.Input.Devices = nil }, "input.devices"},
		{"empty device", func(c *Config) { c.Input.Devices = []string{""} }, "input.devices[0]"},
		{"retry interval", func(c *Config) { c.Input.RetryIntervalMS = 0 }, "retry_interval_ms"},
		{"step delay", func(c *Config) { c.Sequencer.StepDelayMS = -1 }, "step_delay_ms"},
		{"hass token", func(c *Config) { c.Hass.Enabled = true }, "token_file"},
		{"mqtt prefix", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.TopicPrefix = "/" }, "topic_prefix"},
		{"status port", func(c *Config) { c.Status.Port = 70000 }, "status.port"},
		{"influx token", func(c *Config) { c.Influx.Enabled = true }, "influx.token_file"},
		{"influx bucket", func(c *Config) { c.Influx.Enabled = true; c.Influx.TokenFile = "t"; c.Influx.Bucket = "" }, "influx.bucket"},
		{"schedule", func(c *Config) { c.Schedules = []ScheduleEntry{{Spec: "@hourly"}} }, "schedules[0]"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"no log sink", func(c *Config) { c.Logging.File = ""; c.Logging.Stdout = false }, "logging"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.errHas) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.errHas)
			}
		})
	}

	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/irbrainz.db"); got != filepath.Join(home, "irbrainz.db") {
		t.Fatalf("ExpandPath = %q", got)
	}
	if got := ExpandPath("/abs/path"); got != "/abs/path" {
		t.Fatalf("ExpandPath changed an absolute path: %q", got)
	}
}

func TestReadSecretFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	if err := os.WriteFile(path, []byte("  abc123\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := readSecretFile(path)
	if err != nil || got != "abc123" {
		t.Fatalf("readSecretFile = %q, %v", got, err)
	}

	empty := filepath.Join(dir, "empty")
	if err := os.WriteFile(empty, []byte("\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := readSecretFile(empty); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{
		"error":   LogLevelError,
		"WARN":    LogLevelWarn,
		"warning": LogLevelWarn,
		"info":    LogLevelInfo,
		"debug":   LogLevelDebug,
	} {
		got, err := parseLogLevel(in)
		if err != nil || got != want {
			t.Fatalf("parseLogLevel(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := parseLogLevel("verbose"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestSetupLogger_WritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "irbrainz.log")
	logger, closer := setupLogger(LogLevelInfo, LoggingConfig{
		File:       path,
		MaxSizeMB:  1,
		MaxBackups: 1,
	})
	logger.Debug("hidden")
	logger.Info("hello", "k", "v")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(b)
	if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "k=v") {
		t.Fatalf("log file missing entry: %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug entry written at info level: %q", out)
	}
}
