package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the irbrainz daemon.
//
// Layering: DefaultConfig -> config file -> flag overrides -> Validate.
type Config struct {
	// Input devices (evdev)
	Input InputConfig `yaml:"input"`

	// lircd transmitter
	Lirc LircConfig `yaml:"lirc"`

	// Composite action timing
	Sequencer SequencerConfig `yaml:"sequencer"`

	// Home Assistant service calls
	Hass HassConfig `yaml:"hass"`

	// Key code -> trigger overrides. Empty keeps the built-in keymap.
	Keymap map[int]string `yaml:"keymap,omitempty"`

	// Lua action scripts
	Scripts ScriptsConfig `yaml:"scripts"`

	// Device mode persistence
	Modes ModesConfig `yaml:"modes"`

	IPC    IPCConfig    `yaml:"ipc"`
	Status StatusConfig `yaml:"status"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
	Influx InfluxConfig `yaml:"influx"`

	Schedules []ScheduleEntry `yaml:"schedules,omitempty"`

	Logging LoggingConfig `yaml:"logging"`
}

type InputConfig struct {
	Devices         []string `yaml:"devices"`
	Grab            bool     `yaml:"grab"`
	RetryIntervalMS int      `yaml:"retry_interval_ms"`
}

type LircConfig struct {
	Socket         string  `yaml:"socket"`
	TimeoutMS      int     `yaml:"timeout_ms"`
	SendRatePerSec float64 `yaml:"send_rate_per_sec"`
	SendBurst      int     `yaml:"send_burst"`
}

type SequencerConfig struct {
	StepDelayMS int `yaml:"step_delay_ms"`
}

type HassConfig struct {
	Enabled   bool   `yaml:"enabled"`
	WsURL     string `yaml:"ws_url"`
	TokenFile string `yaml:"token_file"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type ScriptsConfig struct {
	Dir string `yaml:"dir"`
}

type ModesConfig struct {
	DBPath string `yaml:"db_path"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type StatusConfig struct {
	Port int `yaml:"port"` // 0 disables the status server

	// Control enables the trigger/cancel endpoints under /api/v1.
	Control bool `yaml:"control"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"` // empty disables the file sink
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	Stdout     bool   `yaml:"stdout"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Input: InputConfig{
			Devices:         []string{defaultMacropadDevice, defaultNumpadDevice},
			RetryIntervalMS: defaultRetryIntervalMS,
		},
		Lirc: LircConfig{
			Socket:         defaultLircSocket,
			TimeoutMS:      defaultLircTimeoutMS,
			SendRatePerSec: defaultSendRatePerSec,
			SendBurst:      defaultSendBurst,
		},
		Sequencer: SequencerConfig{
			StepDelayMS: defaultStepDelayMS,
		},
		Hass: HassConfig{
			WsURL:     "ws://homeassistant.local:8123/api/websocket",
			TimeoutMS: defaultHassTimeoutMS,
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocket,
		},
		Status: StatusConfig{
			Port:    defaultStatusPort,
			Control: true,
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "irbrainz",
			TopicPrefix: "irbrainz",
		},
		Influx: InfluxConfig{
			URL:             "http://localhost:8086",
			Org:             "home",
			Bucket:          "irbrainz",
			BatchSize:       100,
			FlushIntervalMS: 5000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       defaultLogFile,
			MaxSizeMB:  5,
			MaxBackups: 2,
			Stdout:     true,
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of the defaults.
// Unknown fields are rejected.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document. Decode into a
	// generic value: KnownFields would reject a struct{} target outright.
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides holds flag values that take precedence over the file.
// A nil field was not set on the command line.
type FlagOverrides struct {
	Devices       []string
	LogLevel      *string
	LircSocket    *string
	IPCSocketPath *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if len(o.Devices) > 0 {
		cfg.Input.Devices = append([]string(nil), o.Devices...)
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.LircSocket != nil {
		cfg.Lirc.Socket = *o.LircSocket
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
}

// Validate checks config invariants and returns a user-friendly error.
// It is called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Input
	if len(c.Input.Devices) == 0 {
		return errors.New("input.devices must not be empty")
	}
	for i, dev := range c.Input.Devices {
		if dev == "" {
			return fmt.Errorf("input.devices[%d] is empty", i)
		}
	}
	if c.Input.RetryIntervalMS <= 0 {
		return errors.New("input.retry_interval_ms must be > 0")
	}

	// lircd
	if c.Lirc.Socket == "" {
		return errors.New("lirc.socket must not be empty")
	}
	if c.Lirc.TimeoutMS <= 0 {
		return errors.New("lirc.timeout_ms must be > 0")
	}
	if c.Lirc.SendRatePerSec < 0 {
		return errors.New("lirc.send_rate_per_sec must be >= 0")
	}
	if c.Lirc.SendBurst < 0 {
		return errors.New("lirc.send_burst must be >= 0")
	}

	if c.Sequencer.StepDelayMS <= 0 {
		return errors.New("sequencer.step_delay_ms must be > 0")
	}

	// Home Assistant
	if c.Hass.Enabled {
		if c.Hass.WsURL == "" {
			return errors.New("hass.enabled is true but hass.ws_url is empty")
		}
		if c.Hass.TokenFile == "" {
			return errors.New("hass.enabled is true but hass.token_file is empty")
		}
		if c.Hass.TimeoutMS <= 0 {
			return errors.New("hass.timeout_ms must be > 0")
		}
	}

	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}
	if c.Status.Port < 0 || c.Status.Port > 65535 {
		return errors.New("status.port must be between 0 and 65535")
	}

	// MQTT
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return errors.New("mqtt.enabled is true but mqtt.broker is empty")
		}
		if c.MQTT.ClientID == "" {
			return errors.New("mqtt.client_id must not be empty")
		}
		if strings.Trim(c.MQTT.TopicPrefix, "/") == "" {
			return errors.New("mqtt.topic_prefix must not be empty")
		}
	}

	// Influx
	if c.Influx.Enabled {
		if c.Influx.URL == "" || c.Influx.TokenFile == "" {
			return errors.New("influx.enabled requires influx.url and influx.token_file")
		}
		if c.Influx.Org == "" || c.Influx.Bucket == "" {
			return errors.New("influx.org and influx.bucket must not be empty")
		}
		if c.Influx.BatchSize < 0 || c.Influx.FlushIntervalMS < 0 {
			return errors.New("influx.batch_size and influx.flush_interval_ms must be >= 0")
		}
	}

	for i, s := range c.Schedules {
		if s.Spec == "" || s.Trigger == "" {
			return fmt.Errorf("schedules[%d]: spec and trigger are required", i)
		}
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Logging.File != "" {
		if c.Logging.MaxSizeMB <= 0 {
			return errors.New("logging.max_size_mb must be > 0")
		}
		if c.Logging.MaxBackups < 0 {
			return errors.New("logging.max_backups must be >= 0")
		}
	}
	if c.Logging.File == "" && !c.Logging.Stdout {
		return errors.New("logging: enable stdout or set a log file")
	}

	return nil
}

func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.Input.RetryIntervalMS) * time.Millisecond
}

func (c *Config) StepDelay() time.Duration {
	return time.Duration(c.Sequencer.StepDelayMS) * time.Millisecond
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}

// readSecretFile returns the trimmed contents of a token/password file.
func readSecretFile(path string) (string, error) {
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return "", fmt.Errorf("read secret file: %w", err)
	}
	secret := strings.TrimSpace(string(b))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", path)
	}
	return secret, nil
}
