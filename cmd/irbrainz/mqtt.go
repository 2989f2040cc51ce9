package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig configures the status publisher.
type MQTTConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Broker       string `yaml:"broker"`
	ClientID     string `yaml:"client_id"`
	Username     string `yaml:"username,omitempty"`
	PasswordFile string `yaml:"password_file,omitempty"`
	TopicPrefix  string `yaml:"topic_prefix"`
}

const mqttPublishTimeout = 2 * time.Second

// MQTTPublisher mirrors status events to an MQTT broker:
//   - <prefix>/availability   online/offline (retained, offline is the LWT)
//   - <prefix>/event/<type>   every status event as JSON
//   - <prefix>/mode/<name>    current device modes (retained)
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
	modes  *DeviceModes
	logger *slog.Logger
}

// NewMQTTPublisher builds the client; Connect starts the connection.
func NewMQTTPublisher(cfg MQTTConfig, password string, modes *DeviceModes, logger *slog.Logger) *MQTTPublisher {
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(password)

	opts.SetKeepAlive(10 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)

	// Keep running if the broker is not up yet.
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetOrderMatters(false)

	opts.SetWill(prefix+"/availability", "offline", 1, true)

	p := &MQTTPublisher{
		prefix: prefix,
		modes:  modes,
		logger: logger,
	}

	opts.SetOnConnectHandler(p.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost; retrying in background", "error", err)
	})

	p.client = mqtt.NewClient(opts)
	return p
}

// Connect starts the connection loop. With connect-retry enabled an error
// here means a configuration problem rather than an unreachable broker.
func (p *MQTTPublisher) Connect() error {
	p.logger.Info("mqtt connecting", "prefix", p.prefix)
	token := p.client.Connect()
	if token.WaitTimeout(mqttPublishTimeout) && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return nil
}

func (p *MQTTPublisher) onConnect(c mqtt.Client) {
	p.logger.Info("mqtt connected")
	p.publish("availability", "online", true)
	if p.modes == nil {
		return
	}
	for name, value := range p.modes.Snapshot() {
		p.publish("mode/"+name, value, true)
	}
}

// Run publishes status events until ctx is cancelled, then marks the daemon offline.
func (p *MQTTPublisher) Run(ctx context.Context, src <-chan StatusEvent) {
	defer p.disconnect()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-src:
			p.handle(ev)
		}
	}
}

func (p *MQTTPublisher) handle(ev StatusEvent) {
	payload, err := json.Marshal(envelope{Type: string(ev.Type), Ts: &ev.At, Data: ev.Data})
	if err != nil {
		p.logger.Warn("mqtt marshal failed", "type", ev.Type, "error", err)
		return
	}
	p.publish("event/"+string(ev.Type), string(payload), false)

	if mc, ok := ev.Data.(ModeChangedData); ok {
		p.publish("mode/"+mc.Mode, mc.Value, true)
	}
}

func (p *MQTTPublisher) publish(subtopic, payload string, retained bool) {
	if !p.client.IsConnected() {
		return
	}
	topic := p.prefix + "/" + subtopic
	token := p.client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		p.logger.Warn("mqtt publish timed out", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		p.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}

func (p *MQTTPublisher) disconnect() {
	if !p.client.IsConnected() {
		return
	}
	p.publish("availability", "offline", true)
	p.client.Disconnect(250)
	p.logger.Info("mqtt disconnected")
}
