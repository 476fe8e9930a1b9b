package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/obsidianstack/sortline/internal/config"
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 2 * time.Second
)

// MQTT publishes notifications as JSON to a broker topic.
type MQTT struct {
	cfg    config.MQTTConfig
	client mqtt.Client
	now    func() time.Time

	mu        sync.Mutex
	connected bool
	published uint64
	errors    uint64
}

// NewMQTT builds the publisher. Connect must be called before notifications
// are delivered.
func NewMQTT(cfg config.MQTTConfig) *MQTT {
	m := &MQTT{cfg: cfg, now: time.Now}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username())
	opts.SetPassword(cfg.Password())
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		m.setConnected(true)
		slog.Info("notify: mqtt connected", "broker", cfg.Broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		m.setConnected(false)
		slog.Warn("notify: mqtt connection lost, will auto-reconnect",
			"broker", cfg.Broker, "err", err)
	}

	m.client = mqtt.NewClient(opts)
	return m
}

// Connect dials the broker.
func (m *MQTT) Connect() error {
	token := m.client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return fmt.Errorf("notify: mqtt connect to %s: timeout", m.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("notify: mqtt connect to %s: %w", m.cfg.Broker, err)
	}
	m.setConnected(true)
	return nil
}

// Notify publishes in the background; failures are logged.
func (m *MQTT) Notify(message string, sev Severity) {
	go func() {
		if err := m.Publish(message, sev); err != nil {
			slog.Error("notify: mqtt publish failed", "topic", m.cfg.Topic, "err", err)
		}
	}()
}

// Publish sends one notification synchronously.
func (m *MQTT) Publish(message string, sev Severity) error {
	if !m.isConnected() {
		m.countError()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(Notification{Message: message, Severity: sev, Time: m.now().UTC()})
	if err != nil {
		m.countError()
		return fmt.Errorf("marshal notification: %w", err)
	}

	token := m.client.Publish(m.cfg.Topic, m.cfg.QoS, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		m.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		m.countError()
		return fmt.Errorf("publish: %w", err)
	}

	m.mu.Lock()
	m.published++
	m.mu.Unlock()
	slog.Debug("notify: mqtt published", "topic", m.cfg.Topic, "size", len(payload))
	return nil
}

// Disconnect closes the broker connection.
func (m *MQTT) Disconnect() {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
		slog.Info("notify: mqtt disconnected")
	}
	m.setConnected(false)
}

// Stats returns the published and failed counts.
func (m *MQTT) Stats() (published, errors uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published, m.errors
}

func (m *MQTT) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

func (m *MQTT) isConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MQTT) countError() {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
}
