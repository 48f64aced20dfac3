package broker

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTT subscribes to the scan topics on an MQTT broker and feeds messages into
// a channel. Reconnects are automatic with capped backoff; subscriptions are
// re-established on every (re)connect because the broker may have dropped
// session state while we were away.
type MQTT struct {
	client mqtt.Client
	topics []string
	msgs   chan Message
	logger *slog.Logger

	mu        sync.Mutex
	connected bool
	dropped   uint64
}

// NewMQTT builds an unconnected MQTT source for the given topics.
func NewMQTT(brokerURL, clientID string, topics []string, logger *slog.Logger) *MQTT {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MQTT{
		topics: topics,
		msgs:   make(chan Message, 256),
		logger: logger,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		m.mu.Lock()
		m.connected = true
		m.mu.Unlock()
		m.logger.Info("mqtt connection established", "broker", brokerURL, "client_id", clientID)
		m.subscribeAll(c)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		m.mu.Lock()
		m.connected = false
		m.mu.Unlock()
		m.logger.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", brokerURL,
		)
	}

	m.client = mqtt.NewClient(opts)
	return m
}

// Connect establishes the initial connection; subscriptions happen in the
// OnConnect handler.
func (m *MQTT) Connect() error {
	token := m.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

// Messages returns the inbound channel.
func (m *MQTT) Messages() <-chan Message {
	return m.msgs
}

// Close unsubscribes and disconnects with a short grace period.
func (m *MQTT) Close() error {
	if m.client.IsConnected() {
		if token := m.client.Unsubscribe(m.topics...); token.WaitTimeout(2 * time.Second) {
			if err := token.Error(); err != nil {
				m.logger.Warn("mqtt unsubscribe failed", "error", err)
			}
		}
		m.client.Disconnect(250)
		m.logger.Info("mqtt disconnected")
	}
	// msgs is left open: paho handler goroutines may still be in flight and
	// the listener exits via its own context.
	return nil
}

// Connected reports the current connection state, for health checks.
func (m *MQTT) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MQTT) subscribeAll(c mqtt.Client) {
	filters := make(map[string]byte, len(m.topics))
	for _, t := range m.topics {
		filters[t] = 0 // QoS 0: at-most-once, losses during disconnect accepted
	}
	token := c.SubscribeMultiple(filters, m.onMessage)
	if !token.WaitTimeout(5 * time.Second) {
		m.logger.Error("mqtt subscribe timeout", "topics", m.topics)
		return
	}
	if err := token.Error(); err != nil {
		m.logger.Error("mqtt subscribe failed", "topics", m.topics, "error", err)
		return
	}
	m.logger.Info("mqtt subscribed", "topics", m.topics)
}

func (m *MQTT) onMessage(_ mqtt.Client, msg mqtt.Message) {
	select {
	case m.msgs <- Message{Topic: msg.Topic(), Payload: msg.Payload()}:
	default:
		m.mu.Lock()
		m.dropped++
		n := m.dropped
		m.mu.Unlock()
		m.logger.Warn("inbound buffer full, dropping message",
			"topic", msg.Topic(),
			"dropped_total", n,
		)
	}
}
