// Package notify fans attendance updates out to live observers. Delivery is
// fire-and-forget: a slow or gone subscriber gets drops, never a stall, and
// nothing is replayed for subscribers that join later.
package notify

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	subscriberGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "attendance_hub_subscribers",
		Help: "Current number of hub subscribers.",
	})
	droppedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_hub_dropped_total",
		Help: "Messages dropped because a subscriber buffer was full.",
	}, []string{"topic"})
)

// Subscription is one observer's feed. Read from C; Close when done.
type Subscription struct {
	topic string
	ch    chan []byte
	hub   *Hub
	once  sync.Once
}

// C returns the subscriber's message channel. It is closed when either the
// subscription or the hub closes.
func (s *Subscription) C() <-chan []byte {
	return s.ch
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Hub groups subscribers by topic and broadcasts marshaled payloads to each
// with a non-blocking send.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string][]*Subscription
	closed bool
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string][]*Subscription),
		logger: logger,
	}
}

// Subscribe registers an observer on topic with the given channel buffer.
func (h *Hub) Subscribe(topic string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &Subscription{topic: topic, ch: make(chan []byte, buffer), hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub
	}
	h.subs[topic] = append(h.subs[topic], sub)
	subscriberGauge.Inc()
	h.logger.Debug("subscriber joined", "topic", topic, "total", len(h.subs[topic]))
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	// Closing under the write lock keeps Broadcast (which sends under the
	// read lock) from racing a send against the close.
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.subs[sub.topic]
	for i, s := range list {
		if s == sub {
			list[i] = list[len(list)-1]
			h.subs[sub.topic] = list[:len(list)-1]
			subscriberGauge.Dec()
			break
		}
	}
	sub.once.Do(func() { close(sub.ch) })
}

// Broadcast marshals v once and delivers it to every current subscriber of
// topic. Full buffers drop; no ordering is guaranteed across subscribers.
func (h *Hub) Broadcast(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("broadcast marshal failed", "topic", topic, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}

	for _, sub := range h.subs[topic] {
		select {
		case sub.ch <- payload:
		default:
			droppedCounter.WithLabelValues(topic).Inc()
			h.logger.Debug("subscriber buffer full, dropping update", "topic", topic)
		}
	}
}

// Close shuts the hub down and closes every subscriber channel.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for _, list := range h.subs {
		for _, sub := range list {
			subscriberGauge.Dec()
			sub.once.Do(func() { close(sub.ch) })
		}
	}
	h.subs = make(map[string][]*Subscription)
	h.mu.Unlock()

	h.logger.Info("hub closed")
}
