// Package broker abstracts the inbound scan transport. The listener consumes
// a plain message channel; implementations are the MQTT subscriber used in
// production and a channel-backed broker for dev/testing.
package broker

import "context"

// Message is one raw inbound payload.
type Message struct {
	Topic   string
	Payload []byte
}

// Source is what the listener consumes.
type Source interface {
	Messages() <-chan Message
	Close() error
}

// InMemory is a minimal channel-backed broker for dev/testing.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates a bounded in-memory broker.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size)}
}

// Publish enqueues a message.
func (b *InMemory) Publish(ctx context.Context, msg Message) error {
	select {
	case b.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages returns the consumption channel.
func (b *InMemory) Messages() <-chan Message {
	return b.ch
}

// Close closes the channel; consumers drain and stop.
func (b *InMemory) Close() error {
	close(b.ch)
	return nil
}
