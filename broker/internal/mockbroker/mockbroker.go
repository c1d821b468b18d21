// Package mockbroker is a test double for broker.Broker, adapted from
// the teacher framework's internal/mock package: it records every
// Publish and lets a test Deliver a message straight to a topic's
// registered handler, without a real broker connection.
package mockbroker

import (
	"context"
	"fmt"
	"sync"

	"github.com/meshline/fabric/broker"
	"github.com/meshline/fabric/wire"
)

// Published records one message sent through Publish.
type Published struct {
	Topic string
	Env   wire.Envelope
}

// Broker is an in-memory broker.Broker double.
type Broker struct {
	mu        sync.Mutex
	published []Published
	handlers  map[string]broker.Handler
	closed    bool

	SubscribeErr error
	PublishErr   error
}

// New creates an empty mock broker.
func New() *Broker {
	return &Broker{handlers: make(map[string]broker.Handler)}
}

func (b *Broker) Publish(_ context.Context, topic string, env wire.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.PublishErr != nil {
		return b.PublishErr
	}
	b.published = append(b.published, Published{Topic: topic, Env: env})
	return nil
}

type subscription struct {
	b     *Broker
	topic string
}

func (s *subscription) Unsubscribe() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if _, ok := s.b.handlers[s.topic]; !ok {
		return broker.ErrNotSubscribed
	}
	delete(s.b.handlers, s.topic)
	return nil
}

func (b *Broker) Subscribe(_ context.Context, topic string, handler broker.Handler) (broker.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SubscribeErr != nil {
		return nil, b.SubscribeErr
	}
	if _, exists := b.handlers[topic]; exists {
		return nil, fmt.Errorf("mockbroker: already subscribed to %q", topic)
	}
	b.handlers[topic] = handler
	return &subscription{b: b, topic: topic}, nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Deliver simulates an inbound message on topic, invoking its registered
// handler if one is currently subscribed.
func (b *Broker) Deliver(ctx context.Context, topic string, env wire.Envelope) error {
	b.mu.Lock()
	h, ok := b.handlers[topic]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("mockbroker: no subscriber for %q", topic)
	}
	return h(ctx, topic, env)
}

// Published returns every message sent via Publish so far.
func (b *Broker) Published() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Published, len(b.published))
	copy(out, b.published)
	return out
}

// Subscribed reports whether topic currently has a registered handler.
func (b *Broker) Subscribed(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.handlers[topic]
	return ok
}

// SubscribedTopics returns every currently-subscribed topic, for
// asserting the index-to-subscription bijection invariant.
func (b *Broker) SubscribedTopics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.handlers))
	for t := range b.handlers {
		out = append(out, t)
	}
	return out
}

func (b *Broker) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
