// Package natsbroker implements broker.Broker over NATS core pub/sub —
// the fabric's default backend, since core NATS (unlike JetStream) has
// no persistence and is fire-and-forget by construction, which matches
// the fabric's delivery Non-goals exactly (SPEC_FULL.md §1, §6).
// Adapted from the teacher framework's plugins/nats package, stripped
// of JetStream streams/consumers since the fabric needs plain subject
// subscribe/unsubscribe, not durable delivery.
package natsbroker

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/meshline/fabric/broker"
	"github.com/meshline/fabric/wire"
)

func init() {
	broker.Register("nats", func(cfg broker.Config) (broker.Broker, error) {
		if len(cfg.Brokers) == 0 {
			return nil, fmt.Errorf("natsbroker: at least one broker URL is required")
		}
		return New(cfg.Brokers[0])
	})
}

// Broker implements broker.Broker over a single NATS connection.
type Broker struct {
	conn *nats.Conn

	mu     sync.Mutex
	closed bool
}

// New dials url (a standard nats://host:port URL) and returns a Broker.
func New(url string) (*Broker, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("natsbroker: connect to %q: %w", url, err)
	}
	return &Broker{conn: nc}, nil
}

func (b *Broker) Publish(_ context.Context, topic string, env wire.Envelope) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return broker.ErrClosed
	}
	b.mu.Unlock()

	data, err := wire.Marshal(env)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(subject(topic), data); err != nil {
		return fmt.Errorf("natsbroker: publish to %q: %w", topic, err)
	}
	return nil
}

type subscription struct{ sub *nats.Subscription }

func (s *subscription) Unsubscribe() error {
	if err := s.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("natsbroker: unsubscribe: %w", err)
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, topic string, handler broker.Handler) (broker.Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, broker.ErrClosed
	}
	b.mu.Unlock()

	sub, err := b.conn.Subscribe(subject(topic), func(m *nats.Msg) {
		env, err := wire.Unmarshal(m.Data)
		if err != nil {
			return
		}
		_ = handler(ctx, topic, env)
	})
	if err != nil {
		return nil, fmt.Errorf("natsbroker: subscribe %q: %w", topic, err)
	}
	return &subscription{sub: sub}, nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.conn.Close()
	return nil
}

// subject sanitizes a fabric topic (colon-delimited) into a valid NATS
// subject (dot-delimited); NATS treats ':' as an ordinary subject
// character so this is cosmetic but keeps subjects idiomatic.
func subject(topic string) string {
	out := make([]byte, len(topic))
	for i := 0; i < len(topic); i++ {
		if topic[i] == ':' {
			out[i] = '.'
		} else {
			out[i] = topic[i]
		}
	}
	return string(out)
}
