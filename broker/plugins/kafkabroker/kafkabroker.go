// Package kafkabroker implements broker.Broker over Kafka using
// segmentio/kafka-go, for deployments that want the fabric's broker
// backed by a durable log rather than NATS core's fire-and-forget
// fan-out. Adapted from the teacher framework's plugins/kafka package:
// one shared kafka.Writer for Publish, and one kafka.Reader per
// Subscribe call (each fabric topic becomes its own Kafka topic).
package kafkabroker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/meshline/fabric/broker"
	"github.com/meshline/fabric/wire"
)

func init() {
	broker.Register("kafka", func(cfg broker.Config) (broker.Broker, error) {
		return New(cfg.Brokers, cfg.Group)
	})
}

// Broker implements broker.Broker over Kafka.
type Broker struct {
	brokers []string
	group   string
	writer  *kafka.Writer

	mu      sync.Mutex
	closed  bool
	readers []*kafka.Reader
}

// New creates a Kafka-backed Broker. group identifies the consumer
// group used by every Subscribe call's reader.
func New(brokers []string, group string) (*Broker, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafkabroker: at least one broker address is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
	return &Broker{brokers: brokers, group: group, writer: w}, nil
}

func (b *Broker) Publish(ctx context.Context, topic string, env wire.Envelope) error {
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
	msg := kafka.Message{Topic: kafkaTopic(topic), Value: data}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafkabroker: publish to %q: %w", topic, err)
	}
	return nil
}

type subscription struct {
	cancel context.CancelFunc
	reader *kafka.Reader
}

func (s *subscription) Unsubscribe() error {
	s.cancel()
	if err := s.reader.Close(); err != nil {
		return fmt.Errorf("kafkabroker: close reader: %w", err)
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

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: b.brokers,
		Topic:   kafkaTopic(topic),
		GroupID: b.group,
	})

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		for {
			m, err := r.ReadMessage(subCtx)
			if err != nil {
				return
			}
			env, err := wire.Unmarshal(m.Value)
			if err != nil {
				continue
			}
			_ = handler(subCtx, topic, env)
		}
	}()

	b.mu.Lock()
	b.readers = append(b.readers, r)
	b.mu.Unlock()

	return &subscription{cancel: cancel, reader: r}, nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, r := range b.readers {
		r.Close()
	}
	return b.writer.Close()
}

// kafkaTopic sanitizes a fabric topic (colon-delimited) into a valid
// Kafka topic name.
func kafkaTopic(topic string) string {
	return strings.ReplaceAll(topic, ":", "__")
}
