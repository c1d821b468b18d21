// Package broker defines the fabric's broker-agnostic pub/sub contract
// (component C4's transport) and a pluggable-backend factory registry,
// generalized from the teacher framework's core.Broker: where the
// teacher subscribes once per process-lifetime topic pattern and blocks
// until shutdown, the fabric's connection registry subscribes and
// unsubscribes individual topics continuously as users bind/unbind and
// channels gain/lose their last local subscriber, so Subscribe here
// returns a Subscription handle instead of blocking.
package broker

import (
	"context"

	"github.com/meshline/fabric/wire"
)

// Handler is invoked for every message delivered on a subscribed topic.
type Handler func(ctx context.Context, topic string, env wire.Envelope) error

// Subscription is returned by Subscribe; Unsubscribe tears down just
// that one topic subscription.
type Subscription interface {
	Unsubscribe() error
}

// Broker is the contract every broker backend plugin implements.
type Broker interface {
	// Publish fans out env under topic. Publish is fire-and-forget: the
	// fabric's Non-goals exclude delivery guarantees beyond the broker's
	// own queues (SPEC_FULL.md §1).
	Publish(ctx context.Context, topic string, env wire.Envelope) error

	// Subscribe registers handler for an exact topic string (no
	// wildcards — the fabric subscribes one topic per uid/channel/
	// location, see connregistry).
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)

	Close() error
}
