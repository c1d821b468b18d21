// Package connregistry is the per-process connection registry (C2): a
// four-index table — connections, uid↔connection, channel↔connections,
// location↔uids — bridged to the broker so that remote publishes reach
// locally-subscribed connections. Grounded on the original's
// ConnectionManager/DistributedConnectionManager/LocationMixin
// (outer_server/connection_manager.py), generalized from ZeroMQ
// SUBSCRIBE/UNSUBSCRIBE socket options to broker.Broker's dynamic
// Subscribe/Unsubscribe.
package connregistry

import (
	"context"
	"sync"

	"github.com/meshline/fabric/broker"
	"github.com/meshline/fabric/wire"
)

// LocationSubscriber is the subscription side of the location-messages
// stream: messagemanager's single aggregating SUB socket dialed to
// every LIVE location's PUB endpoint. Unlike send_by_uid/
// publish_to_channel (bridged through the pluggable broker.Broker),
// public/private location messages arrive straight off each location
// process's own ZeroMQ PUB socket — the registry only needs to steer
// that socket's subscription filter, never deliver through it itself;
// delivery for those two topics is messagemanager's job (spec-exact
// publish_to_location / front-end-root dispatch), done once per
// inbound frame rather than once per attached connection.
type LocationSubscriber interface {
	Subscribe(topic string) error
	Unsubscribe(topic string) error
}

// Registry holds the four indexes under a single mutex (§5: one
// logical owner per process, reached here from the TCP accept
// goroutine, each connection's read goroutine, and the message
// manager's broker-callback goroutine).
type Registry struct {
	b      broker.Broker
	locSub LocationSubscriber

	mu sync.Mutex

	connections map[ConnID]Connection

	uidToConn map[string]ConnID
	connToUID map[ConnID]string

	channelToConns map[string]map[ConnID]struct{}
	connToChannels map[ConnID]map[string]struct{}

	uidToLocation  map[string]string
	locationToUIDs map[string]map[string]struct{}
	locationPubRef map[string]int

	subs map[string]broker.Subscription
}

// New creates an empty Registry bridged to b for remote fan-out. b may
// be nil in tests that never cross a process boundary; every remote
// path (broker subscribe, unsubscribe, publish) is then skipped and
// reports no error.
func New(b broker.Broker) *Registry {
	return &Registry{
		b:              b,
		connections:    make(map[ConnID]Connection),
		uidToConn:      make(map[string]ConnID),
		connToUID:      make(map[ConnID]string),
		channelToConns: make(map[string]map[ConnID]struct{}),
		connToChannels: make(map[ConnID]map[string]struct{}),
		uidToLocation:  make(map[string]string),
		locationToUIDs: make(map[string]map[string]struct{}),
		locationPubRef: make(map[string]int),
		subs:           make(map[string]broker.Subscription),
	}
}

// Add records conn. Returns ErrAlreadyAdded if conn.ID() is already present.
func (r *Registry) Add(conn Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.connections[conn.ID()]; ok {
		return ErrAlreadyAdded
	}
	r.connections[conn.ID()] = conn
	return nil
}

// BindUID binds conn to uid and subscribes send_by_uid:uid on the
// broker so remote SendByUID calls reach this process.
func (r *Registry) BindUID(conn Connection, uid string) error {
	r.mu.Lock()
	if _, ok := r.connections[conn.ID()]; !ok {
		r.mu.Unlock()
		return ErrUnknownConnection
	}
	if existing, ok := r.uidToConn[uid]; ok && existing != conn.ID() {
		r.mu.Unlock()
		return ErrUIDTaken
	}
	r.uidToConn[uid] = conn.ID()
	r.connToUID[conn.ID()] = uid
	r.mu.Unlock()

	return r.subscribe(sendByUIDTopic(uid), func(ctx context.Context, topic string, env wire.Envelope) error {
		r.mu.Lock()
		c, ok := r.connections[r.uidToConn[uid]]
		r.mu.Unlock()
		if !ok {
			return nil
		}
		return c.Send(env)
	})
}

// SubscribeChannel adds conn as a subscriber of channel. Idempotent per
// (conn, channel); the first subscriber in the process subscribes
// publish_to_channel:channel on the broker.
func (r *Registry) SubscribeChannel(conn Connection, channel string) error {
	r.mu.Lock()
	if _, ok := r.connections[conn.ID()]; !ok {
		r.mu.Unlock()
		return ErrUnknownConnection
	}
	conns, exists := r.channelToConns[channel]
	if !exists {
		conns = make(map[ConnID]struct{})
		r.channelToConns[channel] = conns
	}
	first := len(conns) == 0
	conns[conn.ID()] = struct{}{}

	chans, ok := r.connToChannels[conn.ID()]
	if !ok {
		chans = make(map[string]struct{})
		r.connToChannels[conn.ID()] = chans
	}
	chans[channel] = struct{}{}
	r.mu.Unlock()

	if !first {
		return nil
	}
	return r.subscribe(publishToChannelTopic(channel), func(ctx context.Context, topic string, env wire.Envelope) error {
		return r.deliverToChannel(channel, env)
	})
}

// UnsubscribeChannel removes conn from channel. When it was the last
// subscriber in the process, the broker topic is unsubscribed.
func (r *Registry) UnsubscribeChannel(conn Connection, channel string) error {
	r.mu.Lock()
	conns, ok := r.channelToConns[channel]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(conns, conn.ID())
	last := len(conns) == 0
	if last {
		delete(r.channelToConns, channel)
	}
	if chans, ok := r.connToChannels[conn.ID()]; ok {
		delete(chans, channel)
	}
	r.mu.Unlock()

	if !last {
		return nil
	}
	return r.unsubscribe(publishToChannelTopic(channel))
}

// Remove drops every index entry touching conn — uid binding, channel
// subscriptions, location attachment — unsubscribing every
// no-longer-needed broker topic in a single pass.
func (r *Registry) Remove(conn Connection) error {
	r.mu.Lock()
	id := conn.ID()
	if _, ok := r.connections[id]; !ok {
		r.mu.Unlock()
		return ErrUnknownConnection
	}
	delete(r.connections, id)

	var toUnsubscribe []string

	uid, hadUID := r.connToUID[id]
	if hadUID {
		delete(r.connToUID, id)
		delete(r.uidToConn, uid)
		toUnsubscribe = append(toUnsubscribe, sendByUIDTopic(uid))
	}

	if chans, ok := r.connToChannels[id]; ok {
		for channel := range chans {
			conns := r.channelToConns[channel]
			delete(conns, id)
			if len(conns) == 0 {
				delete(r.channelToConns, channel)
				toUnsubscribe = append(toUnsubscribe, publishToChannelTopic(channel))
			}
		}
		delete(r.connToChannels, id)
	}

	var locTopics []string
	if hadUID {
		if loc, ok := r.uidToLocation[uid]; ok {
			locTopics = r.detachLocationLocked(loc, uid)
		}
	}
	locSub := r.locSub
	r.mu.Unlock()

	for _, topic := range toUnsubscribe {
		if err := r.unsubscribe(topic); err != nil {
			return err
		}
	}
	if locSub != nil {
		for _, topic := range locTopics {
			if err := locSub.Unsubscribe(topic); err != nil {
				return err
			}
		}
	}
	return nil
}

// ConnectionsCount reports the number of currently registered connections.
func (r *Registry) ConnectionsCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connections)
}

// GetUID returns the uid bound to id, if any.
func (r *Registry) GetUID(id ConnID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	uid, ok := r.connToUID[id]
	return uid, ok
}

// LocationOf returns the location ident uid is currently attached to,
// if any.
func (r *Registry) LocationOf(uid string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	loc, ok := r.uidToLocation[uid]
	return loc, ok
}

// UsersAtLocation returns the uids of every user currently attached to
// loc on this process, for a mover's location.init reply.
func (r *Registry) UsersAtLocation(loc string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	uids := r.locationToUIDs[loc]
	out := make([]string, 0, len(uids))
	for uid := range uids {
		out = append(out, uid)
	}
	return out
}

// SetLocationSubscriber wires the registry to messagemanager's
// aggregating location-messages SUB socket. Late-bound because
// messagemanager itself depends on the registry (to deliver
// public_message_from_location via PublishToLocation), so the two are
// constructed in two steps to break the cycle.
func (r *Registry) SetLocationSubscriber(s LocationSubscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locSub = s
}

func (r *Registry) subscribe(topic string, handler broker.Handler) error {
	if r.b == nil {
		return nil
	}
	sub, err := r.b.Subscribe(context.Background(), topic, handler)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.subs[topic] = sub
	r.mu.Unlock()
	return nil
}

func (r *Registry) unsubscribe(topic string) error {
	if r.b == nil {
		return nil
	}
	r.mu.Lock()
	sub, ok := r.subs[topic]
	if ok {
		delete(r.subs, topic)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

func (r *Registry) deliverToChannel(channel string, env wire.Envelope) error {
	r.mu.Lock()
	conns := make([]Connection, 0, len(r.channelToConns[channel]))
	for id := range r.channelToConns[channel] {
		conns = append(conns, r.connections[id])
	}
	r.mu.Unlock()
	var firstErr error
	for _, c := range conns {
		if err := c.Send(env); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SendByUID delivers env to uid if it is bound locally, returning true.
// Otherwise it publishes send_by_uid:uid to the broker and returns
// false — callers must not assume the remote side received it.
func (r *Registry) SendByUID(ctx context.Context, uid string, env wire.Envelope) (bool, error) {
	r.mu.Lock()
	id, ok := r.uidToConn[uid]
	var conn Connection
	if ok {
		conn = r.connections[id]
	}
	r.mu.Unlock()
	if ok {
		return true, conn.Send(env)
	}
	if r.b == nil {
		return false, nil
	}
	return false, r.b.Publish(ctx, sendByUIDTopic(uid), env)
}

// PublishToChannel delivers env to every local subscriber of channel.
// When localOnly is false it is also published to the broker; inbound
// broker deliveries always pass localOnly=true to prevent a
// publish/subscribe loop.
func (r *Registry) PublishToChannel(ctx context.Context, channel string, env wire.Envelope, localOnly bool) error {
	if err := r.deliverToChannel(channel, env); err != nil {
		return err
	}
	if localOnly || r.b == nil {
		return nil
	}
	return r.b.Publish(ctx, publishToChannelTopic(channel), env)
}

// PublishToLocation delivers env to every locally attached user of loc.
func (r *Registry) PublishToLocation(loc string, env wire.Envelope) error {
	r.mu.Lock()
	uids := r.locationToUIDs[loc]
	conns := make([]Connection, 0, len(uids))
	for uid := range uids {
		if id, ok := r.uidToConn[uid]; ok {
			conns = append(conns, r.connections[id])
		}
	}
	r.mu.Unlock()
	var firstErr error
	for _, c := range conns {
		if err := c.Send(env); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PublishToAll delivers env to every local connection.
func (r *Registry) PublishToAll(env wire.Envelope) error {
	r.mu.Lock()
	conns := make([]Connection, 0, len(r.connections))
	for _, c := range r.connections {
		conns = append(conns, c)
	}
	r.mu.Unlock()
	var firstErr error
	for _, c := range conns {
		if err := c.Send(env); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// AttachLocation binds uid to loc, subscribing
// private_message_from_location:loc:uid always, and
// public_message_from_location:loc the first time any local user
// enters loc (refcounted by number of local users there).
func (r *Registry) AttachLocation(uid, loc string) error {
	r.mu.Lock()
	r.uidToLocation[uid] = loc
	uids, ok := r.locationToUIDs[loc]
	if !ok {
		uids = make(map[string]struct{})
		r.locationToUIDs[loc] = uids
	}
	uids[uid] = struct{}{}
	r.locationPubRef[loc]++
	first := r.locationPubRef[loc] == 1
	locSub := r.locSub
	r.mu.Unlock()

	if locSub == nil {
		return nil
	}
	if err := locSub.Subscribe(privateMessageFromLocationTopic(loc, uid)); err != nil {
		return err
	}
	if !first {
		return nil
	}
	return locSub.Subscribe(publicMessageFromLocationTopic(loc))
}

// DetachLocation removes uid from loc, unsubscribing the private topic
// always and the public topic once the last local user leaves loc.
func (r *Registry) DetachLocation(uid, loc string) error {
	r.mu.Lock()
	topics := r.detachLocationLocked(loc, uid)
	locSub := r.locSub
	r.mu.Unlock()
	if locSub == nil {
		return nil
	}
	for _, topic := range topics {
		if err := locSub.Unsubscribe(topic); err != nil {
			return err
		}
	}
	return nil
}

// detachLocationLocked must be called with r.mu held. It returns the
// location-stream topics (for the LocationSubscriber) that are now safe
// to unsubscribe.
func (r *Registry) detachLocationLocked(loc, uid string) []string {
	delete(r.uidToLocation, uid)
	var topics []string
	if uids, ok := r.locationToUIDs[loc]; ok {
		delete(uids, uid)
		if len(uids) == 0 {
			delete(r.locationToUIDs, loc)
		}
	}
	topics = append(topics, privateMessageFromLocationTopic(loc, uid))
	if r.locationPubRef[loc] > 0 {
		r.locationPubRef[loc]--
	}
	if r.locationPubRef[loc] == 0 {
		delete(r.locationPubRef, loc)
		topics = append(topics, publicMessageFromLocationTopic(loc))
	}
	return topics
}
