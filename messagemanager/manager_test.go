package messagemanager

import (
	"context"
	"testing"

	"github.com/meshline/fabric/connregistry"
	"github.com/meshline/fabric/dispatch"
	"github.com/meshline/fabric/wire"
)

func TestSplitTopicPrefixAndRest(t *testing.T) {
	prefix, rest, ok := splitTopic("location_added:loc_A")
	if !ok || prefix != "location_added" || rest != "loc_A" {
		t.Fatalf("got %q, %q, %v", prefix, rest, ok)
	}
}

func TestSplitTopicPrivateMessageTail(t *testing.T) {
	prefix, rest, ok := splitTopic("private_message_from_location:loc_A:u1")
	if !ok || prefix != "private_message_from_location" || rest != "loc_A:u1" {
		t.Fatalf("got %q, %q, %v", prefix, rest, ok)
	}
	loc, uid, ok := splitTopic(rest)
	if !ok || loc != "loc_A" || uid != "u1" {
		t.Fatalf("got %q, %q, %v", loc, uid, ok)
	}
}

func TestSplitTopicMalformed(t *testing.T) {
	if _, _, ok := splitTopic("no-colon-here"); ok {
		t.Fatalf("expected malformed topic to report ok=false")
	}
}

type fakeConn struct {
	id  connregistry.ConnID
	out []wire.Envelope
}

func (c *fakeConn) ID() connregistry.ConnID { return c.id }

func (c *fakeConn) Send(env wire.Envelope) error {
	c.out = append(c.out, env)
	return nil
}

type fakeRoot struct {
	node     *dispatch.Node
	received []map[string]any
}

func newFakeRoot() *fakeRoot {
	r := &fakeRoot{node: dispatch.NewNode()}
	// "location" stands for the LocationHandlerPath prefix handlePrivate
	// prepends; it routes back onto the same node.
	r.node.Route("location", dispatch.AuthorityInternal, func(_ context.Context, _ *dispatch.Context, _ map[string]any, next dispatch.NextFunc) error {
		return next(r)
	})
	r.node.Receive("move_to", dispatch.AuthorityInternal, func(_ context.Context, _ *dispatch.Context, kwargs map[string]any) error {
		r.received = append(r.received, kwargs)
		return nil
	})
	return r
}

func (r *fakeRoot) Node() *dispatch.Node { return r.node }

func TestHandlePublicPrependsPathAndPublishesLocally(t *testing.T) {
	registry := connregistry.New(nil)
	ls := &collectingSubscriber{subscribed: map[string]bool{}}
	registry.SetLocationSubscriber(ls)
	c := &fakeConn{id: 1}
	registry.Add(c)
	registry.BindUID(c, "u1")
	registry.AttachLocation("u1", "loc_A")

	m := &Manager{cfg: Config{ClientLocationHandlerPath: "location"}, registry: registry}
	m.handlePublic("loc_A", wire.New("broadcast", map[string]any{"text": "hi"}))

	if len(c.out) != 1 {
		t.Fatalf("expected locally attached conn to receive the broadcast")
	}
	if c.out[0].Path != "location.broadcast" {
		t.Fatalf("expected prefixed path, got %q", c.out[0].Path)
	}
}

func TestHandlePrivateDispatchesOnRootWithLocationAndUID(t *testing.T) {
	root := newFakeRoot()
	m := &Manager{cfg: Config{LocationHandlerPath: "location"}, root: root}
	m.handlePrivate("loc_A:u1", wire.New("move_to", map[string]any{"target": "loc_B"}))

	if len(root.received) != 1 {
		t.Fatalf("expected one dispatched call, got %d", len(root.received))
	}
	kwargs := root.received[0]
	if kwargs["location"] != "loc_A" || kwargs["uid"] != "u1" || kwargs["target"] != "loc_B" {
		t.Fatalf("unexpected kwargs: %+v", kwargs)
	}
}

type collectingSubscriber struct {
	subscribed map[string]bool
}

func (c *collectingSubscriber) Subscribe(topic string) error {
	c.subscribed[topic] = true
	return nil
}

func (c *collectingSubscriber) Unsubscribe(topic string) error {
	delete(c.subscribed, topic)
	return nil
}
