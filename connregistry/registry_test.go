package connregistry

import (
	"context"
	"testing"

	"github.com/meshline/fabric/broker/internal/mockbroker"
	"github.com/meshline/fabric/wire"
)

type fakeConn struct {
	id  ConnID
	out []wire.Envelope
}

func (c *fakeConn) ID() ConnID { return c.id }

func (c *fakeConn) Send(env wire.Envelope) error {
	c.out = append(c.out, env)
	return nil
}

func TestBindUIDSubscribesSendByUID(t *testing.T) {
	mb := mockbroker.New()
	r := New(mb)
	c := &fakeConn{id: 1}
	if err := r.Add(c); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.BindUID(c, "111"); err != nil {
		t.Fatalf("BindUID: %v", err)
	}
	if !mb.Subscribed("send_by_uid:111") {
		t.Fatalf("expected subscription to send_by_uid:111")
	}
	uid, ok := r.GetUID(1)
	if !ok || uid != "111" {
		t.Fatalf("GetUID = %q, %v", uid, ok)
	}
}

func TestSubscribeChannelFirstSubscriberSubscribesBroker(t *testing.T) {
	mb := mockbroker.New()
	r := New(mb)
	c := &fakeConn{id: 1}
	r.Add(c)
	if err := r.SubscribeChannel(c, "chan"); err != nil {
		t.Fatalf("SubscribeChannel: %v", err)
	}
	if !mb.Subscribed("publish_to_channel:chan") {
		t.Fatalf("expected subscription to publish_to_channel:chan")
	}
}

func TestUnsubscribeChannelLastSubscriberUnsubscribesBroker(t *testing.T) {
	mb := mockbroker.New()
	r := New(mb)
	c := &fakeConn{id: 1}
	r.Add(c)
	r.SubscribeChannel(c, "chan")
	if err := r.UnsubscribeChannel(c, "chan"); err != nil {
		t.Fatalf("UnsubscribeChannel: %v", err)
	}
	if mb.Subscribed("publish_to_channel:chan") {
		t.Fatalf("expected publish_to_channel:chan to be unsubscribed")
	}
}

func TestRemoveDropsEveryIndex(t *testing.T) {
	mb := mockbroker.New()
	r := New(mb)
	c := &fakeConn{id: 1}
	r.Add(c)
	r.BindUID(c, "222")
	r.SubscribeChannel(c, "ccc")

	if err := r.Remove(c); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if r.ConnectionsCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", r.ConnectionsCount())
	}
	if _, ok := r.GetUID(1); ok {
		t.Fatalf("expected uid binding to be dropped")
	}
	if mb.Subscribed("send_by_uid:222") {
		t.Fatalf("expected send_by_uid:222 unsubscribed")
	}
	if mb.Subscribed("publish_to_channel:ccc") {
		t.Fatalf("expected publish_to_channel:ccc unsubscribed")
	}
}

func TestSendByUIDLocalDelivery(t *testing.T) {
	r := New(nil)
	c := &fakeConn{id: 1}
	r.Add(c)
	r.BindUID(c, "42")

	env := wire.New("echo", map[string]any{"msg": "hi"})
	delivered, err := r.SendByUID(context.Background(), "42", env)
	if err != nil {
		t.Fatalf("SendByUID: %v", err)
	}
	if !delivered {
		t.Fatalf("expected local delivery")
	}
	if len(c.out) != 1 {
		t.Fatalf("expected 1 delivered envelope, got %d", len(c.out))
	}
}

func TestSendByUIDRemotePublishesWhenNotLocal(t *testing.T) {
	mb := mockbroker.New()
	r := New(mb)
	env := wire.New("echo", nil)
	delivered, err := r.SendByUID(context.Background(), "999", env)
	if err != nil {
		t.Fatalf("SendByUID: %v", err)
	}
	if delivered {
		t.Fatalf("expected remote (non-local) delivery")
	}
	pub := mb.Published()
	if len(pub) != 1 || pub[0].Topic != "send_by_uid:999" {
		t.Fatalf("expected a publish to send_by_uid:999, got %+v", pub)
	}
}

func TestPublishToChannelLocalOnlySkipsBroker(t *testing.T) {
	mb := mockbroker.New()
	r := New(mb)
	c := &fakeConn{id: 1}
	r.Add(c)
	r.SubscribeChannel(c, "chan")

	env := wire.New("chat", nil)
	if err := r.PublishToChannel(context.Background(), "chan", env, true); err != nil {
		t.Fatalf("PublishToChannel: %v", err)
	}
	if len(c.out) != 1 {
		t.Fatalf("expected local delivery")
	}
	if len(mb.Published()) != 0 {
		t.Fatalf("expected no broker publish when localOnly=true")
	}
}

type fakeLocationSubscriber struct {
	subscribed map[string]bool
}

func newFakeLocationSubscriber() *fakeLocationSubscriber {
	return &fakeLocationSubscriber{subscribed: make(map[string]bool)}
}

func (f *fakeLocationSubscriber) Subscribe(topic string) error {
	f.subscribed[topic] = true
	return nil
}

func (f *fakeLocationSubscriber) Unsubscribe(topic string) error {
	delete(f.subscribed, topic)
	return nil
}

func TestAttachLocationRefcountsPublicSubscription(t *testing.T) {
	r := New(nil)
	ls := newFakeLocationSubscriber()
	r.SetLocationSubscriber(ls)

	if err := r.AttachLocation("111", "fooloc"); err != nil {
		t.Fatalf("AttachLocation: %v", err)
	}
	if !ls.subscribed["private_message_from_location:fooloc:111"] {
		t.Fatalf("expected private subscription")
	}
	if !ls.subscribed["public_message_from_location:fooloc"] {
		t.Fatalf("expected public subscription on first attach")
	}

	if err := r.AttachLocation("222", "fooloc"); err != nil {
		t.Fatalf("AttachLocation: %v", err)
	}

	if err := r.DetachLocation("111", "fooloc"); err != nil {
		t.Fatalf("DetachLocation: %v", err)
	}
	if ls.subscribed["private_message_from_location:fooloc:111"] {
		t.Fatalf("expected private subscription gone")
	}
	if !ls.subscribed["public_message_from_location:fooloc"] {
		t.Fatalf("expected public subscription to survive while 222 is still attached")
	}

	if err := r.DetachLocation("222", "fooloc"); err != nil {
		t.Fatalf("DetachLocation: %v", err)
	}
	if ls.subscribed["public_message_from_location:fooloc"] {
		t.Fatalf("expected public subscription dropped once last user left")
	}
}

func TestLocationOfReflectsAttachAndDetach(t *testing.T) {
	r := New(nil)
	ls := newFakeLocationSubscriber()
	r.SetLocationSubscriber(ls)

	if _, ok := r.LocationOf("111"); ok {
		t.Fatalf("expected no location before attach")
	}
	r.AttachLocation("111", "fooloc")
	if loc, ok := r.LocationOf("111"); !ok || loc != "fooloc" {
		t.Fatalf("LocationOf = %q, %v", loc, ok)
	}
	r.DetachLocation("111", "fooloc")
	if _, ok := r.LocationOf("111"); ok {
		t.Fatalf("expected no location after detach")
	}
}

func TestUsersAtLocationListsEveryAttachedUID(t *testing.T) {
	r := New(nil)
	ls := newFakeLocationSubscriber()
	r.SetLocationSubscriber(ls)
	r.AttachLocation("111", "fooloc")
	r.AttachLocation("222", "fooloc")

	users := r.UsersAtLocation("fooloc")
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %+v", users)
	}
}

func TestPublishToLocationDeliversOnlyAttachedUsers(t *testing.T) {
	r := New(nil)
	c1 := &fakeConn{id: 1}
	c2 := &fakeConn{id: 2}
	r.Add(c1)
	r.Add(c2)
	r.BindUID(c1, "111")
	r.BindUID(c2, "222")
	r.AttachLocation("111", "fooloc")

	env := wire.New("location.broadcast", nil)
	if err := r.PublishToLocation("fooloc", env); err != nil {
		t.Fatalf("PublishToLocation: %v", err)
	}
	if len(c1.out) != 1 {
		t.Fatalf("expected c1 to receive the broadcast")
	}
	if len(c2.out) != 0 {
		t.Fatalf("expected c2, not attached to fooloc, to receive nothing")
	}
}
