package worldroot

import (
	"context"
	"testing"

	"github.com/meshline/fabric/connregistry"
	"github.com/meshline/fabric/dispatch"
	"github.com/meshline/fabric/wire"
)

type fakeConn struct {
	id  connregistry.ConnID
	out []wire.Envelope
}

func (c *fakeConn) ID() connregistry.ConnID { return c.id }

func (c *fakeConn) Send(env wire.Envelope) error {
	c.out = append(c.out, env)
	return nil
}

type fakeLocationSubscriber struct{ subscribed map[string]bool }

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

type fakeForwarder struct {
	idents    []string
	forwarded []wire.Envelope
}

func (f *fakeForwarder) ForwardToLocation(ident string, env wire.Envelope) error {
	f.idents = append(f.idents, ident)
	f.forwarded = append(f.forwarded, env)
	return nil
}

// testBridge wires a single fakeConn/uid pair to a real connregistry.Registry
// so World's attach/detach/publish logic runs against the genuine index
// rather than a hand-rolled double.
type testBridge struct {
	uid  string
	reg  *connregistry.Registry
	conn *fakeConn
	fwd  *fakeForwarder
}

func (b *testBridge) UID() (string, bool)                   { return b.uid, b.uid != "" }
func (b *testBridge) Registry() *connregistry.Registry       { return b.reg }
func (b *testBridge) Send(env wire.Envelope) error           { return b.conn.Send(env) }
func (b *testBridge) ForwardToLocation(ident string, env wire.Envelope) error {
	return b.fwd.ForwardToLocation(ident, env)
}

func newTestWorld(uid string) (*World, *testBridge) {
	reg := connregistry.New(nil)
	reg.SetLocationSubscriber(newFakeLocationSubscriber())
	conn := &fakeConn{id: 1}
	reg.Add(conn)
	if uid != "" {
		reg.BindUID(conn, uid)
	}
	b := &testBridge{uid: uid, reg: reg, conn: conn, fwd: &fakeForwarder{}}
	return New(b), b
}

func TestEnterAttachesAndRepliesInit(t *testing.T) {
	w, b := newTestWorld("u1")
	ctx := context.Background()
	if err := dispatch.Dispatch(ctx, w, []string{"enter"}, dispatch.AuthorityUser, map[string]any{"target_location": "loc_A"}); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if loc, ok := b.reg.LocationOf("u1"); !ok || loc != "loc_A" {
		t.Fatalf("LocationOf = %q, %v", loc, ok)
	}
	if len(b.conn.out) != 1 || b.conn.out[0].Path != "location.init" || b.conn.out[0].Kwargs["ident"] != "loc_A" {
		t.Fatalf("unexpected init reply: %+v", b.conn.out)
	}
}

func TestMoveToDetachesOldAttachesNewAndAnnounces(t *testing.T) {
	w, b := newTestWorld("u1")
	ctx := context.Background()
	if err := dispatch.Dispatch(ctx, w, []string{"enter"}, dispatch.AuthorityUser, map[string]any{"target_location": "loc_X"}); err != nil {
		t.Fatalf("enter: %v", err)
	}
	b.conn.out = nil

	if err := dispatch.Dispatch(ctx, w, []string{"move_to"}, dispatch.AuthorityUser, map[string]any{"target_location": "loc_Y"}); err != nil {
		t.Fatalf("move_to: %v", err)
	}
	if loc, ok := b.reg.LocationOf("u1"); !ok || loc != "loc_Y" {
		t.Fatalf("expected attached to loc_Y, got %q, %v", loc, ok)
	}
	if len(b.conn.out) != 1 || b.conn.out[0].Path != "location.init" || b.conn.out[0].Kwargs["ident"] != "loc_Y" {
		t.Fatalf("unexpected init reply after move_to: %+v", b.conn.out)
	}
}

func TestMoveToWithoutPriorLocationSkipsDetach(t *testing.T) {
	w, b := newTestWorld("u1")
	ctx := context.Background()
	if err := dispatch.Dispatch(ctx, w, []string{"move_to"}, dispatch.AuthorityUser, map[string]any{"target_location": "loc_A"}); err != nil {
		t.Fatalf("move_to: %v", err)
	}
	if loc, ok := b.reg.LocationOf("u1"); !ok || loc != "loc_A" {
		t.Fatalf("LocationOf = %q, %v", loc, ok)
	}
}

func TestMoveToRequiresSignedInUID(t *testing.T) {
	w, _ := newTestWorld("")
	err := dispatch.Dispatch(context.Background(), w, []string{"move_to"}, dispatch.AuthorityUser, map[string]any{"target_location": "loc_A"})
	if err == nil {
		t.Fatalf("expected an error when no uid is bound")
	}
}

func TestProxyMethodForwardsUnknownVerbToAttachedLocation(t *testing.T) {
	w, b := newTestWorld("u1")
	ctx := context.Background()
	if err := dispatch.Dispatch(ctx, w, []string{"enter"}, dispatch.AuthorityUser, map[string]any{"target_location": "loc_A"}); err != nil {
		t.Fatalf("enter: %v", err)
	}

	if err := dispatch.Dispatch(ctx, w, []string{"pick_up"}, dispatch.AuthorityUser, map[string]any{"item": "sword"}); err != nil {
		t.Fatalf("pick_up: %v", err)
	}
	if len(b.fwd.idents) != 1 || b.fwd.idents[0] != "loc_A" {
		t.Fatalf("expected forward to loc_A, got %+v", b.fwd.idents)
	}
	if b.fwd.forwarded[0].Path != "pick_up" || b.fwd.forwarded[0].Kwargs["uid"] != "u1" {
		t.Fatalf("unexpected forwarded envelope: %+v", b.fwd.forwarded[0])
	}
}

func TestProxyMethodRequiresAttachment(t *testing.T) {
	w, _ := newTestWorld("u1")
	err := dispatch.Dispatch(context.Background(), w, []string{"pick_up"}, dispatch.AuthorityUser, map[string]any{})
	if err == nil {
		t.Fatalf("expected an error forwarding with no attached location")
	}
}
