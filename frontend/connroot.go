package frontend

import (
	"context"
	"fmt"
	"sort"

	"github.com/meshline/fabric/connregistry"
	"github.com/meshline/fabric/dispatch"
	"github.com/meshline/fabric/wire"
	"github.com/meshline/fabric/worldroot"
)

// connRoot is the per-connection dispatch root: echo, sign_id,
// send_to_user, channels.{subscribe,unsubscribe,publish}, get_locations,
// and the location.<anything> subtree (spec.md §4.6), the latter
// delegated to worldroot.World.
type connRoot struct {
	srv  *Server
	conn *conn
	node *dispatch.Node

	channels *channelsNode
	location *worldroot.World
}

func newConnRoot(srv *Server, c *conn) *connRoot {
	r := &connRoot{srv: srv, conn: c, node: dispatch.NewNode()}
	r.channels = &channelsNode{srv: srv, conn: c}
	r.location = worldroot.New(&connBridge{srv: srv, conn: c})

	r.node.Receive("echo", dispatch.AuthorityNone, r.echo)
	r.node.Receive("sign_id", dispatch.AuthorityNone, r.signID)
	r.node.Receive("send_to_user", dispatch.AuthorityUser, r.sendToUser)
	r.node.Route("channels", dispatch.AuthorityNone, r.routeChannels)
	r.node.Receive("get_locations", dispatch.AuthorityNone, r.getLocations)
	r.node.Route("location", dispatch.AuthorityUserOrInternal, r.routeLocation)
	return r
}

func (r *connRoot) Node() *dispatch.Node { return r.node }

func (r *connRoot) echo(ctx context.Context, dc *dispatch.Context, kwargs map[string]any) error {
	text, _ := kwargs["text"].(string)
	return r.conn.Send(wire.New("echo", map[string]any{"text": "Echo: " + text}))
}

func (r *connRoot) signID(ctx context.Context, dc *dispatch.Context, kwargs map[string]any) error {
	uid, _ := kwargs["uid"].(string)
	if uid == "" {
		return fmt.Errorf("frontend: sign_id requires a non-empty uid")
	}
	if err := r.srv.registry.BindUID(r.conn, uid); err != nil {
		return err
	}
	for _, loc := range r.srv.startLocations {
		r.conn.loop.EnqueueLoopback("location.enter", map[string]any{"target_location": loc})
	}
	return nil
}

func (r *connRoot) sendToUser(ctx context.Context, dc *dispatch.Context, kwargs map[string]any) error {
	senderUID, ok := r.srv.registry.GetUID(r.conn.id)
	if !ok {
		return fmt.Errorf("%w: send_to_user requires sign_id first", dispatch.ErrSign)
	}
	receiver, _ := kwargs["receiver"].(string)
	text, _ := kwargs["text"].(string)
	env := wire.New("message_from_user", map[string]any{"text": text, "uid": senderUID})
	_, err := r.srv.registry.SendByUID(ctx, receiver, env)
	return err
}

func (r *connRoot) routeChannels(ctx context.Context, dc *dispatch.Context, kwargs map[string]any, next dispatch.NextFunc) error {
	return next(r.channels)
}

func (r *connRoot) getLocations(ctx context.Context, dc *dispatch.Context, kwargs map[string]any) error {
	idents := r.srv.locationsSnapshot()
	sort.Strings(idents)
	data := make([]map[string]any, 0, len(idents))
	for _, ident := range idents {
		data = append(data, map[string]any{"ident": ident})
	}
	return r.conn.Send(wire.New("get_locations", map[string]any{"data": data}))
}

func (r *connRoot) routeLocation(ctx context.Context, dc *dispatch.Context, kwargs map[string]any, next dispatch.NextFunc) error {
	return next(r.location)
}

// channelsNode implements subscribe/unsubscribe/publish under "channels".
type channelsNode struct {
	srv  *Server
	conn *conn
	node *dispatch.Node
}

func (c *channelsNode) Node() *dispatch.Node {
	if c.node == nil {
		c.node = dispatch.NewNode()
		c.node.Receive("subscribe", dispatch.AuthorityNone, c.subscribe)
		c.node.Receive("unsubscribe", dispatch.AuthorityNone, c.unsubscribe)
		c.node.Receive("publish", dispatch.AuthorityUser, c.publish)
	}
	return c.node
}

func (c *channelsNode) subscribe(ctx context.Context, dc *dispatch.Context, kwargs map[string]any) error {
	channel, _ := kwargs["channel"].(string)
	return c.srv.registry.SubscribeChannel(c.conn, channel)
}

func (c *channelsNode) unsubscribe(ctx context.Context, dc *dispatch.Context, kwargs map[string]any) error {
	channel, _ := kwargs["channel"].(string)
	return c.srv.registry.UnsubscribeChannel(c.conn, channel)
}

func (c *channelsNode) publish(ctx context.Context, dc *dispatch.Context, kwargs map[string]any) error {
	channel, _ := kwargs["channel"].(string)
	text, _ := kwargs["text"].(string)
	env := wire.New("message_from_channel", map[string]any{"text": text, "channel": channel})
	return c.srv.registry.PublishToChannel(ctx, channel, env, false)
}

// connBridge adapts one connection's Server/conn pair to worldroot.Bridge,
// keeping worldroot itself free of any frontend import (frontend already
// depends on worldroot, not the other way around).
type connBridge struct {
	srv  *Server
	conn *conn
}

func (b *connBridge) UID() (string, bool) {
	return b.srv.registry.GetUID(b.conn.id)
}

func (b *connBridge) Registry() *connregistry.Registry {
	return b.srv.registry
}

func (b *connBridge) Send(env wire.Envelope) error {
	return b.conn.Send(env)
}

func (b *connBridge) ForwardToLocation(ident string, env wire.Envelope) error {
	return b.srv.forwardToLocation(ident, env)
}
