// Package worldroot supplements the example "world" location handlers
// the distilled specification calls out as out of scope for its core:
// it implements location.move_to and the location.enter join used by a
// front-end connection's per-session auto-join, grounded on spec.md §8
// scenario 7 (location switch) and §9's location lifecycle notes.
package worldroot

import (
	"context"
	"fmt"

	"github.com/meshline/fabric/connregistry"
	"github.com/meshline/fabric/dispatch"
	"github.com/meshline/fabric/wire"
)

// Bridge is the narrow per-connection surface World needs from its
// host. frontend's connBridge implements it so worldroot never depends
// on frontend (which imports worldroot directly — keeping the
// dependency one-directional).
type Bridge interface {
	// UID returns the uid the hosting connection is signed in as, if any.
	UID() (string, bool)
	// Registry is the connregistry.Registry the hosting front-end is
	// bridged to.
	Registry() *connregistry.Registry
	// Send delivers env directly to the hosting connection.
	Send(env wire.Envelope) error
	// ForwardToLocation forwards an envelope verbatim to the named
	// location process's gateway, for any location.<verb> World does
	// not implement itself.
	ForwardToLocation(ident string, env wire.Envelope) error
}

// World is the "location" dispatch object: move_to and enter are
// handled locally against the registry; every other verb is proxied to
// the attached location process.
type World struct {
	bridge Bridge
	node   *dispatch.Node
}

// New builds a World bound to one connection's Bridge.
func New(bridge Bridge) *World {
	w := &World{bridge: bridge, node: dispatch.NewNode()}
	w.node.Receive("move_to", dispatch.AuthorityUser, w.moveTo)
	w.node.Receive("enter", dispatch.AuthorityUserOrInternal, w.enter)
	w.node.WithProxy(w)
	return w
}

func (w *World) Node() *dispatch.Node { return w.node }

// moveTo detaches uid from its current location (if any), attaches it
// to target_location, and notifies both sides: the old location's
// local subscribers see user_disconnected, the new location's see
// user_connected, and the mover itself receives location.init with the
// new location's current roster (spec.md §8 scenario 7).
func (w *World) moveTo(ctx context.Context, dc *dispatch.Context, kwargs map[string]any) error {
	uid, ok := w.bridge.UID()
	if !ok {
		return fmt.Errorf("worldroot: move_to requires sign_id first")
	}
	target, _ := kwargs["target_location"].(string)
	if target == "" {
		return fmt.Errorf("worldroot: move_to requires a target_location")
	}
	reg := w.bridge.Registry()

	if oldLoc, hadOld := reg.LocationOf(uid); hadOld {
		if err := reg.DetachLocation(uid, oldLoc); err != nil {
			return err
		}
		if err := reg.PublishToLocation(oldLoc, wire.New("location.user_disconnected", map[string]any{"uid": uid})); err != nil {
			return err
		}
	}
	return w.attachAndAnnounce(uid, target)
}

// enter attaches uid to target_location without a detach step, for a
// session's very first location join (sign_id's start_locations
// auto-join, or a client's explicit first location.enter).
func (w *World) enter(ctx context.Context, dc *dispatch.Context, kwargs map[string]any) error {
	uid, ok := w.bridge.UID()
	if !ok {
		return fmt.Errorf("worldroot: enter requires sign_id first")
	}
	target, _ := kwargs["target_location"].(string)
	if target == "" {
		return fmt.Errorf("worldroot: enter requires a target_location")
	}
	return w.attachAndAnnounce(uid, target)
}

// attachAndAnnounce announces user_connected to the users already at
// target, then attaches uid, so the mover itself receives only
// location.init (mirroring moveTo, which detaches before announcing
// user_disconnected).
func (w *World) attachAndAnnounce(uid, target string) error {
	reg := w.bridge.Registry()
	if err := reg.PublishToLocation(target, wire.New("location.user_connected", map[string]any{"user": map[string]any{"uid": uid}})); err != nil {
		return err
	}
	if err := reg.AttachLocation(uid, target); err != nil {
		return err
	}
	users := reg.UsersAtLocation(target)
	return w.bridge.Send(wire.New("location.init", map[string]any{"ident": target, "users": users}))
}

// ProxyMethod implements dispatch.ProxyHandler: every verb World does
// not register itself is forwarded to wherever uid is currently
// attached.
func (w *World) ProxyMethod(ctx context.Context, rest []string, sign dispatch.Authority, kwargs map[string]any) error {
	uid, ok := w.bridge.UID()
	if !ok {
		return fmt.Errorf("worldroot: location.%s requires sign_id first", joinPath(rest))
	}
	loc, ok := w.bridge.Registry().LocationOf(uid)
	if !ok {
		return fmt.Errorf("worldroot: uid %s is not attached to any location", uid)
	}
	out := make(map[string]any, len(kwargs)+1)
	for k, v := range kwargs {
		out[k] = v
	}
	out["uid"] = uid
	return w.bridge.ForwardToLocation(loc, wire.New(joinPath(rest), out))
}

func joinPath(segments []string) string {
	out := segments[0]
	for _, s := range segments[1:] {
		out += "." + s
	}
	return out
}
