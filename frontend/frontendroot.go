package frontend

import (
	"context"
	"log"

	"github.com/meshline/fabric/dispatch"
	"github.com/meshline/fabric/wire"
)

// frontendRoot is the process-wide (not per-connection) dispatch target
// for messages pushed privately from a location process: location.init,
// location.user_connected, location.user_disconnected (spec.md §8
// scenario 7). messagemanager routes these with AuthorityInternal and a
// routing "uid" kwarg identifying which connection should receive the
// resulting client-facing envelope; frontendRoot strips that routing
// metadata and hands the rest to connregistry.SendByUID. Every such path
// is unknown ahead of time (the location process may push any method
// name under "location."), so frontendRoot is a pure proxy root rather
// than an enumerated registration table.
type frontendRoot struct {
	srv  *Server
	node *dispatch.Node
}

func newFrontendRoot(srv *Server) *frontendRoot {
	f := &frontendRoot{srv: srv, node: dispatch.NewNode()}
	f.node.WithProxy(f)
	return f
}

func (f *frontendRoot) Node() *dispatch.Node { return f.node }

// ProxyMethod implements dispatch.ProxyHandler. rest is the full path
// (e.g. ["location", "init"]) since no router/receiver is ever
// registered on this node.
func (f *frontendRoot) ProxyMethod(ctx context.Context, rest []string, sign dispatch.Authority, kwargs map[string]any) error {
	uid, _ := kwargs["uid"].(string)
	if uid == "" {
		log.Printf("[frontend] dropped internal %s push with no target uid", joinPath(rest))
		return nil
	}
	out := make(map[string]any, len(kwargs))
	for k, v := range kwargs {
		if k == "uid" {
			continue
		}
		out[k] = v
	}
	env := wire.New(joinPath(rest), out)
	_, err := f.srv.registry.SendByUID(ctx, uid, env)
	return err
}

func joinPath(segments []string) string {
	out := segments[0]
	for _, s := range segments[1:] {
		out += "." + s
	}
	return out
}
