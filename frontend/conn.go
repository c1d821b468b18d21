package frontend

import (
	"bufio"
	"log"
	"net"
	"sync/atomic"

	"github.com/meshline/fabric/connregistry"
	"github.com/meshline/fabric/dispatch"
	"github.com/meshline/fabric/wire"
)

var nextConnID uint64

// conn is one accepted client socket. It implements connregistry.Connection
// so the registry can deliver to it without depending on net.Conn. Writes
// never touch the socket directly from an arbitrary goroutine: Send only
// enqueues onto outbox, and a single pump goroutine per connection owns
// the actual net.Conn write, matching §5's "single non-blocking send per
// envelope" policy for a shared outbound resource.
type conn struct {
	id     connregistry.ConnID
	nc     net.Conn
	outbox chan wire.Envelope
	done   chan struct{}

	loop dispatch.Loopback
	root *connRoot

	closed atomic.Bool
}

func newConn(nc net.Conn, srv *Server) *conn {
	c := &conn{
		id:     connregistry.ConnID(atomic.AddUint64(&nextConnID, 1)),
		nc:     nc,
		outbox: make(chan wire.Envelope, 64),
		done:   make(chan struct{}),
	}
	c.root = newConnRoot(srv, c)
	return c
}

func (c *conn) ID() connregistry.ConnID { return c.id }

// Send enqueues env for delivery; it never blocks on the network.
func (c *conn) Send(env wire.Envelope) error {
	if c.closed.Load() {
		return nil
	}
	select {
	case c.outbox <- env:
		return nil
	default:
		log.Printf("[frontend] conn %d outbox full, dropping envelope %q", c.id, env.Path)
		return nil
	}
}

func (c *conn) writePump() {
	w := bufio.NewWriter(c.nc)
	for {
		select {
		case env, ok := <-c.outbox:
			if !ok {
				return
			}
			if err := wire.WriteEnvelope(w, env); err != nil {
				log.Printf("[frontend] conn %d write error: %v", c.id, err)
				c.Close()
				return
			}
			if err := w.Flush(); err != nil {
				log.Printf("[frontend] conn %d flush error: %v", c.id, err)
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close shuts the underlying socket down exactly once.
func (c *conn) Close() {
	if c.closed.Swap(true) {
		return
	}
	close(c.done)
	c.nc.Close()
}
