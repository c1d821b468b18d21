// Package frontend is the outer (client-facing) server (component
// [NEW], ambient per spec.md §6's TCP interface): it accepts
// length-prefixed msgpack connections, binds each to a per-connection
// dispatch root, and bridges client RPCs to connregistry/messagemanager.
// Grounded in shape on the teacher's raw-TCP accept-loop pattern
// (core/router.go's per-message handling), adapted from a single
// handler dispatch to a per-connection dispatch.Node tree.
package frontend

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"

	"github.com/meshline/fabric/connregistry"
	"github.com/meshline/fabric/dispatch"
	"github.com/meshline/fabric/wire"
)

// LocationForwarder is the subset of messagemanager.Manager the proxy
// handler needs, kept as a narrow interface so frontend never imports
// messagemanager directly (avoiding a cycle: messagemanager's root
// argument is frontend's own frontendRoot).
type LocationForwarder interface {
	ForwardToLocation(ident string, env wire.Envelope) error
}

// Config configures one front-end process.
type Config struct {
	Addr           string
	MaxConn        int
	StartLocations []string
}

// Server is one front-end process: a TCP listener, the connection
// registry it's bridged to, and the location-forwarding handle wired in
// after messagemanager is constructed (breaking the cycle between the
// two).
type Server struct {
	cfg      Config
	registry *connregistry.Registry
	root     *frontendRoot

	startLocations []string

	mu        sync.Mutex
	ln        net.Listener
	forwarder LocationForwarder
	locations map[string]struct{}

	connWG sync.WaitGroup

	metrics dispatch.Collector
}

// SetMetrics installs a collector observing every client dispatch's
// path, duration, and outcome (dispatch.DispatchWithMetrics). Optional:
// a nil collector (the default) simply skips reporting.
func (s *Server) SetMetrics(collector dispatch.Collector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = collector
}

// NewServer builds a Server bridged to registry. Call SetForwarder once
// messagemanager.Manager exists, before Run.
func NewServer(cfg Config, registry *connregistry.Registry) *Server {
	s := &Server{
		cfg:            cfg,
		registry:       registry,
		startLocations: cfg.StartLocations,
		locations:      make(map[string]struct{}),
	}
	s.root = newFrontendRoot(s)
	return s
}

// Root returns the process-wide dispatch target for messagemanager's
// private-location-message routing.
func (s *Server) Root() dispatch.Dispatchable { return s.root }

// SetForwarder wires the location-forwarding handle, normally
// messagemanager.Manager.
func (s *Server) SetForwarder(f LocationForwarder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forwarder = f
}

func (s *Server) forwardToLocation(ident string, env wire.Envelope) error {
	s.mu.Lock()
	f := s.forwarder
	s.mu.Unlock()
	if f == nil {
		return fmt.Errorf("frontend: no location forwarder configured yet")
	}
	return f.ForwardToLocation(ident, env)
}

// LocationAdded implements messagemanager.RootHooks: it records the
// location as known (for get_locations) and broadcasts location_added
// to every connected client (spec.md §8 scenario 5).
func (s *Server) LocationAdded(ident string, metadata map[string]any) {
	s.mu.Lock()
	s.locations[ident] = struct{}{}
	s.mu.Unlock()
	if err := s.registry.PublishToAll(wire.New("location_added", map[string]any{"loc_id": ident})); err != nil {
		log.Printf("[frontend] broadcast location_added(%s): %v", ident, err)
	}
}

// LocationRemoved implements messagemanager.RootHooks.
func (s *Server) LocationRemoved(ident string) {
	s.mu.Lock()
	delete(s.locations, ident)
	s.mu.Unlock()
	if err := s.registry.PublishToAll(wire.New("location_removed", map[string]any{"loc_id": ident})); err != nil {
		log.Printf("[frontend] broadcast location_removed(%s): %v", ident, err)
	}
}

func (s *Server) locationsSnapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	idents := make([]string, 0, len(s.locations))
	for ident := range s.locations {
		idents = append(idents, ident)
	}
	return idents
}

// Run listens on cfg.Addr and serves connections until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("frontend: listen %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.connWG.Wait()
				return nil
			}
			return fmt.Errorf("frontend: accept: %w", err)
		}
		if s.cfg.MaxConn > 0 && s.registry.ConnectionsCount() >= s.cfg.MaxConn {
			s.rejectMaxConnections(nc)
			continue
		}
		s.connWG.Add(1)
		go func() {
			defer s.connWG.Done()
			s.serve(ctx, nc)
		}()
	}
}

// rejectMaxConnections is called before any per-connection setup, per
// spec.md §9's normative check-before-accept resolution: a best-effort
// error message, then close.
func (s *Server) rejectMaxConnections(nc net.Conn) {
	env := wire.New("error", map[string]any{"code": "max_connections_error"})
	if body, err := wire.Marshal(env); err == nil {
		_ = wire.WriteFrame(nc, body)
	}
	nc.Close()
}

func (s *Server) serve(ctx context.Context, nc net.Conn) {
	c := newConn(nc, s)
	if err := s.registry.Add(c); err != nil {
		log.Printf("[frontend] add connection: %v", err)
		nc.Close()
		return
	}
	go c.writePump()
	defer func() {
		s.registry.Remove(c)
		c.Close()
	}()

	r := bufio.NewReader(nc)
	for {
		env, err := wire.ReadEnvelope(r)
		if err != nil {
			return
		}
		s.handleEnvelope(ctx, c, env)
	}
}

func (s *Server) handleEnvelope(ctx context.Context, c *conn, env wire.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[frontend] panic dispatching %q: %v", env.Path, r)
		}
	}()
	path := strings.Split(env.Path, ".")
	s.mu.Lock()
	collector := s.metrics
	s.mu.Unlock()
	sign := dispatch.AuthorityNone
	if _, ok := s.registry.GetUID(c.id); ok {
		sign = dispatch.AuthorityUser
	}
	err := dispatch.DispatchWithMetrics(collector, path, func() error {
		return dispatch.Dispatch(ctx, c.root, path, sign, env.Kwargs)
	})
	if err != nil {
		s.reportClientError(c, env.Path, err)
	}
	for _, err := range c.loop.Drain(ctx, c.root) {
		log.Printf("[frontend] loopback dispatch error on conn %d: %v", c.id, err)
	}
}

// reportClientError maps a dispatch error to the client-facing error
// envelope codes spec.md §7 enumerates; the connection stays open in
// every case (a closed connection is always the read loop's decision,
// never this mapping's).
func (s *Server) reportClientError(c *conn, path string, err error) {
	code := "protocol_error"
	switch {
	case isSignError(err):
		code = "sign_error"
	case isTopologyError(err):
		code = "no_such_member"
	}
	log.Printf("[frontend] conn %d dispatch %q failed: %v", c.id, path, err)
	_ = c.Send(wire.New("error", map[string]any{"code": code, "path": path}))
}

func isSignError(err error) bool {
	return errors.Is(err, dispatch.ErrSign)
}

func isTopologyError(err error) bool {
	return errors.Is(err, dispatch.ErrNoSuchMember) ||
		errors.Is(err, dispatch.ErrForbidden) ||
		errors.Is(err, dispatch.ErrExpectedRouter) ||
		errors.Is(err, dispatch.ErrExpectedReceiver)
}
