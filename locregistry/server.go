// Package locregistry is the location registry (C3): a single
// logically-owning process that tracks which location processes are
// LIVE, answers CONNECT/GET_LOCATIONS over a request/reply socket,
// accepts HEARTBEAT/DISCONNECT over a fire-and-forget ingress socket,
// and announces location_added/location_disconnected over a PUB
// socket. Grounded on the original's location_manager.py; state and
// protocol tables are unchanged, only the transport (ZeroMQ via
// locregistry/zmqtransport) and the single-threaded loop (here a mutex
// guarding the location table, per SPEC_FULL.md §5) are new.
package locregistry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/meshline/fabric/locregistry/zmqtransport"
	"github.com/meshline/fabric/wire"
)

// Config configures a Server's three sockets and sweep behavior.
type Config struct {
	RepAddr                 string
	PullAddr                string
	PubAddr                 string
	MaxHeartbeatSilence     time.Duration
	HeartbeatsCheckerPeriod time.Duration
}

// Server owns the location directory for one logical registry.
type Server struct {
	cfg Config

	mu        sync.Mutex
	locations map[string]*Info

	rep  zmq4.Socket
	pull zmq4.Socket
	pub  zmq4.Socket

	cancel context.CancelFunc
	done   chan struct{}
}

// NewServer creates a Server with its sockets bound, ready for Run.
func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	rep, err := zmqtransport.NewRep(ctx, cfg.RepAddr)
	if err != nil {
		return nil, err
	}
	pull, err := zmqtransport.NewPull(ctx, cfg.PullAddr)
	if err != nil {
		rep.Close()
		return nil, err
	}
	pub, err := zmqtransport.NewPub(ctx, cfg.PubAddr)
	if err != nil {
		rep.Close()
		pull.Close()
		return nil, err
	}
	return &Server{
		cfg:       cfg,
		locations: make(map[string]*Info),
		rep:       rep,
		pull:      pull,
		pub:       pub,
		done:      make(chan struct{}),
	}, nil
}

// Run serves requests and ingress messages and runs the heartbeat
// sweeper until ctx is cancelled or Close is called.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); s.serveRequests(runCtx) }()
	go func() { defer wg.Done(); s.serveIngress(runCtx) }()
	go func() { defer wg.Done(); s.sweep(runCtx) }()
	wg.Wait()
	close(s.done)
	return nil
}

// Close stops Run and releases the sockets.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.rep.Close()
	s.pull.Close()
	return s.pub.Close()
}

func (s *Server) serveRequests(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		frames, err := zmqtransport.RecvFrames(s.rep)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[locregistry] rep recv error: %v", err)
			continue
		}
		reply := s.handleRequest(frames)
		if err := zmqtransport.SendFrames(s.rep, reply); err != nil {
			log.Printf("[locregistry] rep send error: %v", err)
		}
	}
}

func (s *Server) handleRequest(frames [][]byte) []byte {
	if len(frames) == 0 {
		return mustMarshalAny(false)
	}
	switch string(frames[0]) {
	case msgConnect:
		if len(frames) != 3 {
			return mustMarshalAny(false)
		}
		ident := string(frames[1])
		var metadata map[string]any
		if err := wire.DecodeBytes(frames[2], &metadata); err != nil {
			return mustMarshalAny(false)
		}
		return mustMarshalAny(s.connect(ident, frames[2], metadata))
	case msgGetLocationsInfo:
		return mustMarshalAny(s.snapshot())
	default:
		log.Printf("[locregistry] unknown request message: %s", frames[0])
		return mustMarshalAny(false)
	}
}

func (s *Server) connect(ident string, rawMetadata []byte, metadata map[string]any) bool {
	s.mu.Lock()
	if existing, ok := s.locations[ident]; ok && existing.State == Live {
		s.mu.Unlock()
		return false
	}
	s.locations[ident] = &Info{
		Ident:         ident,
		Metadata:      metadata,
		LastHeartbeat: time.Now(),
		State:         Live,
	}
	s.mu.Unlock()

	s.announce(locationAddedTopic(ident), rawMetadata)
	log.Printf("[locregistry] location %q connected", ident)
	return true
}

// announce publishes a pre-encoded announcement frame. It is a no-op
// when the server was constructed without a bound PUB socket, which
// lets tests exercise the state machine directly.
func (s *Server) announce(topic string, payload []byte) {
	if s.pub == nil {
		return
	}
	if err := zmqtransport.SendFrames(s.pub, []byte(topic), payload); err != nil {
		log.Printf("[locregistry] publish %s failed: %v", topic, err)
	}
}

func (s *Server) snapshot() map[string]map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]any, len(s.locations))
	for ident, info := range s.locations {
		if info.State != Live {
			continue
		}
		out[ident] = info.Metadata
	}
	return out
}

func (s *Server) serveIngress(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		frames, err := zmqtransport.RecvFrames(s.pull)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[locregistry] pull recv error: %v", err)
			continue
		}
		if len(frames) != 2 {
			continue
		}
		ident := string(frames[1])
		switch string(frames[0]) {
		case msgHeartbeat:
			s.heartbeat(ident)
		case msgDisconnect:
			s.disconnect(ident)
		default:
			log.Printf("[locregistry] unknown ingress message: %s", frames[0])
		}
	}
}

func (s *Server) heartbeat(ident string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.locations[ident]
	if !ok || info.State != Live {
		log.Printf("[locregistry] heartbeat from unknown location %q", ident)
		return
	}
	info.LastHeartbeat = time.Now()
}

func (s *Server) disconnect(ident string) {
	s.mu.Lock()
	info, ok := s.locations[ident]
	if !ok || info.State != Live {
		s.mu.Unlock()
		log.Printf("[locregistry] disconnect from unknown location %q", ident)
		return
	}
	info.State = Dead
	s.mu.Unlock()

	s.announce(locationDisconnectedTopic(ident), mustMarshalAny(nil))
	log.Printf("[locregistry] location %q disconnected", ident)
}

func (s *Server) sweep(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatsCheckerPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Server) sweepOnce() {
	now := time.Now()
	s.mu.Lock()
	var stale []string
	for ident, info := range s.locations {
		if info.State != Live {
			continue
		}
		if now.Sub(info.LastHeartbeat) >= s.cfg.MaxHeartbeatSilence {
			stale = append(stale, ident)
		}
	}
	for _, ident := range stale {
		s.locations[ident].State = Dead
	}
	s.mu.Unlock()

	for _, ident := range stale {
		s.announce(locationDisconnectedTopic(ident), mustMarshalAny(nil))
		log.Printf("[locregistry] location %q timed out", ident)
	}
}

func mustMarshalAny(v any) []byte {
	b, err := wire.EncodeAny(v)
	if err != nil {
		panic(fmt.Sprintf("locregistry: marshal reply: %v", err))
	}
	return b
}
