// Package locgateway is the component that runs inside a location
// process and fronts it to the cluster (C5): it drives the
// CONNECT/HEARTBEAT/DISCONNECT lifecycle against the location registry
// and owns the location's own PUB/PULL data-plane sockets. Grounded on
// the original's location_server/gateway.py (Gateway.connect/start/
// _receive/private_message/public_message).
package locgateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/meshline/fabric/dispatch"
	"github.com/meshline/fabric/locregistry"
	"github.com/meshline/fabric/locregistry/zmqtransport"
	"github.com/meshline/fabric/wire"
)

// ErrIdentTaken is returned by Connect when the registry reports the
// ident is already LIVE elsewhere.
var ErrIdentTaken = errors.New("locgateway: ident already registered")

// Config describes one location's registry endpoints and its own
// public-facing addresses.
type Config struct {
	Ident    string
	PubAddr  string
	PullAddr string
	Metadata map[string]any

	RegistryRepAddr  string
	RegistryPullAddr string

	HeartbeatPeriod  time.Duration
	DisconnectLinger time.Duration
}

// Gateway is the per-location process object: it owns the registry
// client plus the location's own PUB/PULL sockets.
type Gateway struct {
	cfg    Config
	client *locregistry.Client
	root   dispatch.Dispatchable
	loop   dispatch.Loopback

	pub  zmq4.Socket
	pull zmq4.Socket

	wg sync.WaitGroup
}

// EnqueueLoopback schedules path.kwargs to be dispatched against the
// gateway's root with AuthorityInternal after the current inbound
// dispatch frame returns, mirroring frontend's per-connection loopback
// (SPEC_FULL.md §4.1) for a location root handler that wants to
// re-enter the dispatcher with internal authority.
func (g *Gateway) EnqueueLoopback(path string, kwargs map[string]any) {
	g.loop.EnqueueLoopback(path, kwargs)
}

// Connect performs the CONNECT handshake and, on success, binds the
// location's PUB/PULL sockets. The caller owns ctx's lifetime; Connect
// does not spawn background work.
func Connect(ctx context.Context, cfg Config, root dispatch.Dispatchable) (*Gateway, error) {
	client, err := locregistry.Dial(ctx, cfg.RegistryRepAddr, cfg.RegistryPullAddr)
	if err != nil {
		return nil, fmt.Errorf("locgateway: dial registry: %w", err)
	}

	metadata := map[string]any{
		"pub_address":  cfg.PubAddr,
		"pull_address": cfg.PullAddr,
	}
	for k, v := range cfg.Metadata {
		metadata[k] = v
	}

	accepted, err := client.Connect(cfg.Ident, metadata)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("locgateway: connect: %w", err)
	}
	if !accepted {
		client.Close()
		return nil, ErrIdentTaken
	}

	pub, err := zmqtransport.BindPub(ctx, cfg.PubAddr)
	if err != nil {
		client.Close()
		return nil, err
	}
	pull, err := zmqtransport.BindPull(ctx, cfg.PullAddr)
	if err != nil {
		pub.Close()
		client.Close()
		return nil, err
	}

	return &Gateway{cfg: cfg, client: client, root: root, pub: pub, pull: pull}, nil
}

// Run serves inbound dispatch and periodic heartbeats until ctx is
// cancelled, then sends a bounded-linger DISCONNECT before returning.
func (g *Gateway) Run(ctx context.Context) error {
	g.wg.Add(2)
	go func() { defer g.wg.Done(); g.serveInbound(ctx) }()
	go func() { defer g.wg.Done(); g.heartbeatLoop(ctx) }()
	g.wg.Wait()

	linger := g.cfg.DisconnectLinger
	if linger <= 0 {
		linger = time.Second
	}
	done := make(chan struct{})
	go func() {
		if err := g.client.Disconnect(g.cfg.Ident); err != nil {
			log.Printf("[locgateway] disconnect send failed: %v", err)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(linger):
		log.Printf("[locgateway] disconnect linger expired for %q", g.cfg.Ident)
	}
	return nil
}

// Close releases the gateway's sockets and registry client.
func (g *Gateway) Close() error {
	g.pub.Close()
	g.pull.Close()
	return g.client.Close()
}

func (g *Gateway) heartbeatLoop(ctx context.Context) {
	period := g.cfg.HeartbeatPeriod
	if period <= 0 {
		period = 5 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.client.Heartbeat(g.cfg.Ident); err != nil {
				log.Printf("[locgateway] heartbeat failed: %v", err)
			}
		}
	}
}

func (g *Gateway) serveInbound(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		frames, err := zmqtransport.RecvFrames(g.pull)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[locgateway] recv error: %v", err)
			continue
		}
		if len(frames) != 1 {
			log.Printf("[locgateway] malformed inbound frame count: %d", len(frames))
			continue
		}
		g.dispatchInbound(ctx, frames[0])
	}
}

func (g *Gateway) dispatchInbound(ctx context.Context, body []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[locgateway] panic dispatching inbound message: %v", r)
		}
	}()
	env, err := wire.Unmarshal(body)
	if err != nil {
		log.Printf("[locgateway] decode inbound envelope: %v", err)
		return
	}
	path := strings.Split(env.Path, ".")
	if err := dispatch.Dispatch(ctx, g.root, path, dispatch.AuthorityInternal, env.Kwargs); err != nil {
		log.Printf("[locgateway] dispatch %q failed: %v", env.Path, err)
	}
	for _, err := range g.loop.Drain(ctx, g.root) {
		log.Printf("[locgateway] loopback dispatch error: %v", err)
	}
}

// PublishPublic emits msg on the location's own PUB socket under the
// public_message_from_location topic for this gateway's ident.
func (g *Gateway) PublishPublic(path string, kwargs map[string]any) error {
	return g.publish(publicMessageFromLocationTopic(g.cfg.Ident), path, kwargs)
}

// PublishPrivate emits msg on the location's own PUB socket under the
// private_message_from_location topic for (ident, uid).
func (g *Gateway) PublishPrivate(uid, path string, kwargs map[string]any) error {
	return g.publish(privateMessageFromLocationTopic(g.cfg.Ident, uid), path, kwargs)
}

func (g *Gateway) publish(topic, path string, kwargs map[string]any) error {
	data, err := wire.Marshal(wire.New(path, kwargs))
	if err != nil {
		return err
	}
	return zmqtransport.SendFrames(g.pub, []byte(topic), data)
}

func publicMessageFromLocationTopic(ident string) string {
	return fmt.Sprintf("public_message_from_location:%s", ident)
}

func privateMessageFromLocationTopic(ident, uid string) string {
	return fmt.Sprintf("private_message_from_location:%s:%s", ident, uid)
}
