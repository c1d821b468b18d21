// Package messagemanager is the front-end-side subscription router
// (C4): it owns the two ZeroMQ streams that feed a front-end process —
// the location registry's announcement PUB (location_added/
// location_disconnected) and the aggregating SUB socket dialed to
// every LIVE location's own PUB socket (public/private messages FROM
// locations) — plus the bootstrap GET_LOCATIONS replay. Grounded on
// the original's LocationMessageManager (outer_server/message_manager.py);
// the broker-backed send_by_uid/publish_to_channel streams from the
// same source file are NOT reimplemented here, because connregistry
// already bridges those two topics directly to broker.Broker
// (SPEC_FULL.md §4.2/§4.4).
package messagemanager

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/go-zeromq/zmq4"

	"github.com/meshline/fabric/connregistry"
	"github.com/meshline/fabric/dispatch"
	"github.com/meshline/fabric/locregistry"
	"github.com/meshline/fabric/locregistry/zmqtransport"
	"github.com/meshline/fabric/wire"
)

// RootHooks lets the front-end root learn about location lifecycle
// events observed by the manager.
type RootHooks interface {
	LocationAdded(ident string, metadata map[string]any)
	LocationRemoved(ident string)
}

// Config addresses the location registry's announcement and
// request/reply sockets, and the dotted path prefixes prepended to
// messages arriving from a location process.
type Config struct {
	RegistryRepAddr string
	RegistryPubAddr string

	// ClientLocationHandlerPath prefixes a location's public broadcasts
	// before they reach a client (e.g. "location").
	ClientLocationHandlerPath string
	// LocationHandlerPath prefixes a location's private messages before
	// they are dispatched on the front-end root (e.g. "location").
	LocationHandlerPath string
}

// Manager owns the registry-announcement and location-message streams
// for one front-end process.
type Manager struct {
	cfg      Config
	registry *connregistry.Registry
	root     dispatch.Dispatchable
	hooks    RootHooks

	regClient *locregistry.Client

	subToLocman zmq4.Socket
	subToLocs   zmq4.Socket

	mu      sync.Mutex
	locPush map[string]zmq4.Socket
}

// New dials the registry-announcement SUB socket and the REQ client
// used for bootstrap, creates the location-messages SUB socket (dialed
// per location later, in addLocation), and wires the manager as
// registry's LocationSubscriber for connregistry's Attach/DetachLocation.
func New(ctx context.Context, cfg Config, registry *connregistry.Registry, root dispatch.Dispatchable, hooks RootHooks) (*Manager, error) {
	subToLocman, err := zmqtransport.DialSub(ctx, cfg.RegistryPubAddr)
	if err != nil {
		return nil, err
	}
	// subToLocs is not dialed to anything yet: each location's PUB
	// address is dialed on-demand as it registers (addLocation), and
	// its topic filter is steered entirely through Subscribe/Unsubscribe
	// (connregistry.LocationSubscriber).
	subToLocs := zmq4.NewSub(ctx)
	regClient, err := locregistry.DialReqOnly(ctx, cfg.RegistryRepAddr)
	if err != nil {
		subToLocman.Close()
		subToLocs.Close()
		return nil, err
	}

	m := &Manager{
		cfg:         cfg,
		registry:    registry,
		root:        root,
		hooks:       hooks,
		regClient:   regClient,
		subToLocman: subToLocman,
		subToLocs:   subToLocs,
		locPush:     make(map[string]zmq4.Socket),
	}
	registry.SetLocationSubscriber(m)
	return m, nil
}

// Run serves both streams until ctx is cancelled, after replaying the
// registry's current snapshot of LIVE locations.
func (m *Manager) Run(ctx context.Context) error {
	locations, err := m.regClient.GetLocations()
	if err != nil {
		return fmt.Errorf("messagemanager: bootstrap get_locations: %w", err)
	}
	for ident, metadata := range locations {
		m.addLocation(ident, metadata)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); m.serveRegistryStream(ctx) }()
	go func() { defer wg.Done(); m.serveLocationStream(ctx) }()
	wg.Wait()
	return nil
}

// Close releases every socket the manager owns, including per-location
// PUSH sockets.
func (m *Manager) Close() error {
	m.mu.Lock()
	for _, sock := range m.locPush {
		sock.Close()
	}
	m.mu.Unlock()
	m.subToLocman.Close()
	m.subToLocs.Close()
	return m.regClient.Close()
}

// ForwardToLocation pushes env to the PUSH socket of the named
// location, for frontend's location.<anything> proxy forwarding.
func (m *Manager) ForwardToLocation(ident string, env wire.Envelope) error {
	m.mu.Lock()
	sock, ok := m.locPush[ident]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("messagemanager: no such location %q", ident)
	}
	data, err := wire.Marshal(env)
	if err != nil {
		return err
	}
	return sock.Send(zmq4.NewMsg(data))
}

// Subscribe implements connregistry.LocationSubscriber by steering the
// aggregating SUB socket's filter.
func (m *Manager) Subscribe(topic string) error {
	return m.subToLocs.SetOption(zmq4.OptionSubscribe, topic)
}

// Unsubscribe implements connregistry.LocationSubscriber.
func (m *Manager) Unsubscribe(topic string) error {
	return m.subToLocs.SetOption(zmq4.OptionUnsubscribe, topic)
}

func (m *Manager) serveRegistryStream(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		frames, err := zmqtransport.RecvFrames(m.subToLocman)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[messagemanager] registry stream recv error: %v", err)
			continue
		}
		if len(frames) != 2 {
			continue
		}
		m.handleRegistryFrame(string(frames[0]), frames[1])
	}
}

func (m *Manager) handleRegistryFrame(topic string, body []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[messagemanager] panic handling registry frame %q: %v", topic, r)
		}
	}()
	prefix, ident, ok := splitTopic(topic)
	if !ok {
		log.Printf("[messagemanager] malformed registry topic: %s", topic)
		return
	}
	switch prefix {
	case "location_added":
		var metadata map[string]any
		if err := wire.DecodeBytes(body, &metadata); err != nil {
			log.Printf("[messagemanager] decode location_added metadata: %v", err)
			return
		}
		m.addLocation(ident, metadata)
	case "location_disconnected":
		m.removeLocation(ident)
	default:
		log.Printf("[messagemanager] unknown registry topic prefix: %s", prefix)
	}
}

func (m *Manager) addLocation(ident string, metadata map[string]any) {
	m.mu.Lock()
	if _, exists := m.locPush[ident]; exists {
		m.mu.Unlock()
		log.Printf("[messagemanager] location %q already registered, ignoring duplicate add", ident)
		return
	}
	m.mu.Unlock()

	pullAddr, _ := metadata["pull_address"].(string)
	pubAddr, _ := metadata["pub_address"].(string)
	delete(metadata, "pull_address")
	delete(metadata, "pub_address")

	push, err := zmqtransport.DialPush(context.Background(), pullAddr)
	if err != nil {
		log.Printf("[messagemanager] dial push to location %q: %v", ident, err)
		return
	}
	if pubAddr != "" {
		if err := m.subToLocs.Dial(pubAddr); err != nil {
			log.Printf("[messagemanager] dial sub to location %q: %v", ident, err)
		}
	}

	m.mu.Lock()
	m.locPush[ident] = push
	m.mu.Unlock()

	m.hooks.LocationAdded(ident, metadata)
}

func (m *Manager) removeLocation(ident string) {
	m.mu.Lock()
	push, ok := m.locPush[ident]
	if ok {
		delete(m.locPush, ident)
	}
	m.mu.Unlock()
	if ok {
		push.Close()
	}
	m.hooks.LocationRemoved(ident)
}

func (m *Manager) serveLocationStream(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		frames, err := zmqtransport.RecvFrames(m.subToLocs)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[messagemanager] location stream recv error: %v", err)
			continue
		}
		if len(frames) != 2 {
			continue
		}
		m.handleLocationFrame(string(frames[0]), frames[1])
	}
}

func (m *Manager) handleLocationFrame(topic string, body []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[messagemanager] panic handling location frame %q: %v", topic, r)
		}
	}()
	prefix, rest, ok := splitTopic(topic)
	if !ok {
		log.Printf("[messagemanager] malformed location topic: %s", topic)
		return
	}
	env, err := wire.Unmarshal(body)
	if err != nil {
		log.Printf("[messagemanager] decode location message body: %v", err)
		return
	}
	switch prefix {
	case "public_message_from_location":
		m.handlePublic(rest, env)
	case "private_message_from_location":
		m.handlePrivate(rest, env)
	default:
		log.Printf("[messagemanager] unknown location topic prefix: %s", prefix)
	}
}

func (m *Manager) handlePublic(loc string, env wire.Envelope) {
	env.Path = m.cfg.ClientLocationHandlerPath + "." + env.Path
	if err := m.registry.PublishToLocation(loc, env); err != nil {
		log.Printf("[messagemanager] publish_to_location(%s) failed: %v", loc, err)
	}
}

func (m *Manager) handlePrivate(locUID string, env wire.Envelope) {
	loc, uid, ok := splitTopic(locUID)
	if !ok {
		log.Printf("[messagemanager] malformed private location topic tail: %s", locUID)
		return
	}
	kwargs := env.Kwargs
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	if _, ok := kwargs["location"]; !ok {
		kwargs["location"] = loc
	}
	kwargs["uid"] = uid

	path := append(strings.Split(m.cfg.LocationHandlerPath, "."), strings.Split(env.Path, ".")...)
	if err := dispatch.Dispatch(context.Background(), m.root, path, dispatch.AuthorityInternal, kwargs); err != nil {
		log.Printf("[messagemanager] dispatch private location message: %v", err)
	}
}

// splitTopic splits topic on its first ':' into (prefix, rest). Used
// both for "prefix:ident" topics and, recursively, for the
// "ident:uid" tail of a private-message topic.
func splitTopic(topic string) (string, string, bool) {
	i := strings.IndexByte(topic, ':')
	if i < 0 {
		return "", "", false
	}
	return topic[:i], topic[i+1:], true
}
