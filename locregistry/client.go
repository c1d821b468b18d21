package locregistry

import (
	"context"
	"fmt"

	"github.com/go-zeromq/zmq4"

	"github.com/meshline/fabric/locregistry/zmqtransport"
	"github.com/meshline/fabric/wire"
)

// Client is the REQ/PUSH-side helper shared by messagemanager (which
// only ever calls GetLocations) and locgateway (which drives the full
// CONNECT → heartbeat → DISCONNECT lifecycle of a single location).
type Client struct {
	req  zmq4.Socket
	push zmq4.Socket
}

// Dial connects a Client's REQ socket to repAddr and PUSH socket to
// pullAddr.
func Dial(ctx context.Context, repAddr, pullAddr string) (*Client, error) {
	req, err := zmqtransport.DialReq(ctx, repAddr)
	if err != nil {
		return nil, err
	}
	push, err := zmqtransport.DialPush(ctx, pullAddr)
	if err != nil {
		req.Close()
		return nil, err
	}
	return &Client{req: req, push: push}, nil
}

// DialReqOnly connects a Client's REQ socket to repAddr without a PUSH
// socket, for callers — like messagemanager — that only ever issue
// GET_LOCATIONS/CONNECT requests and never HEARTBEAT/DISCONNECT.
func DialReqOnly(ctx context.Context, repAddr string) (*Client, error) {
	req, err := zmqtransport.DialReq(ctx, repAddr)
	if err != nil {
		return nil, err
	}
	return &Client{req: req}, nil
}

// Close releases the client's sockets.
func (c *Client) Close() error {
	if c.push != nil {
		c.push.Close()
	}
	return c.req.Close()
}

// Connect sends a CONNECT request for ident with metadata and reports
// whether the registry accepted it.
func (c *Client) Connect(ident string, metadata map[string]any) (bool, error) {
	data, err := wire.EncodeAny(metadata)
	if err != nil {
		return false, err
	}
	if err := zmqtransport.SendFrames(c.req, []byte(msgConnect), []byte(ident), data); err != nil {
		return false, fmt.Errorf("locregistry: send connect: %w", err)
	}
	reply, err := zmqtransport.RecvFrames(c.req)
	if err != nil {
		return false, fmt.Errorf("locregistry: recv connect reply: %w", err)
	}
	var accepted bool
	if len(reply) != 1 {
		return false, fmt.Errorf("locregistry: malformed connect reply")
	}
	if err := wire.DecodeBytes(reply[0], &accepted); err != nil {
		return false, err
	}
	return accepted, nil
}

// GetLocations fetches the current snapshot of LIVE locations and
// their metadata.
func (c *Client) GetLocations() (map[string]map[string]any, error) {
	if err := zmqtransport.SendFrames(c.req, []byte(msgGetLocationsInfo)); err != nil {
		return nil, fmt.Errorf("locregistry: send get_locations_info: %w", err)
	}
	reply, err := zmqtransport.RecvFrames(c.req)
	if err != nil {
		return nil, fmt.Errorf("locregistry: recv get_locations_info reply: %w", err)
	}
	if len(reply) != 1 {
		return nil, fmt.Errorf("locregistry: malformed get_locations_info reply")
	}
	var out map[string]map[string]any
	if err := wire.DecodeBytes(reply[0], &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Heartbeat fire-and-forgets a HEARTBEAT ingress message for ident.
func (c *Client) Heartbeat(ident string) error {
	if c.push == nil {
		return fmt.Errorf("locregistry: client has no PUSH socket")
	}
	return zmqtransport.SendFrames(c.push, []byte(msgHeartbeat), []byte(ident))
}

// Disconnect fire-and-forgets a DISCONNECT ingress message for ident.
func (c *Client) Disconnect(ident string) error {
	if c.push == nil {
		return fmt.Errorf("locregistry: client has no PUSH socket")
	}
	return zmqtransport.SendFrames(c.push, []byte(msgDisconnect), []byte(ident))
}
