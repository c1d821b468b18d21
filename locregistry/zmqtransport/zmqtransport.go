// Package zmqtransport is the ZeroMQ wire layer shared by the location
// registry server and its clients: REQ/REP for CONNECT/GET_LOCATIONS,
// PUSH/PULL for HEARTBEAT/DISCONNECT ingress, and PUB/SUB for
// location_added/location_disconnected announcements. Grounded on the
// original's location_manager.py and gateway.py, which speak the same
// three-socket protocol over raw ZMQ multipart frames; ported here onto
// github.com/go-zeromq/zmq4, a pure-Go ZMTP implementation, instead of
// CZMQ bindings.
package zmqtransport

import (
	"context"
	"fmt"

	"github.com/go-zeromq/zmq4"
)

// SendFrames writes a multipart message of one or more frames.
func SendFrames(sock zmq4.Socket, frames ...[]byte) error {
	if len(frames) == 1 {
		return sock.Send(zmq4.NewMsg(frames[0]))
	}
	return sock.Send(zmq4.NewMsgFrom(frames...))
}

// RecvFrames reads one multipart message and returns its frames.
func RecvFrames(sock zmq4.Socket) ([][]byte, error) {
	msg, err := sock.Recv()
	if err != nil {
		return nil, fmt.Errorf("zmqtransport: recv: %w", err)
	}
	return msg.Frames, nil
}

// NewRep creates a REP socket bound to addr.
func NewRep(ctx context.Context, addr string) (zmq4.Socket, error) {
	sock := zmq4.NewRep(ctx)
	if err := sock.Listen(addr); err != nil {
		return nil, fmt.Errorf("zmqtransport: bind rep %q: %w", addr, err)
	}
	return sock, nil
}

// NewPull creates a PULL socket bound to addr.
func NewPull(ctx context.Context, addr string) (zmq4.Socket, error) {
	sock := zmq4.NewPull(ctx)
	if err := sock.Listen(addr); err != nil {
		return nil, fmt.Errorf("zmqtransport: bind pull %q: %w", addr, err)
	}
	return sock, nil
}

// NewPub creates a PUB socket bound to addr.
func NewPub(ctx context.Context, addr string) (zmq4.Socket, error) {
	sock := zmq4.NewPub(ctx)
	if err := sock.Listen(addr); err != nil {
		return nil, fmt.Errorf("zmqtransport: bind pub %q: %w", addr, err)
	}
	return sock, nil
}

// DialReq creates a REQ socket dialed to addr.
func DialReq(ctx context.Context, addr string) (zmq4.Socket, error) {
	sock := zmq4.NewReq(ctx)
	if err := sock.Dial(addr); err != nil {
		return nil, fmt.Errorf("zmqtransport: dial req %q: %w", addr, err)
	}
	return sock, nil
}

// DialPush creates a PUSH socket dialed to addr.
func DialPush(ctx context.Context, addr string) (zmq4.Socket, error) {
	sock := zmq4.NewPush(ctx)
	if err := sock.Dial(addr); err != nil {
		return nil, fmt.Errorf("zmqtransport: dial push %q: %w", addr, err)
	}
	return sock, nil
}

// DialSub creates a SUB socket dialed to addr, subscribed to every
// topic in topics (an empty slice subscribes to everything).
func DialSub(ctx context.Context, addr string, topics ...string) (zmq4.Socket, error) {
	sock := zmq4.NewSub(ctx)
	if err := sock.Dial(addr); err != nil {
		return nil, fmt.Errorf("zmqtransport: dial sub %q: %w", addr, err)
	}
	if len(topics) == 0 {
		if err := sock.SetOption(zmq4.OptionSubscribe, ""); err != nil {
			return nil, fmt.Errorf("zmqtransport: subscribe all: %w", err)
		}
		return sock, nil
	}
	for _, topic := range topics {
		if err := sock.SetOption(zmq4.OptionSubscribe, topic); err != nil {
			return nil, fmt.Errorf("zmqtransport: subscribe %q: %w", topic, err)
		}
	}
	return sock, nil
}

// BindPub creates a PUB socket bound to addr — used by locgateway,
// which owns its own per-location announcement socket distinct from
// the registry's.
func BindPub(ctx context.Context, addr string) (zmq4.Socket, error) {
	return NewPub(ctx, addr)
}

// BindPull creates a PULL socket bound to addr — used by locgateway
// for inbound forwarded dispatch frames.
func BindPull(ctx context.Context, addr string) (zmq4.Socket, error) {
	return NewPull(ctx, addr)
}
