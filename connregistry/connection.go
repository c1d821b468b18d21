package connregistry

import "github.com/meshline/fabric/wire"

// ConnID identifies a registered connection. frontend mints these per
// accepted socket; the registry never interprets the value itself.
type ConnID uint64

// Connection is the minimal surface the registry needs from a
// transport-level connection. frontend's per-socket type implements it
// so that connregistry has no dependency on net.Conn or the TCP framing.
type Connection interface {
	ID() ConnID
	Send(env wire.Envelope) error
}
