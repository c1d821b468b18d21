package frontend

import "errors"

// ErrMaxConnections names the at-capacity condition under which
// Server.Run rejects a newly accepted socket via rejectMaxConnections:
// the socket gets a best-effort max_connections_error envelope and is
// closed without ever reaching per-connection setup (spec.md §9's
// check-before-accept resolution). Run itself does not return this
// error; it keeps accepting.
var ErrMaxConnections = errors.New("frontend: max connections reached")
