package locregistry

// Request protocol frame tags (REP socket, reply-per-request).
const (
	msgConnect          = "connect"
	msgGetLocationsInfo = "get_locations_info"
)

// Ingress protocol frame tags (PULL socket, fire-and-forget).
const (
	msgHeartbeat  = "heartbeat"
	msgDisconnect = "disconnect"
)

func locationAddedTopic(ident string) string {
	return "location_added:" + ident
}

func locationDisconnectedTopic(ident string) string {
	return "location_disconnected:" + ident
}
