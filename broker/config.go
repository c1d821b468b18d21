package broker

// Config holds broker-agnostic configuration; backend plugins extract
// the fields they need and ignore the rest.
type Config struct {
	// Brokers is a list of broker addresses (e.g. "nats://localhost:4222").
	Brokers []string

	// Group is a consumer group identifier, used by the kafka backend's
	// readers; the nats and rabbitmq backends ignore it.
	Group string

	// Extra holds plugin-specific configuration pulled from the YAML
	// message_broker config block.
	Extra map[string]any
}
