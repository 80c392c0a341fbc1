package transport

// Capabilities describes the features supported by a transport backend.
// The proxy protocol itself only requires per-topic ordering; everything
// else is introspection for deployments that want it.
type Capabilities struct {
	// SupportsOrdering indicates the transport guarantees message ordering.
	// The per-channel command FIFO relies on this within one topic.
	SupportsOrdering bool

	// SupportsTracing indicates the transport propagates tracing headers
	// natively.
	SupportsTracing bool

	// SupportsAck indicates the transport supports explicit message
	// acknowledgment.
	SupportsAck bool

	// SupportsNack indicates the transport supports negative acknowledgment
	// (redelivery).
	SupportsNack bool

	// CrossProcess indicates the transport can bind contexts living in
	// different OS processes.
	CrossProcess bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited or
	// unknown). Append payloads must stay below this.
	MaxMessageSize int64

	// Name is the human-readable name of the transport.
	Name string

	// Version is the transport/driver version.
	Version string
}

// SupportsReliableDelivery returns true if the transport supports
// at-least-once delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Predefined capability sets for the bundled transports.
var (
	// ChannelCapabilities for the in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsTracing:  false,
		SupportsAck:      true,
		SupportsNack:     true,
		CrossProcess:     false,
	}

	// IOCapabilities for the reader/writer pair transport.
	IOCapabilities = Capabilities{
		Name:             "io",
		SupportsOrdering: true,
		SupportsTracing:  false,
		SupportsAck:      false,
		SupportsNack:     false,
		CrossProcess:     true,
	}

	// NATSCapabilities for the NATS Core transport.
	NATSCapabilities = Capabilities{
		Name:             "nats",
		SupportsOrdering: false,
		SupportsTracing:  true,
		SupportsAck:      false,
		SupportsNack:     false,
		CrossProcess:     true,
		MaxMessageSize:   1048576, // Default 1MB
	}
)

// GetCapabilities returns the capabilities for a transport by name, looked
// up in the default registry. Returns a zero Capabilities struct if the
// transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
