// Package transport defines the core interfaces and types for mediabridge
// transports. Each transport implementation (channel, io, nats) lives in its
// own sub-package and registers itself with the transport registry.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
// The publisher carries this context's outbound stream; the subscriber
// carries the inbound one.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder is the function signature for creating a transport from config.
// Each transport package provides a Builder function that can be registered.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports. The
// interface lets transports access only the keys they need without
// depending on the full config package.
type Config interface {
	// GetTransport returns the transport type name.
	GetTransport() string

	// NATS
	GetNATSURL() string

	// IO
	GetInputFile() string
	GetOutputFile() string
}

// CapabilitiesProvider is implemented by transports that can report their
// capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
