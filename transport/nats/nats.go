// Package nats provides a NATS Core transport for mediabridge, for
// deployments where the engine context runs in a different process or host
// than the media context.
package nats

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/evillard/mediabridge/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

// Register registers the NATS transport with the default registry. Call it
// from an init() in an importing package, or explicitly before use.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// connectOptions keeps both halves of the transport reconnecting instead of
// dying when the server restarts mid-session.
func connectOptions() []nc.Option {
	return []nc.Option{
		nc.Name("mediabridge"),
		nc.RetryOnFailedConnect(true),
		nc.MaxReconnects(-1),
		nc.ReconnectWait(time.Second),
	}
}

// Build creates a new NATS transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	marshaler := &nats.NATSMarshaler{}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			Marshaler:   marshaler,
			NatsOptions: connectOptions(),
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:         url,
			Unmarshaler: marshaler,
			NatsOptions: connectOptions(),
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
