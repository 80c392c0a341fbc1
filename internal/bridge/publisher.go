package bridge

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/evillard/mediabridge/internal/bridge/errors"
	idspkg "github.com/evillard/mediabridge/internal/bridge/ids"
	"github.com/evillard/mediabridge/internal/bridge/protocol"
)

// Metadata keys for transport-level message attributes. Everything the
// protocol itself needs travels in the envelope; these exist for logging,
// tracing and correlation only.
const (
	MetadataKeyMessageType   = "mb_message_type"
	MetadataKeyCorrelationID = "mb_correlation_id"
)

// NewMessageFromEnvelope converts an envelope into a Watermill message with
// the standard transport metadata.
func NewMessageFromEnvelope(env protocol.Envelope) (*message.Message, error) {
	payload, err := env.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}

	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata = message.Metadata{
		MetadataKeyMessageType:   env.Type,
		MetadataKeyCorrelationID: idspkg.CreateULID(),
	}
	return msg, nil
}

// PublishEnvelope wraps value in an envelope tagged msgType and publishes
// it to topic. It never blocks on the receiving context.
func PublishEnvelope(ctx context.Context, publisher message.Publisher, topic, msgType string, value any) error {
	if publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}

	env, err := protocol.NewEnvelope(msgType, value)
	if err != nil {
		return err
	}

	msg, err := NewMessageFromEnvelope(env)
	if err != nil {
		return err
	}

	if ctx != nil {
		msg.SetContext(ctx)
	}

	return publisher.Publish(topic, msg)
}

// PublishEnvelope emits a protocol message using the Service publisher so
// dispatchers and external collaborators share one publishing path.
func (s *Service) PublishEnvelope(ctx context.Context, topic, msgType string, value any) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	return PublishEnvelope(ctx, s.publisher, topic, msgType, value)
}
