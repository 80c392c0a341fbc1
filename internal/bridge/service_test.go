package bridge

import (
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/evillard/mediabridge/internal/bridge/config"
	loggingpkg "github.com/evillard/mediabridge/internal/bridge/logging"
	"github.com/evillard/mediabridge/internal/bridge/protocol"
)

func testLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewWatermillServiceLogger(watermill.NopLogger{})
}

func TestTryNewServiceValidation(t *testing.T) {
	ctx := context.Background()

	_, err := TryNewService(nil, testLogger(), ctx, ServiceDependencies{})
	require.Error(t, err)

	_, err = TryNewService(&configpkg.Config{Transport: "channel"}, nil, ctx, ServiceDependencies{})
	require.Error(t, err)

	_, err = TryNewService(&configpkg.Config{Transport: "no-such-transport"}, testLogger(), ctx, ServiceDependencies{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}

func TestTryNewServiceTopics(t *testing.T) {
	svc, err := TryNewService(&configpkg.Config{Transport: "channel"}, testLogger(), context.Background(), ServiceDependencies{})
	require.NoError(t, err)
	assert.Equal(t, configpkg.DefaultCommandTopic, svc.CommandTopic())
	assert.Equal(t, configpkg.DefaultEventTopic, svc.EventTopic())

	svc, err = TryNewService(&configpkg.Config{
		Transport:    "channel",
		CommandTopic: "cmd",
		EventTopic:   "evt",
	}, testLogger(), context.Background(), ServiceDependencies{})
	require.NoError(t, err)
	assert.Equal(t, "cmd", svc.CommandTopic())
	assert.Equal(t, "evt", svc.EventTopic())
}

func TestNewServicePanicsOnError(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for invalid service construction")
		}
	}()
	NewService(nil, testLogger(), context.Background(), ServiceDependencies{})
}

func TestDefaultMiddlewaresContainNoRetry(t *testing.T) {
	names := make([]string, 0)
	for _, reg := range DefaultMiddlewares() {
		names = append(names, reg.Name)
	}

	assert.Contains(t, names, "correlation_id")
	assert.Contains(t, names, "recoverer")
	assert.Contains(t, names, "tracer")

	// Resource operations must never be retried automatically; a failed
	// append faults its channel instead.
	assert.NotContains(t, names, "retry")
}

func TestRegisterMiddlewareRequiresBuilderOrMiddleware(t *testing.T) {
	svc, err := TryNewService(&configpkg.Config{Transport: "channel"}, testLogger(), context.Background(), ServiceDependencies{
		DisableDefaultMiddlewares: true,
	})
	require.NoError(t, err)

	err = svc.RegisterMiddleware(MiddlewareRegistration{Name: "empty"})
	require.Error(t, err)
}

func TestNewMessageFromEnvelope(t *testing.T) {
	env, err := protocol.NewEnvelope(protocol.CmdLoad, protocol.Load{ContentID: 1})
	require.NoError(t, err)

	msg, err := NewMessageFromEnvelope(env)
	require.NoError(t, err)

	assert.Len(t, msg.UUID, 26)
	assert.Equal(t, protocol.CmdLoad, msg.Metadata[MetadataKeyMessageType])
	assert.NotEmpty(t, msg.Metadata[MetadataKeyCorrelationID])

	parsed, err := protocol.ParseEnvelope(msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.CmdLoad, parsed.Type)
}

func TestPublishEnvelopeValidation(t *testing.T) {
	err := PublishEnvelope(context.Background(), nil, "topic", protocol.CmdInit, protocol.Init{})
	require.Error(t, err)

	svc, err := TryNewService(&configpkg.Config{Transport: "channel"}, testLogger(), context.Background(), ServiceDependencies{})
	require.NoError(t, err)

	err = PublishEnvelope(context.Background(), svc.publisher, "", protocol.CmdInit, protocol.Init{})
	require.Error(t, err)
}
