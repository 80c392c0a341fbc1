package bridge

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	idspkg "github.com/evillard/mediabridge/internal/bridge/ids"
	loggingpkg "github.com/evillard/mediabridge/internal/bridge/logging"
)

// MiddlewareBuilder constructs a handler middleware using the provided
// service instance.
type MiddlewareBuilder func(*Service) (message.HandlerMiddleware, error)

// MiddlewareRegistration captures how a middleware should be registered on
// a Service router.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the standard middleware chain used by the
// Service constructor. The protocol forbids automatic retry of resource
// operations, so there is deliberately no retry middleware here; the
// recoverer keeps malformed traffic from crashing either context.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		RecovererMiddleware(),
	}
}

// MetricsMiddleware adds Prometheus metrics to the handler.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if !s.Conf.MetricsEnabled {
				return nil, nil
			}

			metricsBuilder := metrics.NewPrometheusMetricsBuilder(
				prometheus.DefaultRegisterer,
				"mediabridge",
				s.Conf.Transport,
			)

			metricsBuilder.AddPrometheusRouterMetrics(s.router)

			if s.Conf.MetricsPort > 0 {
				s.RegisterHTTPHandler(s.Conf.MetricsPort, "/metrics", promhttp.Handler())
			}

			return metricsBuilder.NewRouterMiddleware().Middleware, nil
		},
	}
}

// CorrelationIDMiddleware ensures each processed message carries a
// correlation identifier.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "correlation_id",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return s.correlationIDMiddleware(), nil
		},
	}
}

// LogMessagesMiddleware logs the full payload and metadata of handled
// messages.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return s.logMessagesMiddleware(l), nil
		},
	}
}

// TracerMiddleware wraps handler execution in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return s.tracerMiddleware(), nil
		},
	}
}

// RecovererMiddleware converts panics into handler errors so a malformed
// message can never take down the context.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

// RegisterMiddleware attaches the supplied middleware to the router.
func (s *Service) RegisterMiddleware(cfg MiddlewareRegistration) error {
	if s.router == nil {
		return errors.New("router is not initialised")
	}

	var mw message.HandlerMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(s)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	s.router.AddMiddleware(mw)
	return nil
}

// correlationIDMiddleware injects a correlation ID into the message
// metadata when missing.
func (s *Service) correlationIDMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			if _, ok := msg.Metadata[MetadataKeyCorrelationID]; !ok {
				msg.Metadata[MetadataKeyCorrelationID] = idspkg.CreateULID()
			}
			return h(msg)
		}
	}
}

// logMessagesMiddleware logs all processed messages with their metadata.
func (s *Service) logMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("Processing message", loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"payload":      string(msg.Payload),
				"metadata":     msg.Metadata,
			})
			return h(msg)
		}
	}
}

// tracerMiddleware wraps message handling with an OpenTelemetry span.
func (s *Service) tracerMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			tracer := otel.Tracer("mediabridge-dispatcher")
			ctx, span := tracer.Start(
				msg.Context(),
				"DispatchMessage",
				trace.WithSpanKind(trace.SpanKindConsumer),
			)
			defer span.End()
			msg.SetContext(ctx)

			span.SetAttributes(
				attribute.String("message.uuid", msg.UUID),
				attribute.String("message.type", msg.Metadata[MetadataKeyMessageType]),
				attribute.String("message.metadata", fmt.Sprintf("%v", msg.Metadata)),
			)
			return h(msg)
		}
	}
}
