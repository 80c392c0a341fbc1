package bridge

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	configpkg "github.com/evillard/mediabridge/internal/bridge/config"
	loggingpkg "github.com/evillard/mediabridge/internal/bridge/logging"
	"github.com/evillard/mediabridge/internal/bridge/observe"
	transportpkg "github.com/evillard/mediabridge/transport"

	// Register the built-in transports.
	_ "github.com/evillard/mediabridge/transport/transports"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ServiceDependencies holds the optional collaborators a Service can use.
// Leave fields nil/zero to accept the defaults.
type ServiceDependencies struct {
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	TransportRegistry         *transportpkg.Registry   // Overrides the default transport registry.
	Clock                     observe.Clock            // Time source for the observation feed; nil means wall clock.
}

// Service wires a Watermill router, publisher, subscriber, and middleware
// chain for one execution context. Both the engine and the media dispatcher
// are built on top of a Service; they differ only in which topic they
// consume and which they produce.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router

	clock observe.Clock

	commandTopic string
	eventTopic   string

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
}

// NewService constructs a Service for the supplied configuration, panicking
// on transport or router construction failure. Register a dispatcher on the
// returned Service before calling Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	s, err := TryNewService(conf, log, ctx, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// TryNewService is NewService with an error return instead of a panic.
func TryNewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, fmt.Errorf("mediabridge: config is required")
	}
	if log == nil {
		return nil, fmt.Errorf("mediabridge: logger is required")
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating bridge service",
		loggingpkg.LogFields{
			"transport": conf.Transport,
			"config":    conf,
		})

	commandTopic, eventTopic := conf.Topics()
	s := &Service{
		Conf:         conf,
		Logger:       log,
		clock:        deps.Clock,
		commandTopic: commandTopic,
		eventTopic:   eventTopic,
	}
	if s.clock == nil {
		s.clock = observe.NewClock()
	}

	registry := deps.TransportRegistry
	if registry == nil {
		registry = transportpkg.DefaultRegistry
	}
	transport, err := registry.Build(ctx, conf, wmLogger)
	if err != nil {
		return nil, err
	}

	s.publisher = transport.Publisher
	s.subscriber = transport.Subscriber

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, err
	}
	s.router = router

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		return nil, err
	}

	return s, nil
}

// Start runs the underlying Watermill router until the provided context is
// cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.startHTTPServers()
	return routerRun(s.router, ctx)
}

// Running returns a channel that closes once the router is up and all
// handlers are consuming.
func (s *Service) Running() <-chan struct{} {
	return s.router.Running()
}

// CommandTopic returns the topic carrying engine -> media commands.
func (s *Service) CommandTopic() string { return s.commandTopic }

// EventTopic returns the topic carrying media -> engine events.
func (s *Service) EventTopic() string { return s.eventTopic }

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	return nil
}

// addInboundHandler subscribes handler to topic on this context's router.
// Dispatchers publish outbound traffic themselves, so no publish topic is
// bound here.
func (s *Service) addInboundHandler(name, topic string, handler message.NoPublishHandlerFunc) {
	s.router.AddNoPublisherHandler(name, topic, s.subscriber, handler)
}

// RegisterHTTPHandler mounts handler on the mux bound to port. The servers
// start alongside the router; the metrics middleware uses this for the
// Prometheus endpoint.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		addr := fmt.Sprintf(":%d", port)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func(addr string, handler http.Handler) {
			if err := http.ListenAndServe(addr, handler); err != nil {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": addr})
			}
		}(addr, mux)
	}
}
