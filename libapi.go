package mediabridge

import (
	bridgepkg "github.com/evillard/mediabridge/internal/bridge"
	configpkg "github.com/evillard/mediabridge/internal/bridge/config"
	errspkg "github.com/evillard/mediabridge/internal/bridge/errors"
	idspkg "github.com/evillard/mediabridge/internal/bridge/ids"
	jsoncodec "github.com/evillard/mediabridge/internal/bridge/jsoncodec"
	"github.com/evillard/mediabridge/internal/bridge/lifecycle"
	loggingpkg "github.com/evillard/mediabridge/internal/bridge/logging"
	"github.com/evillard/mediabridge/internal/bridge/observe"
	"github.com/evillard/mediabridge/internal/bridge/protocol"
	"github.com/evillard/mediabridge/internal/bridge/surface"
	transportpkg "github.com/evillard/mediabridge/transport"
)

type (
	Config              = configpkg.Config
	Service             = bridgepkg.Service
	ServiceDependencies = bridgepkg.ServiceDependencies
	Transport           = transportpkg.Transport
	TransportBuilder    = transportpkg.Builder

	EngineDispatcher = bridgepkg.EngineDispatcher
	EngineCallbacks  = bridgepkg.EngineCallbacks
	MediaDispatcher  = bridgepkg.MediaDispatcher

	MiddlewareBuilder      = bridgepkg.MiddlewareBuilder
	MiddlewareRegistration = bridgepkg.MiddlewareRegistration

	Envelope            = protocol.Envelope
	Code                = protocol.Code
	Reason              = protocol.Reason
	Range               = protocol.Range
	ObservationSnapshot = protocol.ObservationSnapshot
	RemoteError         = protocol.RemoteError

	PipelineState = lifecycle.State

	SurfaceProvider = surface.Provider
	SurfaceHandle   = surface.Handle
	SurfaceBuffer   = surface.Buffer
	SurfaceStatus   = surface.Status
	Readiness       = surface.Readiness

	Clock = observe.Clock

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError = errspkg.ConfigValidationError
)

const (
	DefaultCommandTopic = configpkg.DefaultCommandTopic
	DefaultEventTopic   = configpkg.DefaultEventTopic
)

const (
	ReadinessClosed = surface.ReadinessClosed
	ReadinessOpen   = surface.ReadinessOpen
	ReadinessEnded  = surface.ReadinessEnded
)

const (
	StateUninitialized = lifecycle.StateUninitialized
	StateAttaching     = lifecycle.StateAttaching
	StateOpen          = lifecycle.StateOpen
	StateEnded         = lifecycle.StateEnded
	StateClosed        = lifecycle.StateClosed
	StateDisposed      = lifecycle.StateDisposed
)

var (
	ErrServiceRequired = errspkg.ErrServiceRequired
	ErrNotInitialized  = errspkg.ErrNotInitialized
	ErrDisposed        = errspkg.ErrDisposed
	ErrNoSession       = errspkg.ErrNoSession
	ErrNoPipeline      = errspkg.ErrNoPipeline
	ErrChannelFaulted  = errspkg.ErrChannelFaulted
	ErrChannelUnknown  = errspkg.ErrChannelUnknown
)

var (
	NewService    = bridgepkg.NewService
	TryNewService = bridgepkg.TryNewService

	NewEngineDispatcher = bridgepkg.NewEngineDispatcher
	NewMediaDispatcher  = bridgepkg.NewMediaDispatcher

	DefaultMiddlewares = bridgepkg.DefaultMiddlewares

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger

	ValidateConfig = configpkg.ValidateConfig

	CreateULID = idspkg.CreateULID

	MarshalJSON   = jsoncodec.Marshal
	UnmarshalJSON = jsoncodec.Unmarshal

	RegisterTransport = transportpkg.Register
)
