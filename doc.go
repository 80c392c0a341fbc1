// Package mediabridge implements a resource proxy protocol between two
// isolated execution contexts of an adaptive media player: the engine
// context, which runs the streaming decision logic, and the media context,
// which owns the rendering surface and its buffers. The contexts share no
// memory; everything crosses a Watermill-backed message transport as typed
// JSON envelopes, and every stateful message carries the id of the resource
// it targets so stale traffic is detected and dropped by identity alone.
//
// Each context hosts a Service, which wires the Watermill router, the
// selected transport, and the default middleware chain for correlation IDs,
// structured logging, OpenTelemetry tracing, Prometheus metrics, and panic
// recovery. On top of the Service each side registers its dispatcher:
// NewEngineDispatcher for the decision engine, NewMediaDispatcher for the
// surface owner. The engine dispatcher exposes the command API (Load,
// CreatePipeline, CreateChannel, Append, Remove, SetDuration, EndOfStream,
// StartObservation) and mirrors remote state locally; the media dispatcher
// executes commands against the surface, drives the pipeline lifecycle
// machine, and pushes events back.
//
// # Transports
//
// Three transports are registered out of the box:
//   - channel: in-memory Go channels, for tests and single-process setups
//   - io: newline-delimited JSON over a file or pipe pair
//   - nats: cross-process messaging via NATS
//
// Custom transports plug in through RegisterTransport.
//
// # Ordering and failure
//
// Buffer channel operations are strictly serialized per channel: at most one
// append or remove is in flight at a time, and completion is driven by
// acknowledgement events rather than return values. A failed operation
// faults its channel permanently; later submissions on that channel fail
// locally without a round-trip. Pipeline teardown cancels pending
// operations without invoking their callbacks.
package mediabridge
