package bridge

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/evillard/mediabridge/internal/bridge/errors"
	idspkg "github.com/evillard/mediabridge/internal/bridge/ids"
	"github.com/evillard/mediabridge/internal/bridge/lifecycle"
	loggingpkg "github.com/evillard/mediabridge/internal/bridge/logging"
	"github.com/evillard/mediabridge/internal/bridge/protocol"
	"github.com/evillard/mediabridge/internal/bridge/queue"
)

// EngineCallbacks delivers media-context events to the embedding decision
// engine. All callbacks are optional and are invoked from the router's
// handler goroutine; implementations must not block.
type EngineCallbacks struct {
	OnInitialized         func()
	OnInitializationError func(code protocol.Code, message string)
	OnStateChanged        func(pipelineID uint64, state string)
	OnSnapshot            func(snap protocol.ObservationSnapshot)
	OnSeekRequest         func(pipelineID uint64, position float64)
	OnOffsetUpdate        func(pipelineID uint64, offset float64)
	OnContentInfo         func(pipelineID uint64, duration float64)
	OnContentError        func(contentID uint64, code protocol.Code, message string)
	OnContentWarning      func(contentID uint64, code protocol.Code, message string)

	// OnResourceError reports a failed resource operation. kind names the
	// failed surface ("pipeline", "duration", "channel", "operation",
	// "end-of-stream"); pipelineID or channelID is zero when not applicable.
	OnResourceError func(kind string, code protocol.Code, message string, pipelineID, channelID uint64)
}

// EngineDispatcher is the engine context's half of the bridge. It issues
// commands toward the media context, consumes the event topic, and keeps a
// local mirror of the remote session: the live content id, the adopted
// pipeline id, its last reported state, and one command queue per buffer
// channel. The mirror is what lets append/remove submissions on a faulted
// channel fail locally, without a round-trip.
type EngineDispatcher struct {
	svc       *Service
	log       loggingpkg.ServiceLogger
	callbacks EngineCallbacks

	gen *idspkg.Generator
	reg *idspkg.Registry

	mu            sync.Mutex
	initialized   bool
	disposed      bool
	contentID     uint64
	pipelineID    uint64
	pipelineState string
	duration      float64
	channels      map[uint64]*queue.Channel
}

// NewEngineDispatcher registers the engine-side event handler on svc.
func NewEngineDispatcher(svc *Service, callbacks EngineCallbacks) (*EngineDispatcher, error) {
	if svc == nil {
		return nil, errspkg.ErrServiceRequired
	}

	d := &EngineDispatcher{
		svc:       svc,
		log:       svc.Logger.With(loggingpkg.LogFields{"dispatcher": "engine"}),
		callbacks: callbacks,
		gen:       &idspkg.Generator{},
		reg:       idspkg.NewRegistry(),
		channels:  make(map[uint64]*queue.Channel),
	}

	svc.addInboundHandler("engine-dispatcher", svc.EventTopic(), d.handle)
	return d, nil
}

func (d *EngineDispatcher) send(ctx context.Context, msgType string, value any) error {
	return d.svc.PublishEnvelope(ctx, d.svc.CommandTopic(), msgType, value)
}

// Init asks the media context to bootstrap. The outcome arrives through
// OnInitialized or OnInitializationError.
func (d *EngineDispatcher) Init(ctx context.Context) error {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return errspkg.ErrDisposed
	}
	d.mu.Unlock()
	return d.send(ctx, protocol.CmdInit, protocol.Init{})
}

// Load opens a new content session and returns its freshly allocated
// content id. Any previous session is superseded on both sides.
func (d *EngineDispatcher) Load(ctx context.Context, sourceURI string) (uint64, error) {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return 0, errspkg.ErrDisposed
	}
	if !d.initialized {
		d.mu.Unlock()
		return 0, errspkg.ErrNotInitialized
	}
	d.resetSessionLocked()
	contentID := d.gen.Next(idspkg.ScopeContent)
	d.contentID = contentID
	d.mu.Unlock()

	d.reg.Activate(idspkg.ScopeContent, contentID)
	if err := d.send(ctx, protocol.CmdLoad, protocol.Load{ContentID: contentID, SourceURI: sourceURI}); err != nil {
		return 0, err
	}
	return contentID, nil
}

// Stop ends the current content session.
func (d *EngineDispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	contentID := d.contentID
	if contentID == 0 {
		d.mu.Unlock()
		return errspkg.ErrNoSession
	}
	d.resetSessionLocked()
	d.mu.Unlock()

	return d.send(ctx, protocol.CmdStop, protocol.Stop{ContentID: contentID})
}

// Dispose permanently shuts the bridge down. No further commands are
// accepted from this dispatcher afterwards.
func (d *EngineDispatcher) Dispose(ctx context.Context) error {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return nil
	}
	d.disposed = true
	d.resetSessionLocked()
	d.mu.Unlock()

	return d.send(ctx, protocol.CmdDispose, protocol.Dispose{})
}

// CreatePipeline asks the media context to attach a pipeline for the
// current session. The media context allocates the pipeline id; the engine
// adopts it from the first pipeline-state-changed event.
func (d *EngineDispatcher) CreatePipeline(ctx context.Context) error {
	d.mu.Lock()
	contentID := d.contentID
	d.mu.Unlock()
	if contentID == 0 {
		return errspkg.ErrNoSession
	}
	return d.send(ctx, protocol.CmdCreatePipeline, protocol.CreatePipeline{ContentID: contentID})
}

// SetDuration updates the media duration of the current pipeline.
func (d *EngineDispatcher) SetDuration(ctx context.Context, seconds float64) error {
	pipelineID, err := d.currentPipeline()
	if err != nil {
		return err
	}
	return d.send(ctx, protocol.CmdSetDuration, protocol.SetDuration{PipelineID: pipelineID, Duration: seconds})
}

// ClearPipeline tears the current pipeline down, cancelling every channel
// queue locally first so pending completions cannot fire afterwards.
func (d *EngineDispatcher) ClearPipeline(ctx context.Context) error {
	d.mu.Lock()
	pipelineID := d.pipelineID
	if pipelineID == 0 {
		d.mu.Unlock()
		return errspkg.ErrNoPipeline
	}
	d.resetPipelineLocked()
	d.mu.Unlock()

	d.reg.Retire(idspkg.ScopePipeline, pipelineID)
	return d.send(ctx, protocol.CmdClearPipeline, protocol.ClearPipeline{PipelineID: pipelineID})
}

// CreateChannel allocates a buffer channel on the current pipeline and
// returns its id. The id is live immediately; the media context reports
// creation failure asynchronously through OnResourceError, at which point
// the channel is retired and later submissions fail locally.
func (d *EngineDispatcher) CreateChannel(ctx context.Context, contentType string) (uint64, error) {
	pipelineID, err := d.currentPipeline()
	if err != nil {
		return 0, err
	}

	channelID := d.gen.Next(idspkg.ScopeChannel)
	ch := queue.NewChannel(channelID, contentType, d.submitOperation)

	d.mu.Lock()
	d.channels[channelID] = ch
	d.mu.Unlock()
	d.reg.Activate(idspkg.ScopeChannel, channelID)

	cmd := protocol.CreateChannel{PipelineID: pipelineID, ChannelID: channelID, ContentType: contentType}
	if err := d.send(ctx, protocol.CmdCreateChannel, cmd); err != nil {
		d.dropChannel(channelID)
		return 0, err
	}
	return channelID, nil
}

// Append queues a payload append on channelID. done fires exactly once with
// the outcome, unless the pipeline is torn down first.
func (d *EngineDispatcher) Append(channelID uint64, payload []byte, done func(error)) error {
	ch, err := d.channel(channelID)
	if err != nil {
		return err
	}
	return ch.Enqueue(&queue.Operation{Kind: queue.KindAppend, Payload: payload, Done: done})
}

// Remove queues removal of the [start, end) range on channelID.
func (d *EngineDispatcher) Remove(channelID uint64, start, end float64, done func(error)) error {
	ch, err := d.channel(channelID)
	if err != nil {
		return err
	}
	return ch.Enqueue(&queue.Operation{Kind: queue.KindRemove, Start: start, End: end, Done: done})
}

// EndOfStream signals that no further appends will arrive on any channel of
// the current pipeline.
func (d *EngineDispatcher) EndOfStream(ctx context.Context) error {
	pipelineID, err := d.currentPipeline()
	if err != nil {
		return err
	}
	return d.send(ctx, protocol.CmdEndOfStream, protocol.EndOfStream{PipelineID: pipelineID})
}

// StartObservation begins the snapshot feed for the current pipeline.
func (d *EngineDispatcher) StartObservation(ctx context.Context) error {
	pipelineID, err := d.currentPipeline()
	if err != nil {
		return err
	}
	return d.send(ctx, protocol.CmdStartObservation, protocol.StartObservation{PipelineID: pipelineID})
}

// StopObservation halts the snapshot feed for the current pipeline.
func (d *EngineDispatcher) StopObservation(ctx context.Context) error {
	pipelineID, err := d.currentPipeline()
	if err != nil {
		return err
	}
	return d.send(ctx, protocol.CmdStopObservation, protocol.StopObservation{PipelineID: pipelineID})
}

// PipelineID returns the adopted pipeline id, or 0 before the first
// pipeline-state-changed event of the session.
func (d *EngineDispatcher) PipelineID() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pipelineID
}

// PipelineState returns the last reported lifecycle state of the adopted
// pipeline.
func (d *EngineDispatcher) PipelineState() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pipelineState
}

// Duration returns the last duration acknowledged by the media context.
func (d *EngineDispatcher) Duration() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.duration
}

func (d *EngineDispatcher) currentPipeline() (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.contentID == 0 {
		return 0, errspkg.ErrNoSession
	}
	if d.pipelineID == 0 {
		return 0, errspkg.ErrNoPipeline
	}
	return d.pipelineID, nil
}

func (d *EngineDispatcher) channel(channelID uint64) (*queue.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.channels[channelID]
	if !ok {
		return nil, errspkg.ErrChannelUnknown
	}
	return ch, nil
}

// submitOperation is the queue's transport hook: it publishes the head
// operation of a channel as an append or remove command.
func (d *EngineDispatcher) submitOperation(channelID uint64, op *queue.Operation) error {
	switch op.Kind {
	case queue.KindRemove:
		return d.send(context.Background(), protocol.CmdRemove, protocol.Remove{
			ChannelID: channelID,
			Start:     op.Start,
			End:       op.End,
		})
	default:
		return d.send(context.Background(), protocol.CmdAppend, protocol.Append{
			ChannelID: channelID,
			Payload:   op.Payload,
		})
	}
}

// handle routes one inbound event. Like the media side it always returns
// nil; a stale or malformed event is dropped, never redelivered.
func (d *EngineDispatcher) handle(msg *message.Message) error {
	env, err := protocol.ParseEnvelope(msg.Payload)
	if err != nil {
		d.log.Error("Dropping malformed event", err, loggingpkg.LogFields{
			"message_uuid": msg.UUID,
		})
		return nil
	}

	switch env.Type {
	case protocol.EvtInitialized:
		d.onInitialized()
	case protocol.EvtInitializationError:
		decodeEvent(d, env, d.onInitializationError)
	case protocol.EvtPipelineStateChanged:
		decodeEvent(d, env, d.onPipelineStateChanged)
	case protocol.EvtPipelineCreateError:
		decodeEvent(d, env, d.onPipelineCreateError)
	case protocol.EvtDurationUpdateError:
		decodeEvent(d, env, d.onDurationUpdateError)
	case protocol.EvtChannelCreateError:
		decodeEvent(d, env, d.onChannelCreateError)
	case protocol.EvtChannelOperationAck:
		decodeEvent(d, env, d.onChannelOperationAck)
	case protocol.EvtChannelOperationErr:
		decodeEvent(d, env, d.onChannelOperationError)
	case protocol.EvtEndOfStreamError:
		decodeEvent(d, env, d.onEndOfStreamError)
	case protocol.EvtObservationSnapshot:
		decodeEvent(d, env, d.onSnapshot)
	case protocol.EvtSeekRequest:
		decodeEvent(d, env, d.onSeekRequest)
	case protocol.EvtOffsetUpdate:
		decodeEvent(d, env, d.onOffsetUpdate)
	case protocol.EvtContentInfoUpdate:
		decodeEvent(d, env, d.onContentInfoUpdate)
	case protocol.EvtContentError:
		decodeEvent(d, env, d.onContentError)
	case protocol.EvtContentWarning:
		decodeEvent(d, env, d.onContentWarning)
	default:
		d.log.Debug("Dropping unknown event type", loggingpkg.LogFields{
			"type": env.Type,
		})
	}
	return nil
}

func decodeEvent[T any](d *EngineDispatcher, env protocol.Envelope, fn func(T)) {
	var value T
	if err := env.DecodeValue(&value); err != nil {
		d.log.Error("Dropping event with malformed payload", err, loggingpkg.LogFields{
			"type": env.Type,
		})
		return
	}
	fn(value)
}

func (d *EngineDispatcher) onInitialized() {
	d.mu.Lock()
	d.initialized = true
	d.mu.Unlock()
	if d.callbacks.OnInitialized != nil {
		d.callbacks.OnInitialized()
	}
}

func (d *EngineDispatcher) onInitializationError(evt protocol.InitializationError) {
	if d.callbacks.OnInitializationError != nil {
		d.callbacks.OnInitializationError(evt.Code, evt.Message)
	}
}

// onPipelineStateChanged adopts the media-allocated pipeline id. Pipeline
// ids grow monotonically, so an id greater than the mirror's means a new
// pipeline superseded the old one, and a smaller id is a stale leftover.
func (d *EngineDispatcher) onPipelineStateChanged(evt protocol.PipelineStateChanged) {
	d.mu.Lock()
	if evt.PipelineID < d.pipelineID {
		d.mu.Unlock()
		return
	}
	previous := d.pipelineID
	if evt.PipelineID > previous {
		d.resetPipelineLocked()
		d.pipelineID = evt.PipelineID
	}
	d.pipelineState = evt.State
	d.mu.Unlock()

	if evt.PipelineID > previous {
		if previous != 0 {
			d.reg.Retire(idspkg.ScopePipeline, previous)
		}
		d.reg.Activate(idspkg.ScopePipeline, evt.PipelineID)
	}

	if d.callbacks.OnStateChanged != nil {
		d.callbacks.OnStateChanged(evt.PipelineID, evt.State)
	}
}

func (d *EngineDispatcher) onPipelineCreateError(evt protocol.PipelineCreateError) {
	if !d.reg.IsCurrent(idspkg.ScopeContent, evt.ContentID) {
		return
	}
	if d.callbacks.OnResourceError != nil {
		d.callbacks.OnResourceError("pipeline", evt.Code, evt.Message, 0, 0)
	}
}

func (d *EngineDispatcher) onDurationUpdateError(evt protocol.DurationUpdateError) {
	if d.callbacks.OnResourceError != nil {
		d.callbacks.OnResourceError("duration", evt.Code, evt.Message, evt.PipelineID, 0)
	}
}

// onChannelCreateError drops the local queue whose remote buffer could not
// be created. Operations already queued on it are discarded silently.
func (d *EngineDispatcher) onChannelCreateError(evt protocol.ChannelCreateError) {
	d.dropChannel(evt.ChannelID)
	if d.callbacks.OnResourceError != nil {
		d.callbacks.OnResourceError("channel", evt.Code, evt.Message, evt.PipelineID, evt.ChannelID)
	}
}

func (d *EngineDispatcher) onChannelOperationAck(evt protocol.ChannelOperationAck) {
	ch, err := d.channel(evt.ChannelID)
	if err != nil {
		return
	}
	ch.CompleteAck()
}

func (d *EngineDispatcher) onChannelOperationError(evt protocol.ChannelOperationError) {
	ch, err := d.channel(evt.ChannelID)
	if err != nil {
		return
	}
	ch.CompleteError(&protocol.RemoteError{Code: evt.Code, Message: evt.Message})
	if d.callbacks.OnResourceError != nil {
		d.callbacks.OnResourceError("operation", evt.Code, evt.Message, 0, evt.ChannelID)
	}
}

func (d *EngineDispatcher) onEndOfStreamError(evt protocol.EndOfStreamError) {
	if d.callbacks.OnResourceError != nil {
		d.callbacks.OnResourceError("end-of-stream", evt.Code, evt.Message, evt.PipelineID, 0)
	}
}

func (d *EngineDispatcher) onSnapshot(evt protocol.ObservationSnapshot) {
	if !d.reg.IsCurrent(idspkg.ScopePipeline, evt.PipelineID) {
		return
	}
	if d.callbacks.OnSnapshot != nil {
		d.callbacks.OnSnapshot(evt)
	}
}

func (d *EngineDispatcher) onSeekRequest(evt protocol.SeekRequest) {
	if !d.reg.IsCurrent(idspkg.ScopePipeline, evt.PipelineID) {
		return
	}
	if d.callbacks.OnSeekRequest != nil {
		d.callbacks.OnSeekRequest(evt.PipelineID, evt.Position)
	}
}

func (d *EngineDispatcher) onOffsetUpdate(evt protocol.OffsetUpdate) {
	if !d.reg.IsCurrent(idspkg.ScopePipeline, evt.PipelineID) {
		return
	}
	if d.callbacks.OnOffsetUpdate != nil {
		d.callbacks.OnOffsetUpdate(evt.PipelineID, evt.Offset)
	}
}

func (d *EngineDispatcher) onContentInfoUpdate(evt protocol.ContentInfoUpdate) {
	if !d.reg.IsCurrent(idspkg.ScopePipeline, evt.PipelineID) {
		return
	}
	d.mu.Lock()
	d.duration = evt.Duration
	d.mu.Unlock()
	if d.callbacks.OnContentInfo != nil {
		d.callbacks.OnContentInfo(evt.PipelineID, evt.Duration)
	}
}

// onContentError tears the mirrored session down. The media context already
// cleared its side before emitting a fatal content error.
func (d *EngineDispatcher) onContentError(evt protocol.ContentError) {
	if evt.ContentID != 0 && !d.reg.IsCurrent(idspkg.ScopeContent, evt.ContentID) {
		return
	}

	d.mu.Lock()
	d.resetSessionLocked()
	d.mu.Unlock()

	if d.callbacks.OnContentError != nil {
		d.callbacks.OnContentError(evt.ContentID, evt.Code, evt.Message)
	}
}

func (d *EngineDispatcher) onContentWarning(evt protocol.ContentWarning) {
	if d.callbacks.OnContentWarning != nil {
		d.callbacks.OnContentWarning(evt.ContentID, evt.Code, evt.Message)
	}
}

func (d *EngineDispatcher) dropChannel(channelID uint64) {
	d.mu.Lock()
	ch := d.channels[channelID]
	delete(d.channels, channelID)
	d.mu.Unlock()

	d.reg.Retire(idspkg.ScopeChannel, channelID)
	if ch != nil {
		ch.Cancel()
	}
}

// resetPipelineLocked clears the pipeline mirror and cancels every channel
// queue. Callers hold d.mu.
func (d *EngineDispatcher) resetPipelineLocked() {
	for _, ch := range d.channels {
		ch.Cancel()
		d.reg.Retire(idspkg.ScopeChannel, ch.ID())
	}
	d.channels = make(map[uint64]*queue.Channel)
	d.pipelineID = 0
	d.pipelineState = lifecycle.StateUninitialized.String()
	d.duration = 0
}

// resetSessionLocked clears the whole session mirror. Callers hold d.mu.
func (d *EngineDispatcher) resetSessionLocked() {
	if d.pipelineID != 0 {
		d.reg.Retire(idspkg.ScopePipeline, d.pipelineID)
	}
	d.resetPipelineLocked()
	if d.contentID != 0 {
		d.reg.Retire(idspkg.ScopeContent, d.contentID)
	}
	d.contentID = 0
}
