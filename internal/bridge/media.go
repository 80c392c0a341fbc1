package bridge

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/evillard/mediabridge/internal/bridge/errors"
	idspkg "github.com/evillard/mediabridge/internal/bridge/ids"
	"github.com/evillard/mediabridge/internal/bridge/lifecycle"
	loggingpkg "github.com/evillard/mediabridge/internal/bridge/logging"
	"github.com/evillard/mediabridge/internal/bridge/observe"
	"github.com/evillard/mediabridge/internal/bridge/protocol"
	"github.com/evillard/mediabridge/internal/bridge/surface"
)

// MediaDispatcher is the single inbound entry point of the media context.
// It owns the rendering surface, the pipeline lifecycle machine, the
// observation feed, and the one mutable ContentSession record for this
// context. Commands whose embedded ids fail the liveness check are dropped
// silently; that identity comparison is the only concurrency-safety
// mechanism between the two contexts.
type MediaDispatcher struct {
	svc      *Service
	log      loggingpkg.ServiceLogger
	provider surface.Provider

	gen  *idspkg.Generator
	reg  *idspkg.Registry
	feed *observe.Feed

	mu             sync.Mutex
	initialized    bool
	halted         bool
	contentID      uint64
	pipeline       *lifecycle.Pipeline
	lastPipelineID uint64
	tearingDown    bool
}

// NewMediaDispatcher registers the media-side protocol handler on svc.
// provider is the rendering-surface capability; a nil provider is reported
// to the engine as a bootstrap failure when init arrives rather than
// refused here, since bootstrap errors belong on the wire.
func NewMediaDispatcher(svc *Service, provider surface.Provider) (*MediaDispatcher, error) {
	if svc == nil {
		return nil, errspkg.ErrServiceRequired
	}

	d := &MediaDispatcher{
		svc:      svc,
		log:      svc.Logger.With(loggingpkg.LogFields{"dispatcher": "media"}),
		provider: provider,
		gen:      &idspkg.Generator{},
		reg:      idspkg.NewRegistry(),
		feed:     observe.NewFeed(svc.clock, svc.Conf.ObservationInterval),
	}

	svc.addInboundHandler("media-dispatcher", svc.CommandTopic(), d.handle)
	return d, nil
}

// handle routes one inbound command. It always returns nil: protocol errors
// are dropped with a diagnostic and must never crash the context or wedge
// the subscription with redeliveries.
func (d *MediaDispatcher) handle(msg *message.Message) error {
	env, err := protocol.ParseEnvelope(msg.Payload)
	if err != nil {
		d.log.Error("Dropping malformed command", err, loggingpkg.LogFields{
			"message_uuid": msg.UUID,
		})
		return nil
	}

	ctx := msg.Context()
	switch env.Type {
	case protocol.CmdInit:
		d.handleInit(ctx)
	case protocol.CmdLoad:
		dispatchValue(d, ctx, env, d.handleLoad)
	case protocol.CmdStop:
		dispatchValue(d, ctx, env, d.handleStop)
	case protocol.CmdDispose:
		d.handleDispose(ctx)
	case protocol.CmdCreatePipeline:
		dispatchValue(d, ctx, env, d.handleCreatePipeline)
	case protocol.CmdSetDuration:
		dispatchValue(d, ctx, env, d.handleSetDuration)
	case protocol.CmdClearPipeline:
		dispatchValue(d, ctx, env, d.handleClearPipeline)
	case protocol.CmdCreateChannel:
		dispatchValue(d, ctx, env, d.handleCreateChannel)
	case protocol.CmdAppend:
		dispatchValue(d, ctx, env, d.handleAppend)
	case protocol.CmdRemove:
		dispatchValue(d, ctx, env, d.handleRemove)
	case protocol.CmdEndOfStream:
		dispatchValue(d, ctx, env, d.handleEndOfStream)
	case protocol.CmdStartObservation:
		dispatchValue(d, ctx, env, d.handleStartObservation)
	case protocol.CmdStopObservation:
		dispatchValue(d, ctx, env, d.handleStopObservation)
	default:
		d.log.Debug("Dropping unknown command type", loggingpkg.LogFields{
			"type": env.Type,
		})
	}
	return nil
}

// dispatchValue decodes the envelope payload and invokes fn, dropping the
// message with a diagnostic when the payload does not parse.
func dispatchValue[T any](d *MediaDispatcher, ctx context.Context, env protocol.Envelope, fn func(context.Context, T)) {
	var value T
	if err := env.DecodeValue(&value); err != nil {
		d.log.Error("Dropping command with malformed payload", err, loggingpkg.LogFields{
			"type": env.Type,
		})
		return
	}
	fn(ctx, value)
}

func (d *MediaDispatcher) emit(ctx context.Context, msgType string, value any) {
	if err := d.svc.PublishEnvelope(ctx, d.svc.EventTopic(), msgType, value); err != nil {
		d.log.Error("Failed to publish event", err, loggingpkg.LogFields{
			"type": msgType,
		})
	}
}

// ready reports whether the dispatcher accepts regular commands, logging a
// diagnostic when it does not.
func (d *MediaDispatcher) ready(cmd string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		d.log.Debug("Dropping command, context halted", loggingpkg.LogFields{"command": cmd})
		return false
	}
	if !d.initialized {
		d.log.Debug("Dropping command, context not initialized", loggingpkg.LogFields{"command": cmd})
		return false
	}
	return true
}

func (d *MediaDispatcher) handleInit(ctx context.Context) {
	d.mu.Lock()
	if d.halted || d.initialized {
		d.mu.Unlock()
		return
	}
	if d.provider == nil {
		d.halted = true
		d.mu.Unlock()
		// Bootstrap errors are fatal and reported exactly once.
		d.emit(ctx, protocol.EvtInitializationError, protocol.InitializationError{
			Code:    protocol.CodeEnvironmentUnsupported,
			Message: "no rendering surface available",
		})
		return
	}
	d.initialized = true
	d.mu.Unlock()

	d.emit(ctx, protocol.EvtInitialized, protocol.Initialized{})
}

func (d *MediaDispatcher) handleLoad(ctx context.Context, cmd protocol.Load) {
	if !d.ready(protocol.CmdLoad) {
		return
	}

	// A new load always supersedes the previous session; its pipeline is
	// cleared and its observation feed cancelled before the new contentId
	// is adopted.
	d.teardownSession()

	d.mu.Lock()
	d.contentID = cmd.ContentID
	d.mu.Unlock()
	d.reg.Activate(idspkg.ScopeContent, cmd.ContentID)

	d.log.Info("Content session live", loggingpkg.LogFields{
		"content_id": cmd.ContentID,
		"source_uri": cmd.SourceURI,
	})
}

func (d *MediaDispatcher) handleStop(ctx context.Context, cmd protocol.Stop) {
	if !d.ready(protocol.CmdStop) {
		return
	}
	if !d.reg.IsCurrent(idspkg.ScopeContent, cmd.ContentID) {
		return
	}
	d.teardownSession()
}

func (d *MediaDispatcher) handleDispose(ctx context.Context) {
	d.mu.Lock()
	if d.halted {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	d.teardownSession()

	d.mu.Lock()
	d.halted = true
	d.mu.Unlock()
}

func (d *MediaDispatcher) handleCreatePipeline(ctx context.Context, cmd protocol.CreatePipeline) {
	if !d.ready(protocol.CmdCreatePipeline) {
		return
	}
	if !d.reg.IsCurrent(idspkg.ScopeContent, cmd.ContentID) {
		return
	}

	// A second create within one session replaces the previous pipeline.
	d.teardownPipeline()

	pipelineID := d.gen.Next(idspkg.ScopePipeline)
	d.mu.Lock()
	d.lastPipelineID = pipelineID
	d.mu.Unlock()
	d.reg.Activate(idspkg.ScopePipeline, pipelineID)

	p, err := lifecycle.Attach(pipelineID, d.provider, func(id uint64, state lifecycle.State) {
		d.onStateChanged(id, state)
	})
	if err != nil {
		d.reg.Retire(idspkg.ScopePipeline, pipelineID)
		d.emit(ctx, protocol.EvtPipelineCreateError, protocol.PipelineCreateError{
			ContentID: cmd.ContentID,
			Code:      protocol.CodePipelineCreateFailed,
			Message:   err.Error(),
		})
		return
	}

	p.Handle().OnSeekRequest(func(position float64) {
		d.onSeekRequest(pipelineID, position)
	})
	p.Handle().OnRateChange(func(rate float64) {
		d.onRateChange(pipelineID)
	})

	d.mu.Lock()
	d.pipeline = p
	d.mu.Unlock()
}

// onStateChanged relays every lifecycle transition to the engine context.
// Transitions for superseded pipelines are discarded by identity.
func (d *MediaDispatcher) onStateChanged(pipelineID uint64, state lifecycle.State) {
	if !d.reg.IsCurrent(idspkg.ScopePipeline, pipelineID) {
		return
	}

	d.emit(context.Background(), protocol.EvtPipelineStateChanged, protocol.PipelineStateChanged{
		PipelineID: pipelineID,
		State:      state.String(),
	})

	switch state {
	case lifecycle.StateOpen:
		// Give the engine a position baseline as soon as playback can start.
		d.mu.Lock()
		p := d.pipeline
		d.mu.Unlock()
		if p != nil {
			d.emit(context.Background(), protocol.EvtOffsetUpdate, protocol.OffsetUpdate{
				PipelineID: pipelineID,
				Offset:     p.Handle().Status().Position,
			})
		}
	case lifecycle.StateClosed:
		// The surface detached on its own; the session cannot continue.
		d.mu.Lock()
		contentID := d.contentID
		tearingDown := d.tearingDown
		d.mu.Unlock()
		if tearingDown {
			return
		}
		d.emit(context.Background(), protocol.EvtContentError, protocol.ContentError{
			ContentID: contentID,
			Code:      protocol.CodeContentFatal,
			Message:   "rendering surface closed unexpectedly",
		})
		d.teardownSession()
	}
}

func (d *MediaDispatcher) onSeekRequest(pipelineID uint64, position float64) {
	if !d.reg.IsCurrent(idspkg.ScopePipeline, pipelineID) {
		return
	}
	d.emit(context.Background(), protocol.EvtSeekRequest, protocol.SeekRequest{
		PipelineID: pipelineID,
		Position:   position,
	})
	d.feed.Poke(protocol.ReasonSeek)
}

// onRateChange covers pause, resume and rate switches alike: the surface
// reports them all as rate transitions, and each one earns an immediate
// observation sample.
func (d *MediaDispatcher) onRateChange(pipelineID uint64) {
	if !d.reg.IsCurrent(idspkg.ScopePipeline, pipelineID) {
		return
	}
	d.feed.Poke(protocol.ReasonRateChange)
}

// livePipeline resolves pipelineID against the live record. Pipeline ids
// grow monotonically and are allocated only here, so any id at or below the
// last allocation is a retired pipeline's: commands naming one are stale
// leftovers and are dropped silently, even after clear-pipeline emptied the
// slot. An id this context never allocated is an ownership violation
// (known=false) and is answered with an error event.
func (d *MediaDispatcher) livePipeline(pipelineID uint64) (p *lifecycle.Pipeline, live, known bool) {
	d.mu.Lock()
	p = d.pipeline
	last := d.lastPipelineID
	d.mu.Unlock()

	if pipelineID == 0 || pipelineID > last {
		return nil, false, false
	}
	if p == nil || !d.reg.IsCurrent(idspkg.ScopePipeline, pipelineID) {
		return nil, false, true
	}
	return p, true, true
}

func (d *MediaDispatcher) handleSetDuration(ctx context.Context, cmd protocol.SetDuration) {
	if !d.ready(protocol.CmdSetDuration) {
		return
	}
	p, live, known := d.livePipeline(cmd.PipelineID)
	if !known {
		d.emit(ctx, protocol.EvtDurationUpdateError, protocol.DurationUpdateError{
			PipelineID: cmd.PipelineID,
			Code:       protocol.CodeOwnershipMismatch,
			Message:    "pipeline was never created by this context",
		})
		return
	}
	if !live {
		return
	}

	if err := p.SetDuration(cmd.Duration); err != nil {
		d.emit(ctx, protocol.EvtDurationUpdateError, protocol.DurationUpdateError{
			PipelineID: cmd.PipelineID,
			Code:       protocol.CodeDurationUpdateFailed,
			Message:    err.Error(),
		})
		return
	}

	d.emit(ctx, protocol.EvtContentInfoUpdate, protocol.ContentInfoUpdate{
		PipelineID: cmd.PipelineID,
		Duration:   cmd.Duration,
	})
}

func (d *MediaDispatcher) handleEndOfStream(ctx context.Context, cmd protocol.EndOfStream) {
	if !d.ready(protocol.CmdEndOfStream) {
		return
	}
	p, live, known := d.livePipeline(cmd.PipelineID)
	if !known {
		d.emit(ctx, protocol.EvtEndOfStreamError, protocol.EndOfStreamError{
			PipelineID: cmd.PipelineID,
			Code:       protocol.CodeOwnershipMismatch,
			Message:    "pipeline was never created by this context",
		})
		return
	}
	if !live {
		return
	}

	if err := p.EndOfStream(); err != nil {
		d.emit(ctx, protocol.EvtEndOfStreamError, protocol.EndOfStreamError{
			PipelineID: cmd.PipelineID,
			Code:       protocol.CodeEndOfStreamFailed,
			Message:    err.Error(),
		})
	}
}

func (d *MediaDispatcher) handleClearPipeline(ctx context.Context, cmd protocol.ClearPipeline) {
	if !d.ready(protocol.CmdClearPipeline) {
		return
	}
	_, live, _ := d.livePipeline(cmd.PipelineID)
	if !live {
		// Clearing an already-cleared pipeline is idempotent.
		return
	}
	d.teardownPipeline()
}

func (d *MediaDispatcher) handleCreateChannel(ctx context.Context, cmd protocol.CreateChannel) {
	if !d.ready(protocol.CmdCreateChannel) {
		return
	}
	p, live, _ := d.livePipeline(cmd.PipelineID)
	if !live {
		return
	}

	if err := p.CreateBuffer(cmd.ChannelID, cmd.ContentType); err != nil {
		d.emit(ctx, protocol.EvtChannelCreateError, protocol.ChannelCreateError{
			PipelineID: cmd.PipelineID,
			ChannelID:  cmd.ChannelID,
			Code:       protocol.CodeChannelCreateFailed,
			Message:    err.Error(),
		})
		return
	}
	d.reg.Activate(idspkg.ScopeChannel, cmd.ChannelID)
}

func (d *MediaDispatcher) handleAppend(ctx context.Context, cmd protocol.Append) {
	if !d.ready(protocol.CmdAppend) {
		return
	}
	buf, ok := d.liveBuffer(cmd.ChannelID)
	if !ok {
		return
	}

	channelID := cmd.ChannelID
	buf.Append(cmd.Payload, func(err error) {
		d.completeOperation(channelID, protocol.CodeAppendFailed, err)
	})
}

func (d *MediaDispatcher) handleRemove(ctx context.Context, cmd protocol.Remove) {
	if !d.ready(protocol.CmdRemove) {
		return
	}
	buf, ok := d.liveBuffer(cmd.ChannelID)
	if !ok {
		return
	}

	channelID := cmd.ChannelID
	buf.Remove(cmd.Start, cmd.End, func(err error) {
		d.completeOperation(channelID, protocol.CodeRemoveFailed, err)
	})
}

func (d *MediaDispatcher) liveBuffer(channelID uint64) (surface.Buffer, bool) {
	if !d.reg.IsCurrent(idspkg.ScopeChannel, channelID) {
		return nil, false
	}
	d.mu.Lock()
	p := d.pipeline
	d.mu.Unlock()
	if p == nil {
		return nil, false
	}
	return p.Buffer(channelID)
}

// completeOperation reports an append/remove outcome. Completions arriving
// after the channel was retired are stale and dropped.
func (d *MediaDispatcher) completeOperation(channelID uint64, failCode protocol.Code, err error) {
	if !d.reg.IsCurrent(idspkg.ScopeChannel, channelID) {
		return
	}
	if err != nil {
		d.reg.Retire(idspkg.ScopeChannel, channelID)
		d.emit(context.Background(), protocol.EvtChannelOperationErr, protocol.ChannelOperationError{
			ChannelID: channelID,
			Code:      failCode,
			Message:   err.Error(),
		})
		return
	}
	d.emit(context.Background(), protocol.EvtChannelOperationAck, protocol.ChannelOperationAck{
		ChannelID: channelID,
	})
}

func (d *MediaDispatcher) handleStartObservation(ctx context.Context, cmd protocol.StartObservation) {
	if !d.ready(protocol.CmdStartObservation) {
		return
	}
	p, live, _ := d.livePipeline(cmd.PipelineID)
	if !live {
		return
	}

	if p.State() != lifecycle.StateOpen {
		d.mu.Lock()
		contentID := d.contentID
		d.mu.Unlock()
		d.emit(ctx, protocol.EvtContentWarning, protocol.ContentWarning{
			ContentID: contentID,
			Code:      protocol.CodeSessionNotReady,
			Message:   "observation started before pipeline open; samples may be empty",
		})
	}

	d.feed.Start(cmd.PipelineID, p.Handle(), func(snap protocol.ObservationSnapshot) {
		d.emit(context.Background(), protocol.EvtObservationSnapshot, snap)
	})
}

func (d *MediaDispatcher) handleStopObservation(ctx context.Context, cmd protocol.StopObservation) {
	if !d.ready(protocol.CmdStopObservation) {
		return
	}
	d.feed.Stop(cmd.PipelineID)
}

// teardownPipeline clears the live pipeline, if any: the observation feed
// stops first, then every channel and the surface attachment are released,
// and all their ids are retired so late traffic self-identifies as stale.
func (d *MediaDispatcher) teardownPipeline() {
	d.mu.Lock()
	p := d.pipeline
	d.pipeline = nil
	if p != nil {
		d.tearingDown = true
	}
	d.mu.Unlock()
	if p == nil {
		return
	}

	d.feed.StopAll()
	d.reg.Retire(idspkg.ScopePipeline, p.ID())
	p.Clear()

	d.mu.Lock()
	d.tearingDown = false
	d.mu.Unlock()
}

func (d *MediaDispatcher) teardownSession() {
	d.teardownPipeline()

	d.mu.Lock()
	contentID := d.contentID
	d.contentID = 0
	d.mu.Unlock()
	if contentID != 0 {
		d.reg.Retire(idspkg.ScopeContent, contentID)
	}
}
