package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/evillard/mediabridge/internal/bridge/config"
	errspkg "github.com/evillard/mediabridge/internal/bridge/errors"
	loggingpkg "github.com/evillard/mediabridge/internal/bridge/logging"
	"github.com/evillard/mediabridge/internal/bridge/observe"
	"github.com/evillard/mediabridge/internal/bridge/protocol"
	"github.com/evillard/mediabridge/internal/bridge/surface"
)

// fakeBuffer executes append/remove synchronously, failing when told to.
type fakeBuffer struct {
	mu       sync.Mutex
	appends  [][]byte
	removes  []protocol.Range
	failNext error
	aborted  bool
}

func (b *fakeBuffer) Append(payload []byte, done func(error)) {
	b.mu.Lock()
	if err := b.failNext; err != nil {
		b.failNext = nil
		b.mu.Unlock()
		done(err)
		return
	}
	b.appends = append(b.appends, payload)
	b.mu.Unlock()
	done(nil)
}

func (b *fakeBuffer) Remove(start, end float64, done func(error)) {
	b.mu.Lock()
	if err := b.failNext; err != nil {
		b.failNext = nil
		b.mu.Unlock()
		done(err)
		return
	}
	b.removes = append(b.removes, protocol.Range{Start: start, End: end})
	b.mu.Unlock()
	done(nil)
}

func (b *fakeBuffer) Abort() {
	b.mu.Lock()
	b.aborted = true
	b.mu.Unlock()
}

func (b *fakeBuffer) appendCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.appends)
}

type fakeHandle struct {
	mu       sync.Mutex
	notify   func(surface.Readiness)
	onSeek   func(float64)
	onRate   func(float64)
	status   surface.Status
	duration float64
	detached bool
	buffers  []*fakeBuffer
}

func (h *fakeHandle) Notify(fn func(surface.Readiness)) {
	h.mu.Lock()
	h.notify = fn
	h.mu.Unlock()
}

func (h *fakeHandle) Detach() {
	h.mu.Lock()
	h.detached = true
	h.mu.Unlock()
}

func (h *fakeHandle) SetDuration(seconds float64) error {
	h.mu.Lock()
	h.duration = seconds
	h.mu.Unlock()
	return nil
}

func (h *fakeHandle) EndOfStream() error { return nil }

func (h *fakeHandle) CreateBuffer(contentType string) (surface.Buffer, error) {
	b := &fakeBuffer{}
	h.mu.Lock()
	h.buffers = append(h.buffers, b)
	h.mu.Unlock()
	return b, nil
}

func (h *fakeHandle) Status() surface.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *fakeHandle) OnSeekRequest(fn func(float64)) {
	h.mu.Lock()
	h.onSeek = fn
	h.mu.Unlock()
}

func (h *fakeHandle) OnRateChange(fn func(float64)) {
	h.mu.Lock()
	h.onRate = fn
	h.mu.Unlock()
}

func (h *fakeHandle) signal(r surface.Readiness) {
	h.mu.Lock()
	fn := h.notify
	h.mu.Unlock()
	if fn != nil {
		fn(r)
	}
}

func (h *fakeHandle) seek(position float64) {
	h.mu.Lock()
	fn := h.onSeek
	h.mu.Unlock()
	if fn != nil {
		fn(position)
	}
}

func (h *fakeHandle) rate(v float64) {
	h.mu.Lock()
	fn := h.onRate
	h.mu.Unlock()
	if fn != nil {
		fn(v)
	}
}

func (h *fakeHandle) isDetached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.detached
}

func (h *fakeHandle) lastBuffer() *fakeBuffer {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.buffers) == 0 {
		return nil
	}
	return h.buffers[len(h.buffers)-1]
}

type fakeProvider struct {
	mu      sync.Mutex
	handles []*fakeHandle
	err     error
}

func (p *fakeProvider) Attach() (surface.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	h := &fakeHandle{}
	p.handles = append(p.handles, h)
	return h, nil
}

func (p *fakeProvider) lastHandle() *fakeHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.handles) == 0 {
		return nil
	}
	return p.handles[len(p.handles)-1]
}

type fakeTicker struct{ ch chan time.Time }

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()               {}

type fakeClock struct {
	mu      sync.Mutex
	tickers []*fakeTicker
}

func (f *fakeClock) NewTicker(time.Duration) observe.Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time, 1)}
	f.tickers = append(f.tickers, t)
	return t
}

func (f *fakeClock) tick() {
	f.mu.Lock()
	t := f.tickers[len(f.tickers)-1]
	f.mu.Unlock()
	t.ch <- time.Now()
}

type stateEvent struct {
	pipelineID uint64
	state      string
}

type resourceError struct {
	kind       string
	code       protocol.Code
	message    string
	pipelineID uint64
	channelID  uint64
}

type contentEvent struct {
	contentID uint64
	code      protocol.Code
	message   string
}

// eventRecorder fans engine callbacks into channels so tests can await them.
type eventRecorder struct {
	initialized   chan struct{}
	initErrors    chan protocol.Code
	states        chan stateEvent
	snapshots     chan protocol.ObservationSnapshot
	seeks         chan float64
	offsets       chan float64
	durations     chan float64
	contentErrors chan contentEvent
	warnings      chan contentEvent
	resourceErrs  chan resourceError
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{
		initialized:   make(chan struct{}, 4),
		initErrors:    make(chan protocol.Code, 4),
		states:        make(chan stateEvent, 16),
		snapshots:     make(chan protocol.ObservationSnapshot, 32),
		seeks:         make(chan float64, 4),
		offsets:       make(chan float64, 4),
		durations:     make(chan float64, 4),
		contentErrors: make(chan contentEvent, 4),
		warnings:      make(chan contentEvent, 4),
		resourceErrs:  make(chan resourceError, 8),
	}
}

func (r *eventRecorder) callbacks() EngineCallbacks {
	return EngineCallbacks{
		OnInitialized: func() { r.initialized <- struct{}{} },
		OnInitializationError: func(code protocol.Code, _ string) {
			r.initErrors <- code
		},
		OnStateChanged: func(pipelineID uint64, state string) {
			r.states <- stateEvent{pipelineID: pipelineID, state: state}
		},
		OnSnapshot: func(snap protocol.ObservationSnapshot) { r.snapshots <- snap },
		OnSeekRequest: func(_ uint64, position float64) { r.seeks <- position },
		OnOffsetUpdate: func(_ uint64, offset float64) { r.offsets <- offset },
		OnContentInfo: func(_ uint64, duration float64) { r.durations <- duration },
		OnContentError: func(contentID uint64, code protocol.Code, message string) {
			r.contentErrors <- contentEvent{contentID: contentID, code: code, message: message}
		},
		OnContentWarning: func(contentID uint64, code protocol.Code, message string) {
			r.warnings <- contentEvent{contentID: contentID, code: code, message: message}
		},
		OnResourceError: func(kind string, code protocol.Code, message string, pipelineID, channelID uint64) {
			r.resourceErrs <- resourceError{kind: kind, code: code, message: message, pipelineID: pipelineID, channelID: channelID}
		},
	}
}

type testBridge struct {
	svc      *Service
	engine   *EngineDispatcher
	media    *MediaDispatcher
	provider *fakeProvider
	clock    *fakeClock
	events   *eventRecorder
}

// newTestBridge hosts both dispatchers on one Service over the in-memory
// channel transport and runs the router until the test ends.
func newTestBridge(t *testing.T) *testBridge {
	t.Helper()
	provider := &fakeProvider{}
	return newTestBridgeWithProvider(t, provider, provider)
}

func newTestBridgeWithProvider(t *testing.T, mediaProvider surface.Provider, provider *fakeProvider) *testBridge {
	t.Helper()

	conf := &configpkg.Config{Transport: "channel"}
	logger := loggingpkg.NewWatermillServiceLogger(watermill.NopLogger{})
	clock := &fakeClock{}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	svc, err := TryNewService(conf, logger, ctx, ServiceDependencies{
		DisableDefaultMiddlewares: true,
		Clock:                     clock,
	})
	require.NoError(t, err)

	media, err := NewMediaDispatcher(svc, mediaProvider)
	require.NoError(t, err)

	events := newEventRecorder()
	engine, err := NewEngineDispatcher(svc, events.callbacks())
	require.NoError(t, err)

	go func() {
		if err := svc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("router stopped: %v", err)
		}
	}()

	select {
	case <-svc.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}

	return &testBridge{
		svc:      svc,
		engine:   engine,
		media:    media,
		provider: provider,
		clock:    clock,
		events:   events,
	}
}

func recv[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

func expectSilence[T any](t *testing.T, ch <-chan T, what string) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected %s: %v", what, v)
	case <-time.After(150 * time.Millisecond):
	}
}

// startSession runs init + load + create-pipeline and returns the adopted
// pipeline id after the Attaching event arrives.
func (b *testBridge) startSession(t *testing.T) uint64 {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, b.engine.Init(ctx))
	recv(t, b.events.initialized, "initialized event")

	_, err := b.engine.Load(ctx, "https://example.com/stream.m3u8")
	require.NoError(t, err)

	require.NoError(t, b.engine.CreatePipeline(ctx))
	evt := recv(t, b.events.states, "attaching state event")
	require.Equal(t, "Attaching", evt.state)
	require.NotZero(t, evt.pipelineID)
	return evt.pipelineID
}

func TestInitHandshake(t *testing.T) {
	b := newTestBridge(t)

	require.NoError(t, b.engine.Init(context.Background()))
	recv(t, b.events.initialized, "initialized event")
}

func TestInitWithoutSurfaceReportsBootstrapError(t *testing.T) {
	b := newTestBridgeWithProvider(t, nil, &fakeProvider{})

	require.NoError(t, b.engine.Init(context.Background()))
	code := recv(t, b.events.initErrors, "initialization error")
	assert.Equal(t, protocol.CodeEnvironmentUnsupported, code)
}

func TestLoadRequiresInit(t *testing.T) {
	b := newTestBridge(t)

	_, err := b.engine.Load(context.Background(), "uri")
	assert.ErrorIs(t, err, errspkg.ErrNotInitialized)
}

func TestPipelineLifecycleEvents(t *testing.T) {
	b := newTestBridge(t)
	pid := b.startSession(t)

	// The surface opening surfaces as exactly one Open transition plus the
	// position baseline.
	b.provider.lastHandle().signal(surface.ReadinessOpen)

	evt := recv(t, b.events.states, "open state event")
	assert.Equal(t, pid, evt.pipelineID)
	assert.Equal(t, "Open", evt.state)

	recv(t, b.events.offsets, "offset update")
	assert.Equal(t, "Open", b.engine.PipelineState())

	expectSilence(t, b.events.states, "extra state event")
}

func TestSetDurationUpdatesMirror(t *testing.T) {
	b := newTestBridge(t)
	b.startSession(t)

	require.NoError(t, b.engine.SetDuration(context.Background(), 600))
	duration := recv(t, b.events.durations, "content info update")
	assert.Equal(t, 600.0, duration)
	assert.Equal(t, 600.0, b.engine.Duration())
	assert.Equal(t, 600.0, b.provider.lastHandle().duration)
}

func TestSetDurationWithoutPipelineFailsLocally(t *testing.T) {
	b := newTestBridge(t)

	err := b.engine.SetDuration(context.Background(), 600)
	assert.ErrorIs(t, err, errspkg.ErrNoSession)
}

func TestSetDurationOwnershipMismatch(t *testing.T) {
	b := newTestBridge(t)

	require.NoError(t, b.engine.Init(context.Background()))
	recv(t, b.events.initialized, "initialized event")
	_, err := b.engine.Load(context.Background(), "uri")
	require.NoError(t, err)

	// A duration update naming a pipeline this media context never created
	// is an ownership violation, not a silent drop.
	require.NoError(t, b.svc.PublishEnvelope(context.Background(), b.svc.CommandTopic(),
		protocol.CmdSetDuration, protocol.SetDuration{PipelineID: 42, Duration: 10}))

	rerr := recv(t, b.events.resourceErrs, "ownership mismatch error")
	assert.Equal(t, "duration", rerr.kind)
	assert.Equal(t, protocol.CodeOwnershipMismatch, rerr.code)
}

func TestStaleSetDurationAfterClearIsSilent(t *testing.T) {
	b := newTestBridge(t)
	pid := b.startSession(t)

	require.NoError(t, b.engine.ClearPipeline(context.Background()))

	// The cleared pipeline's id is retired, not foreign: commands naming it
	// are stale leftovers and are dropped without an error event.
	require.NoError(t, b.svc.PublishEnvelope(context.Background(), b.svc.CommandTopic(),
		protocol.CmdSetDuration, protocol.SetDuration{PipelineID: pid, Duration: 10}))
	require.NoError(t, b.svc.PublishEnvelope(context.Background(), b.svc.CommandTopic(),
		protocol.CmdEndOfStream, protocol.EndOfStream{PipelineID: pid}))

	expectSilence(t, b.events.resourceErrs, "error for stale pipeline id")
	expectSilence(t, b.events.durations, "duration echo for stale pipeline id")
}

func TestBackToBackCommandsApplyInOrder(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()

	// Commands are published without waiting for their effects; the command
	// topic must deliver them in publish order or create-pipeline overtakes
	// its own load and is dropped as stale.
	require.NoError(t, b.svc.PublishEnvelope(ctx, b.svc.CommandTopic(),
		protocol.CmdInit, protocol.Init{}))
	const rounds = 10
	for i := 0; i < rounds; i++ {
		contentID := uint64(i + 1)
		require.NoError(t, b.svc.PublishEnvelope(ctx, b.svc.CommandTopic(),
			protocol.CmdLoad, protocol.Load{ContentID: contentID, SourceURI: "uri"}))
		require.NoError(t, b.svc.PublishEnvelope(ctx, b.svc.CommandTopic(),
			protocol.CmdCreatePipeline, protocol.CreatePipeline{ContentID: contentID}))
	}

	recv(t, b.events.initialized, "initialized event")
	for i := 0; i < rounds; i++ {
		evt := recv(t, b.events.states, "attaching state event")
		require.Equal(t, "Attaching", evt.state)
	}
}

func TestAppendOrderingAndAcks(t *testing.T) {
	b := newTestBridge(t)
	b.startSession(t)

	channelID, err := b.engine.CreateChannel(context.Background(), "video/mp4")
	require.NoError(t, err)
	require.NotZero(t, channelID)

	done := make(chan string, 3)
	for _, name := range []string{"seg-1", "seg-2", "seg-3"} {
		name := name
		require.NoError(t, b.engine.Append(channelID, []byte(name), func(err error) {
			require.NoError(t, err)
			done <- name
		}))
	}

	assert.Equal(t, "seg-1", recv(t, done, "first completion"))
	assert.Equal(t, "seg-2", recv(t, done, "second completion"))
	assert.Equal(t, "seg-3", recv(t, done, "third completion"))

	buf := b.provider.lastHandle().lastBuffer()
	require.NotNil(t, buf)
	assert.Equal(t, 3, buf.appendCount())
}

func TestRemoveRoundTrip(t *testing.T) {
	b := newTestBridge(t)
	b.startSession(t)

	channelID, err := b.engine.CreateChannel(context.Background(), "audio/mp4")
	require.NoError(t, err)

	done := make(chan error, 1)
	require.NoError(t, b.engine.Remove(channelID, 0, 30, func(err error) { done <- err }))
	require.NoError(t, recv(t, done, "remove completion"))

	buf := b.provider.lastHandle().lastBuffer()
	require.NotNil(t, buf)
	buf.mu.Lock()
	defer buf.mu.Unlock()
	require.Len(t, buf.removes, 1)
	assert.Equal(t, protocol.Range{Start: 0, End: 30}, buf.removes[0])
}

func TestAppendFailureFaultsChannel(t *testing.T) {
	b := newTestBridge(t)
	b.startSession(t)

	channelID, err := b.engine.CreateChannel(context.Background(), "video/mp4")
	require.NoError(t, err)

	// Let the first append create the remote buffer, then arm the failure.
	primed := make(chan error, 1)
	require.NoError(t, b.engine.Append(channelID, []byte("ok"), func(err error) { primed <- err }))
	require.NoError(t, recv(t, primed, "priming append"))

	buf := b.provider.lastHandle().lastBuffer()
	require.NotNil(t, buf)
	buf.mu.Lock()
	buf.failNext = errors.New("quota exceeded")
	buf.mu.Unlock()

	failed := make(chan error, 1)
	require.NoError(t, b.engine.Append(channelID, []byte("bad"), func(err error) { failed <- err }))

	err = recv(t, failed, "failed completion")
	var remote *protocol.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, protocol.CodeAppendFailed, remote.Code)

	rerr := recv(t, b.events.resourceErrs, "operation error")
	assert.Equal(t, "operation", rerr.kind)
	assert.Equal(t, channelID, rerr.channelID)

	// The channel is faulted: later submissions fail locally, without a
	// round-trip to the media context.
	err = b.engine.Append(channelID, []byte("after"), nil)
	assert.ErrorIs(t, err, errspkg.ErrChannelFaulted)
}

func TestClearPipelineCancelsPendingOperations(t *testing.T) {
	b := newTestBridge(t)
	b.startSession(t)

	channelID, err := b.engine.CreateChannel(context.Background(), "video/mp4")
	require.NoError(t, err)

	require.NoError(t, b.engine.ClearPipeline(context.Background()))

	// Channel ids died with the pipeline; submissions fail locally.
	err = b.engine.Append(channelID, []byte("late"), nil)
	assert.ErrorIs(t, err, errspkg.ErrChannelUnknown)

	// A second clear has nothing to clear.
	assert.ErrorIs(t, b.engine.ClearPipeline(context.Background()), errspkg.ErrNoPipeline)

	require.Eventually(t, b.provider.lastHandle().isDetached, 3*time.Second, 10*time.Millisecond,
		"surface must be detached after clear")
}

func TestNewPipelineSupersedesOld(t *testing.T) {
	b := newTestBridge(t)
	first := b.startSession(t)

	require.NoError(t, b.engine.CreatePipeline(context.Background()))
	evt := recv(t, b.events.states, "second attaching event")
	assert.Greater(t, evt.pipelineID, first)
	assert.Equal(t, "Attaching", evt.state)
	assert.Equal(t, evt.pipelineID, b.engine.PipelineID())

	// Signals from the superseded pipeline's surface are dropped.
	b.provider.handles[0].signal(surface.ReadinessOpen)
	expectSilence(t, b.events.states, "stale pipeline event")
}

func TestObservationFeed(t *testing.T) {
	b := newTestBridge(t)
	pid := b.startSession(t)

	h := b.provider.lastHandle()
	h.signal(surface.ReadinessOpen)
	recv(t, b.events.states, "open state event")
	recv(t, b.events.offsets, "offset update")

	h.mu.Lock()
	h.status = surface.Status{Position: 5, Readiness: surface.ReadinessOpen}
	h.mu.Unlock()

	require.NoError(t, b.engine.StartObservation(context.Background()))

	// One sample arrives immediately, before any tick.
	snap := recv(t, b.events.snapshots, "initial snapshot")
	assert.Equal(t, pid, snap.PipelineID)
	assert.Equal(t, 5.0, snap.Position)
	assert.Equal(t, protocol.ReasonStateChange, snap.Reason)

	b.clock.tick()
	snap = recv(t, b.events.snapshots, "tick snapshot")
	assert.Equal(t, protocol.ReasonTick, snap.Reason)

	require.NoError(t, b.engine.StopObservation(context.Background()))
	require.Eventually(t, func() bool { return b.media.feed.Active() == 0 },
		3*time.Second, 10*time.Millisecond)
	expectSilence(t, b.events.snapshots, "snapshot after stop")
}

func TestObservationBeforeOpenWarns(t *testing.T) {
	b := newTestBridge(t)
	b.startSession(t)

	require.NoError(t, b.engine.StartObservation(context.Background()))

	warning := recv(t, b.events.warnings, "content warning")
	assert.Equal(t, protocol.CodeSessionNotReady, warning.code)
	recv(t, b.events.snapshots, "snapshot still flows")
}

func TestSeekRequestRelayedWithSample(t *testing.T) {
	b := newTestBridge(t)
	b.startSession(t)

	require.NoError(t, b.engine.StartObservation(context.Background()))
	recv(t, b.events.warnings, "pre-open warning")
	recv(t, b.events.snapshots, "initial snapshot")

	b.provider.lastHandle().seek(42.5)

	position := recv(t, b.events.seeks, "seek request")
	assert.Equal(t, 42.5, position)

	snap := recv(t, b.events.snapshots, "seek snapshot")
	assert.Equal(t, protocol.ReasonSeek, snap.Reason)
}

func TestRateChangeEmitsImmediateSample(t *testing.T) {
	b := newTestBridge(t)
	b.startSession(t)

	h := b.provider.lastHandle()
	h.signal(surface.ReadinessOpen)
	recv(t, b.events.states, "open state event")
	recv(t, b.events.offsets, "offset update")

	require.NoError(t, b.engine.StartObservation(context.Background()))
	recv(t, b.events.snapshots, "initial snapshot")

	// Pause, resume and rate switches all surface as rate transitions; each
	// one produces a sample without waiting for the next tick.
	h.mu.Lock()
	h.status = surface.Status{Position: 8, Paused: true, Readiness: surface.ReadinessOpen}
	h.mu.Unlock()
	h.rate(0)

	snap := recv(t, b.events.snapshots, "rate change snapshot")
	assert.Equal(t, protocol.ReasonRateChange, snap.Reason)
	assert.True(t, snap.Paused)
}

func TestUnexpectedSurfaceCloseIsFatal(t *testing.T) {
	b := newTestBridge(t)
	b.startSession(t)

	b.provider.lastHandle().signal(surface.ReadinessClosed)

	recv(t, b.events.states, "closed state event")
	cerr := recv(t, b.events.contentErrors, "content error")
	assert.Equal(t, protocol.CodeContentFatal, cerr.code)

	// The mirrored session is gone on the engine side too.
	_, err := b.engine.Load(context.Background(), "next")
	require.NoError(t, err, "a new load must be possible after a fatal error")
}

func TestStopTearsDownSession(t *testing.T) {
	b := newTestBridge(t)
	b.startSession(t)

	require.NoError(t, b.engine.Stop(context.Background()))

	require.Eventually(t, b.provider.lastHandle().isDetached, 3*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, b.engine.Stop(context.Background()), errspkg.ErrNoSession)
}

func TestDisposeRejectsFurtherCommands(t *testing.T) {
	b := newTestBridge(t)
	b.startSession(t)

	require.NoError(t, b.engine.Dispose(context.Background()))

	_, err := b.engine.Load(context.Background(), "uri")
	assert.ErrorIs(t, err, errspkg.ErrDisposed)
	assert.ErrorIs(t, b.engine.Init(context.Background()), errspkg.ErrDisposed)
}

func newRawMessage(payload []byte) *message.Message {
	return message.NewMessage(watermill.NewUUID(), payload)
}

func TestMalformedCommandIsDropped(t *testing.T) {
	b := newTestBridge(t)

	require.NoError(t, b.engine.Init(context.Background()))
	recv(t, b.events.initialized, "initialized event")

	// Garbage on the command topic must not wedge the dispatcher.
	require.NoError(t, b.svc.publisher.Publish(b.svc.CommandTopic(),
		newRawMessage([]byte("not an envelope"))))
	require.NoError(t, b.svc.PublishEnvelope(context.Background(), b.svc.CommandTopic(),
		"no-such-command", struct{}{}))

	_, err := b.engine.Load(context.Background(), "uri")
	require.NoError(t, err)
}
