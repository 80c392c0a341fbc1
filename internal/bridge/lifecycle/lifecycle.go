// Package lifecycle implements the media-context pipeline state machine.
// A pipeline is one attachment of the rendering surface; its state advances
// from commands issued by the engine context and from readiness
// notifications raised by the surface itself.
package lifecycle

import (
	"fmt"
	"sync"

	errspkg "github.com/evillard/mediabridge/internal/bridge/errors"
	"github.com/evillard/mediabridge/internal/bridge/surface"
)

// State is the pipeline lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateAttaching
	StateOpen
	StateEnded
	StateClosed
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateAttaching:
		return "Attaching"
	case StateOpen:
		return "Open"
	case StateEnded:
		return "Ended"
	case StateClosed:
		return "Closed"
	case StateDisposed:
		return "Disposed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EmitFunc receives every state transition together with the pipeline id,
// so the receiver can discard events for superseded pipelines.
type EmitFunc func(pipelineID uint64, state State)

// Pipeline is one live attachment of the rendering surface. All teardown
// state is held in an explicit cleanup list rather than in closures, and
// Clear runs it exactly once.
type Pipeline struct {
	id uint64

	mu       sync.Mutex
	state    State
	duration float64
	handle   surface.Handle
	buffers  map[uint64]surface.Buffer
	cleanup  []func()

	emit EmitFunc
}

// Attach creates a pipeline instance on the surface and moves it to
// Attaching. The emit callback fires for this and every later transition.
func Attach(id uint64, provider surface.Provider, emit EmitFunc) (*Pipeline, error) {
	if provider == nil {
		return nil, errspkg.ErrSurfaceRequired
	}
	handle, err := provider.Attach()
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		id:      id,
		state:   StateAttaching,
		handle:  handle,
		buffers: make(map[uint64]surface.Buffer),
		emit:    emit,
	}
	handle.Notify(p.onReadiness)
	p.AddCleanup(func() { handle.Notify(nil) })
	p.AddCleanup(func() { handle.OnSeekRequest(nil) })
	p.AddCleanup(func() { handle.OnRateChange(nil) })

	if emit != nil {
		emit(id, StateAttaching)
	}
	return p, nil
}

func (p *Pipeline) ID() uint64 { return p.id }

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

// Handle exposes the underlying surface attachment for status sampling.
func (p *Pipeline) Handle() surface.Handle { return p.handle }

// AddCleanup registers fn to run on Clear. Cleanup functions run in
// registration order, exactly once.
func (p *Pipeline) AddCleanup(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateDisposed {
		return
	}
	p.cleanup = append(p.cleanup, fn)
}

// onReadiness maps surface readiness signals onto lifecycle transitions.
// Signals arriving after disposal are dropped.
func (p *Pipeline) onReadiness(r surface.Readiness) {
	var next State
	switch r {
	case surface.ReadinessOpen:
		next = StateOpen
	case surface.ReadinessEnded:
		next = StateEnded
	case surface.ReadinessClosed:
		next = StateClosed
	default:
		return
	}

	p.mu.Lock()
	if p.state == StateDisposed || p.state == next {
		p.mu.Unlock()
		return
	}
	p.state = next
	emit := p.emit
	p.mu.Unlock()

	if emit != nil {
		emit(p.id, next)
	}
}

// SetDuration forwards the duration to the surface and records it.
func (p *Pipeline) SetDuration(seconds float64) error {
	p.mu.Lock()
	if p.state == StateDisposed {
		p.mu.Unlock()
		return errspkg.ErrDisposed
	}
	p.mu.Unlock()

	if err := p.handle.SetDuration(seconds); err != nil {
		return err
	}

	p.mu.Lock()
	p.duration = seconds
	p.mu.Unlock()
	return nil
}

// EndOfStream signals the surface that no further appends will arrive.
func (p *Pipeline) EndOfStream() error {
	p.mu.Lock()
	if p.state == StateDisposed {
		p.mu.Unlock()
		return errspkg.ErrDisposed
	}
	p.mu.Unlock()
	return p.handle.EndOfStream()
}

// CreateBuffer allocates a surface buffer for channelID. The id must not
// already be in use; ids are never reused within the pipeline's lifetime.
func (p *Pipeline) CreateBuffer(channelID uint64, contentType string) error {
	p.mu.Lock()
	if p.state == StateDisposed {
		p.mu.Unlock()
		return errspkg.ErrDisposed
	}
	if _, exists := p.buffers[channelID]; exists {
		p.mu.Unlock()
		return fmt.Errorf("mediabridge: channel %d already exists", channelID)
	}
	p.mu.Unlock()

	buf, err := p.handle.CreateBuffer(contentType)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateDisposed {
		buf.Abort()
		return errspkg.ErrDisposed
	}
	p.buffers[channelID] = buf
	return nil
}

// Buffer returns the surface buffer bound to channelID.
func (p *Pipeline) Buffer(channelID uint64) (surface.Buffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf, ok := p.buffers[channelID]
	return buf, ok
}

// Clear tears the pipeline down: it runs the cleanup list, aborts every
// buffer's in-flight operation, detaches the surface and transitions to
// Disposed. Clear is idempotent; a second call is a no-op.
func (p *Pipeline) Clear() {
	p.mu.Lock()
	if p.state == StateDisposed {
		p.mu.Unlock()
		return
	}
	p.state = StateDisposed
	cleanup := p.cleanup
	p.cleanup = nil
	buffers := p.buffers
	p.buffers = make(map[uint64]surface.Buffer)
	p.mu.Unlock()

	for _, fn := range cleanup {
		fn()
	}
	for _, buf := range buffers {
		buf.Abort()
	}
	p.handle.Detach()
}
