// Package surface declares the rendering-surface capability consumed by the
// media-context dispatcher. The surface implementation itself (a MediaSource
// wrapper, a test double, a hardware sink) lives outside this module; the
// bridge only ever talks to these interfaces.
package surface

import "github.com/evillard/mediabridge/internal/bridge/protocol"

// Readiness is the surface-level open/ended/closed signal a pipeline
// attachment reports as its backing resource changes state.
type Readiness int

const (
	ReadinessClosed Readiness = iota
	ReadinessOpen
	ReadinessEnded
)

func (r Readiness) String() string {
	switch r {
	case ReadinessOpen:
		return "open"
	case ReadinessEnded:
		return "ended"
	case ReadinessClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Status is a point-in-time sample of the playback surface, consumed by the
// observation feed.
type Status struct {
	Position  float64
	Buffered  []protocol.Range
	Paused    bool
	Seeking   bool
	Readiness Readiness
}

// Buffer is a single ordered append/remove target within an attached
// pipeline, one per elementary stream type. Operations complete
// asynchronously through the done callback; the callback may run on any
// goroutine.
type Buffer interface {
	Append(payload []byte, done func(error))
	Remove(start, end float64, done func(error))
	Abort()
}

// Handle is one attached pipeline instance on the surface. A handle is
// owned by exactly one lifecycle pipeline and is released by Detach.
type Handle interface {
	// Notify registers the readiness listener. The surface may invoke it
	// from any goroutine; registering replaces any previous listener and
	// Detach deregisters it.
	Notify(fn func(Readiness))
	Detach()
	SetDuration(seconds float64) error
	EndOfStream() error
	CreateBuffer(contentType string) (Buffer, error)
	Status() Status
	// OnSeekRequest registers the listener for user-initiated seeks on the
	// surface. Optional; pass nil to clear.
	OnSeekRequest(fn func(position float64))
	// OnRateChange registers the listener for playback rate transitions,
	// including pause (rate zero) and resume. Optional; pass nil to clear.
	OnRateChange(fn func(rate float64))
}

// Provider attaches new pipeline instances to the display surface. The
// media dispatcher holds exactly one provider for its process lifetime.
type Provider interface {
	Attach() (Handle, error)
}
