// Package observe produces the observation feed: a restartable stream of
// playback snapshots pushed from the media context to the engine context.
// Cadence comes from a Clock capability so tests can drive the feed
// deterministically.
package observe

import (
	"sync"
	"time"

	"github.com/evillard/mediabridge/internal/bridge/protocol"
	"github.com/evillard/mediabridge/internal/bridge/surface"
)

// Ticker abstracts time.Ticker so a fake clock can stand in during tests.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock is the time source capability used to pace periodic samples.
type Clock interface {
	NewTicker(d time.Duration) Ticker
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

type realClock struct{}

func (realClock) NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// NewClock returns the wall-clock backed Clock used in production.
func NewClock() Clock { return realClock{} }

// Sampler supplies the surface status for one snapshot. surface.Handle
// satisfies it.
type Sampler interface {
	Status() surface.Status
}

// Feed manages at most one active observation subscription. Starting a new
// subscription cancels the previous one first; duplicate feeds never run
// concurrently.
type Feed struct {
	clock    Clock
	interval time.Duration

	mu     sync.Mutex
	active *Subscription
}

// NewFeed builds a feed pacing periodic samples at interval.
func NewFeed(clock Clock, interval time.Duration) *Feed {
	if clock == nil {
		clock = NewClock()
	}
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Feed{clock: clock, interval: interval}
}

// Start begins sampling src for pipelineID, emitting each snapshot through
// emit. Any previously active subscription is cancelled and its goroutine
// joined before the new one begins, so no tick is ever sampled twice.
func (f *Feed) Start(pipelineID uint64, src Sampler, emit func(protocol.ObservationSnapshot)) *Subscription {
	f.mu.Lock()
	prev := f.active
	f.active = nil
	f.mu.Unlock()
	if prev != nil {
		prev.cancel()
		prev.wait()
	}

	sub := &Subscription{
		pipelineID: pipelineID,
		src:        src,
		emit:       emit,
		pokes:      make(chan protocol.Reason, 8),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	f.mu.Lock()
	f.active = sub
	f.mu.Unlock()

	go sub.run(f.clock, f.interval)
	return sub
}

// Stop cancels the subscription bound to pipelineID. Stopping a pipeline
// that has no active feed is a no-op.
func (f *Feed) Stop(pipelineID uint64) {
	f.mu.Lock()
	sub := f.active
	if sub == nil || sub.pipelineID != pipelineID {
		f.mu.Unlock()
		return
	}
	f.active = nil
	f.mu.Unlock()

	sub.cancel()
	sub.wait()
}

// StopAll cancels whatever subscription is active. Used on session teardown.
func (f *Feed) StopAll() {
	f.mu.Lock()
	sub := f.active
	f.active = nil
	f.mu.Unlock()
	if sub != nil {
		sub.cancel()
		sub.wait()
	}
}

// Poke requests an immediate out-of-band sample from the active
// subscription, tagged with reason. Samples after discrete actions (seek,
// pause, resume) keep the engine's playback model convergent between ticks.
func (f *Feed) Poke(reason protocol.Reason) {
	f.mu.Lock()
	sub := f.active
	f.mu.Unlock()
	if sub == nil {
		return
	}
	select {
	case sub.pokes <- reason:
	default:
		// A pending poke already guarantees a fresh sample.
	}
}

// Active returns the pipeline id of the running subscription, or 0.
func (f *Feed) Active() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return 0
	}
	return f.active.pipelineID
}

// Subscription is the token returned by Start; it is consumed by Feed.Stop.
type Subscription struct {
	pipelineID uint64
	src        Sampler
	emit       func(protocol.ObservationSnapshot)
	pokes      chan protocol.Reason
	stop       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
}

// PipelineID returns the pipeline this subscription observes.
func (s *Subscription) PipelineID() uint64 { return s.pipelineID }

func (s *Subscription) cancel() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Subscription) wait() { <-s.done }

func (s *Subscription) run(clock Clock, interval time.Duration) {
	defer close(s.done)

	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	// Starting observation is itself a discrete action; emit one sample
	// right away so the engine converges without waiting for the first tick.
	s.sample(protocol.ReasonStateChange)

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C():
			s.sample(protocol.ReasonTick)
		case reason := <-s.pokes:
			s.sample(reason)
		}
	}
}

func (s *Subscription) sample(reason protocol.Reason) {
	st := s.src.Status()
	s.emit(protocol.ObservationSnapshot{
		PipelineID: s.pipelineID,
		Position:   st.Position,
		Buffered:   st.Buffered,
		Paused:     st.Paused,
		Seeking:    st.Seeking,
		Readiness:  st.Readiness.String(),
		Reason:     reason,
	})
}
