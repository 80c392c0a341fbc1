// Package queue implements the per-channel command queue of the engine
// context. Each buffer channel owns an independent FIFO of append/remove
// operations; at most one operation is in flight per channel at any time,
// and completion is driven by correlated ack/error events from the media
// context rather than by return values.
package queue

import (
	"sync"

	errspkg "github.com/evillard/mediabridge/internal/bridge/errors"
)

// Kind identifies the operation variant.
type Kind int

const (
	KindAppend Kind = iota
	KindRemove
)

func (k Kind) String() string {
	if k == KindRemove {
		return "remove"
	}
	return "append"
}

// Operation is one queued append or remove. Done is invoked exactly once
// when the operation completes or fails; it is never invoked when the
// owning pipeline is torn down while the operation is still pending.
type Operation struct {
	Kind       Kind
	Payload    []byte
	Start, End float64
	Done       func(error)
}

// SubmitFunc sends the head operation to the media context. It must not
// block on the eventual completion; transport errors are returned
// synchronously and fault the channel.
type SubmitFunc func(channelID uint64, op *Operation) error

// Channel is one ordered command target. Channels belonging to the same
// pipeline advance independently of each other.
type Channel struct {
	id          uint64
	contentType string

	mu        sync.Mutex
	pending   []*Operation
	inflight  *Operation
	faulted   bool
	cancelled bool

	submit SubmitFunc
}

// NewChannel returns an idle channel that sends operations through submit.
func NewChannel(id uint64, contentType string, submit SubmitFunc) *Channel {
	return &Channel{id: id, contentType: contentType, submit: submit}
}

func (c *Channel) ID() uint64          { return c.id }
func (c *Channel) ContentType() string { return c.contentType }

// Faulted reports whether the channel has rejected further submissions
// after a failed operation. A faulted channel never recovers; create a new
// channel instead.
func (c *Channel) Faulted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.faulted
}

// Depth returns the number of queued operations, excluding the one in
// flight.
func (c *Channel) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// InFlight reports whether an operation is currently awaiting completion.
func (c *Channel) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight != nil
}

// Enqueue appends op to the channel FIFO. If nothing is in flight the
// operation is submitted immediately. A faulted channel rejects the
// submission locally without contacting the media context; a cancelled
// channel reports ErrChannelUnknown.
func (c *Channel) Enqueue(op *Operation) error {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return errspkg.ErrChannelUnknown
	}
	if c.faulted {
		c.mu.Unlock()
		return errspkg.ErrChannelFaulted
	}
	c.pending = append(c.pending, op)
	next := c.takeNextLocked()
	c.mu.Unlock()

	if next != nil {
		c.dispatch(next)
	}
	return nil
}

// CompleteAck acknowledges the in-flight operation and starts the next one.
// Acks arriving after cancellation or with nothing in flight are ignored;
// they belong to a superseded incarnation of the channel. The next operation
// is submitted from its own goroutine: CompleteAck is driven from transport
// delivery context, where a blocking publish would stall the subscription.
func (c *Channel) CompleteAck() {
	c.mu.Lock()
	done, next := c.finishLocked()
	c.mu.Unlock()

	if done != nil {
		done(nil)
	}
	if next != nil {
		go c.dispatch(next)
	}
}

// CompleteError fails the in-flight operation, drains the queue and marks
// the channel faulted. Pending operations are dropped without invoking
// their callbacks; only the failed operation observes the error.
func (c *Channel) CompleteError(err error) {
	c.mu.Lock()
	if c.cancelled || c.inflight == nil {
		c.mu.Unlock()
		return
	}
	done := c.inflight.Done
	c.inflight = nil
	c.pending = nil
	c.faulted = true
	c.mu.Unlock()

	if done != nil {
		done(err)
	}
}

// Cancel drops every pending operation without invoking completion
// callbacks. Late ack/error events for this channel become no-ops. Used on
// pipeline teardown.
func (c *Channel) Cancel() {
	c.mu.Lock()
	c.cancelled = true
	c.inflight = nil
	c.pending = nil
	c.mu.Unlock()
}

// finishLocked clears the in-flight slot and pops the next operation.
func (c *Channel) finishLocked() (done func(error), next *Operation) {
	if c.cancelled || c.inflight == nil {
		return nil, nil
	}
	done = c.inflight.Done
	c.inflight = nil
	next = c.takeNextLocked()
	return done, next
}

// takeNextLocked promotes the head of the FIFO to in flight, if idle.
func (c *Channel) takeNextLocked() *Operation {
	if c.inflight != nil || c.faulted || c.cancelled || len(c.pending) == 0 {
		return nil
	}
	next := c.pending[0]
	c.pending = c.pending[1:]
	c.inflight = next
	return next
}

// dispatch runs outside the lock: submit may publish on the transport and
// completion callbacks may re-enter Enqueue. An operation that stopped being
// the in-flight head between promotion and dispatch is not submitted.
func (c *Channel) dispatch(op *Operation) {
	c.mu.Lock()
	stale := c.cancelled || c.inflight != op
	c.mu.Unlock()
	if stale {
		return
	}
	if err := c.submit(c.id, op); err != nil {
		c.CompleteError(err)
	}
}
