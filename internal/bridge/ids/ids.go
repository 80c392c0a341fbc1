// Package ids provides the identity and correlation model for the proxy
// protocol. Scope identifiers are monotonically increasing and never reused,
// so comparing a message's embedded id against the live record is sufficient
// to detect and drop stale traffic without any cross-context locking.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Scope selects which identifier space an id belongs to.
type Scope int

const (
	ScopeContent Scope = iota
	ScopePipeline
	ScopeChannel

	scopeCount
)

func (s Scope) String() string {
	switch s {
	case ScopeContent:
		return "content"
	case ScopePipeline:
		return "pipeline"
	case ScopeChannel:
		return "channel"
	default:
		return "unknown"
	}
}

// Generator allocates process-unique, monotonically increasing ids per scope.
// The zero value is ready to use; ids start at 1 so the zero id always means
// "no resource".
type Generator struct {
	mu   sync.Mutex
	next [scopeCount]uint64
}

// Next returns a fresh id for the given scope. Ids are never reused, even
// after the resource they named is gone.
func (g *Generator) Next(scope Scope) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next[scope]++
	return g.next[scope]
}

// Registry tracks the currently live id per scope. Content and pipeline are
// single-occupancy; channels form a set since one pipeline owns many.
type Registry struct {
	mu       sync.Mutex
	content  uint64
	pipeline uint64
	channels map[uint64]struct{}
}

// NewRegistry returns an empty registry with no live ids.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[uint64]struct{})}
}

// Activate marks id as the live record for its scope. For content and
// pipeline scopes this replaces the previous live id; for channels it adds
// to the live set.
func (r *Registry) Activate(scope Scope, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch scope {
	case ScopeContent:
		r.content = id
	case ScopePipeline:
		r.pipeline = id
	case ScopeChannel:
		r.channels[id] = struct{}{}
	}
}

// Retire removes id from the live records. Retiring an id that is not live
// is a no-op. Retiring a pipeline also retires every live channel, since
// channels cannot outlive their pipeline.
func (r *Registry) Retire(scope Scope, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch scope {
	case ScopeContent:
		if r.content == id {
			r.content = 0
		}
	case ScopePipeline:
		if r.pipeline == id {
			r.pipeline = 0
			r.channels = make(map[uint64]struct{})
		}
	case ScopeChannel:
		delete(r.channels, id)
	}
}

// IsCurrent reports whether id names the live record for its scope. Every
// handler consults this before mutating shared state; a false result means
// the message is stale and must be dropped without error.
func (r *Registry) IsCurrent(scope Scope, id uint64) bool {
	if id == 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	switch scope {
	case ScopeContent:
		return r.content == id
	case ScopePipeline:
		return r.pipeline == id
	case ScopeChannel:
		_, ok := r.channels[id]
		return ok
	default:
		return false
	}
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
// Used for transport message UUIDs and correlation metadata.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}
