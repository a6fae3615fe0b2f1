// Package event provides the process-wide publish/subscribe bus used to
// broadcast session-level signals from any network call site to the
// component that owns the session.
package event

import (
	gosync "sync"
	"time"

	"golang.org/x/time/rate"
)

// Kind identifies an event type.
type Kind string

const (
	// SessionExpired is raised when the backend stops accepting the
	// current bearer token.
	SessionExpired Kind = "session_expired"
)

// Event is a single published signal.
type Event struct {
	Kind Kind

	// Scope names what the event is about. For SessionExpired it is the
	// rejected bearer token; empty means any session.
	Scope string

	Reason string
	At     time.Time
}

// Handler receives published events. Handlers run synchronously on the
// publishing goroutine and must not publish the same kind re-entrantly.
type Handler func(Event)

// Bus is a small synchronous event bus. The zero value is not usable;
// construct with New.
type Bus struct {
	mu      gosync.RWMutex
	subs    map[Kind]map[uint64]Handler
	nextID  uint64
	window  time.Duration
	limiter map[Kind]*scopedLimiter
	now     func() time.Time
}

// scopedLimiter collapses repeats for one scope. A publication with a
// different scope replaces it, so a new session is never muted by the
// previous one's window.
type scopedLimiter struct {
	scope string
	s     *rate.Sometimes
}

// New creates a Bus. Publications of the same kind and scope within
// window are collapsed into a single dispatch; a window <= 0 dispatches
// every publication.
func New(window time.Duration) *Bus {
	return &Bus{
		subs:    make(map[Kind]map[uint64]Handler),
		window:  window,
		limiter: make(map[Kind]*scopedLimiter),
		now:     time.Now,
	}
}

// Subscribe registers h for events of kind k and returns a function that
// removes the subscription. The returned function is safe to call more
// than once.
func (b *Bus) Subscribe(k Kind, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.subs[k] == nil {
		b.subs[k] = make(map[uint64]Handler)
	}
	b.subs[k][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[k], id)
	}
}

// Publish dispatches e to every subscriber of e.Kind, subject to the
// de-duplication window.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = b.now()
	}
	if b.window <= 0 {
		b.dispatch(e)
		return
	}
	b.sometimes(e.Kind, e.Scope).Do(func() { b.dispatch(e) })
}

// PublishSessionExpired is shorthand for publishing a SessionExpired event
// for token. An empty token expires whatever session is current.
func (b *Bus) PublishSessionExpired(token, reason string) {
	b.Publish(Event{Kind: SessionExpired, Scope: token, Reason: reason})
}

// SubscriberCount reports how many handlers are registered for k.
func (b *Bus) SubscriberCount(k Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[k])
}

func (b *Bus) sometimes(k Kind, scope string) *rate.Sometimes {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.limiter[k]
	if !ok || l.scope != scope {
		l = &scopedLimiter{scope: scope, s: &rate.Sometimes{Interval: b.window}}
		b.limiter[k] = l
	}
	return l.s
}

func (b *Bus) dispatch(e Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[e.Kind]))
	for _, h := range b.subs[e.Kind] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}
