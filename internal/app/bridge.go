package app

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/heritage-client/internal/session"
)

// latest is a one-slot mailbox that keeps only the newest value. Observer
// callbacks run on the publisher's goroutine and must never block on the
// UI, so older undelivered values are overwritten.
type latest[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool
}

func newLatest[T any]() *latest[T] {
	return &latest[T]{ch: make(chan T, 1)}
}

func (l *latest[T]) put(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case <-l.ch:
	default:
	}
	l.ch <- v
}

func (l *latest[T]) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.ch)
	}
}

// wait returns a tea.Cmd that blocks for the next value. It must be
// re-issued after each delivery to keep listening.
func (l *latest[T]) wait(wrap func(T) tea.Msg) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-l.ch
		if !ok {
			return nil
		}
		return wrap(v)
	}
}

// bridge forwards session and unread-count observer callbacks into the
// Bubble Tea event loop.
type bridge struct {
	sessions *latest[session.Snapshot]
	unread   *latest[int]
	unsub    []func()
	once     sync.Once
}

func newBridge(s Session, n Notifier) *bridge {
	b := &bridge{
		sessions: newLatest[session.Snapshot](),
		unread:   newLatest[int](),
	}
	b.unsub = []func(){
		s.Subscribe(b.sessions.put),
		n.Subscribe(b.unread.put),
	}
	return b
}

func (b *bridge) waitSession() tea.Cmd {
	return b.sessions.wait(func(s session.Snapshot) tea.Msg { return sessionMsg(s) })
}

func (b *bridge) waitUnread() tea.Cmd {
	return b.unread.wait(func(n int) tea.Msg { return unreadCountMsg{count: n} })
}

func (b *bridge) close() {
	b.once.Do(func() {
		for _, fn := range b.unsub {
			fn()
		}
		b.sessions.close()
		b.unread.close()
	})
}
