// Package changefeed fans out "order changed" notifications to live query
// subscribers. Notifications carry only the order id and version; listeners
// requery the store to build their snapshots.
package changefeed

import (
	"context"
	"sync"
)

// Change announces that an order was created or mutated.
type Change struct {
	OrderID string `json:"orderId"`
	Version int64  `json:"version"`
	// Origin names the instance that performed the write.
	Origin string `json:"origin"`
}

// Feed publishes changes and hands out listener channels.
type Feed interface {
	Publish(ctx context.Context, change Change) error
	// Listen registers a listener. The returned func unregisters it and closes
	// the channel; calling it more than once is safe.
	Listen() (<-chan Change, func())
}

const listenerBuffer = 16

// Local is an in-process feed. A slow listener drops notifications once its
// buffer is full; because listeners requery on every change, a dropped
// notification is covered by any later one already queued.
type Local struct {
	mu        sync.RWMutex
	listeners map[int]chan Change
	next      int
	closed    bool
}

// NewLocal constructs an empty in-process feed.
func NewLocal() *Local {
	return &Local{listeners: make(map[int]chan Change)}
}

// Publish delivers change to every registered listener without blocking.
func (l *Local) Publish(_ context.Context, change Change) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, ch := range l.listeners {
		select {
		case ch <- change:
		default:
		}
	}
	return nil
}

// Listen implements Feed.
func (l *Local) Listen() (<-chan Change, func()) {
	ch := make(chan Change, listenerBuffer)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := l.next
	l.next++
	l.listeners[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			if c, ok := l.listeners[id]; ok {
				delete(l.listeners, id)
				close(c)
			}
			l.mu.Unlock()
		})
	}
}

// Len returns the number of registered listeners.
func (l *Local) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.listeners)
}

// Close unregisters and closes every listener.
func (l *Local) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for id, ch := range l.listeners {
		delete(l.listeners, id)
		close(ch)
	}
}
