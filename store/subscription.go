package store

import (
	"context"
	"slices"
	"sync"
)

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	once sync.Once
	stop func()
	done chan struct{}
}

// NewSubscription returns a handle whose first Unsubscribe call runs stop.
func NewSubscription(stop func()) *Subscription {
	return &Subscription{stop: stop, done: make(chan struct{})}
}

// Unsubscribe stops delivery. It is safe to call more than once and from
// inside the listener.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		close(s.done)
	})
}

// Done is closed once the subscription has been cancelled.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

type event struct {
	snap Snapshot
	err  error
}

// Hub fans snapshots out to listeners. Each listener runs on its own
// goroutine and only the most recent undelivered event is kept for it, so
// a slow listener skips intermediate snapshots instead of blocking writers.
type Hub struct {
	mu     sync.Mutex
	subs   map[*hubSubscriber]struct{}
	closed bool
}

type hubSubscriber struct {
	listener Listener
	pending  chan event
	quit     chan struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*hubSubscriber]struct{})}
}

// Add registers listener. When initial is not nil it is the first event the
// listener sees; callers pass it while holding whatever lock orders their
// snapshots so that it cannot overtake a later Publish.
func (h *Hub) Add(ctx context.Context, listener Listener, initial *Snapshot) (*Subscription, error) {
	sub := &hubSubscriber{
		listener: listener,
		pending:  make(chan event, 1),
		quit:     make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrStoreClosed
	}
	h.subs[sub] = struct{}{}
	if initial != nil {
		sub.offer(event{snap: cloneSnapshot(*initial)})
	}
	h.mu.Unlock()

	subscription := NewSubscription(func() { h.remove(sub) })
	go sub.run(ctx, subscription)
	return subscription, nil
}

// Publish delivers snap to every listener.
func (h *Hub) Publish(snap Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		sub.offer(event{snap: cloneSnapshot(snap)})
	}
}

// PublishError reports a read failure to every listener.
func (h *Hub) PublishError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		sub.offer(event{err: err})
	}
}

// Len returns the number of registered listeners.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close drops every listener. Later calls to Add fail with ErrStoreClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.quit)
		delete(h.subs, sub)
	}
}

func (h *Hub) remove(sub *hubSubscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.quit)
	}
}

// offer replaces any pending event with ev. Callers hold the hub lock.
func (s *hubSubscriber) offer(ev event) {
	for {
		select {
		case s.pending <- ev:
			return
		default:
		}
		select {
		case <-s.pending:
		default:
		}
	}
}

func (s *hubSubscriber) run(ctx context.Context, subscription *Subscription) {
	defer subscription.Unsubscribe()
	for {
		select {
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		case ev := <-s.pending:
			select {
			case <-s.quit:
				return
			default:
			}
			s.listener(ev.snap, ev.err)
		}
	}
}

func cloneSnapshot(snap Snapshot) Snapshot {
	return Snapshot{Tasks: slices.Clone(snap.Tasks), ReadTime: snap.ReadTime}
}
