// Package pubsub provides a multi-consumer broadcast that replays the latest
// value to late subscribers.
package pubsub

import "sync"

// Broadcast fans values out to every subscriber. Delivery never blocks the
// publisher: a subscriber whose buffer is full loses its oldest value.
type Broadcast[T any] struct {
	mu     sync.Mutex
	subs   map[*subscriber[T]]struct{}
	latest T
	has    bool
	replay bool
	buffer int
	closed bool
	onDrop func()
}

type subscriber[T any] struct {
	ch chan T
}

// New returns a broadcast whose subscribers get buffer slots each. When
// replay is true, Subscribe immediately delivers the latest published value.
func New[T any](buffer int, replay bool) *Broadcast[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &Broadcast[T]{
		subs:   make(map[*subscriber[T]]struct{}),
		replay: replay,
		buffer: buffer,
	}
}

// Subscribe returns a receive channel and a cancel func that closes it.
func (b *Broadcast[T]) Subscribe() (<-chan T, func()) {
	s := &subscriber[T]{ch: make(chan T, b.buffer)}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	if b.replay && b.has {
		s.ch <- b.latest
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[s]; ok {
				delete(b.subs, s)
				close(s.ch)
			}
		})
	}
}

// Publish records v as the latest value and delivers it to all subscribers.
func (b *Broadcast[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.latest = v
	b.has = true
	for s := range b.subs {
		b.deliver(s, v)
	}
}

func (b *Broadcast[T]) deliver(s *subscriber[T], v T) {
	for {
		select {
		case s.ch <- v:
			return
		default:
		}
		select {
		case <-s.ch:
			if b.onDrop != nil {
				b.onDrop()
			}
		default:
		}
	}
}

// Latest returns the most recently published value.
func (b *Broadcast[T]) Latest() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, b.has
}

// Len returns the current subscriber count.
func (b *Broadcast[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// OnDrop installs fn, called for every value a slow subscriber loses.
// fn runs under the publish lock and must not call back into b.
func (b *Broadcast[T]) OnDrop(fn func()) *Broadcast[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = fn
	return b
}

// Close closes every subscriber channel; later publishes are ignored.
func (b *Broadcast[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		close(s.ch)
	}
}
