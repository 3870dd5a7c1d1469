package tabsync

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by a Channel after Close.
var ErrClosed = errors.New("tabsync: channel closed")

// Channel carries events between tabs. Every subscriber receives every
// published event, the publisher's own subscription included; filtering by
// origin is the caller's job.
type Channel interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, fn func(Event)) (unsubscribe func(), err error)
	Close() error
}

// Broker is a Channel for tabs living in one process. Delivery is
// asynchronous and ordered per subscriber: each subscription has its own
// queue drained by its own goroutine, the way a browser queues storage
// events as separate tasks. Publish never waits for a handler, so a handler
// may publish or write through a NotifyingStore without re-entering the
// publisher's locks.
type Broker struct {
	mu      sync.Mutex
	idle    *sync.Cond
	subs    map[int]*subscriber
	next    int
	pending int
	closed  bool
}

type subscriber struct {
	fn    func(Event)
	queue []Event
	wake  chan struct{}
	done  chan struct{}
}

var _ Channel = (*Broker)(nil)

// NewBroker creates an open Broker.
func NewBroker() *Broker {
	b := &Broker{subs: make(map[int]*subscriber)}
	b.idle = sync.NewCond(&b.mu)
	return b
}

// Publish queues ev for every subscriber and returns.
func (b *Broker) Publish(_ context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for _, s := range b.subs {
		s.queue = append(s.queue, ev)
		b.pending++
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// Subscribe starts a delivery goroutine for fn. An event already taken off
// the queue may still reach fn after unsubscribe returns.
func (b *Broker) Subscribe(_ context.Context, fn func(Event)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	id := b.next
	b.next++
	s := &subscriber{fn: fn, wake: make(chan struct{}, 1), done: make(chan struct{})}
	b.subs[id] = s
	go b.deliver(s)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				b.drop(s)
			}
		})
	}, nil
}

func (b *Broker) deliver(s *subscriber) {
	for {
		select {
		case <-s.wake:
		case <-s.done:
			return
		}
		for {
			b.mu.Lock()
			if len(s.queue) == 0 {
				b.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue = s.queue[1:]
			b.mu.Unlock()

			s.fn(ev)

			b.mu.Lock()
			b.pending--
			if b.pending == 0 {
				b.idle.Broadcast()
			}
			b.mu.Unlock()
		}
	}
}

// drop discards the queued events of s and stops its goroutine. b.mu must
// be held.
func (b *Broker) drop(s *subscriber) {
	b.pending -= len(s.queue)
	s.queue = nil
	close(s.done)
	if b.pending == 0 {
		b.idle.Broadcast()
	}
}

// Wait blocks until every published event has been handled, events
// published by handlers included. It must not be called from a handler.
func (b *Broker) Wait() {
	b.mu.Lock()
	for b.pending > 0 {
		b.idle.Wait()
	}
	b.mu.Unlock()
}

// Close stops all delivery and discards queued events. It is safe to call
// more than once.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		b.drop(s)
	}
	return nil
}
