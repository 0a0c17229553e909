// Package eventbus is an in-process publish/subscribe channel owned by one
// session.
//
// A Bus is a mailbox drained by a single goroutine: Publish enqueues and
// returns, the loop runs every matching handler for one event, in
// subscription order, before moving to the next event. The recipients of an
// event are fixed when Publish is called: later subscribers never see it,
// and a handler unsubscribed before the loop reaches it is skipped. A failing or panicking
// handler is logged and skipped; it never stops the remaining handlers and
// never reaches the publisher. Handlers must not call Close or Flush on the
// bus that invoked them.
package eventbus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Wildcard subscribes a handler to every event type.
const Wildcard = "*"

type Event struct {
	Type    string
	Payload any
	At      time.Time
}

type Handler func(ctx context.Context, ev Event) error

type Option func(*Bus)

// WithLogf replaces log.Printf for handler failure reports.
func WithLogf(logf func(string, ...any)) Option {
	return func(b *Bus) {
		if logf != nil {
			b.logf = logf
		}
	}
}

// WithFailureHook is called after a handler failure has been logged.
func WithFailureHook(fn func(Event, error)) Option {
	return func(b *Bus) {
		b.onFailure = fn
	}
}

type subscription struct {
	id        int64
	eventType string
	handler   Handler
	active    bool
}

type envelope struct {
	event    Event
	handlers []*subscription
	barrier  chan struct{}
}

type Bus struct {
	mu        sync.Mutex
	subs      []*subscription
	nextID    int64
	queue     []envelope
	closed    bool
	signal    chan struct{}
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	logf      func(string, ...any)
	onFailure func(Event, error)
}

func New(opts ...Option) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		logf:   log.Printf,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	go b.run()
	return b
}

// Subscribe registers handler for eventType and returns its unsubscribe
// function. Subscribing to a closed bus is a no-op.
func (b *Bus) Subscribe(eventType string, handler Handler) func() {
	if handler == nil {
		return func() {}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, &subscription{id: id, eventType: eventType, handler: handler, active: true})
	return func() { b.unsubscribe(id) }
}

func (b *Bus) unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			sub.active = false
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish enqueues an event. Publishing with no subscribers, or on a closed
// bus, has no effect.
func (b *Bus) Publish(eventType string, payload any) {
	b.enqueue(envelope{event: Event{Type: eventType, Payload: payload, At: time.Now().UTC()}})
}

// Flush blocks until every event published before the call was handled.
func (b *Bus) Flush() {
	barrier := make(chan struct{})
	if !b.enqueue(envelope{barrier: barrier}) {
		return
	}
	<-barrier
}

// Close stops accepting events, drains the queue, and waits for the loop to
// exit. It is safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	b.mu.Unlock()
	b.wake()
	<-b.done
}

// Closed reports whether Close has been called.
func (b *Bus) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Bus) enqueue(env envelope) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	if env.barrier == nil {
		env.handlers = b.matching(env.event.Type)
		if len(env.handlers) == 0 {
			b.mu.Unlock()
			return true
		}
	}
	b.queue = append(b.queue, env)
	b.mu.Unlock()
	b.wake()
	return true
}

func (b *Bus) wake() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *Bus) run() {
	defer close(b.done)
	defer b.cancel()
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			if b.closed {
				b.subs = nil
				b.mu.Unlock()
				return
			}
			b.mu.Unlock()
			<-b.signal
			continue
		}
		env := b.queue[0]
		b.queue[0] = envelope{}
		b.queue = b.queue[1:]
		b.mu.Unlock()

		if env.barrier != nil {
			close(env.barrier)
			continue
		}
		for _, sub := range env.handlers {
			if b.isActive(sub) {
				b.call(sub, env.event)
			}
		}
	}
}

func (b *Bus) isActive(sub *subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return sub.active
}

// matching must be called with mu held.
func (b *Bus) matching(eventType string) []*subscription {
	var out []*subscription
	for _, sub := range b.subs {
		if sub.eventType == eventType || sub.eventType == Wildcard {
			out = append(out, sub)
		}
	}
	return out
}

func (b *Bus) call(sub *subscription, ev Event) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = sub.handler(b.ctx, ev)
	}()
	if err == nil {
		return
	}
	b.logf("eventbus: handler %d for %s failed: %v", sub.id, ev.Type, err)
	if b.onFailure != nil {
		b.onFailure(ev, err)
	}
}
