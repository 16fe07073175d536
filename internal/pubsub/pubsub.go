// Package pubsub is the in-process event bus between the aggregation
// pipeline and its consumers (RPC subscriptions, the runtime notification
// hook). Publishing never blocks: a subscriber that stops draining loses
// events rather than stalling proof finalization.
package pubsub

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/notarynet/notary/libs/log"
)

// DefaultCapacity is the per-subscriber buffer when none is given.
const DefaultCapacity = 64

var (
	// ErrAlreadySubscribed is returned on duplicate subscriber ids.
	ErrAlreadySubscribed = errors.New("already subscribed")

	// ErrBusClosed is returned once the bus has shut down.
	ErrBusClosed = errors.New("event bus is closed")
)

// Subscription receives every event published after it was created, up to
// buffer capacity. The channel closes on Unsubscribe or bus shutdown.
type Subscription struct {
	id   string
	out  chan interface{}
	lost uint64
}

// Out returns the event channel.
func (s *Subscription) Out() <-chan interface{} { return s.out }

// Lost reports how many events were dropped because the subscriber was not
// draining.
func (s *Subscription) Lost() uint64 { return atomic.LoadUint64(&s.lost) }

// Bus fans events out to subscribers.
type Bus struct {
	logger log.Logger

	mtx    sync.Mutex
	closed bool
	subs   map[string]*Subscription
}

// NewBus returns an empty bus.
func NewBus(logger log.Logger) *Bus {
	return &Bus{
		logger: logger.With("module", "pubsub"),
		subs:   make(map[string]*Subscription),
	}
}

// Subscribe registers id with a buffer of capacity events (DefaultCapacity
// when capacity <= 0).
func (b *Bus) Subscribe(id string, capacity int) (*Subscription, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if _, ok := b.subs[id]; ok {
		return nil, fmt.Errorf("%w: %q", ErrAlreadySubscribed, id)
	}
	sub := &Subscription{id: id, out: make(chan interface{}, capacity)}
	b.subs[id] = sub
	return sub, nil
}

// Unsubscribe removes id and closes its channel. Unknown ids are a no-op.
func (b *Bus) Unsubscribe(id string) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.out)
	}
}

// Publish delivers event to every subscriber with buffer room and drops it
// for the rest.
func (b *Bus) Publish(event interface{}) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.out <- event:
		default:
			if n := atomic.AddUint64(&sub.lost, 1); n == 1 || n%100 == 0 {
				b.logger.Error("subscriber not draining, dropping events",
					"subscriber", sub.id, "lost", n)
			}
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.out)
	}
}
