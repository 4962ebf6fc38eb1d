// Package eventbus implements an in-memory, non-blocking publish/subscribe
// bus: publishers never block, and a full subscriber queue drops the
// event and increments that subscriber's drop counter instead of
// back-pressuring the publisher.
package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/wilsonge/no8s-operator/pkg/controlplane/types"
)

// Filter decides whether a subscriber wants to see an event. It runs on
// the dispatcher side so that uninteresting events never occupy queue
// capacity.
type Filter func(types.Event) bool

// MatchAll is a Filter that accepts every event.
func MatchAll(types.Event) bool { return true }

// ByResourceType returns a Filter that only accepts events for the given
// resource type name (empty name matches everything).
func ByResourceType(name string) Filter {
	if name == "" {
		return MatchAll
	}
	return func(e types.Event) bool { return e.ResourceTypeName == name }
}

// ByResourceID returns a Filter scoped to a single resource's events.
func ByResourceID(id int64) Filter {
	return func(e types.Event) bool { return e.ResourceID == id }
}

const defaultQueueSize = 256

type subscriber struct {
	id      string
	filter  Filter
	queue   chan types.Event
	dropped atomic.Uint64
	closed  atomic.Bool
}

// DropObserver is notified whenever a subscriber drops an event, so callers
// can wire it to an observability sink (internal/metrics).
type DropObserver func(subscriberID string, totalDropped uint64)

// Bus is the process-wide event dispatcher. It is safe for concurrent use.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	queueSize   int
	onDrop      DropObserver
	closed      bool
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithQueueSize overrides the default per-subscriber queue capacity.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithDropObserver registers a callback invoked on every dropped event.
func WithDropObserver(f DropObserver) Option {
	return func(b *Bus) { b.onDrop = f }
}

// New constructs an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subscribers: make(map[string]*subscriber),
		queueSize:   defaultQueueSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers filter and returns a subscription id plus the
// channel the caller should range over. The channel is closed by
// Unsubscribe or Close.
func (b *Bus) Subscribe(filter Filter) (string, <-chan types.Event) {
	if filter == nil {
		filter = MatchAll
	}
	sub := &subscriber{
		id:     uuid.NewString(),
		filter: filter,
		queue:  make(chan types.Event, b.queueSize),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.queue)
		return sub.id, sub.queue
	}
	b.subscribers[sub.id] = sub
	return sub.id, sub.queue
}

// Unsubscribe removes a subscriber and closes its channel, yielding an
// end-of-stream signal to the range loop consuming it.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
	if ok {
		closeSubscriber(sub)
	}
}

func closeSubscriber(sub *subscriber) {
	if sub.closed.CompareAndSwap(false, true) {
		close(sub.queue)
	}
}

// Dropped returns the number of events dropped for subscriber id, or 0 if
// the subscriber is unknown.
func (b *Bus) Dropped(id string) uint64 {
	b.mu.RLock()
	sub, ok := b.subscribers[id]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	return sub.dropped.Load()
}

// Publish fans event out to every subscriber whose filter accepts it,
// trying each subscriber's queue without blocking. Publish itself never
// blocks regardless of how slow any subscriber is.
func (b *Bus) Publish(event types.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		if !sub.filter(event) {
			continue
		}
		select {
		case sub.queue <- event:
		default:
			n := sub.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop(sub.id, n)
			}
		}
	}
}

// Close unsubscribes and closes every live subscriber channel. Intended
// for process shutdown.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	subs := b.subscribers
	b.subscribers = make(map[string]*subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		closeSubscriber(sub)
	}
}
