package broker

import (
	"sync"

	"github.com/relay/chat-app/internal/metrics"
)

// DefaultEventBuffer is the per-subscriber channel capacity used when the
// broker config does not override it.
const DefaultEventBuffer = 64

// Topic is a many-publisher, many-subscriber broadcast channel for a single
// event kind. Each subscriber owns a buffered channel; Publish never blocks
// on subscriber-side processing, and an event that does not fit a
// subscriber's buffer is dropped for that subscriber only. Subscribers
// observe events in publish order and only see events published after they
// subscribed — there is no backlog or replay.
type Topic[T any] struct {
	kind   string // metrics label, e.g. "message" or "typing"
	buffer int

	mu   sync.RWMutex
	subs map[*Subscription[T]]struct{}
}

// NewTopic creates an empty topic. kind labels the topic in metrics.
func NewTopic[T any](kind string, buffer int) *Topic[T] {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &Topic[T]{
		kind:   kind,
		buffer: buffer,
		subs:   make(map[*Subscription[T]]struct{}),
	}
}

// Publish fans ev out to every current subscriber. Broadcasting to zero
// subscribers is a legal no-op.
func (t *Topic[T]) Publish(ev T) {
	t.mu.RLock()
	for sub := range t.subs {
		select {
		case sub.ch <- ev:
		default:
			metrics.EventsDropped.WithLabelValues(t.kind).Inc()
		}
	}
	t.mu.RUnlock()

	metrics.EventsPublished.WithLabelValues(t.kind).Inc()
}

// Subscribe registers a new subscriber. The returned subscription only
// receives events published after this call.
func (t *Topic[T]) Subscribe() *Subscription[T] {
	sub := &Subscription[T]{
		topic: t,
		ch:    make(chan T, t.buffer),
	}

	t.mu.Lock()
	t.subs[sub] = struct{}{}
	t.mu.Unlock()

	metrics.Subscribers.WithLabelValues(t.kind).Inc()
	return sub
}

// subscriberCount returns the number of live subscriptions.
func (t *Topic[T]) subscriberCount() int {
	t.mu.RLock()
	n := len(t.subs)
	t.mu.RUnlock()
	return n
}

// Subscription is one subscriber's handle on a topic. Receive from C until
// it is closed; call Close when the consumer disconnects so the topic stops
// delivering and drops its reference.
type Subscription[T any] struct {
	topic *Topic[T]
	ch    chan T
	once  sync.Once
}

// C returns the receive channel. It is closed by Close.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Close unregisters the subscription from its topic and closes the receive
// channel. After Close returns the topic holds no reference to the
// subscription. Safe to call more than once; never an error for the topic
// or for other subscribers.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		t := s.topic
		t.mu.Lock()
		delete(t.subs, s)
		// Publish holds the read lock for the whole fan-out, so no send can
		// race this close.
		close(s.ch)
		t.mu.Unlock()

		metrics.Subscribers.WithLabelValues(t.kind).Dec()
	})
}
