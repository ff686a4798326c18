package pubsub

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Hub fans every published event out to the queues of all connected observers.
// PublishEvent completes in bounded time regardless of how fast observers drain.
type Hub[E Event] struct {
	mu        sync.RWMutex
	queues    map[string]*Queue[E]
	queueSize int
	onDrop    func(observerID string)
	onChange  func(observers int)
}

type HubOption[E Event] func(*Hub[E])

// WithDropHook is called every time an observer's queue drops its oldest event.
func WithDropHook[E Event](fn func(observerID string)) HubOption[E] {
	return func(h *Hub[E]) {
		h.onDrop = fn
	}
}

// WithObserverCountHook is called with the new observer count after every subscribe and
// unsubscribe.
func WithObserverCountHook[E Event](fn func(observers int)) HubOption[E] {
	return func(h *Hub[E]) {
		h.onChange = fn
	}
}

func NewHub[E Event](queueSize int, opts ...HubOption[E]) *Hub[E] {
	h := &Hub[E]{
		queues:    make(map[string]*Queue[E]),
		queueSize: queueSize,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Subscribe registers a new observer. Events published from now on are queued for it.
func (h *Hub[E]) Subscribe(id string) *Queue[E] {
	q := NewQueue[E](h.queueSize)

	h.mu.Lock()
	if old, ok := h.queues[id]; ok {
		old.Close()
	}
	h.queues[id] = q
	n := len(h.queues)
	h.mu.Unlock()

	log.Debug().Msgf("observer %s subscribed (%d connected)", id, n)
	if h.onChange != nil {
		h.onChange(n)
	}
	return q
}

// Unsubscribe removes the observer and closes its queue. Unknown ids are ignored.
func (h *Hub[E]) Unsubscribe(id string) {
	h.mu.Lock()
	q, ok := h.queues[id]
	if ok {
		delete(h.queues, id)
	}
	n := len(h.queues)
	h.mu.Unlock()

	if !ok {
		return
	}
	q.Close()
	log.Debug().Msgf("observer %s unsubscribed (%d connected)", id, n)
	if h.onChange != nil {
		h.onChange(n)
	}
}

func (h *Hub[E]) PublishEvent(e *E) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, q := range h.queues {
		if q.Push(*e) && h.onDrop != nil {
			h.onDrop(id)
		}
	}
	return nil
}

var _ Subscriber[struct{}] = &Hub[struct{}]{}

// ConsumeEvent lets a Hub sit behind a SimplePublisher.
func (h *Hub[E]) ConsumeEvent(e *E) error {
	return h.PublishEvent(e)
}

func (h *Hub[E]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.queues)
}

// Close unsubscribes every observer.
func (h *Hub[E]) Close() {
	h.mu.Lock()
	queues := h.queues
	h.queues = make(map[string]*Queue[E])
	h.mu.Unlock()

	for _, q := range queues {
		q.Close()
	}
	if h.onChange != nil {
		h.onChange(0)
	}
}
