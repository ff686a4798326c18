package pubsub

import "sync"

type Event interface {
}

type Publisher[E Event] interface {
	PublishEvent(*E) error
	AddSubscriber(Subscriber[E])
}

type Subscriber[E Event] interface {
	ConsumeEvent(*E) error
}

// SimplePublisher loops through each subscriber and calls ConsumeEvent on it, in the
// caller's goroutine. Subscribers must not block: anything slow belongs behind a Hub.
type SimplePublisher[E Event] struct {
	mu          sync.RWMutex
	subscribers []Subscriber[E]
}

func NewSimplePublisher[E Event]() *SimplePublisher[E] {
	return &SimplePublisher[E]{
		subscribers: make([]Subscriber[E], 0),
	}
}

// PublishEvent delivers e to every subscriber. A failing subscriber does not prevent
// delivery to the rest; the first error is returned.
func (p *SimplePublisher[E]) PublishEvent(e *E) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var first error
	for _, s := range p.subscribers {
		err := s.ConsumeEvent(e)
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (p *SimplePublisher[E]) AddSubscriber(s Subscriber[E]) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.subscribers = append(p.subscribers, s)
}
