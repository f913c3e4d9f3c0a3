package handlers

import (
	"slices"
	"sync"
)

type listener[T any] struct {
	id     string
	topics []string
	ch     chan T
}

// An empty topics list matches every topic.
func (l *listener[T]) includes(topic string) bool {
	return len(l.topics) <= 0 || slices.Contains(l.topics, topic)
}

// broker fans events out to the registered listeners. Listeners that are not
// keeping up miss events rather than blocking the publisher.
type broker[T any] struct {
	lock      *sync.Mutex
	listeners []*listener[T]
}

func newBroker[T any]() *broker[T] {
	return &broker[T]{
		lock:      &sync.Mutex{},
		listeners: make([]*listener[T], 0),
	}
}

func (h *broker[T]) pushListener(l *listener[T]) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.listeners = append(h.listeners, l)
}

func (h *broker[T]) removeListener(id string) {
	h.lock.Lock()
	defer h.lock.Unlock()

	for i, listener := range h.listeners {
		if listener.id == id {
			h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
			return
		}
	}
}

func (h *broker[T]) publish(topic string, ev T) int {
	h.lock.Lock()
	defer h.lock.Unlock()

	delivered := 0
	for _, l := range h.listeners {
		if !l.includes(topic) {
			continue
		}
		select {
		case l.ch <- ev:
			delivered++
		default:
		}
	}
	return delivered
}

func (h *broker[T]) count() int {
	h.lock.Lock()
	defer h.lock.Unlock()

	return len(h.listeners)
}
