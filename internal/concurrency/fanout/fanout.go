package fanout

import (
	"sync"
	"sync/atomic"

	"orderflow/internal/infrastructure/metrics"
)

// All subscribes to every key published on a hub.
const All = ""

// Hub распределяет события по подписчикам. Publish никогда не блокируется:
// если буфер подписчика заполнен, событие для него теряется.
type Hub[T any] struct {
	topic string

	mu     sync.RWMutex
	subs   map[string]map[uint64]chan T
	nextID uint64
	closed bool

	dropped atomic.Int64
}

func NewHub[T any](topic string) *Hub[T] {
	return &Hub[T]{topic: topic, subs: make(map[string]map[uint64]chan T)}
}

// Subscribe returns a channel of events published under key (or every key
// for All) and a cancel func that unsubscribes and closes the channel.
func (h *Hub[T]) Subscribe(key string, buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan T, buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.nextID++
	id := h.nextID
	if h.subs[key] == nil {
		h.subs[key] = make(map[uint64]chan T)
	}
	h.subs[key][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[key][id]; ok {
				delete(h.subs[key], id)
				if len(h.subs[key]) == 0 {
					delete(h.subs, key)
				}
				close(c)
			}
		})
	}
}

// Publish delivers v to subscribers of key and to All subscribers.
func (h *Hub[T]) Publish(key string, v T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.deliver(h.subs[key], v)
	if key != All {
		h.deliver(h.subs[All], v)
	}
}

// Subscribers counts live subscriptions for key, not including All.
func (h *Hub[T]) Subscribers(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[key])
}

func (h *Hub[T]) Dropped() int64 {
	return h.dropped.Load()
}

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for key, set := range h.subs {
		for _, ch := range set {
			close(ch)
		}
		delete(h.subs, key)
	}
}

func (h *Hub[T]) deliver(set map[uint64]chan T, v T) {
	for _, ch := range set {
		select {
		case ch <- v:
		default:
			h.dropped.Add(1)
			metrics.SubscriberDrops.WithLabelValues(h.topic).Inc()
		}
	}
}
