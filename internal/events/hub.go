// Package events fans preview notifications out to connected clients.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/kapnodes/kapimage/pkg/logger"
	"github.com/kapnodes/kapimage/pkg/models"
	"go.uber.org/zap"
)

const defaultSubscriberBufferSize = 32

// Message is the envelope pushed to clients
type Message struct {
	Type string              `json:"type"`
	Data models.PreviewEvent `json:"data"`
}

// Hub delivers messages to every subscriber. Slow subscribers lose messages rather than
// blocking publishers.
type Hub struct {
	mu          sync.Mutex
	subscribers map[uint64]chan Message
	nextID      uint64
	bufferSize  int
	closed      bool
	published   atomic.Int64
	dropped     atomic.Int64
	logger      *zap.Logger
}

// NewHub creates a hub; bufferSize <= 0 uses the default
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberBufferSize
	}
	return &Hub{
		subscribers: make(map[uint64]chan Message),
		bufferSize:  bufferSize,
		logger:      logger.Get(),
	}
}

// Subscribe returns a channel of messages and a function that cancels the subscription.
// The channel is closed on cancel or when the hub closes.
func (h *Hub) Subscribe() (<-chan Message, func()) {
	ch := make(chan Message, h.bufferSize)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.nextID++
	id := h.nextID
	h.subscribers[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { h.remove(id) })
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(ch)
	}
}

// PublishPreview announces a regenerated preview
func (h *Hub) PublishPreview(event models.PreviewEvent) {
	h.Publish(Message{Type: models.EventTypeUpdatePreview, Data: event})
}

// Publish sends msg to every subscriber without blocking
func (h *Hub) Publish(msg Message) {
	if h == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.published.Add(1)

	for id, ch := range h.subscribers {
		select {
		case ch <- msg:
		default:
			h.dropped.Add(1)
			h.logger.Warn("Dropping message for slow subscriber",
				zap.Uint64("subscriber", id),
				zap.String("type", msg.Type),
			)
		}
	}
}

// Subscribers returns the number of active subscribers
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Stats returns publish and drop counters
func (h *Hub) Stats() map[string]interface{} {
	return map[string]interface{}{
		"subscribers": h.Subscribers(),
		"published":   h.published.Load(),
		"dropped":     h.dropped.Load(),
	}
}

// Close closes every subscriber channel; later publishes are ignored
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subscribers {
		delete(h.subscribers, id)
		close(ch)
	}
}
