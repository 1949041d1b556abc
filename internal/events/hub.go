// Package events fans lead changes out to connected admin clients.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/metrics"
	"github.com/leadflow/backend/pkg/logger"
)

const subscriberBuffer = 64

type Event struct {
	Type      string         `json:"type"`
	LeadID    string         `json:"lead_id,omitempty"`
	CallSID   string         `json:"call_sid,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher is what the recorders depend on.
type Publisher interface {
	Publish(e Event)
}

// Hub is an in-process broadcast. Slow subscribers drop events instead of blocking publishers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	now    func() time.Time
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event), now: time.Now}
}

// Subscribe registers a listener. The returned cancel func closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = ch
	metrics.EventSubscribers.Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
			metrics.EventSubscribers.Dec()
		})
	}
}

func (h *Hub) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = h.now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- e:
		default:
			logger.Warn("Dropping event for slow subscriber", zap.Int("subscriber", id), zap.String("type", e.Type))
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(Event) {}
