// Package stream runs the live refresh loop and distributes its frames.
package stream

import (
	"sync"
	"time"

	"kyoto-terminal/internal/metrics"
	"kyoto-terminal/internal/models"
)

// HubConfig holds configuration for the frame Hub.
type HubConfig struct {
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SubscriberBufferSize: 4,
	}
}

// Hub fans frames out to subscribers over buffered channels.
// Publishing never blocks the refresh loop: when a subscriber's buffer is full its
// oldest pending frame is discarded so the newest one always lands.
type Hub struct {
	config      HubConfig
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	closed      bool
	last        *models.Frame

	// Metrics
	framesPublished uint64
	framesDelivered uint64
	framesDropped   uint64
	metricsMu       sync.Mutex
}

// Subscriber represents a channel subscriber with metadata.
type Subscriber struct {
	ID           string
	Channel      chan models.Frame
	DroppedCount int
	CreatedAt    time.Time
}

// NewHub creates a new hub with default configuration.
func NewHub() *Hub {
	return NewHubWithConfig(DefaultHubConfig())
}

// NewHubWithConfig creates a new hub with custom configuration.
func NewHubWithConfig(config HubConfig) *Hub {
	if config.SubscriberBufferSize < 1 {
		config.SubscriberBufferSize = 1
	}
	return &Hub{
		config:      config,
		subscribers: make(map[string]*Subscriber),
	}
}

// Subscribe registers id and returns its frame channel. Subscribing an id twice
// replaces and closes the earlier channel. A closed hub returns a closed channel.
// New subscribers receive the most recent frame immediately, if any.
func (h *Hub) Subscribe(id string) <-chan models.Frame {
	ch := make(chan models.Frame, h.config.SubscriberBufferSize)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(ch)
		return ch
	}
	if old, ok := h.subscribers[id]; ok {
		close(old.Channel)
	}
	h.subscribers[id] = &Subscriber{
		ID:        id,
		Channel:   ch,
		CreatedAt: time.Now(),
	}
	if h.last != nil {
		ch <- *h.last
	}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subscribers[id]; ok {
		close(sub.Channel)
		delete(h.subscribers, id)
	}
}

// Publish delivers frame to every subscriber without blocking.
func (h *Hub) Publish(frame models.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.last = &frame

	var delivered, dropped uint64
	for _, sub := range h.subscribers {
		select {
		case sub.Channel <- frame:
			delivered++
			continue
		default:
		}
		// Buffer full: discard the oldest pending frame and retry once.
		select {
		case <-sub.Channel:
			sub.DroppedCount++
			dropped++
		default:
		}
		select {
		case sub.Channel <- frame:
			delivered++
		default:
			sub.DroppedCount++
			dropped++
		}
	}

	h.metricsMu.Lock()
	h.framesPublished++
	h.framesDelivered += delivered
	h.framesDropped += dropped
	h.metricsMu.Unlock()

	if dropped > 0 {
		metrics.FramesDropped.Add(float64(dropped))
	}
}

// Last returns the most recently published frame.
func (h *Hub) Last() (models.Frame, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last == nil {
		return models.Frame{}, false
	}
	return *h.last, true
}

// Close closes every subscriber channel. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subscribers {
		close(sub.Channel)
		delete(h.subscribers, id)
	}
}

// SubscriberCount returns the number of subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// HubStats contains hub counters.
type HubStats struct {
	FramesPublished uint64
	FramesDelivered uint64
	FramesDropped   uint64
	Subscribers     int
}

// Stats returns hub counters.
func (h *Hub) Stats() HubStats {
	subs := h.SubscriberCount()

	h.metricsMu.Lock()
	defer h.metricsMu.Unlock()
	return HubStats{
		FramesPublished: h.framesPublished,
		FramesDelivered: h.framesDelivered,
		FramesDropped:   h.framesDropped,
		Subscribers:     subs,
	}
}

// Publisher receives the frame produced by each tick.
type Publisher interface {
	Publish(frame models.Frame)
}

// PublisherFunc is a function adapter for Publisher.
type PublisherFunc func(models.Frame)

// Publish implements Publisher.
func (f PublisherFunc) Publish(frame models.Frame) {
	f(frame)
}

var _ Publisher = (*Hub)(nil)
