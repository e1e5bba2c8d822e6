package editor

import (
	"sync"

	"github.com/dj-oyu/footfall-dashboard/internal/logger"
)

// FrameBroadcaster manages fanout of encoded canvas frames to multiple clients.
type FrameBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int
	closed  bool
	name    string
	dropped uint64 // Frames skipped for slow clients
}

// NewFrameBroadcaster creates a broadcaster; name tags its log lines.
func NewFrameBroadcaster(name string) *FrameBroadcaster {
	return &FrameBroadcaster{
		clients: make(map[int]chan []byte),
		name:    name,
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
// After Close the returned channel is already closed.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2) // Buffer 2 frames to avoid blocking
	if fb.closed {
		close(ch)
		return id, ch
	}
	fb.clients[id] = ch

	logger.Debug("FrameBroadcaster", "%s: client #%d subscribed (total clients: %d)", fb.name, id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		logger.Debug("FrameBroadcaster", "%s: client #%d unsubscribed (remaining clients: %d)", fb.name, id, len(fb.clients))
	}
}

// ClientCount returns the number of subscribed clients.
func (fb *FrameBroadcaster) ClientCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// Broadcast sends data to every client without blocking. A client whose
// buffer is full misses this frame.
func (fb *FrameBroadcaster) Broadcast(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
			fb.dropped++
		}
	}
}

// Close disconnects all clients. Later subscriptions get a closed channel.
func (fb *FrameBroadcaster) Close() {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.closed {
		return
	}
	fb.closed = true
	for id, ch := range fb.clients {
		close(ch)
		delete(fb.clients, id)
	}
	if fb.dropped > 0 {
		logger.Debug("FrameBroadcaster", "%s: closed, %d frames dropped for slow clients", fb.name, fb.dropped)
	}
}
