package dashboard

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/footfall-dashboard/internal/logger"
)

// SSE event names.
const (
	EventState    = "state"
	EventNewEvent = "new_event"
)

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	Name         string
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // structpb.Struct, base64 encoded for SSE
}

// Serialize encodes v as JSON and as a base64 structpb.Struct.
func Serialize(name string, v any) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return nil, fmt.Errorf("%s is not a JSON object: %w", name, err)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("structpb: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("protobuf: %w", err)
	}

	return &SerializedEvent{
		Name:         name,
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// DecodeProtobuf reverses the protobuf half of Serialize.
func DecodeProtobuf(data []byte) (*structpb.Struct, error) {
	raw, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, err
	}
	st := &structpb.Struct{}
	if err := proto.Unmarshal(raw, st); err != nil {
		return nil, err
	}
	return st, nil
}

// StatusBroadcaster manages fanout of dashboard events to multiple SSE clients.
type StatusBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	last    *SerializedEvent
	closed  bool
}

func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[int]chan *SerializedEvent),
	}
}

// Subscribe adds a new client. The latest state event, if any, is queued
// immediately so new clients do not wait for the next refresh.
func (sb *StatusBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	id := sb.nextID
	sb.nextID++
	ch := make(chan *SerializedEvent, 4)
	if sb.closed {
		close(ch)
		return id, ch
	}
	if sb.last != nil {
		ch <- sb.last
	}
	sb.clients[id] = ch

	logger.Debug("StatusBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(sb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (sb *StatusBroadcaster) Unsubscribe(id int) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if ch, ok := sb.clients[id]; ok {
		close(ch)
		delete(sb.clients, id)
		logger.Debug("StatusBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(sb.clients))
	}
}

func (sb *StatusBroadcaster) ClientCount() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return len(sb.clients)
}

// Publish serializes v once and sends it to every client without blocking.
func (sb *StatusBroadcaster) Publish(name string, v any) error {
	ev, err := Serialize(name, v)
	if err != nil {
		logger.Error("StatusBroadcaster", "Serialize %s: %v", name, err)
		return err
	}
	sb.broadcast(ev)
	return nil
}

func (sb *StatusBroadcaster) broadcast(ev *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if ev.Name == EventState {
		sb.last = ev
	}
	for _, ch := range sb.clients {
		select {
		case ch <- ev:
		default:
			// Client too slow, skip this event for this client
		}
	}
}

// Close disconnects every client.
func (sb *StatusBroadcaster) Close() {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if sb.closed {
		return
	}
	sb.closed = true
	for id, ch := range sb.clients {
		close(ch)
		delete(sb.clients, id)
	}
}
