package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/starkpass/starkpass/internal/domain"
	"github.com/starkpass/starkpass/internal/infra/observability"
)

// ─── Live Profile Events ────────────────────────────────────────────────────
// Profile events (loaded, reset, quest completed, credential claimed) are
// fanned out to every connected client over Server-Sent Events.
//
// GET /api/events

// keepAliveInterval spaces SSE comments that keep idle proxies from closing
// the stream.
const keepAliveInterval = 25 * time.Second

// EventHub broadcasts profile events to SSE clients.
type EventHub struct {
	mu      sync.RWMutex
	clients map[string]chan []byte
	log     log.Logger
}

// NewEventHub creates a new event broadcast hub.
func NewEventHub() *EventHub {
	return &EventHub{
		clients: make(map[string]chan []byte),
		log:     log.New("component", "events"),
	}
}

// Publish sends ev to all connected clients. Slow clients drop events.
func (h *EventHub) Publish(ev domain.ProfileEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	msg := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Type, data))

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.clients {
		select {
		case ch <- msg:
		default:
			h.log.Debug("Dropping event for slow client", "client", id, "type", ev.Type)
		}
	}
}

// Subscribe registers a new client. Returns its id, its channel and an
// unsubscribe func.
func (h *EventHub) Subscribe() (string, <-chan []byte, func()) {
	id := uuid.NewString()
	ch := make(chan []byte, 32)

	h.mu.Lock()
	h.clients[id] = ch
	h.mu.Unlock()
	observability.EventSubscribers.Inc()

	var once sync.Once
	return id, ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients, id)
			h.mu.Unlock()
			observability.EventSubscribers.Dec()
		})
	}
}

// ClientCount returns the number of connected clients.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleSSE serves the live profile feed via Server-Sent Events.
func (h *EventHub) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id, ch, unsub := h.Subscribe()
	defer unsub()

	fmt.Fprintf(w, ": connected %s\n\n", id)
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-ch:
			w.Write(msg)
			flusher.Flush()
		case <-ticker.C:
			w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		}
	}
}
