package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/devcrewhq/crew/internal/events"
)

// streamHandler pushes bus events to connected clients as Server-Sent
// Events. Clients can narrow the feed to one run with ?project=<id>.
type streamHandler struct {
	bus       *events.Bus
	heartbeat time.Duration

	mu      sync.Mutex
	clients map[chan struct{}]struct{}
	closed  bool
}

func newStreamHandler(bus *events.Bus, heartbeat time.Duration) *streamHandler {
	return &streamHandler{
		bus:       bus,
		heartbeat: heartbeat,
		clients:   make(map[chan struct{}]struct{}),
	}
}

func (h *streamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	done := h.register()
	if done == nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.unregister(done)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch := h.bus.Subscribe()
	defer h.bus.Unsubscribe(ch)

	project := r.URL.Query().Get("project")
	fmt.Fprintf(w, "event: connected\ndata: {\"project\":%q}\n\n", project)
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			if project != "" && ev.ProjectID() != project {
				continue
			}
			writeStreamEvent(w, flusher, ev)
		}
	}
}

func writeStreamEvent(w http.ResponseWriter, flusher http.Flusher, ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.EventType(), data)
	flusher.Flush()
}

// register adds a connection and returns its shutdown signal, or nil when
// the handler is already closed.
func (h *streamHandler) register() chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	done := make(chan struct{})
	h.clients[done] = struct{}{}
	return done
}

func (h *streamHandler) unregister(done chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, done)
}

// shutdown disconnects every client so the HTTP server can drain.
func (h *streamHandler) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for done := range h.clients {
		close(done)
	}
	h.clients = make(map[chan struct{}]struct{})
}

func (h *streamHandler) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
