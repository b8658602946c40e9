package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// Event is one notification pushed to every /ws/events subscriber.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Event types broadcast by the API handlers and background jobs.
const (
	EventMemoryStored    = "memory_stored"
	EventMemoryDeleted   = "memory_deleted"
	EventBackupCompleted = "backup_completed"
	EventBackupFailed    = "backup_failed"
)

// EventHub fans engine and backup events out to WebSocket subscribers.
// Slow subscribers are dropped rather than allowed to stall the loop.
type EventHub struct {
	allowedOrigins map[string]bool
	allowAll       bool

	subscribers map[subscriber]bool
	broadcast   chan Event
	register    chan subscriber
	unregister  chan subscriber
	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
}

// subscriber allows both real connections and mock subscribers.
type subscriber interface {
	sendChannel() chan []byte
	close()
}

// wsSubscriber is a live WebSocket connection.
type wsSubscriber struct {
	hub  *EventHub
	conn *websocket.Conn
	send chan []byte
}

func (c *wsSubscriber) sendChannel() chan []byte { return c.send }

func (c *wsSubscriber) close() {
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

// NewEventHub creates a hub that accepts upgrades from the given origins.
// An entry of "*" allows any origin.
func NewEventHub(origins []string) *EventHub {
	allowed := make(map[string]bool, len(origins))
	allowAll := false
	for _, origin := range origins {
		if origin == "*" {
			allowAll = true
			continue
		}
		allowed[origin] = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &EventHub{
		allowedOrigins: allowed,
		allowAll:       allowAll,
		subscribers:    make(map[subscriber]bool),
		broadcast:      make(chan Event, 256),
		register:       make(chan subscriber),
		unregister:     make(chan subscriber),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Run processes registrations and broadcasts until Stop is called.
func (h *EventHub) Run() {
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub] = true
			count := len(h.subscribers)
			h.mu.Unlock()
			log.Printf("server: event subscriber connected (total: %d)", count)

		case sub := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				close(sub.sendChannel())
			}
			count := len(h.subscribers)
			h.mu.Unlock()
			log.Printf("server: event subscriber disconnected (total: %d)", count)

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("server: failed to marshal event %q: %v", event.Type, err)
				continue
			}
			// Full Lock: the default branch may delete from the map.
			h.mu.Lock()
			for sub := range h.subscribers {
				ch := sub.sendChannel()
				select {
				case ch <- data:
				default:
					close(ch)
					delete(h.subscribers, sub)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// Stop shuts the hub down and disconnects every subscriber.
func (h *EventHub) Stop() {
	h.cancel()

	h.mu.Lock()
	for sub := range h.subscribers {
		close(sub.sendChannel())
		sub.close()
	}
	h.subscribers = make(map[subscriber]bool)
	h.mu.Unlock()
}

// Broadcast queues an event for delivery. It never blocks; when the queue
// is full the event is dropped.
func (h *EventHub) Broadcast(event Event) {
	select {
	case h.broadcast <- event:
	default:
		log.Printf("server: event queue full, dropping %q", event.Type)
	}
}

// Register adds a subscriber to the hub. It is a no-op after Stop.
func (h *EventHub) Register(sub subscriber) {
	select {
	case h.register <- sub:
	case <-h.ctx.Done():
	}
}

// Unregister removes a subscriber from the hub. It is a no-op after Stop.
func (h *EventHub) Unregister(sub subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.ctx.Done():
	}
}

func (h *EventHub) originAllowed(origin string) bool {
	return h.allowAll || h.allowedOrigins[origin]
}

// ServeHTTP upgrades the request to a WebSocket subscription. Requests
// carrying a disallowed Origin header are rejected before the upgrade.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && !h.originAllowed(origin) {
		http.Error(w, "Forbidden: invalid origin", http.StatusForbidden)
		return
	}

	// Origin is validated above, so the library check is skipped.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("server: websocket upgrade failed: %v", err)
		return
	}

	sub := &wsSubscriber{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}
	h.Register(sub)

	go sub.writePump()
	go sub.readPump()
}

// writePump sends queued events to the connection.
func (c *wsSubscriber) writePump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for message := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, message)
		cancel()
		if err != nil {
			return
		}
	}
}

// readPump drains inbound frames so disconnects are noticed. Clients have
// nothing to say to the hub yet.
func (c *wsSubscriber) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			return
		}
	}
}

// MockSubscriber receives broadcasts without a real connection.
type MockSubscriber struct {
	SendChan chan []byte
}

func (m *MockSubscriber) sendChannel() chan []byte { return m.SendChan }

func (m *MockSubscriber) close() {}
