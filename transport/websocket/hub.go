package websocket

import (
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/arcadereplay/pong-relay/capture/store"
	"github.com/arcadereplay/pong-relay/relay/correlate"
	"github.com/arcadereplay/pong-relay/relay/message"
)

// DefaultMaxCaptureBytes caps decoded capture payloads at 10 MB.
const DefaultMaxCaptureBytes = 10 * 1024 * 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins in development
		// TODO: Configure this for production
		return true
	},
}

// Hub maintains the set of connected arena clients, fans commands out to
// them, and routes their capture replies into the correlation table.
type Hub struct {
	table      *correlate.Table
	captures   *store.FileStore
	maxInbound int64

	mu      sync.Mutex
	clients map[*Client]bool
}

// NewHub creates a hub that resolves capture replies against table and
// persists them through captures. maxInbound bounds decoded reply sizes;
// zero or negative selects DefaultMaxCaptureBytes.
func NewHub(table *correlate.Table, captures *store.FileStore, maxInbound int64) *Hub {
	if maxInbound <= 0 {
		maxInbound = DefaultMaxCaptureBytes
	}
	return &Hub{
		table:      table,
		captures:   captures,
		maxInbound: maxInbound,
		clients:    make(map[*Client]bool),
	}
}

// ServeWS upgrades an HTTP request to a websocket connection and registers
// the client for broadcast fan-out.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] upgrade failed: %v", err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		remote: r.RemoteAddr,
	}

	h.addClient(client)

	go client.writePump()
	go client.readPump()
}

// Broadcast queues payload for every connected client and returns the number
// of successful sends. The queue writes are non-blocking and happen under the
// registry lock: removeClient closes a send channel under the same lock, so a
// client disconnecting mid-broadcast is either already out of the set or its
// channel is still open. A client whose queue is full is treated as failed:
// its writePump is stuck past the write deadline, so it is pruned and its
// connection closed rather than allowed to stall future broadcasts.
func (h *Hub) Broadcast(payload []byte) int {
	h.mu.Lock()
	sent := 0
	var failed []*Client
	for c := range h.clients {
		select {
		case c.send <- payload:
			sent++
		default:
			failed = append(failed, c)
		}
	}
	h.mu.Unlock()

	for _, c := range failed {
		log.Printf("[WS] send queue full, dropping client %s", c.remote)
		h.removeClient(c)
	}

	return sent
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()

	log.Printf("[WS] client connected %s (total: %d)", c.remote, total)
}

// removeClient is idempotent: only the caller that actually removes the
// client from the set closes its send channel and connection. The channel
// close stays inside the lock so Broadcast can never write to a closed
// channel of a client it still sees in the set.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	_, present := h.clients[c]
	if present {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if !present {
		return
	}

	c.conn.Close()
	log.Printf("[WS] client disconnected %s (remaining: %d)", c.remote, total)
}

// handleInbound processes one text frame from a client. Capture replies are
// decoded, size-checked, persisted, and then matched against the correlation
// table; everything else is ignored. No failure here propagates beyond a log
// line; the worst case for a requester is its own timeout.
func (h *Hub) handleInbound(raw []byte) {
	reply, err := message.ParseCaptureReply(raw, h.maxInbound)
	if err != nil {
		switch {
		case errors.Is(err, message.ErrNotCapture):
			// Non-capture traffic from clients is allowed and ignored.
		case errors.Is(err, message.ErrTooLarge):
			log.Printf("[WS] capture reply rejected: %v", err)
		default:
			log.Printf("[WS] malformed capture reply: %v", err)
		}
		return
	}

	// Persist before resolving so a waiter that wants a file reference
	// always gets a valid one.
	saved, err := h.captures.Save(reply.Data, reply.CaptureID, reply.Format)
	if err != nil {
		log.Printf("[WS] failed to save capture: %v", err)
		return
	}
	log.Printf("[WS] saved capture %s (%.1f KB)", saved.Filename, saved.SizeKB)

	result := correlate.Result{
		RequestID: reply.CaptureID,
		Filename:  saved.Path,
		Base64:    reply.Base64,
		SizeKB:    saved.SizeKB,
	}

	resolved := h.table.Resolve(reply.CaptureID, result)
	if !resolved && reply.AltID != "" {
		result.RequestID = reply.AltID
		resolved = h.table.Resolve(reply.AltID, result)
	}

	if !resolved {
		log.Printf("[WS] unmatched capture reply id=%q (late or unknown)", reply.CaptureID)
	}
}
