// Package websocket provides the WebSocket transport of the relay hub.
//
// The websocket package implements:
//   - Real-time fan-out of relay commands to all connected clients
//   - Capture reply intake, persistence, and waiter resolution
//   - Connection lifecycle management with ping/pong keepalive
//   - Slow-client eviction when a send queue fills
//
// Architecture:
//
// The package uses a hub-and-spoke model where a central Hub tracks all
// WebSocket connections. Each client connection runs a read pump and a write
// pump in dedicated goroutines; the hub broadcasts by copying a payload into
// every client's buffered send queue.
//
// Message Protocol:
//
// Messages are JSON-encoded objects with a "type" field:
//   - Outgoing: capture_request, ai_prediction, control, score_update,
//     or arbitrary broadcast payloads
//   - Incoming: image_capture / frame_image replies carrying a base64 image
//     and the capture or request ID they answer
//
// Any inbound traffic that is not a capture reply is ignored; clients are
// listeners, not command sources.
//
// Usage:
//
//	hub := websocket.NewHub(table, captures, 0)
//	http.HandleFunc("/ws", hub.ServeWS)
//
// Connection Lifecycle:
//
// 1. Client connects to /ws and is registered with the hub
// 2. Hub broadcasts reach the client through its send queue
// 3. Capture replies from the client are saved and matched to waiters
// 4. Disconnection, ping timeout, or a full send queue triggers cleanup
//
// Concurrency:
//
// The hub and client pumps are designed for concurrent operation. Multiple
// clients can connect, disconnect, and reply simultaneously without blocking
// each other; a stalled client never blocks a broadcast.
package websocket
