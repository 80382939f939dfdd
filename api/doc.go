// Package api provides the HTTP command surface of the Pong relay hub.
//
// The api package implements:
//   - Command endpoints that fan messages out to connected arena clients
//   - The correlated capture endpoint that waits for a client reply
//   - Score state reads and updates
//   - WebSocket upgrade handling for arena clients
//
// Endpoints:
//
// Commands:
//   - POST/GET /capture - Broadcast a capture request and wait for the first
//     matching reply (GET accepts query parameters for quick manual testing)
//   - POST/GET /predict - Forward an AI prediction to all clients
//   - POST/GET /control - Broadcast a paddle control command
//   - POST/GET /broadcast - Forward an arbitrary message to all clients
//
// Score:
//   - GET /score - Current score state
//   - POST /score - Partial score update, broadcast on success
//
// Info:
//   - GET /clients - Number of connected arena clients
//   - GET /captures - Saved captures, newest first
//   - GET /healthz - Liveness probe
//
// Clients:
//   - GET /ws - WebSocket upgrade for arena clients
//
// Request/Response Format:
//
// All endpoints accept and return JSON; GET variants read the same fields
// from query parameters. Responses carry an "ok" flag:
//
//	{"ok": true, "result": {...}}
//	{"ok": false, "error": "no_connected_clients"}
//
// Failure status codes: 503 when no clients are connected, 504 when a
// capture times out, 400 for validation failures, 500 for internal faults.
package api
