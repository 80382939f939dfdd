// Package mcp provides a Model Context Protocol interface for the relay hub.
//
// The mcp package implements:
//   - MCP server exposing relay operations as tools
//   - Thin proxying of every tool call to the REST API
//   - Stdio and HTTP transport modes
//
// MCP Tools:
//
// The package exposes the following tools for AI agents:
//   - capture_screen: Request a frame capture from a client and wait for it
//   - send_prediction: Broadcast an AI paddle prediction
//   - set_paddle: Directly set a paddle position
//   - broadcast_message: Broadcast an arbitrary JSON message
//   - get_score: Read the current scoreboard
//   - update_score: Update the scoreboard and broadcast it
//   - connected_clients: Count connected WebSocket clients
//   - list_captures: List captures saved on the server
//
// Transport Modes:
//
// The server supports two transport modes:
//   - Stdio: Direct stdio communication for local MCP clients
//   - HTTP: HTTP endpoint for remote MCP integration
//
// Usage:
//
//	// HTTP mode: mount the underlying server on an endpoint
//	client := mcp.NewClient("http://127.0.0.1:8000")
//	srv := client.GetMCPServer()
//
//	// Stdio mode
//	server.ServeStdio(srv)
//
// All tools go through the HTTP API rather than touching the hub directly,
// so the MCP process can run separately from the relay server.
package mcp
