package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/arcadereplay/pong-relay/capture/store"
	"github.com/arcadereplay/pong-relay/relay/score"
)

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Pong Relay Hub",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Pong Relay Hub - MCP Interface

This is a thin client that proxies all requests to the REST API server.
The server relays commands to live browser clients over WebSocket.

AVAILABLE TOOLS:
- capture_screen: Ask a connected client for a frame capture and wait for it
- send_prediction: Broadcast an AI paddle prediction to all clients
- set_paddle: Directly set a paddle position on all clients
- broadcast_message: Broadcast an arbitrary JSON message to all clients
- get_score: Read the current scoreboard
- update_score: Update the scoreboard and broadcast it
- connected_clients: Count connected WebSocket clients
- list_captures: List captures saved on the server

NOTE: capture_screen blocks until a client replies or the timeout elapses;
at least one client must be connected.`),
	)

	// Register all tools
	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "capture_screen",
		Description: "Request a frame capture from a connected client and wait for the reply",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"timeout": map[string]interface{}{
					"type":        "number",
					"description": "Seconds to wait for the client reply (default 8)",
				},
				"format": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"jpeg", "png"},
					"description": "Requested image format (default jpeg)",
				},
				"quality": map[string]interface{}{
					"type":        "number",
					"description": "Encoder quality 0-1 (default 0.8)",
				},
				"downscale": map[string]interface{}{
					"type":        "number",
					"description": "Downscale factor 0-1 (default 1.0)",
				},
				"return_base64": map[string]interface{}{
					"type":        "boolean",
					"description": "Return the raw base64 image instead of the saved filename",
				},
			},
		},
	}, c.handleCaptureScreen)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "send_prediction",
		Description: "Broadcast an AI paddle prediction to all connected clients",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"model": map[string]interface{}{
					"type":        "string",
					"description": "Model identifier making the prediction",
				},
				"targetY": map[string]interface{}{
					"type":        "number",
					"description": "Predicted paddle target as a 0-1 fraction of field height",
				},
			},
			Required: []string{"model", "targetY"},
		},
	}, c.handleSendPrediction)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "set_paddle",
		Description: "Directly set a paddle position on all connected clients",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"paddle": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"ai1", "ai2", "left", "right"},
					"description": "Which paddle to move",
				},
				"y": map[string]interface{}{
					"type":        "number",
					"description": "Target position as a 0-1 fraction of field height",
				},
				"immediate": map[string]interface{}{
					"type":        "boolean",
					"description": "Snap to the position instead of easing toward it",
				},
			},
			Required: []string{"paddle", "y"},
		},
	}, c.handleSetPaddle)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "broadcast_message",
		Description: "Broadcast an arbitrary JSON message to all connected clients",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"message": map[string]interface{}{
					"type":        "object",
					"description": "JSON object to broadcast as-is",
				},
			},
			Required: []string{"message"},
		},
	}, c.handleBroadcastMessage)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_score",
		Description: "Read the current scoreboard",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleGetScore)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "update_score",
		Description: "Update scoreboard fields and broadcast the new score to all clients",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"ai1": map[string]interface{}{
					"type":        "integer",
					"description": "New score for ai1 (omit to keep)",
				},
				"ai2": map[string]interface{}{
					"type":        "integer",
					"description": "New score for ai2 (omit to keep)",
				},
				"match": map[string]interface{}{
					"type":        "integer",
					"description": "New match number (omit to keep)",
				},
			},
		},
	}, c.handleUpdateScore)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "connected_clients",
		Description: "Count currently connected WebSocket clients",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleConnectedClients)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_captures",
		Description: "List captures saved on the server, newest first",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListCaptures)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Helper methods for API calls

func (c *Client) apiCall(method, path string, body interface{}, result interface{}) error {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"].(string); ok {
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

// Tool handlers

func (c *Client) handleCaptureScreen(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})

	body := map[string]interface{}{}
	if timeout, ok := args["timeout"].(float64); ok {
		body["timeout"] = timeout
	}
	if format, ok := args["format"].(string); ok && format != "" {
		body["format"] = format
	}
	if quality, ok := args["quality"].(float64); ok {
		body["quality"] = quality
	}
	if downscale, ok := args["downscale"].(float64); ok {
		body["downscale"] = downscale
	}
	if returnBase64, ok := args["return_base64"].(bool); ok {
		body["returnBase64"] = returnBase64
	}

	var response struct {
		OK     bool `json:"ok"`
		Result struct {
			RequestID   string  `json:"requestId"`
			Filename    string  `json:"filename"`
			ImageBase64 string  `json:"image_base64"`
			SizeKB      float64 `json:"size_kb"`
		} `json:"result"`
	}

	err := c.apiCall("POST", "/capture", body, &response)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if response.Result.ImageBase64 != "" {
		result := fmt.Sprintf("Captured %.1f KB (request %s)\nBase64 image:\n%s",
			response.Result.SizeKB, response.Result.RequestID, response.Result.ImageBase64)
		return mcp.NewToolResultText(result), nil
	}

	result := fmt.Sprintf("Captured %.1f KB (request %s)\nSaved as: %s",
		response.Result.SizeKB, response.Result.RequestID, response.Result.Filename)
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleSendPrediction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	model, _ := args["model"].(string)
	targetY, _ := args["targetY"].(float64)

	body := map[string]interface{}{
		"model":   model,
		"targetY": targetY,
	}

	var response struct {
		OK   bool `json:"ok"`
		Sent int  `json:"sent"`
	}

	err := c.apiCall("POST", "/predict", body, &response)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Prediction sent to %d client(s): %s -> %.3f", response.Sent, model, targetY)
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleSetPaddle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	paddle, _ := args["paddle"].(string)
	y, _ := args["y"].(float64)
	immediate, _ := args["immediate"].(bool)

	body := map[string]interface{}{
		"paddle":    paddle,
		"y":         y,
		"immediate": immediate,
	}

	var response struct {
		OK   bool `json:"ok"`
		Sent int  `json:"sent"`
	}

	err := c.apiCall("POST", "/control", body, &response)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Paddle %s set to %.3f on %d client(s)", paddle, y, response.Sent)
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleBroadcastMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	message, ok := args["message"].(map[string]interface{})
	if !ok || len(message) == 0 {
		return mcp.NewToolResultError("message must be a non-empty JSON object"), nil
	}

	var response struct {
		OK   bool `json:"ok"`
		Sent int  `json:"sent"`
	}

	err := c.apiCall("POST", "/broadcast", message, &response)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Message broadcast to %d client(s)", response.Sent)
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleGetScore(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response struct {
		OK    bool           `json:"ok"`
		Score score.Snapshot `json:"score"`
	}

	err := c.apiCall("GET", "/score", nil, &response)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := formatScore(response.Score)
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleUpdateScore(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})

	body := map[string]interface{}{}
	for _, field := range []string{"ai1", "ai2", "match"} {
		if v, ok := args[field].(float64); ok {
			body[field] = int(v)
		}
	}
	if len(body) == 0 {
		return mcp.NewToolResultError("provide at least one of ai1, ai2, match"), nil
	}

	var response struct {
		OK    bool           `json:"ok"`
		Score score.Snapshot `json:"score"`
		Sent  int            `json:"sent"`
	}

	err := c.apiCall("POST", "/score", body, &response)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("%s\nBroadcast to %d client(s)", formatScore(response.Score), response.Sent)
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleConnectedClients(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response struct {
		ConnectedClients int `json:"connected_clients"`
	}

	err := c.apiCall("GET", "/clients", nil, &response)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Connected clients: %d", response.ConnectedClients)
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleListCaptures(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response struct {
		OK       bool                `json:"ok"`
		Captures []store.CaptureInfo `json:"captures"`
	}

	err := c.apiCall("GET", "/captures", nil, &response)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if len(response.Captures) == 0 {
		return mcp.NewToolResultText("No captures saved yet."), nil
	}

	result := fmt.Sprintf("Saved captures (%d, newest first):\n\n", len(response.Captures))
	for _, info := range response.Captures {
		result += fmt.Sprintf("- %s (%.1f KB)\n", info.Filename, info.SizeKB)
	}

	return mcp.NewToolResultText(result), nil
}

func formatScore(snap score.Snapshot) string {
	return fmt.Sprintf("Score: ai1 %d - ai2 %d (match %d)", snap.AI1, snap.AI2, snap.Match)
}
