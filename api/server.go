package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/arcadereplay/pong-relay/relay/service"
	"github.com/arcadereplay/pong-relay/transport/websocket"
)

// Server is the HTTP command surface of the relay hub.
type Server struct {
	service service.RelayService
	hub     *websocket.Hub
	router  *mux.Router
}

// NewServer creates the API server around the relay service and websocket hub.
func NewServer(relayService service.RelayService, hub *websocket.Hub) *Server {
	s := &Server{
		service: relayService,
		hub:     hub,
		router:  mux.NewRouter(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all routes. GET variants of the command endpoints
// accept query parameters for quick manual testing.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/capture", s.handleCapture).Methods("POST", "GET")
	s.router.HandleFunc("/predict", s.handlePredict).Methods("POST", "GET")
	s.router.HandleFunc("/control", s.handleControl).Methods("POST", "GET")
	s.router.HandleFunc("/broadcast", s.handleBroadcast).Methods("POST", "GET")

	s.router.HandleFunc("/score", s.handleScore).Methods("GET", "POST")

	s.router.HandleFunc("/clients", s.handleClients).Methods("GET")
	s.router.HandleFunc("/captures", s.handleCaptures).Methods("GET")
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	// WebSocket
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code string) {
	respondJSON(w, status, map[string]interface{}{"ok": false, "error": code})
}

// respondServiceError maps the service error taxonomy onto HTTP statuses.
func respondServiceError(w http.ResponseWriter, err error) {
	var verr *service.ValidationError
	var terr *service.TimeoutError

	switch {
	case errors.Is(err, service.ErrNoClients):
		respondError(w, http.StatusServiceUnavailable, "no_connected_clients")

	case errors.As(err, &terr):
		respondJSON(w, http.StatusGatewayTimeout, map[string]interface{}{
			"ok":        false,
			"error":     "timeout_waiting_for_capture",
			"requestId": terr.RequestID,
		})

	case errors.As(err, &verr):
		if len(verr.Details) == 1 {
			respondError(w, http.StatusBadRequest, verr.Details[0])
			return
		}
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"ok":      false,
			"error":   "validation_failed",
			"details": verr.Details,
		})

	default:
		respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"ok":     false,
			"error":  "internal",
			"detail": err.Error(),
		})
	}
}

// decodePayload reads the request parameters as a flat map: the JSON body
// for POST, query parameters for GET. Malformed bodies yield an empty map
// rather than an error; each handler validates what it needs.
func decodePayload(r *http.Request) map[string]interface{} {
	if r.Method == http.MethodGet {
		payload := make(map[string]interface{})
		for key, values := range r.URL.Query() {
			if len(values) > 0 {
				payload[key] = values[0]
			}
		}
		return payload
	}

	payload := make(map[string]interface{})
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&payload)
	}
	return payload
}

// Command Handlers

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	payload := decodePayload(r)

	req := service.CaptureRequest{
		RequestID:      stringParam(payload, "requestId"),
		TimeoutSeconds: floatParam(payload, "timeout"),
		Format:         stringParam(payload, "format"),
		ReturnBase64:   boolParam(payload, "returnBase64"),
	}

	// Capture options may be nested or top-level.
	if opts, ok := payload["captureOptions"].(map[string]interface{}); ok {
		req.Quality = floatParam(opts, "quality")
		req.Downscale = floatParam(opts, "downscale")
	}
	if req.Quality == 0 {
		req.Quality = floatParam(payload, "quality")
	}
	if req.Downscale == 0 {
		req.Downscale = floatParam(payload, "downscale")
	}

	result, err := s.service.Capture(r.Context(), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "result": result})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Predict(r.Context(), decodePayload(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"sent":    result.Sent,
		"message": result.Message,
	})
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	payload := decodePayload(r)

	y, ok := parseFloat(payload["y"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_y")
		return
	}

	req := service.ControlRequest{
		Paddle:    stringParam(payload, "paddle"),
		Y:         y,
		Immediate: boolParam(payload, "immediate"),
	}

	result, err := s.service.Control(r.Context(), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":          true,
		"broadcasted": true,
		"sent":        result.Sent,
		"paddle":      req.Paddle,
		"y":           req.Y,
	})
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Broadcast(r.Context(), decodePayload(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "sent": result.Sent})
}

// Score Handlers

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		snap, err := s.service.Score(r.Context())
		if err != nil {
			respondServiceError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "score": snap})
		return
	}

	result, err := s.service.UpdateScore(r.Context(), decodePayload(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":          true,
		"score":       result.Score,
		"broadcasted": true,
		"sent":        result.Sent,
	})
}

// Info Handlers

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"connected_clients": s.service.ClientCount(r.Context()),
	})
}

func (s *Server) handleCaptures(w http.ResponseWriter, r *http.Request) {
	infos, err := s.service.ListCaptures(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "captures": infos})
}

// WebSocket Handler

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r)
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Parameter coercion: request fields arrive as JSON values or query strings.

func stringParam(payload map[string]interface{}, key string) string {
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}

func floatParam(payload map[string]interface{}, key string) float64 {
	if f, ok := parseFloat(payload[key]); ok {
		return f
	}
	return 0
}

func parseFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func boolParam(payload map[string]interface{}, key string) bool {
	switch x := payload[key].(type) {
	case bool:
		return x
	case string:
		return x == "true" || x == "1"
	default:
		return false
	}
}
