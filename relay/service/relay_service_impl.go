package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/arcadereplay/pong-relay/capture/store"
	"github.com/arcadereplay/pong-relay/relay/correlate"
	"github.com/arcadereplay/pong-relay/relay/message"
	"github.com/arcadereplay/pong-relay/relay/score"
)

// relayServiceImpl implements the RelayService interface.
type relayServiceImpl struct {
	hub            Broadcaster
	table          *correlate.Table
	scores         *score.Board
	captures       CaptureLister
	defaultTimeout time.Duration
}

// NewRelayService wires the command handlers to the hub, correlation table,
// score board, and capture store.
func NewRelayService(hub Broadcaster, table *correlate.Table, scores *score.Board, captures CaptureLister, defaultTimeout time.Duration) RelayService {
	if defaultTimeout <= 0 {
		defaultTimeout = 8 * time.Second
	}
	return &relayServiceImpl{
		hub:            hub,
		table:          table,
		scores:         scores,
		captures:       captures,
		defaultTimeout: defaultTimeout,
	}
}

// maxCaptureWait caps caller-supplied capture timeouts so a requester cannot
// pin an HTTP worker and a table entry for hours.
const maxCaptureWait = 2 * time.Minute

// Capture fans out a capture_request and waits for the first matching reply.
func (s *relayServiceImpl) Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	timeout := boundTimeout(req.TimeoutSeconds, s.defaultTimeout)

	// Reject before registering anything so an empty pool never leaves an
	// orphaned waiter behind.
	if s.hub.ClientCount() == 0 {
		return nil, ErrNoClients
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = "server_req_" + uuid.NewString()
	}

	waiter, err := s.table.Register(requestID, req.ReturnBase64)
	if err != nil {
		if errors.Is(err, correlate.ErrDuplicateRequest) {
			return nil, &ValidationError{Details: []string{"duplicate_request_id"}}
		}
		return nil, fmt.Errorf("failed to register capture request: %w", err)
	}

	opts := message.CaptureOptions{
		Format:    defaultString(req.Format, "jpeg"),
		Quality:   unitOrDefault(req.Quality, 0.8),
		Downscale: unitOrDefault(req.Downscale, 1.0),
	}

	// Marshals a struct of plain fields; cannot fail.
	payload, _ := json.Marshal(message.NewCaptureRequest(requestID, opts))
	s.hub.Broadcast(payload)

	result, err := s.table.Await(ctx, waiter, timeout)
	if err != nil {
		if errors.Is(err, correlate.ErrTimeout) {
			return nil, &TimeoutError{RequestID: requestID, err: err}
		}
		return nil, err
	}

	out := &CaptureResult{
		RequestID: result.RequestID,
		SizeKB:    result.SizeKB,
	}
	if out.RequestID == "" {
		out.RequestID = requestID
	}
	if waiter.WantRaw() {
		out.ImageBase64 = result.Base64
	} else {
		out.Filename = result.Filename
	}
	return out, nil
}

// Predict forwards an AI prediction, normalizing shorthand payloads.
func (s *relayServiceImpl) Predict(ctx context.Context, payload map[string]interface{}) (*BroadcastResult, error) {
	msg := unwrapMessage(payload)
	if len(msg) == 0 {
		return nil, &ValidationError{Details: []string{"invalid_or_empty_payload"}}
	}

	if msg["type"] == nil && msg["model"] != nil && msg["targetY"] != nil {
		targetY, ok := toFloat(msg["targetY"])
		if !ok {
			return nil, &ValidationError{Details: []string{"invalid_targetY"}}
		}
		requestID, _ := msg["requestId"].(string)
		if requestID == "" {
			requestID = fmt.Sprintf("pred_%d", message.NowMillis())
		}
		// Absent or unparseable confidence stays null in the envelope.
		var confidence interface{}
		if c, ok := toFloat(msg["confidence"]); ok {
			confidence = c
		}
		msg = map[string]interface{}{
			"type":       message.TypeAIPrediction,
			"requestId":  requestID,
			"model":      msg["model"],
			"targetY":    targetY,
			"confidence": confidence,
			"immediate":  toBool(msg["immediate"]),
			"timestamp":  message.NowMillis(),
		}
	} else {
		msg = cloneMap(msg)
		if msg["type"] == nil {
			msg["type"] = message.TypeAIPrediction
		}
		if _, ok := msg["timestamp"]; !ok {
			msg["timestamp"] = message.NowMillis()
		}
		if _, ok := msg["requestId"]; !ok {
			msg["requestId"] = fmt.Sprintf("pred_%d", message.NowMillis())
		}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, &ValidationError{Details: []string{"unserializable_payload"}}
	}

	return &BroadcastResult{Sent: s.hub.Broadcast(data), Message: msg}, nil
}

// Control broadcasts a paddle command after validating its parameters.
func (s *relayServiceImpl) Control(ctx context.Context, req ControlRequest) (*BroadcastResult, error) {
	switch req.Paddle {
	case "ai1", "ai2", "left", "right":
	default:
		return nil, &ValidationError{Details: []string{"invalid_paddle"}}
	}
	if math.IsNaN(req.Y) || math.IsInf(req.Y, 0) {
		return nil, &ValidationError{Details: []string{"invalid_y"}}
	}

	env := message.NewControl(req.Paddle, req.Y, req.Immediate)
	payload, _ := json.Marshal(env)
	sent := s.hub.Broadcast(payload)

	return &BroadcastResult{
		Sent: sent,
		Message: map[string]interface{}{
			"type":      env.Type,
			"action":    env.Action,
			"paddle":    env.Paddle,
			"y":         env.Y,
			"immediate": env.Immediate,
			"timestamp": env.Timestamp,
		},
	}, nil
}

// Broadcast forwards an arbitrary message as-is.
func (s *relayServiceImpl) Broadcast(ctx context.Context, payload map[string]interface{}) (*BroadcastResult, error) {
	msg := unwrapMessage(payload)
	if len(msg) == 0 {
		return nil, &ValidationError{Details: []string{"empty_message"}}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, &ValidationError{Details: []string{"unserializable_payload"}}
	}

	return &BroadcastResult{Sent: s.hub.Broadcast(data), Message: msg}, nil
}

// Score returns the current score snapshot.
func (s *relayServiceImpl) Score(ctx context.Context) (score.Snapshot, error) {
	return s.scores.Snapshot(), nil
}

// UpdateScore applies the provided fields and broadcasts the new state.
func (s *relayServiceImpl) UpdateScore(ctx context.Context, fields map[string]interface{}) (*ScoreResult, error) {
	if len(fields) == 0 {
		return nil, &ValidationError{Details: []string{"invalid_or_empty_payload"}}
	}

	var update score.Update
	var details []string

	if v, ok := fields["ai1"]; ok {
		if n, ok := toInt(v); ok {
			update.AI1 = &n
		} else {
			details = append(details, "invalid_ai1")
		}
	}
	if v, ok := fields["ai2"]; ok {
		if n, ok := toInt(v); ok {
			update.AI2 = &n
		} else {
			details = append(details, "invalid_ai2")
		}
	}
	if v, ok := fields["match"]; ok {
		if n, ok := toInt(v); ok {
			update.Match = &n
		} else {
			details = append(details, "invalid_match")
		}
	}

	if len(details) > 0 {
		return nil, &ValidationError{Details: details}
	}

	snap := s.scores.Apply(update)

	payload, _ := json.Marshal(message.NewScoreUpdate(snap.AI1, snap.AI2, snap.Match))
	sent := s.hub.Broadcast(payload)

	return &ScoreResult{Score: snap, Sent: sent}, nil
}

// ListCaptures lists saved captures.
func (s *relayServiceImpl) ListCaptures(ctx context.Context) ([]store.CaptureInfo, error) {
	return s.captures.List()
}

// ClientCount reports connected clients.
func (s *relayServiceImpl) ClientCount(ctx context.Context) int {
	return s.hub.ClientCount()
}
