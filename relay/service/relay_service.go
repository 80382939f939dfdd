package service

import (
	"context"
	"errors"
	"strings"

	"github.com/arcadereplay/pong-relay/capture/store"
	"github.com/arcadereplay/pong-relay/relay/score"
)

// ErrNoClients is returned when a command requires at least one connected
// arena client and none are present. It is checked before any broadcast, so
// a capture rejected this way leaves no pending waiter behind.
var ErrNoClients = errors.New("no connected clients")

// TimeoutError reports that a correlated request expired before any client
// replied. It unwraps to correlate.ErrTimeout.
type TimeoutError struct {
	RequestID string
	err       error
}

func (e *TimeoutError) Error() string {
	return "timeout waiting for capture " + e.RequestID
}

func (e *TimeoutError) Unwrap() error {
	return e.err
}

// ValidationError reports malformed request parameters. Details holds the
// per-field codes exposed to the API caller.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Details, ", ")
}

// Broadcaster is the fan-out transport the relay commands write to.
type Broadcaster interface {
	// Broadcast delivers payload to every connected client and returns the
	// number of successful sends.
	Broadcast(payload []byte) int
	// ClientCount reports the number of connected clients.
	ClientCount() int
}

// CaptureLister exposes the saved-captures listing.
type CaptureLister interface {
	List() ([]store.CaptureInfo, error)
}

// RelayService defines the relay's command operations.
type RelayService interface {
	// Capture broadcasts a capture request and blocks until the first
	// matching reply or the timeout.
	Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error)

	// Predict forwards an AI prediction to all clients, normalizing the
	// shorthand {model, targetY} form into a full envelope.
	Predict(ctx context.Context, payload map[string]interface{}) (*BroadcastResult, error)

	// Control broadcasts a paddle control command.
	Control(ctx context.Context, req ControlRequest) (*BroadcastResult, error)

	// Broadcast forwards an arbitrary message to all clients.
	Broadcast(ctx context.Context, payload map[string]interface{}) (*BroadcastResult, error)

	// Score returns the current score state.
	Score(ctx context.Context) (score.Snapshot, error)

	// UpdateScore applies a partial score update and broadcasts the result.
	UpdateScore(ctx context.Context, fields map[string]interface{}) (*ScoreResult, error)

	// ListCaptures lists saved captures, newest first.
	ListCaptures(ctx context.Context) ([]store.CaptureInfo, error)

	// ClientCount reports how many arena clients are connected.
	ClientCount(ctx context.Context) int
}

// CaptureRequest carries the (already defaulted-or-zero) capture parameters.
type CaptureRequest struct {
	// RequestID is the caller-supplied correlation ID; generated if empty.
	RequestID string
	// TimeoutSeconds bounds the wait; <= 0 means the configured default.
	TimeoutSeconds float64
	// Format, Quality, and Downscale are passed to clients as capture options.
	Format    string
	Quality   float64
	Downscale float64
	// ReturnBase64 asks for the raw payload instead of a saved filename.
	ReturnBase64 bool
}

// CaptureResult is the resolved capture: either Filename or ImageBase64 is
// set, depending on what the requester asked for.
type CaptureResult struct {
	RequestID   string  `json:"requestId"`
	Filename    string  `json:"filename,omitempty"`
	ImageBase64 string  `json:"image_base64,omitempty"`
	SizeKB      float64 `json:"size_kb"`
}

// ControlRequest moves one paddle.
type ControlRequest struct {
	Paddle    string
	Y         float64
	Immediate bool
}

// BroadcastResult reports a fire-and-forget fan-out.
type BroadcastResult struct {
	Sent    int
	Message map[string]interface{}
}

// ScoreResult reports a score mutation and its fan-out.
type ScoreResult struct {
	Score score.Snapshot
	Sent  int
}
