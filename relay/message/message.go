// Package message defines the JSON envelopes exchanged with arena clients
// and normalizes the loosely shaped capture replies they send back.
package message

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Outbound message types understood by arena clients.
const (
	TypeCaptureRequest = "capture_request"
	TypeAIPrediction   = "ai_prediction"
	TypeControl        = "control"
	TypeScoreUpdate    = "score_update"
)

// Inbound message types carrying a capture reply.
const (
	TypeImageCapture = "image_capture"
	TypeFrameImage   = "frame_image"
)

// CaptureOptions tunes how a client should capture its frame.
type CaptureOptions struct {
	Format    string  `json:"format"`
	Quality   float64 `json:"quality"`
	Downscale float64 `json:"downscale"`
}

// CaptureRequest asks every connected client for a screen capture. The first
// reply tagged with RequestID wins.
type CaptureRequest struct {
	Type           string         `json:"type"`
	RequestID      string         `json:"requestId"`
	Timestamp      int64          `json:"timestamp"`
	CaptureOptions CaptureOptions `json:"captureOptions"`
}

// NewCaptureRequest builds a capture_request envelope with the current
// timestamp.
func NewCaptureRequest(requestID string, opts CaptureOptions) CaptureRequest {
	return CaptureRequest{
		Type:           TypeCaptureRequest,
		RequestID:      requestID,
		Timestamp:      NowMillis(),
		CaptureOptions: opts,
	}
}

// Control moves one paddle.
type Control struct {
	Type      string  `json:"type"`
	Action    string  `json:"action"`
	Paddle    string  `json:"paddle"`
	Y         float64 `json:"y"`
	Immediate bool    `json:"immediate"`
	Timestamp int64   `json:"timestamp"`
}

// NewControl builds a control/set_paddle envelope.
func NewControl(paddle string, y float64, immediate bool) Control {
	return Control{
		Type:      TypeControl,
		Action:    "set_paddle",
		Paddle:    paddle,
		Y:         y,
		Immediate: immediate,
		Timestamp: NowMillis(),
	}
}

// ScoreUpdate announces the authoritative score to all clients.
type ScoreUpdate struct {
	Type      string `json:"type"`
	AI1Score  int    `json:"ai1Score"`
	AI2Score  int    `json:"ai2Score"`
	Match     int    `json:"match"`
	Timestamp int64  `json:"timestamp"`
}

// NewScoreUpdate builds a score_update envelope.
func NewScoreUpdate(ai1, ai2, match int) ScoreUpdate {
	return ScoreUpdate{
		Type:      TypeScoreUpdate,
		AI1Score:  ai1,
		AI2Score:  ai2,
		Match:     match,
		Timestamp: NowMillis(),
	}
}

// NowMillis returns the current time in Unix milliseconds, the timestamp
// convention on the wire.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Parse errors for inbound frames.
var (
	ErrNotCapture  = errors.New("not a capture reply")
	ErrNoImage     = errors.New("capture reply has no image field")
	ErrBadEncoding = errors.New("image payload is not valid base64")
	ErrTooLarge    = errors.New("decoded image exceeds size limit")
)

// CaptureReply is a normalized inbound capture reply: identifiers collapsed
// through their fallback chains, payload decoded, format reduced to a small
// closed set.
type CaptureReply struct {
	// CaptureID is the primary correlation identifier.
	CaptureID string
	// AltID is the requestId alias, tried when CaptureID matches no waiter.
	AltID string
	// Data is the decoded image.
	Data []byte
	// Base64 is the cleaned payload without any data: prefix, padding fixed.
	Base64 string
	// Format is "jpg", "png", or "bin".
	Format string
}

// inboundFrame mirrors every field name clients have been observed to use.
// IDs may arrive as strings or numbers, so they decode as raw values.
type inboundFrame struct {
	Type             string          `json:"type"`
	CaptureID        json.RawMessage `json:"captureId"`
	RequestID        json.RawMessage `json:"requestId"`
	CaptureTimestamp json.RawMessage `json:"captureTimestamp"`

	ImageData          string `json:"imageData"`
	ImageBase64        string `json:"image_base64"`
	ImageBase64Payload string `json:"image_base64_payload"`
	Image              string `json:"image"`

	Format      string `json:"format"`
	MimeType    string `json:"mime_type"`
	ImageFormat string `json:"imageFormat"`
}

// ParseCaptureReply parses a raw text frame from a client. It returns
// ErrNotCapture for frames of other types (including non-JSON text), which
// callers treat as not-my-problem rather than failures. maxBytes bounds the
// decoded payload size.
func ParseCaptureReply(raw []byte, maxBytes int64) (*CaptureReply, error) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotCapture, err)
	}

	if frame.Type != TypeImageCapture && frame.Type != TypeFrameImage {
		return nil, ErrNotCapture
	}

	captureID := firstID(frame.CaptureID, frame.RequestID, frame.CaptureTimestamp)

	image := firstNonEmpty(frame.ImageData, frame.ImageBase64, frame.ImageBase64Payload, frame.Image)
	if image == "" {
		return nil, ErrNoImage
	}

	b64 := normalizeBase64(image)

	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEncoding, err)
	}

	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	reply := &CaptureReply{
		CaptureID: captureID,
		Data:      data,
		Base64:    b64,
		Format:    NormalizeFormat(firstNonEmpty(frame.Format, frame.MimeType, frame.ImageFormat)),
	}

	if alt := idString(frame.RequestID); alt != "" && alt != captureID {
		reply.AltID = alt
	}

	return reply, nil
}

// NormalizeFormat reduces a declared image format or MIME type to the closed
// set {jpg, png, bin}. Unknown or empty formats default to jpg.
func NormalizeFormat(format string) string {
	f := strings.ToLower(format)
	switch {
	case f == "", strings.Contains(f, "jpeg"), strings.Contains(f, "jpg"):
		return "jpg"
	case strings.Contains(f, "png"):
		return "png"
	default:
		return "bin"
	}
}

// normalizeBase64 strips an optional data-URI prefix and repairs missing
// padding so lenient client encoders still decode.
func normalizeBase64(s string) string {
	if strings.HasPrefix(s, "data:") {
		if comma := strings.IndexByte(s, ','); comma != -1 {
			s = s[comma+1:]
		}
	}
	s = strings.TrimSpace(s)
	if missing := len(s) % 4; missing != 0 {
		s += strings.Repeat("=", 4-missing)
	}
	return s
}

// firstID walks the identifier fallback chain and returns the first value
// present, stringified.
func firstID(candidates ...json.RawMessage) string {
	for _, c := range candidates {
		if s := idString(c); s != "" {
			return s
		}
	}
	return ""
}

// idString renders a raw JSON value as the string key used in the
// correlation table. Numeric IDs keep their literal form.
func idString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}

	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
