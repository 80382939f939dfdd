package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arcadereplay/pong-relay/capture/store"
	"github.com/arcadereplay/pong-relay/relay/correlate"
	"github.com/arcadereplay/pong-relay/relay/score"
)

// fakeHub implements Broadcaster, records payloads, and signals each
// broadcast so tests can resolve waiters deterministically.
type fakeHub struct {
	mu       sync.Mutex
	clients  int
	payloads [][]byte
	signal   chan []byte
}

func newFakeHub(clients int) *fakeHub {
	return &fakeHub{clients: clients, signal: make(chan []byte, 16)}
}

func (f *fakeHub) Broadcast(payload []byte) int {
	f.mu.Lock()
	f.payloads = append(f.payloads, payload)
	f.mu.Unlock()
	f.signal <- payload
	return f.clients
}

func (f *fakeHub) ClientCount() int {
	return f.clients
}

func (f *fakeHub) lastPayload(t *testing.T) map[string]interface{} {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		t.Fatal("no payload broadcast")
	}
	var msg map[string]interface{}
	if err := json.Unmarshal(f.payloads[len(f.payloads)-1], &msg); err != nil {
		t.Fatalf("broadcast payload is not JSON: %v", err)
	}
	return msg
}

type fakeLister struct {
	infos []store.CaptureInfo
	err   error
}

func (f *fakeLister) List() ([]store.CaptureInfo, error) {
	return f.infos, f.err
}

func newTestService(hub *fakeHub) (RelayService, *correlate.Table) {
	table := correlate.NewTable()
	return NewRelayService(hub, table, score.NewBoard(), &fakeLister{}, 8*time.Second), table
}

func TestCaptureNoClients(t *testing.T) {
	hub := newFakeHub(0)
	svc, table := newTestService(hub)

	_, err := svc.Capture(context.Background(), CaptureRequest{RequestID: "r1"})
	if !errors.Is(err, ErrNoClients) {
		t.Fatalf("Expected ErrNoClients, got %v", err)
	}
	if table.Len() != 0 {
		t.Errorf("Rejected capture must not register a waiter, table has %d entries", table.Len())
	}
	if len(hub.payloads) != 0 {
		t.Error("Rejected capture must not broadcast")
	}
}

func TestCaptureSuccessWithFilename(t *testing.T) {
	hub := newFakeHub(2)
	svc, table := newTestService(hub)

	go func() {
		<-hub.signal
		table.Resolve("r1", correlate.Result{
			RequestID: "r1",
			Filename:  "captures/capture_r1_123.jpg",
			Base64:    "aGVsbG8=",
			SizeKB:    4.5,
		})
	}()

	res, err := svc.Capture(context.Background(), CaptureRequest{RequestID: "r1", TimeoutSeconds: 2})
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	if res.RequestID != "r1" {
		t.Errorf("Expected requestId r1, got %s", res.RequestID)
	}
	if res.Filename != "captures/capture_r1_123.jpg" {
		t.Errorf("Expected filename, got %q", res.Filename)
	}
	if res.ImageBase64 != "" {
		t.Error("Filename mode must not include the base64 payload")
	}
	if res.SizeKB != 4.5 {
		t.Errorf("Expected size 4.5 KB, got %f", res.SizeKB)
	}
}

func TestCaptureSuccessWithBase64(t *testing.T) {
	hub := newFakeHub(1)
	svc, table := newTestService(hub)

	go func() {
		<-hub.signal
		table.Resolve("r1", correlate.Result{
			RequestID: "r1",
			Filename:  "captures/capture_r1_123.jpg",
			Base64:    "aGVsbG8=",
			SizeKB:    1.0,
		})
	}()

	res, err := svc.Capture(context.Background(), CaptureRequest{RequestID: "r1", ReturnBase64: true, TimeoutSeconds: 2})
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	if res.ImageBase64 != "aGVsbG8=" {
		t.Errorf("Expected base64 payload, got %q", res.ImageBase64)
	}
	if res.Filename != "" {
		t.Error("Base64 mode must not include the filename")
	}
}

func TestCaptureTimeout(t *testing.T) {
	hub := newFakeHub(3)
	svc, table := newTestService(hub)

	start := time.Now()
	_, err := svc.Capture(context.Background(), CaptureRequest{RequestID: "r1", TimeoutSeconds: 0.1})
	elapsed := time.Since(start)

	if !errors.Is(err, correlate.ErrTimeout) {
		t.Fatalf("Expected timeout, got %v", err)
	}
	if !strings.Contains(err.Error(), "r1") {
		t.Errorf("Timeout error should name the request ID: %v", err)
	}
	if elapsed > time.Second {
		t.Errorf("Timeout took %v, expected ~100ms", elapsed)
	}
	if table.Len() != 0 {
		t.Errorf("Table must be empty after timeout, got %d", table.Len())
	}
}

func TestCaptureDuplicateID(t *testing.T) {
	hub := newFakeHub(1)
	svc, table := newTestService(hub)

	if _, err := table.Register("r1", false); err != nil {
		t.Fatalf("setup Register failed: %v", err)
	}

	_, err := svc.Capture(context.Background(), CaptureRequest{RequestID: "r1"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if len(hub.payloads) != 0 {
		t.Error("Duplicate ID must not broadcast")
	}
	if table.Len() != 1 {
		t.Errorf("Original waiter must survive, table has %d entries", table.Len())
	}
}

func TestCaptureBroadcastEnvelope(t *testing.T) {
	hub := newFakeHub(1)
	svc, _ := newTestService(hub)

	// Let it time out quickly; we only care about the outbound message.
	svc.Capture(context.Background(), CaptureRequest{RequestID: "r9", TimeoutSeconds: 0.05})

	msg := hub.lastPayload(t)
	if msg["type"] != "capture_request" {
		t.Errorf("Expected capture_request, got %v", msg["type"])
	}
	if msg["requestId"] != "r9" {
		t.Errorf("Expected requestId r9, got %v", msg["requestId"])
	}

	opts, ok := msg["captureOptions"].(map[string]interface{})
	if !ok {
		t.Fatalf("Missing captureOptions: %v", msg)
	}
	if opts["format"] != "jpeg" || opts["quality"] != 0.8 || opts["downscale"] != 1.0 {
		t.Errorf("Unexpected capture option defaults: %v", opts)
	}
}

// Out-of-range capture options are treated like absent ones, and the wait is
// capped so a caller cannot hold a table entry for hours.
func TestCaptureBoundsOptionsAndTimeout(t *testing.T) {
	hub := newFakeHub(1)
	svc, _ := newTestService(hub)

	svc.Capture(context.Background(), CaptureRequest{
		RequestID:      "r9",
		TimeoutSeconds: 0.05,
		Quality:        50,
		Downscale:      -2,
	})

	msg := hub.lastPayload(t)
	opts, ok := msg["captureOptions"].(map[string]interface{})
	if !ok {
		t.Fatalf("Missing captureOptions: %v", msg)
	}
	if opts["quality"] != 0.8 {
		t.Errorf("Expected quality clamped to default 0.8, got %v", opts["quality"])
	}
	if opts["downscale"] != 1.0 {
		t.Errorf("Expected downscale clamped to default 1.0, got %v", opts["downscale"])
	}
}

func TestBoundTimeout(t *testing.T) {
	def := 8 * time.Second

	if got := boundTimeout(0, def); got != def {
		t.Errorf("Expected default for unset timeout, got %v", got)
	}
	if got := boundTimeout(-3, def); got != def {
		t.Errorf("Expected default for negative timeout, got %v", got)
	}
	if got := boundTimeout(2.5, def); got != 2500*time.Millisecond {
		t.Errorf("Expected 2.5s, got %v", got)
	}
	if got := boundTimeout(99999, def); got != maxCaptureWait {
		t.Errorf("Expected cap at %v, got %v", maxCaptureWait, got)
	}
}

func TestCaptureGeneratesRequestID(t *testing.T) {
	hub := newFakeHub(1)
	svc, _ := newTestService(hub)

	svc.Capture(context.Background(), CaptureRequest{TimeoutSeconds: 0.05})

	msg := hub.lastPayload(t)
	id, _ := msg["requestId"].(string)
	if !strings.HasPrefix(id, "server_req_") {
		t.Errorf("Expected generated server_req_ ID, got %q", id)
	}
}

func TestPredictShorthand(t *testing.T) {
	hub := newFakeHub(2)
	svc, _ := newTestService(hub)

	res, err := svc.Predict(context.Background(), map[string]interface{}{
		"model":      "ai1",
		"targetY":    320.0,
		"confidence": 0.92,
	})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	if res.Sent != 2 {
		t.Errorf("Expected 2 sends, got %d", res.Sent)
	}
	if res.Message["type"] != "ai_prediction" {
		t.Errorf("Expected ai_prediction, got %v", res.Message["type"])
	}
	if id, _ := res.Message["requestId"].(string); !strings.HasPrefix(id, "pred_") {
		t.Errorf("Expected pred_ request ID, got %v", res.Message["requestId"])
	}
	if res.Message["targetY"] != 320.0 {
		t.Errorf("Expected targetY 320, got %v", res.Message["targetY"])
	}
}

// Query-param callers send every value as a string; the shorthand branch must
// normalize confidence the same way it normalizes targetY.
func TestPredictShorthandCoercesConfidence(t *testing.T) {
	hub := newFakeHub(1)
	svc, _ := newTestService(hub)

	res, err := svc.Predict(context.Background(), map[string]interface{}{
		"model":      "ai2",
		"targetY":    "240",
		"confidence": "0.9",
	})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	if res.Message["confidence"] != 0.9 {
		t.Errorf("Expected confidence coerced to 0.9, got %v (%T)",
			res.Message["confidence"], res.Message["confidence"])
	}
	if res.Message["targetY"] != 240.0 {
		t.Errorf("Expected targetY coerced to 240, got %v", res.Message["targetY"])
	}

	// Missing confidence stays null rather than becoming zero.
	res, err = svc.Predict(context.Background(), map[string]interface{}{
		"model":   "ai2",
		"targetY": 100.0,
	})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if res.Message["confidence"] != nil {
		t.Errorf("Expected nil confidence when absent, got %v", res.Message["confidence"])
	}
}

func TestPredictPassthroughWithWrapper(t *testing.T) {
	hub := newFakeHub(1)
	svc, _ := newTestService(hub)

	res, err := svc.Predict(context.Background(), map[string]interface{}{
		"message": map[string]interface{}{
			"type":   "control",
			"action": "set_paddle",
			"paddle": "ai1",
			"y":      320.0,
		},
	})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	if res.Message["type"] != "control" {
		t.Errorf("Wrapped message type must pass through, got %v", res.Message["type"])
	}
	if _, ok := res.Message["timestamp"]; !ok {
		t.Error("Expected timestamp to be defaulted")
	}
	if _, ok := res.Message["requestId"]; !ok {
		t.Error("Expected requestId to be defaulted")
	}
}

func TestPredictInvalid(t *testing.T) {
	hub := newFakeHub(1)
	svc, _ := newTestService(hub)

	var verr *ValidationError
	if _, err := svc.Predict(context.Background(), map[string]interface{}{}); !errors.As(err, &verr) {
		t.Errorf("Empty payload: expected ValidationError, got %v", err)
	}

	_, err := svc.Predict(context.Background(), map[string]interface{}{
		"model":   "ai1",
		"targetY": "not-a-number",
	})
	if !errors.As(err, &verr) {
		t.Errorf("Bad targetY: expected ValidationError, got %v", err)
	}
}

func TestControl(t *testing.T) {
	hub := newFakeHub(2)
	svc, _ := newTestService(hub)

	res, err := svc.Control(context.Background(), ControlRequest{Paddle: "ai2", Y: 240, Immediate: true})
	if err != nil {
		t.Fatalf("Control failed: %v", err)
	}
	if res.Sent != 2 {
		t.Errorf("Expected 2 sends, got %d", res.Sent)
	}

	msg := hub.lastPayload(t)
	if msg["type"] != "control" || msg["action"] != "set_paddle" {
		t.Errorf("Unexpected control envelope: %v", msg)
	}
	if msg["paddle"] != "ai2" || msg["y"] != 240.0 || msg["immediate"] != true {
		t.Errorf("Control fields wrong: %v", msg)
	}
}

func TestControlInvalidPaddle(t *testing.T) {
	hub := newFakeHub(1)
	svc, _ := newTestService(hub)

	_, err := svc.Control(context.Background(), ControlRequest{Paddle: "player3", Y: 100})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if len(hub.payloads) != 0 {
		t.Error("Invalid control must not broadcast")
	}
}

func TestBroadcast(t *testing.T) {
	hub := newFakeHub(3)
	svc, _ := newTestService(hub)

	res, err := svc.Broadcast(context.Background(), map[string]interface{}{
		"message": map[string]interface{}{"type": "hello", "x": 1.0},
	})
	if err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if res.Sent != 3 {
		t.Errorf("Expected 3 sends, got %d", res.Sent)
	}

	msg := hub.lastPayload(t)
	if msg["type"] != "hello" {
		t.Errorf("Expected unwrapped message, got %v", msg)
	}

	var verr *ValidationError
	if _, err := svc.Broadcast(context.Background(), map[string]interface{}{}); !errors.As(err, &verr) {
		t.Errorf("Empty broadcast: expected ValidationError, got %v", err)
	}
}

func TestUpdateScore(t *testing.T) {
	hub := newFakeHub(2)
	svc, _ := newTestService(hub)

	res, err := svc.UpdateScore(context.Background(), map[string]interface{}{
		"ai1": 3.0,
		"ai2": "2",
	})
	if err != nil {
		t.Fatalf("UpdateScore failed: %v", err)
	}

	if res.Score.AI1 != 3 || res.Score.AI2 != 2 || res.Score.Match != 1 {
		t.Errorf("Unexpected score: %+v", res.Score)
	}
	if res.Sent != 2 {
		t.Errorf("Expected 2 sends, got %d", res.Sent)
	}

	msg := hub.lastPayload(t)
	if msg["type"] != "score_update" {
		t.Errorf("Expected score_update broadcast, got %v", msg["type"])
	}
	if msg["ai1Score"] != 3.0 || msg["ai2Score"] != 2.0 || msg["match"] != 1.0 {
		t.Errorf("Score envelope fields wrong: %v", msg)
	}

	snap, _ := svc.Score(context.Background())
	if snap.AI1 != 3 {
		t.Errorf("Score not persisted, got %+v", snap)
	}
}

func TestUpdateScoreInvalidFields(t *testing.T) {
	hub := newFakeHub(1)
	svc, _ := newTestService(hub)

	_, err := svc.UpdateScore(context.Background(), map[string]interface{}{
		"ai1":   "three",
		"match": []interface{}{1},
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if len(verr.Details) != 2 {
		t.Errorf("Expected 2 validation details, got %v", verr.Details)
	}
	if len(hub.payloads) != 0 {
		t.Error("Invalid score update must not broadcast")
	}

	// Score must be untouched.
	snap, _ := svc.Score(context.Background())
	if snap.AI1 != 0 {
		t.Errorf("Score changed despite validation failure: %+v", snap)
	}
}

func TestListCapturesAndClientCount(t *testing.T) {
	hub := newFakeHub(4)
	table := correlate.NewTable()
	lister := &fakeLister{infos: []store.CaptureInfo{{Filename: "capture_a_1.jpg", SizeKB: 1}}}
	svc := NewRelayService(hub, table, score.NewBoard(), lister, 8*time.Second)

	infos, err := svc.ListCaptures(context.Background())
	if err != nil {
		t.Fatalf("ListCaptures failed: %v", err)
	}
	if len(infos) != 1 || infos[0].Filename != "capture_a_1.jpg" {
		t.Errorf("Unexpected listing: %+v", infos)
	}

	if n := svc.ClientCount(context.Background()); n != 4 {
		t.Errorf("Expected 4 clients, got %d", n)
	}
}
