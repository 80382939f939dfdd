// Command arena-client is a headless stand-in for a browser game client. It
// connects to the relay hub over WebSocket, prints every command the hub
// broadcasts, and answers capture requests with a tiny embedded PNG so that
// the capture round-trip can be exercised without a real game running.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v3"
)

// onePixelPNG is a 1x1 transparent PNG, enough to satisfy a capture reply.
const onePixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNk+M9QDwADhgGAWjR9awAAAABJRU5ErkJggg=="

func main() {
	cmd := &cli.Command{
		Name:  "arena-client",
		Usage: "connect to a relay hub and answer capture requests",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Value: "ws://127.0.0.1:8000/ws",
				Usage: "WebSocket URL of the relay hub",
			},
			&cli.DurationFlag{
				Name:  "capture-delay",
				Value: 0,
				Usage: "artificial delay before answering capture requests",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "only log capture requests, not every broadcast",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("[CLIENT] %v", err)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	url := cmd.String("url")
	captureDelay := cmd.Duration("capture-delay")
	quiet := cmd.Bool("quiet")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	log.Printf("[CLIENT] connecting to %s", url)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()
	log.Printf("[CLIENT] connected")

	// Reader goroutine feeds frames to the main loop so the interrupt
	// signal can interleave with blocking reads.
	frames := make(chan map[string]interface{})
	readErr := make(chan error, 1)
	go func() {
		defer close(frames)
		for {
			var frame map[string]interface{}
			if err := conn.ReadJSON(&frame); err != nil {
				readErr <- err
				return
			}
			frames <- frame
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[CLIENT] interrupted, closing")
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil

		case err := <-readErr:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[CLIENT] server closed connection")
				return nil
			}
			return fmt.Errorf("read: %w", err)

		case frame, ok := <-frames:
			if !ok {
				continue
			}
			if err := handleFrame(conn, frame, captureDelay, quiet); err != nil {
				return err
			}
		}
	}
}

func handleFrame(conn *websocket.Conn, frame map[string]interface{}, captureDelay time.Duration, quiet bool) error {
	msgType, _ := frame["type"].(string)

	if msgType != "capture_request" {
		if !quiet {
			pretty, _ := json.Marshal(frame)
			log.Printf("[CLIENT] received %s: %s", msgType, pretty)
		}
		return nil
	}

	requestID, _ := frame["requestId"].(string)
	format, _ := frame["format"].(string)
	if format == "" {
		format = "png"
	}
	log.Printf("[CLIENT] capture request %s (format %s)", requestID, format)

	if captureDelay > 0 {
		time.Sleep(captureDelay)
	}

	reply := map[string]interface{}{
		"type":      "image_capture",
		"captureId": requestID,
		"imageData": "data:image/png;base64," + onePixelPNG,
		"format":    format,
		"timestamp": time.Now().UnixMilli(),
	}

	if err := conn.WriteJSON(reply); err != nil {
		return fmt.Errorf("send capture reply: %w", err)
	}
	log.Printf("[CLIENT] answered capture %s", requestID)
	return nil
}
