package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	url := flag.String("url", "ws://localhost:8000/ws", "Signaling WebSocket URL")
	room := flag.String("room", "", "Room code to join (empty creates a new room)")
	name := flag.String("name", "probe", "Display name")
	timeout := flag.Duration("timeout", 10*time.Second, "How long to listen for frames")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c, _, err := ws.Dial(ctx, *url, nil)
	if err != nil {
		log.Fatalf("dial %s: %v", *url, err)
	}
	defer c.Close(ws.StatusNormalClosure, "probe done")

	fmt.Printf("=== Signal Probe ===\n")
	fmt.Printf("URL: %s\n\n", *url)

	first, err := readFrame(ctx, c)
	if err != nil {
		log.Fatalf("read greeting: %v", err)
	}
	printFrame(first)

	if *room == "" {
		fmt.Println("[1] Creating room...")
		err = wsjson.Write(ctx, c, map[string]any{
			"type":    "create_room",
			"payload": map[string]any{"display_name": *name},
		})
	} else {
		fmt.Printf("[1] Joining room %s...\n", *room)
		err = wsjson.Write(ctx, c, map[string]any{
			"type":    "join_room",
			"payload": map[string]any{"room_code": *room, "display_name": *name},
		})
	}
	if err != nil {
		log.Fatalf("send: %v", err)
	}

	// Keep the connection visible to peers while listening
	go func() {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_ = wsjson.Write(ctx, c, map[string]any{"type": "heartbeat"})
			}
		}
	}()

	fmt.Println("[2] Listening...")
	for {
		f, err := readFrame(ctx, c)
		if err != nil {
			if ctx.Err() != nil {
				fmt.Println("\n=== Timeout reached ===")
				return
			}
			log.Fatalf("read: %v", err)
		}
		printFrame(f)
	}
}

func readFrame(ctx context.Context, c *ws.Conn) (frame, error) {
	var f frame
	err := wsjson.Read(ctx, c, &f)
	return f, err
}

func printFrame(f frame) {
	switch f.Type {
	case "error":
		fmt.Printf("  [ERROR] %s\n", f.Payload)
	case "pong":
		fmt.Printf("  [pong]\n")
	default:
		fmt.Printf("  [%s] %s\n", f.Type, f.Payload)
	}
}
