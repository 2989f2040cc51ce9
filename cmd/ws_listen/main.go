package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// envelope mirrors the daemon's status frame: {type, ts, data}.
type envelope struct {
	Type string          `json:"type"`
	Ts   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:3002/ws", "irbrainz status websocket URL")
		raw   = flag.Bool("raw", false, "Print frames as received instead of a summary line")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	// Handle shutdown
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Mutex to protect concurrent writes to websocket
	var writeMu sync.Mutex

	// The daemon pings every 20s; answer with pongs and keep the deadline moving.
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			switch messageType {
			case websocket.TextMessage:
				if *raw {
					fmt.Printf("%s\n", string(message))
					continue
				}
				handleTextMessage(message)
			case websocket.BinaryMessage:
				fmt.Printf("[BINARY] %d bytes\n", len(message))
			}
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// handleTextMessage prints one status frame as a summary line.
func handleTextMessage(message []byte) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil || env.Type == "" {
		fmt.Printf("[TEXT] %s\n", string(message))
		return
	}

	var data map[string]any
	_ = json.Unmarshal(env.Data, &data)

	ts := env.Ts.Local().Format("15:04:05.000")
	tag := "[" + strings.ToUpper(env.Type) + "]"

	switch env.Type {
	case "state_init":
		fmt.Printf("%s %s running=%v holding=%v\n", ts, tag, data["running"], data["holding"])
		if modes, ok := data["modes"].(map[string]any); ok {
			fmt.Printf("%s %s modes %s\n", ts, tag, formatFields(modes))
		}
	case "action_started":
		fmt.Printf("%s %s %v (id=%v trigger=%v source=%v steps=%v min=%vms)\n",
			ts, tag, data["name"], data["id"], data["trigger"], data["source"], data["steps"], data["min_duration_ms"])
	case "action_finished":
		fmt.Printf("%s %s %v %v after %vms (id=%v)\n", ts, tag, data["name"], data["outcome"], data["elapsed_ms"], data["id"])
	case "mode_changed":
		fmt.Printf("%s %s %v -> %v\n", ts, tag, data["mode"], data["value"])
	default:
		fmt.Printf("%s %s %s\n", ts, tag, formatFields(data))
	}
}

func formatFields(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, " ")
}
