package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"
)

// ============================================================================
// irbrainz-ctl - Command-line IPC Client
// ============================================================================
// This tool sends trigger edges and queries to the irbrainz daemon via IPC.
//
// Usage:
//   irbrainz-ctl press tv_power
//   irbrainz-ctl release volume_up
//   irbrainz-ctl tap kitchen_speakers_on
//   irbrainz-ctl cancel
//   irbrainz-ctl status
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/irbrainz.sock)
// ============================================================================

// Request payloads (duplicated from the daemon for a standalone binary)
type TriggerEdge struct {
	Trigger string `json:"trigger"`
	Source  string `json:"source,omitempty"`
}

type CancelRequest struct {
	Origin string `json:"origin,omitempty"`
}

// RequestEnvelope wraps requests for JSON
type RequestEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

const (
	origin = "irbrainz-ctl"

	// tapHold is how long "tap" keeps a momentary button asserted.
	tapHold = 150 * time.Millisecond
)

func main() {
	socketPath := "/tmp/irbrainz.sock"

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Check for -socket flag
	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	requireTrigger := func() string {
		if len(args) < 2 || args[1] == "" {
			fmt.Fprintf(os.Stderr, "error: %s requires a trigger name\n", args[0])
			os.Exit(1)
		}
		return args[1]
	}

	var err error
	switch args[0] {
	case "press":
		err = sendEdge(socketPath, "press", requireTrigger())

	case "release":
		err = sendEdge(socketPath, "release", requireTrigger())

	case "tap":
		trigger := requireTrigger()
		if err = sendEdge(socketPath, "press", trigger); err == nil {
			time.Sleep(tapHold)
			err = sendEdge(socketPath, "release", trigger)
		}

	case "cancel":
		var data []byte
		data, err = json.Marshal(CancelRequest{Origin: origin})
		if err == nil {
			_, err = sendRequest(socketPath, RequestEnvelope{Type: "cancel", Data: data})
		}

	case "status":
		var resp IPCResponse
		resp, err = sendRequest(socketPath, RequestEnvelope{Type: "status"})
		if err == nil {
			var pretty bytes.Buffer
			if json.Indent(&pretty, resp.Data, "", "  ") == nil {
				fmt.Println(pretty.String())
			} else {
				fmt.Println(string(resp.Data))
			}
			return
		}

	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("ok")
}

func sendEdge(socketPath, edge, trigger string) error {
	data, err := json.Marshal(TriggerEdge{Trigger: trigger, Source: origin})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", edge, err)
	}
	_, err = sendRequest(socketPath, RequestEnvelope{Type: edge, Data: data})
	return err
}

func sendRequest(socketPath string, env RequestEnvelope) (IPCResponse, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	payload, err := json.Marshal(env)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	// Send request (line-delimited JSON)
	if _, err := fmt.Fprintf(conn, "%s\n", payload); err != nil {
		return IPCResponse{}, fmt.Errorf("send request: %w", err)
	}

	var response IPCResponse
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}

	if response.Status == "error" {
		return response, fmt.Errorf("daemon error: %s", response.Error)
	}

	return response, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `irbrainz-ctl - Control the irbrainz daemon via IPC

Usage:
  irbrainz-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/irbrainz.sock)

Commands:
  press <trigger>         Send a key press for trigger
  release <trigger>       Send a key release for trigger
  tap <trigger>           Press, then release after a short hold
  cancel                  Cancel the running action
  status                  Print the running action, active hold and device modes
  help, -h, --help        Show this help message

Examples:
  irbrainz-ctl tap surround_toggle
  irbrainz-ctl press volume_up; sleep 1; irbrainz-ctl release volume_up
  irbrainz-ctl -socket /run/irbrainz.sock status
`)
}
